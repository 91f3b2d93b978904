package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"trainpush/internal/config"
	"trainpush/internal/httpapi"
	"trainpush/internal/observability/pprof"
	"trainpush/internal/scheduler"
	"trainpush/internal/storage"
)

func storageConfig(cfg *config.Config) storage.Config {
	if cfg.Storage == nil {
		return storage.Config{}
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		busy = 0
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}
}

func httpConfig(cfg *config.Config) (httpapi.Config, error) {
	read, err := config.ParseDurationOrDefault("http.read_timeout", cfg.HTTP.ReadTimeout, 10*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("http.write_timeout", cfg.HTTP.WriteTimeout, 30*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("http.idle_timeout", cfg.HTTP.IdleTimeout, 60*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:           cfg.HTTP.Addr,
		ReadTimeout:    read,
		WriteTimeout:   write,
		IdleTimeout:    idle,
		PushRatePerSec: cfg.HTTP.PushRatePerSec,
		PushBurst:      cfg.HTTP.PushBurst,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		HistoryLimit:   cfg.Agent.HistoryLimit,
	}, nil
}

func pprofConfig(cfg *config.Config) (pprof.Config, error) {
	read, err := config.ParseDurationOrDefault("pprof.read_timeout", cfg.Pprof.ReadTimeout, 5*time.Second)
	if err != nil {
		return pprof.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("pprof.write_timeout", cfg.Pprof.WriteTimeout, 0)
	if err != nil {
		return pprof.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("pprof.idle_timeout", cfg.Pprof.IdleTimeout, 60*time.Second)
	if err != nil {
		return pprof.Config{}, err
	}
	return pprof.Config{
		Enabled:              cfg.Pprof.Enabled,
		Addr:                 cfg.Pprof.Addr,
		Prefix:               cfg.Pprof.Prefix,
		Token:                cfg.Pprof.Token,
		AllowInsecure:        cfg.Pprof.AllowInsecure,
		ReadTimeout:          read,
		WriteTimeout:         write,
		IdleTimeout:          idle,
		MutexProfileFraction: cfg.Pprof.MutexProfileFraction,
		BlockProfileRate:     cfg.Pprof.BlockProfileRate,
		MemProfileRate:       cfg.Pprof.MemProfileRate,
	}, nil
}

// validateConfig gates config hot-reloads: a file that fails here is never
// committed, so running components keep the last good config.
func validateConfig(ctx context.Context, cfg *config.Config) error {
	_ = ctx
	durations := []struct {
		path, raw string
	}{
		{"agent.client_ttl", cfg.Agent.ClientTTL},
		{"agent.seen_window", cfg.Agent.SeenWindow},
		{"agent.history_retention", cfg.Agent.HistoryRetention},
		{"http.read_timeout", cfg.HTTP.ReadTimeout},
		{"http.write_timeout", cfg.HTTP.WriteTimeout},
		{"http.idle_timeout", cfg.HTTP.IdleTimeout},
		{"webpush.timeout", cfg.WebPush.Timeout},
		{"pprof.read_timeout", cfg.Pprof.ReadTimeout},
		{"pprof.write_timeout", cfg.Pprof.WriteTimeout},
		{"pprof.idle_timeout", cfg.Pprof.IdleTimeout},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		if _, err := config.ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	if cfg.Agent.QueueSize < 0 {
		return fmt.Errorf("agent.queue_size must be >= 0")
	}
	if cfg.HTTP.PushRatePerSec < 0 || cfg.HTTP.PushBurst < 0 {
		return fmt.Errorf("http push rate settings must be >= 0")
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	if spec := strings.TrimSpace(cfg.Scheduler.DailyReset); spec != "" {
		if _, err := scheduler.ParseSchedule(spec); err != nil {
			return fmt.Errorf("scheduler.daily_reset: %w", err)
		}
	}

	if cfg.Storage != nil {
		switch cfg.Storage.Driver {
		case "", "file", "sqlite":
		default:
			return fmt.Errorf("storage.driver: unknown %q", cfg.Storage.Driver)
		}
	}
	return nil
}
