package config

import (
	"strings"

	logx "trainpush/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging. Secrets (VAPID private key, pprof
// token) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Agent
	if oldCfg.Agent != newCfg.Agent {
		changed = append(changed, "agent")
		attrs = append(attrs,
			logx.Int("agent.queue_size", newCfg.Agent.QueueSize),
			logx.String("agent.seen_window", strings.TrimSpace(newCfg.Agent.SeenWindow)),
			logx.String("agent.history_retention", strings.TrimSpace(newCfg.Agent.HistoryRetention)),
		)
	}

	// HTTP
	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Int("http.push_rate_per_sec", newCfg.HTTP.PushRatePerSec),
		)
	}

	// WebPush (never log the private key)
	if oldCfg.WebPush != newCfg.WebPush {
		changed = append(changed, "webpush")
		attrs = append(attrs,
			logx.Bool("webpush.keys_set", strings.TrimSpace(newCfg.WebPush.VAPIDPrivateKey) != ""),
			logx.String("webpush.subscriber", strings.TrimSpace(newCfg.WebPush.Subscriber)),
			logx.Int("webpush.ttl", newCfg.WebPush.TTL),
		)
	}

	// Logging
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Storage
	oldSt, newSt := StorageConfig{}, StorageConfig{}
	if oldCfg.Storage != nil {
		oldSt = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		newSt = *newCfg.Storage
	}
	if oldSt != newSt {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newSt.Driver)),
			logx.String("storage.path", strings.TrimSpace(newSt.Path)),
		)
	}

	// Scheduler
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.daily_reset", strings.TrimSpace(newCfg.Scheduler.DailyReset)),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	// Pprof (never log token)
	if oldCfg.Pprof != newCfg.Pprof {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(newCfg.Pprof.Addr)),
			logx.Bool("pprof.token_set", strings.TrimSpace(newCfg.Pprof.Token) != ""),
		)
	}

	return changed, attrs
}
