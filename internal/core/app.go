// Package core assembles the delivery agent: configuration, logging,
// storage, the event-driven agent itself, and the HTTP boundary.
package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"trainpush/internal/agent"
	"trainpush/internal/clients"
	"trainpush/internal/config"
	"trainpush/internal/eventbus"
	"trainpush/internal/history"
	"trainpush/internal/httpapi"
	"trainpush/internal/observability/pprof"
	"trainpush/internal/runtime/supervisor"
	"trainpush/internal/scheduler"
	"trainpush/internal/storage"
	"trainpush/internal/surface/webpush"
	"trainpush/pkg/logx"
	"trainpush/pkg/sdnotify"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store storage.Store // nil when storage is disabled

	bus      eventbus.Bus
	registry *clients.Registry
	agent    *agent.Agent

	hist  *history.Service
	sched *scheduler.Service
	http  *httpapi.Server
	pprof *pprof.Service
}

// emptySubs backs the push surface when storage is disabled: there is
// nowhere to keep subscriptions, so fanout always sees zero targets.
type emptySubs struct{}

func (emptySubs) ListSubscriptions(ctx context.Context) ([]storage.Subscription, error) {
	return nil, nil
}
func (emptySubs) DeleteSubscription(ctx context.Context, endpoint string) error { return nil }

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	store, err := storage.Open(storageConfig(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	clientTTL, err := config.ParseDurationOrDefault("agent.client_ttl", cfg.Agent.ClientTTL, 0)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	registry := clients.New(clients.Config{
		AllowOpen: cfg.Agent.AllowOpenWindow == nil || *cfg.Agent.AllowOpenWindow,
		TTL:       clientTTL,
	}, log.With(logx.String("comp", "clients")))

	pushTimeout, err := config.ParseDurationOrDefault("webpush.timeout", cfg.WebPush.Timeout, 10*time.Second)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	var subs webpush.SubscriptionSource = emptySubs{}
	if store != nil {
		subs = store
	}
	surf := webpush.New(webpush.Config{
		VAPIDPublicKey:  cfg.WebPush.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.WebPush.VAPIDPrivateKey,
		Subscriber:      cfg.WebPush.Subscriber,
		TTL:             cfg.WebPush.TTL,
		Timeout:         pushTimeout,
	}, subs, log.With(logx.String("comp", "webpush")))

	bus := eventbus.New()

	ag := agent.New(agent.Capabilities{
		Surface:   surf,
		Clients:   registry,
		Lifecycle: clients.NewLifecycle(registry, log.With(logx.String("comp", "lifecycle"))),
	}, bus, log.With(logx.String("comp", "agent")),
		agent.WithQueueSize(cfg.Agent.QueueSize))

	var hist *history.Service
	if store != nil {
		seenWindow, err := config.ParseDurationOrDefault("agent.seen_window", cfg.Agent.SeenWindow, 24*time.Hour)
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		retention, err := config.ParseDurationOrDefault("agent.history_retention", cfg.Agent.HistoryRetention, 7*24*time.Hour)
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		hist = history.New(history.Config{
			SeenWindow: seenWindow,
			Retention:  retention,
		}, store, bus, log.With(logx.String("comp", "history")))
	}

	schedSvc := scheduler.New(scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: cfg.Scheduler.Timezone,
	}, log.With(logx.String("comp", "scheduler")))

	httpCfg, err := httpConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	httpSrv := httpapi.New(httpCfg, httpapi.Deps{
		Agent:          ag,
		Registry:       registry,
		Store:          store,
		VAPIDPublicKey: cfg.WebPush.VAPIDPublicKey,
		Log:            log.With(logx.String("comp", "http")),
	})

	pprofCfg, err := pprofConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	pprofSvc := pprof.New(pprofCfg, log.With(logx.String("comp", "pprof")))

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		store:    store,
		bus:      bus,
		registry: registry,
		agent:    ag,
		hist:     hist,
		sched:    schedSvc,
		http:     httpSrv,
		pprof:    pprofSvc,
	}, nil
}

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validateConfig)

	a.sup.Go("agent.run", a.agent.Run)

	// Startup mirrors the worker lifecycle: install, then activate and claim
	// every known window. Both complete before the API accepts traffic.
	if err := a.dispatchAndWait(a.sup.Context(), &agent.Event{Kind: agent.EventInstall}); err != nil {
		return fmt.Errorf("install: %w", err)
	}
	if err := a.dispatchAndWait(a.sup.Context(), &agent.Event{Kind: agent.EventActivate}); err != nil {
		return fmt.Errorf("activate: %w", err)
	}

	if a.hist != nil {
		a.sup.Go("history.record", a.hist.Run)

		cfg := a.cfgm.Get()
		spec := strings.TrimSpace(cfg.Scheduler.DailyReset)
		if spec == "" {
			spec = "cron:0 1 * * *"
		}
		if err := a.sched.AddJob("history.daily_reset", spec, a.hist.Reset); err != nil {
			return err
		}
	}
	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}

	if err := a.http.Start(a.sup.Context()); err != nil {
		return err
	}

	a.pprof.Start(a.sup.Context())

	a.sup.Go0("config.reload", func(c context.Context) {
		a.reloadLoop(c, a.cfgm.Updates())
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	sdnotify.Ready()
	a.log.Info("agent started", logx.String("state", a.agent.State()))
	return nil
}

func (a *App) dispatchAndWait(ctx context.Context, ev *agent.Event) error {
	if err := a.agent.Dispatch(ctx, ev); err != nil {
		return err
	}
	if err := ev.Wait(ctx); err != nil {
		return err
	}
	return ev.Err()
}

// reloadLoop applies hot-reloadable config sections: logging and pprof.
// Everything else (addresses, storage driver, queue size) needs a restart.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			sections, fields := config.SummarizeConfigChange(lastApplied, newCfg)
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				lastApplied = newCfg
				continue
			}
			a.log.Debug("config change summary",
				append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)...)
			lastApplied = newCfg

			a.logs.Apply(logx.Config{
				Level:   newCfg.Logging.Level,
				Console: newCfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: newCfg.Logging.File.Enabled,
					Path:    newCfg.Logging.File.Path,
				},
			})

			if pc, err := pprofConfig(newCfg); err != nil {
				a.log.Warn("invalid pprof config in reload; keeping previous", logx.Err(err))
			} else {
				a.pprof.Reconfigure(ctx, pc)
			}

			a.log.Info("config reloaded",
				append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)...)
			sdnotify.Status("config reloaded: " + strings.Join(sections, ","))
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	sdnotify.Stopping()
	a.log.Info("stopping")

	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context)) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
		}
		start := time.Now()
		fn(stepCtx)
		if cancel != nil {
			cancel()
		}
		a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("http", 3*time.Second, func(c context.Context) { a.http.Stop(c) })
	step("scheduler", 2*time.Second, func(c context.Context) { a.sched.Stop(c) })
	step("pprof", 2*time.Second, func(c context.Context) { a.pprof.Stop(c) })
	step("supervisor", 3*time.Second, func(c context.Context) { _ = a.sup.Wait(c) })

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close", logx.Err(err))
		}
	}

	a.log.Info("stopped")
	return a.logs.Close()
}
