// Package app wires the bot together: config, logging, storage, the
// Telegram adapter, the notification engine, the engagement services, the
// scheduler and the command router.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dianabot/internal/config"
	"dianabot/internal/engagement"
	"dianabot/internal/eventbus"
	"dianabot/internal/notify"
	"dianabot/internal/runtime/supervisor"
	"dianabot/internal/services/scheduler"
	"dianabot/internal/storage"
	kit "dianabot/internal/transport"
	telegram "dianabot/internal/transport/telegram/adapter"
	"dianabot/internal/transport/telegram/router"
	logx "dianabot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter
	sink    *digestSink

	notif  *notify.Service
	engag  *engagement.Service
	sched  *scheduler.Service
	router *router.Router

	updates   chan kit.Update
	startedAt time.Time
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
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

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	ncfg, err := mapNotifyConfig(cfg)
	if err != nil {
		return nil, err
	}
	sink := newDigestSink(ad, ncfg.Format.UseMarkdown)
	notifSvc := notify.New(ncfg, sink, log.With(logx.String("comp", "notify")), bus, store)

	engCfg, _ := mapEngagementConfig(cfg)
	engagSvc := engagement.New(engCfg, store, notifSvc, log.With(logx.String("comp", "engagement")))

	schedSvc := scheduler.New(mapSchedulerConfig(cfg), log.With(logx.String("comp", "scheduler")))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		sink:    sink,
		notif:   notifSvc,
		engag:   engagSvc,
		sched:   schedSvc,
		updates: make(chan kit.Update, 256),
	}
	a.router = router.New(log.With(logx.String("comp", "commands")), ad, cfg.Telegram.OwnerUserIDs)
	a.registerCommands()
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.startedAt = time.Now()
	a.sup = supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
			return err
		}
		if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
			}
		}
		if dd := strings.TrimSpace(cfg.Scheduler.DailyDigest); dd != "" {
			if _, _, err := scheduler.ParseHHMM(dd); err != nil {
				return fmt.Errorf("scheduler.daily_digest: %w", err)
			}
		}
		if _, err := mapNotifyConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
		a.registerJobs(a.cfgm.Get())
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	// Event log for observability/debug (components can also subscribe themselves).
	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
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
				a.applyConfig(newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig applies a validated hot-reload. Storage and scheduler jobs are
// fixed at startup; the rest follows the new config live.
func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}

	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	a.router.SetOwners(cfg.Telegram.OwnerUserIDs)

	ncfg, err := mapNotifyConfig(cfg)
	if err != nil {
		a.log.Warn("invalid notifications config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
		a.sink.setMarkdown(ncfg.Format.UseMarkdown)
	}

	if _, enabled, _ := mapStorageConfig(cfg); enabled != (a.store != nil) {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	a.log.Info("config reloaded")
}

// registerJobs installs the recurring maintenance jobs. Job timings are fixed
// at startup.
func (a *App) registerJobs(cfg *config.Config) {
	// Duplicate-window sweep keeps per-user state from accumulating.
	if _, err := a.sched.AddInterval("notify.sweep", 10*time.Minute, 30*time.Second, func(ctx context.Context) error {
		if n := a.notif.SweepExpired(); n > 0 {
			a.log.Debug("dedup sweep", logx.Int("removed", n))
		}
		return nil
	}); err != nil {
		a.log.Warn("sweep job registration failed", logx.Err(err))
	}

	if cfg == nil || strings.TrimSpace(cfg.Scheduler.DailyDigest) == "" {
		return
	}
	owners := append([]int64(nil), cfg.Telegram.OwnerUserIDs...)
	if _, err := a.sched.AddDaily("daily.digest", cfg.Scheduler.DailyDigest, 1*time.Minute, func(ctx context.Context) error {
		for _, userID := range owners {
			total := a.engag.Points(ctx, userID)
			p := notify.OtherPayload{
				Tag:  "daily",
				Text: fmt.Sprintf("Resumen del día: llevas %d puntos.", total),
			}
			if err := a.notif.Submit(ctx, userID, p, notify.PriorityLow); err != nil {
				a.log.Warn("daily digest submit failed", logx.Int64("user", userID), logx.Err(err))
			}
		}
		return nil
	}); err != nil {
		a.log.Warn("daily digest job registration failed", logx.Err(err))
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Run each shutdown step with an upper bound so one component can't
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Err(stepCtx.Err()))
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
