// Package app wires the bot together: config, logging, the job store, the
// scheduling services, the dialogs and the Telegram transport.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/dialog"
	"remindbot/internal/eventbus"
	"remindbot/internal/notifier"
	"remindbot/internal/reminder"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	"remindbot/internal/task/engine"
	"remindbot/internal/task/scheduler"
	kit "remindbot/internal/transport"
	telegram "remindbot/internal/transport/telegram/adapter"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
)

const (
	jobReconcile    = "maintenance.reconcile"
	jobSessionPrune = "maintenance.sessions"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter

	engine    *engine.Service
	sched     *scheduler.Service
	notif     *notifier.Service
	reminders *reminder.Service
	dialogs   *dialog.Manager
	router    *router.Router

	settings runtimeSettings
	updates  chan kit.Update
}

// New loads the config, connects to Telegram and opens the job store.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.NewConsole("info"))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	rs, err := mapRuntimeSettings(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: rs.PollTimeout},
		logx.NewConsole(cfg.Logging.Level))
	if err != nil {
		return nil, err
	}
	return build(cfgm, cfg, ad)
}

// build assembles the services around an adapter; tests pass a fake one.
func build(cfgm *config.Manager, cfg *config.Config, ad kit.Adapter) (*App, error) {
	rs, err := mapRuntimeSettings(cfg)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	logSvc.SetSender(func(ctx context.Context, chatID int64, threadID int, text string) error {
		_, err := ad.SendText(ctx, kit.ChatTarget{ChatID: chatID, ThreadID: threadID}, text, &kit.SendOptions{DisablePreview: true})
		return err
	})
	cfgm.SetLogger(log)
	if ls, ok := ad.(interface{ SetLogger(logx.Logger) }); ok {
		ls.SetLogger(log)
	}
	appLog := log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	appLog.Info("storage opened", logx.String("driver", sc.Driver))

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	bus := eventbus.New()
	engineSvc := engine.New(engCfg, log, bus)
	schedSvc := scheduler.New(mapSchedulerConfig(cfg), engineSvc, log, bus)
	notifSvc := notifier.New(ncfg, ad, log, bus, store)
	remSvc := reminder.New(store, schedSvc, notifSvc, reminder.Options{
		Log:         log,
		Bus:         bus,
		FireTimeout: rs.FireTimeout,
	})

	dialogs := dialog.NewManager(dialog.Options{TTL: rs.SessionTTL, Log: log},
		dialog.NewNewTask(remSvc, log),
		dialog.NewListTask(remSvc, log),
	)
	rt := router.New(ad, dialogs, router.Options{
		Timeout: rs.RequestTimeout,
		Allowed: cfg.Telegram.AllowedUserIDs,
		Log:     log,
	})

	return &App{
		cfgm:      cfgm,
		log:       appLog,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		adapter:   ad,
		engine:    engineSvc,
		sched:     schedSvc,
		notif:     notifSvc,
		reminders: remSvc,
		dialogs:   dialogs,
		router:    rt,
		settings:  rs,
		updates:   make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	if a.notif.Enabled() {
		a.notif.Start(run)
	}
	if a.engine.Enabled() {
		a.engine.Start(run)
	}

	// Triggers go in before the scheduler starts so missed points fire on start.
	n, err := a.reminders.Recover(run)
	if err != nil {
		return fmt.Errorf("recover jobs: %w", err)
	}
	a.log.Info("jobs recovered", logx.Int("triggers", n))
	if err := a.registerMaintenance(a.settings); err != nil {
		return err
	}
	if a.sched.Enabled() {
		a.sched.Start(run)
	}

	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	a.sup.Go0("telegram.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 10*time.Second)
		defer cancel()
		if err := a.router.PublishMenu(mctx); err != nil {
			a.log.Warn("command menu update failed", logx.Err(err))
		}
	})
	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

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
				if !a.log.Enabled(logx.LevelDebug) {
					continue
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data), logx.Uint64("bus_dropped", a.bus.Dropped()))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// registerMaintenance upserts the housekeeping schedules.
func (a *App) registerMaintenance(rs runtimeSettings) error {
	err := a.sched.AddSchedule(jobReconcile, rs.Reconcile, time.Minute, func(ctx context.Context) error {
		return a.reminders.Reconcile(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", jobReconcile, err)
	}
	err = a.sched.AddSchedule(jobSessionPrune, rs.SessionPrune, 10*time.Second, func(context.Context) error {
		a.dialogs.Prune()
		return nil
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", jobSessionPrune, err)
	}
	return nil
}

// applyConfig pushes a validated reload into the running services.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		if s == "storage" {
			a.log.Warn("storage config changed; restart required")
		}
	}
	if prev != nil && prev.Telegram.Token != next.Telegram.Token {
		a.log.Warn("telegram token changed; restart required")
	}

	a.logs.Apply(mapLogConfig(next))
	a.router.SetAllowed(next.Telegram.AllowedUserIDs)

	if rs, err := mapRuntimeSettings(next); err != nil {
		a.log.Warn("invalid runtime settings; keeping previous", logx.Err(err))
	} else {
		a.settings = rs
		a.dialogs.SetTTL(rs.SessionTTL)
		if err := a.registerMaintenance(rs); err != nil {
			a.log.Warn("maintenance schedule rejected", logx.Err(err))
		}
	}

	prevSched, prevEng := a.sched.Enabled(), a.engine.Enabled()
	if engCfg, err := mapTaskEngineConfig(next); err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(ctx, engCfg)
	}
	a.sched.Apply(mapSchedulerConfig(next))
	a.toggle(ctx, "scheduler", prevSched, a.sched.Enabled(), a.sched.Start, a.sched.Stop)
	a.toggle(ctx, "task engine", prevEng, a.engine.Enabled(), a.engine.Start, a.engine.Stop)

	if ncfg, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		prevN := a.notif.Enabled()
		a.notif.Apply(ncfg)
		a.toggle(ctx, "notifier", prevN, ncfg.Enabled, a.notif.Start, a.notif.Stop)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) toggle(ctx context.Context, name string, was, now bool, start, stop func(context.Context)) {
	switch {
	case was && !now:
		a.log.Info(name + " disabled via config")
		sctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		stop(sctx)
		cancel()
	case !was && now:
		a.log.Info(name + " enabled via config")
		start(ctx)
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "taskengine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	a.step(ctx, "notifier", time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown stage with an upper bound so a stuck component
// cannot stall the rest. It never extends the caller's deadline.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	sctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(sctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-sctx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
