package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmhodges/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"remindbot/internal/bot"
	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/metrics"
	"remindbot/internal/notifier"
	"remindbot/internal/reminder"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	"remindbot/internal/task/engine"
	"remindbot/internal/task/scheduler"
	kit "remindbot/internal/transport"
	"remindbot/internal/transport/telegram/router"
	"remindbot/internal/weather"
	logx "remindbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor
	clk  clock.Clock

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	// storeKind is the effective driver, shown by /estado.
	storeKind string

	adapter kit.Adapter

	engine   *engine.Service
	sched    *scheduler.Service
	notif    *notifier.Service
	weather  *weather.Client
	svc      *reminder.Service
	bot      *bot.Bot
	cmdm     *router.CommandManager
	collect  *metrics.Collector
	ops      *metrics.Server
	registry *prometheus.Registry

	startedAt time.Time
	updates   chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(context.Background(), cfg); err != nil {
		return nil, err
	}

	ad, err := newAdapter(cfg)
	if err != nil {
		return nil, err
	}
	return newApp(cfgm, cfg, ad, clock.New())
}

// newApp wires every component around an already built adapter.
func newApp(cfgm *config.Manager, cfg *config.Config, ad kit.Adapter, clk clock.Clock) (*App, error) {
	logSvc, log := newLogging(cfg, ad)
	appLog := log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	storeKind := "memory"
	var store storage.Store
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			return nil, err
		}
		store = st
		storeKind = sc.Driver
		appLog.Info("storage enabled", logx.String("driver", sc.Driver))
	}
	if store == nil {
		appLog.Warn("storage disabled; documents are kept in memory and lost on restart")
		store = storage.NewMemory()
	}

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	engineSvc := engine.New(engCfg, log.With(logx.String("comp", "taskengine")), bus)

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	schedSvc := scheduler.New(schedCfg, engineSvc, clk, log.With(logx.String("comp", "scheduler")), bus)

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notifSvc := notifier.New(ncfg, ad, clk, log, bus, store)

	wcfg, err := mapWeatherConfig(cfg)
	if err != nil {
		return nil, err
	}
	if wcfg.APIKey == "" {
		appLog.Warn("weather.api_key is empty; weather replies will report the service as unavailable")
	}
	wx := weather.NewClient(wcfg, clk, log)

	svc := reminder.New(reminder.Deps{
		Store:          store,
		Scheduler:      schedSvc,
		Notifier:       notifSvc,
		Weather:        wx,
		Clock:          clk,
		Log:            log,
		Bus:            bus,
		TriggerTimeout: schedCfg.TriggerTimeout,
	})

	cmdm := router.NewCommandManager(log.With(logx.String("comp", "commands")), ad, router.Options{
		Owners:    cfg.Telegram.OwnerUserIDs,
		Workers:   cfg.Telegram.CommandWorkers,
		HelpTitle: "Comandos de recordatorios",
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	mcfg, err := mapMetricsConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:      cfgm,
		clk:       clk,
		log:       appLog,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		storeKind: storeKind,
		adapter:   ad,
		engine:    engineSvc,
		sched:     schedSvc,
		notif:     notifSvc,
		weather:   wx,
		svc:       svc,
		cmdm:      cmdm,
		registry:  reg,
		updates:   make(chan kit.Update, 256),
	}
	a.collect = metrics.NewCollector(reg, schedSvc.Live)
	a.ops = metrics.NewServer(mcfg, metrics.Sources{
		Gatherer: reg,
		Health:   store.Ping,
		Triggers: func() any { return schedSvc.Snapshot() },
	}, log.With(logx.String("comp", "ops")))
	a.bot = bot.New(bot.Deps{
		Reminders: svc,
		Weather:   wx,
		Clock:     clk,
		Log:       log,
		Status:    a.status,
	})
	return a, nil
}

func (a *App) status() bot.Status {
	return bot.Status{
		Uptime:   a.clk.Now().Sub(a.startedAt),
		Storage:  a.storeKind,
		Triggers: a.sched.Live(),
		Engine:   a.engine.Snapshot(),
		Notifier: a.notif.Stats(),
	}
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

// Start brings the services up, rebuilds every trigger from storage and only
// then begins dispatching chat updates.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.startedAt = a.clk.Now()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validateConfig)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	if a.engine.Enabled() {
		a.engine.Start(a.sup.Context())
	}

	events, unsub := a.bus.Subscribe(512)
	a.sup.Go("metrics.collect", func(c context.Context) error {
		defer unsub()
		return a.collect.Consume(c, events)
	})

	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
		limit, err := mapReprogramTimeout(a.cfgm.Get())
		if err != nil {
			return err
		}
		rctx, rcancel := context.WithTimeout(a.sup.Context(), limit)
		rep, err := a.svc.Reprogram(rctx)
		rcancel()
		a.log.Info("reprogram finished",
			logx.Int("reminders", rep.Reminders.Scanned),
			logx.Int("subscriptions", rep.Subscriptions.Scanned),
			logx.Int("triggers", rep.Triggers),
			logx.Int("failures", len(rep.Failures)),
			logx.Duration("took", rep.Took),
		)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			a.log.Error("reprogram incomplete", logx.Err(err))
		}
	} else {
		a.log.Warn("scheduler disabled; reminders will not fire")
	}

	a.ops.Start(a.sup.Context())

	timeout, err := mapCommandTimeout(a.cfgm.Get())
	if err != nil {
		return err
	}
	a.cmdm.SetRegistry(a.sup.Context(), withTimeout(a.bot.Commands(), timeout), a.bot.Callbacks())
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, last, newCfg)
				last = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.String("storage", a.storeKind), logx.Int("triggers", a.sched.Live()))
	return nil
}

func withTimeout(cmds []router.Command, d time.Duration) []router.Command {
	for i := range cmds {
		if cmds[i].Timeout == 0 {
			cmds[i].Timeout = d
		}
	}
	return cmds
}

// applyConfig pushes the hot-reloadable parts of newCfg into the running
// services. Storage, the bot token and scheduler.enabled need a restart.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(oldCfg, newCfg); len(restart) > 0 {
		a.log.Warn("config change needs a restart to take effect", logx.String("keys", strings.Join(restart, ",")))
	}

	a.logs.SetChatTarget(logChatID(newCfg), newCfg.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(newCfg))

	a.cmdm.SetOwners(newCfg.Telegram.OwnerUserIDs)

	if ecfg, err := mapTaskEngineConfig(newCfg); err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
	} else {
		was := a.engine.Enabled()
		a.engine.Apply(ctx, ecfg)
		switch {
		case was && !ecfg.Enabled:
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.engine.Stop(stopCtx)
			cancel()
		case !was && ecfg.Enabled:
			a.engine.Start(ctx)
		}
	}

	if scfg, err := mapSchedulerConfig(newCfg); err == nil {
		// Enabling or disabling the scheduler is a restart; only the timeout moves.
		scfg.Enabled = a.sched.Enabled()
		a.sched.Apply(scfg)
	}

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		was := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case was && !ncfg.Enabled:
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !was && ncfg.Enabled:
			a.notif.Start(ctx)
		}
	}

	if wcfg, err := mapWeatherConfig(newCfg); err == nil {
		a.weather.SetRate(wcfg.RatePerSec, wcfg.Burst)
	}

	if mcfg, err := mapMetricsConfig(newCfg); err != nil {
		a.log.Warn("invalid metrics config; keeping previous", logx.Err(err))
	} else {
		a.ops.Reconfigure(ctx, mcfg)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// step bounds one shutdown stage so a stuck component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			var cancel context.CancelFunc
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
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}()
		}
	}

	step("dispatcher", 3*time.Second, func(c context.Context) error {
		if sup := a.cmdm.Supervisor(); sup != nil {
			return sup.Wait(c)
		}
		return nil
	})
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
