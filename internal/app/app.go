// Package app wires the service together and owns its lifecycle: build,
// start, live reconfiguration and ordered shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ebbinghaus/internal/api"
	"ebbinghaus/internal/cache"
	"ebbinghaus/internal/clock"
	"ebbinghaus/internal/config"
	"ebbinghaus/internal/eventbus"
	"ebbinghaus/internal/notifier"
	"ebbinghaus/internal/observability/pprof"
	"ebbinghaus/internal/phase"
	"ebbinghaus/internal/runtime/supervisor"
	"ebbinghaus/internal/scheduler"
	"ebbinghaus/internal/storage"
	logx "ebbinghaus/pkg/logx"
	"ebbinghaus/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager

	logs *logx.Service
	log  logx.Logger
	bus  eventbus.Bus

	store      storage.Store
	phases     *phase.Table
	notif      *notifier.Service
	deliveries cache.DeliveryLog
	sched      *scheduler.Service
	api        *api.Server
	sd         *systemd.Notifier
	prof       *pprof.Service

	sup *supervisor.Supervisor
}

type options struct {
	transport notifier.Transport
	clock     clock.Clock
	store     storage.Store
}

type Option func(*options)

// WithTransport replaces the mail transport named in the config.
func WithTransport(tr notifier.Transport) Option { return func(o *options) { o.transport = tr } }

func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// WithStore uses an already open store instead of opening the configured one.
// The app closes it on Stop.
func WithStore(st storage.Store) Option { return func(o *options) { o.store = st } }

// New builds every component from the manager's config, loading it first if
// nothing is committed yet. It fails fast on an invalid phase table.
func New(ctx context.Context, cfgm *config.ConfigManager, opts ...Option) (a *App, err error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	cfg := cfgm.Get()
	if cfg == nil {
		if cfg, err = cfgm.Load(); err != nil {
			return nil, err
		}
	}
	if err := Validate(ctx, cfg); err != nil {
		return nil, err
	}

	logs, root := logx.New(loggingConfig(cfg))
	a = &App{
		cfgm: cfgm,
		logs: logs,
		log:  root.With(logx.String("comp", "app")),
		bus:  eventbus.New(),
		sd:   systemd.NewNotifier(cfg.Systemd.Notify, root),
	}
	defer func() {
		if err != nil {
			_ = a.closeAll(context.Background())
			_ = a.logs.Close()
		}
	}()

	a.store = o.store
	if a.store == nil {
		sc, _ := storageConfig(cfg)
		if a.store, err = storage.Open(ctx, sc, root); err != nil {
			return nil, err
		}
	}
	if a.phases, err = LoadPhases(ctx, a.store, cfg.Phases, a.log); err != nil {
		return nil, err
	}

	nc, _ := notifierConfig(cfg)
	if o.transport != nil {
		a.notif = notifier.NewWithTransport(nc, o.transport, root.With(logx.String("comp", "notifier")), a.bus)
	} else if a.notif, err = notifier.New(nc, root, a.bus); err != nil {
		return nil, err
	}

	if a.deliveries, err = cache.Open(ctx, cacheConfig(cfg), root); err != nil {
		return nil, err
	}

	sc, _ := schedulerConfig(cfg)
	a.sched, err = scheduler.New(sc, scheduler.Deps{
		Phases:     a.phases,
		Store:      a.store,
		Notifier:   a.notif,
		Clock:      o.clock,
		Deliveries: a.deliveries,
		Bus:        a.bus,
		Log:        root,
	})
	if err != nil {
		return nil, err
	}

	pc, _ := pprofConfig(cfg)
	a.prof = pprof.New(pc, root)

	if cfg.Server.Enabled {
		ac, _ := apiConfig(cfg)
		a.api = api.New(ac, api.Deps{
			Store:      a.store,
			Phases:     a.phases,
			Clock:      o.clock,
			Scheduler:  a.sched,
			Deliveries: a.deliveries,
			Log:        root,
		})
	}
	return a, nil
}

func (a *App) Logger() logx.Logger           { return a.log }
func (a *App) Store() storage.Store          { return a.store }
func (a *App) Phases() *phase.Table          { return a.phases }
func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) Notifier() *notifier.Service   { return a.notif }
func (a *App) Deliveries() cache.DeliveryLog { return a.deliveries }
func (a *App) Bus() eventbus.Bus             { return a.bus }
func (a *App) Pprof() *pprof.Service         { return a.prof }

// APIAddr is the HTTP listen address once the server is up, or "".
func (a *App) APIAddr() string {
	if a.api == nil {
		return ""
	}
	return a.api.Addr()
}

// Done is closed when the app stops, including after a fatal goroutine error.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err is the first fatal goroutine error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(Validate)

	a.sched.Start(a.sup.Context())

	if a.api != nil {
		a.sup.GoRestart("api.http", a.api.Run,
			supervisor.WithBackoff(time.Second, 15*time.Second),
			supervisor.WithMaxRestarts(5),
		)
	}
	if a.cfgm.Path() != "" {
		a.sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.WithBackoff(250*time.Millisecond, 5*time.Second))
	}
	sub := a.cfgm.Subscribe(4)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
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
				a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.prof.Start(a.sup.Context())

	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		return a.sd.Watchdog(c, a.store.Ping)
	})

	a.sd.Ready()
	a.log.Info("started",
		logx.Int("phases", a.phases.Len()),
		logx.Bool("scheduler", a.sched.Enabled()),
		logx.Bool("http", a.api != nil),
		logx.String("mail", a.notif.TransportName()),
	)
	return nil
}

// Stop shuts down in dependency order: no new requests, no new ticks, then
// the collaborators they used. Each step gets a bounded share of ctx.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()
	err := a.closeAll(ctx)
	a.log.Info("stopped")
	_ = a.logs.Close()
	return err
}

func (a *App) closeAll(ctx context.Context) error {
	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		if err := a.step(ctx, name, max, fn); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if a.sup != nil {
		// Supervised goroutines include the HTTP server; cancelling them
		// starts its graceful shutdown before the scheduler stops.
		step("supervisor", 6*time.Second, a.sup.Stop)
	}
	if a.prof != nil {
		step("pprof", 2*time.Second, a.prof.Stop)
	}
	if a.sched != nil {
		step("scheduler", 10*time.Second, a.sched.Stop)
	}
	if a.notif != nil {
		step("notifier", 2*time.Second, a.notif.Stop)
	}
	if a.deliveries != nil {
		step("cache", time.Second, func(context.Context) error { return a.deliveries.Close() })
	}
	if a.store != nil {
		step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })
	}
	return errors.Join(errs...)
}

// step runs fn under a deadline that never exceeds ctx's. A step that
// overruns is logged and left behind.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	sctx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- fn(sctx)
	}()

	select {
	case err := <-done:
		took := time.Since(start)
		if err != nil {
			a.log.Warn("stop step error", logx.String("step", name), logx.Err(err), logx.Duration("took", took))
			return err
		}
		a.log.Debug("stop step done", logx.String("step", name), logx.Duration("took", took))
		return nil
	case <-sctx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("step", name), logx.Duration("elapsed", time.Since(start)))
		return sctx.Err()
	}
}
