// Package app assembles the bgqueue daemon: config, logging, the background
// queue and the services that observe it.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"bgqueue/internal/background"
	"bgqueue/internal/config"
	"bgqueue/internal/debugsrv"
	"bgqueue/internal/diagsched"
	"bgqueue/internal/eventbus"
	"bgqueue/internal/journal"
	"bgqueue/internal/runtime/supervisor"
	"bgqueue/internal/tracing"
	"bgqueue/pkg/logx"
)

// Version is reported to the tracer. Overridden at link time.
var Version = "dev"

const serviceName = "bgqueue"

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	base logx.Logger // no component field; handed to services
	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	bgCfg   background.Config
	queue   *background.Scheduler
	journal journal.Store
	diag    *diagsched.Service
	debug   *debugsrv.Service
	tracing bool

	notify notifier

	stopOnce sync.Once
	stopErr  error
}

type Option func(*App)

// WithEnvironment replaces the process environment as the config override source.
func WithEnvironment(vars map[string]string) Option {
	return func(a *App) { a.cfgm.SetEnvironment(vars) }
}

// New loads the config at cfgPath (empty means defaults plus BGQ_ env) and
// prepares every component. Nothing runs until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	a := &App{cfgm: config.NewManager(cfgPath), notify: systemdNotify}
	for _, opt := range opts {
		opt(a)
	}
	cfg, err := a.cfgm.Load()
	if err != nil {
		return nil, err
	}

	a.logs, a.base = logx.New(mapLogConfig(cfg))
	a.log = a.base.With(logx.String("comp", "app"))
	a.bus = eventbus.New()

	if a.bgCfg, err = mapBackgroundConfig(cfg); err != nil {
		return nil, err
	}

	a.diag = diagsched.New(mapDiagConfig(cfg), a, a.base)
	if err := a.diag.Validate(mapDiagConfig(cfg)); err != nil {
		return nil, fmt.Errorf("diagnostics.schedule: %w", err)
	}

	jcfg, err := mapJournalConfig(cfg)
	if err != nil {
		return nil, err
	}
	if a.journal, err = journal.Open(jcfg, a.base); err != nil {
		return nil, err
	}
	if a.journal != nil {
		a.log.Info("journal enabled", logx.String("driver", jcfg.Driver), logx.String("path", jcfg.Path))
	}

	if cfg.Tracing.Enabled {
		if err := tracing.Init(serviceName, Version, cfg.Tracing.Output); err != nil {
			a.closeJournal()
			return nil, fmt.Errorf("tracing: %w", err)
		}
		a.tracing = true
	}
	return a, nil
}

// Queue returns the daemon's background scheduler, or nil before Start.
func (a *App) Queue() *background.Scheduler { return a.queue }

// Diagnostics queues a report on the background scheduler. It lets the
// periodic trigger exist before the queue does.
func (a *App) Diagnostics() error {
	if a.queue == nil {
		return background.ErrClosed
	}
	return a.queue.Diagnostics()
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
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.base.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		var errs []error
		if err := a.diag.Validate(mapDiagConfig(cfg)); err != nil {
			errs = append(errs, fmt.Errorf("diagnostics.schedule: %w", err))
		}
		if _, err := mapBackgroundConfig(cfg); err != nil {
			errs = append(errs, err)
		}
		if _, err := mapJournalConfig(cfg); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	a.queue = background.New(a.bgCfg,
		background.WithLogger(a.base),
		background.WithBus(a.bus),
		background.WithRunner(a.sup),
	)
	if err := a.queue.WorkerErr(); err != nil {
		return err
	}

	if a.journal != nil {
		rec := journal.NewRecorder(a.journal, a.bus, a.base)
		a.sup.GoRestart("journal.recorder", rec.Run,
			supervisor.WithRestartBackoff(time.Second, 30*time.Second),
		)
	}

	if err := a.diag.Start(a.sup.Context()); err != nil {
		return err
	}

	a.debug = debugsrv.New(mapDebugConfig(a.cfgm.Get()), a.queue, a.journal, a.base)
	a.debug.Start(a.sup.Context())

	a.sup.Go("eventbus.log", func(c context.Context) error {
		events, unsub := a.bus.Subscribe(128)
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				// Keep this at trace; task events fire for every submission.
				a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		a.watchdogLoop(c)
		return nil
	})

	a.sdNotify(daemon.SdNotifyReady)
	a.log.Info("app started", logx.Int("queue_cap", a.queue.Capacity()))
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
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
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if fixed := config.StartupOnly(oldCfg, newCfg); len(fixed) > 0 {
		a.log.Warn("config fields changed that need a restart; keeping running values",
			logx.String("fields", strings.Join(fixed, ",")))
	}

	a.logs.Apply(mapLogConfig(newCfg))
	if err := a.diag.Apply(ctx, mapDiagConfig(newCfg)); err != nil {
		a.log.Warn("invalid diagnostics schedule; periodic reports stopped", logx.Err(err))
	}
	a.debug.Reconfigure(ctx, mapDebugConfig(newCfg))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts everything down in dependency order. Only the first call does work.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.stopOnce.Do(func() { a.stopErr = a.stop(ctx, reason) })
	return a.stopErr
}

func (a *App) stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.closeJournal()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sdNotify(daemon.SdNotifyStopping)

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("diagsched", time.Second, func(c context.Context) error { a.diag.Stop(c); return nil })
	if a.debug != nil {
		step("debugsrv", 2*time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	}
	// The queue goes before the supervisor so the worker exits through Close, not a context cancel.
	step("background", 3*time.Second, a.queue.Close)
	a.sup.Cancel()
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("journal", time.Second, func(context.Context) error { return a.closeJournal() })
	if a.tracing {
		step("tracing", 2*time.Second, tracing.Shutdown)
	}

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

func (a *App) closeJournal() error {
	if a.journal == nil {
		return nil
	}
	err := a.journal.Close()
	a.journal = nil
	return err
}
