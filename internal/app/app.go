// Package app wires the chronod daemon: config, logging, storage, the task
// engine and the timer scheduler, plus hot reload and ordered shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"chronod/internal/config"
	"chronod/internal/eventbus"
	"chronod/internal/observability/diag"
	"chronod/internal/runtime/supervisor"
	"chronod/internal/storage"
	"chronod/internal/task/engine"
	"chronod/internal/task/scheduler"
	logx "chronod/pkg/logx"
)

// stopSaveBudget covers the scheduler's final flush after the grace period.
const stopSaveBudget = 12 * time.Second

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	engine *engine.Service
	sched  *scheduler.Service
	diag   *diag.Service

	mu            sync.Mutex
	shutdownGrace time.Duration
	owners        map[string]bool
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		owners:  map[string]bool{},
	}

	// Storage (optional)
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, storage.Options{
			Resolver: a.resolveTarget,
			Log:      log.With(logx.String("comp", "storage")),
		})
		if err != nil {
			return nil, err
		}
		a.store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return nil, a.closeStore(err)
	}
	a.engine = engine.New(engCfg, log.With(logx.String("comp", "taskengine")), a.bus)

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, a.closeStore(err)
	}
	a.shutdownGrace = schedCfg.ShutdownGrace
	a.sched = scheduler.New(schedCfg, a.engine, a.store, log.With(logx.String("comp", "scheduler")), a.bus)

	diagCfg, err := mapDiagConfig(cfg)
	if err != nil {
		return nil, a.closeStore(err)
	}
	a.diag = diag.New(diagCfg, diag.Source{
		Timers:  func() any { return a.sched.Snapshot() },
		Runtime: func() any { return a.runtimeSnapshot() },
	}, log.With(logx.String("comp", "diag")))

	if err := a.registerOwners(ownerNames(cfg)); err != nil {
		return nil, a.closeStore(err)
	}
	return a, nil
}

func (a *App) closeStore(err error) error {
	if a.store != nil {
		if cerr := a.store.Close(); cerr != nil {
			return errors.Join(err, cerr)
		}
	}
	return err
}

func ownerNames(cfg *config.Config) []string {
	out := make([]string, 0, len(cfg.Owners))
	for _, o := range cfg.Owners {
		out = append(out, strings.TrimSpace(o.Name))
	}
	return out
}

// Scheduler exposes the timer service, e.g. for embedding callers that
// register their own owners.
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Bus exposes the event bus timer and task events are published on.
func (a *App) Bus() eventbus.Bus { return a.bus }

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
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	// Optional: log events for observability/debug.
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
				// Keep this debug-level to avoid noise for frequent timers.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.syncAutoTimers(a.sup.Context(), nil, a.cfgm.Get()); err != nil {
		return fmt.Errorf("auto timers: %w", err)
	}

	// Diagnostics are optional; a bind failure is logged, not fatal.
	_ = a.diag.Start(a.sup.Context())

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.String("config", a.cfgPath), logx.Int("owners", len(a.ownerSet())))
	return nil
}

// runtimeSnapshot is served under /runtime.
func (a *App) runtimeSnapshot() supervisor.Snapshot {
	if a.sup == nil {
		return supervisor.Snapshot{}
	}
	return a.sup.Snapshot()
}

func (a *App) ownerSet() map[string]bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]bool, len(a.owners))
	for k, v := range a.owners {
		out[k] = v
	}
	return out
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.closeStore(nil)
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// The scheduler drains callbacks within the grace period, then saves.
	a.mu.Lock()
	grace := a.shutdownGrace
	a.mu.Unlock()
	if grace <= 0 {
		grace = 10 * time.Second
	}
	a.step(ctx, "scheduler", grace+stopSaveBudget, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "taskengine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	a.step(ctx, "diagnostics", time.Second, func(c context.Context) error { a.diag.Stop(c); return nil })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.closeStore(nil) })

	// Finally, wait for supervised goroutines (config watch/reload, event log).
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	counters := a.sup.Counters()
	a.log.Info("stopped", logx.Int64("goroutines_active", counters.Active), logx.Uint64("goroutines_started", counters.Started))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step with an upper bound so a stuck component
// cannot stall the whole stop. It never extends the caller's deadline.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max < 0 {
		max = 0
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

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
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name), logx.Err(stepCtx.Err()), logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			} else {
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
	}
}
