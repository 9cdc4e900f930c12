package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"chronod/internal/config"
	logx "chronod/pkg/logx"
)

// reloadLoop applies every published config until ctx is done.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	// Track last applied config to generate a safe diff summary.
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
			newCfg = latest(sub, newCfg)
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func latest(sub <-chan *config.Config, cfg *config.Config) *config.Config {
	for {
		select {
		case newer, ok := <-sub:
			if !ok {
				return cfg
			}
			if newer != nil {
				cfg = newer
			}
		default:
			return cfg
		}
	}
}

// applyConfig moves the running daemon from prev to next. next has already
// passed validateConfig.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs, ownersChanged := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)
	if len(ownersChanged) > 0 {
		a.log.Debug("owner config changes detected", logx.Any("owners", ownersChanged))
	}

	if slices.Contains(sections, "storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if slices.Contains(sections, "logging") {
		a.logs.Apply(mapLogConfig(next))
	}
	if slices.Contains(sections, "task_engine") {
		a.applyEngine(ctx, next)
	}
	if slices.Contains(sections, "scheduler") {
		if sc, err := mapSchedulerConfig(next); err != nil {
			a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		} else {
			a.sched.Apply(sc)
			a.mu.Lock()
			a.shutdownGrace = sc.ShutdownGrace
			a.mu.Unlock()
		}
	}

	if slices.Contains(sections, "diagnostics") {
		if dc, err := mapDiagConfig(next); err != nil {
			a.log.Warn("invalid diagnostics config; keeping previous", logx.Err(err))
		} else if err := a.diag.Reconfigure(ctx, dc); err != nil {
			a.log.Warn("diagnostics reconfigure failed", logx.Err(err))
		}
	}

	// A timezone change re-keys zone-less auto timers, so sync on either.
	if slices.Contains(sections, "owners") || slices.Contains(sections, "scheduler") {
		if err := a.registerOwners(ownerNames(next)); err != nil {
			a.log.Warn("owner registration failed", logx.Err(err))
		}
		for _, name := range removedOwners(prev, next) {
			a.log.Warn("owner removed from config; its auto timers are canceled, other timers keep running until restart",
				logx.String("owner", name))
		}
		if err := a.syncAutoTimers(ctx, prev, next); err != nil {
			a.log.Warn("auto timer sync failed", logx.Err(err))
		}
	}

	a.log.Info("config reloaded", fields...)
}

// applyEngine swaps the engine config; pool size changes need a restart.
// Callbacks dropped by the restart are re-armed by the scheduler.
func (a *App) applyEngine(ctx context.Context, next *config.Config) {
	ec, err := mapTaskEngineConfig(next)
	if err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
		return
	}
	before := a.engine.Snapshot()
	a.engine.Apply(ec)
	if before.Workers == ec.Workers && before.QueueCap == ec.QueueSize {
		return
	}
	a.log.Info("task engine restarting",
		logx.Int("workers", ec.Workers), logx.Int("queue_size", ec.QueueSize))
	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	a.engine.Stop(stopCtx)
	cancel()
	a.engine.Start(ctx)
}

func removedOwners(prev, next *config.Config) []string {
	if prev == nil {
		return nil
	}
	keep := map[string]bool{}
	for _, n := range ownerNames(next) {
		keep[n] = true
	}
	var out []string
	for _, n := range ownerNames(prev) {
		if !keep[n] {
			out = append(out, n)
		}
	}
	return out
}
