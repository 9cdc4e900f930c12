package app

import (
	"context"

	"chronod/internal/task/scheduler"
	logx "chronod/pkg/logx"
)

// ownerCallback is what configured owners run on every expiration: it logs
// the timer, its callback target and its info.
func (a *App) ownerCallback(owner string) scheduler.Callback {
	log := a.log.With(logx.String("comp", "timer"), logx.String("owner", owner))
	return func(ctx context.Context, id string, info any) error {
		fields := []logx.Field{logx.String("id", id)}
		if rec, err := a.sched.Get(id); err == nil {
			if rec.Target != nil {
				fields = append(fields, logx.String("target", rec.Target.String()))
			}
			fields = append(fields, logx.Int("fired", rec.Fired+1))
		}
		if info != nil {
			fields = append(fields, logx.Any("info", info))
		}
		log.Info("timer fired", fields...)
		return nil
	}
}

// registerOwners registers every configured owner not yet known.
func (a *App) registerOwners(names []string) error {
	for _, name := range names {
		a.mu.Lock()
		known := a.owners[name]
		a.mu.Unlock()
		if known {
			continue
		}
		if err := a.sched.Register(name, a.ownerCallback(name)); err != nil {
			return err
		}
		a.mu.Lock()
		a.owners[name] = true
		a.mu.Unlock()
	}
	return nil
}
