package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chronod/internal/eventbus"
	"chronod/internal/task/engine"
	"chronod/internal/timer"
	logx "chronod/pkg/logx"
)

// resubmitDelay is how long a timer waits before another dispatch attempt
// when the engine refused or dropped it.
const resubmitDelay = time.Second

// errCanceledBeforeRun ends a queued dispatch, or its pending retries, whose
// timer was canceled before the attempt started.
var errCanceledBeforeRun = errors.New("timer canceled before callback ran")

// fire moves a due timer to IN_TIMEOUT and hands its callback to the engine.
// Submit blocks while the queue is full, which holds this owner's loop.
func (s *Service) fire(ctx context.Context, o *owner, p pendingTimer) {
	e := o.lookup(p.id)
	if e == nil {
		return
	}
	now := time.Now()

	e.mu.Lock()
	rec := e.rec
	if rec.State != timer.Active || rec.Next.After(now) {
		e.mu.Unlock()
		return
	}
	if err := rec.BeginTimeout(); err != nil {
		e.mu.Unlock()
		s.log.Error("timer dispatch rejected", logx.String("owner", o.name), logx.String("id", p.id), logx.Err(err))
		return
	}
	id, info, opts := rec.ID, rec.Info, e.opts
	due := rec.Next
	e.mu.Unlock()

	cb := o.callback()
	task := engine.Task{
		Name:    "timer/" + o.name,
		Timeout: opts.Timeout,
		Opt:     engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning, RetryMax: opts.RetryMax},
		State:   &e.run,
		// Checked before every attempt, retries included.
		Run: func(ctx context.Context) error {
			e.mu.Lock()
			live := e.rec.State == timer.InTimeout
			e.mu.Unlock()
			if !live {
				return engine.NoRetry(errCanceledBeforeRun)
			}
			return cb(ctx, id, info)
		},
		Done: func(err error) { s.complete(o, e, err) },
	}
	if s.log.Enabled(logx.LevelTrace) {
		s.log.Trace("timer due", logx.String("owner", o.name), logx.String("id", id), logx.Time("due", due),
			logx.Duration("late", now.Sub(due)))
	}

	if err := s.engine.Submit(ctx, task); err != nil {
		s.reportEnqueueError(o.name, id, err)
		e.mu.Lock()
		aborted := e.rec.AbortTimeout() == nil
		e.mu.Unlock()
		// ErrStopping with a live ctx means only the engine is restarting.
		if aborted && ctx.Err() == nil {
			o.push(pendingTimer{id: id, at: time.Now().Add(resubmitDelay)})
		}
	}
}

// complete runs once per accepted dispatch, on the engine's worker.
func (s *Service) complete(o *owner, e *entry, runErr error) {
	if errors.Is(runErr, errCanceledBeforeRun) {
		// Cancel already removed and saved it.
		e.mu.Lock()
		id := e.rec.ID
		e.mu.Unlock()
		s.warn.Forget("callback:" + id)
		s.log.Debug("canceled timer skipped", logx.String("owner", o.name), logx.String("id", id))
		return
	}
	if errors.Is(runErr, engine.ErrStopping) || errors.Is(runErr, engine.ErrStale) {
		// Never ran: keep the expiration and do not count a fire. If the
		// engine restarted or the queue was backed up, try again shortly;
		// after a full stop it fires on the next start.
		e.mu.Lock()
		aborted := e.rec.AbortTimeout() == nil
		id := e.rec.ID
		e.mu.Unlock()
		if aborted {
			o.markDirty()
		}
		if errors.Is(runErr, engine.ErrStale) {
			s.reportEnqueueError(o.name, id, runErr)
		}
		if aborted && s.running() {
			o.push(pendingTimer{id: id, at: time.Now().Add(resubmitDelay)})
		}
		return
	}

	e.mu.Lock()
	st, err := e.rec.EndTimeout(time.Now())
	ev := eventbus.TimerEvent{
		Owner:   o.name,
		TimerID: e.rec.ID,
		Kind:    e.rec.Kind.String(),
		State:   st.String(),
		Next:    e.rec.Next,
	}
	persistent := e.rec.Persistent
	e.mu.Unlock()
	if err != nil {
		s.log.Error("timer completion rejected", logx.String("owner", o.name), logx.String("id", ev.TimerID), logx.Err(err))
		return
	}

	warnKey := "callback:" + ev.TimerID
	if runErr != nil {
		runErr = fmt.Errorf("%w: %w", ErrCallbackFailure, runErr)
		ev.Error = runErr.Error()
		if s.warn.Allow(warnKey) {
			s.log.Warn("timer callback failed", logx.String("owner", o.name), logx.String("id", ev.TimerID), logx.Err(runErr))
		}
		s.publish(eventbus.TimerFailed, ev)
	} else {
		s.publish(eventbus.TimerFired, ev)
	}

	switch st {
	case timer.Active:
		o.push(pendingTimer{id: ev.TimerID, at: ev.Next})
	case timer.Expired:
		o.remove(ev.TimerID)
		s.unindex(ev.TimerID)
		s.warn.Forget(warnKey)
		s.log.Debug("timer expired", logx.String("owner", o.name), logx.String("id", ev.TimerID))
		s.publish(eventbus.TimerExpired, ev)
	case timer.Canceled:
		// Cancel already removed and saved it.
		s.warn.Forget(warnKey)
		return
	}
	if persistent {
		o.markDirty()
	}
}

func (s *Service) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx != nil && s.ctx.Err() == nil
}

func (s *Service) publish(typ string, ev eventbus.TimerEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}
