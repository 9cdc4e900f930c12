package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"chronod/internal/calendar"
	"chronod/internal/eventbus"
	"chronod/internal/timer"
	logx "chronod/pkg/logx"
)

// CreateCalendarTimer creates a timer that fires whenever spec matches.
// A spec without a timezone uses the service's configured zone. Parse errors
// wrap calendar.ErrInvalidExpression. A schedule with no future match still
// yields an id; the timer is expired at once.
func (s *Service) CreateCalendarTimer(ctx context.Context, owner string, spec calendar.Spec, info any, opts TimerOptions) (string, error) {
	if strings.TrimSpace(spec.Timezone) == "" {
		s.mu.Lock()
		spec.Timezone = strings.TrimSpace(s.cfg.Timezone)
		s.mu.Unlock()
	}
	r, err := timer.NewCalendar(owner, spec, info, time.Now())
	if err != nil {
		return "", err
	}
	if opts.Target != nil {
		t := *opts.Target
		t.Params = append([]string(nil), opts.Target.Params...)
		r.Target = &t
	}
	return s.add(ctx, owner, r, opts)
}

// CreateIntervalTimer creates a timer first due after initialDelay and then
// every interval. A zero interval makes a single-action timer; opts.Repeats
// bounds the number of fires.
func (s *Service) CreateIntervalTimer(ctx context.Context, owner string, initialDelay, interval time.Duration, info any, opts TimerOptions) (string, error) {
	if initialDelay < 0 {
		return "", fmt.Errorf("scheduler: negative initial delay %s", initialDelay)
	}
	if opts.Repeats < 0 {
		return "", fmt.Errorf("scheduler: negative repeat count %d", opts.Repeats)
	}
	r, err := timer.NewInterval(owner, time.Now().Add(initialDelay), interval, info)
	if err != nil {
		return "", err
	}
	r.Repeats = opts.Repeats
	return s.add(ctx, owner, r, opts)
}

func (s *Service) add(ctx context.Context, name string, r *timer.Record, opts TimerOptions) (string, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return "", err
		}
	}
	s.mu.Lock()
	o := s.owners[name]
	s.mu.Unlock()
	if o == nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownOwner, name)
	}
	o.mu.Lock()
	running := o.running
	o.mu.Unlock()
	if !running {
		return "", fmt.Errorf("%w: owner %q", ErrNotStarted, name)
	}

	r.Persistent = !opts.Transient
	if err := r.Schedule(time.Now()); err != nil {
		return "", err
	}
	ev := eventbus.TimerEvent{Owner: name, TimerID: r.ID, Kind: r.Kind.String(), State: r.State.String(), Next: r.Next}
	if r.State == timer.Expired {
		s.log.Debug("timer has no expiration", logx.String("owner", name), logx.String("id", r.ID), logx.String("schedule", describe(r)))
		s.publish(eventbus.TimerExpired, ev)
		return r.ID, nil
	}

	e := &entry{owner: o, rec: r, opts: opts}
	s.mu.Lock()
	s.index[r.ID] = e
	s.mu.Unlock()
	o.mu.Lock()
	o.entries[r.ID] = e
	o.mu.Unlock()
	o.push(pendingTimer{id: r.ID, at: r.Next})
	if r.Persistent {
		o.markDirty()
	}

	s.log.Debug("timer created",
		logx.String("owner", name),
		logx.String("id", r.ID),
		logx.String("kind", r.Kind.String()),
		logx.String("schedule", describe(r)),
		logx.Time("next", r.Next))
	s.publish(eventbus.TimerCreated, ev)
	return r.ID, nil
}

// Cancel cancels a timer and saves its owner before returning. A callback
// already running is not interrupted, and the timer is not re-armed after it.
func (s *Service) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	e := s.index[id]
	s.mu.Unlock()
	if e == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTimer, id)
	}

	e.mu.Lock()
	err := e.rec.Cancel()
	ev := eventbus.TimerEvent{Owner: e.owner.name, TimerID: id, Kind: e.rec.Kind.String(), State: e.rec.State.String()}
	persistent := e.rec.Persistent
	e.mu.Unlock()
	if err != nil {
		return err
	}

	o := e.owner
	o.remove(id)
	s.unindex(id)
	s.log.Debug("timer canceled", logx.String("owner", o.name), logx.String("id", id))
	s.publish(eventbus.TimerCanceled, ev)

	if !persistent {
		return nil
	}
	o.markDirty()
	if ctx == nil {
		ctx = context.Background()
	}
	return s.flushOwner(ctx, o)
}

// ActiveTimers returns copies of the owner's non-terminal timers ordered by
// next expiration.
func (s *Service) ActiveTimers(name string) ([]*timer.Record, error) {
	s.mu.Lock()
	o := s.owners[name]
	s.mu.Unlock()
	if o == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOwner, name)
	}
	out := []*timer.Record{}
	for _, r := range o.records() {
		if !r.State.Terminal() {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Next.Equal(out[j].Next) {
			return out[i].ID < out[j].ID
		}
		return out[i].Next.Before(out[j].Next)
	})
	return out, nil
}

// Get returns a copy of a live timer or one kept as an unresolved tombstone.
func (s *Service) Get(id string) (*timer.Record, error) {
	s.mu.Lock()
	e := s.index[id]
	s.mu.Unlock()
	if e == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTimer, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Clone(), nil
}

// records returns copies of every timer the owner holds.
func (o *owner) records() []*timer.Record {
	o.mu.Lock()
	entries := make([]*entry, 0, len(o.entries))
	for _, e := range o.entries {
		entries = append(entries, e)
	}
	o.mu.Unlock()

	out := make([]*timer.Record, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.rec.Clone())
		e.mu.Unlock()
	}
	return out
}

func describe(r *timer.Record) string {
	if r.Kind == timer.Calendar {
		return r.Calendar.String()
	}
	if r.Interval == 0 {
		return "once"
	}
	return "every " + r.Interval.String()
}
