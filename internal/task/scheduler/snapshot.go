package scheduler

import (
	"sort"

	"chronod/internal/task/engine"
)

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	owners := s.ownerList()
	eng := s.engine
	persistence := s.store != nil
	s.mu.Unlock()

	snap := Snapshot{
		Timezone:      cfg.Timezone,
		FlushInterval: cfg.FlushInterval,
		Persistence:   persistence,
	}
	if snap.Timezone == "" {
		snap.Timezone = s.timezone()
	}

	for _, o := range owners {
		o.mu.Lock()
		oi := OwnerInfo{Name: o.name, Running: o.running, Pending: o.pending.Len()}
		if o.pending.Len() > 0 {
			oi.Next = o.pending[0].at
		}
		o.mu.Unlock()
		oi.Dirty = o.dirty.Load()

		recs := o.records()
		oi.Timers = len(recs)
		sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
		for _, r := range recs {
			snap.Timers = append(snap.Timers, TimerInfo{
				ID:         r.ID,
				Owner:      r.Owner,
				Kind:       r.Kind.String(),
				State:      r.State.String(),
				Schedule:   describe(r),
				Next:       r.Next,
				Previous:   r.Previous,
				Fired:      r.Fired,
				Persistent: r.Persistent,
				Unresolved: r.Unresolved,
			})
		}
		snap.Owners = append(snap.Owners, oi)
	}

	retryMax := 0
	if eng != nil {
		es := eng.Snapshot()
		snap.Workers = es.Workers
		snap.InFlight = es.InFlight
		snap.QueueLen = es.QueueLen
		snap.QueueCap = es.QueueCap
		snap.Dropped = es.Dropped
		snap.DroppedStale = es.DroppedStale
		snap.DefaultTimeout = es.DefaultTimeout
		snap.History = es.History
		retryMax = es.RetryMax
	}

	// Surface effective retry defaults used by the executor.
	opt := engine.DefaultTaskOptions(engine.Config{RetryMax: retryMax})
	snap.RetryMax = opt.RetryMax
	snap.RetryBase = opt.RetryBase
	snap.RetryMaxDelay = opt.RetryMaxDelay
	snap.RetryJitter = opt.RetryJitter
	return snap
}
