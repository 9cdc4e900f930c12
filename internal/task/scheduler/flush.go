package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"chronod/internal/timer"
	logx "chronod/pkg/logx"
)

// flushDirty is the cron job: it saves every owner with unsaved changes.
func (s *Service) flushDirty() {
	s.mu.Lock()
	owners := s.ownerList()
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), defaultSaveTimeout)
	defer cancel()
	_ = s.flush(ctx, owners)
}

func (s *Service) flush(ctx context.Context, owners []*owner) error {
	var errs []error
	for _, o := range owners {
		if !o.dirty.Load() {
			continue
		}
		if err := s.flushOwner(ctx, o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// flushOwner writes the owner's persistent timers. On failure the owner stays
// dirty so the next tick retries.
func (s *Service) flushOwner(ctx context.Context, o *owner) error {
	if s.store == nil {
		o.dirty.Store(false)
		return nil
	}
	o.saveMu.Lock()
	defer o.saveMu.Unlock()

	o.dirty.Store(false)
	recs := o.persistable()
	if err := s.store.Save(ctx, o.name, recs); err != nil {
		o.markDirty()
		if s.warn.Allow("save:" + o.name) {
			s.log.Warn("timer save failed; will retry", logx.String("owner", o.name), logx.Int("timers", len(recs)), logx.Err(err))
		}
		return fmt.Errorf("scheduler: save %q: %w", o.name, err)
	}
	s.warn.Forget("save:" + o.name)
	s.log.Trace("timers saved", logx.String("owner", o.name), logx.Int("timers", len(recs)))
	return nil
}

// persistable returns the records the store keeps: persistent timers that are
// live, plus unresolved tombstones.
func (o *owner) persistable() []*timer.Record {
	var out []*timer.Record
	for _, r := range o.records() {
		if !r.Persistent {
			continue
		}
		if r.State.Terminal() && !r.Unresolved {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
