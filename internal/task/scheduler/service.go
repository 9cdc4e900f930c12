package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"chronod/internal/eventbus"
	"chronod/internal/storage"
	"chronod/internal/task/engine"
	"chronod/internal/timer"
	logx "chronod/pkg/logx"

	"github.com/robfig/cron/v3"
)

// New returns a stopped service. store may be nil, in which case timers live
// only in memory.
func New(cfg Config, eng *engine.Service, store storage.Store, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg.withDefaults(),
		log:    log,
		bus:    bus,
		engine: eng,
		store:  store,
		warn:   logx.NewThrottle(warnThrottle),
		owners: map[string]*owner{},
		index:  map[string]*entry{},
	}
}

// Apply updates the configuration. A new timezone applies to timers created
// afterwards; a new flush interval reschedules the flusher.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if s.c == nil || old.FlushInterval == cfg.FlushInterval {
		return
	}
	s.c.Remove(s.flushID)
	id, err := s.c.AddFunc("@every "+cfg.FlushInterval.String(), s.flushDirty)
	if err != nil {
		s.log.Error("flush job register failed", logx.Duration("interval", cfg.FlushInterval), logx.Err(err))
		return
	}
	s.flushID = id
	s.log.Debug("flush interval changed", logx.Duration("from", old.FlushInterval), logx.Duration("to", cfg.FlushInterval))
}

// Register adds an owner and its callback. Registering an existing owner
// replaces the callback. When the service is running the owner's timers are
// loaded immediately, otherwise on Start.
func (s *Service) Register(name string, cb Callback) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("scheduler: owner name required")
	}
	if cb == nil {
		return errors.New("scheduler: callback required")
	}
	s.mu.Lock()
	if o, ok := s.owners[name]; ok {
		s.mu.Unlock()
		o.mu.Lock()
		o.cb = cb
		o.mu.Unlock()
		return nil
	}
	o := newOwner(name, cb)
	s.owners[name] = o
	ctx := s.ctx
	s.mu.Unlock()

	if ctx == nil {
		return nil
	}
	return s.startOwner(ctx, o)
}

// Start starts the engine and the flusher, then loads every registered
// owner's timers (migrating legacy records once) and arms them.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return nil
	}
	cfg := s.cfg
	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithLocation(time.UTC))
	id, err := c.AddFunc("@every "+cfg.FlushInterval.String(), s.flushDirty)
	if err != nil {
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("scheduler: flush job: %w", err)
	}
	s.ctx, s.cancel = runCtx, cancel
	s.c, s.flushID = c, id
	owners := s.ownerList()
	s.mu.Unlock()

	if s.engine != nil {
		s.engine.Start(ctx)
	}
	c.Start()

	var errs []error
	for _, o := range owners {
		if err := s.startOwner(runCtx, o); err != nil {
			errs = append(errs, err)
		}
	}
	s.log.Info("scheduler started",
		logx.String("tz", s.timezone()),
		logx.Int("owners", len(owners)),
		logx.Duration("flush_interval", cfg.FlushInterval),
		logx.Bool("persistent", s.store != nil))
	return errors.Join(errs...)
}

// Stop stops the owner loops, lets in-flight callbacks finish within the
// shutdown grace, then writes every dirty owner a final time.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	s.mu.Lock()
	if s.ctx == nil {
		s.mu.Unlock()
		return
	}
	cancel, c, grace := s.cancel, s.c, s.cfg.ShutdownGrace
	s.ctx, s.cancel, s.c = nil, nil, nil
	owners := s.ownerList()
	s.mu.Unlock()
	s.log.Info("stop requested")

	cancel()
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.loops.Wait()
	for _, o := range owners {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}

	if s.engine != nil {
		graceCtx, cancelGrace := context.WithTimeout(ctx, grace)
		s.engine.Stop(graceCtx)
		cancelGrace()
	}

	flushCtx, cancelFlush := context.WithTimeout(context.WithoutCancel(ctx), defaultSaveTimeout)
	defer cancelFlush()
	if err := s.flush(flushCtx, owners); err != nil {
		s.log.Error("final timer flush failed", logx.Err(err))
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// startOwner replaces the owner's in-memory timers with the stored ones and
// starts its loop.
func (s *Service) startOwner(ctx context.Context, o *owner) error {
	var recs []*timer.Record
	if s.store != nil {
		var err error
		recs, err = s.store.MigrateLegacy(ctx, o.name)
		if err != nil {
			s.log.Error("timer load failed", logx.String("owner", o.name), logx.Err(err))
			return fmt.Errorf("scheduler: load %q: %w", o.name, err)
		}
	}

	now := time.Now()
	entries := make(map[string]*entry, len(recs))
	var (
		pending    timerHeap
		restored   []eventbus.TimerEvent
		tombstones int
		dropped    int
	)
	for _, r := range recs {
		if r.State == timer.InTimeout {
			_ = r.AbortTimeout()
		}
		if r.State.Terminal() {
			if r.Unresolved {
				entries[r.ID] = &entry{owner: o, rec: r, opts: optionsOf(r)}
				tombstones++
			} else {
				dropped++
			}
			continue
		}
		if err := r.Schedule(now); err != nil || r.State != timer.Active {
			dropped++
			continue
		}
		entries[r.ID] = &entry{owner: o, rec: r, opts: optionsOf(r)}
		heapPush(&pending, pendingTimer{id: r.ID, at: r.Next})
		restored = append(restored, eventbus.TimerEvent{
			Owner: o.name, TimerID: r.ID, Kind: r.Kind.String(), State: r.State.String(), Next: r.Next,
		})
	}

	o.mu.Lock()
	old := o.entries
	o.entries = entries
	o.pending = pending
	o.running = true
	o.mu.Unlock()
	if dropped > 0 {
		o.markDirty()
	}

	s.mu.Lock()
	for id := range old {
		delete(s.index, id)
	}
	for id, e := range entries {
		s.index[id] = e
	}
	s.mu.Unlock()

	s.loops.Add(1)
	go s.run(ctx, o)

	for _, ev := range restored {
		s.publish(eventbus.TimerRestored, ev)
	}
	s.log.Info("owner timers loaded",
		logx.String("owner", o.name),
		logx.Int("active", len(restored)),
		logx.Int("tombstones", tombstones),
		logx.Int("dropped", dropped))
	return nil
}

func optionsOf(r *timer.Record) TimerOptions {
	return TimerOptions{Transient: !r.Persistent, Repeats: r.Repeats, Target: r.Target}
}

// ownerList returns owners sorted by name. Call with s.mu held.
func (s *Service) ownerList() []*owner {
	out := make([]*owner, 0, len(s.owners))
	for _, o := range s.owners {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func (s *Service) unindex(id string) {
	s.mu.Lock()
	delete(s.index, id)
	s.mu.Unlock()
}

func (s *Service) timezone() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		return tz
	}
	return time.Local.String()
}
