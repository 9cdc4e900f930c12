package scheduler

import (
	"context"
	"time"
)

// maxSleepCap bounds one sleep so wall-clock jumps (suspend, NTP steps) are
// noticed within a minute.
const maxSleepCap = 60 * time.Second

func newOwner(name string, cb Callback) *owner {
	return &owner{
		name:    name,
		cb:      cb,
		entries: map[string]*entry{},
		wake:    make(chan struct{}, 1),
	}
}

// push schedules id at at, replacing any earlier slot for the same id.
func (o *owner) push(p pendingTimer) {
	o.mu.Lock()
	heapRemoveByID(&o.pending, p.id)
	heapPush(&o.pending, p)
	o.mu.Unlock()
	o.signal()
}

// remove drops the timer from the owner entirely.
func (o *owner) remove(id string) {
	o.mu.Lock()
	heapRemoveByID(&o.pending, id)
	delete(o.entries, id)
	o.mu.Unlock()
	o.signal()
}

func (o *owner) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *owner) lookup(id string) *entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.entries[id]
}

func (o *owner) callback() Callback {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cb
}

func (o *owner) markDirty() { o.dirty.Store(true) }

// due pops every slot whose instant has arrived.
func (o *owner) due(now time.Time) []pendingTimer {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []pendingTimer
	for o.pending.Len() > 0 && !o.pending[0].at.After(now) {
		out = append(out, heapPop(&o.pending))
	}
	return out
}

func (o *owner) nextDue() (time.Time, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending.Len() == 0 {
		return time.Time{}, false
	}
	return o.pending[0].at, true
}

// run sleeps until the owner's earliest expiration and dispatches what is
// due. It exits when ctx is canceled.
func (s *Service) run(ctx context.Context, o *owner) {
	defer s.loops.Done()

	var t *time.Timer
	defer func() {
		if t != nil {
			t.Stop()
		}
	}()

	resetTimer := func() <-chan time.Time {
		if t != nil {
			t.Stop()
		}
		next, ok := o.nextDue()
		if !ok {
			// Nothing pending; wait for a wake-up.
			return nil
		}
		dur := time.Until(next)
		if dur > maxSleepCap {
			dur = maxSleepCap
		}
		if dur < 0 {
			dur = 0
		}
		t = time.NewTimer(dur)
		return t.C
	}

	timerCh := resetTimer()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.wake:
		case <-timerCh:
			for _, p := range o.due(time.Now()) {
				if ctx.Err() != nil {
					return
				}
				s.fire(ctx, o, p)
			}
		}
		timerCh = resetTimer()
	}
}
