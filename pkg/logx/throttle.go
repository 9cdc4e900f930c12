package logx

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle rate limits repeated log lines per key (e.g. one warning per owner
// every few seconds while a store keeps failing).
type Throttle struct {
	every time.Duration

	mu   sync.Mutex
	lims map[string]*rate.Limiter
}

func NewThrottle(every time.Duration) *Throttle {
	if every <= 0 {
		every = 5 * time.Second
	}
	return &Throttle{every: every, lims: map[string]*rate.Limiter{}}
}

// Allow reports whether a line for key may be written now.
func (t *Throttle) Allow(key string) bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	lim := t.lims[key]
	if lim == nil {
		lim = rate.NewLimiter(rate.Every(t.every), 1)
		t.lims[key] = lim
	}
	t.mu.Unlock()
	return lim.Allow()
}

// Forget drops the limiter for key (e.g. after the condition cleared).
func (t *Throttle) Forget(key string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	delete(t.lims, key)
	t.mu.Unlock()
}
