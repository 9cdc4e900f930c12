package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"chronod/internal/eventbus"
	"chronod/internal/storage"
	"chronod/internal/task/engine"
	"chronod/internal/timer"
	logx "chronod/pkg/logx"

	"github.com/robfig/cron/v3"
)

var (
	// ErrCallbackFailure wraps errors returned by owner callbacks in logs and
	// timer.failed events.
	ErrCallbackFailure = errors.New("scheduler: callback failed")
	ErrUnknownTimer    = errors.New("scheduler: unknown timer")
	ErrUnknownOwner    = errors.New("scheduler: unknown owner")
	ErrNotStarted      = errors.New("scheduler: not started")
)

const (
	defaultFlushInterval = 2 * time.Second
	defaultShutdownGrace = 10 * time.Second
	defaultSaveTimeout   = 10 * time.Second
	warnThrottle         = 5 * time.Second
)

// Config controls the timer service.
type Config struct {
	// Timezone is used by calendar timers that do not name one. Empty means
	// the process's local zone.
	Timezone      string
	FlushInterval time.Duration
	ShutdownGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = defaultShutdownGrace
	}
	return c
}

// Callback is invoked for every expiration of an owner's timers. A returned
// error is logged and published but does not change when the timer fires next.
type Callback func(ctx context.Context, id string, info any) error

// TimerOptions tunes a single timer.
type TimerOptions struct {
	// Transient timers are never written to the store.
	Transient bool
	// Repeats bounds how many times an interval timer fires; 0 is unbounded.
	Repeats int
	// Target records the method an auto-created calendar timer calls.
	Target *timer.Target
	// Timeout bounds one callback run; 0 uses the engine default.
	Timeout time.Duration
	// RetryMax overrides the engine's retry count for callback errors.
	RetryMax int
}

// Service is the timer service.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	bus    eventbus.Bus
	engine *engine.Service
	store  storage.Store
	warn   *logx.Throttle

	owners map[string]*owner
	index  map[string]*entry

	ctx     context.Context
	cancel  context.CancelFunc
	c       *cron.Cron
	flushID cron.EntryID
	loops   sync.WaitGroup
}

// owner groups one owner's timers. mu guards entries and the heap.
type owner struct {
	name string
	cb   Callback

	mu      sync.Mutex
	entries map[string]*entry
	pending timerHeap
	wake    chan struct{}
	running bool

	dirty  atomic.Bool
	saveMu sync.Mutex
}

// entry is one live timer. mu guards rec; every state transition happens
// under it.
type entry struct {
	owner *owner

	mu   sync.Mutex
	rec  *timer.Record
	opts TimerOptions
	run  engine.RunState
}

// TimerInfo describes one timer in a Snapshot.
type TimerInfo struct {
	ID         string    `json:"id"`
	Owner      string    `json:"owner"`
	Kind       string    `json:"kind"`
	State      string    `json:"state"`
	Schedule   string    `json:"schedule"`
	Next       time.Time `json:"next"`
	Previous   time.Time `json:"previous"`
	Fired      int       `json:"fired"`
	Persistent bool      `json:"persistent"`
	Unresolved bool      `json:"unresolved,omitempty"`
}

// OwnerInfo summarizes one owner in a Snapshot.
type OwnerInfo struct {
	Name    string    `json:"name"`
	Running bool      `json:"running"`
	Dirty   bool      `json:"dirty"`
	Timers  int       `json:"timers"`
	Pending int       `json:"pending"`
	Next    time.Time `json:"next"`
}

// Snapshot is a diagnostic view of the service and its executor.
type Snapshot struct {
	Timezone      string        `json:"timezone"`
	FlushInterval time.Duration `json:"flush_interval"`
	Persistence   bool          `json:"persistence"`

	Owners []OwnerInfo `json:"owners"`
	Timers []TimerInfo `json:"timers"`

	// Executor diagnostics (task engine).
	Workers        int                  `json:"workers"`
	InFlight       int                  `json:"in_flight"`
	QueueLen       int                  `json:"queue_len"`
	QueueCap       int                  `json:"queue_cap"`
	Dropped        uint64               `json:"dropped"`
	DroppedStale   uint64               `json:"dropped_stale"`
	DefaultTimeout time.Duration        `json:"default_timeout"`
	RetryMax       int                  `json:"retry_max"`
	RetryBase      time.Duration        `json:"retry_base"`
	RetryMaxDelay  time.Duration        `json:"retry_max_delay"`
	RetryJitter    float64              `json:"retry_jitter"`
	History        []engine.HistoryItem `json:"history"`
}
