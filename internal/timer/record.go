package timer

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"chronod/internal/calendar"
)

// Record is one timer. Next and Previous use the zero time for "none".
type Record struct {
	ID    string
	Owner string
	Kind  Kind

	// Calendar is the schedule of a calendar timer.
	Calendar calendar.Spec
	// Interval is the repeat period of an interval timer; 0 means the timer
	// fires once at Initial.
	Interval time.Duration
	// Repeats bounds how many times an interval timer fires; 0 is unbounded.
	Repeats int
	Fired   int

	Initial  time.Time
	Next     time.Time
	Previous time.Time

	Info       any
	Persistent bool
	State      State

	// Target is set on auto-created calendar timers.
	Target *Target
	// Unresolved marks a tombstone whose Target no longer resolves.
	Unresolved bool

	expr *calendar.Expression
}

// NewInterval returns a CREATED interval timer first due at initial.
func NewInterval(owner string, initial time.Time, interval time.Duration, info any) (*Record, error) {
	if interval < 0 {
		return nil, fmt.Errorf("timer: negative interval %s", interval)
	}
	if initial.IsZero() {
		return nil, fmt.Errorf("timer: initial expiration required")
	}
	return &Record{
		ID:         uuid.NewString(),
		Owner:      owner,
		Kind:       Interval,
		Interval:   interval,
		Initial:    initial,
		Info:       info,
		Persistent: true,
		State:      Created,
	}, nil
}

// NewCalendar parses spec and returns a CREATED calendar timer. Initial is the
// first fire after now, or zero when the schedule never fires.
func NewCalendar(owner string, spec calendar.Spec, info any, now time.Time) (*Record, error) {
	expr, err := calendar.NewExpression(spec)
	if err != nil {
		return nil, err
	}
	r := &Record{
		ID:         uuid.NewString(),
		Owner:      owner,
		Kind:       Calendar,
		Calendar:   expr.Spec(),
		Info:       info,
		Persistent: true,
		State:      Created,
		expr:       expr,
	}
	if first, ok := expr.Next(now); ok {
		r.Initial = first
	}
	return r, nil
}

// Expression returns the parsed schedule of a calendar timer.
func (r *Record) Expression() (*calendar.Expression, error) {
	if r.Kind != Calendar {
		return nil, fmt.Errorf("timer %s: not a calendar timer", r.ID)
	}
	if r.expr == nil {
		expr, err := calendar.NewExpression(r.Calendar)
		if err != nil {
			return nil, err
		}
		r.expr = expr
	}
	return r.expr, nil
}

// Clone returns a deep copy safe to hand out of the owning goroutine. Info is
// shared; it is treated as immutable.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Target != nil {
		t := r.Target.clone()
		c.Target = &t
	}
	return &c
}

// Schedule arms the timer. It accepts CREATED records and ACTIVE records
// reloaded from the store. A loaded record whose Next is already past keeps
// it, so the missed expirations fire once.
func (r *Record) Schedule(now time.Time) error {
	if r.State != Created && r.State != Active {
		return illegal(r.State, "schedule")
	}
	if r.Next.IsZero() {
		next, ok := r.first(now)
		if !ok {
			r.State = Expired
			return nil
		}
		r.Next = next
	}
	r.State = Active
	return nil
}

// first is the initial expiration for a timer that has none yet.
func (r *Record) first(now time.Time) (time.Time, bool) {
	switch r.Kind {
	case Calendar:
		if !r.Initial.IsZero() && r.Previous.IsZero() {
			return r.Initial, true
		}
		after := r.Previous
		if after.IsZero() {
			after = now
		}
		return r.NextAfter(after)
	default:
		if r.Repeats > 0 && r.Fired >= r.Repeats {
			return time.Time{}, false
		}
		if r.Previous.IsZero() {
			return r.Initial, true
		}
		return r.NextAfter(r.Previous)
	}
}

// BeginTimeout marks the due expiration (Next) as being dispatched.
func (r *Record) BeginTimeout() error {
	if r.State != Active {
		return illegal(r.State, "begin timeout")
	}
	r.State = InTimeout
	return nil
}

// AbortTimeout returns a dispatch that never ran to ACTIVE with Next
// unchanged, so the same expiration fires again. Records stored while
// IN_TIMEOUT are recovered the same way on load.
func (r *Record) AbortTimeout() error {
	if r.State != InTimeout {
		return illegal(r.State, "abort timeout")
	}
	r.State = Active
	return nil
}

// EndTimeout completes a dispatch and re-arms the timer, or expires it when
// there is no further expiration. A record canceled while its callback ran
// stays CANCELED. The callback's outcome does not matter here.
func (r *Record) EndTimeout(now time.Time) (State, error) {
	switch r.State {
	case InTimeout:
	case Canceled:
		return Canceled, nil
	default:
		return r.State, illegal(r.State, "end timeout")
	}
	r.Fired++
	r.Previous = r.Next

	var (
		next time.Time
		ok   bool
	)
	switch r.Kind {
	case Calendar:
		after := r.Previous
		if now.After(after) {
			after = now
		}
		next, ok = r.NextAfter(after)
	default:
		if r.Interval > 0 && (r.Repeats == 0 || r.Fired < r.Repeats) {
			next, ok = r.NextAfter(now)
		}
	}
	if !ok {
		r.State = Expired
		r.Next = time.Time{}
		return Expired, nil
	}
	r.Next = next
	r.State = Active
	return Active, nil
}

// Cancel moves a non-terminal timer to CANCELED.
func (r *Record) Cancel() error {
	if r.State.Terminal() {
		return illegal(r.State, "cancel")
	}
	r.State = Canceled
	r.Next = time.Time{}
	return nil
}

// MarkUnresolved turns the record into a CANCELED tombstone.
func (r *Record) MarkUnresolved() {
	r.Unresolved = true
	r.State = Canceled
	r.Next = time.Time{}
}

// NextAfter returns the first scheduled expiration strictly after t, ignoring
// state and repeat bounds. Interval timers land on Initial + k*Interval, so
// expirations missed while the process was down collapse into one.
func (r *Record) NextAfter(t time.Time) (time.Time, bool) {
	if r.Kind == Calendar {
		expr, err := r.Expression()
		if err != nil {
			return time.Time{}, false
		}
		return expr.Next(t)
	}
	if r.Initial.After(t) {
		return r.Initial, true
	}
	if r.Interval <= 0 {
		return time.Time{}, false
	}
	k := t.Sub(r.Initial)/r.Interval + 1
	return r.Initial.Add(k * r.Interval), true
}

// Remaining is the time until Next, or 0 when Next is past or unset.
func (r *Record) Remaining(now time.Time) time.Duration {
	if r.Next.IsZero() || !r.Next.After(now) {
		return 0
	}
	return r.Next.Sub(now)
}
