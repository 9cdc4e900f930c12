package timer

import (
	"errors"
	"testing"
	"time"

	"chronod/internal/calendar"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestIntervalLifecycle(t *testing.T) {
	t.Parallel()
	r, err := NewInterval("billing", t0.Add(time.Minute), 10*time.Minute, "payload")
	if err != nil {
		t.Fatalf("NewInterval: %v", err)
	}
	if r.ID == "" || r.State != Created {
		t.Fatalf("new record: id=%q state=%s", r.ID, r.State)
	}
	if err := r.Schedule(t0); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if r.State != Active || !r.Next.Equal(t0.Add(time.Minute)) {
		t.Fatalf("after Schedule: state=%s next=%s", r.State, r.Next)
	}

	if err := r.BeginTimeout(); err != nil {
		t.Fatalf("BeginTimeout: %v", err)
	}
	if err := r.BeginTimeout(); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("double BeginTimeout error = %v", err)
	}
	st, err := r.EndTimeout(t0.Add(time.Minute + time.Second))
	if err != nil || st != Active {
		t.Fatalf("EndTimeout = %s, %v", st, err)
	}
	if want := t0.Add(11 * time.Minute); !r.Next.Equal(want) {
		t.Fatalf("Next = %s, want %s", r.Next, want)
	}
	if !r.Previous.Equal(t0.Add(time.Minute)) || r.Fired != 1 {
		t.Fatalf("Previous=%s Fired=%d", r.Previous, r.Fired)
	}
}

func TestIntervalCoalescesMissedFires(t *testing.T) {
	t.Parallel()
	r, _ := NewInterval("o", t0, time.Hour, nil)
	_ = r.Schedule(t0)
	_ = r.BeginTimeout()
	// The process was down for a bit over five hours.
	now := t0.Add(5*time.Hour + 10*time.Minute)
	if _, err := r.EndTimeout(now); err != nil {
		t.Fatalf("EndTimeout: %v", err)
	}
	if want := t0.Add(6 * time.Hour); !r.Next.Equal(want) {
		t.Fatalf("Next = %s, want %s", r.Next, want)
	}
}

func TestSingleActionTimerExpires(t *testing.T) {
	t.Parallel()
	r, _ := NewInterval("o", t0, 0, nil)
	_ = r.Schedule(t0)
	_ = r.BeginTimeout()
	st, err := r.EndTimeout(t0)
	if err != nil || st != Expired || !r.Next.IsZero() {
		t.Fatalf("EndTimeout = %s, %v, next=%s", st, err, r.Next)
	}
	if err := r.Cancel(); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("Cancel on expired = %v", err)
	}
}

func TestIntervalRepeatBound(t *testing.T) {
	t.Parallel()
	r, _ := NewInterval("o", t0, time.Second, nil)
	r.Repeats = 3
	_ = r.Schedule(t0)
	now := t0
	for i := 1; i <= 3; i++ {
		if err := r.BeginTimeout(); err != nil {
			t.Fatalf("fire %d: %v", i, err)
		}
		st, _ := r.EndTimeout(now)
		now = now.Add(time.Second)
		if i < 3 && st != Active {
			t.Fatalf("fire %d: state %s", i, st)
		}
		if i == 3 && st != Expired {
			t.Fatalf("fire 3: state %s, want EXPIRED", st)
		}
	}
	if r.Fired != 3 {
		t.Fatalf("Fired = %d", r.Fired)
	}
}

func TestCancelDuringTimeoutNeverRearms(t *testing.T) {
	t.Parallel()
	r, _ := NewInterval("o", t0, time.Minute, nil)
	_ = r.Schedule(t0)
	_ = r.BeginTimeout()
	if err := r.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	st, err := r.EndTimeout(t0.Add(time.Second))
	if err != nil || st != Canceled || r.State != Canceled || !r.Next.IsZero() {
		t.Fatalf("EndTimeout after cancel = %s, %v (state=%s next=%s)", st, err, r.State, r.Next)
	}
	if err := r.Schedule(t0); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("Schedule on canceled = %v", err)
	}
}

func TestCalendarLifecycle(t *testing.T) {
	t.Parallel()
	spec := calendar.Spec{Hour: "9", Timezone: "UTC", End: time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)}
	r, err := NewCalendar("reports", spec, nil, t0)
	if err != nil {
		t.Fatalf("NewCalendar: %v", err)
	}
	if want := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC); !r.Initial.Equal(want) {
		t.Fatalf("Initial = %s, want %s", r.Initial, want)
	}
	_ = r.Schedule(t0)
	_ = r.BeginTimeout()
	st, _ := r.EndTimeout(r.Next.Add(2 * time.Second))
	if st != Active || !r.Next.Equal(time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("after first fire: %s next=%s", st, r.Next)
	}
	_ = r.BeginTimeout()
	st, _ = r.EndTimeout(r.Previous)
	if st != Expired {
		t.Fatalf("past end bound: state %s, want EXPIRED", st)
	}
}

func TestCalendarRejectsBadSpec(t *testing.T) {
	t.Parallel()
	_, err := NewCalendar("o", calendar.Spec{Minute: "61"}, nil, t0)
	if !errors.Is(err, calendar.ErrInvalidExpression) {
		t.Fatalf("error = %v", err)
	}
}

func TestScheduleNeverFiringExpires(t *testing.T) {
	t.Parallel()
	r, err := NewCalendar("o", calendar.Spec{Year: "2020", Timezone: "UTC"}, nil, t0)
	if err != nil {
		t.Fatalf("NewCalendar: %v", err)
	}
	if err := r.Schedule(t0); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if r.State != Expired {
		t.Fatalf("state = %s, want EXPIRED", r.State)
	}
}

func TestRestoredRecordKeepsMissedExpiration(t *testing.T) {
	t.Parallel()
	r := &Record{ID: "x", Kind: Interval, Interval: time.Hour, Initial: t0, Next: t0.Add(time.Hour), State: Active}
	if err := r.Schedule(t0.Add(48 * time.Hour)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if !r.Next.Equal(t0.Add(time.Hour)) {
		t.Fatalf("Next = %s; missed expiration should fire once", r.Next)
	}
}

func TestMarkUnresolvedAndClone(t *testing.T) {
	t.Parallel()
	r := &Record{ID: "x", Kind: Calendar, State: Active, Target: &Target{DeclaringType: "Billing", Method: "close", Params: []string{"Timer"}}}
	c := r.Clone()
	c.Target.Params[0] = "changed"
	if r.Target.Params[0] != "Timer" {
		t.Fatal("Clone shares Target params")
	}
	r.MarkUnresolved()
	if r.State != Canceled || !r.Unresolved {
		t.Fatalf("tombstone: state=%s unresolved=%v", r.State, r.Unresolved)
	}
	if got := c.Target.String(); got != "Billing.close(changed)" {
		t.Fatalf("Target.String = %q", got)
	}
}

func TestParseState(t *testing.T) {
	t.Parallel()
	for _, s := range []State{Created, Active, InTimeout, Canceled, Expired} {
		got, err := ParseState(s.String())
		if err != nil || got != s {
			t.Fatalf("ParseState(%q) = %s, %v", s.String(), got, err)
		}
	}
	if _, err := ParseState("sleeping"); err == nil {
		t.Fatal("expected error for unknown state")
	}
}

func TestAbortTimeoutKeepsExpiration(t *testing.T) {
	t.Parallel()
	r, _ := NewInterval("o", t0.Add(time.Minute), time.Minute, nil)
	_ = r.Schedule(t0)
	due := r.Next
	if err := r.AbortTimeout(); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("AbortTimeout on ACTIVE = %v", err)
	}
	_ = r.BeginTimeout()
	if err := r.AbortTimeout(); err != nil {
		t.Fatalf("AbortTimeout: %v", err)
	}
	if r.State != Active || !r.Next.Equal(due) || r.Fired != 0 || !r.Previous.IsZero() {
		t.Fatalf("after abort: state=%s next=%s fired=%d previous=%s", r.State, r.Next, r.Fired, r.Previous)
	}
}
