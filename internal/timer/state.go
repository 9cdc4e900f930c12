package timer

import (
	"errors"
	"fmt"
	"strings"
)

// ErrIllegalTransition is returned when a lifecycle method is called in a
// state that does not allow it.
var ErrIllegalTransition = errors.New("timer: illegal state transition")

// Kind distinguishes fixed-interval timers from calendar timers.
type Kind int

const (
	Interval Kind = iota
	Calendar
)

func (k Kind) String() string {
	switch k {
	case Interval:
		return "interval"
	case Calendar:
		return "calendar"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// State is a lifecycle state.
type State int

const (
	Created State = iota
	Active
	InTimeout
	Canceled
	Expired
)

var stateNames = [...]string{
	Created:   "CREATED",
	Active:    "ACTIVE",
	InTimeout: "IN_TIMEOUT",
	Canceled:  "CANCELED",
	Expired:   "EXPIRED",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("STATE(%d)", int(s))
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool { return s == Canceled || s == Expired }

// ParseState is the inverse of State.String. Matching is case-insensitive.
func ParseState(v string) (State, error) {
	v = strings.ToUpper(strings.TrimSpace(v))
	for i, name := range stateNames {
		if name == v {
			return State(i), nil
		}
	}
	return 0, fmt.Errorf("timer: unknown state %q", v)
}

func illegal(from State, op string) error {
	return fmt.Errorf("%w: %s from %s", ErrIllegalTransition, op, from)
}
