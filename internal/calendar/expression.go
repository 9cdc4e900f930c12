package calendar

import (
	"fmt"
	"strings"
	"time"
)

// Spec is the textual form of a calendar schedule.
//
// Empty Second, Minute and Hour default to "0"; every other empty field
// defaults to "*". Start and End are inclusive; the zero time means unbounded.
type Spec struct {
	Second     string
	Minute     string
	Hour       string
	DayOfMonth string
	Month      string
	DayOfWeek  string
	Year       string

	Timezone string
	Start    time.Time
	End      time.Time
}

// WithDefaults fills empty fields.
func (s Spec) WithDefaults() Spec {
	def := func(v, d string) string {
		if strings.TrimSpace(v) == "" {
			return d
		}
		return strings.TrimSpace(v)
	}
	s.Second = def(s.Second, "0")
	s.Minute = def(s.Minute, "0")
	s.Hour = def(s.Hour, "0")
	s.DayOfMonth = def(s.DayOfMonth, "*")
	s.Month = def(s.Month, "*")
	s.DayOfWeek = def(s.DayOfWeek, "*")
	s.Year = def(s.Year, "*")
	s.Timezone = strings.TrimSpace(s.Timezone)
	return s
}

// String renders "second minute hour day-of-month month day-of-week year".
func (s Spec) String() string {
	s = s.WithDefaults()
	out := strings.Join([]string{s.Second, s.Minute, s.Hour, s.DayOfMonth, s.Month, s.DayOfWeek, s.Year}, " ")
	if s.Timezone != "" {
		out += " tz=" + s.Timezone
	}
	return out
}

func (s Spec) text(kind FieldKind) string {
	switch kind {
	case Second:
		return s.Second
	case Minute:
		return s.Minute
	case Hour:
		return s.Hour
	case DayOfMonth:
		return s.DayOfMonth
	case Month:
		return s.Month
	case DayOfWeek:
		return s.DayOfWeek
	case Year:
		return s.Year
	}
	return ""
}

// Expression is a parsed calendar schedule. It is immutable and safe for
// concurrent use.
type Expression struct {
	spec   Spec
	fields [len(descriptors)]*Field
	loc    *time.Location
}

// NewExpression parses every field of spec and resolves its time zone.
func NewExpression(spec Spec) (*Expression, error) {
	spec = spec.WithDefaults()
	e := &Expression{spec: spec}
	for k := range descriptors {
		f, err := ParseField(FieldKind(k), spec.text(FieldKind(k)))
		if err != nil {
			return nil, err
		}
		e.fields[k] = f
	}

	e.loc = time.Local
	if spec.Timezone != "" {
		loc, err := time.LoadLocation(spec.Timezone)
		if err != nil {
			return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidExpression, spec.Timezone, err)
		}
		e.loc = loc
	}
	if !spec.Start.IsZero() && !spec.End.IsZero() && spec.End.Before(spec.Start) {
		return nil, fmt.Errorf("%w: end %s is before start %s", ErrInvalidExpression,
			spec.End.Format(time.RFC3339), spec.Start.Format(time.RFC3339))
	}
	return e, nil
}

// MustExpression is NewExpression for static schedules; it panics on error.
func MustExpression(spec Spec) *Expression {
	e, err := NewExpression(spec)
	if err != nil {
		panic(err)
	}
	return e
}

// Spec returns the normalized textual form the expression was built from.
func (e *Expression) Spec() Spec { return e.spec }

// Field returns the parsed field of the given kind.
func (e *Expression) Field(kind FieldKind) *Field { return e.fields[kind] }

// Location returns the zone all calendar arithmetic runs in.
func (e *Expression) Location() *time.Location { return e.loc }

// Start returns the inclusive lower bound (zero if unbounded).
func (e *Expression) Start() time.Time { return e.spec.Start }

// End returns the inclusive upper bound (zero if unbounded).
func (e *Expression) End() time.Time { return e.spec.End }

func (e *Expression) String() string { return e.spec.String() }
