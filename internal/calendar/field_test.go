package calendar

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseFieldGrammar(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		kind    FieldKind
		text    string
		grammar Grammar
		values  []int
	}{
		{name: "wildcard", kind: Minute, text: "*", grammar: Wildcard},
		{name: "single", kind: Hour, text: "9", grammar: SingleValue, values: []int{9}},
		{name: "list", kind: Hour, text: "17, 9", grammar: List, values: []int{9, 17}},
		{name: "range", kind: Minute, text: "10-13", grammar: Range, values: []int{10, 11, 12, 13}},
		{name: "increment star", kind: Minute, text: "*/15", grammar: Increment, values: []int{0, 15, 30, 45}},
		{name: "increment offset", kind: Second, text: "5/20", grammar: Increment, values: []int{5, 25, 45}},
		{name: "list of ranges", kind: DayOfMonth, text: "1-3,10,20-21", grammar: List, values: []int{1, 2, 3, 10, 20, 21}},
		{name: "month aliases", kind: Month, text: "Jan-Mar", grammar: Range, values: []int{1, 2, 3}},
		{name: "day aliases", kind: DayOfWeek, text: "mon,WED", grammar: List, values: []int{1, 3}},
		{name: "wrapping day range", kind: DayOfWeek, text: "fri-mon", grammar: Range, values: []int{0, 1, 5, 6}},
		{name: "seven is sunday", kind: DayOfWeek, text: "7", grammar: SingleValue, values: []int{0}},
		{name: "wrapping hour range", kind: Hour, text: "22-1", grammar: Range, values: []int{0, 1, 22, 23}},
		{name: "year", kind: Year, text: "2024,2026", grammar: List, values: []int{2024, 2026}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseField(tt.kind, tt.text)
			if err != nil {
				t.Fatalf("ParseField(%s, %q) error: %v", tt.kind, tt.text, err)
			}
			if f.Grammar() != tt.grammar {
				t.Fatalf("Grammar = %v, want %v", f.Grammar(), tt.grammar)
			}
			if got := f.Values(); len(tt.values) > 0 && !reflect.DeepEqual(got, tt.values) {
				t.Fatalf("Values = %v, want %v", got, tt.values)
			}
		})
	}
}

func TestParseFieldRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		kind FieldKind
		text string
	}{
		{Minute, "60"},
		{Hour, "-1"},
		{Second, ""},
		{Minute, "1,,2"},
		{Minute, "last"},
		{DayOfWeek, "*/2"},
		{Month, "*/3"},
		{Year, "*/2"},
		{Year, "1969"},
		{Month, "foo"},
		{DayOfWeek, "8"},
		{DayOfMonth, "0"},
		{DayOfMonth, "32"},
		{DayOfMonth, "-31"},
		{DayOfMonth, "last-5"},
		{DayOfMonth, "5--3"},
		{Minute, "*/0"},
		{Minute, "1/2/3"},
	}
	for _, tt := range tests {
		_, err := ParseField(tt.kind, tt.text)
		if err == nil {
			t.Fatalf("ParseField(%s, %q): expected error", tt.kind, tt.text)
		}
		if !errors.Is(err, ErrInvalidExpression) {
			t.Fatalf("ParseField(%s, %q): error %v does not wrap ErrInvalidExpression", tt.kind, tt.text, err)
		}
	}
}

func TestDayOfMonthRelative(t *testing.T) {
	t.Parallel()
	f := MustParseField(DayOfMonth, "last")
	if !f.Last() || len(f.Values()) != 0 {
		t.Fatalf("last: Last=%v Values=%v", f.Last(), f.Values())
	}
	if d, ok := f.NextDay(1, 29); !ok || d != 29 {
		t.Fatalf("NextDay(1, 29) = %d,%v, want 29", d, ok)
	}

	f = MustParseField(DayOfMonth, "-1")
	if got := f.Offsets(); !reflect.DeepEqual(got, []int{-1}) {
		t.Fatalf("Offsets = %v", got)
	}
	if d, ok := f.NextDay(1, 28); !ok || d != 27 {
		t.Fatalf("NextDay(1, 28) = %d,%v, want 27", d, ok)
	}
	if !f.MatchesDay(29, 30) || f.MatchesDay(30, 30) {
		t.Fatal("-1 should match the day before the last day only")
	}

	f = MustParseField(DayOfMonth, "31")
	if _, ok := f.NextDay(1, 30); ok {
		t.Fatal("31 must not match in a 30-day month")
	}

	f = MustParseField(DayOfMonth, "28-last")
	if d, ok := f.NextDay(29, 29); !ok || d != 29 {
		t.Fatalf("28-last NextDay(29, 29) = %d,%v", d, ok)
	}
	if f.MatchesDay(30, 29) {
		t.Fatal("day past the month length must not match")
	}
}

func TestNextMatchWraps(t *testing.T) {
	t.Parallel()
	f := MustParseField(Hour, "9,17")
	cases := []struct{ in, want int }{
		{0, 9}, {9, 9}, {10, 17}, {17, 17}, {18, 9}, {23, 9},
	}
	for _, c := range cases {
		got, ok := f.NextMatch(c.in)
		if !ok || got != c.want {
			t.Fatalf("NextMatch(%d) = %d,%v, want %d", c.in, got, ok, c.want)
		}
	}

	w := MustParseField(Minute, "*")
	if got, ok := w.NextMatch(42); !ok || got != 42 {
		t.Fatalf("wildcard NextMatch(42) = %d,%v", got, ok)
	}
	if w.First() != 0 {
		t.Fatalf("wildcard First = %d", w.First())
	}

	rel := MustParseField(DayOfMonth, "last")
	if _, ok := rel.NextMatch(3); ok {
		t.Fatal("relative-only day-of-month has no absolute next match")
	}
}

func TestNextMatchWrapProperty(t *testing.T) {
	t.Parallel()
	texts := map[FieldKind][]string{
		Second:     {"0", "5/20", "1,2,59"},
		Minute:     {"*/7", "30-40"},
		Hour:       {"22-1", "9,17"},
		DayOfMonth: {"1,15", "10-20"},
		Month:      {"jan,jul", "3-5"},
		DayOfWeek:  {"mon-fri", "sun"},
		Year:       {"2024,2030"},
	}
	for kind, list := range texts {
		for _, text := range list {
			f := MustParseField(kind, text)
			vals := f.Values()
			lo, hi := vals[0], vals[len(vals)-1]
			if got, _ := f.NextMatch(hi + 1); got != lo {
				t.Fatalf("%s %q: NextMatch(%d) = %d, want wrap to %d", kind, text, hi+1, got, lo)
			}
			if got, _ := f.NextMatch(lo); got != lo {
				t.Fatalf("%s %q: NextMatch(%d) = %d, want %d", kind, text, lo, got, lo)
			}
			if got, _ := f.NextMatch(lo - 1); got != lo {
				t.Fatalf("%s %q: NextMatch(%d) = %d, want %d", kind, text, lo-1, got, lo)
			}
		}
	}
}

func TestFieldStringIdempotent(t *testing.T) {
	t.Parallel()
	texts := map[FieldKind][]string{
		Second:     {"*", "0", "*/10", "5/20", "1,2,3"},
		Minute:     {"0-59", "15,45"},
		Hour:       {"22-2", "9"},
		DayOfMonth: {"last", "-3", "1,-2,last", "15-last", "*/5"},
		Month:      {"feb", "jan-mar,dec"},
		DayOfWeek:  {"7", "sat-sun", "mon-fri"},
		Year:       {"2024-2026", "*"},
	}
	for kind, list := range texts {
		for _, text := range list {
			f := MustParseField(kind, text)
			g, err := ParseField(kind, f.String())
			if err != nil {
				t.Fatalf("%s %q: reparse of %q failed: %v", kind, text, f.String(), err)
			}
			if !f.Equal(g) {
				t.Fatalf("%s %q: reparse of %q is not equivalent", kind, text, f.String())
			}
			if g.String() != f.String() {
				t.Fatalf("%s %q: String not stable: %q vs %q", kind, text, f.String(), g.String())
			}
		}
	}
}

func TestValuesReturnsCopy(t *testing.T) {
	t.Parallel()
	f := MustParseField(Minute, "1,2,3")
	v := f.Values()
	v[0] = 42
	if f.Values()[0] != 1 {
		t.Fatal("Values must not expose internal storage")
	}
}
