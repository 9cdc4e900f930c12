package calendar

import (
	"sort"
	"strconv"
	"strings"
)

// Grammar is the syntactic form a field was written in.
type Grammar int

const (
	Wildcard Grammar = iota
	SingleValue
	List
	Range
	Increment
)

func (g Grammar) String() string {
	switch g {
	case Wildcard:
		return "wildcard"
	case SingleValue:
		return "single"
	case List:
		return "list"
	case Range:
		return "range"
	case Increment:
		return "increment"
	default:
		return "unknown"
	}
}

// Field is one parsed calendar field. It is immutable once constructed.
type Field struct {
	kind    FieldKind
	text    string
	grammar Grammar

	values  []int // sorted, unique, canonical absolute values
	offsets []int // day-of-month only: sorted unique negative offsets from the last day
	last    bool  // day-of-month only: matches the last day of the month
}

// token is one resolved element of a field.
type token struct {
	value  int
	offset int // < 0 for "-N"
	last   bool
}

func (t token) relative() bool { return t.offset < 0 || t.last }

// ParseField parses text for the given field kind.
func ParseField(kind FieldKind, text string) (*Field, error) {
	if kind < 0 || int(kind) >= len(descriptors) {
		return nil, invalidf("field", text, "unknown field kind %d", int(kind))
	}
	d := descriptors[kind]
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return nil, invalidf(d.name, text, "empty")
	}
	f := &Field{kind: kind, text: strings.TrimSpace(text)}

	if s == "*" {
		f.grammar = Wildcard
		return f, nil
	}

	var toks []token
	var err error
	switch {
	case strings.Contains(s, "/"):
		if !d.increment {
			return nil, invalidf(d.name, text, "increments are not supported")
		}
		f.grammar = Increment
		toks, err = parseIncrement(d, s)
	case strings.Contains(s, ","):
		f.grammar = List
		for _, part := range strings.Split(s, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				return nil, invalidf(d.name, text, "empty list element")
			}
			var ts []token
			if isRange(part) {
				ts, err = parseRange(d, part)
			} else {
				ts, err = parseSingle(d, part)
			}
			if err != nil {
				return nil, err
			}
			toks = append(toks, ts...)
		}
	case isRange(s):
		f.grammar = Range
		toks, err = parseRange(d, s)
	default:
		f.grammar = SingleValue
		toks, err = parseSingle(d, s)
	}
	if err != nil {
		return nil, err
	}

	f.collect(d, toks)
	return f, nil
}

// MustParseField is ParseField for static expressions; it panics on error.
func MustParseField(kind FieldKind, text string) *Field {
	f, err := ParseField(kind, text)
	if err != nil {
		panic(err)
	}
	return f
}

func (f *Field) collect(d descriptor, toks []token) {
	seen := map[int]bool{}
	seenOff := map[int]bool{}
	for _, t := range toks {
		switch {
		case t.last:
			f.last = true
		case t.offset < 0:
			if !seenOff[t.offset] {
				seenOff[t.offset] = true
				f.offsets = append(f.offsets, t.offset)
			}
		default:
			v := d.norm(t.value)
			if !seen[v] {
				seen[v] = true
				f.values = append(f.values, v)
			}
		}
	}
	sort.Ints(f.values)
	sort.Ints(f.offsets)
}

// isRange reports whether s is "a-b". A leading '-' belongs to a relative
// day-of-month value, not to a range.
func isRange(s string) bool {
	return len(s) > 1 && strings.Contains(s[1:], "-")
}

func parseSingle(d descriptor, s string) ([]token, error) {
	t, err := parseInt(d, s)
	if err != nil {
		return nil, err
	}
	return []token{t}, nil
}

func parseRange(d descriptor, s string) ([]token, error) {
	i := strings.Index(s[1:], "-") + 1
	lo, err := parseInt(d, strings.TrimSpace(s[:i]))
	if err != nil {
		return nil, err
	}
	hi, err := parseInt(d, strings.TrimSpace(s[i+1:]))
	if err != nil {
		return nil, err
	}
	if lo.relative() {
		return nil, invalidf(d.name, s, "range must start with an absolute value")
	}
	if hi.offset < 0 {
		return nil, invalidf(d.name, s, "range cannot end with a relative offset")
	}
	if hi.last {
		// "N-last": every day from N; days past the month length never match.
		hi = token{value: d.max}
	}

	var out []token
	if lo.value <= hi.value {
		for v := lo.value; v <= hi.value; v++ {
			out = append(out, token{value: v})
		}
		return out, nil
	}
	// Wrap-around range, e.g. "fri-mon" or "22-2".
	for v := lo.value; v <= d.max; v++ {
		out = append(out, token{value: v})
	}
	for v := d.min; v <= hi.value; v++ {
		out = append(out, token{value: v})
	}
	return out, nil
}

func parseIncrement(d descriptor, s string) ([]token, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return nil, invalidf(d.name, s, "malformed increment")
	}
	start := d.min
	if p := strings.TrimSpace(parts[0]); p != "*" {
		t, err := parseInt(d, p)
		if err != nil {
			return nil, err
		}
		if t.relative() {
			return nil, invalidf(d.name, s, "increment start must be absolute")
		}
		start = t.value
	}
	step, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || step <= 0 {
		return nil, invalidf(d.name, s, "increment step must be a positive integer")
	}
	var out []token
	for v := start; v <= d.max; v += step {
		out = append(out, token{value: v})
	}
	return out, nil
}

// parseInt resolves one element: an integer, a relative day-of-month form,
// or an alias from the field's table.
func parseInt(d descriptor, s string) (token, error) {
	if s == "" {
		return token{}, invalidf(d.name, s, "empty value")
	}
	if s == "last" {
		if !d.relative {
			return token{}, invalidf(d.name, s, "relative values are not supported")
		}
		return token{last: true}, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			if !d.relative {
				return token{}, invalidf(d.name, s, "relative values are not supported")
			}
			if n < -(d.max - 1) {
				return token{}, invalidf(d.name, s, "offset out of range [-%d,-1]", d.max-1)
			}
			return token{offset: n}, nil
		}
		if n < d.min || n > d.max {
			return token{}, invalidf(d.name, s, "value out of range [%d,%d]", d.min, d.max)
		}
		return token{value: n}, nil
	}
	if v, ok := d.aliases[s]; ok {
		return token{value: v}, nil
	}
	return token{}, invalidf(d.name, s, "unrecognized value")
}

// Kind returns the field kind.
func (f *Field) Kind() FieldKind { return f.kind }

// Text returns the original text.
func (f *Field) Text() string { return f.text }

// Grammar returns the form the field was written in.
func (f *Field) Grammar() Grammar { return f.grammar }

// IsWildcard reports whether the field places no constraint.
func (f *Field) IsWildcard() bool { return f.grammar == Wildcard }

// Values returns a copy of the absolute matches.
func (f *Field) Values() []int { return append([]int(nil), f.values...) }

// Offsets returns a copy of the relative "-N" day-of-month markers.
func (f *Field) Offsets() []int { return append([]int(nil), f.offsets...) }

// Last reports whether the day-of-month field matches the last day.
func (f *Field) Last() bool { return f.last }

// First returns the smallest value the field can match.
func (f *Field) First() int {
	d := descriptors[f.kind]
	if f.IsWildcard() || len(f.values) == 0 {
		return d.lowest()
	}
	return f.values[0]
}

// Matches reports whether v satisfies the field. Relative day-of-month
// markers are ignored; use MatchesDay for those.
func (f *Field) Matches(v int) bool {
	if f.IsWildcard() {
		return true
	}
	v = descriptors[f.kind].norm(v)
	i := sort.SearchInts(f.values, v)
	return i < len(f.values) && f.values[i] == v
}

// MatchesDay reports whether day matches a day-of-month field in a month of
// daysInMonth days.
func (f *Field) MatchesDay(day, daysInMonth int) bool {
	if day < 1 || day > daysInMonth {
		return false
	}
	if f.IsWildcard() {
		return true
	}
	if f.last && day == daysInMonth {
		return true
	}
	for _, off := range f.offsets {
		if daysInMonth+off == day {
			return true
		}
	}
	return f.Matches(day)
}

// NextMatch returns the first absolute value >= current, wrapping to the
// smallest value when current is past every value. A wildcard returns current
// unchanged. ok is false when the field has no absolute values.
func (f *Field) NextMatch(current int) (int, bool) {
	if f.IsWildcard() {
		return current, true
	}
	if len(f.values) == 0 {
		return 0, false
	}
	i := sort.SearchInts(f.values, current)
	if i < len(f.values) {
		return f.values[i], true
	}
	return f.values[0], true
}

// NextDay is NextMatch for day-of-month with relative markers resolved
// against a month of daysInMonth days.
func (f *Field) NextDay(current, daysInMonth int) (int, bool) {
	if f.IsWildcard() {
		if current > daysInMonth {
			return 1, true
		}
		return current, true
	}
	days := make([]int, 0, len(f.values)+len(f.offsets)+1)
	for _, v := range f.values {
		if v <= daysInMonth {
			days = append(days, v)
		}
	}
	for _, off := range f.offsets {
		if d := daysInMonth + off; d >= 1 {
			days = append(days, d)
		}
	}
	if f.last {
		days = append(days, daysInMonth)
	}
	if len(days) == 0 {
		return 0, false
	}
	sort.Ints(days)
	for _, d := range days {
		if d >= current {
			return d, true
		}
	}
	return days[0], true
}

// String renders the normalized matcher. Parsing the result yields an
// equivalent field.
func (f *Field) String() string {
	if f.IsWildcard() {
		return "*"
	}
	parts := make([]string, 0, len(f.values)+len(f.offsets)+1)
	for _, v := range f.values {
		parts = append(parts, strconv.Itoa(v))
	}
	for _, off := range f.offsets {
		parts = append(parts, strconv.Itoa(off))
	}
	if f.last {
		parts = append(parts, "last")
	}
	return strings.Join(parts, ",")
}

// Equal reports whether two fields match exactly the same values.
func (f *Field) Equal(o *Field) bool {
	if f == nil || o == nil {
		return f == o
	}
	if f.kind != o.kind || f.IsWildcard() != o.IsWildcard() || f.last != o.last {
		return false
	}
	return equalInts(f.values, o.values) && equalInts(f.offsets, o.offsets)
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
