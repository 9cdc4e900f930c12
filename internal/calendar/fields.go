package calendar

// FieldKind identifies one of the seven calendar fields.
type FieldKind int

const (
	Second FieldKind = iota
	Minute
	Hour
	DayOfMonth
	Month
	DayOfWeek
	Year
)

func (k FieldKind) String() string {
	if k < 0 || int(k) >= len(descriptors) {
		return "unknown"
	}
	return descriptors[k].name
}

// descriptor is the capability set of one field kind.
type descriptor struct {
	name      string
	min       int
	max       int
	increment bool
	relative  bool
	aliases   map[string]int
	// normalize maps a validated value onto its canonical representation
	// (day-of-week 7 -> 0). Nil means identity.
	normalize func(int) int
}

func (d descriptor) norm(v int) int {
	if d.normalize == nil {
		return v
	}
	return d.normalize(v)
}

// lowest is the smallest canonical value of the field.
func (d descriptor) lowest() int {
	if d.normalize != nil {
		return d.normalize(d.max) // 7 -> 0 for day-of-week
	}
	return d.min
}

const (
	minYear = 1970
	maxYear = 9999
)

// Alias tables are built once and never mutated.
var (
	dayAliases = map[string]int{
		"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
	}
	monthAliases = map[string]int{
		"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
		"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
	}
)

var descriptors = [...]descriptor{
	Second:     {name: "second", min: 0, max: 59, increment: true},
	Minute:     {name: "minute", min: 0, max: 59, increment: true},
	Hour:       {name: "hour", min: 0, max: 23, increment: true},
	DayOfMonth: {name: "day-of-month", min: 1, max: 31, increment: true, relative: true},
	Month:      {name: "month", min: 1, max: 12, aliases: monthAliases},
	DayOfWeek: {name: "day-of-week", min: 0, max: 7, aliases: dayAliases, normalize: func(v int) int {
		return v % 7
	}},
	Year: {name: "year", min: minYear, max: maxYear},
}
