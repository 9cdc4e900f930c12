package calendar

import "time"

// maxIterations bounds the carry loop so impossible schedules (Feb 30,
// years that never come) terminate.
const maxIterations = 200000

// Next returns the first instant strictly after `after` (at whole-second
// resolution) that matches the expression and lies within its bounds.
// ok is false when no such instant exists.
func (e *Expression) Next(after time.Time) (time.Time, bool) {
	loc := e.loc
	t := after.In(loc).Truncate(time.Second).Add(time.Second)
	if start := e.spec.Start; !start.IsZero() && t.Before(start) {
		s := start.Truncate(time.Second)
		if s.Before(start) {
			s = s.Add(time.Second)
		}
		t = s.In(loc)
	}
	end := e.spec.End

	var (
		sec    = e.fields[Second]
		minute = e.fields[Minute]
		hour   = e.fields[Hour]
		month  = e.fields[Month]
		year   = e.fields[Year]
	)

	for i := 0; i < maxIterations; i++ {
		if !end.IsZero() && t.After(end) {
			return time.Time{}, false
		}
		y, mo, d := t.Date()
		h, mi, s := t.Clock()
		if y > maxYear {
			return time.Time{}, false
		}

		ny, ok := year.NextMatch(y)
		if !ok || ny < y {
			return time.Time{}, false
		}
		if ny > y {
			t = step(t, time.Date(ny, time.January, 1, 0, 0, 0, 0, loc))
			continue
		}

		nm, ok := month.NextMatch(int(mo))
		if !ok {
			return time.Time{}, false
		}
		if nm < int(mo) {
			t = step(t, time.Date(y+1, time.January, 1, 0, 0, 0, 0, loc))
			continue
		}
		if nm > int(mo) {
			t = step(t, time.Date(y, time.Month(nm), 1, 0, 0, 0, 0, loc))
			continue
		}

		nd, ok := e.nextDay(y, mo, d)
		if !ok {
			t = step(t, time.Date(y, mo+1, 1, 0, 0, 0, 0, loc))
			continue
		}
		if nd > d {
			t = step(t, time.Date(y, mo, nd, 0, 0, 0, 0, loc))
			continue
		}

		nh, ok := hour.NextMatch(h)
		if !ok {
			return time.Time{}, false
		}
		if nh < h {
			t = step(t, time.Date(y, mo, d+1, 0, 0, 0, 0, loc))
			continue
		}
		if nh > h {
			t = step(t, time.Date(y, mo, d, nh, 0, 0, 0, loc))
			continue
		}

		nmi, ok := minute.NextMatch(mi)
		if !ok {
			return time.Time{}, false
		}
		if nmi < mi {
			t = step(t, time.Date(y, mo, d, h+1, 0, 0, 0, loc))
			continue
		}
		if nmi > mi {
			t = step(t, time.Date(y, mo, d, h, nmi, 0, 0, loc))
			continue
		}

		ns, ok := sec.NextMatch(s)
		if !ok {
			return time.Time{}, false
		}
		if ns < s {
			t = step(t, time.Date(y, mo, d, h, mi+1, 0, 0, loc))
			continue
		}
		if ns > s {
			t = step(t, time.Date(y, mo, d, h, mi, ns, 0, loc))
			continue
		}

		if !end.IsZero() && t.After(end) {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}

// step moves the candidate forward. Around DST fall-back a wall-clock date can
// resolve to an instant at or before the current candidate; in that case the
// search advances by one second so it stays strictly increasing.
func step(cur, next time.Time) time.Time {
	if !next.After(cur) {
		return cur.Add(time.Second)
	}
	return next
}

// nextDay returns the first day >= d in the month that satisfies the
// day-of-month and day-of-week fields.
func (e *Expression) nextDay(y int, mo time.Month, d int) (int, bool) {
	dim := DaysIn(y, mo)
	for day := d; day <= dim; day++ {
		if e.dayMatches(y, mo, day, dim) {
			return day, true
		}
	}
	return 0, false
}

func (e *Expression) dayMatches(y int, mo time.Month, day, dim int) bool {
	dom := e.fields[DayOfMonth]
	dow := e.fields[DayOfWeek]
	wd := int(time.Date(y, mo, day, 12, 0, 0, 0, time.UTC).Weekday())

	domOK := dom.MatchesDay(day, dim)
	dowOK := dow.Matches(wd)
	if !dom.IsWildcard() && !dow.IsWildcard() {
		return domOK || dowOK
	}
	return domOK && dowOK
}

// DaysIn returns the number of days in the month (leap-year aware).
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// IsLeap reports whether year is a leap year in the proleptic Gregorian calendar.
func IsLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}
