package storage

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"time"

	"chronod/internal/calendar"
	"chronod/internal/timer"
)

// documentVersion is written to every document. Version 1 was the CBOR
// record file handled by legacy.go.
const documentVersion = 2

type xmlDocument struct {
	XMLName  xml.Name           `xml:"timers"`
	Version  int                `xml:"version,attr"`
	Owner    string             `xml:"owner,attr"`
	Interval []xmlIntervalTimer `xml:"timer"`
	Calendar []xmlCalendarTimer `xml:"calendar-timer"`
}

type xmlCommon struct {
	ID         string `xml:"id,attr"`
	State      string `xml:"state,attr"`
	Persistent bool   `xml:"persistent,attr"`
	Initial    string `xml:"initial,attr,omitempty"`
	Next       string `xml:"next,attr,omitempty"`
	Previous   string `xml:"previous,attr,omitempty"`
	Fired      int    `xml:"fired,attr,omitempty"`
	Info       string `xml:"info,omitempty"`
}

type xmlIntervalTimer struct {
	xmlCommon
	Interval string `xml:"interval,attr,omitempty"`
	Repeats  int    `xml:"repeats,attr,omitempty"`
}

type xmlCalendarTimer struct {
	xmlCommon
	Second     string `xml:"second,attr"`
	Minute     string `xml:"minute,attr"`
	Hour       string `xml:"hour,attr"`
	DayOfMonth string `xml:"day-of-month,attr"`
	Month      string `xml:"month,attr"`
	DayOfWeek  string `xml:"day-of-week,attr"`
	Year       string `xml:"year,attr"`
	Timezone   string `xml:"timezone,attr,omitempty"`
	Start      string `xml:"start,attr,omitempty"`
	End        string `xml:"end,attr,omitempty"`
	Unresolved bool   `xml:"unresolved,attr,omitempty"`

	TimeoutMethod *xmlTimeoutMethod `xml:"timeout-method"`
}

type xmlTimeoutMethod struct {
	DeclaringType string     `xml:"declaring-type,attr"`
	Name          string     `xml:"name,attr"`
	Params        []xmlParam `xml:"param"`
}

type xmlParam struct {
	Type string `xml:"type,attr"`
}

// encodeDocument renders the owner's records. Info payloads that fail to
// serialize abort the write; a partial document would lose state silently.
func encodeDocument(owner string, records []*timer.Record, ser Serializer) ([]byte, error) {
	doc := xmlDocument{Version: documentVersion, Owner: owner}
	for _, r := range records {
		if r == nil {
			continue
		}
		common := xmlCommon{
			ID:         r.ID,
			State:      r.State.String(),
			Persistent: r.Persistent,
			Initial:    formatTime(r.Initial),
			Next:       formatTime(r.Next),
			Previous:   formatTime(r.Previous),
			Fired:      r.Fired,
		}
		if r.Info != nil {
			b, err := ser.Marshal(r.Info)
			if err != nil {
				return nil, fmt.Errorf("timer %s: encode info: %w", r.ID, err)
			}
			common.Info = base64.StdEncoding.EncodeToString(b)
		}

		switch r.Kind {
		case timer.Calendar:
			spec := r.Calendar.WithDefaults()
			ct := xmlCalendarTimer{
				xmlCommon:  common,
				Second:     spec.Second,
				Minute:     spec.Minute,
				Hour:       spec.Hour,
				DayOfMonth: spec.DayOfMonth,
				Month:      spec.Month,
				DayOfWeek:  spec.DayOfWeek,
				Year:       spec.Year,
				Timezone:   spec.Timezone,
				Start:      formatTime(spec.Start),
				End:        formatTime(spec.End),
				Unresolved: r.Unresolved,
			}
			if r.Target != nil {
				tm := &xmlTimeoutMethod{DeclaringType: r.Target.DeclaringType, Name: r.Target.Method}
				for _, p := range r.Target.Params {
					tm.Params = append(tm.Params, xmlParam{Type: p})
				}
				ct.TimeoutMethod = tm
			}
			doc.Calendar = append(doc.Calendar, ct)
		default:
			it := xmlIntervalTimer{xmlCommon: common, Repeats: r.Repeats}
			if r.Interval > 0 {
				it.Interval = r.Interval.String()
			}
			doc.Interval = append(doc.Interval, it)
		}
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), append(out, '\n')...), nil
}

// decodeDocument parses a document. Structural errors fail the whole
// document. Per-record problems are returned as issues: a corrupt info
// payload yields a record with nil Info, an unresolved target yields a
// CANCELED tombstone.
func decodeDocument(owner string, data []byte, opts Options) ([]*timer.Record, []error, error) {
	var doc xmlDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("decode timers of %q: %w", owner, err)
	}
	if doc.Version > documentVersion {
		return nil, nil, fmt.Errorf("decode timers of %q: unsupported version %d", owner, doc.Version)
	}

	var (
		records []*timer.Record
		issues  []error
	)
	for _, it := range doc.Interval {
		r, err := decodeCommon(owner, it.xmlCommon)
		if err != nil {
			issues = append(issues, err)
			continue
		}
		r.Kind = timer.Interval
		r.Repeats = it.Repeats
		if it.Interval != "" {
			d, err := time.ParseDuration(it.Interval)
			if err != nil {
				issues = append(issues, fmt.Errorf("timer %s: interval %q: %w", it.ID, it.Interval, err))
				continue
			}
			r.Interval = d
		}
		if issue := decodeInfo(r, it.Info, opts.Serializer); issue != nil {
			issues = append(issues, issue)
		}
		records = append(records, r)
	}

	for _, ct := range doc.Calendar {
		r, err := decodeCommon(owner, ct.xmlCommon)
		if err != nil {
			issues = append(issues, err)
			continue
		}
		r.Kind = timer.Calendar
		r.Unresolved = ct.Unresolved
		spec := calendar.Spec{
			Second:     ct.Second,
			Minute:     ct.Minute,
			Hour:       ct.Hour,
			DayOfMonth: ct.DayOfMonth,
			Month:      ct.Month,
			DayOfWeek:  ct.DayOfWeek,
			Year:       ct.Year,
			Timezone:   ct.Timezone,
		}
		var terr error
		if spec.Start, terr = parseTime(ct.Start); terr == nil {
			spec.End, terr = parseTime(ct.End)
		}
		if terr != nil {
			issues = append(issues, fmt.Errorf("timer %s: bounds: %w", ct.ID, terr))
			continue
		}
		r.Calendar = spec
		if _, err := r.Expression(); err != nil {
			issues = append(issues, fmt.Errorf("timer %s: %w", ct.ID, err))
			continue
		}
		if tm := ct.TimeoutMethod; tm != nil {
			target := timer.Target{DeclaringType: tm.DeclaringType, Method: tm.Name}
			for _, p := range tm.Params {
				target.Params = append(target.Params, p.Type)
			}
			r.Target = &target
			if !r.Unresolved && opts.Resolver != nil && !opts.Resolver(owner, target) {
				r.MarkUnresolved()
				issues = append(issues, fmt.Errorf("%w: timer %s target %s", ErrUnresolvedCallbackTarget, r.ID, target))
			}
		}
		if issue := decodeInfo(r, ct.Info, opts.Serializer); issue != nil {
			issues = append(issues, issue)
		}
		records = append(records, r)
	}
	return records, issues, nil
}

func decodeCommon(owner string, c xmlCommon) (*timer.Record, error) {
	if c.ID == "" {
		return nil, fmt.Errorf("timer without id in %q", owner)
	}
	state, err := timer.ParseState(c.State)
	if err != nil {
		return nil, fmt.Errorf("timer %s: %w", c.ID, err)
	}
	r := &timer.Record{
		ID:         c.ID,
		Owner:      owner,
		State:      state,
		Persistent: c.Persistent,
		Fired:      c.Fired,
	}
	for _, f := range []struct {
		dst *time.Time
		src string
	}{{&r.Initial, c.Initial}, {&r.Next, c.Next}, {&r.Previous, c.Previous}} {
		t, err := parseTime(f.src)
		if err != nil {
			return nil, fmt.Errorf("timer %s: %w", c.ID, err)
		}
		*f.dst = t
	}
	return r, nil
}

func decodeInfo(r *timer.Record, encoded string, ser Serializer) error {
	if encoded == "" {
		return nil
	}
	b, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("%w: timer %s: %v", ErrPersistenceCorruption, r.ID, err)
	}
	v, err := ser.Unmarshal(b)
	if err != nil {
		return fmt.Errorf("%w: timer %s: %v", ErrPersistenceCorruption, r.ID, err)
	}
	r.Info = v
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad time %q", s)
	}
	return t, nil
}
