package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"chronod/internal/calendar"
	"chronod/internal/timer"
	logx "chronod/pkg/logx"
)

const (
	legacyExt = ".timers"
	markerExt = ".migrated"
)

// legacyRecord is one item of a "<owner>.timers" CBOR sequence, the format
// written before per-owner XML documents. It stays private to this file.
type legacyRecord struct {
	ID         string   `cbor:"1,keyasint"`
	Kind       uint8    `cbor:"2,keyasint"` // 0 single action, 1 interval, 2 calendar
	State      string   `cbor:"3,keyasint"` // C, A, T, X (canceled), E (expired)
	Initial    int64    `cbor:"4,keyasint"` // unix milliseconds
	Next       int64    `cbor:"5,keyasint,omitempty"`
	Previous   int64    `cbor:"6,keyasint,omitempty"`
	IntervalMS int64    `cbor:"7,keyasint,omitempty"`
	Schedule   string   `cbor:"8,keyasint,omitempty"` // "sec min hour dom month dow [year]"
	Timezone   string   `cbor:"9,keyasint,omitempty"`
	Start      int64    `cbor:"10,keyasint,omitempty"`
	End        int64    `cbor:"11,keyasint,omitempty"`
	Info       []byte   `cbor:"12,keyasint,omitempty"`
	Target     []string `cbor:"13,keyasint,omitempty"` // declaring type, method, param types...
	Persistent bool     `cbor:"14,keyasint"`
}

const (
	legacySingle uint8 = iota
	legacyInterval
	legacyCalendar
)

// errLegacyTerminal marks legacy records that have nothing left to migrate.
var errLegacyTerminal = errors.New("terminal legacy record")

// documentStore is what migration needs from a driver.
type documentStore interface {
	Load(ctx context.Context, owner string) ([]*timer.Record, error)
	Save(ctx context.Context, owner string, records []*timer.Record) error
}

type legacySource struct {
	dir  string
	opts Options
}

func (l legacySource) path(owner, ext string) string {
	return filepath.Join(l.dir, url.PathEscape(owner)+ext)
}

func (l legacySource) migrated(owner string) (bool, error) {
	_, err := os.Stat(l.path(owner, markerExt))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (l legacySource) markDone(owner string) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return err
	}
	stamp := time.Now().UTC().Format(time.RFC3339) + "\n"
	return os.WriteFile(l.path(owner, markerExt), []byte(stamp), 0o600)
}

// read decodes the owner's legacy file. found is false when there is none.
// Items that do not decode or adapt are logged and skipped.
func (l legacySource) read(owner string) (records []*timer.Record, found bool, err error) {
	f, err := os.Open(l.path(owner, legacyExt))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	log := l.opts.Log.With(logx.String("owner", owner), logx.String("file", f.Name()))
	dec := decMode.NewDecoder(f)
	for item := 0; ; item++ {
		var raw cbor.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn("legacy stream truncated", logx.Int("item", item), logx.Err(err))
			}
			break
		}
		var lr legacyRecord
		if err := decMode.Unmarshal(raw, &lr); err != nil {
			log.Warn("legacy record skipped", logx.Int("item", item), logx.Err(err))
			continue
		}
		r, err := l.adapt(owner, lr)
		if errors.Is(err, errLegacyTerminal) {
			log.Debug("legacy record already finished", logx.String("timer", lr.ID), logx.String("state", lr.State))
			continue
		}
		if err != nil {
			log.Warn("legacy record skipped", logx.Int("item", item), logx.String("timer", lr.ID), logx.Err(err))
			continue
		}
		records = append(records, r)
	}
	return records, true, nil
}

func (l legacySource) adapt(owner string, lr legacyRecord) (*timer.Record, error) {
	if lr.ID == "" {
		return nil, errors.New("missing id")
	}
	r := &timer.Record{
		ID:         lr.ID,
		Owner:      owner,
		Initial:    fromMillis(lr.Initial),
		Next:       fromMillis(lr.Next),
		Previous:   fromMillis(lr.Previous),
		Persistent: lr.Persistent,
	}
	switch lr.State {
	case "C":
		r.State = timer.Created
	case "A", "T":
		// A dispatch interrupted by the old process fires again.
		r.State = timer.Active
	case "X", "E":
		return nil, errLegacyTerminal
	default:
		return nil, fmt.Errorf("unknown state %q", lr.State)
	}

	switch lr.Kind {
	case legacySingle, legacyInterval:
		r.Kind = timer.Interval
		if lr.Kind == legacyInterval {
			if lr.IntervalMS <= 0 {
				return nil, fmt.Errorf("interval timer with interval %dms", lr.IntervalMS)
			}
			r.Interval = time.Duration(lr.IntervalMS) * time.Millisecond
		}
		if r.Initial.IsZero() {
			return nil, errors.New("missing initial expiration")
		}
	case legacyCalendar:
		r.Kind = timer.Calendar
		fields := strings.Fields(lr.Schedule)
		if len(fields) == 6 {
			fields = append(fields, "*")
		}
		if len(fields) != 7 {
			return nil, fmt.Errorf("schedule %q: want 6 or 7 fields", lr.Schedule)
		}
		r.Calendar = calendar.Spec{
			Second:     fields[0],
			Minute:     fields[1],
			Hour:       fields[2],
			DayOfMonth: fields[3],
			Month:      fields[4],
			DayOfWeek:  fields[5],
			Year:       fields[6],
			Timezone:   lr.Timezone,
			Start:      fromMillis(lr.Start),
			End:        fromMillis(lr.End),
		}
		if _, err := r.Expression(); err != nil {
			return nil, err
		}
		if len(lr.Target) >= 2 {
			r.Target = &timer.Target{DeclaringType: lr.Target[0], Method: lr.Target[1], Params: append([]string(nil), lr.Target[2:]...)}
			if l.opts.Resolver != nil && !l.opts.Resolver(owner, *r.Target) {
				r.MarkUnresolved()
				l.opts.Log.Warn("legacy timer target unresolved", logx.String("owner", owner), logx.String("timer", r.ID),
					logx.Err(fmt.Errorf("%w: %s", ErrUnresolvedCallbackTarget, r.Target)))
			}
		}
	default:
		return nil, fmt.Errorf("unknown kind %d", lr.Kind)
	}

	if len(lr.Info) > 0 {
		v, err := l.opts.Serializer.Unmarshal(lr.Info)
		if err != nil {
			l.opts.Log.Warn("legacy timer info dropped", logx.String("owner", owner), logx.String("timer", r.ID),
				logx.Err(fmt.Errorf("%w: %v", ErrPersistenceCorruption, err)))
		} else {
			r.Info = v
		}
	}
	return r, nil
}

// migrateLegacy is MigrateLegacy for any driver. The marker is written only
// after the merged document is saved.
func migrateLegacy(ctx context.Context, st documentStore, src legacySource, owner string) ([]*timer.Record, error) {
	current, err := st.Load(ctx, owner)
	if err != nil {
		return nil, err
	}
	done, err := src.migrated(owner)
	if err != nil {
		return nil, err
	}
	if done {
		return current, nil
	}
	legacy, found, err := src.read(owner)
	if err != nil {
		return nil, fmt.Errorf("read legacy timers of %q: %w", owner, err)
	}
	if !found {
		return current, nil
	}

	merged, added := mergeByID(current, legacy)
	if err := st.Save(ctx, owner, merged); err != nil {
		return nil, err
	}
	if err := src.markDone(owner); err != nil {
		return nil, fmt.Errorf("write migration marker for %q: %w", owner, err)
	}
	src.opts.Log.Info("legacy timers migrated", logx.String("owner", owner), logx.Int("migrated", added), logx.Int("total", len(merged)))
	return merged, nil
}

// mergeByID appends legacy records whose id is not already present.
func mergeByID(current, legacy []*timer.Record) ([]*timer.Record, int) {
	seen := make(map[string]bool, len(current))
	out := make([]*timer.Record, 0, len(current)+len(legacy))
	for _, r := range current {
		seen[r.ID] = true
		out = append(out, r)
	}
	added := 0
	for _, r := range legacy {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
		added++
	}
	return out, added
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
