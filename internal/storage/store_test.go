package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
	_ "time/tzdata"

	"chronod/internal/calendar"
	"chronod/internal/timer"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func openDrivers(t *testing.T, opts Options) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{}
	for driver, path := range map[string]string{
		"file":   filepath.Join(dir, "timers"),
		"sqlite": filepath.Join(dir, "db", "chronod.db"),
	} {
		st, err := Open(Config{Driver: driver, Path: path, LegacyDir: filepath.Join(dir, "legacy-"+driver)}, opts)
		if err != nil {
			t.Fatalf("Open(%s): %v", driver, err)
		}
		t.Cleanup(func() { _ = st.Close() })
		out[driver] = st
	}
	return out
}

func sampleRecords(t *testing.T) []*timer.Record {
	t.Helper()
	iv, err := timer.NewInterval("billing", t0, time.Hour, map[string]any{"invoice": "A-1"})
	if err != nil {
		t.Fatal(err)
	}
	iv.Repeats = 5
	_ = iv.Schedule(t0)
	_ = iv.BeginTimeout()
	_, _ = iv.EndTimeout(t0.Add(time.Minute))

	spec := calendar.Spec{
		Hour:      "9",
		DayOfWeek: "mon-fri",
		Timezone:  "Europe/Berlin",
		Start:     t0,
		End:       t0.AddDate(1, 0, 0),
	}
	cal, err := timer.NewCalendar("billing", spec, "report", t0)
	if err != nil {
		t.Fatal(err)
	}
	cal.Target = &timer.Target{DeclaringType: "Billing", Method: "close", Params: []string{"Timer"}}
	_ = cal.Schedule(t0)

	single, _ := timer.NewInterval("billing", t0.Add(time.Hour), 0, nil)
	single.Persistent = false

	return []*timer.Record{iv, cal, single}
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()
	for driver, st := range openDrivers(t, Options{}) {
		want := sampleRecords(t)
		ctx := context.Background()
		if err := st.Save(ctx, "billing", want); err != nil {
			t.Fatalf("%s: Save: %v", driver, err)
		}
		got, err := st.Load(ctx, "billing")
		if err != nil {
			t.Fatalf("%s: Load: %v", driver, err)
		}
		if len(got) != len(want) {
			t.Fatalf("%s: loaded %d records, want %d", driver, len(got), len(want))
		}
		byID := map[string]*timer.Record{}
		for _, r := range got {
			byID[r.ID] = r
		}
		for _, w := range want {
			g := byID[w.ID]
			if g == nil {
				t.Fatalf("%s: record %s missing", driver, w.ID)
			}
			assertSameRecord(t, driver, w, g)
		}

		// Saving again replaces the document.
		if err := st.Save(ctx, "billing", want[:1]); err != nil {
			t.Fatalf("%s: Save: %v", driver, err)
		}
		got, _ = st.Load(ctx, "billing")
		if len(got) != 1 {
			t.Fatalf("%s: after replace loaded %d records", driver, len(got))
		}
	}
}

func assertSameRecord(t *testing.T, driver string, w, g *timer.Record) {
	t.Helper()
	if g.Owner != w.Owner || g.Kind != w.Kind || g.State != w.State || g.Persistent != w.Persistent {
		t.Fatalf("%s %s: identity/state mismatch: got %+v", driver, w.ID, g)
	}
	if !g.Initial.Equal(w.Initial) || !g.Next.Equal(w.Next) || !g.Previous.Equal(w.Previous) {
		t.Fatalf("%s %s: times mismatch: got %s/%s/%s want %s/%s/%s", driver, w.ID,
			g.Initial, g.Next, g.Previous, w.Initial, w.Next, w.Previous)
	}
	if g.Interval != w.Interval || g.Repeats != w.Repeats || g.Fired != w.Fired {
		t.Fatalf("%s %s: interval fields mismatch: got %s/%d/%d", driver, w.ID, g.Interval, g.Repeats, g.Fired)
	}
	if g.Calendar.String() != w.Calendar.String() ||
		!g.Calendar.Start.Equal(w.Calendar.Start) || !g.Calendar.End.Equal(w.Calendar.End) {
		t.Fatalf("%s %s: calendar mismatch: got %q want %q", driver, w.ID, g.Calendar, w.Calendar)
	}
	if !reflect.DeepEqual(g.Target, w.Target) {
		t.Fatalf("%s %s: target mismatch: got %+v", driver, w.ID, g.Target)
	}
	if !reflect.DeepEqual(g.Info, w.Info) {
		t.Fatalf("%s %s: info mismatch: got %#v want %#v", driver, w.ID, g.Info, w.Info)
	}
}

func TestLoadUnknownOwner(t *testing.T) {
	t.Parallel()
	for driver, st := range openDrivers(t, Options{}) {
		got, err := st.Load(context.Background(), "nobody")
		if err != nil || len(got) != 0 {
			t.Fatalf("%s: Load(nobody) = %v, %v", driver, got, err)
		}
	}
}

func TestOwners(t *testing.T) {
	t.Parallel()
	for driver, st := range openDrivers(t, Options{}) {
		ctx := context.Background()
		for _, owner := range []string{"reports", "billing", "team/ops"} {
			if err := st.Save(ctx, owner, nil); err != nil {
				t.Fatalf("%s: Save(%s): %v", driver, owner, err)
			}
		}
		got, err := st.Owners(ctx)
		if err != nil {
			t.Fatalf("%s: Owners: %v", driver, err)
		}
		if want := []string{"billing", "reports", "team/ops"}; !reflect.DeepEqual(got, want) {
			t.Fatalf("%s: Owners = %v, want %v", driver, got, want)
		}
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "none"}, Options{}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Open(none) error = %v", err)
	}
	if _, err := Open(Config{Driver: "etcd", Path: t.TempDir()}, Options{}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

const corruptDoc = `<?xml version="1.0" encoding="UTF-8"?>
<timers version="2" owner="o">
  <timer id="bad-base64" state="ACTIVE" persistent="true" initial="2024-01-01T00:00:00Z" next="2024-01-01T01:00:00Z" interval="1h0m0s">
    <info>!!!</info>
  </timer>
  <timer id="bad-cbor" state="ACTIVE" persistent="true" initial="2024-01-01T00:00:00Z" next="2024-01-01T00:30:00Z" interval="30m0s" fired="4">
    <info>/w==</info>
  </timer>
</timers>`

func TestCorruptInfoKeepsScalarState(t *testing.T) {
	t.Parallel()
	records, issues, err := decodeDocument("o", []byte(corruptDoc), Options{}.withDefaults())
	if err != nil {
		t.Fatalf("decodeDocument: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if len(issues) != 2 {
		t.Fatalf("issues = %v, want 2", issues)
	}
	for _, issue := range issues {
		if !errors.Is(issue, ErrPersistenceCorruption) {
			t.Fatalf("issue %v is not ErrPersistenceCorruption", issue)
		}
	}
	r := records[1]
	if r.Info != nil || r.State != timer.Active || r.Interval != 30*time.Minute || r.Fired != 4 ||
		!r.Next.Equal(t0.Add(30*time.Minute)) {
		t.Fatalf("scalar state not preserved: %+v", r)
	}
}

const autoTimerDoc = `<timers version="2" owner="o">
  <calendar-timer id="gone" state="ACTIVE" persistent="true" second="0" minute="0" hour="9" day-of-month="*" month="*" day-of-week="*" year="*" timezone="UTC">
    <timeout-method declaring-type="Reports" name="nightly"><param type="Timer"/></timeout-method>
  </calendar-timer>
  <calendar-timer id="kept" state="ACTIVE" persistent="true" second="0" minute="0" hour="10" day-of-month="*" month="*" day-of-week="*" year="*" timezone="UTC">
    <timeout-method declaring-type="Reports" name="hourly"></timeout-method>
  </calendar-timer>
</timers>`

func TestUnresolvedTargetBecomesTombstone(t *testing.T) {
	t.Parallel()
	opts := Options{Resolver: func(owner string, target timer.Target) bool {
		return target.Method != "nightly"
	}}.withDefaults()
	records, issues, err := decodeDocument("o", []byte(autoTimerDoc), opts)
	if err != nil {
		t.Fatalf("decodeDocument: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if len(issues) != 1 || !errors.Is(issues[0], ErrUnresolvedCallbackTarget) {
		t.Fatalf("issues = %v", issues)
	}
	gone, kept := records[0], records[1]
	if gone.State != timer.Canceled || !gone.Unresolved || !gone.Next.IsZero() {
		t.Fatalf("tombstone: %+v", gone)
	}
	if gone.Target == nil || gone.Target.String() != "Reports.nightly(Timer)" {
		t.Fatalf("tombstone target = %v", gone.Target)
	}
	if kept.State != timer.Active || kept.Unresolved {
		t.Fatalf("resolved timer changed: %+v", kept)
	}

	// A stored tombstone stays one without another report.
	data, err := encodeDocument("o", records, CBOR{})
	if err != nil {
		t.Fatalf("encodeDocument: %v", err)
	}
	again, issues, err := decodeDocument("o", data, opts)
	if err != nil || len(issues) != 0 {
		t.Fatalf("reload: issues=%v err=%v", issues, err)
	}
	if !again[0].Unresolved || again[0].State != timer.Canceled {
		t.Fatalf("reloaded tombstone: %+v", again[0])
	}
}

func TestDecodeRejectsNewerVersion(t *testing.T) {
	t.Parallel()
	_, _, err := decodeDocument("o", []byte(`<timers version="3" owner="o"></timers>`), Options{}.withDefaults())
	if err == nil {
		t.Fatal("expected error for a newer document version")
	}
}

func TestCBORSerializer(t *testing.T) {
	t.Parallel()
	in := map[string]any{"name": "close-books", "tags": []any{"eom"}}
	b, err := CBOR{}.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := CBOR{}.Unmarshal(b)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip = %#v", out)
	}
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
}
