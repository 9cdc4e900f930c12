package scheduler

import (
	"errors"
	"testing"
	"time"

	"chronod/internal/calendar"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		duration time.Duration
		cal      string
	}{
		{name: "cron", raw: "*/15 * * * *", kind: SpecCalendar, source: "cron", cal: "0 0,15,30,45 * * * * *"},
		{name: "prefixed cron", raw: "cron:0 9 * * 1-5", kind: SpecCalendar, source: "cron", cal: "0 0 9 * * 1,2,3,4,5 *"},
		{name: "descriptor", raw: "@daily", kind: SpecCalendar, source: "cron", cal: "0 0 0 * * * *"},
		{name: "cron every", raw: "@every 90s", kind: SpecInterval, source: "duration", duration: 90 * time.Second},
		{name: "at", raw: "at:09:30", kind: SpecCalendar, source: "at", cal: "0 30 9 * * * *"},
		{name: "duration", raw: "10m", kind: SpecInterval, source: "duration", duration: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
		{name: "every prefix", raw: "every:2h30m", kind: SpecInterval, source: "duration", duration: 150 * time.Minute},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == SpecInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
			if tt.kind == SpecCalendar && got.Calendar.String() != tt.cal {
				t.Fatalf("Calendar = %q, want %q", got.Calendar.String(), tt.cal)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "at:25:00", "every:0s", "interval:-5m", "00:00"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q): expected error", raw)
		}
	}
	_, err := ParseSchedule("cron:61 * * * *")
	if !errors.Is(err, calendar.ErrInvalidExpression) {
		t.Fatalf("bad cron error = %v, want ErrInvalidExpression", err)
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	h, m, err := parseHHMM("23:15")
	if err != nil {
		t.Fatalf("parseHHMM error: %v", err)
	}
	if h != 23 || m != 15 {
		t.Fatalf("unexpected result: %d:%d", h, m)
	}

	if _, _, err := parseHHMM("24:00"); err == nil {
		t.Fatal("expected error for invalid hour")
	}
}
