package config

import (
	"fmt"
	"strings"
	"time"
)

// Durations in the config are time.ParseDuration strings ("250ms", "2s",
// "1h30m"). An empty string is unset and parses as 0. key names the setting
// in errors, e.g. "scheduler.flush_interval".

// ParseDurationField parses an optional non-negative duration.
func ParseDurationField(key, raw string) (time.Duration, error) {
	return parseDuration(key, raw, 0)
}

// ParseDurationOrDefault is ParseDurationField with def for unset or zero.
func ParseDurationOrDefault(key, raw string, def time.Duration) (time.Duration, error) {
	d, err := parseDuration(key, raw, 0)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// ParseDurationMin is ParseDurationField that also rejects set values below
// floor. Unset still parses as 0.
func ParseDurationMin(key, raw string, floor time.Duration) (time.Duration, error) {
	return parseDuration(key, raw, floor)
}

func parseDuration(key, raw string, floor time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0, got %s", key, s)
	}
	if floor > 0 && d < floor {
		return 0, fmt.Errorf("%s: duration must be >= %s, got %s", key, floor, s)
	}
	return d, nil
}
