package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func write(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadYAMLAndJSON(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	yml := filepath.Join(dir, "chronod.yaml")
	write(t, yml, `
logging:
  level: debug
storage:
  driver: sqlite
  path: timers.db
  legacy_dir: /var/lib/old
task_engine:
  workers: 3
scheduler:
  timezone: Asia/Jakarta
owners:
  - name: reports
    auto_timers:
      - method: nightly
        hour: "3"
        day_of_week: mon-fri
        params: [a, b]
`)
	cfg, err := NewConfigManager(yml).Load()
	if err != nil {
		t.Fatalf("Load yaml: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Storage == nil || cfg.Storage.LegacyDir != "/var/lib/old" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.TaskEngine == nil || cfg.TaskEngine.Workers != 3 || cfg.Scheduler.Timezone != "Asia/Jakarta" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if len(cfg.Owners) != 1 || len(cfg.Owners[0].AutoTimers) != 1 {
		t.Fatalf("owners=%+v", cfg.Owners)
	}
	at := cfg.Owners[0].AutoTimers[0]
	if at.Method != "nightly" || at.Hour != "3" || at.DayOfWeek != "mon-fri" || len(at.Params) != 2 {
		t.Fatalf("auto timer=%+v", at)
	}

	js := filepath.Join(dir, "chronod.json")
	write(t, js, `{"scheduler":{"flush_interval":"5s"},"owners":[{"name":"a"}]}`)
	cfg, err = NewConfigManager(js).Load()
	if err != nil {
		t.Fatalf("Load json: %v", err)
	}
	if cfg.Scheduler.FlushInterval != "5s" || cfg.Storage != nil || len(cfg.Owners) != 1 {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, file, body, want string
	}{
		{name: "unknown key", file: "c.json", body: `{"schedular":{}}`, want: "unknown field"},
		{name: "unknown nested yaml key", file: "c.yaml", body: "owners:\n  - name: a\n    timers: []\n", want: "unknown field"},
		{name: "trailing data", file: "c.json", body: `{} {}`, want: "trailing data"},
		{name: "bad yaml", file: "c.yml", body: "owners: [\n", want: "yaml unmarshal"},
		{name: "second yaml document", file: "c.yaml", body: "scheduler: {}\n---\nowners: []\n", want: "trailing data"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), tt.file)
			write(t, path, tt.body)
			_, err := NewConfigManager(path).Parse()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Parse err=%v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	base := &Config{
		Scheduler: SchedulerConfig{Timezone: "UTC"},
		Owners:    []OwnerConfig{{Name: "a"}, {Name: "b", AutoTimers: []AutoTimerConfig{{Method: "m", Hour: "1"}}}},
	}
	next := &Config{
		Logging:   LoggingConfig{Level: "debug"},
		Storage:   &StorageConfig{Driver: "file", Path: "x"},
		Scheduler: SchedulerConfig{Timezone: "UTC"},
		Owners:    []OwnerConfig{{Name: "b", AutoTimers: []AutoTimerConfig{{Method: "m", Hour: "2"}}}, {Name: "c"}},
	}

	sections, attrs, owners := SummarizeConfigChange(base, next)
	if got := strings.Join(sections, ","); got != "logging,owners,storage" {
		t.Fatalf("sections=%s", got)
	}
	if len(attrs) == 0 {
		t.Fatalf("no attrs")
	}
	if got := strings.Join(owners, ","); got != "a,b,c" {
		t.Fatalf("owners changed=%s, want a,b,c", got)
	}

	sections, _, owners = SummarizeConfigChange(next, next)
	if len(sections) != 0 || len(owners) != 0 {
		t.Fatalf("identical configs reported %v %v", sections, owners)
	}

	// A nil engine section and an empty one differ: defaults vs explicit.
	sections, _, _ = SummarizeConfigChange(&Config{}, &Config{TaskEngine: &TaskEngineConfig{}})
	if len(sections) != 1 || sections[0] != "task_engine" {
		t.Fatalf("sections=%v", sections)
	}
}

func TestWatchPublishesValidatedChanges(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "chronod.yaml")
	write(t, path, "scheduler:\n  timezone: UTC\n")

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Scheduler.Timezone == "reject" {
			return errors.New("rejected")
		}
		return nil
	})
	sub := m.Subscribe(4)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// Give the watcher a moment to register before writing.
	time.Sleep(200 * time.Millisecond)

	write(t, path, "scheduler:\n  timezone: reject\n")
	select {
	case cfg := <-sub:
		t.Fatalf("rejected config was published: %+v", cfg.Scheduler)
	case <-time.After(time.Second):
	}
	if got := m.Get().Scheduler.Timezone; got != "UTC" {
		t.Fatalf("committed timezone=%q after rejection", got)
	}

	write(t, path, "scheduler:\n  timezone: Europe/Berlin\n")
	select {
	case cfg := <-sub:
		if cfg.Scheduler.Timezone != "Europe/Berlin" {
			t.Fatalf("published timezone=%q", cfg.Scheduler.Timezone)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no config published after change")
	}
	if got := m.Get().Scheduler.Timezone; got != "Europe/Berlin" {
		t.Fatalf("committed timezone=%q", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watch: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Watch did not return after cancel")
	}
}
