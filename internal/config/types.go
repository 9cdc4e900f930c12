package config

// Config is the daemon configuration (JSON or YAML).
type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Storage controls timer persistence. Omitted or driver "none" keeps
	// timers in memory only.
	Storage *StorageConfig `json:"storage,omitempty"`

	// TaskEngine controls the worker pool that runs timer callbacks.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	Scheduler SchedulerConfig `json:"scheduler"`

	// Owners are the timer owners the daemon registers at start.
	Owners []OwnerConfig `json:"owners,omitempty"`

	// Diagnostics is the optional local HTTP endpoint (health, timers, pprof).
	Diagnostics *DiagnosticsConfig `json:"diagnostics,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./timers" }
type StorageConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
	// LegacyDir holds "<owner>.timers" files to migrate once.
	LegacyDir   string `json:"legacy_dir,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// TaskEngineConfig controls the task execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - enabled: true
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
//   - retry_max: 0 (callback errors are not retried)
type TaskEngineConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	Workers int   `json:"workers,omitempty"`

	QueueSize int `json:"queue_size,omitempty"`

	// DefaultTimeout bounds one callback run. Use "0s" to disable.
	DefaultTimeout string `json:"default_timeout,omitempty"`

	// MaxQueueDelay drops callbacks that have been queued longer than this
	// duration. Use "0s" to disable stale queue dropping.
	MaxQueueDelay string `json:"max_queue_delay,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
	RetryMax    int `json:"retry_max,omitempty"`
}

// SchedulerConfig controls the timer service.
type SchedulerConfig struct {
	// Timezone for calendar timers that do not name one (IANA, e.g. "Asia/Jakarta").
	Timezone string `json:"timezone,omitempty"`
	// FlushInterval is how often dirty owners are saved (default "2s").
	FlushInterval string `json:"flush_interval,omitempty"`
	// ShutdownGrace bounds how long in-flight callbacks may run on stop (default "10s").
	ShutdownGrace string `json:"shutdown_grace,omitempty"`
}

type OwnerConfig struct {
	Name       string            `json:"name"`
	AutoTimers []AutoTimerConfig `json:"auto_timers,omitempty"`
}

// AutoTimerConfig declares a calendar timer created for an owner at start.
//
// The schedule is either Schedule (cron line or "at:HH:MM") or the seven
// calendar fields; empty second/minute/hour default to "0", the rest to "*".
type AutoTimerConfig struct {
	// DeclaringType defaults to the owner name.
	DeclaringType string   `json:"declaring_type,omitempty"`
	Method        string   `json:"method"`
	Params        []string `json:"params,omitempty"`

	Schedule string `json:"schedule,omitempty"`

	Second     string `json:"second,omitempty"`
	Minute     string `json:"minute,omitempty"`
	Hour       string `json:"hour,omitempty"`
	DayOfMonth string `json:"day_of_month,omitempty"`
	Month      string `json:"month,omitempty"`
	DayOfWeek  string `json:"day_of_week,omitempty"`
	Year       string `json:"year,omitempty"`

	Timezone string `json:"timezone,omitempty"`
	Start    string `json:"start,omitempty"` // RFC 3339
	End      string `json:"end,omitempty"`   // RFC 3339

	// Info is handed to the callback on every fire.
	Info string `json:"info,omitempty"`
	// Persistent defaults to true.
	Persistent *bool `json:"persistent,omitempty"`
}

// DiagnosticsConfig controls the diagnostics HTTP server.
//
// Example:
//
//	"diagnostics": { "enabled": true, "addr": "127.0.0.1:6060" }
type DiagnosticsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`  // default "5s"
	WriteTimeout string `json:"write_timeout,omitempty"` // default "0s" (disabled; profiles stream)
	IdleTimeout  string `json:"idle_timeout,omitempty"`  // default "120s"
}
