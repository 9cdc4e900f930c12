package app

import (
	"fmt"
	"strings"
	"time"

	"chronod/internal/config"
	"chronod/internal/observability/diag"
	"chronod/internal/storage"
	"chronod/internal/task/engine"
	"chronod/internal/task/scheduler"
	logx "chronod/pkg/logx"
)

const (
	defaultWorkers     = 2
	defaultQueueSize   = 256
	defaultHistorySize = 200
	defaultBusyTimeout = time.Second
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapStorageConfig returns enabled=false when persistence is off.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	legacy := strings.TrimSpace(sc.LegacyDir)

	switch driver {
	case "file":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path, LegacyDir: legacy}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, LegacyDir: legacy, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{
		Enabled:     true,
		Workers:     defaultWorkers,
		QueueSize:   defaultQueueSize,
		HistorySize: defaultHistorySize,
	}
	if cfg == nil || cfg.TaskEngine == nil {
		return out, nil
	}
	te := cfg.TaskEngine

	if te.Workers < 0 {
		return engine.Config{}, fmt.Errorf("task_engine.workers must be >= 0")
	}
	if te.QueueSize < 0 {
		return engine.Config{}, fmt.Errorf("task_engine.queue_size must be >= 0")
	}
	if te.HistorySize < 0 {
		return engine.Config{}, fmt.Errorf("task_engine.history_size must be >= 0")
	}
	if te.RetryMax < 0 {
		return engine.Config{}, fmt.Errorf("task_engine.retry_max must be >= 0")
	}
	// Timers have no other way to run their callbacks.
	if te.Enabled != nil && !*te.Enabled && len(cfg.Owners) > 0 {
		return engine.Config{}, fmt.Errorf("task_engine.enabled cannot be false while owners are configured")
	}

	if te.Enabled != nil {
		out.Enabled = *te.Enabled
	}
	if te.Workers > 0 {
		out.Workers = te.Workers
	}
	if te.QueueSize > 0 {
		out.QueueSize = te.QueueSize
	}
	if te.HistorySize > 0 {
		out.HistorySize = te.HistorySize
	}
	out.RetryMax = te.RetryMax

	var err error
	if out.DefaultTimeout, err = config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.MaxQueueDelay, err = config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
		return engine.Config{}, err
	}
	return out, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	sc := cfg.Scheduler
	tz := strings.TrimSpace(sc.Timezone)
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	// The flusher is a cron "@every" job, which has whole-second resolution.
	flush, err := config.ParseDurationMin("scheduler.flush_interval", sc.FlushInterval, time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	grace, err := config.ParseDurationField("scheduler.shutdown_grace", sc.ShutdownGrace)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{Timezone: tz, FlushInterval: flush, ShutdownGrace: grace}, nil
}

func mapDiagConfig(cfg *config.Config) (diag.Config, error) {
	if cfg == nil || cfg.Diagnostics == nil {
		return diag.Config{}, nil
	}
	dc := cfg.Diagnostics
	out := diag.Config{
		Enabled:       dc.Enabled,
		Addr:          strings.TrimSpace(dc.Addr),
		Token:         strings.TrimSpace(dc.Token),
		AllowInsecure: dc.AllowInsecure,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("diagnostics.read_timeout", dc.ReadTimeout, 5*time.Second); err != nil {
		return diag.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationField("diagnostics.write_timeout", dc.WriteTimeout); err != nil {
		return diag.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("diagnostics.idle_timeout", dc.IdleTimeout, 120*time.Second); err != nil {
		return diag.Config{}, err
	}
	return out, out.Check()
}
