package config

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"

	logx "chronod/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) structured attrs for logging and (3) the names of owners whose
// registration or auto timers changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Scheduler
	if strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) ||
		strings.TrimSpace(oldCfg.Scheduler.FlushInterval) != strings.TrimSpace(newCfg.Scheduler.FlushInterval) ||
		strings.TrimSpace(oldCfg.Scheduler.ShutdownGrace) != strings.TrimSpace(newCfg.Scheduler.ShutdownGrace) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.flush_interval", strings.TrimSpace(newCfg.Scheduler.FlushInterval)),
			logx.String("scheduler.shutdown_grace", strings.TrimSpace(newCfg.Scheduler.ShutdownGrace)),
		)
	}

	// Task engine (executor)
	oTE := derefTaskEngine(oldCfg.TaskEngine)
	nTE := derefTaskEngine(newCfg.TaskEngine)
	if (oldCfg.TaskEngine != nil) != (newCfg.TaskEngine != nil) || !reflect.DeepEqual(oTE, nTE) {
		changed = append(changed, "task_engine")
		enabled := true
		if nTE.Enabled != nil {
			enabled = *nTE.Enabled
		}
		attrs = append(attrs,
			logx.Bool("task_engine.present", newCfg.TaskEngine != nil),
			logx.Bool("task_engine.enabled", enabled),
			logx.Int("task_engine.workers", nTE.Workers),
			logx.Int("task_engine.queue_size", nTE.QueueSize),
			logx.String("task_engine.default_timeout", strings.TrimSpace(nTE.DefaultTimeout)),
			logx.String("task_engine.max_queue_delay", strings.TrimSpace(nTE.MaxQueueDelay)),
			logx.Int("task_engine.history_size", nTE.HistorySize),
			logx.Int("task_engine.retry_max", nTE.RetryMax),
		)
	}

	// Storage (persistence). Nil means disabled.
	oS := derefStorage(oldCfg.Storage)
	nS := derefStorage(newCfg.Storage)
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.Bool("storage.legacy_dir_set", strings.TrimSpace(nS.LegacyDir) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(nS.BusyTimeout)),
		)
	}

	// Diagnostics (never log the token)
	oD := derefDiagnostics(oldCfg.Diagnostics)
	nD := derefDiagnostics(newCfg.Diagnostics)
	if oD != nD {
		changed = append(changed, "diagnostics")
		attrs = append(attrs,
			logx.Bool("diagnostics.enabled", nD.Enabled),
			logx.String("diagnostics.addr", strings.TrimSpace(nD.Addr)),
			logx.Bool("diagnostics.token_set", strings.TrimSpace(nD.Token) != ""),
			logx.Bool("diagnostics.allow_insecure", nD.AllowInsecure),
		)
	}

	// Owners (summarize only; details at debug)
	ownersChanged := diffOwners(oldCfg.Owners, newCfg.Owners)
	if len(ownersChanged) > 0 {
		changed = append(changed, "owners")
		attrs = append(attrs,
			logx.Int("owners.changed_count", len(ownersChanged)),
			logx.Int("owners.count", len(newCfg.Owners)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, ownersChanged
}

func derefTaskEngine(te *TaskEngineConfig) TaskEngineConfig {
	if te == nil {
		return TaskEngineConfig{}
	}
	return *te
}

func derefStorage(sc *StorageConfig) StorageConfig {
	if sc == nil {
		return StorageConfig{}
	}
	return *sc
}

func derefDiagnostics(dc *DiagnosticsConfig) DiagnosticsConfig {
	if dc == nil {
		return DiagnosticsConfig{}
	}
	return *dc
}

func diffOwners(oldL, newL []OwnerConfig) []string {
	oldM := ownerHashes(oldL)
	newM := ownerHashes(newL)

	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, okOld := oldM[name]
		n, okNew := newM[name]
		if okOld != okNew || o != n {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func ownerHashes(l []OwnerConfig) map[string]uint64 {
	m := make(map[string]uint64, len(l))
	for _, o := range l {
		b, err := json.Marshal(o.AutoTimers)
		if err != nil {
			continue
		}
		m[strings.TrimSpace(o.Name)] = hashBytes(b)
	}
	return m
}
