package app

import (
	"fmt"
	"strings"

	"chronod/internal/config"
	logx "chronod/pkg/logx"
)

// validateConfig rejects a config before it is applied, both at start and
// on hot reload.
func validateConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is empty")
	}
	if !logx.ValidLevel(cfg.Logging.Level) {
		return fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level)
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTaskEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDiagConfig(cfg); err != nil {
		return err
	}

	seen := map[string]bool{}
	for i, o := range cfg.Owners {
		name := strings.TrimSpace(o.Name)
		if name == "" {
			return fmt.Errorf("owners[%d].name is required", i)
		}
		// Owner names become file names with the file driver.
		if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
			return fmt.Errorf("owners[%d].name: invalid owner name %q", i, name)
		}
		if seen[name] {
			return fmt.Errorf("owners[%d].name: duplicate owner %q", i, name)
		}
		seen[name] = true
	}
	_, err := buildAutoTimers(cfg)
	return err
}
