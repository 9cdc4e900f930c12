package storage

import (
	"errors"
	"path/filepath"
	"strings"
)

// Open initializes the configured store.
// It returns (nil, ErrDisabled) if storage is disabled.
func Open(cfg Config, opts Options) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, ErrDisabled
	}
	opts = opts.withDefaults()

	switch driver {
	case "file":
		return openFile(cfg, opts)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, opts)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func legacyDirFor(cfg Config, fallback string) string {
	if d := strings.TrimSpace(cfg.LegacyDir); d != "" {
		return d
	}
	return filepath.Clean(fallback)
}
