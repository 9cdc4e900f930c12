package storage

import (
	"context"
	"errors"
	"time"

	"chronod/internal/timer"
	logx "chronod/pkg/logx"
)

var (
	ErrDisabled = errors.New("storage disabled")

	// ErrPersistenceCorruption reports a stored info payload that could not be
	// decoded. The record is still loaded with a nil Info.
	ErrPersistenceCorruption = errors.New("storage: corrupt info payload")

	// ErrUnresolvedCallbackTarget reports an auto timer whose callback target
	// no longer resolves. The record is loaded as a CANCELED tombstone.
	ErrUnresolvedCallbackTarget = errors.New("storage: unresolved callback target")
)

// Config configures storage.
//
// Driver values:
//   - "file": one XML document per owner under the Path directory
//   - "sqlite": XML documents in a SQLite database file at Path
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver string
	Path   string
	// LegacyDir holds "<owner>.timers" files to migrate. Defaults to the
	// file driver's directory or the sqlite file's directory.
	LegacyDir   string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Resolver reports whether an auto timer's callback target still exists.
type Resolver func(owner string, target timer.Target) bool

// Options carries the collaborators a store needs.
type Options struct {
	// Serializer encodes Info payloads. Defaults to CBOR.
	Serializer Serializer
	// Resolver is consulted on load for records with a Target. Nil resolves
	// everything.
	Resolver Resolver
	Log      logx.Logger
}

func (o Options) withDefaults() Options {
	if o.Serializer == nil {
		o.Serializer = CBOR{}
	}
	if o.Log.IsZero() {
		o.Log = logx.Nop()
	}
	return o
}

// Store is the persistence API used by the scheduler.
type Store interface {
	// Load returns the owner's records; an unknown owner has none.
	Load(ctx context.Context, owner string) ([]*timer.Record, error)
	// Save replaces the owner's document atomically.
	Save(ctx context.Context, owner string, records []*timer.Record) error
	// MigrateLegacy converts the owner's legacy file once and returns the
	// owner's records afterwards. It is idempotent.
	MigrateLegacy(ctx context.Context, owner string) ([]*timer.Record, error)
	// Owners lists owners that have a stored document.
	Owners(ctx context.Context) ([]string, error)
	Close() error
}
