package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"chronod/internal/timer"
)

//go:embed schema.sql
var schemaSQL string

// sqliteStore keeps each owner's XML document in one row.
type sqliteStore struct {
	db     *sql.DB
	opts   Options
	legacy legacySource
}

func openSQLite(cfg Config, opts Options) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &sqliteStore{
		db:     db,
		opts:   opts,
		legacy: legacySource{dir: legacyDirFor(cfg, filepath.Dir(path)), opts: opts},
	}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Load(ctx context.Context, owner string) ([]*timer.Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM timer_documents WHERE owner = ?`, owner).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeLogged(owner, []byte(doc), s.opts)
}

func (s *sqliteStore) Save(ctx context.Context, owner string, records []*timer.Record) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if err := checkOwner(owner); err != nil {
		return err
	}
	data, err := encodeDocument(owner, records, s.opts.Serializer)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO timer_documents(owner, version, document, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(owner) DO UPDATE SET version=excluded.version, document=excluded.document, updated_at=excluded.updated_at`,
		owner, documentVersion, string(data), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) MigrateLegacy(ctx context.Context, owner string) ([]*timer.Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	return migrateLegacy(ctx, s, s.legacy, owner)
}

func (s *sqliteStore) Owners(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT owner FROM timer_documents ORDER BY owner`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var owners []string
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			return nil, err
		}
		owners = append(owners, o)
	}
	return owners, rows.Err()
}

func (s *sqliteStore) legacyDir() string { return s.legacy.dir }
