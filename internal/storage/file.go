package storage

import (
	"context"
	"errors"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"chronod/internal/timer"
	logx "chronod/pkg/logx"
)

const documentExt = ".xml"

// fileStore keeps one XML document per owner:
//
//	<dir>/<owner>.xml
//
// Writes go to a temp file that is renamed over the document.
type fileStore struct {
	dir    string
	opts   Options
	legacy legacySource

	mu sync.Mutex
}

func openFile(cfg Config, opts Options) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{
		dir:    dir,
		opts:   opts,
		legacy: legacySource{dir: legacyDirFor(cfg, dir), opts: opts},
	}, nil
}

func (s *fileStore) path(owner string) string {
	return filepath.Join(s.dir, url.PathEscape(owner)+documentExt)
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) Load(ctx context.Context, owner string) ([]*timer.Record, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	data, err := os.ReadFile(s.path(owner))
	s.mu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeLogged(owner, data, s.opts)
}

func (s *fileStore) Save(ctx context.Context, owner string, records []*timer.Record) error {
	if err := checkOwner(owner); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeDocument(owner, records, s.opts.Serializer)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	dst := s.path(owner)
	tmp := dst + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

func (s *fileStore) MigrateLegacy(ctx context.Context, owner string) ([]*timer.Record, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	return migrateLegacy(ctx, s, s.legacy, owner)
}

func (s *fileStore) Owners(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var owners []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, documentExt) {
			continue
		}
		owner, err := url.PathUnescape(strings.TrimSuffix(name, documentExt))
		if err != nil {
			continue
		}
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	return owners, nil
}

func checkOwner(owner string) error {
	if strings.TrimSpace(owner) == "" {
		return errors.New("storage: owner is required")
	}
	return nil
}

// decodeLogged decodes a document and logs per-record issues.
func decodeLogged(owner string, data []byte, opts Options) ([]*timer.Record, error) {
	records, issues, err := decodeDocument(owner, data, opts)
	if err != nil {
		return nil, err
	}
	for _, issue := range issues {
		opts.Log.Warn("timer record degraded on load", logx.String("owner", owner), logx.Err(issue))
	}
	return records, nil
}

func (s *fileStore) legacyDir() string { return s.legacy.dir }
