// Package file is a persistent cache tier that keeps one JSON file per key.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/qa-agent/logexplain/pkg/cache"
)

const ext = ".json"

// Store keeps cache entries as <dir>/<key>.json.
type Store struct {
	dir string
}

// New creates the cache directory if needed and verifies it is writable.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("file cache: directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file cache: create %s: %w", dir, err)
	}
	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return nil, fmt.Errorf("file cache: %s not writable: %w", dir, err)
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return &Store{dir: dir}, nil
}

// Dir returns the cache directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+ext)
}

// Get reads the payload stored under key.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("file cache get: %w", err)
	}
	return data, true, nil
}

// Put writes payload atomically: a temp file in the same directory is
// renamed over the destination so readers never observe a torn entry.
func (s *Store) Put(_ context.Context, key string, payload []byte, _ time.Time) error {
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("file cache put: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("file cache put: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file cache put: %w", err)
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file cache put: %w", err)
	}
	return nil
}

// Delete removes key. A missing file is not an error.
func (s *Store) Delete(_ context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("file cache delete: %w", err)
	}
	return nil
}

// Clear removes every entry file. Files whose names were not produced by
// cache.StorageKey are kept.
func (s *Store) Clear(ctx context.Context) error {
	names, err := s.entries()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := s.Delete(ctx, strings.TrimSuffix(name, ext)); err != nil {
			return err
		}
	}
	return nil
}

// Len counts entry files.
func (s *Store) Len(_ context.Context) (int64, error) {
	names, err := s.entries()
	if err != nil {
		return 0, err
	}
	return int64(len(names)), nil
}

// PurgeExpired removes entries that expired at or before now, as well as
// entries whose expiry cannot be read.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	names, err := s.entries()
	if err != nil {
		return 0, err
	}
	var n int64
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		key := strings.TrimSuffix(name, ext)
		data, ok, err := s.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		expiry, err := cache.ExpiryOf(data)
		if err == nil && expiry.After(now) {
			continue
		}
		if err := s.Delete(ctx, key); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (s *Store) entries() ([]string, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("file cache list: %w", err)
	}
	var names []string
	for _, d := range dirents {
		key, ok := strings.CutSuffix(d.Name(), ext)
		if d.IsDir() || !ok || !cache.IsStorageKey(key) {
			continue
		}
		names = append(names, d.Name())
	}
	return names, nil
}
