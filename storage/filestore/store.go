// Package filestore implements storage.Store on a local directory tree.
package filestore

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/c360/windowcache/errors"
	"github.com/c360/windowcache/metric"
	"github.com/c360/windowcache/storage"
)

const tempSuffix = ".tmp"

// Store keeps each key as a file below root.
type Store struct {
	root    string
	metrics *storeMetrics
}

var _ storage.Store = (*Store)(nil)

// New creates a Store rooted at dir, creating the directory if needed.
// A nil registry disables metrics.
func New(dir string, registry *metric.MetricsRegistry) (*Store, error) {
	if dir == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("empty root directory"), "Store", "New", "validate root")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.WrapFatal(err, "Store", "New", "create root directory")
	}

	m, err := newStoreMetrics(registry)
	if err != nil {
		return nil, err
	}
	return &Store{root: dir, metrics: m}, nil
}

// Root returns the directory backing the store.
func (s *Store) Root() string {
	return s.root
}

// EnsureDir creates the directory for a key prefix such as "verification/".
func (s *Store) EnsureDir(prefix string) error {
	p, err := s.resolve(strings.TrimSuffix(prefix, "/"))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(p, 0o755); err != nil {
		return errors.WrapTransient(err, "Store", "EnsureDir", "create directory")
	}
	return nil
}

// Put writes data to a temp file and renames it over the destination.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	start := time.Now()
	err := s.put(ctx, key, data)
	s.metrics.observe("put", start, err)
	return err
}

func (s *Store) put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return errors.WrapTransient(err, "Store", "Put", "create parent directory")
	}

	tmp := p + tempSuffix
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.WrapTransient(err, "Store", "Put", "write temp file")
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return errors.WrapTransient(err, "Store", "Put", "rename temp file")
	}
	return nil
}

// Get reads the file stored at key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	data, err := s.get(ctx, key)
	s.metrics.observe("get", start, err)
	return data, err
}

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("Store.Get: %s: %w", key, storage.ErrNotFound)
		}
		return nil, errors.WrapTransient(err, "Store", "Get", "read file")
	}
	return data, nil
}

// List walks the tree and returns every regular file whose key has prefix.
// Leftover temp files from interrupted writes are skipped.
func (s *Store) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	start := time.Now()
	infos, err := s.list(ctx, prefix)
	s.metrics.observe("list", start, err)
	return infos, err
}

func (s *Store) list(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var infos []storage.ObjectInfo

	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if stderrors.Is(walkErr, fs.ErrNotExist) {
				return nil
			}
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(p, tempSuffix) {
			return nil
		}

		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			// Removed between the directory read and the stat
			if stderrors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		infos = append(infos, storage.ObjectInfo{Key: key, Size: fi.Size(), ModTime: fi.ModTime()})
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.WrapTransient(err, "Store", "List", "walk directory")
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// Delete removes the file at key. Missing files are ignored.
func (s *Store) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.remove(ctx, key)
	s.metrics.observe("delete", start, err)
	return err
}

func (s *Store) remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return errors.WrapTransient(err, "Store", "Delete", "remove file")
	}
	return nil
}

// resolve maps a key to a path under root and rejects keys that escape it.
func (s *Store) resolve(key string) (string, error) {
	clean := path.Clean("/" + key)
	if key == "" || clean == "/" || strings.Contains(key, "..") || path.IsAbs(key) {
		return "", errors.WrapInvalid(fmt.Errorf("invalid key %q", key), "Store", "resolve", "validate key")
	}
	return filepath.Join(s.root, filepath.FromSlash(clean[1:])), nil
}
