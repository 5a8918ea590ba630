package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/c360/windowcache/errors"
)

// Store is the single owner of the runtime configuration. Reads return copies;
// every mutation is validated and persisted before it becomes visible.
type Store struct {
	mu     sync.RWMutex
	cfg    *Config
	path   string
	logger *slog.Logger
}

// Open loads the configuration at path. Load failures are logged and the
// defaults are used, so Open never fails. An empty path keeps the store in
// memory only.
func Open(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "config")

	loader := NewLoader()
	cfg, err := loader.Load(path)
	if err != nil {
		logger.Warn("Using default configuration", "path", path, "error", err)
		cfg = Default()
		loader.applyEnvOverrides(cfg)
	}

	return &Store{cfg: cfg, path: path, logger: logger}
}

// NewStore wraps an existing configuration. An empty path disables persistence.
func NewStore(cfg *Config, path string, logger *slog.Logger) *Store {
	if cfg == nil {
		cfg = Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{cfg: cfg.Clone(), path: path, logger: logger.With("component", "config")}
}

// Path returns the file backing the store.
func (s *Store) Path() string {
	return s.path
}

// Snapshot returns a deep copy of the current configuration
func (s *Store) Snapshot() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// GetCacheWindow returns (Nr, Nf).
func (s *Store) GetCacheWindow() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.CacheWindow.Nr, s.cfg.CacheWindow.Nf
}

// Get looks up a dotted path such as "cacheLimits.maxCacheAgeHours" in the
// JSON view of the configuration. Numbers come back as float64 and sections as
// map[string]any. Keys the loader adopted into extra are found under the path
// they had in the file as well as under "extra.<path>". Missing paths return def.
func (s *Store) Get(path string, def any) any {
	s.mu.RLock()
	m, err := toMap(s.cfg)
	s.mu.RUnlock()
	if err != nil {
		return def
	}

	if path == "" {
		return m
	}
	keys := splitPath(path)
	if val, ok := lookupPath(m, keys); ok {
		return val
	}
	if keys[0] != "extra" {
		if val, ok := lookupPath(m, append([]string{"extra"}, keys...)); ok {
			return val
		}
	}
	return def
}

// Set assigns value to an existing leaf path and persists the result. Only
// paths that already name a leaf are accepted, plus any key under cacheTypes.
// Values are decoded into the typed field, so "cacheWindow.Nr" accepts 5 but
// not "five".
func (s *Store) Set(path string, value any) error {
	keys := splitPath(path)
	if len(keys) == 0 {
		return fmt.Errorf("Store.Set: empty path: %w", ErrUnknownPath)
	}

	return s.update("Set", func(cfg *Config) (*Config, error) {
		m, err := toMap(cfg)
		if err != nil {
			return nil, err
		}
		if !isSettable(m, keys) {
			return nil, fmt.Errorf("%q: %w", path, ErrUnknownPath)
		}
		if err := assignPath(m, keys, value); err != nil {
			return nil, err
		}

		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("encode %q: %v: %w", path, err, errors.ErrInvalidConfig)
		}
		var next Config
		if err := json.Unmarshal(data, &next); err != nil {
			return nil, fmt.Errorf("decode %q: %v: %w", path, err, errors.ErrInvalidConfig)
		}
		return &next, nil
	})
}

// SetCacheWindow sets Nr and Nf, bounded to 0..50 and 0..100.
func (s *Store) SetCacheWindow(nr, nf int) error {
	return s.update("SetCacheWindow", func(cfg *Config) (*Config, error) {
		cfg.CacheWindow = CacheWindow{Nr: nr, Nf: nf}
		return cfg, nil
	})
}

// SetCacheType enables or disables an artifact type.
func (s *Store) SetCacheType(artifactType string, enabled bool) error {
	if artifactType == "" {
		return errors.WrapInvalid(fmt.Errorf("empty artifact type"), "Store", "SetCacheType", "validate type")
	}
	return s.update("SetCacheType", func(cfg *Config) (*Config, error) {
		if cfg.CacheTypes == nil {
			cfg.CacheTypes = map[string]bool{}
		}
		cfg.CacheTypes[artifactType] = enabled
		return cfg, nil
	})
}

// SetBackgroundGeneration toggles window generation on current-item changes.
func (s *Store) SetBackgroundGeneration(enabled bool) error {
	return s.update("SetBackgroundGeneration", func(cfg *Config) (*Config, error) {
		cfg.EnableBackgroundGeneration = enabled
		return cfg, nil
	})
}

// SetAutoCleanup toggles the periodic cleanup loop.
func (s *Store) SetAutoCleanup(enabled bool) error {
	return s.update("SetAutoCleanup", func(cfg *Config) (*Config, error) {
		cfg.AutoCleanup = enabled
		return cfg, nil
	})
}

// SetMaxCacheAgeHours sets the cleanup age threshold.
func (s *Store) SetMaxCacheAgeHours(hours float64) error {
	return s.update("SetMaxCacheAgeHours", func(cfg *Config) (*Config, error) {
		cfg.CacheLimits.MaxCacheAgeHours = hours
		return cfg, nil
	})
}

// SetMaxWorkers sets the pool width. It takes effect on the next start.
func (s *Store) SetMaxWorkers(n int) error {
	return s.update("SetMaxWorkers", func(cfg *Config) (*Config, error) {
		cfg.Performance.MaxWorkers = n
		return cfg, nil
	})
}

// Reload reads the backing file again and publishes it when it differs from
// the current configuration. A file that fails to load leaves the current
// configuration in place and returns the load error. The read happens under
// the write lock so it cannot interleave with a persisting mutation.
func (s *Store) Reload() (bool, error) {
	if s.path == "" {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := NewLoader().Load(s.path)
	if err != nil {
		return false, errors.WrapInvalid(err, "Store", "Reload", "load config")
	}
	nextJSON, err := json.Marshal(next)
	if err != nil {
		return false, errors.WrapFatal(err, "Store", "Reload", "encode config")
	}
	currentJSON, err := json.Marshal(s.cfg)
	if err != nil {
		return false, errors.WrapFatal(err, "Store", "Reload", "encode config")
	}
	if bytes.Equal(currentJSON, nextJSON) {
		return false, nil
	}

	s.cfg = next
	s.logger.Info("Configuration reloaded from file", "path", s.path)
	return true, nil
}

// update applies fn to a copy, validates, persists, then publishes the copy.
// On any error the current configuration is left unchanged.
func (s *Store) update(method string, fn func(*Config) (*Config, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := fn(s.cfg.Clone())
	if err != nil {
		return errors.WrapInvalid(err, "Store", method, "apply change")
	}
	if err := next.Validate(); err != nil {
		return errors.WrapInvalid(err, "Store", method, "validate config")
	}

	if s.path != "" {
		data, err := encode(next, s.path)
		if err != nil {
			return errors.WrapFatal(err, "Store", method, "encode config")
		}
		if err := safeWriteFile(s.path, data); err != nil {
			return errors.WrapTransient(err, "Store", method, "persist config")
		}
	}

	s.cfg = next
	s.logger.Debug("Configuration updated", "method", method)
	return nil
}

func splitPath(path string) []string {
	path = strings.Trim(path, ".")
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

func lookupPath(m map[string]any, keys []string) (any, bool) {
	var current any = m
	for _, key := range keys {
		section, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = section[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// isSettable reports whether keys names an existing non-section leaf, or any
// entry directly under cacheTypes.
func isSettable(m map[string]any, keys []string) bool {
	if len(keys) == 2 && keys[0] == "cacheTypes" {
		return true
	}
	val, ok := lookupPath(m, keys)
	if !ok {
		return false
	}
	_, isSection := val.(map[string]any)
	return !isSection
}

func assignPath(m map[string]any, keys []string, value any) error {
	parent := m
	for _, key := range keys[:len(keys)-1] {
		next, ok := parent[key].(map[string]any)
		if !ok {
			return fmt.Errorf("%s is not a section: %w", key, ErrUnknownPath)
		}
		parent = next
	}
	parent[keys[len(keys)-1]] = value
	return nil
}
