package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/c360/windowcache/errors"
)

// Administrative bounds for the cache window.
const (
	MaxWindowBehind = 50
	MaxWindowAhead  = 100
)

// Configuration errors
var (
	// ErrWindowOutOfRange indicates Nr or Nf is negative or above the administrative maximum
	ErrWindowOutOfRange = fmt.Errorf("%w: cache window out of range", errors.ErrInvalidConfig)

	// ErrUnknownPath indicates a dotted path that does not name a configuration leaf
	ErrUnknownPath = fmt.Errorf("%w: unknown configuration path", errors.ErrInvalidConfig)
)

// Config is the complete cache engine configuration.
type Config struct {
	CacheWindow                CacheWindow       `json:"cacheWindow"`
	CacheTypes                 map[string]bool   `json:"cacheTypes"`
	CacheLimits                CacheLimits       `json:"cacheLimits"`
	Performance                PerformanceConfig `json:"performance"`
	AutoCleanup                bool              `json:"autoCleanup"`
	EnableBackgroundGeneration bool              `json:"enableBackgroundGeneration"`

	Storage   StorageConfig   `json:"storage"`
	ItemStore ItemStoreConfig `json:"itemStore"`
	Sync      SyncConfig      `json:"sync"`
	NATS      NATSConfig      `json:"nats"`
	Metrics   MetricsConfig   `json:"metrics"`
	Producers ProducersConfig `json:"producers"`

	// Extra holds keys from the override document that have no typed field.
	Extra map[string]any `json:"extra,omitempty"`
}

// CacheWindow is the number of items kept cached behind (Nr) and ahead (Nf) of the current item.
type CacheWindow struct {
	Nr int `json:"Nr"`
	Nf int `json:"Nf"`
}

// CacheLimits bounds disk usage and artifact age.
type CacheLimits struct {
	MaxCacheSizeGb         float64 `json:"maxCacheSizeGb"`
	MaxCacheAgeHours       float64 `json:"maxCacheAgeHours"`
	CleanupThreshold       float64 `json:"cleanupThreshold"`
	CleanupIntervalMinutes int     `json:"cleanupIntervalMinutes"`
}

// PerformanceConfig sizes the worker pool and bounds producer calls. Timeouts are in seconds.
type PerformanceConfig struct {
	MaxWorkers               int     `json:"maxWorkers"`
	QueueSize                int     `json:"queueSize"`
	SegmentGenerationTimeout float64 `json:"segmentGenerationTimeout"`
	PlotGenerationTimeout    float64 `json:"plotGenerationTimeout"`
}

// StorageConfig locates the artifact tree and the ledger document.
type StorageConfig struct {
	CacheDir   string `json:"cacheDir"`
	LedgerFile string `json:"ledgerFile"` // defaults to <cacheDir>/cache_status.json
}

// ItemStoreConfig describes the relational store that supplies the item sequence.
type ItemStoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
	Query  string `json:"query"`

	// LookupQuery resolves a file name from the sync file to an item id. It
	// takes one LIKE pattern argument.
	LookupQuery string `json:"lookupQuery"`
}

// SyncConfig configures the sync-file watcher.
type SyncConfig struct {
	File     string `json:"file"`
	Debounce string `json:"debounce"` // Go duration string
}

// NATSConfig configures the NATS bridge. An empty URL disables it.
type NATSConfig struct {
	URL                string `json:"url"`
	CurrentItemSubject string `json:"currentItemSubject"`
	StatusSubject      string `json:"statusSubject"`
	CleanupSubject     string `json:"cleanupSubject"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// ProducersConfig holds the argv of the external producer commands.
type ProducersConfig struct {
	SegmentsCommand []string `json:"segmentsCommand"`
	PlotsCommand    []string `json:"plotsCommand"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		CacheWindow: CacheWindow{Nr: 3, Nf: 10},
		CacheTypes: map[string]bool{
			"segments":        true,
			"plots":           true,
			"verification":    true,
			"transient_plots": false,
		},
		CacheLimits: CacheLimits{
			MaxCacheSizeGb:         5.0,
			MaxCacheAgeHours:       24,
			CleanupThreshold:       0.8,
			CleanupIntervalMinutes: 60,
		},
		Performance: PerformanceConfig{
			MaxWorkers:               4,
			QueueSize:                256,
			SegmentGenerationTimeout: 30,
			PlotGenerationTimeout:    60,
		},
		AutoCleanup:                true,
		EnableBackgroundGeneration: true,
		Storage: StorageConfig{
			CacheDir: "cache",
		},
		ItemStore: ItemStoreConfig{
			Driver:      "sqlite",
			Query:       "SELECT file_id FROM files ORDER BY file_id",
			LookupQuery: "SELECT file_id FROM files WHERE original_filename LIKE ?",
		},
		Sync: SyncConfig{
			Debounce: "250ms",
		},
		NATS: NATSConfig{
			CurrentItemSubject: "windowcache.current",
			StatusSubject:      "windowcache.status",
			CleanupSubject:     "windowcache.cleanup",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
		Producers: ProducersConfig{
			SegmentsCommand: []string{},
			PlotsCommand:    []string{},
		},
	}
}

// Validate checks every value the engine depends on.
func (c *Config) Validate() error {
	if c.CacheWindow.Nr < 0 || c.CacheWindow.Nr > MaxWindowBehind ||
		c.CacheWindow.Nf < 0 || c.CacheWindow.Nf > MaxWindowAhead {
		return fmt.Errorf("Nr=%d (0..%d), Nf=%d (0..%d): %w",
			c.CacheWindow.Nr, MaxWindowBehind, c.CacheWindow.Nf, MaxWindowAhead, ErrWindowOutOfRange)
	}

	var problems []string
	if c.Performance.MaxWorkers < 1 || c.Performance.MaxWorkers > 64 {
		problems = append(problems, fmt.Sprintf("performance.maxWorkers must be 1..64, got %d", c.Performance.MaxWorkers))
	}
	if c.Performance.QueueSize < 1 {
		problems = append(problems, fmt.Sprintf("performance.queueSize must be positive, got %d", c.Performance.QueueSize))
	}
	if c.Performance.SegmentGenerationTimeout <= 0 {
		problems = append(problems, "performance.segmentGenerationTimeout must be positive")
	}
	if c.Performance.PlotGenerationTimeout <= 0 {
		problems = append(problems, "performance.plotGenerationTimeout must be positive")
	}
	if c.CacheLimits.MaxCacheAgeHours <= 0 {
		problems = append(problems, "cacheLimits.maxCacheAgeHours must be positive")
	}
	if c.CacheLimits.MaxCacheSizeGb < 0 {
		problems = append(problems, "cacheLimits.maxCacheSizeGb must not be negative")
	}
	if c.CacheLimits.CleanupThreshold <= 0 || c.CacheLimits.CleanupThreshold > 1 {
		problems = append(problems, "cacheLimits.cleanupThreshold must be in (0, 1]")
	}
	if c.CacheLimits.CleanupIntervalMinutes < 1 {
		problems = append(problems, "cacheLimits.cleanupIntervalMinutes must be positive")
	}
	if c.Storage.CacheDir == "" {
		problems = append(problems, "storage.cacheDir is required")
	}
	if c.Sync.Debounce != "" {
		if _, err := time.ParseDuration(c.Sync.Debounce); err != nil {
			problems = append(problems, fmt.Sprintf("sync.debounce: %v", err))
		}
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		problems = append(problems, fmt.Sprintf("metrics.port out of range: %d", c.Metrics.Port))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s: %w", strings.Join(problems, "; "), errors.ErrInvalidConfig)
	}
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}

	// Use JSON marshaling/unmarshaling for deep copy
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}

	return &clone
}

// CacheTypeEnabled reports whether generation is enabled for an artifact type.
func (c *Config) CacheTypeEnabled(artifactType string) bool {
	return c.CacheTypes[artifactType]
}

// GenerationTimeout returns the producer deadline for an artifact type.
// Plots use the plot timeout, everything else uses the segment timeout.
func (c *Config) GenerationTimeout(artifactType string) time.Duration {
	seconds := c.Performance.SegmentGenerationTimeout
	if artifactType == "plots" {
		seconds = c.Performance.PlotGenerationTimeout
	}
	return time.Duration(seconds * float64(time.Second))
}

// MaxCacheAge returns cacheLimits.maxCacheAgeHours as a duration.
func (c *Config) MaxCacheAge() time.Duration {
	return time.Duration(c.CacheLimits.MaxCacheAgeHours * float64(time.Hour))
}

// CleanupInterval returns how often the auto-cleanup loop runs.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.CacheLimits.CleanupIntervalMinutes) * time.Minute
}

// CleanupTriggerBytes is the cache size above which an early cleanup runs.
// Zero means no size limit.
func (c *Config) CleanupTriggerBytes() int64 {
	return int64(c.CacheLimits.MaxCacheSizeGb * c.CacheLimits.CleanupThreshold * (1 << 30))
}

// SyncDebounce parses sync.debounce, falling back to 250ms.
func (c *Config) SyncDebounce() time.Duration {
	d, err := time.ParseDuration(c.Sync.Debounce)
	if err != nil || d <= 0 {
		return 250 * time.Millisecond
	}
	return d
}

// LedgerPath returns the ledger document location.
func (c *Config) LedgerPath() string {
	if c.Storage.LedgerFile != "" {
		return c.Storage.LedgerFile
	}
	return filepath.Join(c.Storage.CacheDir, "cache_status.json")
}

// LockPath returns the lock file that marks the ledger as owned by a process.
func (c *Config) LockPath() string {
	return c.LedgerPath() + ".lock"
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
