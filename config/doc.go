// Package config provides the typed configuration store for the cache engine.
//
// # Core Components
//
// Config: the typed document. Its JSON view mirrors the persisted file:
// cacheWindow, cacheTypes, cacheLimits, performance, autoCleanup,
// enableBackgroundGeneration, plus the deployment sections storage, itemStore,
// sync, nats, metrics and producers.
//
// Loader: builds a Config from the defaults, an optional JSON or YAML override
// file and WINDOWCACHE_* environment variables. The override is validated
// against a JSON Schema and deep-merged onto the defaults; the override wins at
// every leaf, and keys with no typed field are kept under extra.
//
// Store: thread-safe owner of the live Config. No other package reads the
// configuration file.
//
// # Basic Usage
//
//	store := config.Open("cache/cache_config.json", logger)
//
//	nr, nf := store.GetCacheWindow()
//	if err := store.SetCacheWindow(5, 20); err != nil {
//		// errors.Is(err, config.ErrWindowOutOfRange) for Nr > 50 or Nf > 100
//	}
//
//	age := store.Get("cacheLimits.maxCacheAgeHours", 24.0)
//	err := store.Set("cacheTypes.plots", false)
//
// # Failure Modes
//
// A missing, oversized, malformed or schema-violating file is not fatal: Open
// logs the ErrConfigLoad condition and continues with the defaults. Set rejects
// paths that do not already name a leaf with ErrUnknownPath; it never creates
// nested structure. Every mutation is validated and persisted through a temp
// file and rename before readers can observe it.
package config
