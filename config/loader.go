package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360/windowcache/errors"
)

type fileFormat int

const (
	formatUnknown fileFormat = iota
	formatJSON
	formatYAML
)

func formatOf(path string) fileFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON
	case ".yaml", ".yml":
		return formatYAML
	default:
		return formatUnknown
	}
}

// Loader builds a Config from the defaults, an optional override file and
// environment variables.
type Loader struct {
	envPrefix string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{envPrefix: "WINDOWCACHE"}
}

// Load returns the defaults deep-merged with the override at path. Environment
// overrides are applied last. The returned error wraps ErrConfigLoad; callers
// treat it as non-fatal and continue with Default().
func (l *Loader) Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("Loader.Load: %s: %v: %w", path, err, errors.ErrConfigLoad)
		}
		if err := validateOverride(raw); err != nil {
			return nil, fmt.Errorf("Loader.Load: %s: %v: %w", path, err, errors.ErrConfigLoad)
		}
		merged, err := mergeFromMap(cfg, raw)
		if err != nil {
			return nil, fmt.Errorf("Loader.Load: %s: %v: %w", path, err, errors.ErrConfigLoad)
		}
		cfg = merged
	}

	l.applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("Loader.Load: %v: %w", err, errors.ErrConfigLoad)
	}
	return cfg, nil
}

// loadRaw reads a JSON or YAML document as a generic map.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch formatOf(path) {
	case formatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// mergeFromMap deep-merges override onto base. Keys that have no typed field
// are adopted into Extra under the same nesting.
func mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	baseMap, err := toMap(base)
	if err != nil {
		return nil, err
	}

	mergedMap := deepMergeMaps(baseMap, override)

	mergedJSON, err := json.Marshal(mergedMap)
	if err != nil {
		return nil, err
	}
	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, err
	}

	typedMap, err := toMap(&merged)
	if err != nil {
		return nil, err
	}
	delete(mergedMap, "extra")
	if unknown := unknownKeys(mergedMap, typedMap); len(unknown) > 0 {
		if merged.Extra == nil {
			merged.Extra = map[string]any{}
		}
		merged.Extra = deepMergeMaps(merged.Extra, unknown)
	}

	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))

	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}

		if baseMap, baseOk := base[k].(map[string]any); baseOk {
			if overrideMap, overrideOk := v.(map[string]any); overrideOk {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}

		result[k] = v
	}

	return result
}

// unknownKeys returns the part of doc whose keys do not appear in known.
func unknownKeys(doc, known map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range doc {
		kv, ok := known[k]
		if !ok {
			out[k] = v
			continue
		}
		sub, isMap := v.(map[string]any)
		knownSub, knownIsMap := kv.(map[string]any)
		if isMap && knownIsMap {
			if nested := unknownKeys(sub, knownSub); len(nested) > 0 {
				out[k] = nested
			}
		}
	}
	return out
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) {
	overrides := []struct {
		suffix string
		target *string
	}{
		{"_CACHE_DIR", &cfg.Storage.CacheDir},
		{"_LEDGER_FILE", &cfg.Storage.LedgerFile},
		{"_ITEMSTORE_DSN", &cfg.ItemStore.DSN},
		{"_SYNC_FILE", &cfg.Sync.File},
		{"_NATS_URL", &cfg.NATS.URL},
	}

	for _, o := range overrides {
		key := l.envPrefix + o.suffix
		val := os.Getenv(key)
		if val == "" {
			continue
		}
		if err := validateEnvVar(key, val); err != nil {
			continue
		}
		*o.target = val
	}
}

// encode renders cfg in the format implied by path.
func encode(cfg *Config, path string) ([]byte, error) {
	if formatOf(path) == formatYAML {
		m, err := toMap(cfg)
		if err != nil {
			return nil, err
		}
		return yaml.Marshal(m)
	}
	return json.MarshalIndent(cfg, "", "  ")
}
