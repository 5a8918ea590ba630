package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// overrideSchema constrains the shape of an override document. Unknown
// top-level keys are allowed and later adopted into the extra section.
const overrideSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "cacheWindow": {
      "type": "object",
      "properties": {
        "Nr": {"type": "integer", "minimum": 0, "maximum": 50},
        "Nf": {"type": "integer", "minimum": 0, "maximum": 100}
      }
    },
    "cacheTypes": {
      "type": "object",
      "additionalProperties": {"type": "boolean"}
    },
    "cacheLimits": {
      "type": "object",
      "properties": {
        "maxCacheSizeGb": {"type": "number", "minimum": 0},
        "maxCacheAgeHours": {"type": "number", "exclusiveMinimum": 0},
        "cleanupThreshold": {"type": "number", "exclusiveMinimum": 0, "maximum": 1},
        "cleanupIntervalMinutes": {"type": "integer", "minimum": 1}
      }
    },
    "performance": {
      "type": "object",
      "properties": {
        "maxWorkers": {"type": "integer", "minimum": 1, "maximum": 64},
        "queueSize": {"type": "integer", "minimum": 1},
        "segmentGenerationTimeout": {"type": "number", "exclusiveMinimum": 0},
        "plotGenerationTimeout": {"type": "number", "exclusiveMinimum": 0}
      }
    },
    "autoCleanup": {"type": "boolean"},
    "enableBackgroundGeneration": {"type": "boolean"},
    "storage": {
      "type": "object",
      "properties": {
        "cacheDir": {"type": "string", "minLength": 1},
        "ledgerFile": {"type": "string"}
      }
    },
    "itemStore": {
      "type": "object",
      "properties": {
        "driver": {"type": "string"},
        "dsn": {"type": "string"},
        "query": {"type": "string"},
        "lookupQuery": {"type": "string"}
      }
    },
    "sync": {
      "type": "object",
      "properties": {
        "file": {"type": "string"},
        "debounce": {"type": "string"}
      }
    },
    "nats": {
      "type": "object",
      "properties": {
        "url": {"type": "string"},
        "currentItemSubject": {"type": "string"},
        "statusSubject": {"type": "string"},
        "cleanupSubject": {"type": "string"}
      }
    },
    "metrics": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "port": {"type": "integer", "minimum": 0, "maximum": 65535},
        "path": {"type": "string"}
      }
    },
    "producers": {
      "type": "object",
      "properties": {
        "segmentsCommand": {"type": ["array", "null"], "items": {"type": "string"}},
        "plotsCommand": {"type": ["array", "null"], "items": {"type": "string"}}
      }
    },
    "extra": {"type": "object"}
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(overrideSchema)

// validateOverride checks a raw override document against overrideSchema.
func validateOverride(raw map[string]any) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(raw))
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("override does not match schema: %s", strings.Join(msgs, "; "))
}
