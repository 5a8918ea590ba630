// Package storage defines the artifact store used to persist cache payloads.
package storage

import (
	"context"
	"time"

	"github.com/c360/windowcache/errors"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectInfo describes a stored object without reading its payload.
type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Store is the pluggable backend for artifact payloads.
//
// Keys are "/"-separated paths relative to the store root, for example
// "segments/segments_00000110.json". Values are opaque bytes; the cache
// engine writes JSON.
//
// Thread Safety:
// All Store implementations must be safe for concurrent use from multiple goroutines.
type Store interface {
	// Put stores data at key, replacing any existing value. Readers never
	// observe a partially written value.
	Put(ctx context.Context, key string, data []byte) error

	// Get retrieves the data stored at key. Returns ErrNotFound if the key
	// does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns metadata for every key with the given prefix, in
	// lexicographic key order. An empty prefix lists everything.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
