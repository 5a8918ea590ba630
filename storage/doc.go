// Package storage provides the backend interface for artifact payloads.
//
// # Overview
//
// The cache engine writes one JSON document per (item, artifact type) and reads
// it back on point lookups. Store abstracts where those documents live so the
// orchestrator never touches the filesystem directly:
//   - filestore.Store: a directory tree on local disk (the default)
//
// # Keys
//
// Keys are relative, "/"-separated paths. The first path segment is the cache
// root for an artifact type ("segments", "plots", "verification"), which lets
// callers report per-root usage with List(ctx, "segments/").
//
// # Modification Times
//
// Age-based cleanup relies on ObjectInfo.ModTime. Backends must report the time
// the payload was last written, not the time it was last read.
package storage
