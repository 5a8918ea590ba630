// Package errors provides standardized error handling for the windowcache engine.
//
// # Overview
//
// Errors are split into three classes so that callers can decide what to absorb
// and what to surface without matching on strings:
//
//   - Transient: store hiccups, timeouts, temporary unavailability (retry recommended)
//   - Invalid: malformed input, out-of-range configuration (do not retry)
//   - Fatal: corrupted state, exhausted resources (stop processing)
//
// # Cache Error Taxonomy
//
// The cache engine treats most failures as data rather than faults. The sentinels
// below name the conditions that are recorded or logged instead of propagated:
//
//   - ErrConfigLoad: the persisted configuration could not be read; defaults are used
//   - ErrStoreUnavailable: the item store could not list items; the sequence is empty
//   - ErrStaleCurrentItem: the current item is not in the sequence; no targets
//   - ErrGeneration: a producer failed; the (item, type) pair is recorded as Failed
//   - ErrGenerationTimeout: a producer exceeded its deadline; recorded as Failed
//   - ErrArtifactCorrupt: a cache file could not be decoded; treated as a miss
//
// # Error Wrapping Pattern
//
// All wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// Three wrappers set the class explicitly:
//
//	errors.WrapTransient(err, "ItemStore", "ListItemIDs", "query files")
//	errors.WrapInvalid(err, "Store", "SetCacheWindow", "validate window")
//	errors.WrapFatal(err, "Ledger", "persist", "write ledger file")
//
// The generic Wrap() keeps whatever class the wrapped error already had.
//
// # Integration with errors.As/Is
//
// Classified errors unwrap to the underlying error, so sentinel checks work through
// any number of wrappers:
//
//	wrapped := errors.WrapTransient(errors.ErrStoreUnavailable, "Oracle", "GetSequence", "list items")
//	errors.Is(wrapped, errors.ErrStoreUnavailable) // true
//	errors.IsTransient(wrapped)                    // true
//
// Context errors (context.DeadlineExceeded, context.Canceled) are classified as
// Transient.
package errors
