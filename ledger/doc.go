// Package ledger records per-item, per-artifact-type generation state.
//
// The ledger is the single source of truth for "is this artifact cached". It is
// one JSON document, loaded once and rewritten through a temp file and rename
// after every state change, under a single mutex. There is no write-behind.
// Hit and miss counters are the exception: they ride along with the next write.
//
// Each (item, artifact type) pair moves through
//
//	Queued → InProgress → Completed
//	                    ↘ Failed
//
// and at most one of those sections holds a record for the pair. TryReserve is
// the only way into Queued: it refuses pairs that are queued, in progress or
// completed, so concurrent triggers cannot submit the same pair twice. A Failed
// pair can be reserved again, which is how a failed artifact is retried.
//
// A process that dies mid-generation leaves queued and in-progress records
// behind. Open turns those into Failed records ("interrupted before
// completion") so the next trigger picks them up.
package ledger
