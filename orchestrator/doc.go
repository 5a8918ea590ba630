// Package orchestrator keeps a sliding window of generated artifacts around the
// current item.
//
// A Service is built explicitly from its collaborators (configuration store,
// ledger, sequence oracle, producers and artifact store) and owns one bounded
// worker pool. Moving the current item computes the window targets, reserves
// each enabled (item, artifact type) pair in the ledger and submits one task
// per item. Reservation is atomic, so overlapping triggers never generate the
// same pair twice.
//
// Tasks generate types in a fixed order: segments, plots, verification. Each
// producer call runs under the configured timeout; failures are recorded in the
// ledger and never escape the worker. Payloads are stored as JSON under
//
//	segments/segments_%08d.json
//	plots/plots_meta_%08d.json
//
// with an xxhash64 checksum kept in the ledger. Lookups verify the checksum and
// invalidate ledger records whose files are gone or damaged, which is how the
// cache recovers from age-based cleanup and external deletion.
package orchestrator
