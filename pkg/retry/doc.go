// Package retry provides exponential backoff retry logic for transient failures.
//
// The item store uses it to ride out short SQLite lock contention when another
// process is writing the files table:
//
//	ids, err := retry.DoWithResult(ctx, retry.Quick(), func() ([]int64, error) {
//	    return s.query(ctx)
//	})
//
// Errors wrapped with NonRetryable stop the loop immediately. A Config may also
// carry a Retryable predicate; errors it rejects are returned without sleeping.
package retry
