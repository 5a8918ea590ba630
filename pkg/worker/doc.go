// Package worker provides a generic, bounded worker pool.
//
// # Overview
//
// A Pool runs a fixed number of goroutines that take work items from a bounded
// channel. It is the only source of parallelism in the cache engine: every
// artifact generation task is a work item.
//
//	pool := worker.NewPool[GenerationTask](
//	    4,   // workers
//	    256, // queue size
//	    func(ctx context.Context, task GenerationTask) error {
//	        return generate(ctx, task)
//	    },
//	    worker.WithMetricsRegistry[GenerationTask](registry, "generation_pool"),
//	)
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//	defer pool.Stop(shutdownCtx)
//
// # Submission
//
// Submit never blocks. When the queue is full it returns ErrQueueFull and the
// caller decides what to do with the rejected item. After Stop, Submit returns
// ErrPoolStopped.
//
// # Shutdown
//
// Stop closes the queue, lets workers drain what is already queued, and waits
// for in-flight items to finish. There is no forced cancellation; the context
// passed to Stop only bounds how long the caller waits. Cancelling the context
// passed to Start makes idle workers exit without draining.
//
// # Panics
//
// A processor that panics is recovered, counted as failed, and the worker keeps
// running.
//
// # Observability
//
// Statistics are always tracked with atomics and exposed through Stats().
// Prometheus metrics are optional and registered through metric.MetricsRegistry.
package worker
