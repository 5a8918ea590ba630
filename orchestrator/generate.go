package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/c360/windowcache/config"
	"github.com/c360/windowcache/errors"
	"github.com/c360/windowcache/storage"
	"github.com/c360/windowcache/types"
)

// GenerateAll generates the task's artifact types in the fixed order. Each type
// runs under its configured timeout and ends Completed or Failed in the ledger;
// a failure moves on to the next type and is never retried here. The returned
// error only reports ledger persistence problems.
func (s *Service) GenerateAll(ctx context.Context, task Task) error {
	cfg := s.config.Snapshot()
	logger := s.logger.With("run_id", task.RunID, "item_id", task.ItemID)
	logger.Debug("Generation task started", "types", task.Types)

	var errs []error
	for _, t := range types.GenerationOrder {
		if !slices.Contains(task.Types, t) {
			continue
		}
		if err := s.generate(ctx, cfg, task.ItemID, t); err != nil {
			logger.Error("Ledger update failed", "artifact_type", t, "error", err)
			errs = append(errs, err)
		}
	}

	logger.Debug("Generation task finished")
	return errors.Join(errs...)
}

func (s *Service) generate(ctx context.Context, cfg *config.Config, id types.ItemID, t types.ArtifactType) error {
	if err := s.ledger.MarkInProgress(id, t); err != nil {
		return err
	}

	start := time.Now()
	timeout := cfg.GenerationTimeout(string(t))
	payload, err := callWithTimeout(ctx, timeout, func(ctx context.Context) ([]byte, error) {
		return s.produce(ctx, id, t)
	})
	if err == nil && payload != nil {
		if key, ok := artifactKey(id, t); ok {
			err = s.store.Put(ctx, key, payload)
		}
	}
	elapsed := time.Since(start)

	if err != nil {
		status := "failed"
		if errors.Is(err, errors.ErrGenerationTimeout) {
			status = "timeout"
		}
		s.metrics.recordGeneration(t, status, elapsed)
		s.logger.Warn("Artifact generation failed",
			"item_id", id, "artifact_type", t, "duration", elapsed, "error", err)
		return s.ledger.MarkFailed(id, t, err)
	}

	var checksum string
	if payload != nil {
		checksum = checksumOf(payload)
	}
	s.metrics.recordGeneration(t, "completed", elapsed)
	s.logger.Info("Artifact generated",
		"item_id", id, "artifact_type", t, "duration", elapsed, "bytes", len(payload))
	return s.ledger.MarkCompleted(id, t, elapsed, checksum, int64(len(payload)))
}

// produce returns the JSON payload for one artifact type. Verification has no
// payload and returns nil.
func (s *Service) produce(ctx context.Context, id types.ItemID, t types.ArtifactType) ([]byte, error) {
	switch t {
	case types.ArtifactSegments:
		segments, err := s.generateSegments(ctx, id)
		if err != nil {
			return nil, err
		}
		return json.MarshalIndent(segments, "", "  ")

	case types.ArtifactPlots:
		if s.plots == nil {
			return nil, fmt.Errorf("no plot producer configured: %w", errors.ErrGeneration)
		}
		segments, ok := s.loadSegments(ctx, id)
		if !ok {
			var err error
			if segments, err = s.generateSegments(ctx, id); err != nil {
				return nil, err
			}
		}
		refs, err := s.plots.Generate(ctx, id, types.GroupByLength(segments))
		if err != nil {
			return nil, err
		}
		if refs == nil {
			refs = types.PlotRefs{}
		}
		return json.MarshalIndent(refs, "", "  ")

	case types.ArtifactVerification:
		return nil, nil

	default:
		return nil, fmt.Errorf("%q: %w", t, errors.ErrUnknownArtifact)
	}
}

func (s *Service) generateSegments(ctx context.Context, id types.ItemID) ([]types.Segment, error) {
	if s.segments == nil {
		return nil, fmt.Errorf("no segment producer configured: %w", errors.ErrGeneration)
	}
	segments, err := s.segments.Generate(ctx, id)
	if err != nil {
		return nil, err
	}
	if segments == nil {
		segments = []types.Segment{}
	}
	return segments, nil
}

// loadSegments reads the cached segments artifact without touching hit or
// miss counters. A missing or undecodable artifact reports false.
func (s *Service) loadSegments(ctx context.Context, id types.ItemID) ([]types.Segment, bool) {
	key, _ := artifactKey(id, types.ArtifactSegments)
	data, err := s.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("Cached segments unreadable, regenerating", "item_id", id, "error", err)
		}
		return nil, false
	}
	var segments []types.Segment
	if err := json.Unmarshal(data, &segments); err != nil {
		s.logger.Warn("Cached segments corrupt, regenerating", "item_id", id, "error", err)
		return nil, false
	}
	return segments, true
}

// callWithTimeout runs fn under a deadline. fn runs on its own goroutine so a
// producer that ignores its context still cannot hold the worker past the
// deadline. A panic in fn is returned as ErrGeneration.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)

	go func() {
		var r result
		defer func() {
			if p := recover(); p != nil {
				r.err = fmt.Errorf("producer panic: %v: %w", p, errors.ErrGeneration)
			}
			done <- r
		}()
		r.value, r.err = fn(ctx)
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(r.err, errors.ErrGenerationTimeout) {
			return zero, fmt.Errorf("after %s: %v: %w", timeout, r.err, errors.ErrGenerationTimeout)
		}
		return r.value, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("after %s: %w", timeout, errors.ErrGenerationTimeout)
		}
		return zero, ctx.Err()
	}
}

// checksumOf returns the hex xxhash64 of a payload.
func checksumOf(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}
