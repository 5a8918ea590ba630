package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/windowcache/errors"
	"github.com/c360/windowcache/types"
)

const (
	segments     = types.ArtifactSegments
	plots        = types.ArtifactPlots
	verification = types.ArtifactVerification
)

func openTemp(t *testing.T) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache_status.json")
	l, err := Open(path, nil)
	require.NoError(t, err)
	return l, path
}

func readDocument(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func TestLedger_StateMachineCompleted(t *testing.T) {
	l, _ := openTemp(t)

	_, ok := l.State(110, segments)
	assert.False(t, ok)

	reserved, err := l.TryReserve(110, segments)
	require.NoError(t, err)
	require.True(t, reserved)
	st, _ := l.State(110, segments)
	assert.Equal(t, StateQueued, st)

	require.NoError(t, l.MarkInProgress(110, segments))
	st, _ = l.State(110, segments)
	assert.Equal(t, StateInProgress, st)

	require.NoError(t, l.MarkCompleted(110, segments, 2*time.Second, "abc", 42))
	st, _ = l.State(110, segments)
	assert.Equal(t, StateCompleted, st)
	assert.True(t, l.IsCached(110, segments))

	rec, ok := l.Completion(110, segments)
	require.True(t, ok)
	assert.Equal(t, 2.0, rec.DurationSeconds)
	assert.Equal(t, "abc", rec.Checksum)
	assert.Equal(t, int64(42), rec.SizeBytes)

	// Completed pairs are not re-reserved
	reserved, err = l.TryReserve(110, segments)
	require.NoError(t, err)
	assert.False(t, reserved)
	st, _ = l.State(110, segments)
	assert.Equal(t, StateCompleted, st)
}

func TestLedger_StateMachineFailedThenRetried(t *testing.T) {
	l, _ := openTemp(t)

	reserved, err := l.TryReserve(7, plots)
	require.NoError(t, err)
	require.True(t, reserved)
	require.NoError(t, l.MarkInProgress(7, plots))
	require.NoError(t, l.MarkFailed(7, plots, fmt.Errorf("renderer crashed")))

	st, _ := l.State(7, plots)
	assert.Equal(t, StateFailed, st)
	assert.False(t, l.IsCached(7, plots))

	snap := l.Snapshot()
	assert.Equal(t, "renderer crashed", snap.Failed[7][plots].Error)
	assert.Equal(t, int64(1), snap.Stats.TotalFailed)

	// Explicit re-reservation moves Failed back to Queued
	reserved, err = l.TryReserve(7, plots)
	require.NoError(t, err)
	assert.True(t, reserved)
	st, _ = l.State(7, plots)
	assert.Equal(t, StateQueued, st)
	_, stillFailed := l.Snapshot().Failed[7]
	assert.False(t, stillFailed)
}

func TestLedger_TryReserveRefusesInFlight(t *testing.T) {
	l, _ := openTemp(t)

	reserved, err := l.TryReserve(1, segments)
	require.NoError(t, err)
	require.True(t, reserved)

	reserved, err = l.TryReserve(1, segments)
	require.NoError(t, err)
	assert.False(t, reserved, "queued pair must not be reserved twice")

	require.NoError(t, l.MarkInProgress(1, segments))
	reserved, err = l.TryReserve(1, segments)
	require.NoError(t, err)
	assert.False(t, reserved, "in-progress pair must not be reserved")

	// Other types of the same item are independent
	reserved, err = l.TryReserve(1, plots)
	require.NoError(t, err)
	assert.True(t, reserved)
}

func TestLedger_TryReserveConcurrent(t *testing.T) {
	l, _ := openTemp(t)

	var wins int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.TryReserve(99, segments)
			assert.NoError(t, err)
			if ok {
				atomic.AddInt64(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins)
}

func TestLedger_RunningAverage(t *testing.T) {
	l, _ := openTemp(t)

	want := []float64{2.0, 3.0, 4.0}
	for i, d := range []float64{2.0, 4.0, 6.0} {
		id := types.ItemID(i + 1)
		require.NoError(t, l.MarkInProgress(id, segments))
		require.NoError(t, l.MarkCompleted(id, segments, time.Duration(d*float64(time.Second)), "", 0))
		assert.InDelta(t, want[i], l.Stats().AverageGenerationSeconds, 1e-9, "after completion %d", i+1)
	}
	assert.Equal(t, int64(3), l.Stats().TotalGenerated)
}

func TestLedger_QueueMembership(t *testing.T) {
	l, _ := openTemp(t)

	require.NoError(t, l.Enqueue(3, 1, 2))
	require.NoError(t, l.Enqueue(2, 4, 1))
	assert.Equal(t, []types.ItemID{3, 1, 2, 4}, l.Snapshot().Queue)

	_, err := l.TryReserve(5, segments)
	require.NoError(t, err)
	_, err = l.TryReserve(5, plots)
	require.NoError(t, err)
	assert.Equal(t, []types.ItemID{3, 1, 2, 4, 5}, l.Snapshot().Queue)

	require.NoError(t, l.MarkInProgress(5, segments))
	require.NoError(t, l.MarkCompleted(5, segments, time.Second, "", 0))
	assert.Contains(t, l.Snapshot().Queue, types.ItemID(5), "plots still queued")

	require.NoError(t, l.MarkInProgress(5, plots))
	require.NoError(t, l.MarkFailed(5, plots, fmt.Errorf("boom")))
	assert.NotContains(t, l.Snapshot().Queue, types.ItemID(5))
}

func TestLedger_Release(t *testing.T) {
	l, _ := openTemp(t)

	_, err := l.TryReserve(8, segments)
	require.NoError(t, err)
	require.NoError(t, l.Release(8, segments))

	_, ok := l.State(8, segments)
	assert.False(t, ok)
	assert.Empty(t, l.Snapshot().Queue)

	// A released pair can be reserved again
	reserved, err := l.TryReserve(8, segments)
	require.NoError(t, err)
	assert.True(t, reserved)
}

func TestLedger_Invalidate(t *testing.T) {
	l, _ := openTemp(t)

	require.NoError(t, l.MarkInProgress(3, segments))
	require.NoError(t, l.MarkCompleted(3, segments, time.Second, "", 0))
	rec, ok := l.Completion(3, segments)
	require.True(t, ok)

	dropped, err := l.Invalidate(3, segments, rec)
	require.NoError(t, err)
	assert.True(t, dropped)
	assert.False(t, l.IsCached(3, segments))

	dropped, err = l.Invalidate(3, segments, rec)
	require.NoError(t, err)
	assert.False(t, dropped)

	reserved, err := l.TryReserve(3, segments)
	require.NoError(t, err)
	assert.True(t, reserved)
}

func TestLedger_InvalidateKeepsNewerCompletion(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	l, err := Open(filepath.Join(t.TempDir(), "cache_status.json"), nil, WithClock(clock))
	require.NoError(t, err)

	require.NoError(t, l.MarkInProgress(3, segments))
	require.NoError(t, l.MarkCompleted(3, segments, time.Second, "aa", 2))
	stale, ok := l.Completion(3, segments)
	require.True(t, ok)

	// A regeneration finishes between the reader's lookup and its invalidation
	require.NoError(t, l.MarkInProgress(3, segments))
	require.NoError(t, l.MarkCompleted(3, segments, time.Second, "bb", 2))

	dropped, err := l.Invalidate(3, segments, stale)
	require.NoError(t, err)
	assert.False(t, dropped)

	current, ok := l.Completion(3, segments)
	require.True(t, ok)
	assert.Equal(t, "bb", current.Checksum)

	dropped, err = l.Invalidate(3, segments, current)
	require.NoError(t, err)
	assert.True(t, dropped)
}

func TestLedger_HitsAndMisses(t *testing.T) {
	l, path := openTemp(t)

	require.NoError(t, l.RecordHit())
	require.NoError(t, l.RecordHit())
	require.NoError(t, l.RecordMiss())

	stats := l.Stats()
	assert.Equal(t, int64(2), stats.CacheHits)
	assert.Equal(t, int64(1), stats.CacheMisses)

	// Counters are on disk without a Flush
	doc := readDocument(t, path)
	persisted := doc["stats"].(map[string]any)
	assert.Equal(t, 2.0, persisted["cacheHits"])
	assert.Equal(t, 1.0, persisted["cacheMisses"])

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), reopened.Stats().CacheHits)
	assert.Equal(t, int64(1), reopened.Stats().CacheMisses)
}

func TestLedger_PersistsEveryMutation(t *testing.T) {
	l, path := openTemp(t)

	require.NoError(t, l.SetCurrentItem(110))
	doc := readDocument(t, path)
	assert.Equal(t, 110.0, doc["currentItemId"])

	require.NoError(t, l.MarkInProgress(110, segments))
	require.NoError(t, l.MarkCompleted(110, segments, 1500*time.Millisecond, "ff", 10))

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	assert.True(t, reopened.IsCached(110, segments))
	id, ok := reopened.CurrentItem()
	require.True(t, ok)
	assert.Equal(t, types.ItemID(110), id)
	assert.InDelta(t, 1.5, reopened.Stats().AverageGenerationSeconds, 1e-9)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestLedger_QueueSnapshot(t *testing.T) {
	l, _ := openTemp(t)

	_, _ = l.TryReserve(1, segments)
	_, _ = l.TryReserve(1, plots)
	_, _ = l.TryReserve(2, segments)
	require.NoError(t, l.MarkInProgress(2, segments))
	require.NoError(t, l.MarkInProgress(3, verification))
	require.NoError(t, l.MarkCompleted(3, verification, 0, "", 0))
	require.NoError(t, l.MarkInProgress(4, segments))
	require.NoError(t, l.MarkFailed(4, segments, nil))

	assert.Equal(t, QueueSnapshot{
		QueueLength:        2,
		QueuedCount:        2,
		InProgressCount:    1,
		CompletedFileCount: 1,
		FailedFileCount:    1,
	}, l.QueueSnapshot())
}

func TestOpen_ReconcilesInterrupted(t *testing.T) {
	l, path := openTemp(t)

	_, err := l.TryReserve(1, plots)
	require.NoError(t, err)
	require.NoError(t, l.MarkInProgress(2, segments))
	require.NoError(t, l.MarkInProgress(3, segments))
	require.NoError(t, l.MarkCompleted(3, segments, time.Second, "", 0))

	reopened, err := Open(path, nil)
	require.NoError(t, err)

	for _, pair := range []struct {
		id types.ItemID
		t  types.ArtifactType
	}{{1, plots}, {2, segments}} {
		st, ok := reopened.State(pair.id, pair.t)
		require.True(t, ok)
		assert.Equal(t, StateFailed, st, "item %d %s", pair.id, pair.t)
	}
	snap := reopened.Snapshot()
	assert.Equal(t, interruptedMessage, snap.Failed[2][segments].Error)
	assert.Empty(t, snap.Queue)
	assert.True(t, reopened.IsCached(3, segments), "completed records survive reconciliation")

	// Reconciled pairs are eligible again
	reserved, err := reopened.TryReserve(2, segments)
	require.NoError(t, err)
	assert.True(t, reserved)
}

func TestOpen_CorruptLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache_status.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	l, err := Open(path, nil)
	require.NoError(t, err)
	assert.Empty(t, l.Snapshot().Completed)

	_, err = os.Stat(path + ".corrupt")
	assert.NoError(t, err, "corrupt ledger should be set aside")
}

func TestLedger_PersistFailureIsFatal(t *testing.T) {
	sub := filepath.Join(t.TempDir(), "ledger")
	l, err := Open(filepath.Join(sub, "cache_status.json"), nil)
	require.NoError(t, err)

	// Replace the ledger directory with a regular file so every write fails
	require.NoError(t, os.RemoveAll(sub))
	require.NoError(t, os.WriteFile(sub, []byte("x"), 0o600))

	err = l.SetCurrentItem(1)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.True(t, errors.Is(err, errors.ErrLedgerPersist))
}

func TestLedger_SnapshotIsDeepCopy(t *testing.T) {
	l, _ := openTemp(t)
	require.NoError(t, l.MarkInProgress(1, segments))
	require.NoError(t, l.MarkCompleted(1, segments, time.Second, "", 0))

	snap := l.Snapshot()
	delete(snap.Completed[1], segments)
	snap.Queue = append(snap.Queue, 99)

	assert.True(t, l.IsCached(1, segments))
	assert.Empty(t, l.Snapshot().Queue)
}

func TestWithClock(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l, err := Open("", nil, WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)

	require.NoError(t, l.MarkInProgress(1, segments))
	require.NoError(t, l.MarkFailed(1, segments, fmt.Errorf("x")))

	snap := l.Snapshot()
	assert.Equal(t, fixed, snap.Failed[1][segments].FailedAt)
	assert.Equal(t, fixed, snap.LastUpdated)
}
