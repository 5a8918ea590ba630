package ledger

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/c360/windowcache/errors"
	"github.com/c360/windowcache/types"
)

// interruptedMessage is recorded for pairs a previous process left queued or in progress.
const interruptedMessage = "interrupted before completion"

// QueueSnapshot is a read-only aggregate for status reporting.
type QueueSnapshot struct {
	QueueLength        int `json:"queueLength"`
	QueuedCount        int `json:"queuedCount"`
	InProgressCount    int `json:"inProgressCount"`
	CompletedFileCount int `json:"completedFileCount"`
	FailedFileCount    int `json:"failedFileCount"`
}

// Ledger is the durable record of generation state. Every method is safe for
// concurrent use; mutations are serialised by one mutex and persisted before
// the mutex is released.
type Ledger struct {
	mu     sync.Mutex
	doc    *Document
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Ledger
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// Open loads the ledger at path. A missing file starts an empty ledger; a
// corrupt one is logged, set aside as <path>.corrupt and replaced. Pairs left
// queued or in progress by a previous process are marked failed and the queue
// is cleared. An empty path keeps the ledger in memory only.
func Open(path string, logger *slog.Logger, opts ...Option) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	l := &Ledger{
		doc:    newDocument(),
		path:   path,
		logger: logger.With("component", "ledger"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	if path != "" {
		if err := l.load(); err != nil {
			return nil, err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if n := l.reconcile(); n > 0 {
		l.logger.Warn("Reconciled interrupted generations", "pairs", n)
		if err := l.persist(); err != nil {
			return nil, errors.WrapFatal(err, "Ledger", "Open", "persist reconciled ledger")
		}
	}
	return l, nil
}

func (l *Ledger) load() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			l.logger.Info("No ledger found, starting empty", "path", l.path)
			return nil
		}
		return errors.WrapTransient(err, "Ledger", "Open", "read ledger")
	}

	doc := newDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		corrupt := l.path + ".corrupt"
		l.logger.Warn("Ledger corrupt, starting empty", "path", l.path, "moved_to", corrupt, "error", err)
		if renameErr := os.Rename(l.path, corrupt); renameErr != nil {
			l.logger.Warn("Failed to set aside corrupt ledger", "error", renameErr)
		}
		return nil
	}
	doc.normalize()
	l.doc = doc
	return nil
}

// reconcile converts leftover queued and in-progress records to failed.
func (l *Ledger) reconcile() int {
	now := l.now()
	n := 0
	for id, inner := range l.doc.Queued {
		for t := range inner {
			l.doc.Failed.set(id, t, FailedRecord{FailedAt: now, Error: interruptedMessage})
			n++
		}
	}
	for id, inner := range l.doc.InProgress {
		for t := range inner {
			l.doc.Failed.set(id, t, FailedRecord{FailedAt: now, Error: interruptedMessage})
			n++
		}
	}
	if n > 0 || len(l.doc.Queue) > 0 {
		l.doc.Queued = Records[QueuedRecord]{}
		l.doc.InProgress = Records[InProgressRecord]{}
		l.doc.Queue = []types.ItemID{}
	}
	return n
}

// persist writes the document through a temp file and rename. Caller holds mu.
func (l *Ledger) persist() error {
	l.doc.LastUpdated = l.now()
	if l.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(l.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %v: %w", err, errors.ErrLedgerPersist)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create ledger directory: %v: %w", err, errors.ErrLedgerPersist)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write ledger: %v: %w", err, errors.ErrLedgerPersist)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("rename ledger: %v: %w", err, errors.ErrLedgerPersist)
	}
	return nil
}

// mutate runs fn under the mutex and persists when fn reports a change.
func (l *Ledger) mutate(method string, fn func(d *Document) bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !fn(l.doc) {
		return nil
	}
	if err := l.persist(); err != nil {
		l.logger.Error("Ledger persist failed", "method", method, "error", err)
		return errors.WrapFatal(err, "Ledger", method, "persist ledger")
	}
	return nil
}

// SetCurrentItem records the current item. It does not trigger generation.
func (l *Ledger) SetCurrentItem(id types.ItemID) error {
	return l.mutate("SetCurrentItem", func(d *Document) bool {
		d.CurrentItemID = &id
		return true
	})
}

// CurrentItem returns the recorded current item.
func (l *Ledger) CurrentItem() (types.ItemID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.doc.CurrentItemID == nil {
		return 0, false
	}
	return *l.doc.CurrentItemID, true
}

// Enqueue adds ids that are not already in the queue, preserving first-insertion order.
func (l *Ledger) Enqueue(ids ...types.ItemID) error {
	return l.mutate("Enqueue", func(d *Document) bool {
		return d.enqueue(ids...)
	})
}

// TryReserve atomically claims a pair for generation. It succeeds only when the
// pair is not queued, not in progress and not completed; a failed pair may be
// reserved again. On success the pair is Queued and its item is in the queue.
func (l *Ledger) TryReserve(id types.ItemID, t types.ArtifactType) (bool, error) {
	reserved := false
	err := l.mutate("TryReserve", func(d *Document) bool {
		if st, ok := d.state(id, t); ok && st != StateFailed {
			return false
		}
		d.Failed.drop(id, t)
		d.Queued.set(id, t, QueuedRecord{QueuedAt: l.now()})
		d.enqueue(id)
		reserved = true
		return true
	})
	return reserved, err
}

// Release drops a queued reservation that could not be submitted.
func (l *Ledger) Release(id types.ItemID, t types.ArtifactType) error {
	return l.mutate("Release", func(d *Document) bool {
		if !d.Queued.drop(id, t) {
			return false
		}
		d.settle(id)
		return true
	})
}

// MarkInProgress moves a pair to InProgress, dropping any stale membership.
func (l *Ledger) MarkInProgress(id types.ItemID, t types.ArtifactType) error {
	return l.mutate("MarkInProgress", func(d *Document) bool {
		d.clearPair(id, t)
		d.InProgress.set(id, t, InProgressRecord{StartedAt: l.now()})
		d.enqueue(id)
		return true
	})
}

// MarkCompleted records a successful generation and folds duration into the
// running average: avg' = (avg*(n-1) + d) / n, with n the post-increment total.
func (l *Ledger) MarkCompleted(id types.ItemID, t types.ArtifactType, duration time.Duration, checksum string, size int64) error {
	return l.mutate("MarkCompleted", func(d *Document) bool {
		d.clearPair(id, t)
		seconds := duration.Seconds()
		d.Completed.set(id, t, CompletedRecord{
			CompletedAt:     l.now(),
			DurationSeconds: seconds,
			Checksum:        checksum,
			SizeBytes:       size,
		})

		d.Stats.TotalGenerated++
		n := float64(d.Stats.TotalGenerated)
		d.Stats.AverageGenerationSeconds = (d.Stats.AverageGenerationSeconds*(n-1) + seconds) / n

		d.settle(id)
		return true
	})
}

// MarkFailed records a failed generation with the error text.
func (l *Ledger) MarkFailed(id types.ItemID, t types.ArtifactType, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return l.mutate("MarkFailed", func(d *Document) bool {
		d.clearPair(id, t)
		d.Failed.set(id, t, FailedRecord{FailedAt: l.now(), Error: msg})
		d.Stats.TotalFailed++
		d.settle(id)
		return true
	})
}

// Invalidate drops the completed record for a pair so the next trigger
// regenerates it. The record is dropped only while it still matches observed,
// the record the caller inspected; a record written by a later regeneration is
// left alone. It reports whether a record was dropped.
func (l *Ledger) Invalidate(id types.ItemID, t types.ArtifactType, observed CompletedRecord) (bool, error) {
	dropped := false
	err := l.mutate("Invalidate", func(d *Document) bool {
		current, ok := d.Completed.get(id, t)
		if !ok || !current.sameGeneration(observed) {
			return false
		}
		dropped = d.Completed.drop(id, t)
		return dropped
	})
	return dropped, err
}

// IsCached reports whether the ledger holds a completed record for the pair.
// It does not look at the filesystem.
func (l *Ledger) IsCached(id types.ItemID, t types.ArtifactType) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.doc.Completed.get(id, t)
	return ok
}

// State returns the current state of a pair, or false if the ledger has no record.
func (l *Ledger) State(id types.ItemID, t types.ArtifactType) (State, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.doc.state(id, t)
}

// Completion returns the completed record for a pair.
func (l *Ledger) Completion(id types.ItemID, t types.ArtifactType) (CompletedRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.doc.Completed.get(id, t)
}

// RecordHit increments the hit counter and persists it.
func (l *Ledger) RecordHit() error {
	return l.mutate("RecordHit", func(d *Document) bool {
		d.Stats.CacheHits++
		return true
	})
}

// RecordMiss increments the miss counter and persists it.
func (l *Ledger) RecordMiss() error {
	return l.mutate("RecordMiss", func(d *Document) bool {
		d.Stats.CacheMisses++
		return true
	})
}

// Flush persists the document unconditionally.
func (l *Ledger) Flush() error {
	return l.mutate("Flush", func(*Document) bool { return true })
}

// QueueSnapshot returns queue and record counts.
func (l *Ledger) QueueSnapshot() QueueSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	queued := 0
	for _, inner := range l.doc.Queued {
		queued += len(inner)
	}
	return QueueSnapshot{
		QueueLength:        len(l.doc.Queue),
		QueuedCount:        queued,
		InProgressCount:    len(l.doc.InProgress),
		CompletedFileCount: len(l.doc.Completed),
		FailedFileCount:    len(l.doc.Failed),
	}
}

// Stats returns the aggregate counters.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.doc.Stats
}

// Snapshot returns a deep copy of the document.
func (l *Ledger) Snapshot() Document {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.doc.clone()
}
