package ledger

import (
	"time"

	"github.com/c360/windowcache/types"
)

// State is the generation state of one (item, artifact type) pair.
type State int

// Generation states. Transitions are Queued → InProgress → Completed|Failed.
const (
	StateQueued State = iota + 1
	StateInProgress
	StateCompleted
	StateFailed
)

// String returns the lowercase state name
func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateInProgress:
		return "in_progress"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// QueuedRecord marks a reserved pair that is waiting for a worker.
type QueuedRecord struct {
	QueuedAt time.Time `json:"queuedAt"`
}

// InProgressRecord marks a pair a worker is generating.
type InProgressRecord struct {
	StartedAt time.Time `json:"startedAt"`
}

// CompletedRecord describes a successfully generated artifact.
type CompletedRecord struct {
	CompletedAt     time.Time `json:"completedAt"`
	DurationSeconds float64   `json:"durationSeconds"`
	Checksum        string    `json:"checksum,omitempty"`
	SizeBytes       int64     `json:"sizeBytes"`
}

// sameGeneration reports whether two records describe the same completed run.
func (r CompletedRecord) sameGeneration(o CompletedRecord) bool {
	return r.CompletedAt.Equal(o.CompletedAt) && r.Checksum == o.Checksum
}

// FailedRecord describes the last failed attempt for a pair.
type FailedRecord struct {
	FailedAt time.Time `json:"failedAt"`
	Error    string    `json:"error"`
}

// Stats are the aggregate counters.
type Stats struct {
	TotalGenerated           int64   `json:"totalGenerated"`
	TotalFailed              int64   `json:"totalFailed"`
	CacheHits                int64   `json:"cacheHits"`
	CacheMisses              int64   `json:"cacheMisses"`
	AverageGenerationSeconds float64 `json:"averageGenerationSeconds"`
}

// Records maps item → artifact type → record.
type Records[R any] map[types.ItemID]map[types.ArtifactType]R

func (p Records[R]) get(id types.ItemID, t types.ArtifactType) (R, bool) {
	r, ok := p[id][t]
	return r, ok
}

func (p Records[R]) set(id types.ItemID, t types.ArtifactType, r R) {
	inner, ok := p[id]
	if !ok {
		inner = make(map[types.ArtifactType]R)
		p[id] = inner
	}
	inner[t] = r
}

// drop removes a record and reports whether one existed. Empty items are pruned.
func (p Records[R]) drop(id types.ItemID, t types.ArtifactType) bool {
	inner, ok := p[id]
	if !ok {
		return false
	}
	if _, ok := inner[t]; !ok {
		return false
	}
	delete(inner, t)
	if len(inner) == 0 {
		delete(p, id)
	}
	return true
}

func (p Records[R]) clone() Records[R] {
	out := make(Records[R], len(p))
	for id, inner := range p {
		c := make(map[types.ArtifactType]R, len(inner))
		for t, r := range inner {
			c[t] = r
		}
		out[id] = c
	}
	return out
}

// Document is the persisted ledger. At most one of Queued, InProgress,
// Completed and Failed holds a record for a given pair.
type Document struct {
	Queue         []types.ItemID            `json:"queue"`
	Queued        Records[QueuedRecord]     `json:"queued"`
	InProgress    Records[InProgressRecord] `json:"inProgress"`
	Completed     Records[CompletedRecord]  `json:"completed"`
	Failed        Records[FailedRecord]     `json:"failed"`
	Stats         Stats                     `json:"stats"`
	CurrentItemID *types.ItemID             `json:"currentItemId,omitempty"`
	LastUpdated   time.Time                 `json:"lastUpdated"`
}

func newDocument() *Document {
	return &Document{
		Queue:      []types.ItemID{},
		Queued:     Records[QueuedRecord]{},
		InProgress: Records[InProgressRecord]{},
		Completed:  Records[CompletedRecord]{},
		Failed:     Records[FailedRecord]{},
	}
}

// normalize replaces nil sections left by an older or partial document.
func (d *Document) normalize() {
	if d.Queue == nil {
		d.Queue = []types.ItemID{}
	}
	if d.Queued == nil {
		d.Queued = Records[QueuedRecord]{}
	}
	if d.InProgress == nil {
		d.InProgress = Records[InProgressRecord]{}
	}
	if d.Completed == nil {
		d.Completed = Records[CompletedRecord]{}
	}
	if d.Failed == nil {
		d.Failed = Records[FailedRecord]{}
	}
}

func (d *Document) clone() Document {
	out := Document{
		Queue:       append([]types.ItemID{}, d.Queue...),
		Queued:      d.Queued.clone(),
		InProgress:  d.InProgress.clone(),
		Completed:   d.Completed.clone(),
		Failed:      d.Failed.clone(),
		Stats:       d.Stats,
		LastUpdated: d.LastUpdated,
	}
	if d.CurrentItemID != nil {
		id := *d.CurrentItemID
		out.CurrentItemID = &id
	}
	return out
}

// state returns the current state of a pair.
func (d *Document) state(id types.ItemID, t types.ArtifactType) (State, bool) {
	if _, ok := d.Queued.get(id, t); ok {
		return StateQueued, true
	}
	if _, ok := d.InProgress.get(id, t); ok {
		return StateInProgress, true
	}
	if _, ok := d.Completed.get(id, t); ok {
		return StateCompleted, true
	}
	if _, ok := d.Failed.get(id, t); ok {
		return StateFailed, true
	}
	return 0, false
}

// clearPair removes every record for a pair.
func (d *Document) clearPair(id types.ItemID, t types.ArtifactType) {
	d.Queued.drop(id, t)
	d.InProgress.drop(id, t)
	d.Completed.drop(id, t)
	d.Failed.drop(id, t)
}

func (d *Document) inQueue(id types.ItemID) bool {
	for _, q := range d.Queue {
		if q == id {
			return true
		}
	}
	return false
}

// enqueue appends ids not already queued, keeping first-insertion order.
func (d *Document) enqueue(ids ...types.ItemID) bool {
	changed := false
	for _, id := range ids {
		if !d.inQueue(id) {
			d.Queue = append(d.Queue, id)
			changed = true
		}
	}
	return changed
}

// settle removes id from the queue once it has no queued or in-progress types.
func (d *Document) settle(id types.ItemID) {
	if len(d.Queued[id]) > 0 || len(d.InProgress[id]) > 0 {
		return
	}
	for i, q := range d.Queue {
		if q == id {
			d.Queue = append(d.Queue[:i], d.Queue[i+1:]...)
			return
		}
	}
}
