package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/c360/windowcache/errors"
	"github.com/c360/windowcache/ledger"
	"github.com/c360/windowcache/storage"
	"github.com/c360/windowcache/types"
)

// Payload is a cached artifact as read back from the store. Data holds the raw
// JSON document and is empty for verification.
type Payload struct {
	ItemID     types.ItemID           `json:"itemId"`
	Type       types.ArtifactType     `json:"type"`
	Data       json.RawMessage        `json:"data,omitempty"`
	Completion ledger.CompletedRecord `json:"completion"`
}

// GetCachedArtifact returns the cached artifact for a pair and counts a hit or
// a miss. A file that is missing, unreadable, not JSON or whose checksum
// disagrees with the ledger is a miss; when the ledger still claims the pair is
// completed its record is dropped so the next trigger regenerates it.
func (s *Service) GetCachedArtifact(ctx context.Context, id types.ItemID, t types.ArtifactType) (Payload, bool) {
	if !t.Valid() {
		s.logger.Warn("Lookup of unknown artifact type", "item_id", id, "artifact_type", t)
		return Payload{}, false
	}

	rec, completed := s.ledger.Completion(id, t)

	key, hasFile := artifactKey(id, t)
	if !hasFile {
		if !completed {
			return s.miss(id, t)
		}
		return s.hit(Payload{ItemID: id, Type: t, Completion: rec})
	}

	data, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			if completed {
				s.selfHeal(id, t, rec, "artifact file missing")
			}
		} else {
			s.logger.Warn("Cached artifact unreadable", "item_id", id, "artifact_type", t, "error", err)
		}
		return s.miss(id, t)
	}

	if !json.Valid(data) {
		s.logger.Warn("Cached artifact corrupt", "item_id", id, "artifact_type", t, "error", errors.ErrArtifactCorrupt)
		if completed {
			s.selfHeal(id, t, rec, "artifact not valid JSON")
		}
		return s.miss(id, t)
	}
	if completed && rec.Checksum != "" && rec.Checksum != checksumOf(data) {
		s.logger.Warn("Cached artifact checksum mismatch", "item_id", id, "artifact_type", t, "error", errors.ErrArtifactCorrupt)
		s.selfHeal(id, t, rec, "checksum mismatch")
		return s.miss(id, t)
	}

	return s.hit(Payload{ItemID: id, Type: t, Data: data, Completion: rec})
}

// GetCachedSegments decodes the cached segments of an item.
func (s *Service) GetCachedSegments(ctx context.Context, id types.ItemID) ([]types.Segment, bool) {
	p, ok := s.GetCachedArtifact(ctx, id, types.ArtifactSegments)
	if !ok {
		return nil, false
	}
	var segments []types.Segment
	if err := json.Unmarshal(p.Data, &segments); err != nil {
		s.logger.Warn("Cached segments do not decode", "item_id", id, "error", err)
		return nil, false
	}
	return segments, true
}

// GetCachedPlots decodes the cached plot references of an item.
func (s *Service) GetCachedPlots(ctx context.Context, id types.ItemID) (types.PlotRefs, bool) {
	p, ok := s.GetCachedArtifact(ctx, id, types.ArtifactPlots)
	if !ok {
		return nil, false
	}
	refs := types.PlotRefs{}
	if err := json.Unmarshal(p.Data, &refs); err != nil {
		s.logger.Warn("Cached plots do not decode", "item_id", id, "error", err)
		return nil, false
	}
	return refs, true
}

func (s *Service) hit(p Payload) (Payload, bool) {
	if err := s.ledger.RecordHit(); err != nil {
		s.logger.Warn("Failed to record cache hit", "item_id", p.ItemID, "artifact_type", p.Type, "error", err)
	}
	s.metrics.recordLookup(p.Type, true)
	return p, true
}

func (s *Service) miss(id types.ItemID, t types.ArtifactType) (Payload, bool) {
	if err := s.ledger.RecordMiss(); err != nil {
		s.logger.Warn("Failed to record cache miss", "item_id", id, "artifact_type", t, "error", err)
	}
	s.metrics.recordLookup(t, false)
	return Payload{}, false
}

// selfHeal drops the record the lookup observed. A regeneration that completed
// after the lookup read rec keeps its record.
func (s *Service) selfHeal(id types.ItemID, t types.ArtifactType, rec ledger.CompletedRecord, reason string) {
	dropped, err := s.ledger.Invalidate(id, t, rec)
	if err != nil {
		s.logger.Error("Failed to invalidate ledger record", "item_id", id, "artifact_type", t, "error", err)
		return
	}
	if dropped {
		s.metrics.recordSelfHeal(t)
		s.logger.Info("Invalidated stale ledger record", "item_id", id, "artifact_type", t, "reason", reason)
	}
}
