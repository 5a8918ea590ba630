package orchestrator

import (
	"context"

	"github.com/c360/windowcache/config"
	"github.com/c360/windowcache/ledger"
	"github.com/c360/windowcache/pkg/worker"
	"github.com/c360/windowcache/types"
)

// DirUsage is the file count and byte total of one artifact directory.
type DirUsage struct {
	Files int   `json:"files"`
	Bytes int64 `json:"bytes"`
}

// Summary is a point-in-time view of the whole cache engine.
type Summary struct {
	Config    *config.Config       `json:"config"`
	Ledger    ledger.Document      `json:"ledger"`
	Queue     ledger.QueueSnapshot `json:"queue"`
	CacheDirs map[string]DirUsage  `json:"cacheDirs"`
	Pool      worker.PoolStats     `json:"pool"`
}

// StatusSummary collects configuration, ledger, queue, directory usage and
// pool statistics. A directory that cannot be listed is reported empty.
func (s *Service) StatusSummary(ctx context.Context) Summary {
	dirs := make(map[string]DirUsage, len(types.GenerationOrder))
	for _, t := range types.GenerationOrder {
		var usage DirUsage
		infos, err := s.store.List(ctx, dirOf(t))
		if err != nil {
			s.logger.Warn("Failed to list cache directory", "artifact_type", t, "error", err)
		}
		for _, info := range infos {
			usage.Files++
			usage.Bytes += info.Size
		}
		dirs[string(t)] = usage
		s.metrics.setCacheBytes(string(t), usage.Bytes)
	}

	return Summary{
		Config:    s.config.Snapshot(),
		Ledger:    s.ledger.Snapshot(),
		Queue:     s.ledger.QueueSnapshot(),
		CacheDirs: dirs,
		Pool:      s.pool.Stats(),
	}
}

// PoolStats returns the worker pool counters.
func (s *Service) PoolStats() worker.PoolStats {
	return s.pool.Stats()
}
