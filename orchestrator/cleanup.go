package orchestrator

import (
	"context"
	"sort"
	"time"

	"github.com/c360/windowcache/storage"
	"github.com/c360/windowcache/types"
)

// CleanupReport summarises one cleanup pass.
type CleanupReport struct {
	Cutoff     time.Time `json:"cutoff"`
	Scanned    int       `json:"scanned"`
	Deleted    int       `json:"deleted"`
	Failed     int       `json:"failed"`
	FreedBytes int64     `json:"freedBytes"`
}

// Cleanup deletes every artifact file last modified before now minus
// cacheLimits.maxCacheAgeHours. Failed deletions are logged and skipped. The
// ledger is not touched; lookups invalidate records whose files are gone.
func (s *Service) Cleanup(ctx context.Context) (CleanupReport, error) {
	cutoff := s.now().Add(-s.config.Snapshot().MaxCacheAge())
	report := CleanupReport{Cutoff: cutoff}

	objects, err := s.listArtifacts(ctx)
	if err != nil {
		return report, err
	}
	report.Scanned = len(objects)

	for _, obj := range objects {
		if !obj.ModTime.Before(cutoff) {
			continue
		}
		s.deleteObject(ctx, obj, &report)
	}

	s.metrics.recordCleanup(report.Deleted, report.Failed)
	s.logger.Info("Cache cleanup completed",
		"scanned", report.Scanned, "deleted", report.Deleted, "failed", report.Failed, "freed_bytes", report.FreedBytes)
	return report, nil
}

// CleanupIfOversized runs an early pass when the artifact files exceed
// maxCacheSizeGb × cleanupThreshold. Files are deleted oldest first until the
// total falls under that limit. It reports whether a pass ran.
func (s *Service) CleanupIfOversized(ctx context.Context) (CleanupReport, bool, error) {
	limit := s.config.Snapshot().CleanupTriggerBytes()
	report := CleanupReport{Cutoff: s.now()}
	if limit <= 0 {
		return report, false, nil
	}

	objects, err := s.listArtifacts(ctx)
	if err != nil {
		return report, false, err
	}
	report.Scanned = len(objects)

	var total int64
	for _, obj := range objects {
		total += obj.Size
	}
	if total <= limit {
		return report, false, nil
	}

	s.logger.Info("Cache over size limit, evicting oldest artifacts", "total_bytes", total, "limit_bytes", limit)
	sort.SliceStable(objects, func(i, j int) bool { return objects[i].ModTime.Before(objects[j].ModTime) })
	for _, obj := range objects {
		if total-report.FreedBytes <= limit {
			break
		}
		s.deleteObject(ctx, obj, &report)
	}

	s.metrics.recordCleanup(report.Deleted, report.Failed)
	return report, true, nil
}

// RunMaintenance runs Cleanup every cleanupIntervalMinutes while autoCleanup is
// enabled and checks the size limit every sizeCheck. It returns when ctx is done.
func (s *Service) RunMaintenance(ctx context.Context, sizeCheck time.Duration) error {
	interval := s.config.Snapshot().CleanupInterval()
	if interval <= 0 {
		interval = time.Hour
	}
	if sizeCheck <= 0 {
		sizeCheck = time.Minute
	}

	cleanupTicker := time.NewTicker(interval)
	defer cleanupTicker.Stop()
	sizeTicker := time.NewTicker(sizeCheck)
	defer sizeTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-cleanupTicker.C:
			if !s.config.Snapshot().AutoCleanup {
				continue
			}
			if _, err := s.Cleanup(ctx); err != nil {
				s.logger.Error("Scheduled cleanup failed", "error", err)
			}
		case <-sizeTicker.C:
			if _, _, err := s.CleanupIfOversized(ctx); err != nil {
				s.logger.Error("Size check failed", "error", err)
			}
		}
	}
}

func (s *Service) listArtifacts(ctx context.Context) ([]storage.ObjectInfo, error) {
	var objects []storage.ObjectInfo
	for _, t := range types.GenerationOrder {
		infos, err := s.store.List(ctx, dirOf(t))
		if err != nil {
			return nil, err
		}
		objects = append(objects, infos...)
	}
	return objects, nil
}

func (s *Service) deleteObject(ctx context.Context, obj storage.ObjectInfo, report *CleanupReport) {
	if err := s.store.Delete(ctx, obj.Key); err != nil {
		report.Failed++
		s.logger.Error("Failed to remove cache file", "key", obj.Key, "error", err)
		return
	}
	report.Deleted++
	report.FreedBytes += obj.Size
	s.logger.Debug("Removed cache file", "key", obj.Key, "mod_time", obj.ModTime)
}
