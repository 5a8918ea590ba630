package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360/windowcache/config"
	"github.com/c360/windowcache/errors"
	"github.com/c360/windowcache/ledger"
	"github.com/c360/windowcache/metric"
	"github.com/c360/windowcache/pkg/worker"
	"github.com/c360/windowcache/producer"
	"github.com/c360/windowcache/sequence"
	"github.com/c360/windowcache/storage"
	"github.com/c360/windowcache/types"
)

// Deps lists everything a Service needs. Config, Ledger, Oracle and Store are
// required. A nil producer makes generation of its artifact type fail.
type Deps struct {
	Config   *config.Store
	Ledger   *ledger.Ledger
	Oracle   *sequence.Oracle
	Segments producer.SegmentProducer
	Plots    producer.PlotProducer
	Store    storage.Store
	Logger   *slog.Logger
	Metrics  *metric.MetricsRegistry

	// Now overrides the clock used for cleanup cutoffs.
	Now func() time.Time
}

// Task is one unit of background work: the artifact types reserved for an item.
type Task struct {
	RunID  string               `json:"runId"`
	ItemID types.ItemID         `json:"itemId"`
	Types  []types.ArtifactType `json:"types"`
}

// TriggerResult reports what a trigger computed and submitted.
type TriggerResult struct {
	Targets  []types.ItemID `json:"targets"`
	Queued   []types.ItemID `json:"queued"`
	Rejected []types.ItemID `json:"rejected,omitempty"`
}

// dirCreator is implemented by stores that can materialise an empty prefix.
type dirCreator interface {
	EnsureDir(prefix string) error
}

// Service coordinates window targeting, ledger reservation and background
// generation. Construct it with New; there is no package-level instance.
type Service struct {
	config   *config.Store
	ledger   *ledger.Ledger
	oracle   *sequence.Oracle
	segments producer.SegmentProducer
	plots    producer.PlotProducer
	store    storage.Store
	logger   *slog.Logger
	metrics  *orchestratorMetrics
	now      func() time.Time

	pool *worker.Pool[Task]
}

// New wires a Service. The pool is sized from performance.maxWorkers and
// performance.queueSize at construction time; call Start before triggering.
func New(deps Deps) (*Service, error) {
	switch {
	case deps.Config == nil:
		return nil, errors.WrapInvalid(errors.New("config store is required"), "Service", "New", "validate dependencies")
	case deps.Ledger == nil:
		return nil, errors.WrapInvalid(errors.New("ledger is required"), "Service", "New", "validate dependencies")
	case deps.Oracle == nil:
		return nil, errors.WrapInvalid(errors.New("oracle is required"), "Service", "New", "validate dependencies")
	case deps.Store == nil:
		return nil, errors.WrapInvalid(errors.New("artifact store is required"), "Service", "New", "validate dependencies")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	m, err := newOrchestratorMetrics(deps.Metrics)
	if err != nil {
		return nil, errors.Wrap(err, "Service", "New", "register metrics")
	}

	if dc, ok := deps.Store.(dirCreator); ok {
		for _, t := range types.GenerationOrder {
			if err := dc.EnsureDir(dirOf(t)); err != nil {
				return nil, errors.Wrap(err, "Service", "New", "create cache directory")
			}
		}
	}

	s := &Service{
		config:   deps.Config,
		ledger:   deps.Ledger,
		oracle:   deps.Oracle,
		segments: deps.Segments,
		plots:    deps.Plots,
		store:    deps.Store,
		logger:   logger.With("component", "orchestrator"),
		metrics:  m,
		now:      now,
	}

	perf := deps.Config.Snapshot().Performance
	var opts []worker.Option[Task]
	if deps.Metrics != nil {
		opts = append(opts, worker.WithMetricsRegistry[Task](deps.Metrics, "windowcache_generation"))
	}
	s.pool = worker.NewPool(perf.MaxWorkers, perf.QueueSize, s.process, opts...)

	return s, nil
}

// Start launches the worker pool. ctx bounds every task the pool runs.
func (s *Service) Start(ctx context.Context) error {
	if err := s.pool.Start(ctx); err != nil {
		return errors.Wrap(err, "Service", "Start", "start worker pool")
	}
	stats := s.pool.Stats()
	s.logger.Info("Cache orchestrator started", "workers", stats.Workers, "queue_size", stats.QueueSize)
	return nil
}

// Shutdown stops accepting tasks, drains in-flight work until ctx is done and
// flushes the ledger counters.
func (s *Service) Shutdown(ctx context.Context) error {
	stopErr := s.pool.Stop(ctx)
	if stopErr != nil {
		s.logger.Warn("Worker pool did not drain", "error", stopErr)
	}
	if err := s.ledger.Flush(); err != nil {
		return errors.Join(stopErr, err)
	}
	s.logger.Info("Cache orchestrator stopped")
	return stopErr
}

// SetCurrentItem records id as the current item and, when background
// generation is enabled, triggers generation around it.
func (s *Service) SetCurrentItem(ctx context.Context, id types.ItemID) (TriggerResult, error) {
	if err := s.ledger.SetCurrentItem(id); err != nil {
		return TriggerResult{}, err
	}
	s.logger.Debug("Current item set", "item_id", id)

	if !s.config.Snapshot().EnableBackgroundGeneration {
		return TriggerResult{}, nil
	}
	return s.TriggerGeneration(ctx, id)
}

// TriggerGeneration reserves every enabled artifact type of every target in
// the window around id and submits one task per target with at least one
// reservation. Pairs already queued, in progress or completed are skipped, so
// repeating a trigger without ledger changes submits nothing.
func (s *Service) TriggerGeneration(ctx context.Context, id types.ItemID) (TriggerResult, error) {
	cfg := s.config.Snapshot()
	targets := s.oracle.ComputeTargets(ctx, id, cfg.CacheWindow.Nr, cfg.CacheWindow.Nf)
	enabled := enabledTypes(cfg)

	result := TriggerResult{Targets: targets, Queued: []types.ItemID{}}
	var errs []error

	for _, target := range targets {
		var reserved []types.ArtifactType
		for _, t := range enabled {
			ok, err := s.ledger.TryReserve(target, t)
			if err != nil {
				errs = append(errs, err)
			}
			if ok {
				reserved = append(reserved, t)
			}
		}
		if len(reserved) == 0 {
			continue
		}

		task := Task{RunID: uuid.NewString(), ItemID: target, Types: reserved}
		if err := s.pool.Submit(task); err != nil {
			s.logger.Warn("Generation task rejected, releasing reservations",
				"item_id", target, "types", reserved, "error", err)
			for _, t := range reserved {
				if relErr := s.ledger.Release(target, t); relErr != nil {
					errs = append(errs, relErr)
				}
			}
			result.Rejected = append(result.Rejected, target)
			continue
		}
		result.Queued = append(result.Queued, target)
	}

	s.metrics.recordTrigger(len(result.Queued), len(result.Rejected))
	if len(result.Queued) > 0 {
		s.logger.Info("Queued background generation",
			"current_item", id, "targets", len(targets), "queued", len(result.Queued))
	}

	if len(errs) > 0 {
		return result, fmt.Errorf("Service.TriggerGeneration: %w", errors.Join(errs...))
	}
	return result, nil
}

// NextOf returns the item after id in the sequence.
func (s *Service) NextOf(ctx context.Context, id types.ItemID) (types.ItemID, bool) {
	return s.oracle.NextOf(ctx, id)
}

// PreviousOf returns the item before id in the sequence.
func (s *Service) PreviousOf(ctx context.Context, id types.ItemID) (types.ItemID, bool) {
	return s.oracle.PreviousOf(ctx, id)
}

// Config returns the configuration store the service reads from.
func (s *Service) Config() *config.Store {
	return s.config
}

func (s *Service) process(ctx context.Context, task Task) error {
	return s.GenerateAll(ctx, task)
}

// enabledTypes returns the enabled artifact types in generation order.
func enabledTypes(cfg *config.Config) []types.ArtifactType {
	var enabled []types.ArtifactType
	for _, t := range types.GenerationOrder {
		if cfg.CacheTypeEnabled(string(t)) {
			enabled = append(enabled, t)
		}
	}
	return enabled
}
