package main

import (
	"log/slog"

	"github.com/c360/windowcache/config"
	"github.com/c360/windowcache/errors"
	"github.com/c360/windowcache/itemstore"
	"github.com/c360/windowcache/ledger"
	"github.com/c360/windowcache/metric"
	"github.com/c360/windowcache/orchestrator"
	"github.com/c360/windowcache/pkg/flock"
	"github.com/c360/windowcache/producer"
	"github.com/c360/windowcache/sequence"
	"github.com/c360/windowcache/storage/filestore"
)

// app holds the wired engine for one command invocation.
type app struct {
	cfg      *config.Store
	items    *itemstore.SQLStore
	oracle   *sequence.Oracle
	ledger   *ledger.Ledger
	svc      *orchestrator.Service
	registry *metric.MetricsRegistry
	lock     *flock.FileLock
	logger   *slog.Logger
}

// openOracle connects the item store named in the configuration.
func openOracle(cfg *config.Config, logger *slog.Logger) (*itemstore.SQLStore, *sequence.Oracle, error) {
	items, err := itemstore.Open(itemstore.Config{
		Driver:      cfg.ItemStore.Driver,
		DSN:         cfg.ItemStore.DSN,
		Query:       cfg.ItemStore.Query,
		LookupQuery: cfg.ItemStore.LookupQuery,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return items, sequence.NewOracle(items, logger), nil
}

// buildProducers returns exec-backed producers for configured commands.
// An unconfigured command leaves its producer nil.
func buildProducers(cfg *config.Config, logger *slog.Logger) (producer.SegmentProducer, producer.PlotProducer, error) {
	var (
		segments producer.SegmentProducer
		plots    producer.PlotProducer
	)
	if len(cfg.Producers.SegmentsCommand) > 0 {
		p, err := producer.NewExecSegmentProducer(cfg.Producers.SegmentsCommand, logger)
		if err != nil {
			return nil, nil, err
		}
		segments = p
	}
	if len(cfg.Producers.PlotsCommand) > 0 {
		p, err := producer.NewExecPlotProducer(cfg.Producers.PlotsCommand, logger)
		if err != nil {
			return nil, nil, err
		}
		plots = p
	}
	return segments, plots, nil
}

// errLedgerInUse explains a lock conflict to CLI users.
var errLedgerInUse = errors.New("the cache is owned by a running serve process; use --remote")

// openApp wires every collaborator of the orchestrator. It takes the ledger
// lock first: opening the ledger marks interrupted work as failed, which must
// never happen to a live serve process. A held lock fails with errLedgerInUse.
func openApp(store *config.Store, logger *slog.Logger) (*app, error) {
	cfg := store.Snapshot()

	lock := flock.New(cfg.LockPath())
	if err := lock.TryLock(); err != nil {
		if errors.Is(err, flock.ErrLocked) {
			return nil, errors.Wrap(errors.Join(errLedgerInUse, err), "app", "open", "lock ledger")
		}
		return nil, errors.Wrap(err, "app", "open", "lock ledger")
	}

	items, oracle, err := openOracle(cfg, logger)
	if err != nil {
		_ = lock.Unlock()
		return nil, errors.Wrap(err, "app", "open", "open item store")
	}
	fail := func(err error, action string) (*app, error) {
		_ = items.Close()
		_ = lock.Unlock()
		return nil, errors.Wrap(err, "app", "open", action)
	}

	led, err := ledger.Open(cfg.LedgerPath(), logger)
	if err != nil {
		return fail(err, "open ledger")
	}

	registry := metric.NewMetricsRegistry()
	artifacts, err := filestore.New(cfg.Storage.CacheDir, registry)
	if err != nil {
		return fail(err, "open artifact store")
	}

	segments, plots, err := buildProducers(cfg, logger)
	if err != nil {
		return fail(err, "build producers")
	}

	svc, err := orchestrator.New(orchestrator.Deps{
		Config:   store,
		Ledger:   led,
		Oracle:   oracle,
		Segments: segments,
		Plots:    plots,
		Store:    artifacts,
		Logger:   logger,
		Metrics:  registry,
	})
	if err != nil {
		return fail(err, "create orchestrator")
	}

	return &app{
		cfg:      store,
		items:    items,
		oracle:   oracle,
		ledger:   led,
		svc:      svc,
		registry: registry,
		lock:     lock,
		logger:   logger,
	}, nil
}

// Close releases the item store and the ledger lock.
func (a *app) Close() error {
	return errors.Join(a.items.Close(), a.lock.Unlock())
}
