package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/c360/windowcache/config"
	"github.com/c360/windowcache/health"
	"github.com/c360/windowcache/metric"
	"github.com/c360/windowcache/natsbridge"
	"github.com/c360/windowcache/natsclient"
	"github.com/c360/windowcache/syncwatch"
	"github.com/c360/windowcache/types"
)

type serveOptions struct {
	shutdownTimeout time.Duration
	sizeCheck       time.Duration
	healthInterval  time.Duration
	resume          bool
}

func newServeCmd(flags *globalFlags) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the cache engine",
		Long: `Run the cache engine until interrupted.

The current item arrives through the sync file (sync.file) and the NATS
current-item subject (nats.url). Scheduled cleanup runs when autoCleanup is
set, and Prometheus metrics are served when metrics.enabled is set.

serve holds the ledger lock while it runs, so offline status and cleanup
must use --remote. Edits made with "config set" and "window" are picked up
from the configuration file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, flags, opts)
		},
	}

	cmd.Flags().DurationVar(&opts.shutdownTimeout, "shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	cmd.Flags().DurationVar(&opts.sizeCheck, "size-check", time.Minute, "Interval between cache size checks")
	cmd.Flags().DurationVar(&opts.healthInterval, "health-interval", 30*time.Second, "Interval between health probes")
	cmd.Flags().BoolVar(&opts.resume, "resume", true, "Re-trigger the window around the last recorded current item")

	return cmd
}

func runServe(cmd *cobra.Command, flags *globalFlags, opts *serveOptions) (err error) {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	logger := flags.logger(cmd)
	store := config.Open(flags.configPath, logger)

	a, err := openApp(store, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("Failed to close item store", "error", err)
		}
	}()

	// Workers outlive the signal context so Shutdown can drain them.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	if err := a.svc.Start(workCtx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), opts.shutdownTimeout)
		defer cancelShutdown()
		if shutdownErr := a.svc.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Error("Shutdown incomplete", "error", shutdownErr)
			if err == nil {
				err = shutdownErr
			}
		}
	}()

	cfg := store.Snapshot()
	g, gctx := errgroup.WithContext(ctx)

	monitor := health.NewMonitor()
	registerProbes(monitor, a)

	if opts.resume {
		if id, ok := a.ledger.CurrentItem(); ok {
			if _, err := a.svc.TriggerGeneration(gctx, id); err != nil {
				logger.Warn("Resume trigger failed", "item_id", id, "error", err)
			}
		}
	}

	if cfg.Sync.File != "" {
		w, err := syncwatch.New(cfg.Sync.File, cfg.SyncDebounce(), func(ctx context.Context, id types.ItemID) error {
			_, err := a.svc.SetCurrentItem(ctx, id)
			return err
		}, logger, syncwatch.WithResolver(a.items))
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(gctx) })
	}

	if cfg.NATS.URL != "" {
		client, err := natsclient.NewClient(cfg.NATS.URL,
			natsclient.WithLogger(logger),
			natsclient.WithName("windowcache"),
			natsclient.WithHealthChangeCallback(func(healthy bool) {
				if healthy {
					monitor.UpdateHealthy("nats", "connected")
				} else {
					monitor.UpdateUnhealthy("nats", "closed")
				}
			}),
			natsclient.WithDisconnectCallback(func(err error) {
				monitor.UpdateDegraded("nats", fmt.Sprintf("reconnecting: %v", err))
			}),
			natsclient.WithReconnectCallback(func() {
				// Current-item messages sent while disconnected are lost;
				// re-arm the window around the last known item.
				if id, ok := a.ledger.CurrentItem(); ok {
					if _, err := a.svc.TriggerGeneration(gctx, id); err != nil {
						logger.Warn("Trigger after reconnect failed", "item_id", id, "error", err)
					}
				}
			}),
		)
		if err != nil {
			return err
		}
		if err := client.Connect(gctx); err != nil {
			return err
		}
		bridge, err := natsbridge.New(natsbridge.Config{
			CurrentItemSubject: cfg.NATS.CurrentItemSubject,
			StatusSubject:      cfg.NATS.StatusSubject,
			CleanupSubject:     cfg.NATS.CleanupSubject,
		}, a.svc, client, logger)
		if err != nil {
			_ = client.Close(gctx)
			return err
		}
		if err := bridge.Start(gctx); err != nil {
			_ = client.Close(gctx)
			return err
		}
		monitor.Register("nats", natsProbe(client))
		g.Go(func() error {
			<-gctx.Done()
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), opts.shutdownTimeout)
			defer cancel()
			return client.Close(closeCtx)
		})
	}

	if cfg.Metrics.Enabled {
		server := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, a.registry)
		server.SetHealthHandler(monitor.Handler("windowcache"))
		g.Go(server.Start)
		g.Go(func() error {
			<-gctx.Done()
			return server.Stop()
		})
		logger.Info("Serving metrics", "address", server.Address())
	}

	if path := store.Path(); path != "" {
		g.Go(func() error { return store.Watch(gctx, cfg.SyncDebounce()) })
	}
	g.Go(func() error { return a.svc.RunMaintenance(gctx, opts.sizeCheck) })
	g.Go(func() error { return monitor.Run(gctx, opts.healthInterval) })

	logger.Info("windowcache running", "config", flags.configPath)
	return g.Wait()
}
