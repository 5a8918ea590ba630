package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360/windowcache/natsbridge"
)

func newCleanupCmd(flags *globalFlags) *cobra.Command {
	var (
		oversized bool
		remote    bool
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete artifacts older than cacheLimits.maxCacheAgeHours",
		Long: `Delete cached artifact files older than cacheLimits.maxCacheAgeHours and
print the report. Ledger records are left alone; lookups heal them.

With --oversized, only run when the cache exceeds
maxCacheSizeGb * cleanupThreshold, deleting the oldest files first.

With --remote the pass runs inside a serve process, reached over the NATS
cleanup subject. Without it the engine is opened locally; that fails while
serve holds the ledger lock.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if remote {
				cfg := flags.openConfig(cmd).Snapshot()
				payload, err := json.Marshal(natsbridge.CleanupRequest{Oversized: oversized})
				if err != nil {
					return err
				}
				data, err := remoteRequest(cmd, flags, cfg.NATS.URL, cfg.NATS.CleanupSubject, payload, timeout)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), json.RawMessage(data))
			}

			a, err := openApp(flags.openConfig(cmd), flags.logger(cmd))
			if err != nil {
				return err
			}
			defer a.Close()

			if oversized {
				report, ran, err := a.svc.CleanupIfOversized(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), natsbridge.CleanupReply{Ran: ran, Report: report})
			}

			report, err := a.svc.Cleanup(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().BoolVar(&oversized, "oversized", false, "Only clean up when over the size threshold")
	cmd.Flags().BoolVar(&remote, "remote", false, "Run the cleanup in a serve process over NATS")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Remote request timeout")
	return cmd
}
