package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360/windowcache/errors"
	"github.com/c360/windowcache/natsclient"
)

func newStatusCmd(flags *globalFlags) *cobra.Command {
	var (
		remote  bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the status summary as JSON",
		Long: `Print configuration, ledger, queue, cache directory usage and worker pool
statistics.

With --remote the summary is requested from a running serve process over
NATS. Without it the engine is opened locally; that fails while serve holds
the ledger lock.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if remote {
				cfg := flags.openConfig(cmd).Snapshot()
				data, err := remoteRequest(cmd, flags, cfg.NATS.URL, cfg.NATS.StatusSubject, nil, timeout)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), json.RawMessage(data))
			}

			logger := flags.logger(cmd)
			a, err := openApp(flags.openConfig(cmd), logger)
			if err != nil {
				return err
			}
			defer a.Close()

			return printJSON(cmd.OutOrStdout(), a.svc.StatusSummary(cmd.Context()))
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "Ask a running serve process over NATS")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Remote request timeout")

	return cmd
}

// remoteRequest sends one request to a serve process over NATS and returns
// the raw reply. Replies of the form {"error": "..."} become errors.
func remoteRequest(cmd *cobra.Command, flags *globalFlags, url, subject string, payload []byte, timeout time.Duration) ([]byte, error) {
	if url == "" || subject == "" {
		return nil, errors.WrapInvalid(errors.New("nats.url and a request subject are required"), "cli", "remoteRequest", "validate")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	client, err := natsclient.NewClient(url, natsclient.WithLogger(flags.logger(cmd)), natsclient.WithTimeout(timeout))
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	defer client.Close(context.WithoutCancel(ctx))

	data, err := client.Request(ctx, subject, payload)
	if err != nil {
		return nil, err
	}

	var reply struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &reply) == nil && reply.Error != "" {
		return nil, errors.Wrap(errors.New(reply.Error), "cli", "remoteRequest", subject)
	}
	return data, nil
}
