package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360/windowcache/config"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "windowcache",
		Short: "Sliding-window artifact cache",
		Long: `windowcache keeps segment, plot and verification artifacts generated for
the items around the current item, so moving to a neighbour is served
from disk instead of recomputed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       versionString(),
	}
	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c",
		getEnv("WINDOWCACHE_CONFIG", "cache_config.json"),
		"Path to configuration file (env: WINDOWCACHE_CONFIG)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level",
		getEnv("WINDOWCACHE_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: WINDOWCACHE_LOG_LEVEL)")
	cmd.PersistentFlags().StringVar(&flags.logFormat, "log-format",
		getEnv("WINDOWCACHE_LOG_FORMAT", "text"),
		"Log format: json, text (env: WINDOWCACHE_LOG_FORMAT)")

	cmd.AddCommand(
		newServeCmd(flags),
		newStatusCmd(flags),
		newCleanupCmd(flags),
		newTargetsCmd(flags),
		newWindowCmd(flags),
		newConfigCmd(flags),
	)
	return cmd
}

// Execute runs the root command with signal-aware context.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "windowcache:", err)
		os.Exit(1)
	}
}

// logger builds the process logger. Logs go to stderr so stdout stays parseable.
func (f *globalFlags) logger(cmd *cobra.Command) *slog.Logger {
	return setupLogger(cmd.ErrOrStderr(), f.logLevel, f.logFormat)
}

func (f *globalFlags) openConfig(cmd *cobra.Command) *config.Store {
	return config.Open(f.configPath, f.logger(cmd))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
