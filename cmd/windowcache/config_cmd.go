package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newConfigCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read and change configuration",
		Example: `  windowcache config get
  windowcache config get cacheLimits.maxCacheAgeHours
  windowcache config set cacheTypes.plots false
  windowcache config set producers.segmentsCommand '["python3","segment.py"]'`,
	}

	cmd.AddCommand(newConfigGetCmd(flags), newConfigSetCmd(flags))
	return cmd
}

func newConfigGetCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get [path]",
		Short: "Print the effective configuration or one dotted path",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := flags.openConfig(cmd)
			if len(args) == 0 {
				return printJSON(cmd.OutOrStdout(), store.Snapshot())
			}
			return printJSON(cmd.OutOrStdout(), store.Get(args[0], nil))
		},
	}
}

func newConfigSetCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "set <path> <value>",
		Short: "Set one configuration leaf and persist it",
		Long: `Set one configuration leaf and persist it. The value is decoded as JSON
when possible and used as a plain string otherwise.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := flags.openConfig(cmd)
			value := parseValue(args[1])
			if err := store.Set(args[0], value); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), store.Get(args[0], nil))
		},
	}
}

// parseValue decodes s as JSON, falling back to the raw string.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}
