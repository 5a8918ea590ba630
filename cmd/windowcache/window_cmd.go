package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/c360/windowcache/errors"
)

func newWindowCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "window [<nr> <nf>]",
		Short: "Show or set the cache window",
		Long: `Without arguments, print cacheWindow. With two arguments, set Nr (0..50)
and Nf (0..100) and persist the configuration file.`,
		Example: `  windowcache window
  windowcache window 3 10`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return errors.WrapInvalid(errors.New("expected no arguments or <nr> <nf>"), "window", "args", "validate")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			store := flags.openConfig(cmd)

			if len(args) == 2 {
				nr, err := strconv.Atoi(args[0])
				if err != nil {
					return errors.WrapInvalid(err, "window", "set", "parse nr")
				}
				nf, err := strconv.Atoi(args[1])
				if err != nil {
					return errors.WrapInvalid(err, "window", "set", "parse nf")
				}
				if err := store.SetCacheWindow(nr, nf); err != nil {
					return err
				}
			}

			nr, nf := store.GetCacheWindow()
			return printJSON(cmd.OutOrStdout(), map[string]int{"Nr": nr, "Nf": nf})
		},
	}
}
