package main

import (
	"github.com/spf13/cobra"

	"github.com/c360/windowcache/sequence"
	"github.com/c360/windowcache/types"
)

func newTargetsCmd(flags *globalFlags) *cobra.Command {
	var nr, nf int

	cmd := &cobra.Command{
		Use:   "targets <item-id>",
		Short: "Print the window around an item",
		Long: `Print the item ids that form the cache window around <item-id>, read
from the item store. --nr and --nf override cacheWindow.`,
		Example: `  windowcache targets 110
  windowcache targets 110 --nr 1 --nf 2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := types.ParseItemID(args[0])
			if err != nil {
				return err
			}

			logger := flags.logger(cmd)
			cfg := flags.openConfig(cmd).Snapshot()
			if !cmd.Flags().Changed("nr") {
				nr = cfg.CacheWindow.Nr
			}
			if !cmd.Flags().Changed("nf") {
				nf = cfg.CacheWindow.Nf
			}

			items, oracle, err := openOracle(cfg, logger)
			if err != nil {
				return err
			}
			defer items.Close()

			seq, err := oracle.Sequence(cmd.Context())
			if err != nil {
				return err
			}
			targets, err := sequence.Window(seq, id, nr, nf)
			if err != nil {
				return err
			}

			out := struct {
				Current types.ItemID   `json:"current"`
				Nr      int            `json:"Nr"`
				Nf      int            `json:"Nf"`
				Targets []types.ItemID `json:"targets"`
			}{id, nr, nf, targets}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().IntVar(&nr, "nr", 0, "Items behind the current item")
	cmd.Flags().IntVar(&nf, "nf", 0, "Items ahead of the current item")
	return cmd
}
