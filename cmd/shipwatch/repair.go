package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/shipwatch/shipwatch/internal/types"
)

var repairCmd = &cobra.Command{
	Use:   "repair [~host/name...]",
	Short: "Rebuild channel counters from the stored events",
	Long: `Recompute total events, distinct authors, last event time and last
cursor from the stored events. Without arguments every registered channel
is repaired. Poll and analysis bookkeeping is kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()

		ids, err := parseChannelArgs(args)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			channels, err := store.ListChannels(ctx, types.FilterAll)
			if err != nil {
				return err
			}
			for _, ch := range channels {
				ids = append(ids, ch.ID)
			}
		}

		changed := 0
		for _, id := range ids {
			before, err := store.Aggregate(ctx, id)
			if err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			after, err := store.RecomputeAggregate(ctx, id)
			if err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			if before.TotalEvents != after.TotalEvents ||
				before.DistinctAuthors != after.DistinctAuthors ||
				before.LastCursor != after.LastCursor {
				changed++
				fmt.Printf("%s %s: %d→%d events, %d→%d authors\n", yellow("~"), id,
					before.TotalEvents, after.TotalEvents, before.DistinctAuthors, after.DistinctAuthors)
			}
		}
		fmt.Printf("%s Checked %d channels, %d corrected\n", green("✓"), len(ids), changed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(repairCmd)
}
