package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/shipwatch/shipwatch/internal/storage"
	"github.com/shipwatch/shipwatch/internal/types"
)

var (
	channelsListAll  bool
	channelsAddHigh  bool
	channelsAddStart bool
)

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List and manage registered channels",
	Long: `Manage the channel registry.

Channels are never deleted: disable a channel to stop polling and analyzing
it while keeping its history.

Channel ids look like ~host/name, e.g. ~halbex-palheb/uf-public/general.`,
}

var channelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enabled channels (--all includes disabled ones)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := types.FilterEnabled
		if channelsListAll {
			filter = types.FilterAll
		}
		channels, err := store.ListChannels(cmd.Context(), filter)
		if err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		for _, ch := range channels {
			icon := green("●")
			if !ch.Enabled {
				icon = gray("○")
			}
			prio := string(ch.Priority)
			if ch.Priority == types.PriorityHigh {
				prio = yellow(prio)
			}
			fmt.Printf("%s %-50s %-12s %-7s %s\n", icon, ch.ID, ch.DiscoveryMethod, prio,
				gray(ch.FirstSeen.Local().Format("2006-01-02")))
		}
		fmt.Printf("\n%d channels (filter: %s)\n", len(channels), filter)
		return nil
	},
}

var channelsAddCmd = &cobra.Command{
	Use:   "add <~host/name>...",
	Short: "Register channels by hand",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		green := color.New(color.FgGreen).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		ids, err := parseChannelArgs(args)
		if err != nil {
			return err
		}

		priority := types.PriorityNormal
		if channelsAddHigh {
			priority = types.PriorityHigh
		}
		for _, id := range ids {
			status, err := store.RegisterChannel(ctx, &types.Channel{
				ID:              id,
				DiscoveryMethod: types.MethodManual,
				FirstSeen:       time.Now().UTC(),
				Enabled:         !channelsAddStart,
				Priority:        priority,
			})
			if err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			if status == types.RegisterInserted {
				fmt.Printf("%s Added %s\n", green("✓"), id)
			} else {
				fmt.Printf("%s %s is already registered\n", gray("○"), id)
			}
		}
		return nil
	},
}

var channelsDisableCmd = &cobra.Command{
	Use:   "disable <~host/name>...",
	Short: "Stop polling and analyzing channels",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setChannelsEnabled(cmd, args, false)
	},
}

var channelsEnableCmd = &cobra.Command{
	Use:   "enable <~host/name>...",
	Short: "Resume polling and analyzing channels",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setChannelsEnabled(cmd, args, true)
	},
}

func init() {
	rootCmd.AddCommand(channelsCmd)
	channelsCmd.AddCommand(channelsListCmd, channelsAddCmd, channelsDisableCmd, channelsEnableCmd)

	channelsListCmd.Flags().BoolVar(&channelsListAll, "all", false, "Include disabled channels")
	channelsAddCmd.Flags().BoolVar(&channelsAddHigh, "high", false, "Register with high priority")
	channelsAddCmd.Flags().BoolVar(&channelsAddStart, "disabled", false, "Register without enabling monitoring")
}

func parseChannelArgs(args []string) ([]types.ChannelID, error) {
	ids := make([]types.ChannelID, 0, len(args))
	for _, arg := range args {
		id, err := types.ParseChannelID(arg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func setChannelsEnabled(cmd *cobra.Command, args []string, enabled bool) error {
	ids, err := parseChannelArgs(args)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen).SprintFunc()
	verb := "Disabled"
	if enabled {
		verb = "Enabled"
	}
	for _, id := range ids {
		if err := setChannelEnabled(cmd.Context(), store, id, enabled); err != nil {
			return err
		}
		fmt.Printf("%s %s %s\n", green("✓"), verb, id)
	}
	return nil
}

// setChannelEnabled reports unknown ids, which the registry treats as a no-op
func setChannelEnabled(ctx context.Context, registry storage.ChannelRegistry, id types.ChannelID, enabled bool) error {
	if _, err := registry.GetChannel(ctx, id); err != nil {
		if storage.IsNotFound(err) {
			return fmt.Errorf("%s is not registered (see 'shipwatch channels list --all')", id)
		}
		return fmt.Errorf("%s: %w", id, err)
	}
	if enabled {
		return registry.EnableChannel(ctx, id)
	}
	return registry.DisableChannel(ctx, id)
}
