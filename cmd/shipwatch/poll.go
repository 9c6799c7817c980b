package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/shipwatch/shipwatch/internal/poller"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run one poll pass over every enabled channel",
	Long: `Fetch new activity for every enabled channel and store it.

One channel failing (unreachable ship, malformed response) does not stop
the pass; failures are listed at the end.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		client, err := newUrbitClient(cfg)
		if err != nil {
			return err
		}

		summary, err := newPoller(cfg, client, nil).PollOnce(ctx)
		if err != nil {
			return err
		}
		printPollSummary(summary)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pollCmd)
}

func printPollSummary(s *poller.PassSummary) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	icon := green("✓")
	if s.Failures.Total() > 0 {
		icon = yellow("⚠")
	}
	fmt.Printf("\n%s Poll pass finished in %v\n", icon, s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	fmt.Printf("  Channels polled: %d\n", s.ChannelsPolled)
	fmt.Printf("  Events: %s new, %d fetched, %s\n",
		green(fmt.Sprintf("%d", s.EventsAppended)), s.EventsFetched, gray(fmt.Sprintf("%d duplicates", s.Duplicates)))

	if len(s.Errors) > 0 {
		fmt.Printf("  Failures: %d unreachable, %d malformed, %d store\n",
			s.Failures.Unreachable, s.Failures.Malformed, s.Failures.Store)
		for _, e := range s.Errors {
			fmt.Printf("    %s %s %s %s\n", red("✗"), e.Channel, gray("["+string(e.Kind)+"]"), e.Error)
		}
	}
	if s.Interrupted {
		fmt.Printf("  %s\n", yellow("Interrupted before every channel was polled"))
	}
	fmt.Println()
}
