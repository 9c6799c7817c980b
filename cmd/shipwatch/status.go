package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/shipwatch/shipwatch/internal/cost"
	"github.com/shipwatch/shipwatch/internal/storage"
	"github.com/shipwatch/shipwatch/internal/types"
)

var statusSince time.Duration

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the network overview, recent summaries and pass history",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		overview, err := buildOverview(ctx, store, time.Now(), statusSince)
		if err != nil {
			return err
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== shipwatch status ==="))

		fmt.Printf("%s\n", yellow("Network overview:"))
		fmt.Printf("  Channels:  %d registered, %d enabled\n", overview.Registered, overview.Enabled)
		fmt.Printf("  Active:    %d in the last %v\n", overview.Active, statusSince)
		fmt.Printf("  Events:    %d collected\n", overview.TotalEvents)
		fmt.Printf("  Pending:   %d awaiting analysis\n", overview.Pending)
		fmt.Println()

		fmt.Printf("%s\n", yellow("Channels:"))
		if len(overview.Channels) == 0 {
			fmt.Printf("  %s\n", gray("No channels registered"))
		}
		for _, row := range overview.Channels {
			icon := green("●")
			switch {
			case !row.Channel.Enabled:
				icon = gray("○")
			case row.Aggregate.ConsecutiveFailures > 0:
				icon = red("✗")
			}
			prio := ""
			if row.Channel.Priority == types.PriorityHigh {
				prio = yellow(" ★")
			}
			fmt.Printf("  %s %s%s\n", icon, row.Channel.ID, prio)
			fmt.Printf("      %s\n", gray(describeAggregate(row.Aggregate)))

			if row.Latest != nil {
				fmt.Printf("      Latest summary (%s, %d events):\n",
					row.Latest.CreatedAt.Local().Format("2006-01-02 15:04"), row.Latest.EventCount)
				for _, line := range strings.Split(strings.TrimSpace(row.Latest.Summary), "\n") {
					fmt.Printf("        %s\n", line)
				}
			}
		}
		fmt.Println()

		probes, err := store.RecentProbes(ctx, 10)
		if err != nil {
			return err
		}
		fmt.Printf("%s\n", yellow("Recent probes:"))
		if len(probes) == 0 {
			fmt.Printf("  %s\n", gray("No discovery probes yet"))
		}
		for _, p := range probes {
			icon := red("✗")
			if p.Verdict == types.VerdictConfirmed {
				icon = green("✓")
			}
			fmt.Printf("  %s %-50s %s %s\n", icon, p.Candidate, gray(string(p.Method)),
				gray(p.ProbedAt.Local().Format("01-02 15:04")))
		}
		fmt.Println()

		fmt.Printf("%s\n", yellow("Recent passes:"))
		for _, kind := range []types.PassKind{types.PassPoll, types.PassDiscover, types.PassAnalyze} {
			passes, err := store.RecentPasses(ctx, kind, 1)
			if err != nil {
				return err
			}
			if len(passes) == 0 {
				fmt.Printf("  %-9s %s\n", kind, gray("never"))
				continue
			}
			p := passes[0]
			fmt.Printf("  %-9s %s (%v ago, took %v)\n", kind,
				p.FinishedAt.Local().Format("2006-01-02 15:04:05"),
				time.Since(p.FinishedAt).Round(time.Second),
				p.FinishedAt.Sub(p.StartedAt).Round(time.Millisecond))
		}
		fmt.Println()

		budget, err := cost.ReadStats(budgetConfig(cfg), time.Now())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: reading summarization budget: %v\n", err)
		}
		if budget != nil {
			fmt.Printf("%s\n", yellow("Summarization budget:"))
			fmt.Printf("  %s\n", describeBudget(budget))
			fmt.Println()
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().DurationVar(&statusSince, "since", 24*time.Hour, "Window for counting a channel as active")
}

// channelRow is one registry entry with its counters and newest summary
type channelRow struct {
	Channel   *types.Channel
	Aggregate *types.ChannelAggregate
	Latest    *types.Analysis
}

// networkOverview is the network-wide view printed by status
type networkOverview struct {
	Registered  int
	Enabled     int
	Active      int
	TotalEvents int
	Pending     int
	Channels    []channelRow
}

// statusStore is the read side status needs
type statusStore interface {
	ListChannels(ctx context.Context, filter storage.ListFilter) ([]*types.Channel, error)
	Aggregate(ctx context.Context, channel types.ChannelID) (*types.ChannelAggregate, error)
	RecentAnalyses(ctx context.Context, channel types.ChannelID, limit int) ([]*types.Analysis, error)
}

// buildOverview gathers per-channel state. High-priority channels are listed
// first, registry order otherwise.
func buildOverview(ctx context.Context, s statusStore, now time.Time, window time.Duration) (*networkOverview, error) {
	channels, err := s.ListChannels(ctx, types.FilterAll)
	if err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}

	ov := &networkOverview{Registered: len(channels)}
	var high, normal []channelRow
	for _, ch := range channels {
		agg, err := s.Aggregate(ctx, ch.ID)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", ch.ID, err)
		}
		latest, err := s.RecentAnalyses(ctx, ch.ID, 1)
		if err != nil {
			return nil, fmt.Errorf("reading summaries of %s: %w", ch.ID, err)
		}

		row := channelRow{Channel: ch, Aggregate: agg}
		if len(latest) > 0 {
			row.Latest = latest[0]
		}

		if ch.Enabled {
			ov.Enabled++
		}
		ov.TotalEvents += agg.TotalEvents
		if agg.LastEventAt != nil && now.Sub(*agg.LastEventAt) <= window {
			ov.Active++
		}
		if agg.AnalysisState == types.AnalysisPending {
			ov.Pending++
		}

		if ch.Priority == types.PriorityHigh {
			high = append(high, row)
		} else {
			normal = append(normal, row)
		}
	}
	ov.Channels = append(high, normal...)
	return ov, nil
}

func describeBudget(b *cost.BudgetStats) string {
	tokens := fmt.Sprintf("%d", b.HourlyTokensUsed)
	if b.Config.MaxTokensPerHour > 0 {
		tokens += fmt.Sprintf("/%d", b.Config.MaxTokensPerHour)
	}
	spend := fmt.Sprintf("$%.2f", b.HourlyCostUsed)
	if b.Config.MaxCostPerHour > 0 {
		spend += fmt.Sprintf("/$%.2f", b.Config.MaxCostPerHour)
	}
	return fmt.Sprintf("%s: %s tokens, %s this window ($%.2f all time)",
		b.Status, tokens, spend, b.TotalCostUsed)
}

func describeAggregate(agg *types.ChannelAggregate) string {
	parts := []string{fmt.Sprintf("%d events, %d authors", agg.TotalEvents, agg.DistinctAuthors)}
	if agg.LastEventAt != nil {
		parts = append(parts, "last message "+agg.LastEventAt.Local().Format("2006-01-02 15:04"))
	}
	switch agg.LastPollStatus {
	case types.PollNever:
		parts = append(parts, "never polled")
	case types.PollOK:
		parts = append(parts, "poll ok")
	default:
		parts = append(parts, fmt.Sprintf("poll %s x%d: %s", agg.LastPollStatus, agg.ConsecutiveFailures, agg.LastPollError))
	}
	if agg.AnalysisState == types.AnalysisPending {
		parts = append(parts, fmt.Sprintf("analysis pending (%d failures)", agg.AnalysisFailures))
	}
	return strings.Join(parts, " · ")
}
