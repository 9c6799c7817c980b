package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/shipwatch/shipwatch/internal/trigger"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Summarize channels with enough unanalyzed activity",
	Long: `Evaluate every enabled channel against the analysis threshold
(analysis.min_messages) and summarize the ones that reach it.

Channels whose last summarization failed are retried regardless of the
threshold.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		t, err := newTrigger(cfg, nil)
		if err != nil {
			return err
		}

		summary, err := t.Evaluate(ctx)
		if err != nil {
			return err
		}
		printEvaluation(summary)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
}

func printEvaluation(s *trigger.EvaluationSummary) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("\nEvaluated %d channels: %s analyzed, %s failed\n",
		s.ChannelsEvaluated, green(fmt.Sprintf("%d", s.Analyzed)), red(fmt.Sprintf("%d", s.Failed)))

	for _, o := range s.Outcomes {
		switch o.Outcome {
		case trigger.OutcomeAnalyzed:
			fmt.Printf("  %s %s %s\n", green("✓"), o.Channel, gray(fmt.Sprintf("(%d events)", o.EventCount)))
		case trigger.OutcomeFailed:
			fmt.Printf("  %s %s %s\n", red("✗"), o.Channel, o.Error)
		}
	}
	if s.Interrupted {
		fmt.Println(gray("  Interrupted"))
	}
	fmt.Println()
}
