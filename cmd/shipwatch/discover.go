package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/shipwatch/shipwatch/internal/discovery"
	"github.com/shipwatch/shipwatch/internal/types"
)

var discoverDryRun bool

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Probe candidate channels and register the ones that exist",
	Long: `Run one discovery pass.

Candidates come from three strategies, in order:
- pattern:     known hosts crossed with common channel names
- hub:         curated community hubs, then their usual sub-channels
- exploration: name guesses on hosts already in the registry

Confirmed channels are added to the registry (enabled); channels already
registered are left untouched. Probes are rate limited and capped per run.

Examples:
  shipwatch discover             # Probe and register
  shipwatch discover --dry-run   # List the first-wave candidates only`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		client, err := newUrbitClient(cfg)
		if err != nil {
			return err
		}
		engine := newDiscoveryEngine(cfg, client, nil)

		if discoverDryRun {
			plan, err := engine.Plan(ctx)
			if err != nil {
				return err
			}
			printPlan(plan)
			return nil
		}

		result, err := engine.Discover(ctx)
		if err != nil {
			return err
		}
		printDiscoveryResult(result)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	discoverCmd.Flags().BoolVar(&discoverDryRun, "dry-run", false, "List candidates without probing or registering")
}

func printPlan(plan []types.DiscoveryResult) {
	cyan := color.New(color.FgCyan).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("\n%s\n", cyan("Discovery candidates (dry run)"))
	if len(plan) == 0 {
		fmt.Printf("  %s\n\n", gray("No candidates"))
		return
	}
	for _, c := range plan {
		fmt.Printf("  %-12s %s\n", gray(string(c.Method)), c.Candidate)
	}
	fmt.Printf("\n  %d candidates; hub sub-channels are added after their hub is confirmed\n\n", len(plan))
}

func printDiscoveryResult(r *discovery.Result) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("\n%s\n\n", r.Summary())

	confirmed := r.Confirmed()
	if len(confirmed) > 0 {
		fmt.Println("Confirmed channels:")
		for _, c := range confirmed {
			merge := gray("already registered")
			if c.Merge == types.MergeInserted {
				merge = green("new")
			}
			fmt.Printf("  %s %-50s %s %s\n", green("✓"), c.Candidate, gray(string(c.Method)), merge)
		}
		fmt.Println()
	}

	if len(r.Errors) > 0 {
		fmt.Println(yellow("Errors:"))
		for _, e := range r.Errors {
			fmt.Printf("  %s\n", e)
		}
		fmt.Println()
	}
}
