package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/shipwatch/shipwatch/internal/config"
	"github.com/shipwatch/shipwatch/internal/storage"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the shipwatch database and config in the current directory",
	Long: `Initialize shipwatch by creating a .shipwatch/ directory.

This creates:
  - .shipwatch/shipwatch.db (SQLite database, seeded with the static channels)
  - .shipwatch/config.yaml (example configuration, kept if it already exists)

Secrets such as the session cookie and ANTHROPIC_API_KEY belong in .env.`,
	Annotations: map[string]string{skipStore: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfgPath := config.Path(projectRoot)
		wrote, err := config.WriteExample(cfgPath)
		if err != nil {
			return err
		}

		path := dbPath
		if path == "" {
			path = defaultDatabasePath(projectRoot)
		}
		if err := storage.EnsureStateDir(path); err != nil {
			return err
		}

		// Opening the database creates the schema
		db, err := storage.NewStorage(ctx, &storage.Config{Path: path})
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		err = seedStaticChannels(ctx, db, cfg.Channels)
		_ = db.Close()
		if err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s Initialized shipwatch\n\n", green("✓"))
		fmt.Printf("  Database: %s\n", cyan(path))
		if wrote {
			fmt.Printf("  Config:   %s\n", cyan(cfgPath))
		} else {
			fmt.Printf("  Config:   %s %s\n", cyan(cfgPath), gray("(existing file kept)"))
		}
		fmt.Printf("  Static channels: %d\n", len(cfg.Channels))
		fmt.Println()

		fmt.Printf("%s Next steps:\n", gray("→"))
		fmt.Printf("  %s\n", gray("shipwatch discover --dry-run  # Preview discovery candidates"))
		fmt.Printf("  %s\n", gray("shipwatch run                # Start polling, discovery and analysis"))
		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
