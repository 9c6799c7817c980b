// Command shipwatch monitors Urbit group channels: it polls their activity,
// discovers new channels and stores periodic AI summaries.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/shipwatch/shipwatch/internal/config"
	"github.com/shipwatch/shipwatch/internal/logging"
	"github.com/shipwatch/shipwatch/internal/storage"
	"github.com/shipwatch/shipwatch/internal/types"
)

const version = "0.3.0"

var (
	dbPath      string
	projectRoot string
	cfg         *config.Config
	store       storage.Storage
	logger      zerolog.Logger
)

// skipStore marks commands that run before a database exists
const skipStore = "skip-store"

var rootCmd = &cobra.Command{
	Use:   "shipwatch",
	Short: "Monitor activity across Urbit group channels",
	Long: `shipwatch keeps a registry of Urbit group channels, polls their new
activity into a local database, discovers channels worth adding and
summarizes busy channels with Claude.

Run 'shipwatch init' once in a directory, then 'shipwatch run'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		projectRoot = cwd

		cfg, err = config.Load(projectRoot)
		if err != nil {
			return err
		}
		logger = logging.New(cfg.LogLevel, logging.Format(cfg.LogFormat))

		if cmd.Annotations[skipStore] == "true" {
			return nil
		}

		if dbPath == "" {
			dbPath = cfg.DatabasePath
		}
		if dbPath == "" {
			if dbPath, err = storage.DiscoverDatabase(); err != nil {
				return err
			}
		}

		ctx := cmd.Context()
		store, err = storage.NewStorage(ctx, &storage.Config{Path: dbPath})
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		return seedStaticChannels(ctx, store, cfg.Channels)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default: discover .shipwatch/*.db)")
}

// seedStaticChannels registers the configured channels. Existing entries,
// including disabled ones, are left alone.
func seedStaticChannels(ctx context.Context, s storage.ChannelRegistry, ids []types.ChannelID) error {
	added := 0
	for _, id := range ids {
		status, err := s.RegisterChannel(ctx, &types.Channel{
			ID:              id,
			DiscoveryMethod: types.MethodStatic,
			Enabled:         true,
			Priority:        types.PriorityNormal,
		})
		if err != nil {
			return fmt.Errorf("seeding %s: %w", id, err)
		}
		if status == types.RegisterInserted {
			added++
		}
	}
	if added > 0 {
		logger.Info().Int("added", added).Msg("Seeded static channels")
	}
	return nil
}

// defaultDatabasePath is where init creates the database
func defaultDatabasePath(root string) string {
	return filepath.Join(root, storage.DefaultDatabasePath)
}

// execute runs the command line and closes the store however the command
// ended, so main can exit without skipping cleanup
func execute(ctx context.Context, args []string) error {
	defer closeStore()
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

func closeStore() {
	if store == nil {
		return
	}
	if err := store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing database: %v\n", err)
	}
	store = nil
}

func main() {
	if err := execute(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
