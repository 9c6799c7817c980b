package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/shipwatch/shipwatch/internal/metrics"
	"github.com/shipwatch/shipwatch/internal/scheduler"
	"github.com/shipwatch/shipwatch/internal/storage"
)

var runMetricsAddr string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll, discover and analyze on a schedule until stopped",
	Long: `Start the monitor.

Three passes run independently, each once at startup and then on its interval:
1. poll (poll.interval), followed by an analysis evaluation
2. discover (discovery.interval, unless discovery.enabled is false)
3. analyze (analysis.interval)

Ctrl+C stops scheduling new work; the channel or probe in flight finishes
within its own timeout. Only one 'shipwatch run' may use a database at a time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		lockPath, err := storage.AcquireInstanceLock(dbPath, "shipwatch run", version)
		if err != nil {
			return err
		}
		defer func() {
			if err := storage.ReleaseInstanceLock(lockPath); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to release instance lock: %v\n", err)
			}
		}()

		m := metrics.Default()

		client, err := newUrbitClient(cfg)
		if err != nil {
			return err
		}
		analyzer, err := newTrigger(cfg, m)
		if err != nil {
			return err
		}

		var discoverer scheduler.Discoverer
		if cfg.Discovery.Enabled {
			discoverer = newDiscoveryEngine(cfg, client, m)
		}

		sched := scheduler.New(scheduler.Config{
			PollInterval:      cfg.Poll.Interval,
			DiscoveryInterval: cfg.Discovery.Interval,
			AnalysisInterval:  cfg.Analysis.Interval,
		}, newPoller(cfg, client, m), discoverer, analyzer, store, logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var srv *http.Server
		if runMetricsAddr != "" {
			srv = startMetricsServer(runMetricsAddr)
			defer stopMetricsServer(srv)
		}

		fmt.Printf("%s shipwatch %s started\n", green("✓"), cyan(version))
		fmt.Printf("  Database: %s\n", dbPath)
		fmt.Printf("  %s\n", cfg)
		if srv != nil {
			fmt.Printf("  Metrics:  http://%s/metrics\n", runMetricsAddr)
		}
		fmt.Printf("  %s\n\n", gray("Press Ctrl+C to stop"))

		if err := sched.Run(ctx); err != nil {
			return err
		}
		fmt.Printf("%s shipwatch stopped\n", green("✓"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9464")
}

func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()
	return srv
}

func stopMetricsServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: metrics server shutdown: %v\n", err)
	}
}
