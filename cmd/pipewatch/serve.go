package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/pipewatch/pkg/api"
	"github.com/cuemby/pipewatch/pkg/insights"
	"github.com/cuemby/pipewatch/pkg/log"
	"github.com/cuemby/pipewatch/pkg/metrics"
	"github.com/cuemby/pipewatch/pkg/scheduler"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll Jenkins periodically and serve the API",
	Long: `Start the scheduler, which runs one reconciliation cycle immediately and
then one every --interval, together with the HTTP API.

Examples:
  # Poll every minute and serve on port 5000
  pipewatch serve --jenkins-url http://jenkins:8080 --interval 1m

  # Use MongoDB instead of the embedded store
  MONGODB_URI=mongodb://db:27017 pipewatch serve --store mongo`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Duration("interval", scheduler.DefaultInterval, "Time between reconciliation cycles")
	serveCmd.Flags().Int("build-limit", 100, "Most recent builds fetched per pipeline")
	serveCmd.Flags().Int("window-days", insights.DefaultWindowDays, "Statistics window in days")
	serveCmd.Flags().String("api-addr", ":5000", "Address for the HTTP API")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, true)
	if err != nil {
		return err
	}
	logger := log.WithComponent("main")

	ctx := context.Background()
	p, err := newPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close store")
		}
	}()

	sched := scheduler.New(p.reconciler, cfg.Scheduler.Interval)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	collector := metrics.NewCollector(p.store, 15*time.Second)
	collector.Start()

	opts := api.Options{
		Store:      p.store,
		Aggregator: insights.NewAggregator(p.store, insights.Options{}),
		Upstream:   p.client,
		Trigger:    sched,
		Broker:     p.broker,
		Version:    Version,
	}
	if p.email != nil {
		opts.Mailer = p.email
	}
	apiServer := api.NewServer(opts)

	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(cfg.API.Addr); err != nil {
			errCh <- fmt.Errorf("API server error: %w", err)
		}
	}()

	logger.Info().
		Str("jenkins", cfg.Jenkins.URL).
		Str("store", cfg.Store.Driver).
		Dur("interval", sched.Interval()).
		Str("api", cfg.API.Addr).
		Strs("channels", p.dispatcher.Channels()).
		Msg("Pipewatch is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("Shutting down")
	}

	if err := sched.Stop(); err != nil {
		logger.Warn().Err(err).Msg("Scheduler did not stop cleanly")
	}
	collector.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("API server did not stop cleanly")
	}

	logger.Info().Msg("Shutdown complete")
	return runErr
}
