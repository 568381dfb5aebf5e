package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/cuemby/pipewatch/pkg/insights"
	"github.com/cuemby/pipewatch/pkg/reconciler"
	"github.com/cuemby/pipewatch/pkg/types"
	"github.com/spf13/cobra"
)

const adviceFailureLimit = 10

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run a single reconciliation cycle and exit",
	RunE:  runCollect,
}

var metricsCmd = &cobra.Command{
	Use:   "metrics [PIPELINE]",
	Short: "Print rolling build statistics",
	Long: `Print build statistics over the trailing --window-days from the store.
Without PIPELINE the statistics cover every pipeline.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMetrics,
}

var adviceCmd = &cobra.Command{
	Use:   "advice [PIPELINE]",
	Short: "Print improvement advice derived from recent builds",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAdvice,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, false)
		if err != nil {
			return err
		}
		out, err := cfg.YAML()
		if err != nil {
			return fmt.Errorf("failed to render config: %w", err)
		}
		fmt.Print(string(out))
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "\nWarning: %v\n", err)
		}
		return nil
	},
}

func init() {
	collectCmd.Flags().Int("build-limit", 100, "Most recent builds fetched per pipeline")
	collectCmd.Flags().Int("window-days", insights.DefaultWindowDays, "Statistics window attached to failure notifications")

	metricsCmd.Flags().Int("window-days", insights.DefaultWindowDays, "Statistics window in days")
	metricsCmd.Flags().Bool("json", false, "Print as JSON")

	adviceCmd.Flags().Int("window-days", insights.DefaultWindowDays, "Statistics window in days")
	adviceCmd.Flags().Bool("json", false, "Print as JSON")
}

func runCollect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, true)
	if err != nil {
		return err
	}

	ctx := context.Background()
	p, err := newPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	report, err := p.reconciler.RunCycle(ctx)
	if report != nil {
		printReport(report)
	}
	return err
}

func printReport(r *reconciler.CycleReport) {
	fmt.Printf("Cycle %s (%s)\n", r.ID, r.Duration().Round(time.Millisecond))
	fmt.Printf("  Pipelines seen:     %d\n", r.PipelinesSeen)
	fmt.Printf("  Pipelines upserted: %d\n", r.PipelinesUpserted)
	fmt.Printf("  Builds processed:   %d\n", r.BuildsProcessed)
	fmt.Printf("  New builds:         %d\n", r.NewBuilds)
	fmt.Printf("  Notifications:      %d\n", r.Notifications)
	fmt.Printf("  Failures set:       %d\n", r.FailuresSet)
	fmt.Printf("  Failures cleared:   %d\n", r.FailuresCleared)
	if len(r.Errors) > 0 {
		fmt.Printf("  Errors (%d):\n", len(r.Errors))
		for _, e := range r.Errors {
			fmt.Printf("    - %s\n", e)
		}
	}
}

// openAggregator opens the store for the offline reporting commands
func openAggregator(cmd *cobra.Command) (*insights.Aggregator, func() error, error) {
	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return nil, nil, err
	}
	store, err := openStore(context.Background(), cfg)
	if err != nil {
		return nil, nil, err
	}
	return insights.NewAggregator(store, insights.Options{}), store.Close, nil
}

func pipelineArg(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return ""
}

func runMetrics(cmd *cobra.Command, args []string) error {
	aggregator, closeStore, err := openAggregator(cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	days, _ := cmd.Flags().GetInt("window-days")
	snapshot, err := aggregator.ComputeMetrics(cmd.Context(), pipelineArg(args), days)
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(snapshot)
	}
	printSnapshot(snapshot)
	return nil
}

func printSnapshot(s *types.Snapshot) {
	scope := s.Pipeline
	if scope == "" {
		scope = "all pipelines"
	}
	fmt.Printf("Build statistics for %s, last %d days\n", scope, s.WindowDays)
	fmt.Printf("  Total builds:   %d\n", s.Total)
	fmt.Printf("  Successful:     %d\n", s.Success)
	fmt.Printf("  Failed:         %d\n", s.Failure)
	fmt.Printf("  Success rate:   %.2f%%\n", s.SuccessRate)
	fmt.Printf("  Avg duration:   %.1fs\n", s.AvgDuration)
}

type adviceReport struct {
	Metrics        *types.Snapshot     `json:"metrics"`
	RecentFailures []*types.Build      `json:"recent_failures"`
	Advice         []string            `json:"advice"`
	Resources      []insights.Resource `json:"resources"`
}

func runAdvice(cmd *cobra.Command, args []string) error {
	aggregator, closeStore, err := openAggregator(cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := cmd.Context()
	name := pipelineArg(args)
	days, _ := cmd.Flags().GetInt("window-days")

	snapshot, err := aggregator.ComputeMetrics(ctx, name, days)
	if err != nil {
		return err
	}
	failures, err := aggregator.RecentFailures(ctx, name, adviceFailureLimit)
	if err != nil {
		return err
	}
	report := adviceReport{
		Metrics:        snapshot,
		RecentFailures: failures,
		Advice:         insights.GenerateAdvice(snapshot, failures),
		Resources:      insights.GenerateResources(failures),
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(report)
	}

	printSnapshot(snapshot)
	fmt.Println()
	if len(failures) > 0 {
		fmt.Println("Recent failures:")
		for _, b := range failures {
			fmt.Printf("  %s #%d  %s  %s\n", b.PipelineName, b.BuildNumber,
				b.Timestamp.Local().Format("2006-01-02 15:04"), b.URL)
		}
		fmt.Println()
	}
	fmt.Println("Advice:")
	for _, a := range report.Advice {
		fmt.Printf("  - %s\n", a)
	}
	fmt.Println()
	fmt.Println("Resources:")
	for _, r := range report.Resources {
		fmt.Printf("  %s\n    %s\n", r.Title, r.URL)
	}
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
