package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/lesson-video-pipeline/internal/ledger"
	"github.com/jonathan/lesson-video-pipeline/internal/observability"
	"github.com/jonathan/lesson-video-pipeline/internal/pipeline/steps"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the run ledger",
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the stage statuses and faults of a run",
	RunE:  runLedgerShow,
}

var (
	ledgerRunID string
	ledgerJSON  bool
)

func init() {
	ledgerShowCmd.Flags().StringVar(&ledgerRunID, "run-id", "", "Run identifier (required)")
	ledgerShowCmd.Flags().BoolVar(&ledgerJSON, "json", false, "Print the record and faults as JSON")
	_ = ledgerShowCmd.MarkFlagRequired("run-id")
	ledgerCmd.AddCommand(ledgerShowCmd)
	rootCmd.AddCommand(ledgerCmd)
}

// ledgerReport is the --json output of ledger show.
type ledgerReport struct {
	Run           *ledger.RunRecord    `json:"run"`
	Faults        []ledger.FaultRecord `json:"faults"`
	NextStages    []string             `json:"next_stages"`
	BlockedStages []string             `json:"blocked_stages"`
}

func runLedgerShow(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd.Flags(), globals)
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable or --db-url flag is required")
	}
	l, err := ledger.New(cfg.DatabaseURL, nil)
	if err != nil {
		return err
	}
	report, err := loadReport(context.Background(), l, ledgerRunID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if ledgerJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printer := observability.NewPrinter(out)
	printer.PrintRun(report.Run)
	printer.PrintFaults(report.Faults)
	return nil
}

func loadReport(ctx context.Context, r ledger.Reader, runID string) (*ledgerReport, error) {
	rec, err := r.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to read run %s: %w", runID, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	faults, err := r.ListFaults(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list faults for %s: %w", runID, err)
	}
	if faults == nil {
		faults = []ledger.FaultRecord{}
	}
	return &ledgerReport{
		Run:           rec,
		Faults:        faults,
		NextStages:    steps.Available(rec),
		BlockedStages: steps.Blocked(rec),
	}, nil
}
