package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/lesson-video-pipeline/internal/observability"
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Mux video and narration pairs and concatenate them into one file",
	Long: `Pairs the i-th --video with the i-th --audio, muxes each pair and concatenates the results in order into --out.

Pairs that fail to mux are skipped and recorded as faults; the command fails only when nothing could be merged.`,
	RunE: runMerge,
}

var (
	mergeVideos []string
	mergeAudios []string
	mergeOut    string
	mergeRunID  string
)

func init() {
	mergeCmd.Flags().StringArrayVar(&mergeVideos, "video", nil, "Video file (repeatable, in scene order)")
	mergeCmd.Flags().StringArrayVar(&mergeAudios, "audio", nil, "Narration file (repeatable, in scene order)")
	mergeCmd.Flags().StringVarP(&mergeOut, "out", "o", "", "Output file for the merged video (required)")
	mergeCmd.Flags().StringVar(&mergeRunID, "run-id", "", "Run identifier for ledger entries (default: a fresh UUID)")
	_ = mergeCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(mergeCmd)
}

func runMerge(cmd *cobra.Command, _ []string) error {
	if len(mergeVideos) == 0 {
		return fmt.Errorf("at least one --video is required")
	}
	cfg, err := resolveConfig(cmd.Flags(), globals)
	if err != nil {
		return err
	}
	video, err := readAll(mergeVideos)
	if err != nil {
		return err
	}
	audio, err := readAll(mergeAudios)
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, appOptions{SkipGenerators: true})
	if err != nil {
		return err
	}
	defer a.Close()

	id := mergeRunID
	if id == "" {
		id = uuid.NewString()
	}
	outcome, err := a.merger.MergeAll(ctx, video, audio, id)
	observability.NewPrinter(cmd.OutOrStdout()).PrintMergeOutcome(outcome)
	if err != nil {
		return fmt.Errorf("merge failed: %w", err)
	}
	if outcome.FinalBytes == nil {
		return fmt.Errorf("merge produced no video (%d of %d pairs muxed)", outcome.UnitsSucceeded, outcome.UnitsAttempted)
	}

	if dir := filepath.Dir(mergeOut); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(mergeOut, outcome.FinalBytes, 0o644); err != nil {
		return fmt.Errorf("failed to write merged video: %w", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", mergeOut, len(outcome.FinalBytes))
	return nil
}

func readAll(paths []string) ([][]byte, error) {
	out := make([][]byte, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
		out = append(out, data)
	}
	return out, nil
}
