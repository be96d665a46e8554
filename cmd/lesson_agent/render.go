package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/lesson-video-pipeline/internal/observability"
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render, merge and save an existing run folder",
	Long: `Renders every scene of a run folder (video and narration), merges them into one video, saves it and uploads the folder.

--path accepts an absolute path, a folder name under the workspace root, or "latest" (the default) for the most recent input_data_* folder.`,
	RunE: runRender,
}

var (
	renderRunID string
	renderPath  string
)

func init() {
	renderCmd.Flags().StringVar(&renderRunID, "run-id", "", "Run identifier (default: a fresh UUID)")
	renderCmd.Flags().StringVarP(&renderPath, "path", "p", "latest", "Run folder to render")
	rootCmd.AddCommand(renderCmd)
}

func runRender(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd.Flags(), globals)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer := observability.NewPrinter(cmd.OutOrStdout())
	a, err := newApp(ctx, cfg, appOptions{SkipGenerators: true, OnProgress: progressPrinter(printer)})
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.coordinator.RenderFolder(ctx, renderRunID, renderPath)
	printer.PrintMergeOutcome(res.Merge)
	printer.PrintResult(res)
	if err != nil {
		return fmt.Errorf("render %s failed: %w", res.RunID, err)
	}
	return nil
}
