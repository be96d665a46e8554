package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/lesson-video-pipeline/internal/observability"
	"github.com/jonathan/lesson-video-pipeline/internal/pipeline"
	"github.com/jonathan/lesson-video-pipeline/internal/scripting"
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Run the full lesson video pipeline end-to-end",
	Long: `Generates a lesson script for --topic, writes the run folder, generates one animation program per scene, renders video and narration, merges them into one video, saves it and uploads the run folder.

Configuration can be loaded from a JSON file using --config. Command-line arguments override config file values.`,
	RunE: runPipelineCmd,
}

var (
	runTopic    string
	runClass    string
	runLanguage string
	runID       string
	runMock     bool
)

func init() {
	runCommand.Flags().StringVarP(&runTopic, "topic", "t", "", "Lesson topic (required)")
	runCommand.Flags().StringVar(&runClass, "class", "", "Audience class or grade, e.g. \"Class 8\"")
	runCommand.Flags().StringVar(&runLanguage, "language", "", "Narration language, e.g. \"English\"")
	runCommand.Flags().StringVar(&runID, "run-id", "", "Run identifier (default: a fresh UUID)")
	runCommand.Flags().BoolVar(&runMock, "mock", false, "Use canned script and code generators instead of the LLM")
	rootCmd.AddCommand(runCommand)
}

func runPipelineCmd(cmd *cobra.Command, _ []string) error {
	if runTopic == "" {
		return fmt.Errorf("--topic is required")
	}
	cfg, err := resolveConfig(cmd.Flags(), globals)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer := observability.NewPrinter(cmd.OutOrStdout())
	a, err := newApp(ctx, cfg, appOptions{Mock: runMock, OnProgress: progressPrinter(printer)})
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.coordinator.Run(ctx, runID, scripting.Request{
		Topic:    runTopic,
		Class:    runClass,
		Language: runLanguage,
	})
	if cfg.Verbose {
		printer.PrintScript(res.Script)
	}
	printer.PrintMergeOutcome(res.Merge)
	printer.PrintResult(res)
	if err != nil {
		return fmt.Errorf("run %s failed: %w", res.RunID, err)
	}
	return nil
}

func progressPrinter(p *observability.Printer) pipeline.ProgressCallback {
	return func(event pipeline.ProgressEvent) {
		p.PrintProgress(event)
	}
}
