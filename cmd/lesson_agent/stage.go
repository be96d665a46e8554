package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/lesson-video-pipeline/internal/observability"
	"github.com/jonathan/lesson-video-pipeline/internal/pipeline"
	"github.com/jonathan/lesson-video-pipeline/internal/workspace"
)

var stageCmd = &cobra.Command{
	Use:   "stage",
	Short: "Run a single pipeline stage on demand",
}

var stageFilesCmd = &cobra.Command{
	Use:   "files",
	Short: "Write a run folder from a lesson script JSON file",
	Long: `Reads a lesson script (a JSON array of scenes) from --script, or stdin with "-", and writes a new input_data_* run folder with one narration and scene spec file per scene.`,
	RunE: runStageFiles,
}

var stageCodeCmd = &cobra.Command{
	Use:   "code",
	Short: "Generate animation programs into a run folder",
	Long:  `Generates one animation program per scene of --script and writes them into the run folder at --path.`,
	RunE:  runStageCode,
}

var stageWriteCmd = &cobra.Command{
	Use:   "write",
	Short: "Copy hand-written programs into a run folder and render it",
	Long: `Reads every script_seqN.py file in --from, writes each into scene N of the run folder at --path, then renders, merges, saves and uploads that folder.`,
	RunE: runStageWrite,
}

var stageUploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload a run folder to object storage",
	RunE:  runStageUpload,
}

var (
	stageRunID  string
	stagePath   string
	stageScript string
	stageFrom   string
	stageMock   bool
)

func init() {
	for _, c := range []*cobra.Command{stageFilesCmd, stageCodeCmd, stageWriteCmd, stageUploadCmd} {
		c.Flags().StringVar(&stageRunID, "run-id", "", "Run identifier (default: a fresh UUID)")
	}
	for _, c := range []*cobra.Command{stageCodeCmd, stageWriteCmd, stageUploadCmd} {
		c.Flags().StringVarP(&stagePath, "path", "p", "latest", "Run folder")
	}
	for _, c := range []*cobra.Command{stageFilesCmd, stageCodeCmd} {
		c.Flags().StringVarP(&stageScript, "script", "s", "", "Lesson script JSON file, or - for stdin (required)")
		_ = c.MarkFlagRequired("script")
	}
	stageCodeCmd.Flags().BoolVar(&stageMock, "mock", false, "Use the canned code generator instead of the LLM")
	stageWriteCmd.Flags().StringVar(&stageFrom, "from", "", "Directory holding script_seqN.py files (required)")
	_ = stageWriteCmd.MarkFlagRequired("from")

	stageCmd.AddCommand(stageFilesCmd, stageCodeCmd, stageWriteCmd, stageUploadCmd)
	rootCmd.AddCommand(stageCmd)
}

// withStageApp wires the app for a stage command, runs fn and prints its result.
func withStageApp(cmd *cobra.Command, opts appOptions, fn func(context.Context, *pipeline.Coordinator) (*pipeline.Result, error)) error {
	cfg, err := resolveConfig(cmd.Flags(), globals)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer := observability.NewPrinter(cmd.OutOrStdout())
	opts.OnProgress = progressPrinter(printer)
	a, err := newApp(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := fn(ctx, a.coordinator)
	printer.PrintMergeOutcome(res.Merge)
	printer.PrintResult(res)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", cmd.Name(), res.RunID, err)
	}
	return nil
}

func runStageFiles(cmd *cobra.Command, _ []string) error {
	script, err := readScript(stageScript, cmd.InOrStdin())
	if err != nil {
		return err
	}
	return withStageApp(cmd, appOptions{SkipGenerators: true}, func(ctx context.Context, c *pipeline.Coordinator) (*pipeline.Result, error) {
		return c.GenerateFiles(ctx, stageRunID, script)
	})
}

func runStageCode(cmd *cobra.Command, _ []string) error {
	script, err := readScript(stageScript, cmd.InOrStdin())
	if err != nil {
		return err
	}
	return withStageApp(cmd, appOptions{Mock: stageMock}, func(ctx context.Context, c *pipeline.Coordinator) (*pipeline.Result, error) {
		return c.GenerateCode(ctx, stageRunID, stagePath, script)
	})
}

func runStageWrite(cmd *cobra.Command, _ []string) error {
	programs, err := readPrograms(stageFrom)
	if err != nil {
		return err
	}
	return withStageApp(cmd, appOptions{SkipGenerators: true}, func(ctx context.Context, c *pipeline.Coordinator) (*pipeline.Result, error) {
		return c.WriteScripts(ctx, stageRunID, stagePath, programs)
	})
}

func runStageUpload(cmd *cobra.Command, _ []string) error {
	return withStageApp(cmd, appOptions{SkipGenerators: true}, func(ctx context.Context, c *pipeline.Coordinator) (*pipeline.Result, error) {
		return c.UploadFolder(ctx, stageRunID, stagePath)
	})
}

// readScript returns the contents of path, or of stdin when path is "-".
func readScript(path string, stdin io.Reader) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read script: %w", err)
	}
	return string(data), nil
}

// readPrograms loads every script_seqN.py file directly inside dir, keyed by N.
func readPrograms(dir string) (map[int]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read program directory: %w", err)
	}
	programs := make(map[int]string)
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".py")
		if e.IsDir() || !ok {
			continue
		}
		seq, ok := workspace.ParseSceneName(name)
		if !ok {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		programs[seq] = string(data)
	}
	if len(programs) == 0 {
		return nil, fmt.Errorf("no script_seqN.py files in %s", dir)
	}
	return programs, nil
}
