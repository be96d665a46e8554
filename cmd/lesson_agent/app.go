package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jonathan/lesson-video-pipeline/internal/artifacts"
	"github.com/jonathan/lesson-video-pipeline/internal/config"
	"github.com/jonathan/lesson-video-pipeline/internal/db"
	"github.com/jonathan/lesson-video-pipeline/internal/events"
	"github.com/jonathan/lesson-video-pipeline/internal/fetch"
	"github.com/jonathan/lesson-video-pipeline/internal/ledger"
	"github.com/jonathan/lesson-video-pipeline/internal/llm"
	"github.com/jonathan/lesson-video-pipeline/internal/logging"
	"github.com/jonathan/lesson-video-pipeline/internal/media"
	"github.com/jonathan/lesson-video-pipeline/internal/pipeline"
	"github.com/jonathan/lesson-video-pipeline/internal/render"
	"github.com/jonathan/lesson-video-pipeline/internal/scripting"
	"github.com/jonathan/lesson-video-pipeline/internal/storage"
	"github.com/jonathan/lesson-video-pipeline/internal/workspace"
)

// appOptions select the parts of the app a command needs.
type appOptions struct {
	// Mock replaces the LLM-backed generators with canned ones.
	Mock bool
	// SkipGenerators leaves the coordinator without script and code
	// generators; enough for render-only commands.
	SkipGenerators bool
	OnProgress     pipeline.ProgressCallback
}

// app holds the wired collaborators and the resources to release on exit.
type app struct {
	cfg         *config.Config
	logger      *zap.Logger
	recorder    ledger.Recorder
	reader      ledger.Reader
	merger      *media.Merger
	coordinator *pipeline.Coordinator
	closers     []func() error
}

// newApp wires every collaborator from cfg. The caller must Close the app.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (a *app, err error) {
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	if cfg.DatabaseURL != "" {
		l, err := ledger.New(cfg.DatabaseURL, logger)
		if err != nil {
			return a, fmt.Errorf("failed to create ledger: %w", err)
		}
		a.recorder, a.reader = l, l
	} else {
		logger.Info("no database configured, keeping the run ledger in memory")
		mem := ledger.NewMemory()
		a.recorder, a.reader = mem, mem
	}

	runner := &media.ExecRunner{Timeout: cfg.ToolTimeout.Std(), Verbose: cfg.Verbose}
	a.merger = newMerger(cfg, runner, a.recorder, logger)

	toolOpts := render.ToolOptions{Runner: runner, TempDir: cfg.TempDir}
	videoOpts := toolOpts
	videoOpts.Binary = cfg.ManimPath
	video, err := render.NewVideoRenderer(cfg.VideoRenderer, videoOpts, cfg.ManimQuality, a.recorder, logger)
	if err != nil {
		return a, err
	}
	audio, err := render.NewAudioRenderer(cfg.AudioBackend, render.AudioOptions{
		ToolOptions: toolOpts,
		Voice:       cfg.TTSVoice,
		Language:    cfg.TTSLanguage,
	}, a.recorder, logger)
	if err != nil {
		return a, err
	}

	var store artifacts.VideoStore
	if cfg.Saver == "postgres" {
		database, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return a, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.closers = append(a.closers, func() error { database.Close(); return nil })
		store = database
	}
	saver, err := artifacts.NewSaver(cfg.Saver, artifacts.Options{
		OutputDir:   cfg.OutputDir,
		Store:       store,
		DatabaseURL: cfg.DatabaseURL,
		Logger:      logger,
	})
	if err != nil {
		return a, err
	}

	publisher := events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	a.closers = append(a.closers, publisher.Close)

	deps := pipeline.Deps{
		Workspace:  workspace.New(cfg.WorkspaceRoot, logger),
		Video:      video,
		Audio:      audio,
		Merger:     a.merger,
		Saver:      saver,
		Events:     publisher,
		Ledger:     a.recorder,
		Logger:     logger,
		OnProgress: opts.OnProgress,
	}

	if cfg.MinIO.Endpoint != "" {
		uploader, err := storage.NewMinIOUploader(storage.Config{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			Secure:    cfg.MinIO.Secure,
		}, logger)
		if err != nil {
			return a, err
		}
		deps.Uploader = uploader
	}

	switch {
	case opts.SkipGenerators:
	case opts.Mock:
		deps.Scripts = scripting.MockGenerator{}
		deps.Code = scripting.MockCodeGenerator{}
	default:
		if err := a.wireGenerators(ctx, &deps); err != nil {
			return a, err
		}
	}

	a.coordinator, err = pipeline.New(deps)
	if err != nil {
		return a, fmt.Errorf("failed to create pipeline: %w", err)
	}
	return a, nil
}

func (a *app) wireGenerators(ctx context.Context, deps *pipeline.Deps) error {
	cfg := a.cfg
	if cfg.APIKey == "" {
		return fmt.Errorf("%s environment variable or --api-key flag is required", apiKeyEnv(cfg.LLMProvider))
	}
	llmCfg, err := llm.ConfigFor(cfg.LLMProvider)
	if err != nil {
		return err
	}
	if cfg.LLMCodeModel != "" {
		llmCfg = llmCfg.WithModel(llm.TierCode, cfg.LLMCodeModel)
	}
	client, err := llm.NewClient(ctx, llmCfg, cfg.APIKey)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}
	a.closers = append(a.closers, client.Close)

	var refs scripting.ReferenceSource
	if len(cfg.ReferenceURLs) > 0 {
		refs = fetch.NewSnippetSource(fetch.SnippetOptions{
			URLs:       cfg.ReferenceURLs,
			UseBrowser: cfg.UseBrowser,
		}, a.logger)
	}
	deps.Scripts = scripting.NewLLMGenerator(client, a.logger)
	deps.Code = scripting.NewCodeGenerator(client, refs, a.logger)
	return nil
}

func newMerger(cfg *config.Config, runner media.Runner, rec ledger.Recorder, logger *zap.Logger) *media.Merger {
	toolOpts := media.ToolOptions{FFmpegPath: cfg.FFmpegPath, TempDir: cfg.TempDir, Verbose: cfg.Verbose}
	prober := media.NewProber(runner, cfg.FFprobePath)
	return media.NewMerger(
		media.NewFFmpegMuxer(runner, toolOpts, prober, logger),
		media.NewFFmpegConcatenator(runner, toolOpts, logger),
		rec, logger,
		media.MergerOptions{Parallelism: cfg.MuxParallelism},
	)
}

func apiKeyEnv(provider string) string {
	if provider == string(llm.ProviderOpenAI) {
		return "OPENAI_API_KEY"
	}
	return "GEMINI_API_KEY"
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
	return first
}
