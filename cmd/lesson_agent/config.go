package main

import (
	"fmt"
	"os"

	"github.com/jonathan/lesson-video-pipeline/internal/config"
)

// globalOptions hold the persistent flags shared by every subcommand.
type globalOptions struct {
	ConfigPath    string
	DatabaseURL   string
	WorkspaceRoot string
	OutputDir     string
	Saver         string
	AudioBackend  string
	TTSVoice      string
	ManimQuality  string
	LLMProvider   string
	APIKey        string
	LogLevel      string
	LogFormat     string
	Verbose       bool
}

var globals globalOptions

func init() {
	f := rootCmd.PersistentFlags()
	// Config file flag (processed first)
	f.StringVar(&globals.ConfigPath, "config", "", "Path to config.json file (values can be overridden by other flags)")
	f.StringVar(&globals.DatabaseURL, "db-url", "", "PostgreSQL connection URL (optional, defaults to DATABASE_URL env var)")
	f.StringVar(&globals.WorkspaceRoot, "workspace", "", "Root folder holding input_data_* run folders")
	f.StringVar(&globals.OutputDir, "output", "", "Directory for the local saver")
	f.StringVar(&globals.Saver, "saver", "", "Final video saver: local or postgres")
	f.StringVar(&globals.AudioBackend, "audio-backend", "", "TTS backend: espeak, gtts or piper")
	f.StringVar(&globals.TTSVoice, "voice", "", "TTS voice (piper model path)")
	f.StringVar(&globals.ManimQuality, "quality", "", "Manim quality: l, m or h")
	f.StringVar(&globals.LLMProvider, "llm-provider", "", "LLM provider: gemini or openai")
	f.StringVar(&globals.APIKey, "api-key", "", "LLM API key (optional, defaults to GEMINI_API_KEY or OPENAI_API_KEY)")
	f.StringVar(&globals.LogLevel, "log-level", "", "Log level: debug, info, warn or error")
	f.StringVar(&globals.LogFormat, "log-format", "", "Log format: json or console")
	f.BoolVarP(&globals.Verbose, "verbose", "v", false, "Tee external tool output and print detailed progress")
}

// flagSet reports which flags were set on the command line.
type flagSet interface {
	Changed(name string) bool
}

// resolveConfig builds the effective configuration: config file, then flags
// that were explicitly set, then defaults, then environment variables.
func resolveConfig(flags flagSet, opts globalOptions) (*config.Config, error) {
	// Step 1: Load config file if provided
	var cfg config.Config
	if opts.ConfigPath != "" {
		loaded, err := config.LoadConfig(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		if err := loaded.Validate(); err != nil {
			return nil, err
		}
		cfg = *loaded
		if opts.Verbose {
			_, _ = fmt.Fprintf(os.Stderr, "Loaded config from: %s\n", opts.ConfigPath)
		}
	}

	// Step 2: Apply CLI overrides; only flags that were explicitly set
	overrides := []struct {
		flag string
		dst  *string
		val  string
	}{
		{"db-url", &cfg.DatabaseURL, opts.DatabaseURL},
		{"workspace", &cfg.WorkspaceRoot, opts.WorkspaceRoot},
		{"output", &cfg.OutputDir, opts.OutputDir},
		{"saver", &cfg.Saver, opts.Saver},
		{"audio-backend", &cfg.AudioBackend, opts.AudioBackend},
		{"voice", &cfg.TTSVoice, opts.TTSVoice},
		{"quality", &cfg.ManimQuality, opts.ManimQuality},
		{"llm-provider", &cfg.LLMProvider, opts.LLMProvider},
		{"api-key", &cfg.APIKey, opts.APIKey},
		{"log-level", &cfg.LogLevel, opts.LogLevel},
		{"log-format", &cfg.LogFormat, opts.LogFormat},
	}
	for _, o := range overrides {
		if flags.Changed(o.flag) {
			*o.dst = o.val
		}
	}
	if flags.Changed("verbose") {
		cfg.Verbose = opts.Verbose
	}

	// Step 3: Apply defaults for unset values, then the environment
	merged := cfg.MergeWithDefaults(config.Defaults())
	merged.ApplyEnv()

	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return &merged, nil
}
