// Package config provides configuration loading and validation for the CLI and server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config represents the pipeline configuration that can be loaded from a JSON file.
// All fields are optional; missing values use defaults or are provided via CLI flags
// and environment variables.
type Config struct {
	// Storage
	DatabaseURL   string `json:"database_url,omitempty"`   // PostgreSQL connection URL (ledger + artifacts)
	WorkspaceRoot string `json:"workspace_root,omitempty"` // Root folder holding input_data_* run folders
	OutputDir     string `json:"output_dir,omitempty"`     // Directory used by the local saver
	TempDir       string `json:"temp_dir,omitempty"`       // Parent of per-call scratch directories

	// External tools
	FFmpegPath   string   `json:"ffmpeg_path,omitempty"`
	FFprobePath  string   `json:"ffprobe_path,omitempty"`
	ManimPath    string   `json:"manim_path,omitempty"`
	ManimQuality string   `json:"manim_quality,omitempty" validate:"omitempty,oneof=l m h"`
	ToolTimeout  Duration `json:"tool_timeout,omitempty"`

	// Collaborator selection
	VideoRenderer  string `json:"video_renderer,omitempty" validate:"omitempty,oneof=manim"`
	AudioBackend   string `json:"audio_backend,omitempty" validate:"omitempty,oneof=espeak gtts piper"`
	TTSVoice       string `json:"tts_voice,omitempty"`
	TTSLanguage    string `json:"tts_language,omitempty"`
	LLMProvider    string `json:"llm_provider,omitempty" validate:"omitempty,oneof=gemini openai"`
	LLMCodeModel   string `json:"llm_code_model,omitempty"` // Overrides the model used for code generation
	APIKey         string `json:"api_key,omitempty"`
	Saver          string `json:"saver,omitempty" validate:"omitempty,oneof=local postgres"`
	MuxParallelism int    `json:"mux_parallelism,omitempty" validate:"gte=0,lte=32"`

	// Reference retrieval for code generation
	ReferenceURLs []string `json:"reference_urls,omitempty" validate:"dive,url"`
	UseBrowser    bool     `json:"use_browser,omitempty"`

	// Upload + events
	MinIO        MinIOConfig `json:"minio,omitempty"`
	KafkaBrokers []string    `json:"kafka_brokers,omitempty"`
	KafkaTopic   string      `json:"kafka_topic,omitempty"`

	// Behavior
	LogLevel  string `json:"log_level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	LogFormat string `json:"log_format,omitempty" validate:"omitempty,oneof=json console"`
	Verbose   bool   `json:"verbose,omitempty"` // Tee external tool stderr and raise ffmpeg loglevel
	Port      int    `json:"port,omitempty" validate:"gte=0,lte=65535"`
}

// MinIOConfig holds object storage settings for run-folder uploads.
// Upload is disabled when Endpoint is empty.
type MinIOConfig struct {
	Endpoint  string `json:"endpoint,omitempty"`
	AccessKey string `json:"access_key,omitempty"`
	SecretKey string `json:"secret_key,omitempty"`
	Bucket    string `json:"bucket,omitempty"`
	Secure    bool   `json:"secure,omitempty"`
}

// Duration is a time.Duration that unmarshals from JSON strings like "90s".
type Duration time.Duration

// UnmarshalJSON accepts either a Go duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("duration must be a string or number of seconds")
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// MarshalJSON renders the duration as a Go duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Defaults returns the built-in configuration used when nothing else is set.
func Defaults() Config {
	return Config{
		WorkspaceRoot:  "workspace",
		OutputDir:      "output",
		TempDir:        os.TempDir(),
		FFmpegPath:     "ffmpeg",
		FFprobePath:    "ffprobe",
		ManimPath:      "manim",
		ManimQuality:   "l",
		ToolTimeout:    Duration(10 * time.Minute),
		VideoRenderer:  "manim",
		AudioBackend:   "espeak",
		TTSLanguage:    "en",
		LLMProvider:    "gemini",
		Saver:          "local",
		MuxParallelism: 1,
		MinIO: MinIOConfig{
			Bucket: "lesson-runs",
		},
		KafkaTopic: "lesson.runs",
		LogLevel:   "info",
		LogFormat:  "json",
		Port:       8080,
	}
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks that the configuration has valid values.
// Tag rules run first, then cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	if c.ToolTimeout < 0 {
		return fmt.Errorf("config error: 'tool_timeout' must be non-negative")
	}

	if c.Saver == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("config error: 'saver' postgres requires 'database_url'")
	}

	if c.MinIO.Endpoint != "" && (c.MinIO.AccessKey == "" || c.MinIO.SecretKey == "") {
		return fmt.Errorf("config error: 'minio.endpoint' requires access_key and secret_key")
	}

	if c.WorkspaceRoot != "" {
		if info, err := os.Stat(c.WorkspaceRoot); err == nil && !info.IsDir() {
			return fmt.Errorf("config error: workspace_root is not a directory: %s", c.WorkspaceRoot)
		}
	}

	return nil
}

// MergeWithDefaults returns a new Config with empty fields filled from defaults.
// This is used to apply config file values as defaults for CLI flags.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	// String fields: use default if empty
	fillString(&result.DatabaseURL, defaults.DatabaseURL)
	fillString(&result.WorkspaceRoot, defaults.WorkspaceRoot)
	fillString(&result.OutputDir, defaults.OutputDir)
	fillString(&result.TempDir, defaults.TempDir)
	fillString(&result.FFmpegPath, defaults.FFmpegPath)
	fillString(&result.FFprobePath, defaults.FFprobePath)
	fillString(&result.ManimPath, defaults.ManimPath)
	fillString(&result.ManimQuality, defaults.ManimQuality)
	fillString(&result.VideoRenderer, defaults.VideoRenderer)
	fillString(&result.AudioBackend, defaults.AudioBackend)
	fillString(&result.TTSVoice, defaults.TTSVoice)
	fillString(&result.TTSLanguage, defaults.TTSLanguage)
	fillString(&result.LLMProvider, defaults.LLMProvider)
	fillString(&result.LLMCodeModel, defaults.LLMCodeModel)
	fillString(&result.APIKey, defaults.APIKey)
	fillString(&result.Saver, defaults.Saver)
	fillString(&result.KafkaTopic, defaults.KafkaTopic)
	fillString(&result.LogLevel, defaults.LogLevel)
	fillString(&result.LogFormat, defaults.LogFormat)
	fillString(&result.MinIO.Endpoint, defaults.MinIO.Endpoint)
	fillString(&result.MinIO.AccessKey, defaults.MinIO.AccessKey)
	fillString(&result.MinIO.SecretKey, defaults.MinIO.SecretKey)
	fillString(&result.MinIO.Bucket, defaults.MinIO.Bucket)

	// Numeric fields: use default if zero
	if result.ToolTimeout == 0 {
		result.ToolTimeout = defaults.ToolTimeout
	}
	if result.MuxParallelism == 0 {
		result.MuxParallelism = defaults.MuxParallelism
	}
	if result.Port == 0 {
		result.Port = defaults.Port
	}

	// Slices
	if len(result.ReferenceURLs) == 0 {
		result.ReferenceURLs = defaults.ReferenceURLs
	}
	if len(result.KafkaBrokers) == 0 {
		result.KafkaBrokers = defaults.KafkaBrokers
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}

// ApplyEnv fills fields that are still empty from well-known environment variables.
// Call after godotenv.Load so .env values are visible.
func (c *Config) ApplyEnv() {
	fillString(&c.DatabaseURL, os.Getenv("DATABASE_URL"))
	if c.APIKey == "" {
		switch c.LLMProvider {
		case "openai":
			c.APIKey = os.Getenv("OPENAI_API_KEY")
		default:
			c.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
	fillString(&c.MinIO.Endpoint, os.Getenv("MINIO_ENDPOINT"))
	fillString(&c.MinIO.AccessKey, os.Getenv("MINIO_ACCESS_KEY"))
	fillString(&c.MinIO.SecretKey, os.Getenv("MINIO_SECRET_KEY"))
	fillString(&c.MinIO.Bucket, os.Getenv("MINIO_BUCKET"))
	if len(c.KafkaBrokers) == 0 {
		if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
			for _, b := range strings.Split(brokers, ",") {
				if b = strings.TrimSpace(b); b != "" {
					c.KafkaBrokers = append(c.KafkaBrokers, b)
				}
			}
		}
	}
}

func fillString(dst *string, fallback string) {
	if *dst == "" {
		*dst = fallback
	}
}
