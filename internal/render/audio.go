package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/jonathan/lesson-video-pipeline/internal/ledger"
	"github.com/jonathan/lesson-video-pipeline/internal/logging"
	"github.com/jonathan/lesson-video-pipeline/internal/media"
)

const audioModule = "render.tts"

// AudioOptions configures a TTS backend.
type AudioOptions struct {
	ToolOptions
	Voice    string
	Language string
}

// Backend builds the command that speaks one narration into outPath.
type Backend interface {
	Name() string
	Extension() string
	Command(binary, text, textPath, outPath string, opts AudioOptions) media.Command
	DefaultBinary() string
}

var backends = map[string]Backend{
	"espeak": espeakBackend{},
	"gtts":   gttsBackend{},
	"piper":  piperBackend{},
}

// AudioBackends lists the registered backend names in sorted order.
func AudioBackends() []string {
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewAudioRenderer resolves a TTS backend by name. Unknown names are an error.
func NewAudioRenderer(name string, opts AudioOptions, rec ledger.Recorder, logger *zap.Logger) (*TTSRenderer, error) {
	b, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("unknown audio backend %q (available: %s)", name, strings.Join(AudioBackends(), ", "))
	}
	if name == "piper" && opts.Voice == "" {
		return nil, fmt.Errorf("piper backend requires a voice model (tts_voice)")
	}
	if opts.Binary == "" {
		opts.Binary = b.DefaultBinary()
	}
	logger = logging.OrNop(logger)
	return &TTSRenderer{backend: b, opts: opts, ledger: ledger.NewBestEffort(rec, logger), logger: logger}, nil
}

// TTSRenderer speaks narration files with a command-line TTS backend.
type TTSRenderer struct {
	backend Backend
	opts    AudioOptions
	ledger  ledger.Recorder
	logger  *zap.Logger
}

// Render speaks files in order. Empty narration files are skipped with a
// warning; synthesis failures are skipped and recorded as faults. Skipped
// files leave a nil slot.
func (r *TTSRenderer) Render(ctx context.Context, runID string, files []string) ([][]byte, error) {
	log := r.logger.With(zap.String("run_id", runID), zap.String("backend", r.backend.Name()))

	out := make([][]byte, len(files))
	for i, file := range files {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		text, err := os.ReadFile(file)
		if err != nil {
			log.Warn("narration unreadable", zap.Int("ordinal", i+1), zap.Error(err))
			_ = r.ledger.RecordFault(ctx, runID, ledger.StageRenderAudio, err.Error(), audioModule)
			continue
		}
		if strings.TrimSpace(string(text)) == "" {
			log.Warn("empty narration skipped", zap.Int("ordinal", i+1), zap.String("file", file))
			continue
		}

		data, err := r.speak(ctx, file, string(text))
		if err != nil {
			log.Warn("speech synthesis failed", zap.Int("ordinal", i+1), zap.String("file", file), zap.Error(err))
			_ = r.ledger.RecordFault(ctx, runID, ledger.StageRenderAudio,
				fmt.Sprintf("%s: %v", filepath.Base(file), err), audioModule)
			continue
		}
		log.Info("narration rendered", zap.Int("ordinal", i+1), zap.Int("output_bytes", len(data)))
		out[i] = data
	}
	return out, nil
}

func (r *TTSRenderer) speak(ctx context.Context, textPath, text string) ([]byte, error) {
	var data []byte
	err := media.WithScope(r.opts.TempDir, "tts", func(scope *media.Scope) error {
		outPath := scope.Path("narration" + r.backend.Extension())
		res := r.opts.Runner.Run(ctx, r.backend.Command(r.opts.Binary, text, textPath, outPath, r.opts))
		if res.Err != nil {
			return &media.ToolError{Tool: r.backend.Name(), Stderr: res.Stderr, Err: res.Err}
		}
		var err error
		data, err = os.ReadFile(outPath)
		if err != nil {
			return fmt.Errorf("failed to read synthesized audio: %w", err)
		}
		if len(data) == 0 {
			return errors.New("backend produced an empty file")
		}
		return nil
	})
	return data, err
}

type espeakBackend struct{}

func (espeakBackend) Name() string          { return "espeak" }
func (espeakBackend) Extension() string     { return ".wav" }
func (espeakBackend) DefaultBinary() string { return "espeak-ng" }

func (espeakBackend) Command(binary, _, textPath, outPath string, opts AudioOptions) media.Command {
	args := []string{"-w", outPath, "-f", textPath}
	voice := opts.Voice
	if voice == "" {
		voice = opts.Language
	}
	if voice != "" {
		args = append([]string{"-v", voice}, args...)
	}
	return media.Command{Name: binary, Args: args}
}

type gttsBackend struct{}

func (gttsBackend) Name() string          { return "gtts" }
func (gttsBackend) Extension() string     { return ".mp3" }
func (gttsBackend) DefaultBinary() string { return "gtts-cli" }

func (gttsBackend) Command(binary, _, textPath, outPath string, opts AudioOptions) media.Command {
	lang := opts.Language
	if lang == "" {
		lang = "en"
	}
	return media.Command{Name: binary, Args: []string{"--lang", lang, "--file", textPath, "--output", outPath}}
}

type piperBackend struct{}

func (piperBackend) Name() string          { return "piper" }
func (piperBackend) Extension() string     { return ".wav" }
func (piperBackend) DefaultBinary() string { return "piper" }

func (piperBackend) Command(binary, text, _, outPath string, opts AudioOptions) media.Command {
	return media.Command{
		Name:  binary,
		Args:  []string{"--model", opts.Voice, "--output_file", outPath},
		Stdin: text,
	}
}
