package media

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/jonathan/lesson-video-pipeline/internal/logging"
)

// MediaKind distinguishes the two rendered payload types.
type MediaKind string

const (
	KindVideo MediaKind = "video"
	KindAudio MediaKind = "audio"
)

// MediaUnit is one rendered payload at a 1-based position in the lesson.
type MediaUnit struct {
	Kind    MediaKind
	Bytes   []byte
	Ordinal int
}

// MergedUnit is a scene video with its narration muxed in.
type MergedUnit struct {
	Bytes   []byte
	Ordinal int
}

// ToolOptions configures how the ffmpeg-backed components invoke the tool.
type ToolOptions struct {
	FFmpegPath string
	TempDir    string
	Verbose    bool
}

func (o ToolOptions) ffmpeg() string {
	if o.FFmpegPath == "" {
		return "ffmpeg"
	}
	return o.FFmpegPath
}

// FFmpegMuxer pairs one scene video with one narration track.
type FFmpegMuxer struct {
	runner Runner
	opts   ToolOptions
	prober *Prober
	logger *zap.Logger
}

// NewFFmpegMuxer creates a muxer. prober is optional and only used to log
// the duration of each merged unit.
func NewFFmpegMuxer(runner Runner, opts ToolOptions, prober *Prober, logger *zap.Logger) *FFmpegMuxer {
	return &FFmpegMuxer{
		runner: runner,
		opts:   opts,
		prober: prober,
		logger: logging.OrNop(logger),
	}
}

// Mux writes both payloads to a private scratch directory, runs ffmpeg and
// reads the merged file back. Failures come back as *UnitError.
func (m *FFmpegMuxer) Mux(ctx context.Context, video, audio []byte, ordinal int) (MergedUnit, error) {
	log := m.logger.With(zap.Int("ordinal", ordinal))
	log.Info("muxing unit",
		zap.Int("video_bytes", len(video)),
		zap.Int("audio_bytes", len(audio)))

	if len(video) == 0 || len(audio) == 0 {
		err := &UnitError{Ordinal: ordinal, Err: errors.New("empty media payload")}
		log.Warn("mux skipped", zap.Error(err))
		return MergedUnit{}, err
	}

	var merged []byte
	err := WithScope(m.opts.TempDir, fmt.Sprintf("mux-%03d", ordinal), func(scope *Scope) error {
		videoPath, err := scope.Write("video"+VideoExtension(video), video)
		if err != nil {
			return &UnitError{Ordinal: ordinal, Err: err}
		}
		audioPath, err := scope.Write("audio"+AudioExtension(audio), audio)
		if err != nil {
			return &UnitError{Ordinal: ordinal, Err: err}
		}
		outPath := scope.Path("merged.mp4")

		res := m.runner.Run(ctx, Command{
			Name: m.opts.ffmpeg(),
			Args: MuxArgs(videoPath, audioPath, outPath, m.opts.Verbose),
		})
		if res.Err != nil {
			return &UnitError{Ordinal: ordinal, Stderr: res.Stderr, Err: res.Err}
		}

		merged, err = os.ReadFile(outPath)
		if err != nil {
			return &UnitError{Ordinal: ordinal, Stderr: res.Stderr, Err: fmt.Errorf("failed to read merged output: %w", err)}
		}
		if len(merged) == 0 {
			return &UnitError{Ordinal: ordinal, Stderr: res.Stderr, Err: errors.New("ffmpeg produced an empty file")}
		}

		if m.prober != nil {
			if d, err := m.prober.Duration(ctx, outPath); err == nil {
				log.Debug("merged unit duration", zap.Duration("duration", d))
			}
		}
		return nil
	})
	if err != nil {
		var unitErr *UnitError
		if !errors.As(err, &unitErr) {
			err = &UnitError{Ordinal: ordinal, Err: err}
		}
		log.Error("mux failed", zap.Error(err), zap.String("hint", Classify(unitErrStderr(err))))
		return MergedUnit{}, err
	}

	log.Info("mux succeeded", zap.Int("output_bytes", len(merged)))
	return MergedUnit{Bytes: merged, Ordinal: ordinal}, nil
}

func unitErrStderr(err error) string {
	var unitErr *UnitError
	if errors.As(err, &unitErr) {
		return unitErr.Stderr
	}
	return ""
}

// AudioExtension guesses a file suffix for a narration payload from its
// content. ffmpeg probes the content itself, so the suffix is only a hint.
func AudioExtension(data []byte) string {
	if ext := mimetype.Detect(data).Extension(); ext != "" {
		return ext
	}
	return ".wav"
}

// VideoExtension guesses a file suffix for a scene video payload.
func VideoExtension(data []byte) string {
	if ext := mimetype.Detect(data).Extension(); ext != "" {
		return ext
	}
	return ".mp4"
}
