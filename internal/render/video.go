package render

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/jonathan/lesson-video-pipeline/internal/ledger"
	"github.com/jonathan/lesson-video-pipeline/internal/logging"
	"github.com/jonathan/lesson-video-pipeline/internal/media"
	"github.com/jonathan/lesson-video-pipeline/internal/scripting"
)

const videoModule = "render.manim"

// qualityDirs maps manim quality flags to the folder manim writes into.
var qualityDirs = map[string]string{
	"l": "480p15",
	"m": "720p30",
	"h": "1080p60",
}

// ManimRenderer renders each scene program with the manim CLI.
type ManimRenderer struct {
	opts    ToolOptions
	quality string
	ledger  ledger.Recorder
	logger  *zap.Logger
}

// NewVideoRenderer resolves a video renderer by name. Only "manim" exists.
func NewVideoRenderer(name string, opts ToolOptions, quality string, rec ledger.Recorder, logger *zap.Logger) (Renderer, error) {
	switch name {
	case "", "manim":
		return NewManimRenderer(opts, quality, rec, logger), nil
	default:
		return nil, fmt.Errorf("unknown video renderer %q (available: manim)", name)
	}
}

// NewManimRenderer returns a renderer at quality l, m or h.
func NewManimRenderer(opts ToolOptions, quality string, rec ledger.Recorder, logger *zap.Logger) *ManimRenderer {
	logger = logging.OrNop(logger)
	if _, ok := qualityDirs[quality]; !ok {
		quality = "l"
	}
	if opts.Binary == "" {
		opts.Binary = "manim"
	}
	return &ManimRenderer{
		opts:    opts,
		quality: quality,
		ledger:  ledger.NewBestEffort(rec, logger),
		logger:  logger,
	}
}

// Render renders files in order and reports render_status: success when at
// least one clip rendered, failed otherwise. Each skipped file is a fault
// and leaves a nil slot.
func (r *ManimRenderer) Render(ctx context.Context, runID string, files []string) ([][]byte, error) {
	log := r.logger.With(zap.String("run_id", runID))
	_ = r.ledger.UpsertRun(ctx, runID, ledger.StatusUpdate(ledger.StageRender, ledger.StatusRunning))

	out := make([][]byte, len(files))
	for i, file := range files {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		data, err := r.renderOne(ctx, file)
		if err != nil {
			log.Warn("scene render failed", zap.Int("ordinal", i+1), zap.String("file", file), zap.Error(err))
			_ = r.ledger.RecordFault(ctx, runID, ledger.StageRenderVideo,
				fmt.Sprintf("%s: %v", filepath.Base(file), err), videoModule)
			continue
		}
		log.Info("scene rendered", zap.Int("ordinal", i+1), zap.Int("output_bytes", len(data)))
		out[i] = data
	}

	status := ledger.StatusSuccess
	if Rendered(out) == 0 {
		status = ledger.StatusFailed
	}
	_ = r.ledger.UpsertRun(ctx, runID, ledger.StatusUpdate(ledger.StageRender, status))
	return out, nil
}

func (r *ManimRenderer) renderOne(ctx context.Context, file string) ([]byte, error) {
	code, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read scene program: %w", err)
	}
	m := scripting.SceneClassPattern.FindSubmatch(code)
	if m == nil {
		return nil, errors.New("no Scene class found")
	}
	sceneClass := string(m[1])

	var data []byte
	err = media.WithScope(r.opts.TempDir, "manim", func(scope *media.Scope) error {
		res := r.opts.Runner.Run(ctx, media.Command{
			Name: r.opts.Binary,
			Args: ManimArgs(r.quality, scope.Dir(), file, sceneClass),
		})
		if res.Err != nil {
			return &media.ToolError{Tool: "manim", Stderr: res.Stderr, Err: res.Err}
		}

		clip, err := findClip(scope.Dir(), file, sceneClass, r.quality)
		if err != nil {
			return err
		}
		data, err = os.ReadFile(clip)
		if err != nil {
			return fmt.Errorf("failed to read rendered clip: %w", err)
		}
		if len(data) == 0 {
			return errors.New("manim produced an empty clip")
		}
		return nil
	})
	return data, err
}

// ManimArgs builds the manim command line for one scene.
func ManimArgs(quality, mediaDir, file, sceneClass string) []string {
	return []string{"render", "-q" + quality, "--media_dir", mediaDir, file, sceneClass}
}

// findClip returns manim's expected output path, or the first matching mp4
// anywhere under mediaDir outside partial_movie_files.
func findClip(mediaDir, file, sceneClass, quality string) (string, error) {
	stem := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	expected := filepath.Join(mediaDir, "videos", stem, qualityDirs[quality], sceneClass+".mp4")
	if info, err := os.Stat(expected); err == nil && info.Mode().IsRegular() {
		return expected, nil
	}

	var named, anyClip string
	_ = filepath.WalkDir(mediaDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == "partial_movie_files" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(p), ".mp4") {
			return nil
		}
		if d.Name() == sceneClass+".mp4" && named == "" {
			named = p
		}
		if anyClip == "" {
			anyClip = p
		}
		return nil
	})
	if named != "" {
		return named, nil
	}
	if anyClip != "" {
		return anyClip, nil
	}
	return "", fmt.Errorf("no rendered clip found for %s", sceneClass)
}
