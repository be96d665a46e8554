package media

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/jonathan/lesson-video-pipeline/internal/logging"
)

// FFmpegConcatenator joins merged units with the ffmpeg concat demuxer.
type FFmpegConcatenator struct {
	runner Runner
	opts   ToolOptions
	logger *zap.Logger
}

// NewFFmpegConcatenator creates a concatenator.
func NewFFmpegConcatenator(runner Runner, opts ToolOptions, logger *zap.Logger) *FFmpegConcatenator {
	return &FFmpegConcatenator{
		runner: runner,
		opts:   opts,
		logger: logging.OrNop(logger),
	}
}

// Concatenate joins units in the order given.
// No units yields nil with no error. A single unit is returned unchanged
// without invoking ffmpeg. On tool failure the result is nil and the error
// is a *ToolError.
func (c *FFmpegConcatenator) Concatenate(ctx context.Context, units [][]byte) ([]byte, error) {
	switch len(units) {
	case 0:
		return nil, nil
	case 1:
		return units[0], nil
	}

	var out []byte
	err := WithScope(c.opts.TempDir, "concat", func(scope *Scope) error {
		paths := make([]string, 0, len(units))
		for i, unit := range units {
			p, err := scope.Write(fmt.Sprintf("segment_%03d.mp4", i+1), unit)
			if err != nil {
				return err
			}
			paths = append(paths, p)
		}

		manifestPath, err := scope.Write("concat.txt", []byte(BuildManifest(paths)))
		if err != nil {
			return err
		}
		outPath := scope.Path("final.mp4")

		c.logger.Info("concatenating units", zap.Int("units", len(units)))
		res := c.runner.Run(ctx, Command{
			Name: c.opts.ffmpeg(),
			Args: ConcatArgs(manifestPath, outPath, c.opts.Verbose),
		})
		if res.Err != nil {
			return &ToolError{Tool: "ffmpeg concat", Stderr: res.Stderr, Err: res.Err}
		}

		out, err = os.ReadFile(outPath)
		if err != nil {
			return &ToolError{Tool: "ffmpeg concat", Stderr: res.Stderr, Err: fmt.Errorf("failed to read output: %w", err)}
		}
		if len(out) == 0 {
			return &ToolError{Tool: "ffmpeg concat", Stderr: res.Stderr, Err: errors.New("empty output")}
		}
		return nil
	})
	if err != nil {
		c.logger.Error("concatenation failed", zap.Error(err))
		return nil, err
	}

	c.logger.Info("concatenation succeeded", zap.Int("output_bytes", len(out)))
	return out, nil
}
