// Package render turns scene programs into video clips and narration text
// into audio clips using external tools.
package render

import (
	"context"

	"github.com/jonathan/lesson-video-pipeline/internal/media"
)

// Renderer produces one payload per input file: out[i] belongs to files[i]
// and is nil when that file was skipped, so callers can pair results by
// position across renderers.
type Renderer interface {
	Render(ctx context.Context, runID string, files []string) ([][]byte, error)
}

// ToolOptions are shared by the tool-backed renderers.
type ToolOptions struct {
	Runner  media.Runner
	TempDir string
	Binary  string // overrides the backend's default executable
}

// Rendered counts the non-nil payloads in clips.
func Rendered(clips [][]byte) int {
	n := 0
	for _, c := range clips {
		if c != nil {
			n++
		}
	}
	return n
}
