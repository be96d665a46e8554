package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonathan/lesson-video-pipeline/internal/media"
	"github.com/jonathan/lesson-video-pipeline/internal/scripting"
	"github.com/jonathan/lesson-video-pipeline/internal/storage"
)

// ErrNoFinalVideo is returned when the merge produced no output.
var ErrNoFinalVideo = errors.New("merge produced no final video")

// ErrNoScenes is returned when a run folder holds no renderable scene.
var ErrNoScenes = errors.New("run folder has no scenes")

// ErrNoRenderedPairs is returned when no scene rendered both its video and
// its narration.
var ErrNoRenderedPairs = errors.New("no scene rendered both video and narration")

// StageError reports the stage a run stopped at.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageResult is the outcome of one stage within a run.
type StageResult struct {
	Stage    string        `json:"stage"`
	Status   string        `json:"status"`
	Duration time.Duration `json:"duration_ns"`
	Message  string        `json:"message,omitempty"`
}

// Result describes a finished (or stopped) run.
type Result struct {
	RunID string `json:"run_id"`
	Topic string `json:"topic,omitempty"`
	// Script is set once script_gen succeeds.
	Script *scripting.Script `json:"-"`
	// ProcessedFrom is the run folder the media was rendered from.
	ProcessedFrom string `json:"processed_from,omitempty"`
	// FinalVideo is the locator returned by the artifact saver.
	FinalVideo string                `json:"final_video,omitempty"`
	CopiedTo   string                `json:"copied_to,omitempty"`
	Merge      *media.MergeOutcome   `json:"-"`
	Upload     *storage.UploadResult `json:"upload,omitempty"`
	Stages     []StageResult         `json:"stages"`

	// MergedScenes holds the scene number of every merge ordinal, in order.
	MergedScenes []int `json:"merged_scenes,omitempty"`
}

// Stage returns the recorded result for stage, if any.
func (r *Result) Stage(stage string) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Stage == stage {
			return s, true
		}
	}
	return StageResult{}, false
}

func (r *Result) record(stage, status string, started time.Time, message string) {
	r.Stages = append(r.Stages, StageResult{
		Stage:    stage,
		Status:   status,
		Duration: time.Since(started),
		Message:  message,
	})
}
