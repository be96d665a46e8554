// Package steps defines the pipeline stages, their dependencies, and how a
// run record's status columns translate into per-stage progress.
package steps

import (
	"fmt"

	"github.com/jonathan/lesson-video-pipeline/internal/ledger"
)

// StageDefinition defines metadata for a pipeline stage
type StageDefinition struct {
	Name         string
	Dependencies []string
	Optional     []string
	// BestEffort stages never decide the outcome of a run.
	BestEffort bool
}

// Order is the sequence in which the coordinator runs the stages.
var Order = []string{
	ledger.StageScriptGen,
	ledger.StageFileGen,
	ledger.StageCodeGen,
	ledger.StageRender,
	ledger.StageMerge,
	ledger.StageSaveArtifact,
	ledger.StageCopy,
	ledger.StageUpload,
}

// StageRegistry holds all stage definitions
var StageRegistry = map[string]StageDefinition{
	ledger.StageScriptGen: {
		Name: ledger.StageScriptGen,
	},
	ledger.StageFileGen: {
		Name:         ledger.StageFileGen,
		Dependencies: []string{ledger.StageScriptGen},
	},
	ledger.StageCodeGen: {
		Name:         ledger.StageCodeGen,
		Dependencies: []string{ledger.StageFileGen},
	},
	ledger.StageRender: {
		Name:         ledger.StageRender,
		Dependencies: []string{ledger.StageCodeGen},
	},
	ledger.StageMerge: {
		Name:         ledger.StageMerge,
		Dependencies: []string{ledger.StageRender},
	},
	ledger.StageSaveArtifact: {
		Name:         ledger.StageSaveArtifact,
		Dependencies: []string{ledger.StageMerge},
	},
	ledger.StageCopy: {
		Name:         ledger.StageCopy,
		Dependencies: []string{ledger.StageSaveArtifact},
		BestEffort:   true,
	},
	ledger.StageUpload: {
		Name:       ledger.StageUpload,
		Optional:   []string{ledger.StageMerge},
		BestEffort: true,
	},
}

// DependencyError represents a dependency validation error
type DependencyError struct {
	Stage               string
	MissingDependencies []string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("stage %s is missing dependencies: %v", e.Stage, e.MissingDependencies)
}

// StatusOf reads the status of stage from rec. save_artifact and
// copy_to_run_folder share the video_status column. A nil record or an
// unset column yields "".
func StatusOf(rec *ledger.RunRecord, stage string) string {
	if rec == nil {
		return ""
	}
	var col *string
	switch stage {
	case ledger.StageScriptGen:
		col = rec.ScriptGenStatus
	case ledger.StageFileGen:
		col = rec.FileGenStatus
	case ledger.StageCodeGen:
		col = rec.CodeGenStatus
	case ledger.StageRender, ledger.StageRenderVideo, ledger.StageRenderAudio:
		col = rec.RenderStatus
	case ledger.StageMerge:
		col = rec.MergeStatus
	case ledger.StageUpload:
		col = rec.UploadStatus
	case ledger.StageSaveArtifact, ledger.StageCopy:
		col = rec.VideoStatus
	}
	if col == nil {
		return ""
	}
	return *col
}

// ValidateDependencies checks that every required dependency of stage
// completed successfully in rec.
func ValidateDependencies(rec *ledger.RunRecord, stage string) error {
	def, ok := StageRegistry[stage]
	if !ok {
		return fmt.Errorf("unknown stage: %s", stage)
	}

	var missing []string
	for _, dep := range def.Dependencies {
		if StatusOf(rec, dep) != ledger.StatusSuccess {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		return &DependencyError{Stage: stage, MissingDependencies: missing}
	}
	return nil
}

// Available returns, in pipeline order, the stages whose dependencies are met
// and which have not completed or started yet.
func Available(rec *ledger.RunRecord) []string {
	var available []string
	for _, stage := range Order {
		switch StatusOf(rec, stage) {
		case ledger.StatusSuccess, ledger.StatusRunning:
			continue
		}
		if ValidateDependencies(rec, stage) != nil {
			continue
		}
		available = append(available, stage)
	}
	return available
}

// Blocked returns, in pipeline order, the incomplete stages whose
// dependencies are not met.
func Blocked(rec *ledger.RunRecord) []string {
	var blocked []string
	for _, stage := range Order {
		switch StatusOf(rec, stage) {
		case ledger.StatusSuccess, ledger.StatusRunning:
			continue
		}
		if ValidateDependencies(rec, stage) != nil {
			blocked = append(blocked, stage)
		}
	}
	return blocked
}
