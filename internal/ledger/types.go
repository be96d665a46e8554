package ledger

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status values written to the per-stage status columns.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Stage names used for fault records and status routing.
const (
	StageScriptGen    = "script_gen"
	StageFileGen      = "file_gen"
	StageCodeGen      = "code_gen"
	StageRender       = "render"
	StageRenderVideo  = "render_video"
	StageRenderAudio  = "render_audio"
	StageMerge        = "merge"
	StageSaveArtifact = "save_artifact"
	StageCopy         = "copy_to_run_folder"
	StageUpload       = "upload"
)

// RunRecord is one row of the run table.
type RunRecord struct {
	RunID           string          `json:"run_id"`
	Topic           *string         `json:"topic,omitempty"`
	MetaPrompt      *string         `json:"meta_prompt,omitempty"`
	CleanedScript   json.RawMessage `json:"cleaned_script,omitempty"`
	ScriptGenStatus *string         `json:"script_gen_status,omitempty"`
	FileGenStatus   *string         `json:"file_gen_status,omitempty"`
	CodeGenStatus   *string         `json:"code_gen_status,omitempty"`
	RenderStatus    *string         `json:"render_status,omitempty"`
	MergeStatus     *string         `json:"merge_status,omitempty"`
	VideoStatus     *string         `json:"video_status,omitempty"`
	UploadStatus    *string         `json:"upload_status,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// RunUpdate carries the fields a stage wants to write. Nil fields keep
// whatever value the row already has.
type RunUpdate struct {
	Topic           *string
	MetaPrompt      *string
	CleanedScript   json.RawMessage
	ScriptGenStatus *string
	FileGenStatus   *string
	CodeGenStatus   *string
	RenderStatus    *string
	MergeStatus     *string
	VideoStatus     *string
	UploadStatus    *string
}

// Str returns a pointer to s for building RunUpdate values.
func Str(s string) *string {
	return &s
}

// IsEmpty reports whether the update sets no field.
func (u RunUpdate) IsEmpty() bool {
	return u.Topic == nil && u.MetaPrompt == nil && len(u.CleanedScript) == 0 &&
		u.ScriptGenStatus == nil && u.FileGenStatus == nil && u.CodeGenStatus == nil &&
		u.RenderStatus == nil && u.MergeStatus == nil && u.VideoStatus == nil &&
		u.UploadStatus == nil
}

// ApplyTo coalesces the update into rec: provided fields overwrite, omitted
// fields are left alone.
func (u RunUpdate) ApplyTo(rec *RunRecord) {
	coalesce(&rec.Topic, u.Topic)
	coalesce(&rec.MetaPrompt, u.MetaPrompt)
	if len(u.CleanedScript) > 0 {
		rec.CleanedScript = append(json.RawMessage(nil), u.CleanedScript...)
	}
	coalesce(&rec.ScriptGenStatus, u.ScriptGenStatus)
	coalesce(&rec.FileGenStatus, u.FileGenStatus)
	coalesce(&rec.CodeGenStatus, u.CodeGenStatus)
	coalesce(&rec.RenderStatus, u.RenderStatus)
	coalesce(&rec.MergeStatus, u.MergeStatus)
	coalesce(&rec.VideoStatus, u.VideoStatus)
	coalesce(&rec.UploadStatus, u.UploadStatus)
}

func coalesce(dst **string, v *string) {
	if v != nil {
		s := *v
		*dst = &s
	}
}

// StatusUpdate builds an update that sets the status column owned by stage.
// Stages without a column of their own (save_artifact, copy_to_run_folder)
// report through video_status.
func StatusUpdate(stage, status string) RunUpdate {
	s := Str(status)
	switch stage {
	case StageScriptGen:
		return RunUpdate{ScriptGenStatus: s}
	case StageFileGen:
		return RunUpdate{FileGenStatus: s}
	case StageCodeGen:
		return RunUpdate{CodeGenStatus: s}
	case StageRender, StageRenderVideo, StageRenderAudio:
		return RunUpdate{RenderStatus: s}
	case StageMerge:
		return RunUpdate{MergeStatus: s}
	case StageUpload:
		return RunUpdate{UploadStatus: s}
	default:
		return RunUpdate{VideoStatus: s}
	}
}

// FaultRecord is one row of the fault table.
type FaultRecord struct {
	FaultID     uuid.UUID `json:"fault_id"`
	RunID       string    `json:"run_id"`
	Stage       string    `json:"stage"`
	Description string    `json:"description"`
	Module      string    `json:"module"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
