package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/lesson-video-pipeline/internal/ledger"
	"github.com/jonathan/lesson-video-pipeline/internal/scripting"
	"github.com/jonathan/lesson-video-pipeline/internal/workspace"
)

// ErrNotConfigured is returned by a stage whose collaborator was not wired.
var ErrNotConfigured = errors.New("not configured")

// The methods below run single stages on demand. Each reports to the ledger
// under its own run id and ends with a StageRun progress event.

// GenerateFiles runs file_gen on a scene JSON array supplied by the caller
// and returns the new run folder in ProcessedFrom.
func (c *Coordinator) GenerateFiles(ctx context.Context, runID, scriptJSON string) (res *Result, err error) {
	if runID, err = resolveRunID(runID); err != nil {
		return &Result{RunID: runID}, err
	}
	st := c.newState(runID)
	defer func() { c.stageDone(st, err) }()

	started := c.begin(ctx, st, ledger.StageFileGen)
	script, err := scripting.ParseScript(scriptJSON)
	if err != nil {
		return st.res, c.fail(ctx, st, ledger.StageFileGen, started, err, moduleCoordinator)
	}
	st.res.Script = script
	_ = c.ledger.UpsertRun(ctx, runID, ledger.RunUpdate{CleanedScript: script.Cleaned})

	folder, err := c.deps.Workspace.CreateRunFolder(script.Scenes)
	if err != nil {
		return st.res, c.fail(ctx, st, ledger.StageFileGen, started, err, moduleCoordinator)
	}
	st.res.ProcessedFrom = folder.Path
	c.succeed(ctx, st, ledger.StageFileGen, started, folder.Path)
	return st.res, nil
}

// GenerateCode runs code_gen for the scenes of scriptJSON and writes the
// programs into the run folder at path ("" or "latest" for the newest).
func (c *Coordinator) GenerateCode(ctx context.Context, runID, path, scriptJSON string) (res *Result, err error) {
	if c.deps.Code == nil {
		return &Result{RunID: runID}, fmt.Errorf("%w: no code generator", ErrNotConfigured)
	}
	if runID, err = resolveRunID(runID); err != nil {
		return &Result{RunID: runID}, err
	}
	st := c.newState(runID)
	defer func() { c.stageDone(st, err) }()

	started := c.begin(ctx, st, ledger.StageCodeGen)
	script, err := scripting.ParseScript(scriptJSON)
	if err != nil {
		return st.res, c.fail(ctx, st, ledger.StageCodeGen, started, err, moduleCoordinator)
	}
	st.res.Script = script
	dir, err := c.existingFolder(path)
	if err != nil {
		return st.res, c.fail(ctx, st, ledger.StageCodeGen, started, err, moduleCoordinator)
	}
	st.res.ProcessedFrom = dir

	target := &workspace.RunFolder{Path: dir}
	for _, scene := range script.Scenes {
		target.Scenes = append(target.Scenes, workspace.SceneFiles{
			Seq: scene.Seq,
			Dir: filepath.Join(dir, workspace.SceneName(scene.Seq)),
		})
	}
	written, err := c.writeCode(ctx, st, target, script.Scenes)
	if err != nil {
		return st.res, c.fail(ctx, st, ledger.StageCodeGen, started, err, moduleCodegen)
	}
	c.succeed(ctx, st, ledger.StageCodeGen, started, fmt.Sprintf("%d programs", len(written.Scenes)))
	return st.res, nil
}

// WriteScripts stores caller-supplied programs, keyed by scene number, in
// the run folder at path and then renders it like RenderFolder.
func (c *Coordinator) WriteScripts(ctx context.Context, runID, path string, programs map[int]string) (res *Result, err error) {
	if runID, err = resolveRunID(runID); err != nil {
		return &Result{RunID: runID}, err
	}
	st := c.newState(runID)
	defer func() { c.finish(ctx, st, err) }()

	started := c.begin(ctx, st, ledger.StageCodeGen)
	if len(programs) == 0 {
		return st.res, c.fail(ctx, st, ledger.StageCodeGen, started,
			errors.New("no scene programs supplied"), moduleCoordinator)
	}
	dir, err := c.existingFolder(path)
	if err != nil {
		return st.res, c.fail(ctx, st, ledger.StageCodeGen, started, err, moduleCoordinator)
	}
	st.res.ProcessedFrom = dir

	seqs := make([]int, 0, len(programs))
	for seq := range programs {
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)
	for _, seq := range seqs {
		if seq < 1 {
			return st.res, c.fail(ctx, st, ledger.StageCodeGen, started,
				fmt.Errorf("invalid scene number %d", seq), moduleCoordinator)
		}
		if _, err := workspace.WriteCode(dir, seq, programs[seq]); err != nil {
			return st.res, c.fail(ctx, st, ledger.StageCodeGen, started, err, moduleCoordinator)
		}
	}
	c.succeed(ctx, st, ledger.StageCodeGen, started, fmt.Sprintf("%d programs written", len(seqs)))

	started = time.Now()
	folder, err := workspace.Scan(dir)
	if err != nil {
		return st.res, c.fail(ctx, st, ledger.StageRender, started, err, moduleCoordinator)
	}
	return st.res, c.produce(ctx, st, folder)
}

// UploadFolder uploads the run folder at path. An empty runID uses the
// folder name when it is a valid run id.
func (c *Coordinator) UploadFolder(ctx context.Context, runID, path string) (res *Result, err error) {
	if c.deps.Uploader == nil {
		return &Result{RunID: runID}, fmt.Errorf("%w: no object store", ErrNotConfigured)
	}
	dir, err := c.deps.Workspace.Resolve(path)
	if err != nil {
		return &Result{RunID: runID}, &StageError{Stage: ledger.StageUpload, Err: err}
	}
	if runID == "" && ledger.ValidateRunID(filepath.Base(dir)) == nil {
		runID = filepath.Base(dir)
	}
	if runID, err = resolveRunID(runID); err != nil {
		return &Result{RunID: runID}, err
	}
	st := c.newState(runID)
	st.res.ProcessedFrom = dir
	defer func() { c.stageDone(st, err) }()

	started := c.begin(ctx, st, ledger.StageUpload)
	if _, err := c.existingFolder(dir); err != nil {
		return st.res, c.fail(ctx, st, ledger.StageUpload, started, err, moduleUpload)
	}
	up, err := c.deps.Uploader.UploadFolder(ctx, runID, dir)
	if err != nil {
		return st.res, c.fail(ctx, st, ledger.StageUpload, started, err, moduleUpload)
	}
	st.res.Upload = up
	c.succeed(ctx, st, ledger.StageUpload, started, fmt.Sprintf("%d objects", len(up.Objects)))
	return st.res, nil
}

// existingFolder resolves path and checks that it is a directory.
func (c *Coordinator) existingFolder(path string) (string, error) {
	dir, err := c.deps.Workspace.Resolve(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("failed to open run folder: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("run folder is not a directory: %s", dir)
	}
	return dir, nil
}

// stageDone ends a single-stage operation with the StageRun progress event.
func (c *Coordinator) stageDone(st *runState, err error) {
	if err != nil {
		c.progress(st, StageRun, ledger.StatusFailed, err.Error())
		return
	}
	st.log.Info("stage run completed", zap.String("processed_from", st.res.ProcessedFrom))
	c.progress(st, StageRun, ledger.StatusSuccess, st.res.ProcessedFrom)
}

// resolveRunID fills in a fresh UUID for an empty id and validates the rest.
func resolveRunID(runID string) (string, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	return runID, ledger.ValidateRunID(runID)
}
