// Package pipeline runs a lesson from topic to final video: script, files,
// code, render, merge, save, copy and upload, reporting every stage to the
// run ledger.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/lesson-video-pipeline/internal/artifacts"
	"github.com/jonathan/lesson-video-pipeline/internal/events"
	"github.com/jonathan/lesson-video-pipeline/internal/ledger"
	"github.com/jonathan/lesson-video-pipeline/internal/logging"
	"github.com/jonathan/lesson-video-pipeline/internal/media"
	"github.com/jonathan/lesson-video-pipeline/internal/render"
	"github.com/jonathan/lesson-video-pipeline/internal/scripting"
	"github.com/jonathan/lesson-video-pipeline/internal/storage"
	"github.com/jonathan/lesson-video-pipeline/internal/workspace"
)

// Fault modules recorded by the coordinator itself.
const (
	moduleCoordinator = "pipeline.coordinator"
	moduleCodegen     = "scripting.codegen"
	moduleSaver       = "artifacts.saver"
	moduleUpload      = "storage.minio"
)

// StageRun is the stage name of the final progress event of every run.
const StageRun = "run"

// ProgressEvent represents a progress update during pipeline execution
type ProgressEvent struct {
	RunID   string `json:"run_id"`
	Stage   string `json:"stage"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ProgressCallback is called when pipeline progress occurs
type ProgressCallback func(event ProgressEvent)

// CodeWriter generates one animation program per scene.
type CodeWriter interface {
	GenerateAll(ctx context.Context, scenes []scripting.Scene) *scripting.CodeResult
}

// Merger muxes and concatenates rendered media.
type Merger interface {
	MergeAll(ctx context.Context, video, audio [][]byte, runID string) (*media.MergeOutcome, error)
}

// Uploader copies a run folder to object storage.
type Uploader interface {
	UploadFolder(ctx context.Context, runID, dir string) (*storage.UploadResult, error)
}

// Deps are the collaborators of a Coordinator. Scripts and Code are only
// needed by Run; Uploader, Events, Ledger and Logger are optional.
type Deps struct {
	Scripts    scripting.Generator
	Code       CodeWriter
	Workspace  *workspace.Workspace
	Video      render.Renderer
	Audio      render.Renderer
	Merger     Merger
	Saver      artifacts.Saver
	Uploader   Uploader
	Events     events.Publisher
	Ledger     ledger.Recorder
	Logger     *zap.Logger
	OnProgress ProgressCallback
}

// Coordinator sequences the stages of a run.
type Coordinator struct {
	deps   Deps
	ledger ledger.Recorder
	logger *zap.Logger
}

// New validates deps and returns a Coordinator.
func New(deps Deps) (*Coordinator, error) {
	var missing []string
	if deps.Workspace == nil {
		missing = append(missing, "workspace")
	}
	if deps.Video == nil {
		missing = append(missing, "video renderer")
	}
	if deps.Audio == nil {
		missing = append(missing, "audio renderer")
	}
	if deps.Merger == nil {
		missing = append(missing, "merger")
	}
	if deps.Saver == nil {
		missing = append(missing, "saver")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("pipeline is missing collaborators: %v", missing)
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	logger := logging.OrNop(deps.Logger)
	return &Coordinator{
		deps:   deps,
		ledger: ledger.NewBestEffort(deps.Ledger, logger),
		logger: logger,
	}, nil
}

// runState is the bookkeeping shared by the stages of one run.
type runState struct {
	res *Result
	log *zap.Logger
	// uploadDir is set once the run reaches the merge stage; the deferred
	// upload only runs from then on.
	uploadDir string
}

// Run executes the full pipeline for req. An empty runID gets a fresh UUID;
// any other id must pass ledger.ValidateRunID. The returned Result is never
// nil; once the run starts, err is a *StageError naming the stage it stopped at.
func (c *Coordinator) Run(ctx context.Context, runID string, req scripting.Request) (res *Result, err error) {
	if c.deps.Scripts == nil || c.deps.Code == nil {
		return &Result{RunID: runID}, fmt.Errorf("%w: no script or code generator", ErrNotConfigured)
	}
	if runID, err = resolveRunID(runID); err != nil {
		return &Result{RunID: runID}, err
	}
	st := c.newState(runID)
	st.res.Topic = req.Topic
	defer func() { c.finish(ctx, st, err) }()

	st.log.Info("run started", zap.String("topic", req.Topic))

	// script_gen
	started := c.begin(ctx, st, ledger.StageScriptGen)
	_ = c.ledger.UpsertRun(ctx, runID, ledger.RunUpdate{
		Topic:      ledger.Str(req.Topic),
		MetaPrompt: ledger.Str(req.MetaPrompt()),
	})
	script, err := c.deps.Scripts.Generate(ctx, req)
	if err != nil {
		return st.res, c.fail(ctx, st, ledger.StageScriptGen, started, err, moduleCoordinator)
	}
	st.res.Script = script
	update := ledger.RunUpdate{CleanedScript: script.Cleaned}
	if script.MetaPrompt != "" {
		update.MetaPrompt = ledger.Str(script.MetaPrompt)
	}
	_ = c.ledger.UpsertRun(ctx, runID, update)
	c.succeed(ctx, st, ledger.StageScriptGen, started, fmt.Sprintf("%d scenes", len(script.Scenes)))

	// file_gen
	started = c.begin(ctx, st, ledger.StageFileGen)
	folder, err := c.deps.Workspace.CreateRunFolder(script.Scenes)
	if err != nil {
		return st.res, c.fail(ctx, st, ledger.StageFileGen, started, err, moduleCoordinator)
	}
	st.res.ProcessedFrom = folder.Path
	c.succeed(ctx, st, ledger.StageFileGen, started, folder.Path)

	// code_gen
	started = c.begin(ctx, st, ledger.StageCodeGen)
	folder, err = c.writeCode(ctx, st, folder, script.Scenes)
	if err != nil {
		return st.res, c.fail(ctx, st, ledger.StageCodeGen, started, err, moduleCodegen)
	}
	c.succeed(ctx, st, ledger.StageCodeGen, started, fmt.Sprintf("%d programs", len(folder.Scenes)))

	return st.res, c.produce(ctx, st, folder)
}

// RenderFolder renders, merges and saves an existing run folder. An empty
// path or "latest" picks the most recent folder in the workspace.
func (c *Coordinator) RenderFolder(ctx context.Context, runID, path string) (res *Result, err error) {
	if runID, err = resolveRunID(runID); err != nil {
		return &Result{RunID: runID}, err
	}
	st := c.newState(runID)
	defer func() { c.finish(ctx, st, err) }()

	started := time.Now()
	resolved, err := c.deps.Workspace.Resolve(path)
	if err != nil {
		return st.res, c.fail(ctx, st, ledger.StageRender, started, err, moduleCoordinator)
	}
	folder, err := workspace.Scan(resolved)
	if err != nil {
		return st.res, c.fail(ctx, st, ledger.StageRender, started, err, moduleCoordinator)
	}
	if len(folder.Scenes) == 0 {
		return st.res, c.fail(ctx, st, ledger.StageRender, started,
			fmt.Errorf("%w: %s", ErrNoScenes, folder.Path), moduleCoordinator)
	}
	st.res.ProcessedFrom = folder.Path
	st.log.Info("rendering run folder", zap.String("path", folder.Path), zap.Int("scenes", len(folder.Scenes)))

	return st.res, c.produce(ctx, st, folder)
}

func (c *Coordinator) newState(runID string) *runState {
	return &runState{
		res: &Result{RunID: runID},
		log: c.logger.With(zap.String("run_id", runID)),
	}
}

// writeCode stores every generated program and returns the folder narrowed
// to the scenes that have one, so video and narration stay paired.
func (c *Coordinator) writeCode(ctx context.Context, st *runState, folder *workspace.RunFolder, scenes []scripting.Scene) (*workspace.RunFolder, error) {
	code := c.deps.Code.GenerateAll(ctx, scenes)
	for seq, err := range code.Failed {
		_ = c.ledger.RecordFault(ctx, st.res.RunID, ledger.StageCodeGen,
			fmt.Sprintf("%s: %v", workspace.SceneName(seq), err), moduleCodegen)
	}

	narrowed := &workspace.RunFolder{Path: folder.Path}
	for _, scene := range folder.Scenes {
		program, ok := code.Code[scene.Seq]
		if !ok {
			continue
		}
		path, err := workspace.WriteCode(folder.Path, scene.Seq, program)
		if err != nil {
			return nil, err
		}
		scene.Code = path
		narrowed.Scenes = append(narrowed.Scenes, scene)
	}
	if len(narrowed.Scenes) == 0 {
		return nil, fmt.Errorf("no scene program generated (%d failed)", len(code.Failed))
	}
	return narrowed, nil
}

// produce runs render, merge, save and copy for folder. From the merge stage
// on, the deferred finish uploads the folder whatever happens.
func (c *Coordinator) produce(ctx context.Context, st *runState, folder *workspace.RunFolder) error {
	runID := st.res.RunID

	// render: video and audio run concurrently; each renderer records its
	// own per-file faults and the video renderer owns render_status.
	started := c.begin(ctx, st, ledger.StageRender)
	ready, incomplete := folder.Renderable()
	for _, scene := range incomplete {
		c.sceneFault(ctx, st, scene.Seq, "missing "+strings.Join(scene.Missing(), " and "))
	}
	if len(ready) == 0 {
		return c.fail(ctx, st, ledger.StageRender, started,
			fmt.Errorf("%w: no scene has both a program and narration", ErrNoScenes), moduleCoordinator)
	}

	codeFiles := make([]string, len(ready))
	textFiles := make([]string, len(ready))
	for i, scene := range ready {
		codeFiles[i] = scene.Code
		textFiles[i] = scene.Narration
	}

	var videoClips, audioClips [][]byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		clips, err := c.deps.Video.Render(gctx, runID, codeFiles)
		if err != nil {
			return fmt.Errorf("video render failed: %w", err)
		}
		videoClips = clips
		return nil
	})
	g.Go(func() error {
		clips, err := c.deps.Audio.Render(gctx, runID, textFiles)
		if err != nil {
			return fmt.Errorf("audio render failed: %w", err)
		}
		audioClips = clips
		return nil
	})
	if err := g.Wait(); err != nil {
		return c.fail(ctx, st, ledger.StageRender, started, err, moduleCoordinator)
	}

	// only scenes rendered on both sides reach the merger, so merge
	// ordinal k always pairs the clips of scene MergedScenes[k-1]
	var video, audio [][]byte
	for i, scene := range ready {
		v, a := clipAt(videoClips, i), clipAt(audioClips, i)
		switch {
		case v != nil && a != nil:
			video = append(video, v)
			audio = append(audio, a)
			st.res.MergedScenes = append(st.res.MergedScenes, scene.Seq)
		case v == nil && a == nil:
			c.sceneFault(ctx, st, scene.Seq, "neither video nor narration rendered")
		case v == nil:
			c.sceneFault(ctx, st, scene.Seq, "video not rendered, narration dropped")
		default:
			c.sceneFault(ctx, st, scene.Seq, "narration not rendered, video dropped")
		}
	}
	if len(video) == 0 {
		return c.fail(ctx, st, ledger.StageRender, started, ErrNoRenderedPairs, moduleCoordinator)
	}
	st.res.record(ledger.StageRender, ledger.StatusSuccess, started,
		fmt.Sprintf("%d of %d scenes paired", len(video), len(folder.Scenes)))
	c.progress(st, ledger.StageRender, ledger.StatusSuccess, "")

	st.uploadDir = folder.Path

	// merge: the merger writes merge_status and its own faults.
	started = c.begin(ctx, st, ledger.StageMerge)
	outcome, err := c.deps.Merger.MergeAll(ctx, video, audio, runID)
	st.res.Merge = outcome
	if outcome != nil {
		for _, ord := range outcome.FailedOrdinals {
			if ord >= 1 && ord <= len(st.res.MergedScenes) {
				st.log.Warn("scene dropped at merge", zap.Int("ordinal", ord),
					zap.Int("scene", st.res.MergedScenes[ord-1]))
			}
		}
	}
	if err != nil {
		return c.stopped(st, ledger.StageMerge, started, err)
	}
	if outcome == nil || outcome.FinalBytes == nil {
		return c.stopped(st, ledger.StageMerge, started, ErrNoFinalVideo)
	}
	st.res.record(ledger.StageMerge, ledger.StatusSuccess, started,
		fmt.Sprintf("%d/%d units", outcome.UnitsSucceeded, outcome.UnitsAttempted))
	c.progress(st, ledger.StageMerge, ledger.StatusSuccess, "")

	// save_artifact
	started = c.begin(ctx, st, ledger.StageSaveArtifact)
	locator, err := c.deps.Saver.Save(ctx, artifacts.FinalName(runID), outcome.FinalBytes)
	if err != nil {
		return c.fail(ctx, st, ledger.StageSaveArtifact, started, err, moduleSaver)
	}
	st.res.FinalVideo = locator
	c.succeed(ctx, st, ledger.StageSaveArtifact, started, locator)

	// copy_to_run_folder is best-effort: it shares video_status with the
	// save, so a failure only records a fault.
	started = time.Now()
	copied, err := artifacts.CopyToRunFolder(folder.Path, runID, outcome.FinalBytes)
	if err != nil {
		st.log.Warn("copy to run folder failed", zap.Error(err))
		_ = c.ledger.RecordFault(ctx, runID, ledger.StageCopy, err.Error(), moduleCoordinator)
		st.res.record(ledger.StageCopy, ledger.StatusFailed, started, err.Error())
		c.progress(st, ledger.StageCopy, ledger.StatusFailed, err.Error())
	} else {
		st.res.CopiedTo = copied
		st.res.record(ledger.StageCopy, ledger.StatusSuccess, started, copied)
		c.progress(st, ledger.StageCopy, ledger.StatusSuccess, copied)
	}
	return nil
}

// finish runs the deferred upload and publishes the run event.
func (c *Coordinator) finish(ctx context.Context, st *runState, runErr error) {
	ctx = context.WithoutCancel(ctx)
	if st.uploadDir != "" {
		c.upload(ctx, st)
	}

	event := events.RunEvent{
		Type:          events.TypeRunCompleted,
		RunID:         st.res.RunID,
		Topic:         st.res.Topic,
		FinalVideo:    st.res.FinalVideo,
		ProcessedFrom: st.res.ProcessedFrom,
		Timestamp:     time.Now().UTC(),
	}
	if m := st.res.Merge; m != nil {
		event.UnitsAttempted = m.UnitsAttempted
		event.UnitsSucceeded = m.UnitsSucceeded
	}
	if runErr != nil {
		event.Type = events.TypeRunFailed
		event.Error = runErr.Error()
		var se *StageError
		if errors.As(runErr, &se) {
			event.FailedStage = se.Stage
		}
		st.log.Error("run failed", zap.Error(runErr))
		c.progress(st, StageRun, ledger.StatusFailed, runErr.Error())
	} else {
		st.log.Info("run completed", zap.String("final_video", st.res.FinalVideo))
		c.progress(st, StageRun, ledger.StatusSuccess, st.res.FinalVideo)
	}
	if err := c.deps.Events.Publish(ctx, event); err != nil {
		st.log.Warn("failed to publish run event", zap.Error(err))
	}
}

// sceneFault records a render fault for a scene left out of the merge.
func (c *Coordinator) sceneFault(ctx context.Context, st *runState, seq int, reason string) {
	desc := fmt.Sprintf("%s: %s", workspace.SceneName(seq), reason)
	st.log.Warn("scene skipped", zap.Int("scene", seq), zap.String("reason", reason))
	_ = c.ledger.RecordFault(ctx, st.res.RunID, ledger.StageRender, desc, moduleCoordinator)
}

func clipAt(clips [][]byte, i int) []byte {
	if i < len(clips) {
		return clips[i]
	}
	return nil
}

// upload is best-effort; its outcome only lands in upload_status.
func (c *Coordinator) upload(ctx context.Context, st *runState) {
	runID := st.res.RunID
	started := time.Now()
	if c.deps.Uploader == nil {
		_ = c.ledger.UpsertRun(ctx, runID, ledger.StatusUpdate(ledger.StageUpload, ledger.StatusSkipped))
		st.res.record(ledger.StageUpload, ledger.StatusSkipped, started, "no object store configured")
		return
	}

	c.begin(ctx, st, ledger.StageUpload)
	up, err := c.deps.Uploader.UploadFolder(ctx, runID, st.uploadDir)
	if err != nil {
		st.log.Warn("upload failed", zap.Error(err))
		_ = c.ledger.RecordFault(ctx, runID, ledger.StageUpload, err.Error(), moduleUpload)
		_ = c.ledger.UpsertRun(ctx, runID, ledger.StatusUpdate(ledger.StageUpload, ledger.StatusFailed))
		st.res.record(ledger.StageUpload, ledger.StatusFailed, started, err.Error())
		c.progress(st, ledger.StageUpload, ledger.StatusFailed, err.Error())
		return
	}
	st.res.Upload = up
	c.succeed(ctx, st, ledger.StageUpload, started, fmt.Sprintf("%d objects", len(up.Objects)))
}

func (c *Coordinator) begin(ctx context.Context, st *runState, stage string) time.Time {
	_ = c.ledger.UpsertRun(ctx, st.res.RunID, ledger.StatusUpdate(stage, ledger.StatusRunning))
	c.progress(st, stage, ledger.StatusRunning, "")
	st.log.Debug("stage started", zap.String("stage", stage))
	return time.Now()
}

func (c *Coordinator) succeed(ctx context.Context, st *runState, stage string, started time.Time, message string) {
	_ = c.ledger.UpsertRun(ctx, st.res.RunID, ledger.StatusUpdate(stage, ledger.StatusSuccess))
	st.res.record(stage, ledger.StatusSuccess, started, message)
	c.progress(st, stage, ledger.StatusSuccess, message)
	st.log.Info("stage completed", zap.String("stage", stage), zap.Duration("duration", time.Since(started)))
}

// fail records a fault and a failed status for stage and returns the
// *StageError that stops the run.
func (c *Coordinator) fail(ctx context.Context, st *runState, stage string, started time.Time, err error, module string) error {
	_ = c.ledger.RecordFault(ctx, st.res.RunID, stage, err.Error(), module)
	_ = c.ledger.UpsertRun(ctx, st.res.RunID, ledger.StatusUpdate(stage, ledger.StatusFailed))
	return c.stopped(st, stage, started, err)
}

// stopped ends the run at stage without touching the ledger, for stages
// whose collaborator already recorded the failure.
func (c *Coordinator) stopped(st *runState, stage string, started time.Time, err error) error {
	st.res.record(stage, ledger.StatusFailed, started, err.Error())
	c.progress(st, stage, ledger.StatusFailed, err.Error())
	st.log.Error("stage failed", zap.String("stage", stage), zap.Error(err))
	return &StageError{Stage: stage, Err: err}
}

func (c *Coordinator) progress(st *runState, stage, status, message string) {
	if c.deps.OnProgress != nil {
		c.deps.OnProgress(ProgressEvent{RunID: st.res.RunID, Stage: stage, Status: status, Message: message})
	}
}
