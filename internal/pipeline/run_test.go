package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/lesson-video-pipeline/internal/artifacts"
	"github.com/jonathan/lesson-video-pipeline/internal/events"
	"github.com/jonathan/lesson-video-pipeline/internal/ledger"
	"github.com/jonathan/lesson-video-pipeline/internal/media"
	"github.com/jonathan/lesson-video-pipeline/internal/scripting"
	"github.com/jonathan/lesson-video-pipeline/internal/storage"
	"github.com/jonathan/lesson-video-pipeline/internal/workspace"
)

type fakeScripts struct {
	scenes []scripting.Scene
	err    error
}

func (f *fakeScripts) Generate(_ context.Context, req scripting.Request) (*scripting.Script, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &scripting.Script{Scenes: f.scenes, Cleaned: []byte(`[]`), MetaPrompt: req.MetaPrompt()}, nil
}

type fakeCode struct {
	fail map[int]bool
}

func (f *fakeCode) GenerateAll(_ context.Context, scenes []scripting.Scene) *scripting.CodeResult {
	res := &scripting.CodeResult{Code: map[int]string{}, Failed: map[int]error{}}
	for _, s := range scenes {
		if f.fail[s.Seq] {
			res.Failed[s.Seq] = errors.New("model refused")
			continue
		}
		res.Code[s.Seq] = fmt.Sprintf("class Scene%d(Scene):\n    pass\n", s.Seq)
	}
	return res
}

// fileRenderer returns the file contents prefixed with kind, skipping
// files listed in skip.
type fileRenderer struct {
	kind  string
	skip  map[string]bool
	err   error
	mu    sync.Mutex
	files []string
}

func (r *fileRenderer) Render(_ context.Context, _ string, files []string) ([][]byte, error) {
	r.mu.Lock()
	r.files = append(r.files, files...)
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	out := make([][]byte, len(files))
	for i, f := range files {
		if !r.skip[filepath.Base(f)] {
			out[i] = []byte(r.kind + ":" + filepath.Base(f))
		}
	}
	return out, nil
}

type joinMuxer struct{}

func (joinMuxer) Mux(_ context.Context, video, audio []byte, ordinal int) (media.MergedUnit, error) {
	return media.MergedUnit{Bytes: append(append([]byte{}, video...), audio...), Ordinal: ordinal}, nil
}

type joinConcat struct{ err error }

func (c joinConcat) Concatenate(_ context.Context, units [][]byte) ([]byte, error) {
	if c.err != nil {
		return nil, c.err
	}
	return bytes.Join(units, []byte("|")), nil
}

type fakeUploader struct {
	err  error
	dirs []string
}

func (u *fakeUploader) UploadFolder(_ context.Context, runID, dir string) (*storage.UploadResult, error) {
	u.dirs = append(u.dirs, dir)
	if u.err != nil {
		return nil, u.err
	}
	return &storage.UploadResult{Bucket: "lessons", Objects: []string{runID + "/x"}}, nil
}

type recordingPublisher struct {
	events []events.RunEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e events.RunEvent) error {
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type failingSaver struct{}

func (failingSaver) Save(context.Context, string, []byte) (string, error) {
	return "", errors.New("disk full")
}

type fixture struct {
	deps      Deps
	mem       *ledger.Memory
	video     *fileRenderer
	audio     *fileRenderer
	uploader  *fakeUploader
	publisher *recordingPublisher
	outDir    string
	progress  []ProgressEvent
}

func newFixture(t *testing.T, scenes int) *fixture {
	t.Helper()
	var sc []scripting.Scene
	for i := 1; i <= scenes; i++ {
		sc = append(sc, scripting.Scene{
			Seq:       i,
			ForManim:  []string{"draw"},
			VoiceOver: []string{fmt.Sprintf("line %d", i)},
		})
	}

	f := &fixture{
		mem:       ledger.NewMemory(),
		video:     &fileRenderer{kind: "v"},
		audio:     &fileRenderer{kind: "a"},
		uploader:  &fakeUploader{},
		publisher: &recordingPublisher{},
		outDir:    t.TempDir(),
	}
	saver, err := artifacts.NewLocalSaver(f.outDir, nil)
	require.NoError(t, err)

	f.deps = Deps{
		Scripts:    &fakeScripts{scenes: sc},
		Code:       &fakeCode{},
		Workspace:  workspace.New(t.TempDir(), nil),
		Video:      f.video,
		Audio:      f.audio,
		Merger:     media.NewMerger(joinMuxer{}, joinConcat{}, f.mem, nil, media.MergerOptions{}),
		Saver:      saver,
		Uploader:   f.uploader,
		Events:     f.publisher,
		Ledger:     f.mem,
		OnProgress: func(e ProgressEvent) { f.progress = append(f.progress, e) },
	}
	return f
}

func (f *fixture) coordinator(t *testing.T) *Coordinator {
	t.Helper()
	c, err := New(f.deps)
	require.NoError(t, err)
	return c
}

func (f *fixture) run(t *testing.T, runID string) *ledger.RunRecord {
	t.Helper()
	rec, err := f.mem.GetRun(context.Background(), runID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	return rec
}

func status(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func TestNew_MissingCollaborators(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workspace")
	assert.Contains(t, err.Error(), "saver")
}

func TestRun_Success(t *testing.T) {
	f := newFixture(t, 3)
	c := f.coordinator(t)

	res, err := c.Run(context.Background(), "run-ok", scripting.Request{Topic: "Fractions", Class: "5", Language: "English"})
	require.NoError(t, err)

	assert.Equal(t, "run-ok", res.RunID)
	require.NotNil(t, res.Script)
	assert.Len(t, res.Script.Scenes, 3)
	assert.Equal(t, filepath.Join(f.outDir, "final_run-ok.mp4"), res.FinalVideo)
	data, err := os.ReadFile(res.FinalVideo)
	require.NoError(t, err)
	assert.Equal(t,
		"v:script_seq1.pya:script_seq1.txt|v:script_seq2.pya:script_seq2.txt|v:script_seq3.pya:script_seq3.txt",
		string(data))

	assert.Equal(t, filepath.Join(res.ProcessedFrom, "final_run-ok.mp4"), res.CopiedTo)
	assert.FileExists(t, res.CopiedTo)
	assert.Equal(t, []string{res.ProcessedFrom}, f.uploader.dirs)
	require.NotNil(t, res.Upload)

	var stages []string
	for _, s := range res.Stages {
		stages = append(stages, s.Stage)
		assert.Equal(t, ledger.StatusSuccess, s.Status, s.Stage)
	}
	assert.Equal(t, []string{
		ledger.StageScriptGen, ledger.StageFileGen, ledger.StageCodeGen, ledger.StageRender,
		ledger.StageMerge, ledger.StageSaveArtifact, ledger.StageCopy, ledger.StageUpload,
	}, stages)

	rec := f.run(t, "run-ok")
	assert.Equal(t, "Fractions", status(rec.Topic))
	assert.Equal(t, "Fractions for class 5 in English language", status(rec.MetaPrompt))
	assert.JSONEq(t, `[]`, string(rec.CleanedScript))
	assert.Equal(t, ledger.StatusSuccess, status(rec.ScriptGenStatus))
	assert.Equal(t, ledger.StatusSuccess, status(rec.FileGenStatus))
	assert.Equal(t, ledger.StatusSuccess, status(rec.CodeGenStatus))
	assert.Equal(t, ledger.StatusSuccess, status(rec.MergeStatus))
	assert.Equal(t, ledger.StatusSuccess, status(rec.VideoStatus))
	assert.Equal(t, ledger.StatusSuccess, status(rec.UploadStatus))

	require.Len(t, f.publisher.events, 1)
	ev := f.publisher.events[0]
	assert.Equal(t, events.TypeRunCompleted, ev.Type)
	assert.Equal(t, 3, ev.UnitsSucceeded)
	assert.Equal(t, res.FinalVideo, ev.FinalVideo)

	assert.NotEmpty(t, f.progress)
	assert.Equal(t, ProgressEvent{RunID: "run-ok", Stage: ledger.StageScriptGen, Status: ledger.StatusRunning}, f.progress[0])
	last := f.progress[len(f.progress)-1]
	assert.Equal(t, StageRun, last.Stage)
	assert.Equal(t, ledger.StatusSuccess, last.Status)
}

func TestRun_GeneratesRunID(t *testing.T) {
	f := newFixture(t, 1)
	res, err := f.coordinator(t).Run(context.Background(), "", scripting.Request{Topic: "Gravity"})
	require.NoError(t, err)
	assert.Len(t, res.RunID, 36)
}

func TestRun_RejectsUnsafeRunID(t *testing.T) {
	f := newFixture(t, 1)
	c := f.coordinator(t)

	for _, id := range []string{"../../../escaped", "a/b", "run id"} {
		res, err := c.Run(context.Background(), id, scripting.Request{Topic: "Tides"})
		assert.ErrorIs(t, err, ledger.ErrInvalidRunID, id)
		assert.Equal(t, id, res.RunID)

		_, err = c.RenderFolder(context.Background(), id, "latest")
		assert.ErrorIs(t, err, ledger.ErrInvalidRunID, id)

		rec, err := f.mem.GetRun(context.Background(), id)
		require.NoError(t, err)
		assert.Nil(t, rec, id)
	}
	assert.Empty(t, f.progress)
	assert.Empty(t, f.publisher.events)
	assert.Empty(t, f.uploader.dirs)
}

func TestRun_ScriptFailureSkipsUpload(t *testing.T) {
	f := newFixture(t, 1)
	f.deps.Scripts = &fakeScripts{err: errors.New("quota exceeded")}

	res, err := f.coordinator(t).Run(context.Background(), "run-s", scripting.Request{Topic: "Atoms"})
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ledger.StageScriptGen, se.Stage)
	assert.Empty(t, res.FinalVideo)
	assert.Empty(t, f.uploader.dirs)

	rec := f.run(t, "run-s")
	assert.Equal(t, ledger.StatusFailed, status(rec.ScriptGenStatus))
	assert.Nil(t, rec.UploadStatus)

	faults, err := f.mem.ListFaults(context.Background(), "run-s")
	require.NoError(t, err)
	require.Len(t, faults, 1)
	assert.Equal(t, ledger.StageScriptGen, faults[0].Stage)

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, events.TypeRunFailed, f.publisher.events[0].Type)
	assert.Equal(t, ledger.StageScriptGen, f.publisher.events[0].FailedStage)
}

func TestRun_CodeFailureNarrowsScenes(t *testing.T) {
	f := newFixture(t, 3)
	f.deps.Code = &fakeCode{fail: map[int]bool{2: true}}

	res, err := f.coordinator(t).Run(context.Background(), "run-c", scripting.Request{Topic: "Cells"})
	require.NoError(t, err)

	assert.Len(t, f.video.files, 2)
	assert.Len(t, f.audio.files, 2)
	assert.Equal(t, 2, res.Merge.UnitsSucceeded)

	faults, err := f.mem.ListFaults(context.Background(), "run-c")
	require.NoError(t, err)
	require.Len(t, faults, 1)
	assert.Equal(t, ledger.StageCodeGen, faults[0].Stage)
	assert.Contains(t, faults[0].Description, "script_seq2")
}

func TestRun_AllCodeFails(t *testing.T) {
	f := newFixture(t, 2)
	f.deps.Code = &fakeCode{fail: map[int]bool{1: true, 2: true}}

	_, err := f.coordinator(t).Run(context.Background(), "run-c2", scripting.Request{Topic: "Cells"})
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ledger.StageCodeGen, se.Stage)
	assert.Equal(t, ledger.StatusFailed, status(f.run(t, "run-c2").CodeGenStatus))
	assert.Empty(t, f.video.files)
}

func renderFaults(t *testing.T, mem *ledger.Memory, runID string) []string {
	t.Helper()
	faults, err := mem.ListFaults(context.Background(), runID)
	require.NoError(t, err)
	var out []string
	for _, f := range faults {
		if f.Stage == ledger.StageRender {
			out = append(out, f.Description)
		}
	}
	return out
}

func finalBytes(t *testing.T, res *Result) string {
	t.Helper()
	data, err := os.ReadFile(res.FinalVideo)
	require.NoError(t, err)
	return string(data)
}

func TestRun_OneSidedRenderFailureSkipsScene(t *testing.T) {
	f := newFixture(t, 3)
	f.video.skip = map[string]bool{"script_seq2.py": true}

	res, err := f.coordinator(t).Run(context.Background(), "run-m", scripting.Request{Topic: "Tides"})
	require.NoError(t, err)

	assert.Equal(t, "v:script_seq1.pya:script_seq1.txt|v:script_seq3.pya:script_seq3.txt", finalBytes(t, res))
	assert.Equal(t, []int{1, 3}, res.MergedScenes)
	assert.Equal(t, 2, res.Merge.UnitsAttempted)
	assert.Equal(t, 2, res.Merge.UnitsSucceeded)

	faults := renderFaults(t, f.mem, "run-m")
	require.Len(t, faults, 1)
	assert.Contains(t, faults[0], "script_seq2")
	assert.Equal(t, ledger.StatusSuccess, status(f.run(t, "run-m").MergeStatus))
}

func TestRun_CrossedRenderFailuresKeepScenesAligned(t *testing.T) {
	f := newFixture(t, 3)
	f.video.skip = map[string]bool{"script_seq2.py": true}
	f.audio.skip = map[string]bool{"script_seq3.txt": true}

	res, err := f.coordinator(t).Run(context.Background(), "run-x", scripting.Request{Topic: "Tides"})
	require.NoError(t, err)

	assert.Equal(t, "v:script_seq1.pya:script_seq1.txt", finalBytes(t, res))
	assert.Equal(t, []int{1}, res.MergedScenes)
	assert.Equal(t, 1, res.Merge.UnitsAttempted)

	faults := renderFaults(t, f.mem, "run-x")
	require.Len(t, faults, 2)
	assert.Contains(t, faults[0], "script_seq2")
	assert.Contains(t, faults[1], "script_seq3")
}

func TestRun_NoRenderedPair(t *testing.T) {
	f := newFixture(t, 2)
	f.video.skip = map[string]bool{"script_seq1.py": true}
	f.audio.skip = map[string]bool{"script_seq2.txt": true}

	res, err := f.coordinator(t).Run(context.Background(), "run-np", scripting.Request{Topic: "Tides"})
	assert.ErrorIs(t, err, ErrNoRenderedPairs)
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ledger.StageRender, se.Stage)

	assert.Empty(t, res.FinalVideo)
	assert.Nil(t, res.Merge)
	assert.Len(t, renderFaults(t, f.mem, "run-np"), 3)
	assert.Equal(t, ledger.StatusFailed, status(f.run(t, "run-np").RenderStatus))
	assert.Empty(t, f.uploader.dirs)
}

func TestRun_ConcatFailure(t *testing.T) {
	f := newFixture(t, 2)
	f.deps.Merger = media.NewMerger(joinMuxer{}, joinConcat{err: errors.New("codec")}, f.mem, nil, media.MergerOptions{})

	res, err := f.coordinator(t).Run(context.Background(), "run-cat", scripting.Request{Topic: "Tides"})
	assert.ErrorIs(t, err, ErrNoFinalVideo)
	assert.Nil(t, res.Merge.FinalBytes)
	assert.Len(t, f.uploader.dirs, 1)
}

func TestRun_RenderError(t *testing.T) {
	f := newFixture(t, 1)
	f.video.err = context.DeadlineExceeded

	_, err := f.coordinator(t).Run(context.Background(), "run-r", scripting.Request{Topic: "Tides"})
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ledger.StageRender, se.Stage)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, f.uploader.dirs)
	assert.Equal(t, ledger.StatusFailed, status(f.run(t, "run-r").RenderStatus))
}

func TestRun_SaveFailure(t *testing.T) {
	f := newFixture(t, 1)
	f.deps.Saver = failingSaver{}

	res, err := f.coordinator(t).Run(context.Background(), "run-save", scripting.Request{Topic: "Tides"})
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ledger.StageSaveArtifact, se.Stage)
	assert.Empty(t, res.CopiedTo)
	assert.Equal(t, ledger.StatusFailed, status(f.run(t, "run-save").VideoStatus))
	assert.Len(t, f.uploader.dirs, 1)
}

func TestRun_UploadFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, 1)
	f.uploader.err = errors.New("bucket unreachable")

	res, err := f.coordinator(t).Run(context.Background(), "run-up", scripting.Request{Topic: "Tides"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.FinalVideo)

	rec := f.run(t, "run-up")
	assert.Equal(t, ledger.StatusFailed, status(rec.UploadStatus))
	assert.Equal(t, ledger.StatusSuccess, status(rec.VideoStatus))

	up, ok := res.Stage(ledger.StageUpload)
	require.True(t, ok)
	assert.Equal(t, ledger.StatusFailed, up.Status)
}

func TestRun_NoUploaderSkips(t *testing.T) {
	f := newFixture(t, 1)
	f.deps.Uploader = nil

	_, err := f.coordinator(t).Run(context.Background(), "run-nu", scripting.Request{Topic: "Tides"})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSkipped, status(f.run(t, "run-nu").UploadStatus))
}

func TestRenderFolder_Latest(t *testing.T) {
	f := newFixture(t, 2)
	c := f.coordinator(t)

	first, err := c.Run(context.Background(), "gen", scripting.Request{Topic: "Tides"})
	require.NoError(t, err)

	res, err := c.RenderFolder(context.Background(), "rerender", "latest")
	require.NoError(t, err)
	assert.Equal(t, first.ProcessedFrom, res.ProcessedFrom)
	assert.Equal(t, filepath.Join(f.outDir, "final_rerender.mp4"), res.FinalVideo)
	assert.Equal(t, 2, res.Merge.UnitsSucceeded)
}

func TestRenderFolder_IncompleteSceneIsSkipped(t *testing.T) {
	f := newFixture(t, 3)
	c := f.coordinator(t)

	first, err := c.Run(context.Background(), "gen", scripting.Request{Topic: "Tides"})
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(first.ProcessedFrom, "script_seq2", "script_seq2.txt")))

	res, err := c.RenderFolder(context.Background(), "again", first.ProcessedFrom)
	require.NoError(t, err)
	assert.Equal(t, "v:script_seq1.pya:script_seq1.txt|v:script_seq3.pya:script_seq3.txt", finalBytes(t, res))
	assert.Equal(t, []int{1, 3}, res.MergedScenes)

	faults := renderFaults(t, f.mem, "again")
	require.Len(t, faults, 1)
	assert.Equal(t, "script_seq2: missing narration", faults[0])
}

func TestRenderFolder_Errors(t *testing.T) {
	f := newFixture(t, 1)
	c := f.coordinator(t)

	_, err := c.RenderFolder(context.Background(), "r1", "")
	assert.ErrorIs(t, err, workspace.ErrNoRunFolder)

	empty := t.TempDir()
	_, err = c.RenderFolder(context.Background(), "r2", empty)
	assert.ErrorIs(t, err, ErrNoScenes)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ledger.StageRender, se.Stage)
	assert.Empty(t, f.uploader.dirs)
}
