package observability

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jonathan/lesson-video-pipeline/internal/ledger"
	"github.com/jonathan/lesson-video-pipeline/internal/media"
	"github.com/jonathan/lesson-video-pipeline/internal/pipeline"
	"github.com/jonathan/lesson-video-pipeline/internal/scripting"
)

func TestPrintScript(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintScript(&scripting.Script{Scenes: []scripting.Scene{
		{Seq: 1, ForManim: []string{"title"}, VoiceOver: []string{"Hello class."}, Length: 20},
		{Seq: 2, ForManim: []string{"graph", "axes"}, VoiceOver: []string{"Look at the graph."}},
	}})
	output := buf.String()

	assert.Contains(t, output, "LESSON SCRIPT")
	assert.Contains(t, output, "Scenes: 2")
	assert.Contains(t, output, "#1  (1 visuals, 20s)")
	assert.Contains(t, output, "Look at the graph.")
}

func TestPrintScript_Nil(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintScript(nil)
	p.PrintResult(nil)
	p.PrintRun(nil)
	p.PrintFaults(nil)
	p.PrintMergeOutcome(nil)

	assert.Empty(t, buf.String())
}

func TestPrintProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintProgress(pipeline.ProgressEvent{Stage: ledger.StageMerge, Status: ledger.StatusFailed, Message: "no units"})

	assert.Contains(t, buf.String(), "❌")
	assert.Contains(t, buf.String(), "merge")
	assert.Contains(t, buf.String(), "failed: no units")
}

func TestPrintMergeOutcome(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintMergeOutcome(&media.MergeOutcome{UnitsAttempted: 3, UnitsSucceeded: 2, FailedOrdinals: []int{2}, FinalBytes: []byte("abcd")})
	output := buf.String()

	assert.Contains(t, output, "2/3 muxed")
	assert.Contains(t, output, "[2]")
	assert.Contains(t, output, "4 bytes")
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintResult(&pipeline.Result{
		RunID:      "run-1",
		FinalVideo: "/out/final_run-1.mp4",
		Stages: []pipeline.StageResult{
			{Stage: ledger.StageRender, Status: ledger.StatusSuccess, Duration: 1500 * time.Millisecond},
			{Stage: ledger.StageUpload, Status: ledger.StatusSkipped},
		},
	})
	output := buf.String()

	assert.Contains(t, output, "RUN RESULT")
	assert.Contains(t, output, "run-1")
	assert.Contains(t, output, "1.5s")
	assert.Contains(t, output, "upload")
}

func TestPrintRun(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintRun(&ledger.RunRecord{
		RunID:           "run-9",
		Topic:           ledger.Str("Photosynthesis"),
		ScriptGenStatus: ledger.Str(ledger.StatusSuccess),
	})
	output := buf.String()

	assert.Contains(t, output, "RUN LEDGER")
	assert.Contains(t, output, "Photosynthesis")
	assert.Contains(t, output, "Next: file_gen, upload")
}

func TestPrintFaults(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	var faults []ledger.FaultRecord
	for i := 0; i < 7; i++ {
		faults = append(faults, ledger.FaultRecord{Stage: ledger.StageMerge, Module: "media.merger", Description: "mux failed"})
	}
	p.PrintFaults(faults)
	output := buf.String()

	assert.Contains(t, output, "Faults: 7")
	assert.Contains(t, output, "... and 2 more faults")
}
