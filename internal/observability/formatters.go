// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jonathan/lesson-video-pipeline/internal/ledger"
	"github.com/jonathan/lesson-video-pipeline/internal/media"
	"github.com/jonathan/lesson-video-pipeline/internal/pipeline"
	"github.com/jonathan/lesson-video-pipeline/internal/pipeline/steps"
	"github.com/jonathan/lesson-video-pipeline/internal/scripting"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

func statusIcon(status string) string {
	switch status {
	case ledger.StatusSuccess:
		return "✅"
	case ledger.StatusFailed:
		return "❌"
	case ledger.StatusRunning:
		return "⏳"
	case ledger.StatusSkipped:
		return "⏭️"
	default:
		return "·"
	}
}

// PrintProgress writes one line per stage transition.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintProgress(event pipeline.ProgressEvent) {
	line := fmt.Sprintf("%s %-20s %s", statusIcon(event.Status), event.Stage, event.Status)
	if event.Message != "" {
		line += ": " + event.Message
	}
	fmt.Fprintln(p.out, line)
}

// PrintScript outputs the scenes of a generated script.
func (p *Printer) PrintScript(script *scripting.Script) {
	if script == nil || len(script.Scenes) == 0 {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Scenes: %d\n\n", len(script.Scenes)))

	count := min(len(script.Scenes), maxItemsToShow)
	for i := 0; i < count; i++ {
		scene := script.Scenes[i]
		sb.WriteString(fmt.Sprintf("#%d  (%d visuals, %.0fs)\n", scene.Seq, len(scene.ForManim), scene.Length))
		if n := scene.Narration(); n != "" {
			sb.WriteString(fmt.Sprintf("    %s\n", n))
		}
	}
	if len(script.Scenes) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("\n... and %d more scenes", len(script.Scenes)-maxItemsToShow))
	}

	p.printBox("LESSON SCRIPT", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintMergeOutcome summarizes a merge.
func (p *Printer) PrintMergeOutcome(outcome *media.MergeOutcome) {
	if outcome == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Units:     %d/%d muxed\n", outcome.UnitsSucceeded, outcome.UnitsAttempted))
	if len(outcome.FailedOrdinals) > 0 {
		sb.WriteString(fmt.Sprintf("Failed:    %v\n", outcome.FailedOrdinals))
	}
	if outcome.FinalBytes != nil {
		sb.WriteString(fmt.Sprintf("Output:    %d bytes", len(outcome.FinalBytes)))
	} else {
		sb.WriteString("Output:    none")
	}

	p.printBox("MERGE", sb.String())
}

// PrintResult outputs the stage table and artifacts of a run.
func (p *Printer) PrintResult(res *pipeline.Result) {
	if res == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Run:    %s\n", res.RunID))
	if res.ProcessedFrom != "" {
		sb.WriteString(fmt.Sprintf("Folder: %s\n", res.ProcessedFrom))
	}
	if res.FinalVideo != "" {
		sb.WriteString(fmt.Sprintf("Video:  %s\n", res.FinalVideo))
	}
	sb.WriteString("\n")
	for _, s := range res.Stages {
		sb.WriteString(fmt.Sprintf("%s %-20s %8s\n", statusIcon(s.Status), s.Stage, s.Duration.Round(time.Millisecond)))
	}

	p.printBox("RUN RESULT", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintRun outputs a ledger run record and the stages that can run next.
func (p *Printer) PrintRun(rec *ledger.RunRecord) {
	if rec == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Run:     %s\n", rec.RunID))
	if rec.Topic != nil {
		sb.WriteString(fmt.Sprintf("Topic:   %s\n", *rec.Topic))
	}
	sb.WriteString(fmt.Sprintf("Updated: %s\n\n", rec.UpdatedAt.Format(time.RFC3339)))
	for _, stage := range steps.Order {
		status := steps.StatusOf(rec, stage)
		if status == "" {
			status = "-"
		}
		sb.WriteString(fmt.Sprintf("%s %-20s %s\n", statusIcon(status), stage, status))
	}
	if next := steps.Available(rec); len(next) > 0 {
		sb.WriteString(fmt.Sprintf("\nNext: %s", strings.Join(next, ", ")))
	}

	p.printBox("RUN LEDGER", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintFaults lists fault records, most relevant first as given.
func (p *Printer) PrintFaults(faults []ledger.FaultRecord) {
	if len(faults) == 0 {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Faults: %d\n\n", len(faults)))
	count := min(len(faults), maxItemsToShow)
	for i := 0; i < count; i++ {
		f := faults[i]
		sb.WriteString(fmt.Sprintf("• [%s] %s\n", f.Stage, f.Module))
		sb.WriteString(fmt.Sprintf("  %s\n", f.Description))
	}
	if len(faults) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("\n... and %d more faults", len(faults)-maxItemsToShow))
	}

	p.printBox("FAULTS", strings.TrimSuffix(sb.String(), "\n"))
}
