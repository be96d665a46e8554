package media

import (
	"fmt"
	"regexp"
	"strings"
)

// StageMerge is the ledger stage name used for merge faults.
const StageMerge = "merge"

// UnitError reports a failed mux for one ordinal. It never aborts sibling units.
type UnitError struct {
	Ordinal int
	Stderr  string
	Err     error
}

func (e *UnitError) Error() string {
	msg := fmt.Sprintf("mux failed for unit %d: %v", e.Ordinal, e.Err)
	if tail := StderrTail(e.Stderr, 3); tail != "" {
		msg += ": " + tail
	}
	return msg
}

func (e *UnitError) Unwrap() error {
	return e.Err
}

// ContractViolation reports video and audio lists of different lengths.
type ContractViolation struct {
	VideoUnits int
	AudioUnits int
}

func (e *ContractViolation) Error() string {
	return fmt.Sprintf("video/audio count mismatch: %d video units, %d audio units", e.VideoUnits, e.AudioUnits)
}

// ToolError reports a failed external tool call outside the per-unit mux.
type ToolError struct {
	Tool   string
	Stderr string
	Err    error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
	if tail := StderrTail(e.Stderr, 3); tail != "" {
		msg += ": " + tail
	}
	if hint := Classify(e.Stderr); hint != "" {
		msg += " (" + hint + ")"
	}
	return msg
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// StderrTail returns the last n non-empty lines of stderr joined by " | ".
func StderrTail(stderr string, n int) string {
	var lines []string
	for _, line := range strings.Split(stderr, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

var (
	reInvalidInput = regexp.MustCompile(
		`(?i)Invalid data found when processing input|moov atom not found|could not find codec parameters`)

	reMissingStream = regexp.MustCompile(
		`(?i)Stream map .* matches no streams|does not contain any stream|Output file .* does not contain any stream`)

	reMissingEncoder = regexp.MustCompile(
		`(?i)Unknown encoder|Encoder .* not found`)

	reManifestPath = regexp.MustCompile(
		`(?i)Impossible to open|Unsafe file name|No such file or directory`)
)

// Classify maps ffmpeg stderr to a short diagnostic hint, or "" when nothing matches.
func Classify(stderr string) string {
	switch {
	case reInvalidInput.MatchString(stderr):
		return "invalid or truncated input media"
	case reMissingStream.MatchString(stderr):
		return "input is missing the expected stream"
	case reMissingEncoder.MatchString(stderr):
		return "required encoder is not available"
	case reManifestPath.MatchString(stderr):
		return "segment file could not be opened"
	default:
		return ""
	}
}
