package media

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Prober reads container durations with ffprobe.
type Prober struct {
	runner Runner
	path   string
}

// NewProber returns a Prober that invokes the ffprobe binary at path.
func NewProber(runner Runner, path string) *Prober {
	if path == "" {
		path = "ffprobe"
	}
	return &Prober{runner: runner, path: path}
}

// Duration returns the container duration of the media file at path.
func (p *Prober) Duration(ctx context.Context, path string) (time.Duration, error) {
	res := p.runner.Run(ctx, Command{
		Name: p.path,
		Args: []string{
			"-v", "quiet",
			"-print_format", "json",
			"-show_format",
			path,
		},
	})
	if res.Err != nil {
		return 0, fmt.Errorf("ffprobe %q: %w", path, res.Err)
	}
	return ParseDuration([]byte(res.Stdout))
}

type ffprobeFormat struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ParseDuration extracts format.duration from ffprobe JSON output.
// Exported for testing without a real ffprobe binary.
func ParseDuration(data []byte) (time.Duration, error) {
	var raw ffprobeFormat
	if err := json.Unmarshal(data, &raw); err != nil {
		return 0, fmt.Errorf("parse ffprobe JSON: %w", err)
	}
	if raw.Format.Duration == "" {
		return 0, fmt.Errorf("ffprobe output has no duration")
	}
	secs, err := strconv.ParseFloat(raw.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw.Format.Duration, err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
