package render

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jonathan/lesson-video-pipeline/internal/media"
)

// fakeRunner imitates manim and the TTS CLIs by writing the files they would
// produce. failWhen marks calls that should exit non-zero.
type fakeRunner struct {
	mu       sync.Mutex
	calls    []media.Command
	failWhen func(media.Command) bool
	// nested writes manim output somewhere other than the expected path.
	nested bool
}

func (f *fakeRunner) Run(_ context.Context, cmd media.Command) media.ExecResult {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()

	if f.failWhen != nil && f.failWhen(cmd) {
		return media.ExecResult{Stderr: "boom", Err: errors.New("exit status 1")}
	}

	if len(cmd.Args) > 0 && cmd.Args[0] == "render" {
		mediaDir := argAfter(cmd.Args, "--media_dir")
		file := cmd.Args[len(cmd.Args)-2]
		scene := cmd.Args[len(cmd.Args)-1]
		stem := strings.TrimSuffix(filepath.Base(file), ".py")
		dir := filepath.Join(mediaDir, "videos", stem, "480p15")
		if f.nested {
			dir = filepath.Join(mediaDir, "videos", stem, "custom")
			_ = os.MkdirAll(filepath.Join(dir, "partial_movie_files"), 0755)
			_ = os.WriteFile(filepath.Join(dir, "partial_movie_files", scene+".mp4"), []byte("partial"), 0644)
		}
		_ = os.MkdirAll(dir, 0755)
		_ = os.WriteFile(filepath.Join(dir, scene+".mp4"), []byte("video:"+stem), 0644)
		return media.ExecResult{}
	}

	for _, flag := range []string{"-w", "--output", "--output_file"} {
		if out := argAfter(cmd.Args, flag); out != "" {
			text := cmd.Stdin
			if in := argAfter(cmd.Args, "-f"); in != "" {
				b, _ := os.ReadFile(in)
				text = string(b)
			}
			if in := argAfter(cmd.Args, "--file"); in != "" {
				b, _ := os.ReadFile(in)
				text = string(b)
			}
			_ = os.WriteFile(out, []byte("audio:"+text), 0644)
			return media.ExecResult{}
		}
	}
	return media.ExecResult{Err: errors.New("unknown command")}
}

func argAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}
