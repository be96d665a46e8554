package media

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
)

// fakeRunner imitates ffmpeg: a mux writes "<video>+<audio>" and a concat
// writes the listed segments joined in manifest order.
type fakeRunner struct {
	mu        sync.Mutex
	calls     []Command
	manifests []string
	failWhen  func(Command) bool
	noOutput  bool
}

func (f *fakeRunner) Run(_ context.Context, cmd Command) ExecResult {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()

	if f.failWhen != nil && f.failWhen(cmd) {
		return ExecResult{
			Stderr: "[in#0] Invalid data found when processing input\n",
			Err:    errors.New("exit status 1"),
		}
	}

	inputs := inputsOf(cmd.Args)
	out := cmd.Args[len(cmd.Args)-1]
	if f.noOutput {
		return ExecResult{}
	}

	var payload []byte
	if isConcat(cmd.Args) {
		manifest, err := os.ReadFile(inputs[0])
		if err != nil {
			return ExecResult{Err: err}
		}
		f.mu.Lock()
		f.manifests = append(f.manifests, string(manifest))
		f.mu.Unlock()

		var parts [][]byte
		for _, p := range ParseManifest(string(manifest)) {
			data, err := os.ReadFile(p)
			if err != nil {
				return ExecResult{Err: err}
			}
			parts = append(parts, data)
		}
		payload = bytes.Join(parts, []byte(","))
	} else {
		video, err := os.ReadFile(inputs[0])
		if err != nil {
			return ExecResult{Err: err}
		}
		audio, err := os.ReadFile(inputs[1])
		if err != nil {
			return ExecResult{Err: err}
		}
		payload = append(append(video, '+'), audio...)
	}

	if err := os.WriteFile(out, payload, 0o600); err != nil {
		return ExecResult{Err: err}
	}
	return ExecResult{}
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func inputsOf(args []string) []string {
	var inputs []string
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "-i" {
			inputs = append(inputs, args[i+1])
		}
	}
	return inputs
}

func isConcat(args []string) bool {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "-f" && args[i+1] == "concat" {
			return true
		}
	}
	return false
}
