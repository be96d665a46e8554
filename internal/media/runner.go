package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

const waitDelay = 2 * time.Second

// Command is one external tool invocation.
type Command struct {
	Name string
	Args []string
	Dir  string // working directory, empty for the current one
	// Stdin is written to the tool's standard input when non-empty.
	Stdin string
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// ExecResult holds the outcome of a single external tool invocation.
type ExecResult struct {
	Stdout string
	Stderr string
	Err    error
}

// Runner executes external tools. ExecRunner is the production implementation;
// tests substitute fakes that write the expected output files.
type Runner interface {
	Run(ctx context.Context, cmd Command) ExecResult
}

// ExecRunner runs commands with os/exec under an optional per-call timeout.
// When Verbose is set, stderr is tee'd to Stderr (os.Stderr by default) in
// real time; otherwise it is captured silently for diagnostics.
type ExecRunner struct {
	Timeout time.Duration
	Verbose bool
	Stderr  io.Writer
}

// Run executes cmd and reports captured output. A non-zero exit, a missing
// binary and a timeout all surface as ExecResult.Err.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) ExecResult {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if cmd.Stdin != "" {
		c.Stdin = strings.NewReader(cmd.Stdin)
	}
	// Children that outlive a killed tool keep the pipes open; stop waiting on them.
	c.WaitDelay = waitDelay

	var stdoutBuf, stderrBuf bytes.Buffer
	c.Stdout = &stdoutBuf
	if r.Verbose {
		sink := r.Stderr
		if sink == nil {
			sink = os.Stderr
		}
		c.Stderr = io.MultiWriter(&stderrBuf, sink)
	} else {
		c.Stderr = &stderrBuf
	}

	err := c.Run()
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%s timed out after %s: %w", cmd.Name, r.Timeout, context.DeadlineExceeded)
	}

	return ExecResult{
		Stdout: stdoutBuf.String(),
		Stderr: stderrBuf.String(),
		Err:    err,
	}
}
