// Package procexec runs external converter binaries with captured output.
package procexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Command is a structured process invocation. Args never pass through a shell.
type Command struct {
	Path string
	Args []string
	Env  []string
	Dir  string
}

// Argv returns the full argument vector for logging and diagnostics.
func (c Command) Argv() []string {
	return append([]string{c.Path}, c.Args...)
}

// Result is what a finished process left behind.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Runner executes a command synchronously.
//
// A non-zero exit status is not an error: it is reported in Result.ExitCode.
// Run returns an error only when the process could not be started or when ctx
// ended before the process exited; the partial output is returned either way.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner runs commands in their own process group so that cancellation
// kills the whole tree.
type ExecRunner struct {
	// WaitDelay bounds how long output pipes are drained after a kill.
	WaitDelay time.Duration
}

// NewExecRunner returns a runner with default settings.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{WaitDelay: 5 * time.Second}
}

func (r *ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	if c.Env != nil {
		cmd.Env = c.Env
	}
	cmd.Dir = c.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	setProcessGroup(cmd)
	cmd.WaitDelay = r.WaitDelay

	log.Debug().Str("cmd", strings.Join(c.Argv(), " ")).Msg("exec")

	err := cmd.Run()
	res := Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if ctx.Err() != nil {
		return res, fmt.Errorf("%s: %w", c.Path, ctx.Err())
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return res, fmt.Errorf("run %s: %w", c.Path, err)
	}
	return res, nil
}

// Environ merges extra KEY=VALUE pairs over the current process environment.
func Environ(extra map[string]string) []string {
	if len(extra) == 0 {
		return nil
	}
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}
