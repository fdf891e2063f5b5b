// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// TYPES
// =============================================================================

// Command is one subprocess invocation.
type Command struct {
	// Argv is the program followed by its arguments.
	Argv []string

	// Dir is the working directory.
	Dir string

	// Env entries are appended to the current environment.
	Env []string

	// Timeout bounds the run. Zero means no timeout beyond ctx.
	Timeout time.Duration
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.Join(c.Argv, " ")
}

// Result is the outcome of a finished or killed command.
type Result struct {
	// ExitCode is the process exit status, -1 when killed or not started.
	ExitCode int

	// Output is combined stdout and stderr, possibly truncated.
	Output string

	// Truncated is set when output beyond the limit was dropped.
	Truncated bool

	// TimedOut is set when the timeout killed the process group.
	TimedOut bool

	Duration time.Duration
}

// Success reports whether the command exited with status zero.
func (r *Result) Success() bool {
	return r != nil && r.ExitCode == 0 && !r.TimedOut
}

// =============================================================================
// RUNNER
// =============================================================================

const (
	// DefaultMaxOutput is the default number of output bytes kept.
	DefaultMaxOutput = 1 << 20

	// DefaultWaitDelay bounds how long Wait blocks on output pipes after
	// the process group was killed.
	DefaultWaitDelay = 5 * time.Second
)

// Runner executes commands with timeouts and output capture.
//
// Thread Safety: Safe for concurrent use. Each Run creates its own process.
type Runner struct {
	maxOutput int
	waitDelay time.Duration
	logger    *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithMaxOutput sets how many output bytes are kept.
func WithMaxOutput(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxOutput = n
		}
	}
}

// WithWaitDelay sets the post-kill pipe drain bound.
func WithWaitDelay(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.waitDelay = d
		}
	}
}

// WithLogger sets the runner logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner creates a runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		maxOutput: DefaultMaxOutput,
		waitDelay: DefaultWaitDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Run executes c and waits for it.
//
// Description:
//
//	Starts the program in a new process group with combined output capture.
//	On timeout or cancellation the group is killed and Wait returns within
//	the wait delay even if grandchildren still hold the output pipes.
//
// Inputs:
//
//	ctx - Context for cancellation
//	c - The command
//
// Outputs:
//
//	*Result - Always non-nil, even on error
//	error - ErrStartFailed, ErrTimeout, the context error, or nil. A non-zero
//	        exit status is not an error.
//
// Thread Safety: Safe for concurrent use.
func (r *Runner) Run(ctx context.Context, c Command) (*Result, error) {
	result := &Result{ExitCode: -1}
	if ctx == nil {
		return result, ErrNilContext
	}
	if len(c.Argv) == 0 || c.Argv[0] == "" {
		return result, ErrEmptyCommand
	}

	runCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	runCtx, span := startRunSpan(runCtx, c)
	defer span.End()

	cmd := exec.CommandContext(runCtx, c.Argv[0], c.Argv[1:]...)
	cmd.Dir = c.Dir
	if env := slices.Concat(c.Env, traceEnv(runCtx)); len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	setupProcessGroup(cmd)
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}
	cmd.WaitDelay = r.waitDelay

	out := &limitedWriter{limit: r.maxOutput}
	cmd.Stdout = out
	cmd.Stderr = out

	r.logger.Debug("Executing command",
		slog.String("command", c.String()),
		slog.String("dir", c.Dir),
		slog.Duration("timeout", c.Timeout),
	)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		result.Duration = time.Since(start)
		setRunSpanResult(span, result, err)
		recordRun(ctx, c, result)
		return result, fmt.Errorf("%w: %v", ErrStartFailed, err)
	}
	waitErr := cmd.Wait()
	// Sweep stragglers that escaped a normal exit, such as daemons forked
	// by a wrapper script.
	_ = killProcessGroup(cmd)

	result.Duration = time.Since(start)
	result.Output, result.Truncated = out.result()

	// A leader that exited cleanly finished its work even if the deadline
	// passed while Wait drained output held open by a straggler.
	exited := cmd.ProcessState != nil && cmd.ProcessState.Success() &&
		(waitErr == nil || errors.Is(waitErr, exec.ErrWaitDelay))

	var err error
	switch {
	case exited:
		result.ExitCode = 0
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		result.TimedOut = true
		result.ExitCode = -1
		err = ErrTimeout
		r.logger.Warn("Command timed out",
			slog.String("command", c.String()),
			slog.Duration("timeout", c.Timeout),
		)
	case ctx.Err() != nil:
		result.ExitCode = -1
		err = ctx.Err()
	case waitErr != nil:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else if errors.Is(waitErr, exec.ErrWaitDelay) {
			result.ExitCode = cmd.ProcessState.ExitCode()
		} else {
			err = fmt.Errorf("wait for %s: %w", c.Argv[0], waitErr)
		}
	default:
		result.ExitCode = 0
	}

	setRunSpanResult(span, result, err)
	recordRun(ctx, c, result)
	r.logger.Debug("Command finished",
		slog.String("command", c.String()),
		slog.Int("exit_code", result.ExitCode),
		slog.Bool("timed_out", result.TimedOut),
		slog.Duration("duration", result.Duration),
		slog.Int("output_bytes", len(result.Output)),
	)
	return result, err
}

// =============================================================================
// LIMITED WRITER
// =============================================================================

// limitedWriter keeps the last limit bytes written. Build tools print
// their error summaries at the end, so the tail is the useful part.
type limitedWriter struct {
	mu        sync.Mutex
	buf       []byte
	limit     int
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	lw.buf = append(lw.buf, p...)
	if over := len(lw.buf) - lw.limit; over > 0 {
		lw.buf = append(lw.buf[:0], lw.buf[over:]...)
		lw.truncated = true
	}
	return len(p), nil
}

func (lw *limitedWriter) result() (string, bool) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return string(lw.buf), lw.truncated
}
