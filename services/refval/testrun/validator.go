// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package testrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/refval/services/refval/process"
	"github.com/AleutianAI/refval/services/refval/toolchain"
	"github.com/AleutianAI/refval/services/refval/verdict"
)

// outputTailBytes bounds Run.Output.
const outputTailBytes = 8 << 10

// Validator runs a working copy's tests.
//
// Thread Safety: Safe for concurrent use on different roots.
type Validator struct {
	command    []string
	format     toolchain.TestFormat
	reportDirs []string
	timeout    time.Duration
	runner     *process.Runner
	logger     *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithRunner sets the subprocess runner.
func WithRunner(r *process.Runner) Option {
	return func(v *Validator) {
		v.runner = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

// WithFormat sets the console format. Defaults to TestsAuto.
func WithFormat(f toolchain.TestFormat) Option {
	return func(v *Validator) {
		v.format = f
	}
}

// WithReportDirs sets root-relative globs of JUnit XML report directories.
func WithReportDirs(dirs ...string) Option {
	return func(v *Validator) {
		v.reportDirs = append([]string(nil), dirs...)
	}
}

// NewValidator creates a test validator.
//
// Inputs:
//
//	command - Program and arguments, run with the working copy as directory
//	timeout - Bound on one test run; zero disables it
//
// Outputs:
//
//	*Validator - The validator
//	error - ErrEmptyCommand or ErrInvalidTimeout
func NewValidator(command []string, timeout time.Duration, opts ...Option) (*Validator, error) {
	if len(command) == 0 || command[0] == "" {
		return nil, ErrEmptyCommand
	}
	if timeout < 0 {
		return nil, ErrInvalidTimeout
	}
	v := &Validator{
		command: append([]string(nil), command...),
		format:  toolchain.TestsAuto,
		timeout: timeout,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = slog.Default()
	}
	if v.runner == nil {
		v.runner = process.NewRunner(process.WithLogger(v.logger))
	}
	return v, nil
}

// Command returns a copy of the test command.
func (v *Validator) Command() []string {
	return append([]string(nil), v.command...)
}

// Run executes the test suite in root.
//
// Description:
//
//	Per-test results come from JUnit XML reports modified during this run,
//	falling back to the console parser when there are none. A failing exit
//	status is not an error.
//
// Outputs:
//
//	*Run - Always non-nil
//	error - ErrTimeout, ErrStartFailed or a context error
func (v *Validator) Run(ctx context.Context, root string) (*Run, error) {
	ctx, span := startTestSpan(ctx, "testrun.Run", root)
	defer span.End()

	run := newRun()
	start := time.Now()
	res, err := v.runner.Run(ctx, process.Command{
		Argv:    v.command,
		Dir:     root,
		Timeout: v.timeout,
	})
	run.ExitCode = res.ExitCode
	run.TimedOut = res.TimedOut
	run.Duration = res.Duration
	run.Output = tail(res.Output, outputTailBytes)

	switch {
	case errors.Is(err, process.ErrTimeout):
		err = fmt.Errorf("%w after %s", ErrTimeout, v.timeout)
	case errors.Is(err, process.ErrStartFailed):
		err = fmt.Errorf("%w: %s", ErrStartFailed,
			strings.TrimPrefix(err.Error(), process.ErrStartFailed.Error()+": "))
	}
	if err != nil {
		setTestSpanError(span, err)
		return run, err
	}

	n, parseErrs := readReports(root, v.reportDirs, start, run)
	for _, perr := range parseErrs {
		v.logger.Warn("Skipping unreadable test report", slog.String("error", perr.Error()))
	}
	if n > 0 {
		run.Source = SourceReports
	} else {
		ParseConsole(v.format, res.Output, run)
		if len(run.Tests) > 0 {
			run.Source = SourceConsole
		}
	}
	run.Counts = parseSurefireCounts(res.Output)

	setRunSpanResult(span, run)
	v.logger.Debug("Test run finished",
		slog.String("root", root),
		slog.String("source", string(run.Source)),
		slog.Int("tests", len(run.Tests)),
		slog.Int("failed", len(run.Failed())),
		slog.Int("exit_code", run.ExitCode),
		slog.Duration("duration", run.Duration),
	)
	return run, nil
}

// Baseline runs the suite on the untouched working copy.
//
// Description:
//
//	The baseline fixes which tests count: later runs only have to keep
//	the baseline-passing tests passing. Baseline failures are allowed, a
//	timeout or start failure is not.
func (v *Validator) Baseline(ctx context.Context, root string) (*Run, error) {
	run, err := v.Run(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("baseline tests: %w", err)
	}
	attrs := []any{
		slog.String("root", root),
		slog.String("source", string(run.Source)),
		slog.Int("passed", len(run.Passed())),
		slog.Int("failed", len(run.Failed())),
		slog.Bool("suite_passed", run.SuitePassed()),
	}
	if run.Counts != nil {
		attrs = append(attrs,
			slog.Int("surefire_run", run.Counts.Run),
			slog.Int("surefire_failures", run.Counts.Failures+run.Counts.Errors),
		)
	}
	v.logger.Info("Captured test baseline", attrs...)
	return run, nil
}

// Test runs the suite and compares it against baseline.
//
// Outputs:
//
//	verdict.TestOutcome - Success when no baseline-passing test regressed,
//	                      never Skipped
func (v *Validator) Test(ctx context.Context, root string, baseline *Run) verdict.TestOutcome {
	run, err := v.Run(ctx, root)
	out := verdict.TestOutcome{
		TimedOut: run.TimedOut,
		Duration: run.Duration,
	}
	switch {
	case errors.Is(err, ErrTimeout):
		out.Status = verdict.TestFailure
		out.FailingTests = []string{ErrTimeout.Error()}
	case err != nil:
		out.Status = verdict.TestFailure
		out.FailingTests = []string{err.Error()}
	default:
		out.FailingTests = Regressions(baseline, run)
		out.Status = verdict.TestSuccess
		if len(out.FailingTests) > 0 {
			out.Status = verdict.TestFailure
		}
	}
	recordTest(ctx, out)
	if out.Status == verdict.TestFailure {
		v.logger.Info("Tests regressed",
			slog.String("root", root),
			slog.Int("failing", len(out.FailingTests)),
			slog.Bool("timed_out", out.TimedOut),
		)
	}
	return out
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
