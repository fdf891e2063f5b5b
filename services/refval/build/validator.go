// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package build runs the build command of a working copy and turns its
// result into a verdict.BuildOutcome.
package build

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

// Messages for builds that produced no compiler output of their own.
const (
	MessageTimeout     = "build timeout"
	MessageStartFailed = "build command failed to start"
)

// Validator builds a working copy.
//
// Thread Safety: Safe for concurrent use on different roots.
type Validator struct {
	command []string
	format  toolchain.DiagnosticFormat
	timeout time.Duration
	runner  *process.Runner
	logger  *slog.Logger
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

// WithFormat sets the diagnostic format. Defaults to DiagnosticsAuto.
func WithFormat(f toolchain.DiagnosticFormat) Option {
	return func(v *Validator) {
		v.format = f
	}
}

// NewValidator creates a build validator.
//
// Inputs:
//
//	command - Program and arguments, run with the working copy as directory
//	timeout - Bound on one build; zero disables it
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
		format:  toolchain.DiagnosticsAuto,
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

// Command returns a copy of the build command.
func (v *Validator) Command() []string {
	return append([]string(nil), v.command...)
}

// Build runs the build in root.
//
// Description:
//
//	Exit status zero is Success. Anything else is Failure with parsed
//	diagnostics, or a single diagnostic for timeouts and start failures.
//	The build never returns an error: every problem is part of the outcome.
//
// Inputs:
//
//	ctx - Context for cancellation
//	root - Working copy root
//
// Outputs:
//
//	verdict.BuildOutcome - Success or Failure, never Skipped
func (v *Validator) Build(ctx context.Context, root string) verdict.BuildOutcome {
	ctx, span := startBuildSpan(ctx, root)
	defer span.End()

	res, err := v.runner.Run(ctx, process.Command{
		Argv:    v.command,
		Dir:     root,
		Timeout: v.timeout,
	})
	out := verdict.BuildOutcome{
		ExitCode: res.ExitCode,
		TimedOut: res.TimedOut,
		Duration: res.Duration,
	}

	switch {
	case errors.Is(err, process.ErrTimeout):
		out.Status = verdict.BuildFailure
		out.Diagnostics = []verdict.Diagnostic{{Severity: "error", Message: MessageTimeout}}
	case errors.Is(err, process.ErrStartFailed):
		out.Status = verdict.BuildFailure
		reason := strings.TrimPrefix(err.Error(), process.ErrStartFailed.Error()+": ")
		out.Diagnostics = []verdict.Diagnostic{{
			Severity: "error",
			Message:  MessageStartFailed + ": " + reason,
		}}
	case err != nil:
		out.Status = verdict.BuildFailure
		out.Diagnostics = []verdict.Diagnostic{{Severity: "error", Message: "build interrupted: " + err.Error()}}
	case res.ExitCode == 0:
		out.Status = verdict.BuildSuccess
	default:
		out.Status = verdict.BuildFailure
		out.Diagnostics = ParseDiagnostics(v.format, res.Output)
		relativize(root, out.Diagnostics)
		if len(out.Diagnostics) == 0 {
			out.Diagnostics = []verdict.Diagnostic{{
				Severity: "error",
				Message:  fmt.Sprintf("build failed with exit code %d", res.ExitCode),
			}}
		}
	}

	setBuildSpanResult(span, out)
	recordBuild(ctx, out)

	logAttrs := []any{
		slog.String("root", root),
		slog.String("status", string(out.Status)),
		slog.Int("exit_code", out.ExitCode),
		slog.Int("diagnostics", len(out.Diagnostics)),
		slog.Duration("duration", out.Duration),
	}
	if out.Status == verdict.BuildSuccess {
		v.logger.Debug("Build succeeded", logAttrs...)
	} else {
		v.logger.Info("Build failed", logAttrs...)
	}
	return out
}
