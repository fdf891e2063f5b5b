// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/refval/services/refval/candidate"
	"github.com/AleutianAI/refval/services/refval/report"
	"github.com/AleutianAI/refval/services/refval/testrun"
	"github.com/AleutianAI/refval/services/refval/transform"
	"github.com/AleutianAI/refval/services/refval/verdict"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Planner computes a candidate's change set without writing it.
// *transform.Engine implements it.
type Planner interface {
	Plan(ctx context.Context, c candidate.Candidate, ws transform.Workspace) (*transform.ChangeSet, verdict.ApplyOutcome)
}

// Builder builds a working copy. *build.Validator implements it.
type Builder interface {
	Build(ctx context.Context, root string) verdict.BuildOutcome
}

// Tester runs a working copy's tests. *testrun.Validator implements it.
type Tester interface {
	Baseline(ctx context.Context, root string) (*testrun.Run, error)
	Test(ctx context.Context, root string, baseline *testrun.Run) verdict.TestOutcome
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator validates candidates and reports one result per candidate.
//
// Thread Safety: Run and RunParallel may be called concurrently on
// different working copies. Each WorkingCopy is used by one goroutine.
type Orchestrator struct {
	planner Planner
	builder Builder
	tester  Tester
	sink    report.Sink

	logger        *slog.Logger
	runID         string
	lockDir       string
	verifyRestore bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) Option {
	return func(o *Orchestrator) {
		if id != "" {
			o.runID = id
		}
	}
}

// WithLockDir sets where working copy lock files live.
func WithLockDir(dir string) Option {
	return func(o *Orchestrator) {
		if dir != "" {
			o.lockDir = dir
		}
	}
}

// WithVerifyRestore re-reads every restored file and fails the batch when
// a checksum differs from the capture.
func WithVerifyRestore(enabled bool) Option {
	return func(o *Orchestrator) {
		o.verifyRestore = enabled
	}
}

// New creates an orchestrator.
//
// Inputs:
//
//	planner - Computes change sets, typically a *transform.Engine
//	builder - Runs the build, typically a *build.Validator
//	tester - Runs the tests, typically a *testrun.Validator
//	sink - Receives results. The caller owns it and closes it.
//
// Outputs:
//
//	*Orchestrator - Ready to run
//	error - Non-nil if a collaborator is missing
func New(planner Planner, builder Builder, tester Tester, sink report.Sink, opts ...Option) (*Orchestrator, error) {
	switch {
	case planner == nil:
		return nil, errors.New("planner must not be nil")
	case builder == nil:
		return nil, errors.New("builder must not be nil")
	case tester == nil:
		return nil, errors.New("tester must not be nil")
	case sink == nil:
		return nil, errors.New("sink must not be nil")
	}
	o := &Orchestrator{
		planner: planner,
		builder: builder,
		tester:  tester,
		sink:    sink,
		logger:  slog.Default(),
		runID:   uuid.NewString(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// RunID returns the identifier stamped on every result.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// BatchResult summarizes a finished or aborted batch.
type BatchResult struct {
	// RunID identifies the batch's results.
	RunID string

	// Summary counts emitted results by verdict.
	Summary report.Summary

	// Skipped counts source records that could not be decoded into a
	// candidate at all. Candidates that decode but fail validation are
	// reported with a ToolFailure result instead.
	Skipped int

	// Workers is the number of working copies used.
	Workers int

	// Duration is the wall time of the batch.
	Duration time.Duration
}
