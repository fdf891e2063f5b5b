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
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/refval/services/refval/lock"
	"github.com/AleutianAI/refval/services/refval/snapshot"
	"github.com/AleutianAI/refval/services/refval/testrun"
	"github.com/AleutianAI/refval/services/refval/transform"
	"github.com/AleutianAI/refval/services/refval/verdict"
)

// maxBaselineErrors bounds the diagnostics quoted in a baseline failure.
const maxBaselineErrors = 5

// WorkingCopy is one prepared, locked working copy and its baseline.
//
// Thread Safety: NOT safe for concurrent use. It is owned by one worker.
type WorkingCopy struct {
	root      string
	worker    int
	workspace *transform.DirWorkspace
	snapshots *snapshot.Manager
	lock      *lock.WorkingCopyLock
	baseline  *testrun.Run
	logger    *slog.Logger
	closed    bool
}

// Prepare locks root and records its baseline.
//
// Description:
//
//	Takes the cross-process working copy lock, then builds the untouched
//	tree and runs its tests. The baseline build must succeed; baseline
//	test failures are allowed because later runs only have to keep the
//	baseline-passing tests passing. On any error the lock is released.
//
// Inputs:
//
//	ctx - Context for the baseline subprocesses
//	root - Working copy root
//	worker - Worker number stamped on results, starting at 1
//
// Outputs:
//
//	*WorkingCopy - Call Close when done
//	error - A *lock.LockError, ErrBaselineBuildFailed or a baseline test error
func (o *Orchestrator) Prepare(ctx context.Context, root string, worker int) (*WorkingCopy, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving working copy %s: %w", root, err)
	}
	logger := o.logger.With(slog.String("root", abs), slog.Int("worker", worker))

	ctx, span := startPrepareSpan(ctx, abs, worker)
	defer span.End()

	held, err := lock.Acquire(o.lockDir, abs, "refval run "+o.runID, logger)
	if err != nil {
		setSpanError(span, err)
		return nil, err
	}
	wc := &WorkingCopy{
		root:      abs,
		worker:    worker,
		workspace: transform.NewDirWorkspace(abs),
		lock:      held,
		logger:    logger,
	}
	if err := o.prepare(ctx, wc); err != nil {
		_ = wc.Close()
		setSpanError(span, err)
		return nil, err
	}
	return wc, nil
}

func (o *Orchestrator) prepare(ctx context.Context, wc *WorkingCopy) error {
	snapshots, err := snapshot.NewManager(wc.root, wc.logger)
	if err != nil {
		return err
	}
	wc.snapshots = snapshots

	wc.logger.Info("Building baseline")
	out := o.builder.Build(ctx, wc.root)
	if out.Status != verdict.BuildSuccess {
		errs := out.Errors()
		if len(errs) > maxBaselineErrors {
			errs = append(errs[:maxBaselineErrors], fmt.Sprintf("(%d more)", len(out.Errors())-maxBaselineErrors))
		}
		return fmt.Errorf("%w in %s: %s", ErrBaselineBuildFailed, wc.root, strings.Join(errs, "; "))
	}

	baseline, err := o.tester.Baseline(ctx, wc.root)
	if err != nil {
		return err
	}
	wc.baseline = baseline
	return nil
}

// Root returns the absolute working copy root.
func (wc *WorkingCopy) Root() string {
	return wc.root
}

// Worker returns the worker number.
func (wc *WorkingCopy) Worker() int {
	return wc.worker
}

// Baseline returns the baseline test run.
func (wc *WorkingCopy) Baseline() *testrun.Run {
	return wc.baseline
}

// Close releases the working copy lock. Safe to call more than once.
func (wc *WorkingCopy) Close() error {
	if wc.closed {
		return nil
	}
	wc.closed = true
	return wc.lock.Release()
}
