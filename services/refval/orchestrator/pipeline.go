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
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/refval/services/refval/candidate"
	"github.com/AleutianAI/refval/services/refval/snapshot"
	"github.com/AleutianAI/refval/services/refval/transform"
	"github.com/AleutianAI/refval/services/refval/verdict"
)

// =============================================================================
// CANDIDATE RUN
// =============================================================================

// candidateRun is the mutable state of one candidate moving through the
// state machine. It lives for a single validate call.
type candidateRun struct {
	o      *Orchestrator
	wc     *WorkingCopy
	c      candidate.Candidate
	state  State
	span   trace.Span
	logger *slog.Logger

	planned verdict.ApplyOutcome
	cs      *transform.ChangeSet
	snap    *snapshot.Snapshot

	apply  verdict.ApplyOutcome
	build  verdict.BuildOutcome
	test   verdict.TestOutcome
	result verdict.Result
}

// validate runs one candidate to Done and returns its result.
//
// Description:
//
//	The run ignores cancellation of ctx so it always reaches Restoring.
//	Panics while planning or writing become ApplyFailed results. Panics
//	in the build or test stage, restore failures and invalid transitions
//	are returned as errors and abort the batch; the working copy has
//	been restored (or reported unrestorable) by then.
//
// Outputs:
//
//	verdict.Result - Valid only when error is nil
//	error - ErrStagePanic, ErrRestoreFailed or *StateTransitionError
func (o *Orchestrator) validate(ctx context.Context, wc *WorkingCopy, c candidate.Candidate, seq int) (verdict.Result, error) {
	if wc.closed {
		return verdict.Result{}, ErrWorkingCopyClosed
	}
	ctx = context.WithoutCancel(ctx)
	ctx, span := startCandidateSpan(ctx, o.runID, c, seq, wc.worker)
	defer span.End()

	r := &candidateRun{
		o:      o,
		wc:     wc,
		c:      c,
		state:  StatePending,
		span:   span,
		logger: wc.logger.With(slog.String("candidate", c.ID), slog.Int("sequence", seq)),
		build:  verdict.BuildSkippedOutcome(),
		test:   verdict.TestSkippedOutcome(),
	}
	start := time.Now()

	stageErr := snapshot.CapturePanic("pipeline", func() error { return r.pipeline(ctx) })
	restoreErr := r.restore(ctx)
	if err := errors.Join(stageErr, restoreErr); err != nil {
		r.logFailure(err)
		setSpanError(span, err)
		return verdict.Result{}, err
	}
	if err := r.to(ctx, StateDone); err != nil {
		return verdict.Result{}, err
	}

	res := r.result
	res.RunID = o.runID
	res.Sequence = seq
	res.Worker = wc.worker
	res.StartedAt = start.UTC()
	res.Duration = time.Since(start)
	if r.cs != nil && res.Apply.Status == verdict.ApplyApplied {
		res.Changes = r.cs.Stats()
	}

	setCandidateSpanResult(span, res)
	recordCandidate(ctx, res)
	r.logger.Info("Candidate validated",
		slog.String("kind", c.Kind.String()),
		slog.String("verdict", string(res.Verdict)),
		slog.String("apply", res.Apply.String()),
		slog.String("build", string(res.Build.Status)),
		slog.String("test", string(res.Test.Status)),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}

// pipeline runs Snapshotting through Classifying.
func (r *candidateRun) pipeline(ctx context.Context) error {
	if err := r.to(ctx, StateSnapshotting); err != nil {
		return err
	}
	if err := snapshot.CapturePanic(string(StateSnapshotting), func() error { return r.capture(ctx) }); err != nil {
		r.planned = r.applyFailure(err)
	}

	if err := r.to(ctx, StateApplying); err != nil {
		return err
	}
	r.apply = r.planned
	if r.apply.Status == verdict.ApplyApplied {
		err := snapshot.CapturePanic(string(StateApplying), func() error { return r.cs.Flush(r.wc.root) })
		if err != nil {
			r.apply = r.applyFailure(err)
		}
	}
	if r.apply.Status != verdict.ApplyApplied {
		return r.classify(ctx)
	}

	if err := r.to(ctx, StateBuilding); err != nil {
		return err
	}
	err := snapshot.CapturePanic(string(StateBuilding), func() error {
		r.build = r.o.builder.Build(ctx, r.wc.root)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStagePanic, err)
	}
	if r.build.Status != verdict.BuildSuccess {
		return r.classify(ctx)
	}

	if err := r.to(ctx, StateTesting); err != nil {
		return err
	}
	err = snapshot.CapturePanic(string(StateTesting), func() error {
		r.test = r.o.tester.Test(ctx, r.wc.root, r.wc.baseline)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStagePanic, err)
	}
	return r.classify(ctx)
}

// capture plans the change set and snapshots every path it touches.
// Nothing in the working copy is written.
func (r *candidateRun) capture(ctx context.Context) error {
	cs, outcome := r.o.planner.Plan(ctx, r.c, r.wc.workspace)
	r.planned = outcome
	if outcome.Status != verdict.ApplyApplied {
		return nil
	}
	if cs == nil {
		r.planned = verdict.ApplyFailed("planner returned no change set")
		return nil
	}
	snap, err := r.wc.snapshots.Begin(cs.Paths())
	if err != nil {
		return err
	}
	r.cs, r.snap = cs, snap
	return nil
}

// applyFailure turns a planning or flush error into ApplyFailed.
func (r *candidateRun) applyFailure(err error) verdict.ApplyOutcome {
	var pe *snapshot.PanicError
	if errors.As(err, &pe) {
		r.logger.Error("Transformation panicked",
			slog.String("stage", pe.Stage),
			slog.String("panic", fmt.Sprint(pe.Value)),
			slog.String("stack", string(pe.Stack)),
		)
		return verdict.ApplyFailed(fmt.Sprintf("internal error: %v", pe.Value))
	}
	return verdict.ApplyFailed(err.Error())
}

func (r *candidateRun) classify(ctx context.Context) error {
	if err := r.to(ctx, StateClassifying); err != nil {
		return err
	}
	res, err := verdict.NewResult(r.c, r.apply, r.build, r.test)
	if err != nil {
		return err
	}
	r.result = res
	return nil
}

// restore puts the captured files back. It runs even when the transition
// into Restoring is rejected.
func (r *candidateRun) restore(ctx context.Context) error {
	transitionErr := r.to(ctx, StateRestoring)
	if r.snap == nil {
		return transitionErr
	}

	err := r.wc.snapshots.Restore(r.snap)
	if err == nil && r.o.verifyRestore {
		changed, verr := r.snap.Verify()
		switch {
		case verr != nil:
			err = fmt.Errorf("%w: verify: %v", ErrRestoreFailed, verr)
		case len(changed) > 0:
			err = fmt.Errorf("%w: %d files differ after restore: %s",
				ErrRestoreFailed, len(changed), strings.Join(changed, ", "))
		}
	}
	if err != nil {
		r.logger.Error("Working copy restore failed",
			slog.String("error", err.Error()),
			slog.Int("paths", r.snap.Len()),
		)
	}
	return errors.Join(transitionErr, err)
}

// to moves the run to next, recording the transition.
func (r *candidateRun) to(ctx context.Context, next State) error {
	from := r.state
	if !CanTransition(from, next) {
		return &StateTransitionError{From: from, To: next}
	}
	r.state = next
	addTransitionEvent(r.span, from, next)
	recordTransition(ctx, from, next)
	r.logger.Debug("Validation state transition",
		slog.String("from", string(from)),
		slog.String("to", string(next)),
	)
	return nil
}

func (r *candidateRun) logFailure(err error) {
	attrs := []any{
		slog.String("state", string(r.state)),
		slog.String("error", err.Error()),
	}
	var pe *snapshot.PanicError
	if errors.As(err, &pe) {
		attrs = append(attrs, slog.String("stack", string(pe.Stack)))
	}
	r.logger.Error("Candidate aborted the batch", attrs...)
}
