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
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/refval/services/refval/candidate"
	"github.com/AleutianAI/refval/services/refval/verdict"
)

// reorderWindow bounds, per worker, how many results may wait in the
// reorder buffer for an earlier candidate that is still running.
const reorderWindow = 4

// =============================================================================
// SEQUENTIAL
// =============================================================================

// Run validates every candidate from source against one working copy.
//
// Description:
//
//	Prepares root (lock, baseline build, baseline tests), then runs each
//	candidate to Done and emits its result before reading the next one.
//	Unsafe and ToolFailure verdicts never stop the batch.
//
// Inputs:
//
//	ctx - Cancellation is honored between candidates only
//	source - Candidate source, opened once
//	root - Working copy root
//
// Outputs:
//
//	*BatchResult - Always non-nil once arguments are valid
//	error - Preparation, source, restore, stage panic, sink or context
//	        errors. Results emitted before the error stay emitted.
func (o *Orchestrator) Run(ctx context.Context, source candidate.Source, root string) (*BatchResult, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if source == nil {
		return nil, ErrNilSource
	}
	batch := &BatchResult{RunID: o.runID, Workers: 1}
	start := time.Now()

	ctx, span := startBatchSpan(ctx, o.runID, 1)
	defer span.End()

	err := o.runSequential(ctx, source, root, batch)
	batch.Duration = time.Since(start)
	o.finish(ctx, span, batch, err)
	return batch, err
}

func (o *Orchestrator) runSequential(ctx context.Context, source candidate.Source, root string, batch *BatchResult) error {
	wc, err := o.Prepare(ctx, root, 1)
	if err != nil {
		return err
	}
	defer o.closeWorkingCopy(wc)

	it, err := source.Open(ctx)
	if err != nil {
		return fmt.Errorf("open candidate source: %w", err)
	}
	defer it.Close()

	for seq := 1; ; seq++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		c, ok, err := o.next(ctx, it, &batch.Skipped)
		if err != nil || !ok {
			return err
		}
		res, err := o.validate(ctx, wc, c, seq)
		if err != nil {
			return err
		}
		if err := o.emit(ctx, batch, res); err != nil {
			return err
		}
	}
}

// =============================================================================
// PARALLEL
// =============================================================================

type job struct {
	seq int
	c   candidate.Candidate
}

type done struct {
	seq int
	res verdict.Result
}

// RunParallel validates candidates with one worker per working copy.
//
// Description:
//
//	Every root must be an independent copy of the same codebase. Each
//	worker prepares its own copy, so baselines are per copy. A single
//	reader hands candidates out in source order and a collector emits
//	results in that order through a bounded reorder buffer. The first
//	fatal error stops every worker at its next candidate boundary.
//
// Inputs:
//
//	ctx - Cancellation is honored between candidates only
//	source - Candidate source, opened once
//	roots - Working copy roots, one worker each
//
// Outputs:
//
//	*BatchResult - Always non-nil once arguments are valid
//	error - The first fatal error of any worker, the reader or the sink
func (o *Orchestrator) RunParallel(ctx context.Context, source candidate.Source, roots []string) (*BatchResult, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if source == nil {
		return nil, ErrNilSource
	}
	if len(roots) == 0 {
		return nil, ErrNoWorkingCopies
	}
	if len(roots) == 1 {
		return o.Run(ctx, source, roots[0])
	}

	batch := &BatchResult{RunID: o.runID, Workers: len(roots)}
	start := time.Now()

	ctx, span := startBatchSpan(ctx, o.runID, len(roots))
	defer span.End()

	err := o.runParallel(ctx, source, roots, batch)
	batch.Duration = time.Since(start)
	o.finish(ctx, span, batch, err)
	return batch, err
}

func (o *Orchestrator) runParallel(ctx context.Context, source candidate.Source, roots []string, batch *BatchResult) error {
	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan job)
	results := make(chan done, len(roots))
	window := semaphore.NewWeighted(int64(reorderWindow * len(roots)))

	// Reader.
	g.Go(func() error {
		defer close(jobs)
		it, err := source.Open(gctx)
		if err != nil {
			return fmt.Errorf("open candidate source: %w", err)
		}
		defer it.Close()

		for seq := 1; ; seq++ {
			c, ok, err := o.next(gctx, it, &batch.Skipped)
			if err != nil || !ok {
				return err
			}
			if err := window.Acquire(gctx, 1); err != nil {
				return err
			}
			select {
			case jobs <- job{seq: seq, c: c}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	// Workers.
	var workers sync.WaitGroup
	for i, root := range roots {
		worker := i + 1
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			wc, err := o.Prepare(gctx, root, worker)
			if err != nil {
				return err
			}
			defer o.closeWorkingCopy(wc)
			return o.work(gctx, wc, jobs, results)
		})
	}
	g.Go(func() error {
		workers.Wait()
		close(results)
		return nil
	})

	// Collector.
	g.Go(func() error {
		pending := make(map[int]verdict.Result)
		next := 1
		for d := range results {
			pending[d.seq] = d.res
			for {
				res, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				next++
				window.Release(1)
				if err := o.emit(ctx, batch, res); err != nil {
					return err
				}
			}
		}
		// Only an aborted batch leaves gaps; emit what finished.
		seqs := make([]int, 0, len(pending))
		for seq := range pending {
			seqs = append(seqs, seq)
		}
		sort.Ints(seqs)
		for _, seq := range seqs {
			if err := o.emit(ctx, batch, pending[seq]); err != nil {
				return err
			}
		}
		return nil
	})

	return g.Wait()
}

// work validates jobs on wc until jobs is drained or the batch stops.
func (o *Orchestrator) work(ctx context.Context, wc *WorkingCopy, jobs <-chan job, results chan<- done) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case j, ok := <-jobs:
			if !ok {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			res, err := o.validate(ctx, wc, j.c, j.seq)
			if err != nil {
				return err
			}
			select {
			case results <- done{seq: j.seq, res: res}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// next reads the next candidate. Records that decode into a candidate
// with an ID are returned even when invalid so they get a ToolFailure
// result; records that do not decode at all are counted in skipped.
func (o *Orchestrator) next(ctx context.Context, it candidate.Iterator, skipped *int) (candidate.Candidate, bool, error) {
	for {
		c, err := it.Next(ctx)
		switch {
		case err == nil:
			return c, true, nil
		case errors.Is(err, io.EOF):
			return candidate.Candidate{}, false, nil
		case errors.Is(err, candidate.ErrInvalidCandidate) && c.ID != "":
			return c, true, nil
		case errors.Is(err, candidate.ErrInvalidCandidate):
			*skipped++
			recordSkipped(ctx)
			o.logger.Warn("Skipping undecodable candidate record", slog.String("error", err.Error()))
		default:
			return candidate.Candidate{}, false, fmt.Errorf("read candidates: %w", err)
		}
	}
}

// emit hands res to the sink. Emission ignores cancellation so a result
// computed for the in-flight candidate is never dropped.
func (o *Orchestrator) emit(ctx context.Context, batch *BatchResult, res verdict.Result) error {
	if err := o.sink.Emit(context.WithoutCancel(ctx), res); err != nil {
		return fmt.Errorf("emit result for %s: %w", res.Candidate.ID, err)
	}
	batch.Summary.Add(res)
	return nil
}

func (o *Orchestrator) closeWorkingCopy(wc *WorkingCopy) {
	if err := wc.Close(); err != nil {
		wc.logger.Warn("Releasing working copy lock failed", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) finish(ctx context.Context, span trace.Span, batch *BatchResult, err error) {
	setBatchSpanResult(span, batch, err)
	recordBatch(ctx, batch, err)

	attrs := []any{
		slog.String("run_id", batch.RunID),
		slog.Int("workers", batch.Workers),
		slog.Int("results", batch.Summary.Total),
		slog.Int("skipped", batch.Skipped),
		slog.Duration("duration", batch.Duration),
	}
	for _, v := range verdict.AllVerdicts() {
		attrs = append(attrs, slog.Int(string(v), batch.Summary.ByVerdict[v]))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		o.logger.Error("Validation batch aborted", attrs...)
		return
	}
	o.logger.Info("Validation batch finished", attrs...)
}
