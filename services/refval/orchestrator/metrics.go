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
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/refval/services/refval/candidate"
	"github.com/AleutianAI/refval/services/refval/verdict"
)

var (
	tracer = otel.Tracer("refval.orchestrator")
	meter  = otel.Meter("refval.orchestrator")
)

var (
	candidateDuration metric.Float64Histogram
	verdictTotal      metric.Int64Counter
	transitionTotal   metric.Int64Counter
	skippedTotal      metric.Int64Counter
	batchTotal        metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		candidateDuration, err = meter.Float64Histogram(
			"refval_candidate_duration_seconds",
			metric.WithDescription("Wall time to validate one candidate"),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600),
		)
		if err != nil {
			metricsErr = err
			return
		}

		verdictTotal, err = meter.Int64Counter(
			"refval_verdicts_total",
			metric.WithDescription("Validated candidates by verdict and kind"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		transitionTotal, err = meter.Int64Counter(
			"refval_state_transitions_total",
			metric.WithDescription("Validation state machine transitions"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		skippedTotal, err = meter.Int64Counter(
			"refval_candidates_skipped_total",
			metric.WithDescription("Candidate records that could not be decoded"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		batchTotal, err = meter.Int64Counter(
			"refval_batches_total",
			metric.WithDescription("Validation batches by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startBatchSpan(ctx context.Context, runID string, workers int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "orchestrator.Batch",
		trace.WithAttributes(
			attribute.String("refval.run_id", runID),
			attribute.Int("refval.workers", workers),
		),
	)
}

func setBatchSpanResult(span trace.Span, batch *BatchResult, err error) {
	span.SetAttributes(
		attribute.Int("refval.results", batch.Summary.Total),
		attribute.Int("refval.skipped", batch.Skipped),
	)
	setSpanError(span, err)
}

func startPrepareSpan(ctx context.Context, root string, worker int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "orchestrator.Prepare",
		trace.WithAttributes(
			attribute.String("refval.root", root),
			attribute.Int("refval.worker", worker),
		),
	)
}

func startCandidateSpan(ctx context.Context, runID string, c candidate.Candidate, seq, worker int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "orchestrator.Validate",
		trace.WithAttributes(
			attribute.String("refval.run_id", runID),
			attribute.String("refval.candidate", c.ID),
			attribute.String("refval.kind", c.Kind.String()),
			attribute.String("refval.file", c.Location.File),
			attribute.Int("refval.sequence", seq),
			attribute.Int("refval.worker", worker),
		),
	)
}

func setCandidateSpanResult(span trace.Span, res verdict.Result) {
	span.SetAttributes(
		attribute.String("refval.verdict", string(res.Verdict)),
		attribute.String("refval.apply", string(res.Apply.Status)),
		attribute.String("refval.build", string(res.Build.Status)),
		attribute.String("refval.test", string(res.Test.Status)),
		attribute.Int("refval.changed_files", res.Changes.Files),
	)
}

func addTransitionEvent(span trace.Span, from, to State) {
	span.AddEvent("state_transition", trace.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}

func setSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func recordCandidate(ctx context.Context, res verdict.Result) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("verdict", string(res.Verdict)),
		attribute.String("kind", res.Candidate.Kind.String()),
	)
	candidateDuration.Record(ctx, res.Duration.Seconds(), attrs)
	verdictTotal.Add(ctx, 1, attrs)
}

func recordTransition(ctx context.Context, from, to State) {
	if err := initMetrics(); err != nil {
		return
	}
	transitionTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}

func recordSkipped(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	skippedTotal.Add(ctx, 1)
}

func recordBatch(ctx context.Context, batch *BatchResult, err error) {
	if err := initMetrics(); err != nil {
		return
	}
	outcome := "completed"
	if err != nil {
		outcome = "aborted"
	}
	batchTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.Int("workers", batch.Workers),
	))
}
