// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transform

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/refval/services/refval/candidate"
	"github.com/AleutianAI/refval/services/refval/verdict"
)

var (
	tracer = otel.Tracer("refval.transform")
	meter  = otel.Meter("refval.transform")
)

var (
	planLatency    metric.Float64Histogram
	planTotal      metric.Int64Counter
	editsRewritten metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		planLatency, err = meter.Float64Histogram(
			"refval_transform_plan_duration_seconds",
			metric.WithDescription("Duration of transformation planning"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		planTotal, err = meter.Int64Counter(
			"refval_transform_plan_total",
			metric.WithDescription("Transformations planned by kind and apply status"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		editsRewritten, err = meter.Int64Counter(
			"refval_transform_references_total",
			metric.WithDescription("Source occurrences rewritten by transformations"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startPlanSpan(ctx context.Context, c candidate.Candidate) (context.Context, trace.Span) {
	return tracer.Start(ctx, "transform.Plan",
		trace.WithAttributes(
			attribute.String("candidate.id", c.ID),
			attribute.String("candidate.kind", c.Kind.String()),
			attribute.String("candidate.file", c.Location.File),
			attribute.String("candidate.symbol", c.Location.Symbol),
		),
	)
}

func setPlanSpanResult(span trace.Span, outcome verdict.ApplyOutcome, cs *ChangeSet) {
	span.SetAttributes(attribute.String("transform.status", string(outcome.Status)))
	if cs != nil {
		span.SetAttributes(
			attribute.Int("transform.files", len(cs.Paths())),
			attribute.Int("transform.references", len(cs.refs)),
		)
	}
	if outcome.Status != verdict.ApplyApplied {
		span.SetStatus(codes.Error, outcome.Reason)
	}
}

func recordPlan(ctx context.Context, kind candidate.Kind, status verdict.ApplyStatus, duration time.Duration, refs int) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", kind.String()),
		attribute.String("status", string(status)),
	)
	planLatency.Record(ctx, duration.Seconds(), attrs)
	planTotal.Add(ctx, 1, attrs)
	if refs > 0 {
		editsRewritten.Add(ctx, int64(refs), metric.WithAttributes(attribute.String("kind", kind.String())))
	}
}
