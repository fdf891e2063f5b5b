// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package build

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/refval/services/refval/verdict"
)

var (
	tracer = otel.Tracer("refval.build")
	meter  = otel.Meter("refval.build")
)

var (
	buildLatency     metric.Float64Histogram
	buildTotal       metric.Int64Counter
	buildDiagnostics metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		buildLatency, err = meter.Float64Histogram(
			"refval_build_duration_seconds",
			metric.WithDescription("Duration of working copy builds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildTotal, err = meter.Int64Counter(
			"refval_build_total",
			metric.WithDescription("Builds by status"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildDiagnostics, err = meter.Int64Histogram(
			"refval_build_diagnostics",
			metric.WithDescription("Diagnostics reported by failed builds"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startBuildSpan(ctx context.Context, root string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "build.Build",
		trace.WithAttributes(attribute.String("build.root", root)),
	)
}

func setBuildSpanResult(span trace.Span, out verdict.BuildOutcome) {
	span.SetAttributes(
		attribute.String("build.status", string(out.Status)),
		attribute.Int("build.exit_code", out.ExitCode),
		attribute.Bool("build.timed_out", out.TimedOut),
		attribute.Int("build.diagnostics", len(out.Diagnostics)),
	)
	if out.Status != verdict.BuildSuccess {
		span.SetStatus(codes.Error, "build failed")
	}
}

func recordBuild(ctx context.Context, out verdict.BuildOutcome) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("status", string(out.Status)),
		attribute.Bool("timed_out", out.TimedOut),
	)
	buildLatency.Record(ctx, out.Duration.Seconds(), attrs)
	buildTotal.Add(ctx, 1, attrs)
	if out.Status == verdict.BuildFailure {
		buildDiagnostics.Record(ctx, int64(len(out.Diagnostics)))
	}
}
