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
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/refval/services/refval/verdict"
)

var (
	tracer = otel.Tracer("refval.testrun")
	meter  = otel.Meter("refval.testrun")
)

var (
	testLatency     metric.Float64Histogram
	testTotal       metric.Int64Counter
	testRegressions metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		testLatency, err = meter.Float64Histogram(
			"refval_test_duration_seconds",
			metric.WithDescription("Duration of test suite runs compared against a baseline"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		testTotal, err = meter.Int64Counter(
			"refval_test_total",
			metric.WithDescription("Test stages by status"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		testRegressions, err = meter.Int64Counter(
			"refval_test_regressions_total",
			metric.WithDescription("Baseline-passing tests that stopped passing"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startTestSpan(ctx context.Context, name, root string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attribute.String("testrun.root", root)))
}

func setRunSpanResult(span trace.Span, run *Run) {
	span.SetAttributes(
		attribute.String("testrun.source", string(run.Source)),
		attribute.Int("testrun.tests", len(run.Tests)),
		attribute.Int("testrun.exit_code", run.ExitCode),
	)
}

func setTestSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func recordTest(ctx context.Context, out verdict.TestOutcome) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("status", string(out.Status)),
		attribute.Bool("timed_out", out.TimedOut),
	)
	testLatency.Record(ctx, out.Duration.Seconds(), attrs)
	testTotal.Add(ctx, 1, attrs)
	if out.Status == verdict.TestFailure && !out.TimedOut {
		testRegressions.Add(ctx, int64(len(out.FailingTests)))
	}
}
