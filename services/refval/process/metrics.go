// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("refval.process")
	meter  = otel.Meter("refval.process")
)

var (
	runDuration metric.Float64Histogram
	runTotal    metric.Int64Counter
	runTimeouts metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		runDuration, err = meter.Float64Histogram(
			"refval_process_duration_seconds",
			metric.WithDescription("Duration of subprocess runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runTotal, err = meter.Int64Counter(
			"refval_process_runs_total",
			metric.WithDescription("Subprocess runs by program and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runTimeouts, err = meter.Int64Counter(
			"refval_process_timeouts_total",
			metric.WithDescription("Subprocess runs killed by timeout"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func program(c Command) string {
	if len(c.Argv) == 0 {
		return ""
	}
	return filepath.Base(c.Argv[0])
}

func startRunSpan(ctx context.Context, c Command) (context.Context, trace.Span) {
	return tracer.Start(ctx, "process.Run",
		trace.WithAttributes(
			attribute.String("process.program", program(c)),
			attribute.Int("process.args", len(c.Argv)-1),
			attribute.String("process.dir", c.Dir),
			attribute.Int64("process.timeout_ms", c.Timeout.Milliseconds()),
		),
	)
}

func setRunSpanResult(span trace.Span, r *Result, err error) {
	span.SetAttributes(
		attribute.Int("process.exit_code", r.ExitCode),
		attribute.Bool("process.timed_out", r.TimedOut),
		attribute.Bool("process.truncated", r.Truncated),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func outcomeLabel(r *Result) string {
	switch {
	case r.TimedOut:
		return "timeout"
	case r.ExitCode == 0:
		return "success"
	case r.ExitCode < 0:
		return "killed"
	default:
		return "failure"
	}
}

func recordRun(ctx context.Context, c Command, r *Result) {
	if err := initMetrics(); err != nil {
		return
	}
	prog := attribute.String("program", program(c))
	runDuration.Record(ctx, r.Duration.Seconds(), metric.WithAttributes(prog))
	runTotal.Add(ctx, 1, metric.WithAttributes(prog, attribute.String("outcome", outcomeLabel(r))))
	if r.TimedOut {
		runTimeouts.Add(ctx, 1, metric.WithAttributes(prog))
	}
}

// traceEnv carries the active trace into the child as TRACEPARENT style
// environment variables so instrumented build tools join the run's trace.
func traceEnv(ctx context.Context) []string {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) == 0 {
		return nil
	}
	env := make([]string, 0, len(carrier))
	for _, k := range carrier.Keys() {
		env = append(env, strings.ToUpper(k)+"="+carrier.Get(k))
	}
	sort.Strings(env)
	return env
}
