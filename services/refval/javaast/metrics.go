// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package javaast

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for Java indexing.
var (
	tracer = otel.Tracer("refval.javaast")
	meter  = otel.Meter("refval.javaast")
)

var (
	parseLatency metric.Float64Histogram
	parseTotal   metric.Int64Counter
	cacheLookups metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		parseLatency, err = meter.Float64Histogram(
			"refval_java_parse_duration_seconds",
			metric.WithDescription("Duration of Java parse and index operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		parseTotal, err = meter.Int64Counter(
			"refval_java_parse_total",
			metric.WithDescription("Total number of Java parse operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheLookups, err = meter.Int64Counter(
			"refval_java_cache_lookups_total",
			metric.WithDescription("Parsed file cache lookups by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startParseSpan(ctx context.Context, path string, size int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "javaast.Parse",
		trace.WithAttributes(
			attribute.String("javaast.path", path),
			attribute.Int("javaast.size", size),
		),
	)
}

func setParseSpanResult(span trace.Span, types, refs int, syntaxError bool) {
	span.SetAttributes(
		attribute.Int("javaast.types", types),
		attribute.Int("javaast.refs", refs),
		attribute.Bool("javaast.syntax_error", syntaxError),
	)
}

func recordParse(ctx context.Context, duration time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	parseLatency.Record(ctx, duration.Seconds(), attrs)
	parseTotal.Add(ctx, 1, attrs)
}

func recordCacheLookup(ctx context.Context, hit bool) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.Bool("hit", hit)))
}
