// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshot

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("refval.snapshot")

var (
	restoreLatency  metric.Float64Histogram
	restoreTotal    metric.Int64Counter
	restoreFailures metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		restoreLatency, err = meter.Float64Histogram(
			"refval_snapshot_restore_duration_seconds",
			metric.WithDescription("Duration of snapshot restores"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		restoreTotal, err = meter.Int64Counter(
			"refval_snapshot_restore_total",
			metric.WithDescription("Total number of snapshot restores"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		restoreFailures, err = meter.Int64Counter(
			"refval_snapshot_restore_failures_total",
			metric.WithDescription("Snapshot restores that left the working copy mutated"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordRestore(ctx context.Context, duration time.Duration, ok bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", ok))
	restoreLatency.Record(ctx, duration.Seconds(), attrs)
	restoreTotal.Add(ctx, 1, attrs)
	if !ok {
		restoreFailures.Add(ctx, 1)
	}
}
