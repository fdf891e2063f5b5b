// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires OpenTelemetry tracing and metrics for refval.
//
// Every refval package records spans and metrics through otel.Tracer and
// otel.Meter. Until Init runs those calls go to no-op providers, so tests
// and library users pay nothing. Init swaps in real exporters chosen by
// configuration:
//
//   - traces: "otlp" (gRPC), "stdout" or "none"
//   - metrics: "prometheus" (served over HTTP), "stdout" or "none"
//
// The W3C trace context propagator is always installed so build and test
// subprocesses receive TRACEPARENT.
//
// # Usage
//
//	shutdown, err := telemetry.Init(ctx, cfg, logger)
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer shutdown(context.Background())
package telemetry
