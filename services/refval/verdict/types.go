// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package verdict

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// APPLY OUTCOME
// =============================================================================

// ApplyStatus is the result of applying a transformation.
type ApplyStatus string

const (
	// ApplyApplied means every edit was written.
	ApplyApplied ApplyStatus = "applied"

	// ApplyNotFound means the candidate's location no longer resolves.
	ApplyNotFound ApplyStatus = "not_found"

	// ApplyFailedStatus means the engine declined to apply the edit.
	ApplyFailedStatus ApplyStatus = "apply_failed"
)

// ApplyOutcome records what the transformation engine did.
type ApplyOutcome struct {
	Status ApplyStatus `json:"status"`

	// Reason explains NotFound and ApplyFailed outcomes.
	Reason string `json:"reason,omitempty"`
}

// Applied returns the outcome for a fully written transformation.
func Applied() ApplyOutcome {
	return ApplyOutcome{Status: ApplyApplied}
}

// NotFound returns the outcome for a stale candidate.
func NotFound(reason string) ApplyOutcome {
	return ApplyOutcome{Status: ApplyNotFound, Reason: reason}
}

// ApplyFailed returns the outcome for a transformation the engine could
// not safely apply.
func ApplyFailed(reason string) ApplyOutcome {
	return ApplyOutcome{Status: ApplyFailedStatus, Reason: reason}
}

// String formats the outcome as Status or Status(reason).
func (o ApplyOutcome) String() string {
	if o.Reason == "" {
		return string(o.Status)
	}
	return fmt.Sprintf("%s(%s)", o.Status, o.Reason)
}

// =============================================================================
// DIAGNOSTICS
// =============================================================================

// Diagnostic is one compiler or build tool message.
//
// File, Line and Column are zero when the tool output could not be
// attributed to a source position.
type Diagnostic struct {
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Severity string `json:"severity,omitempty"`
	Message  string `json:"message"`
}

// String formats the diagnostic like a compiler would.
func (d Diagnostic) String() string {
	var b strings.Builder
	if d.File != "" {
		b.WriteString(d.File)
		if d.Line > 0 {
			fmt.Fprintf(&b, ":%d", d.Line)
			if d.Column > 0 {
				fmt.Fprintf(&b, ":%d", d.Column)
			}
		}
		b.WriteString(": ")
	}
	if d.Severity != "" && d.Severity != "error" {
		b.WriteString(d.Severity)
		b.WriteString(": ")
	}
	b.WriteString(d.Message)
	return b.String()
}

// =============================================================================
// BUILD OUTCOME
// =============================================================================

// BuildStatus is the result of building the working copy.
type BuildStatus string

const (
	BuildSkipped BuildStatus = "skipped"
	BuildSuccess BuildStatus = "success"
	BuildFailure BuildStatus = "failure"
)

// BuildOutcome records the build stage.
type BuildOutcome struct {
	Status      BuildStatus   `json:"status"`
	Diagnostics []Diagnostic  `json:"diagnostics,omitempty"`
	ExitCode    int           `json:"exit_code,omitempty"`
	TimedOut    bool          `json:"timed_out,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
}

// BuildSkippedOutcome returns the outcome for a build that did not run.
func BuildSkippedOutcome() BuildOutcome {
	return BuildOutcome{Status: BuildSkipped}
}

// Errors returns the diagnostics as strings.
func (o BuildOutcome) Errors() []string {
	out := make([]string, len(o.Diagnostics))
	for i, d := range o.Diagnostics {
		out[i] = d.String()
	}
	return out
}

// =============================================================================
// TEST OUTCOME
// =============================================================================

// TestStatus is the result of the test stage.
type TestStatus string

const (
	TestSkipped TestStatus = "skipped"
	TestSuccess TestStatus = "success"
	TestFailure TestStatus = "failure"
)

// TestOutcome records the test stage compared against the baseline.
type TestOutcome struct {
	Status TestStatus `json:"status"`

	// FailingTests lists baseline-passing tests that no longer pass.
	FailingTests []string `json:"failing_tests,omitempty"`

	TimedOut bool          `json:"timed_out,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// TestSkippedOutcome returns the outcome for tests that did not run.
func TestSkippedOutcome() TestOutcome {
	return TestOutcome{Status: TestSkipped}
}

// =============================================================================
// VERDICT
// =============================================================================

// Verdict is the final classification of one candidate.
type Verdict string

const (
	// Safe means the edit applied and build and tests are unaffected.
	Safe Verdict = "safe"

	// Unsafe means the edit applied but broke the build or tests.
	Unsafe Verdict = "unsafe"

	// Inapplicable means the candidate no longer resolves.
	Inapplicable Verdict = "inapplicable"

	// ToolFailure means the engine could not safely apply the edit.
	ToolFailure Verdict = "tool_failure"
)

// AllVerdicts returns every verdict in a stable order.
func AllVerdicts() []Verdict {
	return []Verdict{Safe, Unsafe, Inapplicable, ToolFailure}
}
