// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package testrun executes a working copy's test suite, extracts per-test
// results and compares them against a baseline run.
//
// Results come from JUnit XML reports written during the run when there
// are any, and from the console output otherwise. When neither yields
// test identifiers the suite is compared as a whole by exit status under
// the synthetic identifier SuiteID.
package testrun

import (
	"sort"
	"time"
)

// SuiteID identifies the whole suite when per-test results are unknown.
const SuiteID = "<suite>"

// Status is the result of one test.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// severity orders statuses so a test reported twice keeps its worst result.
func (s Status) severity() int {
	switch s {
	case StatusFailed:
		return 2
	case StatusPassed:
		return 1
	default:
		return 0
	}
}

// Source records where per-test results came from.
type Source string

const (
	SourceReports Source = "junit"
	SourceConsole Source = "console"
	SourceExit    Source = "exit"
)

// Counts is the Maven Surefire summary.
type Counts struct {
	Run      int `json:"run"`
	Failures int `json:"failures"`
	Errors   int `json:"errors"`
	Skipped  int `json:"skipped"`
}

// Run is the result of one test suite execution.
type Run struct {
	// Tests maps test ids to their status.
	Tests map[string]Status `json:"tests,omitempty"`

	Source   Source        `json:"source"`
	ExitCode int           `json:"exit_code"`
	TimedOut bool          `json:"timed_out,omitempty"`
	Duration time.Duration `json:"duration"`

	// Counts is set when the output carried a Surefire summary.
	Counts *Counts `json:"counts,omitempty"`

	// Output is the tail of the console output.
	Output string `json:"-"`
}

// newRun creates an empty run.
func newRun() *Run {
	return &Run{Tests: make(map[string]Status), Source: SourceExit}
}

// record sets a test status, keeping the worse of repeated results.
func (r *Run) record(id string, s Status) {
	if id == "" {
		return
	}
	if prev, ok := r.Tests[id]; ok && prev.severity() >= s.severity() {
		return
	}
	r.Tests[id] = s
}

// SuitePassed reports whether the suite exited successfully.
func (r *Run) SuitePassed() bool {
	return r != nil && r.ExitCode == 0 && !r.TimedOut
}

// IDs returns test ids with the given status, sorted.
func (r *Run) IDs(s Status) []string {
	if r == nil {
		return nil
	}
	var ids []string
	for id, st := range r.Tests {
		if st == s {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Passed returns the passing test ids, sorted.
func (r *Run) Passed() []string { return r.IDs(StatusPassed) }

// Failed returns the failing test ids, sorted.
func (r *Run) Failed() []string { return r.IDs(StatusFailed) }

// Regressions lists baseline-passing tests that do not pass in current.
//
// Description:
//
//	When the baseline has passing test ids, each one must be reported as
//	passing in current. Tests that now fail or are no longer reported are
//	regressions; baseline-failing tests are ignored. Without baseline test
//	ids the suites are compared by exit status and a regression is
//	reported as SuiteID.
//
// Outputs:
//
//	[]string - Sorted regressions, empty when current is at least as good
func Regressions(baseline, current *Run) []string {
	passing := baseline.Passed()
	if len(passing) == 0 {
		baselineOK := baseline == nil || baseline.SuitePassed()
		if baselineOK && !current.SuitePassed() {
			return []string{SuiteID}
		}
		return nil
	}
	var out []string
	for _, id := range passing {
		if current == nil || current.Tests[id] != StatusPassed {
			out = append(out, id)
		}
	}
	return out
}
