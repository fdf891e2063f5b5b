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
	"time"

	"github.com/AleutianAI/refval/services/refval/candidate"
)

// ChangeStats summarizes the edits a transformation wrote.
type ChangeStats struct {
	Files   int `json:"files"`
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// Result is the record emitted for one candidate.
//
// Thread Safety: Immutable after NewResult; pass by value.
type Result struct {
	RunID     string              `json:"run_id"`
	Sequence  int                 `json:"sequence"`
	Worker    int                 `json:"worker"`
	Candidate candidate.Candidate `json:"candidate"`
	Apply     ApplyOutcome        `json:"apply"`
	Build     BuildOutcome        `json:"build"`
	Test      TestOutcome         `json:"test"`
	Verdict   Verdict             `json:"verdict"`
	Changes   ChangeStats         `json:"changes"`
	StartedAt time.Time           `json:"started_at"`
	Duration  time.Duration       `json:"duration"`
}

// NewResult classifies the outcomes and returns an immutable record.
//
// Slices are copied so later mutation by the caller is not observable.
func NewResult(c candidate.Candidate, apply ApplyOutcome, build BuildOutcome, test TestOutcome) (Result, error) {
	v, err := Classify(apply, build, test)
	if err != nil {
		return Result{}, err
	}
	build.Diagnostics = append([]Diagnostic(nil), build.Diagnostics...)
	test.FailingTests = append([]string(nil), test.FailingTests...)
	return Result{
		Candidate: c,
		Apply:     apply,
		Build:     build,
		Test:      test,
		Verdict:   v,
	}, nil
}

// FailingTests returns a copy of the failing test identifiers.
func (r Result) FailingTests() []string {
	return append([]string(nil), r.Test.FailingTests...)
}

// BuildErrors returns the build diagnostics as strings.
func (r Result) BuildErrors() []string {
	return r.Build.Errors()
}
