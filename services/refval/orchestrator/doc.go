// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator drives candidates through the validation pipeline.
//
// Each candidate runs a fixed state machine against one working copy:
//
//	Pending -> Snapshotting -> Applying -> Building -> Testing
//	        -> Classifying -> Restoring -> Done
//
// Declined transformations and failed builds skip ahead to Classifying.
// Every path, including panics, passes through Restoring: the files the
// change set touches are captured before anything is written and put back
// before the next candidate starts. A restore that fails aborts the batch
// because every later result would be measured against a corrupted tree.
//
// A WorkingCopy is owned by exactly one worker. Prepare takes an advisory
// lock on it, checks the untouched tree builds, and records the test
// baseline. RunParallel runs one worker per independent copy and still
// emits results in candidate order.
//
// Cancelling the batch context stops the batch at the next candidate
// boundary. The candidate in flight always finishes, so the working copy
// is never left modified.
package orchestrator
