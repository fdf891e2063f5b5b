// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/refval/services/refval/snapshot"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrNilContext is returned when a nil context is passed.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilSource is returned when Run receives no candidate source.
	ErrNilSource = errors.New("candidate source must not be nil")

	// ErrNoWorkingCopies is returned when RunParallel receives no roots.
	ErrNoWorkingCopies = errors.New("at least one working copy is required")

	// ErrBaselineBuildFailed indicates the untouched working copy does not
	// build, so no candidate could be judged against it.
	ErrBaselineBuildFailed = errors.New("baseline build failed")

	// ErrStagePanic indicates the build or test stage panicked. The files
	// were restored but the batch is aborted.
	ErrStagePanic = errors.New("validation stage panicked")

	// ErrRestoreFailed indicates a working copy could not be restored. It
	// is the snapshot sentinel so errors.Is matches either name.
	ErrRestoreFailed = snapshot.ErrRestoreFailed

	// ErrWorkingCopyClosed is returned when a closed WorkingCopy is used.
	ErrWorkingCopyClosed = errors.New("working copy closed")
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// StateTransitionError indicates a transition outside the allow-list.
type StateTransitionError struct {
	From State
	To   State
}

// Error implements the error interface.
func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("invalid validation state transition: %s -> %s", e.From, e.To)
}
