// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transform

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrNotFound indicates the candidate's location no longer resolves.
	ErrNotFound = errors.New("candidate location not found")

	// ErrOverlappingEdits indicates two edits to one file intersect.
	ErrOverlappingEdits = errors.New("overlapping edits")

	// ErrFlushFailed indicates a change set could not be written. Files
	// already replaced are reverted before the error is returned.
	ErrFlushFailed = errors.New("change set flush failed")

	// ErrNilContext indicates a nil context.Context was passed.
	ErrNilContext = errors.New("context must not be nil")
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ApplyError reports a transformation the engine declined to apply.
type ApplyError struct {
	// Reason is a short human-readable explanation.
	Reason string

	// Cause is the underlying error if any.
	Cause error
}

// Error implements the error interface.
func (e *ApplyError) Error() string {
	if e.Cause != nil {
		return e.Reason + ": " + e.Cause.Error()
	}
	return e.Reason
}

// Unwrap returns the underlying error.
func (e *ApplyError) Unwrap() error {
	return e.Cause
}

// declinef builds an *ApplyError with a formatted reason.
func declinef(format string, args ...any) error {
	return &ApplyError{Reason: fmt.Sprintf(format, args...)}
}

// notFoundf wraps ErrNotFound with a formatted detail.
func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
