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
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrSnapshotIO indicates a tracked path could not be read at Begin.
	ErrSnapshotIO = errors.New("snapshot read failed")

	// ErrRestoreFailed indicates the working copy could not be returned to
	// its captured state. The working copy must be treated as untrustworthy.
	ErrRestoreFailed = errors.New("snapshot restore failed")

	// ErrPathOutsideRoot indicates a path escapes the working copy root.
	ErrPathOutsideRoot = errors.New("path outside working copy root")

	// ErrNilSnapshot indicates a nil snapshot was passed.
	ErrNilSnapshot = errors.New("snapshot must not be nil")
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// PanicError carries a panic recovered while a snapshot was held.
type PanicError struct {
	// Stage names the pipeline stage that panicked.
	Stage string

	// Value is the value passed to panic.
	Value any

	// Stack is the goroutine stack at the point of recovery.
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic during %s: %v", e.Stage, e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
