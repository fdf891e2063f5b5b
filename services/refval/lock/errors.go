// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lock

import (
	"errors"
	"fmt"
)

var (
	// ErrLocked indicates another process holds the working copy lock.
	ErrLocked = errors.New("working copy is locked")

	// ErrNotHeld indicates Release on a lock that is not held.
	ErrNotHeld = errors.New("lock not held")
)

// LockError describes a working copy held by someone else.
type LockError struct {
	Root   string
	Holder *Info
	Err    error
}

func (e *LockError) Error() string {
	if e.Holder != nil && e.Holder.PID > 0 {
		return fmt.Sprintf("%v: %s (held by pid %d since %s)",
			e.Err, e.Root, e.Holder.PID, e.Holder.LockedAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Root)
}

func (e *LockError) Unwrap() error {
	return e.Err
}
