// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import "errors"

var (
	// ErrNilContext indicates a nil context.Context was passed.
	ErrNilContext = errors.New("context must not be nil")

	// ErrEmptyCommand indicates a command with no program.
	ErrEmptyCommand = errors.New("empty command")

	// ErrStartFailed indicates the program could not be started.
	ErrStartFailed = errors.New("command failed to start")

	// ErrTimeout indicates the command exceeded its timeout and its
	// process group was killed.
	ErrTimeout = errors.New("command timed out")
)
