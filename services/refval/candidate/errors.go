// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package candidate

import "errors"

var (
	// ErrInvalidCandidate indicates a candidate failed structural validation.
	ErrInvalidCandidate = errors.New("invalid candidate")

	// ErrUnknownKind indicates a kind or refactoring label is not supported.
	ErrUnknownKind = errors.New("unknown transformation kind")

	// ErrUnsupportedFormat indicates a candidate file extension is not recognized.
	ErrUnsupportedFormat = errors.New("unsupported candidate file format")

	// ErrIteratorClosed indicates Next was called after Close.
	ErrIteratorClosed = errors.New("candidate iterator closed")
)
