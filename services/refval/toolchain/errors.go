// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package toolchain

import "errors"

var (
	// ErrNoToolchain indicates no known build marker was found and no
	// commands were configured.
	ErrNoToolchain = errors.New("no toolchain detected")

	// ErrUnknownToolchain indicates a toolchain name with no profile.
	ErrUnknownToolchain = errors.New("unknown toolchain")

	// ErrMissingCommand indicates a custom toolchain without a build or
	// test command.
	ErrMissingCommand = errors.New("build and test commands are required")
)
