// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package javaast indexes Java source files for reference-consistent edits.
//
// A File is a flat, tree-free view of one compilation unit produced from a
// tree-sitter-java parse: declarations with byte spans, every identifier
// occurrence classified by syntactic role, import and package data, jump
// statements with their targets, and statement blocks. The tree is closed
// before Parse returns, so Files are plain values that are safe to cache and
// share across goroutines.
package javaast
