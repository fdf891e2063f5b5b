// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package build

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/AleutianAI/refval/services/refval/toolchain"
	"github.com/AleutianAI/refval/services/refval/verdict"
)

// =============================================================================
// DIAGNOSTIC PARSERS
// =============================================================================

// DiagnosticParser extracts compiler diagnostics from build output.
//
// Inputs:
//
//	output - Combined stdout/stderr of the build
//
// Outputs:
//
//	[]verdict.Diagnostic - Errors found, empty when nothing was recognized
type DiagnosticParser func(output string) []verdict.Diagnostic

// parserRegistry maps diagnostic formats to parsers.
// Protected by parserMu for concurrent access.
var (
	parserRegistry = map[toolchain.DiagnosticFormat]DiagnosticParser{
		toolchain.DiagnosticsMaven:  parseMavenOutput,
		toolchain.DiagnosticsGradle: parseGradleOutput,
		toolchain.DiagnosticsJavac:  parseJavacOutput,
		toolchain.DiagnosticsGo:     parseGoBuildOutput,
	}
	parserMu sync.RWMutex

	// autoOrder is the order parsers are tried for DiagnosticsAuto.
	autoOrder = []toolchain.DiagnosticFormat{
		toolchain.DiagnosticsMaven,
		toolchain.DiagnosticsGradle,
		toolchain.DiagnosticsGo,
	}
)

// GetParser returns the parser for a format, or nil.
//
// Thread Safety: Safe for concurrent use.
func GetParser(format toolchain.DiagnosticFormat) DiagnosticParser {
	parserMu.RLock()
	defer parserMu.RUnlock()
	return parserRegistry[format]
}

// RegisterParser registers a parser for a format.
//
// Thread Safety: Safe for concurrent use.
func RegisterParser(format toolchain.DiagnosticFormat, parser DiagnosticParser) {
	parserMu.Lock()
	defer parserMu.Unlock()
	parserRegistry[format] = parser
}

// ParseDiagnostics parses build output in the given format.
//
// Description:
//
//	DiagnosticsAuto (or an unregistered format) tries every parser and
//	keeps the first non-empty result. Output no parser recognizes is kept
//	as a single opaque diagnostic holding its last lines.
func ParseDiagnostics(format toolchain.DiagnosticFormat, output string) []verdict.Diagnostic {
	if parser := GetParser(format); parser != nil {
		if diags := parser(output); len(diags) > 0 {
			return diags
		}
	} else {
		for _, f := range autoOrder {
			if diags := GetParser(f)(output); len(diags) > 0 {
				return diags
			}
		}
	}
	if tail := outputTail(output, opaqueTailLines); tail != "" {
		return []verdict.Diagnostic{{Severity: "error", Message: tail}}
	}
	return nil
}

const opaqueTailLines = 30

// outputTail returns the last n non-empty lines of output.
func outputTail(output string, n int) string {
	lines := strings.Split(strings.TrimRight(output, "\r\n\t "), "\n")
	kept := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		if line := strings.TrimRight(lines[i], "\r "); line != "" {
			kept = append(kept, line)
		}
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return strings.Join(kept, "\n")
}

// diagnosticSet dedups diagnostics in first-seen order. Maven prints
// compiler errors twice: inline and again in the failure summary.
// Continuation lines extend the pending diagnostic before it is compared.
type diagnosticSet struct {
	seen    map[verdict.Diagnostic]bool
	items   []verdict.Diagnostic
	pending *verdict.Diagnostic
}

func (s *diagnosticSet) start(d verdict.Diagnostic) {
	s.flush()
	s.pending = &d
}

func (s *diagnosticSet) extend(text string) {
	if s.pending != nil {
		s.pending.Message += "; " + text
	}
}

func (s *diagnosticSet) flush() {
	if s.pending == nil {
		return
	}
	d := *s.pending
	s.pending = nil
	if s.seen == nil {
		s.seen = make(map[verdict.Diagnostic]bool)
	}
	if s.seen[d] {
		return
	}
	s.seen[d] = true
	s.items = append(s.items, d)
}

func (s *diagnosticSet) result() []verdict.Diagnostic {
	s.flush()
	return s.items
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// =============================================================================
// MAVEN
// =============================================================================

var (
	// [ERROR] /src/main/java/Foo.java:[12,5] cannot find symbol
	mavenErrorPattern = regexp.MustCompile(`^\[ERROR\]\s+(.+?\.(?:java|kt|groovy|scala)):\[(\d+),(\d+)\]\s*(.*)$`)
	// [ERROR]   symbol:   variable x
	mavenDetailPattern = regexp.MustCompile(`^\[ERROR\]\s{2,}((?:symbol|location|required|found|reason):\s*.*)$`)
)

// parseMavenOutput parses maven-compiler-plugin errors.
func parseMavenOutput(output string) []verdict.Diagnostic {
	var set diagnosticSet
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if m := mavenErrorPattern.FindStringSubmatch(line); m != nil {
			set.start(verdict.Diagnostic{
				File:     m[1],
				Line:     atoi(m[2]),
				Column:   atoi(m[3]),
				Severity: "error",
				Message:  strings.TrimSpace(m[4]),
			})
			continue
		}
		if m := mavenDetailPattern.FindStringSubmatch(line); m != nil {
			set.extend(strings.Join(strings.Fields(m[1]), " "))
		}
	}
	// Plain javac lines show up when the compiler is forked.
	if diags := set.result(); len(diags) > 0 {
		return diags
	}
	return parseJavacOutput(output)
}

// =============================================================================
// JAVAC
// =============================================================================

var (
	// src/Foo.java:12: error: cannot find symbol
	javacErrorPattern = regexp.MustCompile(`^(.+?\.java):(\d+):\s*error:\s*(.*)$`)
	// symbol:   variable x
	javacDetailPattern = regexp.MustCompile(`^\s+((?:symbol|location|required|found|reason):\s*.*)$`)
)

// parseJavacOutput parses javac's own error format.
func parseJavacOutput(output string) []verdict.Diagnostic {
	var set diagnosticSet
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if m := javacErrorPattern.FindStringSubmatch(line); m != nil {
			set.start(verdict.Diagnostic{
				File:     m[1],
				Line:     atoi(m[2]),
				Severity: "error",
				Message:  strings.TrimSpace(m[3]),
			})
			continue
		}
		if m := javacDetailPattern.FindStringSubmatch(line); m != nil {
			set.extend(strings.Join(strings.Fields(m[1]), " "))
		}
	}
	return set.result()
}

// =============================================================================
// GRADLE
// =============================================================================

var (
	// e: file:///src/Foo.kt:12:5 Unresolved reference: x
	kotlinErrorPattern = regexp.MustCompile(`^e:\s+(?:file://)?(.+?\.kts?):(\d+):(\d+)\s+(.*)$`)
	// e: /src/Foo.kt: (12, 5): Unresolved reference: x
	kotlinLegacyPattern = regexp.MustCompile(`^e:\s+(.+?\.kts?):\s*\((\d+),\s*(\d+)\):\s*(.*)$`)
)

// parseGradleOutput parses javac errors plus Kotlin compiler errors.
func parseGradleOutput(output string) []verdict.Diagnostic {
	diags := parseJavacOutput(output)
	var set diagnosticSet
	for _, d := range diags {
		set.start(d)
	}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		m := kotlinErrorPattern.FindStringSubmatch(line)
		if m == nil {
			m = kotlinLegacyPattern.FindStringSubmatch(line)
		}
		if m == nil {
			continue
		}
		set.start(verdict.Diagnostic{
			File:     m[1],
			Line:     atoi(m[2]),
			Column:   atoi(m[3]),
			Severity: "error",
			Message:  strings.TrimSpace(m[4]),
		})
	}
	return set.result()
}

// =============================================================================
// GO
// =============================================================================

// ./pkg/file.go:12:5: undefined: x
var goErrorPattern = regexp.MustCompile(`^(.+?\.go):(\d+)(?::(\d+))?:\s*(.*)$`)

// parseGoBuildOutput parses go build errors.
func parseGoBuildOutput(output string) []verdict.Diagnostic {
	var set diagnosticSet
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		m := goErrorPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		set.start(verdict.Diagnostic{
			File:     m[1],
			Line:     atoi(m[2]),
			Column:   atoi(m[3]),
			Severity: "error",
			Message:  strings.TrimSpace(m[4]),
		})
	}
	return set.result()
}

// relativize rewrites absolute diagnostic paths under root as
// root-relative slash paths.
func relativize(root string, diags []verdict.Diagnostic) {
	if root == "" {
		return
	}
	for i := range diags {
		if diags[i].File == "" || !filepath.IsAbs(diags[i].File) {
			continue
		}
		rel, err := filepath.Rel(root, diags[i].File)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		diags[i].File = filepath.ToSlash(rel)
	}
}
