// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package testrun

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/AleutianAI/refval/services/refval/toolchain"
)

// =============================================================================
// CONSOLE PARSERS
// =============================================================================

// ConsoleParser records per-test results found in console output.
//
// Inputs:
//
//	output - Combined stdout/stderr of the test command
//	run - Receives results via its record method
type ConsoleParser func(output string, run *Run)

// parserRegistry maps test formats to console parsers.
// Protected by parserMu for concurrent access.
var (
	parserRegistry = map[toolchain.TestFormat]ConsoleParser{
		toolchain.TestsSurefire: parseSurefireOutput,
		toolchain.TestsGradle:   parseGradleTestOutput,
		toolchain.TestsGo:       parseGoTestOutput,
		toolchain.TestsPytest:   parsePytestOutput,
		toolchain.TestsJest:     parseJestOutput,
	}
	parserMu sync.RWMutex

	autoOrder = []toolchain.TestFormat{
		toolchain.TestsGo,
		toolchain.TestsPytest,
		toolchain.TestsJest,
		toolchain.TestsGradle,
		toolchain.TestsSurefire,
	}
)

// GetParser returns the console parser for a format, or nil.
//
// Thread Safety: Safe for concurrent use.
func GetParser(format toolchain.TestFormat) ConsoleParser {
	parserMu.RLock()
	defer parserMu.RUnlock()
	return parserRegistry[format]
}

// RegisterParser registers a console parser for a format.
//
// Thread Safety: Safe for concurrent use.
func RegisterParser(format toolchain.TestFormat, parser ConsoleParser) {
	parserMu.Lock()
	defer parserMu.Unlock()
	parserRegistry[format] = parser
}

// ParseConsole records console results into run. TestsAuto and unknown
// formats try each parser until one finds tests.
func ParseConsole(format toolchain.TestFormat, output string, run *Run) {
	if parser := GetParser(format); parser != nil {
		parser(output, run)
		return
	}
	for _, f := range autoOrder {
		GetParser(f)(output, run)
		if len(run.Tests) > 0 {
			return
		}
	}
}

func lines(output string) []string {
	return strings.Split(strings.ReplaceAll(output, "\r\n", "\n"), "\n")
}

// =============================================================================
// GO
// =============================================================================

var (
	goResultPattern  = regexp.MustCompile(`^--- (PASS|FAIL|SKIP): (\S+)`)
	goPackagePattern = regexp.MustCompile(`^(ok|FAIL)\s+(\S+)\s`)
	goPanicPattern   = regexp.MustCompile(`^panic:`)
)

// parseGoTestOutput parses `go test -v` output.
//
// Description:
//
//	Test names are qualified with their package once the package result
//	line ("ok pkg" or "FAIL pkg") is seen. A package that panicked marks
//	its still running tests as failed.
func parseGoTestOutput(output string, run *Run) {
	type result struct {
		name   string
		status Status
	}
	var (
		pending  []result
		running  []string
		panicked bool
	)
	flush := func(pkg string) {
		if panicked {
			for _, name := range running {
				pending = append(pending, result{name, StatusFailed})
			}
		}
		for _, r := range pending {
			id := r.name
			if pkg != "" {
				id = pkg + "." + r.name
			}
			run.record(id, r.status)
		}
		pending, running, panicked = nil, nil, false
	}

	for _, line := range lines(output) {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "=== RUN"):
			if f := strings.Fields(line); len(f) >= 3 {
				running = append(running, f[2])
			}
		case goPanicPattern.MatchString(line):
			panicked = true
		default:
			if m := goResultPattern.FindStringSubmatch(line); m != nil {
				status := StatusPassed
				switch m[1] {
				case "FAIL":
					status = StatusFailed
				case "SKIP":
					status = StatusSkipped
				}
				pending = append(pending, result{m[2], status})
				running = remove(running, m[2])
			} else if m := goPackagePattern.FindStringSubmatch(line + " "); m != nil {
				flush(m[2])
			}
		}
	}
	flush("")
}

func remove(names []string, name string) []string {
	for i, n := range names {
		if n == name {
			return append(names[:i], names[i+1:]...)
		}
	}
	return names
}

// =============================================================================
// MAVEN SUREFIRE
// =============================================================================

var (
	// Tests run: 12, Failures: 1, Errors: 0, Skipped: 2
	surefireSummaryPattern = regexp.MustCompile(`Tests run:\s*(\d+),\s*Failures:\s*(\d+),\s*Errors:\s*(\d+),\s*Skipped:\s*(\d+)`)
	// [ERROR] testBar(com.acme.FooTest)  Time elapsed: 0.01 s  <<< FAILURE!
	surefireJUnit4Pattern = regexp.MustCompile(`^\[ERROR\]\s+([\w$]+)\(([\w.$]+)\)\s+Time elapsed:.*<<<\s*(?:FAILURE|ERROR)!`)
	// [ERROR] com.acme.FooTest.testBar  Time elapsed: 0.01 s  <<< FAILURE!
	surefireModernPattern = regexp.MustCompile(`^\[ERROR\]\s+([\w.$]+)\.([\w$\[\]]+(?:\(\))?)\s+Time elapsed:.*<<<\s*(?:FAILURE|ERROR)!`)
)

// parseSurefireOutput records failing tests and the Surefire totals.
// Surefire does not list passing tests on the console, so complete
// results need the XML reports.
func parseSurefireOutput(output string, run *Run) {
	for _, line := range lines(output) {
		line = strings.TrimSpace(line)
		if m := surefireJUnit4Pattern.FindStringSubmatch(line); m != nil {
			run.record(m[2]+"."+m[1], StatusFailed)
			continue
		}
		if strings.Contains(line, "Tests run:") {
			continue
		}
		if m := surefireModernPattern.FindStringSubmatch(line); m != nil {
			run.record(m[1]+"."+strings.TrimSuffix(m[2], "()"), StatusFailed)
		}
	}
}

// parseSurefireCounts sums the module totals. Per-class lines carry
// "Time elapsed" and are skipped.
func parseSurefireCounts(output string) *Counts {
	var (
		c     Counts
		found bool
	)
	for _, line := range lines(output) {
		if strings.Contains(line, "Time elapsed") {
			continue
		}
		m := surefireSummaryPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		found = true
		c.Run += atoi(m[1])
		c.Failures += atoi(m[2])
		c.Errors += atoi(m[3])
		c.Skipped += atoi(m[4])
	}
	if !found {
		return nil
	}
	return &c
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// =============================================================================
// GRADLE
// =============================================================================

// FooTest > testBar() FAILED
var gradleResultPattern = regexp.MustCompile(`^([\w.$]+)\s+>\s+(.+?)\s+(PASSED|FAILED|SKIPPED)$`)

// parseGradleTestOutput parses Gradle's console test events.
func parseGradleTestOutput(output string, run *Run) {
	for _, line := range lines(output) {
		m := gradleResultPattern.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		status := StatusPassed
		switch m[3] {
		case "FAILED":
			status = StatusFailed
		case "SKIPPED":
			status = StatusSkipped
		}
		run.record(m[1]+"."+strings.TrimSuffix(m[2], "()"), status)
	}
}

// =============================================================================
// PYTEST
// =============================================================================

var (
	// tests/test_x.py::test_a PASSED [ 50%]
	pytestVerbosePattern = regexp.MustCompile(`^(\S+::\S+)\s+(PASSED|FAILED|ERROR|SKIPPED|XFAIL|XPASS)\b`)
	// FAILED tests/test_x.py::test_a - AssertionError
	pytestShortPattern = regexp.MustCompile(`^(PASSED|FAILED|ERROR|SKIPPED|XFAIL|XPASS)\s+(\S+::\S+)`)
)

func pytestStatus(word string) Status {
	switch word {
	case "PASSED", "XFAIL":
		return StatusPassed
	case "FAILED", "ERROR", "XPASS":
		return StatusFailed
	default:
		return StatusSkipped
	}
}

// parsePytestOutput parses pytest -v and -rA output.
func parsePytestOutput(output string, run *Run) {
	for _, line := range lines(output) {
		line = strings.TrimSpace(line)
		if m := pytestVerbosePattern.FindStringSubmatch(line); m != nil {
			run.record(m[1], pytestStatus(m[2]))
			continue
		}
		if m := pytestShortPattern.FindStringSubmatch(line); m != nil {
			run.record(m[2], pytestStatus(m[1]))
		}
	}
}

// =============================================================================
// JEST
// =============================================================================

var (
	// PASS src/sum.test.js
	jestFilePattern = regexp.MustCompile(`^(PASS|FAIL)\s+(\S+)`)
	// ✓ adds numbers (3 ms)
	jestCasePattern = regexp.MustCompile(`^(✓|✔|✕|✗|○)\s+(.+?)(?:\s+\(\d+(?:\.\d+)?\s*m?s\))?$`)
)

// parseJestOutput parses jest --verbose output. Test ids are the file
// followed by the test title.
func parseJestOutput(output string, run *Run) {
	file := ""
	for _, line := range lines(output) {
		line = strings.TrimSpace(line)
		if m := jestFilePattern.FindStringSubmatch(line); m != nil {
			file = m[2]
			continue
		}
		m := jestCasePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		status := StatusPassed
		switch m[1] {
		case "✕", "✗":
			status = StatusFailed
		case "○":
			status = StatusSkipped
		}
		id := m[2]
		if file != "" {
			id = file + " > " + m[2]
		}
		run.record(id, status)
	}
}
