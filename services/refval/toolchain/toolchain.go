// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package toolchain describes how to build and test a working copy.
//
// A Profile names the build and test commands of one build tool together
// with the output formats the build and testrun packages should parse.
// Profiles are registered by name and detected from marker files at the
// working copy root.
package toolchain

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
)

// =============================================================================
// FORMATS
// =============================================================================

// DiagnosticFormat selects the compiler output parser for builds.
type DiagnosticFormat string

const (
	DiagnosticsMaven  DiagnosticFormat = "maven"
	DiagnosticsGradle DiagnosticFormat = "gradle"
	DiagnosticsJavac  DiagnosticFormat = "javac"
	DiagnosticsGo     DiagnosticFormat = "go"

	// DiagnosticsAuto tries every parser.
	DiagnosticsAuto DiagnosticFormat = "auto"
)

// TestFormat selects the console parser for test output. JUnit XML
// reports are read regardless of format.
type TestFormat string

const (
	TestsSurefire TestFormat = "surefire"
	TestsGradle   TestFormat = "gradle"
	TestsGo       TestFormat = "go"
	TestsPytest   TestFormat = "pytest"
	TestsJest     TestFormat = "jest"

	// TestsAuto tries every console parser.
	TestsAuto TestFormat = "auto"
)

// =============================================================================
// PROFILE
// =============================================================================

// Profile defines build and test execution for one build tool.
type Profile struct {
	// Name is the toolchain identifier (e.g., "maven").
	Name string

	// Markers are root-relative files whose presence selects the profile.
	Markers []string

	// Wrappers are root-relative wrapper scripts preferred over Program
	// when present (e.g., "mvnw").
	Wrappers []string

	// Program is the build tool executable looked up on PATH.
	Program string

	// BuildArgs compile main and test sources without running tests.
	BuildArgs []string

	// TestArgs run the test suite. They should not stop at the first
	// failing test so per-test results are complete.
	TestArgs []string

	// Diagnostics selects the build output parser.
	Diagnostics DiagnosticFormat

	// Tests selects the test console parser.
	Tests TestFormat

	// ReportDirs are root-relative globs of JUnit XML report directories.
	ReportDirs []string
}

// BuildArgv returns the build command for root.
func (p *Profile) BuildArgv(root string) []string {
	return append(p.launcher(root), p.BuildArgs...)
}

// TestArgv returns the test command for root.
func (p *Profile) TestArgv(root string) []string {
	return append(p.launcher(root), p.TestArgs...)
}

// launcher resolves the wrapper script or program.
func (p *Profile) launcher(root string) []string {
	for _, w := range p.Wrappers {
		isCmd := strings.HasSuffix(w, ".cmd") || strings.HasSuffix(w, ".bat")
		if isCmd != (runtime.GOOS == "windows") {
			continue
		}
		path := filepath.Join(root, w)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		if isCmd || info.Mode().Perm()&0o111 != 0 {
			return []string{path}
		}
		// Checked-in wrappers sometimes lose their executable bit.
		return []string{"sh", path}
	}
	return []string{p.Program}
}

// Detected reports whether root contains one of the profile markers.
func (p *Profile) Detected(root string) bool {
	for _, m := range p.Markers {
		if _, err := os.Stat(filepath.Join(root, m)); err == nil {
			return true
		}
	}
	return false
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry holds toolchain profiles in detection order.
//
// Thread Safety: Safe for concurrent reads after initialization.
// Register operations should only be done during setup.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
	order    []string
}

// NewRegistry creates a registry with the default profiles.
//
// Outputs:
//
//	*Registry - Registry with Maven, Gradle, Go, Python and Node profiles
func NewRegistry() *Registry {
	r := &Registry{profiles: make(map[string]*Profile)}
	r.registerDefaults()
	return r
}

func (r *Registry) registerDefaults() {
	// Maven. failure.ignore keeps the reactor going so every module writes
	// its surefire reports.
	r.Register(&Profile{
		Name:        "maven",
		Markers:     []string{"pom.xml"},
		Wrappers:    []string{"mvnw", "mvnw.cmd"},
		Program:     "mvn",
		BuildArgs:   []string{"-B", "-q", "-DskipTests", "test-compile"},
		TestArgs:    []string{"-B", "-Dmaven.test.failure.ignore=true", "test"},
		Diagnostics: DiagnosticsMaven,
		Tests:       TestsSurefire,
		ReportDirs: []string{
			"target/surefire-reports",
			"target/failsafe-reports",
			"*/target/surefire-reports",
			"*/target/failsafe-reports",
		},
	})

	r.Register(&Profile{
		Name:        "gradle",
		Markers:     []string{"build.gradle", "build.gradle.kts", "settings.gradle", "settings.gradle.kts"},
		Wrappers:    []string{"gradlew", "gradlew.bat"},
		Program:     "gradle",
		BuildArgs:   []string{"--console=plain", "-q", "testClasses"},
		TestArgs:    []string{"--console=plain", "test", "--continue"},
		Diagnostics: DiagnosticsGradle,
		Tests:       TestsGradle,
		ReportDirs: []string{
			"build/test-results/*",
			"*/build/test-results/*",
		},
	})

	r.Register(&Profile{
		Name:        "go",
		Markers:     []string{"go.mod"},
		Program:     "go",
		BuildArgs:   []string{"build", "./..."},
		TestArgs:    []string{"test", "-v", "./..."},
		Diagnostics: DiagnosticsGo,
		Tests:       TestsGo,
	})

	r.Register(&Profile{
		Name:        "python",
		Markers:     []string{"pyproject.toml", "setup.py", "pytest.ini"},
		Program:     "python",
		BuildArgs:   []string{"-m", "compileall", "-q", "."},
		TestArgs:    []string{"-m", "pytest", "-v", "-rA"},
		Diagnostics: DiagnosticsAuto,
		Tests:       TestsPytest,
	})

	r.Register(&Profile{
		Name:        "node",
		Markers:     []string{"package.json"},
		Program:     "npm",
		BuildArgs:   []string{"run", "build", "--if-present"},
		TestArgs:    []string{"test", "--", "--ci", "--verbose"},
		Diagnostics: DiagnosticsAuto,
		Tests:       TestsJest,
	})
}

// Register adds or replaces a profile. New profiles are detected after
// the existing ones.
//
// Thread Safety: Safe for concurrent use, but should only be called during setup.
func (r *Registry) Register(p *Profile) {
	if p == nil || p.Name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profiles[p.Name]; !ok {
		r.order = append(r.order, p.Name)
	}
	r.profiles[p.Name] = p
}

// Lookup returns the profile registered under name.
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) Lookup(name string) (*Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[name]
	return p, ok
}

// Names returns the registered profile names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// Detect returns the first profile whose markers exist under root.
//
// Outputs:
//
//	*Profile - The detected profile
//	error - ErrNoToolchain when nothing matched
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) Detect(root string) (*Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		if p := r.profiles[name]; p.Detected(root) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w in %s", ErrNoToolchain, root)
}

// =============================================================================
// RESOLUTION
// =============================================================================

// Override carries user-configured commands. Empty fields fall back to
// the profile.
type Override struct {
	// Toolchain is a profile name, "auto" or empty for detection, or
	// "custom" to require explicit commands.
	Toolchain string

	Build []string
	Test  []string
}

// Commands is the resolved build and test setup for one working copy.
type Commands struct {
	Toolchain   string
	Build       []string
	Test        []string
	Diagnostics DiagnosticFormat
	Tests       TestFormat
	ReportDirs  []string
}

// Custom is the toolchain name for explicitly configured commands.
const Custom = "custom"

// Resolve combines the profile for root with user overrides.
//
// Description:
//
//	Selects the named profile or detects one. When detection fails but
//	both commands are configured, the result is a custom toolchain that
//	tries every output parser.
//
// Outputs:
//
//	Commands - The resolved commands
//	error - ErrUnknownToolchain, ErrNoToolchain or ErrMissingCommand
func (r *Registry) Resolve(root string, o Override) (Commands, error) {
	haveBoth := len(o.Build) > 0 && len(o.Test) > 0

	var p *Profile
	switch name := strings.ToLower(strings.TrimSpace(o.Toolchain)); name {
	case "", "auto":
		detected, err := r.Detect(root)
		if err != nil {
			if !haveBoth {
				return Commands{}, err
			}
			return customCommands(o), nil
		}
		p = detected
	case Custom:
		if !haveBoth {
			return Commands{}, ErrMissingCommand
		}
		return customCommands(o), nil
	default:
		found, ok := r.Lookup(name)
		if !ok {
			return Commands{}, fmt.Errorf("%w: %q (known: %s)", ErrUnknownToolchain, o.Toolchain, strings.Join(r.Names(), ", "))
		}
		p = found
	}

	c := Commands{
		Toolchain:   p.Name,
		Build:       p.BuildArgv(root),
		Test:        p.TestArgv(root),
		Diagnostics: p.Diagnostics,
		Tests:       p.Tests,
		ReportDirs:  append([]string(nil), p.ReportDirs...),
	}
	if len(o.Build) > 0 {
		c.Build = append([]string(nil), o.Build...)
	}
	if len(o.Test) > 0 {
		c.Test = append([]string(nil), o.Test...)
	}
	return c, nil
}

func customCommands(o Override) Commands {
	return Commands{
		Toolchain:   Custom,
		Build:       append([]string(nil), o.Build...),
		Test:        append([]string(nil), o.Test...),
		Diagnostics: DiagnosticsAuto,
		Tests:       TestsAuto,
		ReportDirs: []string{
			"target/surefire-reports",
			"target/failsafe-reports",
			"build/test-results/*",
		},
	}
}

// ShellArgv wraps a command line for the platform shell.
func ShellArgv(line string) []string {
	if runtime.GOOS == "windows" {
		return []string{"cmd", "/C", line}
	}
	return []string{"sh", "-c", line}
}
