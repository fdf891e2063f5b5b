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

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, root, rel string, mode os.FileMode) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte{}, mode))
}

func TestRegistry_Detect(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name   string
		marker string
		want   string
	}{
		{"maven", "pom.xml", "maven"},
		{"gradle groovy", "build.gradle", "gradle"},
		{"gradle kotlin", "build.gradle.kts", "gradle"},
		{"go", "go.mod", "go"},
		{"python", "pyproject.toml", "python"},
		{"node", "package.json", "node"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			touch(t, root, tt.marker, 0o644)
			p, err := r.Detect(root)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Name)
		})
	}

	t.Run("maven wins over package.json", func(t *testing.T) {
		root := t.TempDir()
		touch(t, root, "package.json", 0o644)
		touch(t, root, "pom.xml", 0o644)
		p, err := r.Detect(root)
		require.NoError(t, err)
		assert.Equal(t, "maven", p.Name)
	})

	t.Run("nothing", func(t *testing.T) {
		_, err := r.Detect(t.TempDir())
		assert.ErrorIs(t, err, ErrNoToolchain)
	})
}

func TestProfile_Wrapper(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix wrapper scripts")
	}
	r := NewRegistry()
	maven, ok := r.Lookup("maven")
	require.True(t, ok)

	t.Run("program without wrapper", func(t *testing.T) {
		argv := maven.TestArgv(t.TempDir())
		assert.Equal(t, "mvn", argv[0])
		assert.Contains(t, argv, "-Dmaven.test.failure.ignore=true")
	})

	t.Run("executable wrapper", func(t *testing.T) {
		root := t.TempDir()
		touch(t, root, "mvnw", 0o755)
		argv := maven.BuildArgv(root)
		assert.Equal(t, filepath.Join(root, "mvnw"), argv[0])
		assert.Equal(t, "test-compile", argv[len(argv)-1])
	})

	t.Run("wrapper without exec bit", func(t *testing.T) {
		root := t.TempDir()
		touch(t, root, "gradlew", 0o644)
		gradle, _ := r.Lookup("gradle")
		argv := gradle.TestArgv(root)
		assert.Equal(t, []string{"sh", filepath.Join(root, "gradlew")}, argv[:2])
		assert.Contains(t, argv, "--continue")
	})
}

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry()

	t.Run("detected with override", func(t *testing.T) {
		root := t.TempDir()
		touch(t, root, "pom.xml", 0o644)
		c, err := r.Resolve(root, Override{Test: []string{"sh", "-c", "true"}})
		require.NoError(t, err)
		assert.Equal(t, "maven", c.Toolchain)
		assert.Equal(t, "mvn", c.Build[0])
		assert.Equal(t, []string{"sh", "-c", "true"}, c.Test)
		assert.Equal(t, DiagnosticsMaven, c.Diagnostics)
		assert.Contains(t, c.ReportDirs, "target/surefire-reports")
	})

	t.Run("named", func(t *testing.T) {
		c, err := r.Resolve(t.TempDir(), Override{Toolchain: "Go"})
		require.NoError(t, err)
		assert.Equal(t, []string{"go", "build", "./..."}, c.Build)
		assert.Equal(t, TestsGo, c.Tests)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := r.Resolve(t.TempDir(), Override{Toolchain: "bazel"})
		assert.ErrorIs(t, err, ErrUnknownToolchain)
	})

	t.Run("custom fallback when nothing detected", func(t *testing.T) {
		o := Override{Build: ShellArgv("make"), Test: ShellArgv("make test")}
		c, err := r.Resolve(t.TempDir(), o)
		require.NoError(t, err)
		assert.Equal(t, Custom, c.Toolchain)
		assert.Equal(t, DiagnosticsAuto, c.Diagnostics)
		assert.Equal(t, TestsAuto, c.Tests)
	})

	t.Run("custom needs both commands", func(t *testing.T) {
		_, err := r.Resolve(t.TempDir(), Override{Toolchain: "custom", Build: []string{"make"}})
		assert.ErrorIs(t, err, ErrMissingCommand)
	})

	t.Run("nothing detected and no commands", func(t *testing.T) {
		_, err := r.Resolve(t.TempDir(), Override{})
		assert.ErrorIs(t, err, ErrNoToolchain)
	})
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	r.Register(&Profile{Name: "bazel", Markers: []string{"WORKSPACE"}, Program: "bazel"})
	r.Register(nil)

	assert.Contains(t, r.Names(), "bazel")

	root := t.TempDir()
	touch(t, root, "WORKSPACE", 0o644)
	p, err := r.Detect(root)
	require.NoError(t, err)
	assert.Equal(t, "bazel", p.Name)
}
