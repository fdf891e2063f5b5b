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
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTree(t *testing.T, files map[string]string) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	m, err := NewManager(root, nil)
	require.NoError(t, err)
	return m, root
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

// =============================================================================
// BEGIN / RESTORE TESTS
// =============================================================================

func TestRestore_RewritesAndDeletes(t *testing.T) {
	m, root := newTree(t, map[string]string{
		"src/Foo.java": "class Foo {}",
		"src/Bar.java": "class Bar {}",
	})

	s, err := m.Begin([]string{"src/Foo.java", "src/Bar.java", "src/new/pkg/Moved.java"})
	require.NoError(t, err)
	assert.Equal(t, []string{"src/Bar.java", "src/Foo.java", "src/new/pkg/Moved.java"}, s.Paths())
	assert.True(t, s.Existed("src/Foo.java"))
	assert.False(t, s.Existed("src/new/pkg/Moved.java"))

	require.NoError(t, os.WriteFile(filepath.Join(root, "src/Foo.java"), []byte("mutated"), 0o644))
	require.NoError(t, os.Remove(filepath.Join(root, "src/Bar.java")))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src/new/pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src/new/pkg/Moved.java"), []byte("x"), 0o644))

	diffs, err := s.Verify()
	require.NoError(t, err)
	assert.Len(t, diffs, 3)

	require.NoError(t, m.Restore(s))

	assert.Equal(t, "class Foo {}", readFile(t, root, "src/Foo.java"))
	assert.Equal(t, "class Bar {}", readFile(t, root, "src/Bar.java"))
	_, err = os.Stat(filepath.Join(root, "src/new"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "created directories should be removed")

	diffs, err = s.Verify()
	require.NoError(t, err)
	assert.Empty(t, diffs)
}

func TestRestore_Idempotent(t *testing.T) {
	m, root := newTree(t, map[string]string{"A.java": "original"})
	s, err := m.Begin([]string{"A.java"})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "A.java"), []byte("changed"), 0o644))
	require.NoError(t, m.Restore(s))
	first := readFile(t, root, "A.java")
	require.NoError(t, m.Restore(s))
	second := readFile(t, root, "A.java")

	assert.Equal(t, "original", first)
	assert.Equal(t, first, second)
	assert.Equal(t, 2, s.Restores())
}

func TestRestore_PreservesMode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes are not preserved on windows")
	}
	m, root := newTree(t, map[string]string{"gradlew": "#!/bin/sh"})
	path := filepath.Join(root, "gradlew")
	require.NoError(t, os.Chmod(path, 0o755))

	s, err := m.Begin([]string{"gradlew"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("echo"), 0o644))
	require.NoError(t, os.Chmod(path, 0o644))
	require.NoError(t, m.Restore(s))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestBegin_RejectsPathsOutsideRoot(t *testing.T) {
	m, root := newTree(t, nil)
	for _, p := range []string{"../escape.java", "a/../../b.java", filepath.Dir(root), ""} {
		_, err := m.Begin([]string{p})
		assert.ErrorIs(t, err, ErrPathOutsideRoot, "path %q", p)
	}

	abs := filepath.Join(root, "Inside.java")
	s, err := m.Begin([]string{abs, "Inside.java"})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestBegin_DirectoryIsSnapshotIOError(t *testing.T) {
	m, _ := newTree(t, map[string]string{"pkg/A.java": "a"})
	_, err := m.Begin([]string{"pkg"})
	assert.ErrorIs(t, err, ErrSnapshotIO)
}

func TestRestore_NilSnapshot(t *testing.T) {
	m, _ := newTree(t, nil)
	assert.ErrorIs(t, m.Restore(nil), ErrNilSnapshot)
}

func TestRestore_FailureIsReported(t *testing.T) {
	if runtime.GOOS == "windows" || os.Getuid() == 0 {
		t.Skip("requires unprivileged unix permissions")
	}
	m, root := newTree(t, map[string]string{"ro/A.java": "a"})
	s, err := m.Begin([]string{"ro/A.java"})
	require.NoError(t, err)

	dir := filepath.Join(root, "ro")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "A.java"), []byte("b"), 0o644))
	require.NoError(t, os.Chmod(dir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	err = m.Restore(s)
	assert.ErrorIs(t, err, ErrRestoreFailed)
}

// =============================================================================
// GUARD TESTS
// =============================================================================

func TestGuard_RestoresOnError(t *testing.T) {
	m, root := newTree(t, map[string]string{"A.java": "a"})
	s, err := m.Begin([]string{"A.java"})
	require.NoError(t, err)

	sentinel := errors.New("build exploded")
	err = m.Guard(s, func() error {
		require.NoError(t, os.WriteFile(filepath.Join(root, "A.java"), []byte("b"), 0o644))
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, "a", readFile(t, root, "A.java"))
}

func TestGuard_RecoversPanic(t *testing.T) {
	m, root := newTree(t, map[string]string{"A.java": "a"})
	s, err := m.Begin([]string{"A.java", "B.java"})
	require.NoError(t, err)

	err = m.Guard(s, func() error {
		require.NoError(t, os.WriteFile(filepath.Join(root, "A.java"), []byte("b"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(root, "B.java"), []byte("b"), 0o644))
		panic("boom")
	})

	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "boom", pe.Value)
	assert.NotEmpty(t, pe.Stack)
	assert.Equal(t, "a", readFile(t, root, "A.java"))
	_, statErr := os.Stat(filepath.Join(root, "B.java"))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestCapturePanic_KeepsInnerStage(t *testing.T) {
	err := CapturePanic("outer", func() error {
		inner := CapturePanic("building", func() error { panic("x") })
		panic(inner)
	})
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "building", pe.Stage)

	assert.NoError(t, CapturePanic("noop", func() error { return nil }))
}
