// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transform

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// EDIT TESTS
// =============================================================================

func TestApplyEdits(t *testing.T) {
	src := []byte("int count = 0;")

	t.Run("applies in offset order", func(t *testing.T) {
		out, err := applyEdits(src, []Edit{
			{Start: 4, End: 9, Text: "total"},
			{Start: 0, End: 3, Text: "long"},
		})
		require.NoError(t, err)
		assert.Equal(t, "long total = 0;", string(out))
	})

	t.Run("insertion before replacement at same offset", func(t *testing.T) {
		out, err := applyEdits(src, []Edit{
			{Start: 0, End: 3, Text: "long"},
			{Start: 0, End: 0, Text: "final "},
		})
		require.NoError(t, err)
		assert.Equal(t, "final long count = 0;", string(out))
	})

	t.Run("identical edits collapse", func(t *testing.T) {
		e := Edit{Start: 4, End: 9, Text: "total"}
		out, err := applyEdits(src, []Edit{e, e})
		require.NoError(t, err)
		assert.Equal(t, "int total = 0;", string(out))
	})

	t.Run("overlap is rejected", func(t *testing.T) {
		_, err := applyEdits(src, []Edit{
			{Start: 0, End: 5, Text: "x"},
			{Start: 4, End: 9, Text: "y"},
		})
		assert.ErrorIs(t, err, ErrOverlappingEdits)
	})

	t.Run("out of range is rejected", func(t *testing.T) {
		_, err := applyEdits(src, []Edit{{Start: 10, End: 99, Text: "x"}})
		assert.ErrorIs(t, err, ErrOverlappingEdits)
	})
}

// =============================================================================
// CHANGE SET TESTS
// =============================================================================

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func readTree(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func TestChangeSet_BuildDropsNoOps(t *testing.T) {
	cs := newChangeSet()
	cs.edit("a.txt", []byte("same"), Edit{Start: 0, End: 4, Text: "same"})
	require.NoError(t, cs.build())
	assert.True(t, cs.Empty())
}

func TestChangeSet_FlushAndDiff(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.txt":       "one\ntwo\nthree\n",
		"src/B.java":  "class B {}\n",
		"keep/c.java": "class C {}\n",
	})

	cs := newChangeSet()
	cs.edit("a.txt", []byte("one\ntwo\nthree\n"), Edit{Start: 4, End: 7, Text: "TWO"})
	cs.move("src/B.java", []byte("class B {}\n"), "src/moved/B.java")
	cs.reference(Reference{Path: "a.txt", Start: 4, End: 7, Line: 2, Column: 1})
	require.NoError(t, cs.build())

	assert.Equal(t, []string{"a.txt", "src/B.java", "src/moved/B.java"}, cs.Paths())
	ch, ok := cs.Change("src/moved/B.java")
	require.True(t, ok)
	assert.Equal(t, OpCreate, ch.Op)
	ch, ok = cs.Change("src/B.java")
	require.True(t, ok)
	assert.Equal(t, OpDelete, ch.Op)

	diff := cs.Diff()
	assert.Contains(t, diff, "--- a/a.txt")
	assert.Contains(t, diff, "+++ b/a.txt")
	assert.Contains(t, diff, "-two")
	assert.Contains(t, diff, "+TWO")
	assert.Contains(t, diff, "--- /dev/null")
	assert.Contains(t, diff, "+++ /dev/null")

	stats := cs.Stats()
	assert.Equal(t, 3, stats.Files)
	assert.Equal(t, 2, stats.Added)
	assert.Equal(t, 2, stats.Removed)

	require.NoError(t, cs.Flush(root))
	assert.Equal(t, "one\nTWO\nthree\n", readTree(t, root, "a.txt"))
	assert.Equal(t, "class B {}\n", readTree(t, root, "src/moved/B.java"))
	_, err := os.Stat(filepath.Join(root, "src/B.java"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Equal(t, "class C {}\n", readTree(t, root, "keep/c.java"))
	assert.Len(t, cs.References(), 1)
}

func TestChangeSet_FlushFailureLeavesTree(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("requires POSIX permissions as a non-root user")
	}
	root := writeTree(t, map[string]string{
		"a.txt":        "alpha\n",
		"locked/b.txt": "beta\n",
	})
	locked := filepath.Join(root, "locked")
	require.NoError(t, os.Chmod(locked, 0o555))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	cs := newChangeSet()
	cs.edit("a.txt", []byte("alpha\n"), Edit{Start: 0, End: 5, Text: "ALPHA"})
	cs.edit("locked/b.txt", []byte("beta\n"), Edit{Start: 0, End: 4, Text: "BETA"})
	require.NoError(t, cs.build())

	err := cs.Flush(root)
	require.ErrorIs(t, err, ErrFlushFailed)
	assert.Equal(t, "alpha\n", readTree(t, root, "a.txt"))
	assert.Equal(t, "beta\n", readTree(t, root, "locked/b.txt"))
	_, statErr := os.Stat(filepath.Join(root, "a.txt.refval.tmp"))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestChangeSet_FlushFailureRestoresRemovedMode(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("requires POSIX permissions as a non-root user")
	}
	root := writeTree(t, map[string]string{
		"a/run.sh":     "#!/bin/sh\n",
		"locked/b.txt": "beta\n",
	})
	script := filepath.Join(root, "a", "run.sh")
	require.NoError(t, os.Chmod(script, 0o755))
	locked := filepath.Join(root, "locked")
	require.NoError(t, os.Chmod(locked, 0o555))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	cs := newChangeSet()
	cs.move("a/run.sh", []byte("#!/bin/sh\n"), "moved/run.sh")
	cs.move("locked/b.txt", []byte("beta\n"), "moved/b.txt")
	require.NoError(t, cs.build())

	err := cs.Flush(root)
	require.ErrorIs(t, err, ErrFlushFailed)

	info, statErr := os.Stat(script)
	require.NoError(t, statErr)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	assert.Equal(t, "#!/bin/sh\n", readTree(t, root, "a/run.sh"))
	assert.Equal(t, "beta\n", readTree(t, root, "locked/b.txt"))
	_, statErr = os.Stat(filepath.Join(root, "moved"))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestChangeSet_DiffCountsOnlyRealLines(t *testing.T) {
	cs := newChangeSet()
	cs.move("Old.java", []byte("class A {\n}\n"), "New.java")
	cs.edit("tail.txt", []byte("one\ntwo"), Edit{Start: 4, End: 7, Text: "TWO"})
	require.NoError(t, cs.build())

	diff := cs.Diff()
	assert.NotContains(t, diff, "\n+\n")
	assert.NotContains(t, diff, "\n-\n")
	assert.Contains(t, diff, "@@ -0,0 +1,2 @@")
	assert.Contains(t, diff, "@@ -1,2 +0,0 @@")
	assert.Contains(t, diff, "-two\n+TWO\n")

	stats := cs.Stats()
	assert.Equal(t, 3, stats.Files)
	assert.Equal(t, 3, stats.Added)
	assert.Equal(t, 3, stats.Removed)
}

// =============================================================================
// WORKSPACE TESTS
// =============================================================================

func TestDirWorkspace_Listing(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/main/java/com/acme/Foo.java":                   "class Foo {}",
		"src/main/resources/app.properties":                 "x=1",
		"src/main/resources/META-INF/services/com.acme.Spi": "com.acme.Foo",
		"target/classes/Gen.java":                           "class Gen {}",
		".git/HEAD.java":                                    "x",
		"README.md":                                         "# readme",
	})
	ws := NewDirWorkspace(root)

	javaFiles, err := ws.JavaFiles(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"src/main/java/com/acme/Foo.java"}, javaFiles)

	resources, err := ws.ResourceFiles(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"src/main/resources/META-INF/services/com.acme.Spi",
		"src/main/resources/app.properties",
	}, resources)

	assert.True(t, ws.Exists("README.md"))
	assert.False(t, ws.Exists("missing.txt"))
}
