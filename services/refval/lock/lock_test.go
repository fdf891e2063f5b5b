// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lock

import (
	"os"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("LockFileEx locks are mandatory; holder info is unreadable while held")
	}
	dir := t.TempDir()
	root := t.TempDir()

	l, err := Acquire(dir, root, "run-1", nil)
	require.NoError(t, err)

	info, err := Holder(dir, root)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, os.Getpid(), info.PID)
	assert.Equal(t, "run-1", info.Owner)
	assert.Equal(t, l.Root(), info.Root)

	t.Run("second acquire fails", func(t *testing.T) {
		_, err := Acquire(dir, root, "run-2", nil)
		require.ErrorIs(t, err, ErrLocked)
		var lockErr *LockError
		require.ErrorAs(t, err, &lockErr)
		require.NotNil(t, lockErr.Holder)
		assert.Equal(t, "run-1", lockErr.Holder.Owner)
		assert.Contains(t, err.Error(), "held by pid")
	})

	t.Run("other roots are independent", func(t *testing.T) {
		other, err := Acquire(dir, t.TempDir(), "run-3", nil)
		require.NoError(t, err)
		require.NoError(t, other.Release())
	})

	require.NoError(t, l.Release())
	assert.ErrorIs(t, l.Release(), ErrNotHeld)

	info, err = Holder(dir, root)
	require.NoError(t, err)
	assert.Nil(t, info)

	again, err := Acquire(dir, root, "run-4", nil)
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestLockPath_OutsideRoot(t *testing.T) {
	dir := t.TempDir()
	root := t.TempDir()
	l, err := Acquire(dir, root, "", nil)
	require.NoError(t, err)
	defer l.Release()

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
