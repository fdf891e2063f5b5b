// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func put(t *testing.T, db *DB, key, value string) {
	t.Helper()
	require.NoError(t, db.Update(context.Background(), func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	}))
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.ErrorIs(t, err, ErrPathRequired)
}

func TestScan(t *testing.T) {
	db, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer db.Close()

	for i := 0; i < 5; i++ {
		put(t, db, fmt.Sprintf("result/run-a/%03d", i), fmt.Sprintf("v%d", i))
	}
	put(t, db, "result/run-b/000", "other")
	put(t, db, "meta/run-a", "meta")

	var keys []string
	err = db.Scan(context.Background(), []byte("result/run-a/"), func(key, value []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"result/run-a/000", "result/run-a/001", "result/run-a/002", "result/run-a/003", "result/run-a/004",
	}, keys)

	t.Run("stop early", func(t *testing.T) {
		n := 0
		err := db.Scan(context.Background(), []byte("result/"), func(key, value []byte) error {
			n++
			if n == 2 {
				return ErrStopIteration
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := db.Scan(ctx, []byte("result/"), func(key, value []byte) error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestPersistentReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store")

	cfg := DefaultConfig(path)
	cfg.GCInterval = 10 * time.Millisecond
	db, err := Open(cfg)
	require.NoError(t, err)
	put(t, db, "k", "v")
	require.NoError(t, db.Sync())
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	ro := DefaultConfig(path)
	ro.ReadOnly = true
	db, err = Open(ro)
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, path, db.Path())

	var got string
	require.NoError(t, db.View(context.Background(), func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("k"))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			got = string(val)
			return nil
		})
	}))
	assert.Equal(t, "v", got)
}
