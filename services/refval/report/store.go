// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	badgerstore "github.com/AleutianAI/refval/services/refval/storage/badger"
	"github.com/AleutianAI/refval/services/refval/verdict"
)

// Key layout:
//
//	result/<runID>/<seq>  one verdict.Result as JSON, seq zero padded
//	run/<runID>           RunInfo as JSON
const (
	resultPrefix = "result/"
	runPrefix    = "run/"
)

func resultKey(runID string, seq int) []byte {
	return []byte(fmt.Sprintf("%s%s/%08d", resultPrefix, runID, seq))
}

func runKey(runID string) []byte {
	return []byte(runPrefix + runID)
}

// RunInfo summarizes one stored run.
type RunInfo struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	Summary   Summary   `json:"summary"`
}

// BadgerSink persists results into BadgerDB.
type BadgerSink struct {
	db     *badgerstore.DB
	owned  bool
	mu     sync.Mutex
	closed bool
}

// NewBadgerSink writes into db. The caller keeps ownership of db.
func NewBadgerSink(db *badgerstore.DB) *BadgerSink {
	return &BadgerSink{db: db}
}

// OpenBadgerSink opens (or creates) the store at path.
func OpenBadgerSink(path string, logger *slog.Logger) (*BadgerSink, error) {
	cfg := badgerstore.DefaultConfig(path)
	cfg.Logger = logger
	db, err := badgerstore.Open(cfg)
	if err != nil {
		return nil, err
	}
	return &BadgerSink{db: db, owned: true}, nil
}

// Emit stores r under its run id and sequence and updates the run index
// in the same transaction.
func (s *BadgerSink) Emit(ctx context.Context, r verdict.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return s.db.Update(ctx, func(txn *badger.Txn) error {
		if err := txn.Set(resultKey(r.RunID, r.Sequence), data); err != nil {
			return err
		}
		info := RunInfo{RunID: r.RunID, StartedAt: r.StartedAt}
		item, err := txn.Get(runKey(r.RunID))
		switch {
		case err == nil:
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &info) }); err != nil {
				return fmt.Errorf("decode run info: %w", err)
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		if !r.StartedAt.IsZero() && (info.StartedAt.IsZero() || r.StartedAt.Before(info.StartedAt)) {
			info.StartedAt = r.StartedAt
		}
		info.Summary.Add(r)
		encoded, err := json.Marshal(info)
		if err != nil {
			return err
		}
		return txn.Set(runKey(r.RunID), encoded)
	})
}

// Close syncs and closes an owned store.
func (s *BadgerSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.owned {
		return nil
	}
	return errors.Join(s.db.Sync(), s.db.Close())
}

// ListRuns returns the stored runs, oldest first.
func ListRuns(ctx context.Context, db *badgerstore.DB) ([]RunInfo, error) {
	var runs []RunInfo
	err := db.Scan(ctx, []byte(runPrefix), func(key, value []byte) error {
		var info RunInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		runs = append(runs, info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.Before(runs[j].StartedAt)
	})
	return runs, nil
}

// LoadResults returns the results of one run in sequence order.
//
// Outputs:
//
//	[]verdict.Result - The results
//	error - ErrRunNotFound when the run has no results
func LoadResults(ctx context.Context, db *badgerstore.DB, runID string) ([]verdict.Result, error) {
	var results []verdict.Result
	prefix := []byte(resultPrefix + runID + "/")
	err := db.Scan(ctx, prefix, func(key, value []byte) error {
		var r verdict.Result
		if err := json.Unmarshal(value, &r); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		results = append(results, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return results, nil
}
