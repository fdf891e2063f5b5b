// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report delivers validation results to their consumers.
//
// A Sink receives exactly one verdict.Result per candidate, in processing
// order. Sinks here write JSON Lines, persist into BadgerDB, keep results
// in memory, tally verdicts, or fan out to several sinks.
package report

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"

	"github.com/AleutianAI/refval/services/refval/verdict"
)

// Sink consumes validation results.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Sink interface {
	// Emit delivers one result.
	Emit(ctx context.Context, r verdict.Result) error

	// Close flushes and releases resources. Safe to call twice.
	Close() error
}

// =============================================================================
// JSON LINES
// =============================================================================

// JSONLSink writes one JSON object per line.
type JSONLSink struct {
	mu     sync.Mutex
	w      *bufio.Writer
	enc    *json.Encoder
	closer io.Closer
	closed bool
}

// NewJSONLSink writes to w. The caller keeps ownership of w.
func NewJSONLSink(w io.Writer) *JSONLSink {
	bw := bufio.NewWriter(w)
	return &JSONLSink{w: bw, enc: json.NewEncoder(bw)}
}

// OpenJSONLFile appends to the file at path, creating it and its
// directory when missing.
func OpenJSONLFile(path string) (*JSONLSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create report directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open report file: %w", err)
	}
	s := NewJSONLSink(f)
	s.closer = f
	return s, nil
}

// Emit writes r and flushes so a crash loses at most the current line.
func (s *JSONLSink) Emit(_ context.Context, r verdict.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	if err := s.enc.Encode(r); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return s.w.Flush()
}

// Close flushes and closes an owned file.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.w.Flush()
	if s.closer != nil {
		err = errors.Join(err, s.closer.Close())
	}
	return err
}

// =============================================================================
// MEMORY
// =============================================================================

// MemorySink keeps results in memory. Used by tests and the CLI.
type MemorySink struct {
	mu      sync.Mutex
	results []verdict.Result
	closed  bool
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Emit(_ context.Context, r verdict.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	s.results = append(s.results, r)
	return nil
}

func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Results returns a copy of the emitted results in order.
func (s *MemorySink) Results() []verdict.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]verdict.Result(nil), s.results...)
}

// =============================================================================
// SUMMARY
// =============================================================================

// Summary counts results by verdict.
type Summary struct {
	Total     int                     `json:"total"`
	ByVerdict map[verdict.Verdict]int `json:"by_verdict"`
}

// Add counts r.
func (s *Summary) Add(r verdict.Result) {
	if s.ByVerdict == nil {
		s.ByVerdict = make(map[verdict.Verdict]int)
	}
	s.Total++
	s.ByVerdict[r.Verdict]++
}

// Lines renders "verdict: count" for every verdict in a stable order.
func (s Summary) Lines() []string {
	out := make([]string, 0, len(verdict.AllVerdicts())+1)
	for _, v := range verdict.AllVerdicts() {
		out = append(out, fmt.Sprintf("%-13s %d", v+":", s.ByVerdict[v]))
	}
	var unknown []string
	for v, n := range s.ByVerdict {
		if !slices.Contains(verdict.AllVerdicts(), v) {
			unknown = append(unknown, fmt.Sprintf("%-13s %d", v+":", n))
		}
	}
	sort.Strings(unknown)
	return append(out, unknown...)
}

// SummarySink tallies verdicts without keeping results.
type SummarySink struct {
	mu      sync.Mutex
	summary Summary
}

func (s *SummarySink) Emit(_ context.Context, r verdict.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.Add(r)
	return nil
}

func (s *SummarySink) Close() error { return nil }

// Summary returns a copy of the counts.
func (s *SummarySink) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Summary{Total: s.summary.Total, ByVerdict: make(map[verdict.Verdict]int, len(s.summary.ByVerdict))}
	for v, n := range s.summary.ByVerdict {
		out.ByVerdict[v] = n
	}
	return out
}

// =============================================================================
// FAN-OUT
// =============================================================================

// MultiSink emits to every sink in order.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks. Nil entries are skipped.
func NewMultiSink(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Emit delivers r to every sink, even after one fails, and joins the
// errors.
func (m *MultiSink) Emit(ctx context.Context, r verdict.Result) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Emit(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
