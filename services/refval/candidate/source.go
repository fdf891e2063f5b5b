// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package candidate

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// SOURCE CONTRACT
// =============================================================================

// Source supplies an ordered, finite sequence of candidates.
//
// Open may be called more than once; each call restarts the sequence from
// the beginning so a batch can be re-run.
type Source interface {
	Open(ctx context.Context) (Iterator, error)
}

// Iterator yields candidates lazily.
//
// Next returns io.EOF once the sequence is exhausted. Candidates are
// validated before they are returned; a malformed record is reported as an
// error wrapping ErrInvalidCandidate and iteration may continue.
type Iterator interface {
	Next(ctx context.Context) (Candidate, error)
	Close() error
}

// assignID fills an empty ID from the position in the sequence.
func assignID(c Candidate, seq int) Candidate {
	if c.ID == "" {
		c.ID = fmt.Sprintf("c%04d", seq)
	}
	return c
}

// =============================================================================
// SLICE SOURCE
// =============================================================================

// SliceSource serves candidates from memory.
type SliceSource struct {
	candidates []Candidate
}

// NewSliceSource copies the given candidates into a restartable source.
func NewSliceSource(candidates ...Candidate) *SliceSource {
	cp := make([]Candidate, len(candidates))
	copy(cp, candidates)
	return &SliceSource{candidates: cp}
}

// Open implements Source.
func (s *SliceSource) Open(ctx context.Context) (Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &sliceIterator{items: s.candidates}, nil
}

// Len returns the number of candidates.
func (s *SliceSource) Len() int {
	return len(s.candidates)
}

type sliceIterator struct {
	items  []Candidate
	pos    int
	closed bool
}

func (it *sliceIterator) Next(ctx context.Context) (Candidate, error) {
	if it.closed {
		return Candidate{}, ErrIteratorClosed
	}
	if err := ctx.Err(); err != nil {
		return Candidate{}, err
	}
	if it.pos >= len(it.items) {
		return Candidate{}, io.EOF
	}
	c := assignID(it.items[it.pos], it.pos+1)
	it.pos++
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("candidate %s: %w", c.ID, err)
	}
	return c, nil
}

func (it *sliceIterator) Close() error {
	it.closed = true
	return nil
}

// =============================================================================
// FILE SOURCE
// =============================================================================

// FileSource streams candidates from a file on disk.
//
// Supported formats, selected by extension:
//
//	.jsonl, .ndjson   one JSON object per line
//	.json             a JSON array of objects, decoded element by element
//	.yaml, .yml       one candidate per YAML document, or a sequence
type FileSource struct {
	path string
}

// NewFileSource creates a source reading path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Path returns the backing file path.
func (s *FileSource) Path() string {
	return s.path
}

// Open implements Source. Each call reopens the file.
func (s *FileSource) Open(ctx context.Context) (Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(s.path))
	switch ext {
	case ".jsonl", ".ndjson", ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open candidates: %w", err)
	}

	switch ext {
	case ".yaml", ".yml":
		return &yamlIterator{file: f, dec: yaml.NewDecoder(bufio.NewReader(f))}, nil
	case ".json":
		it := &jsonIterator{file: f, dec: json.NewDecoder(bufio.NewReader(f))}
		if err := it.enterArray(); err != nil {
			f.Close()
			return nil, err
		}
		return it, nil
	default:
		return &jsonIterator{file: f, dec: json.NewDecoder(bufio.NewReader(f))}, nil
	}
}

// jsonIterator decodes JSON Lines, or the elements of a top-level array
// when inArray is set.
type jsonIterator struct {
	file    *os.File
	dec     *json.Decoder
	inArray bool
	seq     int
	closed  bool
}

func (it *jsonIterator) enterArray() error {
	tok, err := it.dec.Token()
	if err != nil {
		return fmt.Errorf("read candidates array: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return fmt.Errorf("%w: expected a JSON array of candidates", ErrUnsupportedFormat)
	}
	it.inArray = true
	return nil
}

func (it *jsonIterator) Next(ctx context.Context) (Candidate, error) {
	if it.closed {
		return Candidate{}, ErrIteratorClosed
	}
	if err := ctx.Err(); err != nil {
		return Candidate{}, err
	}
	if it.inArray && !it.dec.More() {
		return Candidate{}, io.EOF
	}

	var c Candidate
	if err := it.dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return Candidate{}, io.EOF
		}
		it.seq++
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			// The decoder cannot resynchronize after a syntax error.
			return Candidate{}, fmt.Errorf("candidate %d: %w", it.seq, err)
		}
		return Candidate{}, fmt.Errorf("candidate %d: %w: %v", it.seq, ErrInvalidCandidate, err)
	}
	it.seq++
	c = assignID(c, it.seq)
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("candidate %s: %w", c.ID, err)
	}
	return c, nil
}

func (it *jsonIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	return it.file.Close()
}

// yamlIterator decodes one candidate per document; a document holding a
// sequence is expanded element by element.
type yamlIterator struct {
	file    *os.File
	dec     *yaml.Decoder
	pending []*yaml.Node
	seq     int
	closed  bool
}

func (it *yamlIterator) Next(ctx context.Context) (Candidate, error) {
	if it.closed {
		return Candidate{}, ErrIteratorClosed
	}
	if err := ctx.Err(); err != nil {
		return Candidate{}, err
	}

	for len(it.pending) == 0 {
		var doc yaml.Node
		if err := it.dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				return Candidate{}, io.EOF
			}
			return Candidate{}, fmt.Errorf("decode candidates: %w", err)
		}
		if len(doc.Content) == 0 {
			continue
		}
		root := doc.Content[0]
		if root.Kind == yaml.SequenceNode {
			it.pending = append(it.pending, root.Content...)
		} else {
			it.pending = append(it.pending, root)
		}
	}

	node := it.pending[0]
	it.pending = it.pending[1:]
	it.seq++

	var c Candidate
	if err := node.Decode(&c); err != nil {
		return Candidate{}, fmt.Errorf("candidate %d (line %d): %w: %v", it.seq, node.Line, ErrInvalidCandidate, err)
	}
	c = assignID(c, it.seq)
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("candidate %s: %w", c.ID, err)
	}
	return c, nil
}

func (it *yamlIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	return it.file.Close()
}
