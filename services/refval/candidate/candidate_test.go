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
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// KIND TESTS
// =============================================================================

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"rename", KindRename},
		{"Rename Method", KindRename},
		{"extract-method", KindExtractMethod},
		{"EXTRACT_METHOD", KindExtractMethod},
		{"Change Return Type", KindChangeType},
		{"change_annotation", KindChangeAnnotation},
		{"Add Method Annotation", KindChangeAnnotation},
		{" move class ", KindMoveClass},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKind(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseKind("inline method")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestAllKinds_Valid(t *testing.T) {
	seen := make(map[Kind]bool)
	for _, k := range AllKinds() {
		assert.True(t, k.IsValid(), "kind %s", k)
		assert.False(t, seen[k], "duplicate kind %s", k)
		seen[k] = true
	}
	assert.False(t, Kind("inline").IsValid())
}

// =============================================================================
// CANDIDATE VALIDATION TESTS
// =============================================================================

func validCandidate() Candidate {
	return Candidate{
		ID:            "c1",
		Location:      Location{File: "src/main/java/Foo.java", Symbol: "Foo.bar"},
		Kind:          KindRename,
		ProposedValue: "baz",
		Confidence:    0.9,
	}
}

func TestCandidate_Validate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		require.NoError(t, validCandidate().Validate())
	})

	tests := []struct {
		name   string
		mutate func(c *Candidate)
	}{
		{"missing file", func(c *Candidate) { c.Location.File = "" }},
		{"missing symbol", func(c *Candidate) { c.Location.Symbol = "" }},
		{"dots only symbol", func(c *Candidate) { c.Location.Symbol = ".." }},
		{"missing value", func(c *Candidate) { c.ProposedValue = "" }},
		{"confidence above one", func(c *Candidate) { c.Confidence = 1.5 }},
		{"negative confidence", func(c *Candidate) { c.Confidence = -0.1 }},
		{"unknown kind", func(c *Candidate) { c.Kind = "inline" }},
		{"reversed lines", func(c *Candidate) { c.Location.StartLine, c.Location.EndLine = 10, 4 }},
		{"extract without lines", func(c *Candidate) { c.Kind = KindExtractMethod }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validCandidate()
			tt.mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrInvalidCandidate)
		})
	}
}

func TestLocation_SymbolPath(t *testing.T) {
	l := Location{Symbol: " Foo.bar .count"}
	assert.Equal(t, []string{"Foo", "bar", "count"}, l.SymbolPath())
	assert.Equal(t, "Foo.java:Foo.bar", Location{File: "Foo.java", Symbol: "Foo.bar"}.String())
}

// =============================================================================
// SOURCE TESTS
// =============================================================================

func drain(t *testing.T, src Source) ([]Candidate, []error) {
	t.Helper()
	ctx := context.Background()
	it, err := src.Open(ctx)
	require.NoError(t, err)
	defer it.Close()

	var out []Candidate
	var errs []error
	for {
		c, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, errs
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, c)
	}
}

func TestSliceSource_Restartable(t *testing.T) {
	c := validCandidate()
	c.ID = ""
	src := NewSliceSource(c, validCandidate())

	first, errs := drain(t, src)
	require.Empty(t, errs)
	require.Len(t, first, 2)
	assert.Equal(t, "c0001", first[0].ID)
	assert.Equal(t, "c1", first[1].ID)

	second, _ := drain(t, src)
	assert.Equal(t, first, second)
}

func TestSliceSource_ClosedIterator(t *testing.T) {
	it, err := NewSliceSource(validCandidate()).Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, it.Close())
	_, err = it.Next(context.Background())
	assert.ErrorIs(t, err, ErrIteratorClosed)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFileSource_JSONL(t *testing.T) {
	path := writeFile(t, "cands.jsonl", `{"location":{"file":"Foo.java","symbol":"Foo.bar"},"kind":"Rename Method","proposed_value":"baz","confidence":0.8}
{"id":"x","location":{"file":"Foo.java","symbol":"Foo.count"},"kind":"change_type","proposed_value":"Long"}
{"location":{"file":"Foo.java","symbol":"Foo"},"kind":"rename","proposed_value":""}
`)
	got, errs := drain(t, NewFileSource(path))
	require.Len(t, got, 2)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrInvalidCandidate)

	assert.Equal(t, "c0001", got[0].ID)
	assert.Equal(t, KindRename, got[0].Kind)
	assert.Equal(t, "x", got[1].ID)
	assert.Equal(t, KindChangeType, got[1].Kind)
}

func TestFileSource_JSONArray(t *testing.T) {
	path := writeFile(t, "cands.json", `[
  {"location":{"file":"A.java","symbol":"A.run"},"kind":"move_class","proposed_value":"com.acme.util"},
  {"location":{"file":"A.java","symbol":"A.run","start_line":3,"end_line":5},"kind":"extract_method","proposed_value":"helper"}
]`)
	got, errs := drain(t, NewFileSource(path))
	require.Empty(t, errs)
	require.Len(t, got, 2)
	assert.Equal(t, KindExtractMethod, got[1].Kind)
	assert.Equal(t, 5, got[1].Location.EndLine)
}

func TestFileSource_YAMLDocumentsAndSequences(t *testing.T) {
	path := writeFile(t, "cands.yaml", `location: {file: Foo.java, symbol: Foo.bar}
kind: rename
proposed_value: baz
---
- location: {file: Foo.java, symbol: Foo.bar}
  kind: add method annotation
  proposed_value: "@Deprecated"
- location: {file: Foo.java, symbol: Foo.bar}
  kind: change_annotation
  proposed_value: "-@Override"
`)
	got, errs := drain(t, NewFileSource(path))
	require.Empty(t, errs)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"c0001", "c0002", "c0003"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Equal(t, KindChangeAnnotation, got[1].Kind)
	assert.Equal(t, "-@Override", got[2].ProposedValue)
}

func TestFileSource_Errors(t *testing.T) {
	_, err := NewFileSource(writeFile(t, "cands.csv", "")).Open(context.Background())
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = NewFileSource(writeFile(t, "cands.json", `{"kind":"rename"}`)).Open(context.Background())
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = NewFileSource(filepath.Join(t.TempDir(), "missing.jsonl")).Open(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewFileSource("x.jsonl").Open(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
