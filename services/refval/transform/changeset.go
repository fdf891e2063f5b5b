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
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sourcegraph/go-diff/diff"

	"github.com/AleutianAI/refval/services/refval/verdict"
)

// =============================================================================
// EDITS & REFERENCES
// =============================================================================

// Edit replaces the byte range [Start, End) of a file with Text.
type Edit struct {
	Start int
	End   int
	Text  string
}

// Reference is one resolved occurrence rewritten by a transformation.
type Reference struct {
	Path    string `json:"path"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Context string `json:"context"`
}

// String formats the reference as path:line:column.
func (r Reference) String() string {
	return fmt.Sprintf("%s:%d:%d", r.Path, r.Line, r.Column)
}

// applyEdits returns src with edits applied.
//
// Identical duplicate edits collapse into one; any other intersection is
// ErrOverlappingEdits. Pure insertions at the same offset keep their
// submission order.
func applyEdits(src []byte, edits []Edit) ([]byte, error) {
	sorted := make([]Edit, len(edits))
	copy(sorted, edits)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})

	var out bytes.Buffer
	out.Grow(len(src))
	pos := 0
	var prev *Edit
	for i := range sorted {
		e := sorted[i]
		if e.Start < 0 || e.End > len(src) || e.Start > e.End {
			return nil, fmt.Errorf("%w: edit [%d,%d) outside file of %d bytes", ErrOverlappingEdits, e.Start, e.End, len(src))
		}
		if prev != nil && *prev == e && e.Start != e.End {
			continue
		}
		if e.Start < pos {
			return nil, fmt.Errorf("%w: [%d,%d) and [%d,%d)", ErrOverlappingEdits, prev.Start, prev.End, e.Start, e.End)
		}
		out.Write(src[pos:e.Start])
		out.WriteString(e.Text)
		pos = e.End
		prev = &sorted[i]
	}
	out.Write(src[pos:])
	return out.Bytes(), nil
}

// =============================================================================
// CHANGE SET
// =============================================================================

// ChangeOp is what a flush does to one path.
type ChangeOp string

const (
	OpModify ChangeOp = "modify"
	OpCreate ChangeOp = "create"
	OpDelete ChangeOp = "delete"
)

// FileChange is the planned new state of one path.
type FileChange struct {
	Path     string
	Op       ChangeOp
	Original []byte
	Updated  []byte
	// Source is the path a moved file was created from.
	Source string
}

type pendingFile struct {
	original []byte
	edits    []Edit
	moveTo   string
}

// ChangeSet is the buffered, validated result of a strategy. Nothing is
// written until Flush.
//
// Thread Safety: NOT safe for concurrent mutation. Read-only use after
// planning completes is safe.
type ChangeSet struct {
	pending map[string]*pendingFile
	creates map[string][]byte
	changes map[string]*FileChange
	refs    []Reference
	built   bool
}

func newChangeSet() *ChangeSet {
	return &ChangeSet{
		pending: make(map[string]*pendingFile),
		creates: make(map[string][]byte),
	}
}

// edit queues an edit against path, whose current content is original.
func (cs *ChangeSet) edit(path string, original []byte, e Edit) {
	p, ok := cs.pending[path]
	if !ok {
		p = &pendingFile{original: original}
		cs.pending[path] = p
	}
	p.edits = append(p.edits, e)
}

// touch registers path without edits so a move can carry it unchanged.
func (cs *ChangeSet) touch(path string, original []byte) {
	if _, ok := cs.pending[path]; !ok {
		cs.pending[path] = &pendingFile{original: original}
	}
}

// move relocates path to dest after its edits are applied.
func (cs *ChangeSet) move(path string, original []byte, dest string) {
	cs.touch(path, original)
	cs.pending[path].moveTo = dest
}

// reference records a rewritten occurrence.
func (cs *ChangeSet) reference(r Reference) {
	cs.refs = append(cs.refs, r)
}

// build applies every queued edit and freezes the set.
func (cs *ChangeSet) build() error {
	cs.changes = make(map[string]*FileChange)
	for path, p := range cs.pending {
		updated, err := applyEdits(p.original, p.edits)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if p.moveTo != "" {
			cs.changes[path] = &FileChange{Path: path, Op: OpDelete, Original: p.original}
			cs.changes[p.moveTo] = &FileChange{Path: p.moveTo, Op: OpCreate, Updated: updated, Source: path}
			continue
		}
		if bytes.Equal(updated, p.original) {
			continue
		}
		cs.changes[path] = &FileChange{Path: path, Op: OpModify, Original: p.original, Updated: updated}
	}
	for path, content := range cs.creates {
		cs.changes[path] = &FileChange{Path: path, Op: OpCreate, Updated: content}
	}
	sort.Slice(cs.refs, func(i, j int) bool {
		if cs.refs[i].Path != cs.refs[j].Path {
			return cs.refs[i].Path < cs.refs[j].Path
		}
		return cs.refs[i].Start < cs.refs[j].Start
	})
	cs.built = true
	return nil
}

// Paths returns every path the flush will touch, sorted.
func (cs *ChangeSet) Paths() []string {
	out := make([]string, 0, len(cs.changes))
	for p := range cs.changes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Changes returns the planned file changes sorted by path.
func (cs *ChangeSet) Changes() []FileChange {
	out := make([]FileChange, 0, len(cs.changes))
	for _, p := range cs.Paths() {
		out = append(out, *cs.changes[p])
	}
	return out
}

// Change returns the planned change for path.
func (cs *ChangeSet) Change(path string) (FileChange, bool) {
	c, ok := cs.changes[path]
	if !ok {
		return FileChange{}, false
	}
	return *c, true
}

// References returns the rewritten occurrences sorted by path and offset.
func (cs *ChangeSet) References() []Reference {
	out := make([]Reference, len(cs.refs))
	copy(out, cs.refs)
	return out
}

// Empty reports whether the set changes nothing.
func (cs *ChangeSet) Empty() bool {
	return len(cs.changes) == 0
}

// Flush writes the change set under root.
//
// Description:
//
//	Every created or modified file is first written to a temp file next to
//	its target. Only when all temp files exist are they renamed into place,
//	then deletions run. If any step fails, files already replaced are put
//	back and created files removed, so the tree is left as it was.
//
// Outputs:
//
//	error - Wraps ErrFlushFailed
func (cs *ChangeSet) Flush(root string) error {
	type staged struct {
		change *FileChange
		target string
		temp   string
		mode   fs.FileMode
	}

	var writes []staged
	var deletes []*FileChange
	var createdDirs []string

	cleanup := func() {
		for _, s := range writes {
			_ = os.Remove(s.temp)
		}
		for i := len(createdDirs) - 1; i >= 0; i-- {
			_ = os.Remove(createdDirs[i])
		}
	}

	for _, p := range cs.Paths() {
		c := cs.changes[p]
		target := filepath.Join(root, filepath.FromSlash(p))
		if c.Op == OpDelete {
			deletes = append(deletes, c)
			continue
		}
		mode := fs.FileMode(0o644)
		if info, err := os.Stat(target); err == nil {
			mode = info.Mode().Perm()
		}
		dirs, err := mkdirAll(filepath.Dir(target))
		createdDirs = append(createdDirs, dirs...)
		if err != nil {
			cleanup()
			return fmt.Errorf("%w: create directory for %s: %v", ErrFlushFailed, p, err)
		}
		temp := target + ".refval.tmp"
		if err := os.WriteFile(temp, c.Updated, mode); err != nil {
			cleanup()
			return fmt.Errorf("%w: write temp %s: %v", ErrFlushFailed, p, err)
		}
		writes = append(writes, staged{change: c, target: target, temp: temp, mode: mode})
	}

	var done []staged
	revert := func() {
		for _, s := range done {
			if s.change.Op == OpCreate {
				_ = os.Remove(s.target)
			} else {
				_ = os.WriteFile(s.target, s.change.Original, s.mode)
			}
		}
		cleanup()
	}

	for _, s := range writes {
		if err := os.Rename(s.temp, s.target); err != nil {
			revert()
			return fmt.Errorf("%w: rename %s: %v", ErrFlushFailed, s.change.Path, err)
		}
		done = append(done, s)
	}

	var removed []staged
	for _, c := range deletes {
		target := filepath.Join(root, filepath.FromSlash(c.Path))
		mode := fs.FileMode(0o644)
		if info, err := os.Stat(target); err == nil {
			mode = info.Mode().Perm()
		}
		if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
			for _, r := range removed {
				_ = os.WriteFile(r.target, r.change.Original, r.mode)
				_ = os.Chmod(r.target, r.mode)
			}
			revert()
			return fmt.Errorf("%w: remove %s: %v", ErrFlushFailed, c.Path, err)
		}
		removed = append(removed, staged{change: c, target: target, mode: mode})
	}
	return nil
}

// mkdirAll creates dir and returns the directories it had to create,
// outermost first.
func mkdirAll(dir string) ([]string, error) {
	var missing []string
	for d := dir; ; d = filepath.Dir(d) {
		if _, err := os.Stat(d); err == nil {
			break
		}
		missing = append([]string{d}, missing...)
		if filepath.Dir(d) == d {
			break
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return missing, err
	}
	return missing, nil
}

// Diff renders the change set as a unified diff.
func (cs *ChangeSet) Diff() string {
	var b strings.Builder
	for _, c := range cs.Changes() {
		ud := difflib.UnifiedDiff{
			FromFile: "a/" + c.Path,
			ToFile:   "b/" + c.Path,
			Context:  3,
		}
		switch c.Op {
		case OpCreate:
			ud.FromFile = "/dev/null"
			ud.B = diffLines(c.Updated)
		case OpDelete:
			ud.ToFile = "/dev/null"
			ud.A = diffLines(c.Original)
		default:
			ud.A = diffLines(c.Original)
			ud.B = diffLines(c.Updated)
		}
		text, err := difflib.GetUnifiedDiffString(ud)
		if err != nil {
			continue
		}
		b.WriteString(text)
	}
	return b.String()
}

// diffLines splits content into newline-terminated lines. A trailing
// newline does not start another line, and a missing one is supplied so
// the last line renders on its own.
func diffLines(content []byte) []string {
	if len(content) == 0 {
		return nil
	}
	lines := strings.SplitAfter(string(content), "\n")
	last := len(lines) - 1
	if lines[last] == "" {
		return lines[:last]
	}
	lines[last] += "\n"
	return lines
}

// Stats counts files and lines changed by parsing Diff.
func (cs *ChangeSet) Stats() verdict.ChangeStats {
	stats := verdict.ChangeStats{Files: len(cs.changes)}
	text := cs.Diff()
	if text == "" {
		return stats
	}
	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(text)).ReadAllFiles()
	if err != nil {
		return stats
	}
	for _, fd := range fileDiffs {
		for _, hunk := range fd.Hunks {
			for _, line := range strings.Split(string(hunk.Body), "\n") {
				switch {
				case strings.HasPrefix(line, "+"):
					stats.Added++
				case strings.HasPrefix(line, "-"):
					stats.Removed++
				}
			}
		}
	}
	return stats
}
