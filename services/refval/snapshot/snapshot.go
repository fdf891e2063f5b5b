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
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// SNAPSHOT
// =============================================================================

// entry is the captured state of one tracked path.
type entry struct {
	abs     string
	rel     string
	existed bool
	content []byte
	mode    fs.FileMode
	sum     [sha256.Size]byte

	// createdDirs lists directories missing at Begin between the path and
	// the nearest existing ancestor, deepest first.
	createdDirs []string
}

// Snapshot is the captured pre-mutation state of a set of paths.
//
// A Snapshot is owned by exactly one validation run and must reach
// Manager.Restore on every exit path.
//
// Thread Safety: NOT safe for concurrent use.
type Snapshot struct {
	entries   map[string]*entry
	order     []string
	createdAt time.Time
	restores  int
}

// Paths returns the tracked paths relative to the root, sorted.
func (s *Snapshot) Paths() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of tracked paths.
func (s *Snapshot) Len() int {
	return len(s.order)
}

// Existed reports whether rel existed when the snapshot began.
func (s *Snapshot) Existed(rel string) bool {
	e, ok := s.entries[filepath.ToSlash(rel)]
	return ok && e.existed
}

// Restores returns how many times the snapshot has been restored.
func (s *Snapshot) Restores() int {
	return s.restores
}

// CreatedAt returns when the snapshot was taken.
func (s *Snapshot) CreatedAt() time.Time {
	return s.createdAt
}

// Verify compares the working copy against the captured state.
//
// Description:
//
//	Re-reads every tracked path and reports the relative paths whose
//	content checksum or mode differs from the capture, plus paths that
//	were absent at Begin and exist now.
//
// Outputs:
//
//	[]string - Sorted relative paths that differ. Empty when restored.
//	error - Non-nil if a path could not be inspected.
func (s *Snapshot) Verify() ([]string, error) {
	var diffs []string
	for _, rel := range s.order {
		e := s.entries[rel]
		info, err := os.Lstat(e.abs)
		if errors.Is(err, fs.ErrNotExist) {
			if e.existed {
				diffs = append(diffs, rel)
			}
			continue
		}
		if err != nil {
			return diffs, fmt.Errorf("%w: stat %s: %v", ErrSnapshotIO, rel, err)
		}
		if !e.existed {
			diffs = append(diffs, rel)
			continue
		}
		data, err := os.ReadFile(e.abs)
		if err != nil {
			return diffs, fmt.Errorf("%w: read %s: %v", ErrSnapshotIO, rel, err)
		}
		if sha256.Sum256(data) != e.sum || info.Mode().Perm() != e.mode.Perm() {
			diffs = append(diffs, rel)
		}
	}
	return diffs, nil
}

// =============================================================================
// MANAGER
// =============================================================================

// Manager captures and restores files under one working copy root.
//
// Thread Safety: Safe for concurrent use, but a working copy should only
// ever have one outstanding snapshot.
type Manager struct {
	root   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewManager creates a snapshot manager for root.
//
// Inputs:
//
//	root - Working copy root directory. Must exist.
//	logger - Logger for structured logging. Nil uses slog.Default().
//
// Outputs:
//
//	*Manager - Configured manager
//	error - Non-nil if root cannot be resolved or is not a directory
func NewManager(root string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", abs)
	}
	return &Manager{root: abs, logger: logger}, nil
}

// Root returns the absolute working copy root.
func (m *Manager) Root() string {
	return m.root
}

// Resolve maps a root-relative or absolute path to its absolute and
// slash-separated relative forms.
//
// Outputs:
//
//	abs - Absolute path
//	rel - Root-relative path using forward slashes
//	err - ErrPathOutsideRoot if the path escapes the root
func (m *Manager) Resolve(path string) (abs, rel string, err error) {
	if path == "" {
		return "", "", fmt.Errorf("%w: empty path", ErrPathOutsideRoot)
	}
	abs = path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(m.root, abs)
	}
	abs = filepath.Clean(abs)
	r, err := filepath.Rel(m.root, abs)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s", ErrPathOutsideRoot, path)
	}
	if r == "." || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%w: %s", ErrPathOutsideRoot, path)
	}
	return abs, filepath.ToSlash(r), nil
}

// Begin captures the current state of every path.
//
// Description:
//
//	Reads and stores the bytes and mode of each path. A path that does not
//	exist is recorded as absent; Restore deletes it along with any
//	directories created above it. Duplicate paths are captured once.
//
// Inputs:
//
//	paths - Root-relative or absolute file paths
//
// Outputs:
//
//	*Snapshot - The captured state
//	error - ErrPathOutsideRoot for escaping paths, ErrSnapshotIO if a path
//	        exists but cannot be read
func (m *Manager) Begin(paths []string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &Snapshot{
		entries:   make(map[string]*entry, len(paths)),
		createdAt: time.Now(),
	}

	for _, p := range paths {
		abs, rel, err := m.Resolve(p)
		if err != nil {
			return nil, err
		}
		if _, dup := s.entries[rel]; dup {
			continue
		}

		e := &entry{abs: abs, rel: rel}
		info, err := os.Lstat(abs)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			e.createdDirs = m.missingDirs(filepath.Dir(abs))
		case err != nil:
			return nil, fmt.Errorf("%w: stat %s: %v", ErrSnapshotIO, rel, err)
		case !info.Mode().IsRegular():
			return nil, fmt.Errorf("%w: %s is not a regular file", ErrSnapshotIO, rel)
		default:
			data, err := os.ReadFile(abs)
			if err != nil {
				return nil, fmt.Errorf("%w: read %s: %v", ErrSnapshotIO, rel, err)
			}
			e.existed = true
			e.content = data
			e.mode = info.Mode()
			e.sum = sha256.Sum256(data)
		}

		s.entries[rel] = e
		s.order = append(s.order, rel)
	}
	sort.Strings(s.order)

	m.logger.Debug("Snapshot captured",
		slog.String("root", m.root),
		slog.Int("paths", len(s.order)),
	)
	return s, nil
}

// missingDirs returns dir and its ancestors below the root that do not
// exist yet, deepest first.
func (m *Manager) missingDirs(dir string) []string {
	var out []string
	for dir != m.root && strings.HasPrefix(dir, m.root) {
		if _, err := os.Stat(dir); err == nil {
			break
		}
		out = append(out, dir)
		dir = filepath.Dir(dir)
	}
	return out
}

// Restore returns every tracked path to its captured state.
//
// Description:
//
//	Rewrites the original bytes and mode of paths that existed at Begin,
//	deletes paths that did not, then removes directories created during
//	the run when they are empty. Files already matching the capture are
//	left untouched, so calling Restore repeatedly is idempotent.
//
// Outputs:
//
//	error - Wraps ErrRestoreFailed listing every path that could not be
//	        restored. Callers must abort the batch.
func (m *Manager) Restore(s *Snapshot) error {
	if s == nil {
		return ErrNilSnapshot
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	var errs []error
	var dirs []string

	for _, rel := range s.order {
		e := s.entries[rel]
		if e.existed {
			if err := m.rewrite(e); err != nil {
				m.logger.Error("Failed to restore file",
					slog.String("path", rel),
					slog.String("error", err.Error()),
				)
				errs = append(errs, fmt.Errorf("%s: %w", rel, err))
			}
			continue
		}
		if err := os.Remove(e.abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
			m.logger.Error("Failed to remove created file",
				slog.String("path", rel),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", rel, err))
		}
		dirs = append(dirs, e.createdDirs...)
	}

	// Deepest directories first so parents become empty.
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, dir := range dirs {
		if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("Created directory left in place",
				slog.String("path", dir),
				slog.String("error", err.Error()),
			)
		}
	}

	s.restores++
	recordRestore(context.Background(), time.Since(start), len(errs) == 0)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrRestoreFailed, errors.Join(errs...))
	}

	m.logger.Debug("Snapshot restored",
		slog.Int("paths", len(s.order)),
		slog.Int("restores", s.restores),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// rewrite puts back one captured file using temp file + rename.
func (m *Manager) rewrite(e *entry) error {
	if current, err := os.ReadFile(e.abs); err == nil && bytes.Equal(current, e.content) {
		if info, err := os.Lstat(e.abs); err == nil && info.Mode() == e.mode {
			return nil
		}
		return os.Chmod(e.abs, e.mode.Perm())
	}

	if err := os.MkdirAll(filepath.Dir(e.abs), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tempPath := e.abs + ".refval.tmp"
	if err := os.WriteFile(tempPath, e.content, e.mode.Perm()); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := os.Chmod(tempPath, e.mode.Perm()); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := os.Rename(tempPath, e.abs); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// =============================================================================
// SCOPED ACQUISITION
// =============================================================================

// Guard runs fn while s is held and restores s on every exit path.
//
// Description:
//
//	A panic inside fn is recovered and returned as *PanicError after the
//	snapshot has been restored. A restore failure is joined with fn's
//	error so that errors.Is(err, ErrRestoreFailed) holds.
//
// Inputs:
//
//	s - Snapshot taken by this manager
//	fn - The guarded work
//
// Outputs:
//
//	error - fn's error, the recovered panic, and/or the restore failure
func (m *Manager) Guard(s *Snapshot, fn func() error) (err error) {
	if s == nil {
		return ErrNilSnapshot
	}
	defer func() {
		if rerr := m.Restore(s); rerr != nil {
			err = errors.Join(rerr, err)
		}
	}()
	return CapturePanic("guarded", fn)
}

// CapturePanic runs fn and converts a panic into a *PanicError tagged
// with stage.
func CapturePanic(stage string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			var pe *PanicError
			if e, ok := r.(error); ok && errors.As(e, &pe) {
				err = pe
				return
			}
			err = &PanicError{Stage: stage, Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}
