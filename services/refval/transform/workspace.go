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
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// =============================================================================
// WORKSPACE
// =============================================================================

// Workspace is the read-only view of a working copy that strategies plan
// against. Paths are slash-separated and relative to Root.
type Workspace interface {
	Root() string
	ReadFile(rel string) ([]byte, error)
	Exists(rel string) bool

	// JavaFiles lists every .java file, sorted.
	JavaFiles(ctx context.Context) ([]string, error)

	// ResourceFiles lists non-Java text resources that may name classes:
	// .xml, .properties, .yml, .yaml and META-INF/services entries.
	ResourceFiles(ctx context.Context) ([]string, error)
}

// skippedDirs are build outputs and tool metadata never scanned.
var skippedDirs = map[string]struct{}{
	".git":         {},
	".gradle":      {},
	".idea":        {},
	".mvn":         {},
	"build":        {},
	"node_modules": {},
	"out":          {},
	"target":       {},
}

var resourceExts = map[string]struct{}{
	".xml":        {},
	".properties": {},
	".yml":        {},
	".yaml":       {},
}

// DirWorkspace is a Workspace backed by a directory on disk.
//
// Thread Safety: Safe for concurrent use; it holds no mutable state.
type DirWorkspace struct {
	root string
}

// NewDirWorkspace creates a workspace rooted at root.
func NewDirWorkspace(root string) *DirWorkspace {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &DirWorkspace{root: root}
}

// Root returns the absolute root directory.
func (w *DirWorkspace) Root() string {
	return w.root
}

func (w *DirWorkspace) abs(rel string) string {
	return filepath.Join(w.root, filepath.FromSlash(rel))
}

// ReadFile reads a root-relative file.
func (w *DirWorkspace) ReadFile(rel string) ([]byte, error) {
	return os.ReadFile(w.abs(rel))
}

// Exists reports whether a root-relative path exists.
func (w *DirWorkspace) Exists(rel string) bool {
	_, err := os.Lstat(w.abs(rel))
	return err == nil
}

// JavaFiles implements Workspace.
func (w *DirWorkspace) JavaFiles(ctx context.Context) ([]string, error) {
	return w.collect(ctx, func(rel string) bool {
		return strings.HasSuffix(rel, ".java")
	})
}

// ResourceFiles implements Workspace.
func (w *DirWorkspace) ResourceFiles(ctx context.Context) ([]string, error) {
	return w.collect(ctx, func(rel string) bool {
		if strings.Contains(rel, "META-INF/services/") {
			return true
		}
		_, ok := resourceExts[path.Ext(rel)]
		return ok
	})
}

func (w *DirWorkspace) collect(ctx context.Context, keep func(rel string) bool) ([]string, error) {
	var out []string
	err := filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if _, skip := skippedDirs[d.Name()]; skip && p != w.root {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(w.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if keep(rel) {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}
