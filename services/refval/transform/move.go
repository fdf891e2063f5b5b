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
	"path"
	"sort"
	"strings"

	"github.com/AleutianAI/refval/services/refval/javaast"
)

// moveStrategy moves a top-level type into another package, rewriting its
// package declaration, imports and fully qualified references.
type moveStrategy struct{}

func (moveStrategy) plan(ctx context.Context, req *request) (*ChangeSet, error) {
	dest := strings.TrimSpace(req.cand.ProposedValue)
	if !javaast.IsQualifiedName(dest) {
		return nil, declinef("%q is not a valid package name", dest)
	}
	tgt, err := req.resolve()
	if err != nil {
		return nil, err
	}
	t := tgt.typ
	if tgt.kind != targetType || !t.TopLevel() {
		return nil, declinef("move_class needs a top-level type, got %s", req.cand.Location.Symbol)
	}

	f := req.file
	switch {
	case !f.HasPackage:
		return nil, declinef("cannot move %s out of the default package", t.Name)
	case f.Package == dest:
		return nil, declinef("%s is already in package %s", t.Name, dest)
	case len(f.TopLevelTypes()) != 1:
		return nil, declinef("%s declares %d top-level types", req.path, len(f.TopLevelTypes()))
	case path.Base(req.path) != t.Name+".java":
		return nil, declinef("%s is not named after type %s", req.path, t.Name)
	}
	root, ok := sourceRoot(req.path, f.Package)
	if !ok {
		return nil, declinef("directory of %s does not mirror package %s", req.path, f.Package)
	}
	destPath := path.Join(root, packageDir(dest), t.Name+".java")
	if req.ws.Exists(destPath) {
		return nil, declinef("%s already exists", destPath)
	}

	proj, err := req.project(ctx)
	if err != nil {
		return nil, err
	}
	if err := proj.complete(t.Name); err != nil {
		return nil, err
	}
	for _, other := range proj.typesNamed(t.Name) {
		if other.decl.TopLevel() && other.file.Package == dest {
			return nil, declinef("type %s already exists in package %s", t.Name, dest)
		}
	}

	oldFQN := f.QualifiedName(t)
	newFQN := dest + "." + t.Name
	if err := checkResources(ctx, req.ws, oldFQN); err != nil {
		return nil, err
	}

	cs := newChangeSet()
	replace(cs, f, f.PackageSpan, dest)
	for _, fqn := range implicitImports(proj, f, t) {
		addImport(cs, f, fqn)
	}

	for _, rel := range proj.paths() {
		g := proj.file(rel)
		if g == nil || !g.Mentions(t.Name) {
			continue
		}
		if err := rewriteQualified(cs, g, oldFQN, newFQN); err != nil {
			return nil, err
		}
		if g == f || g.Imported(oldFQN) {
			continue
		}
		if (g.Package == f.Package || g.WildcardImports(f.Package)) && usesSimpleName(proj, g, t) {
			addImport(cs, g, newFQN)
		}
	}

	cs.move(req.path, req.src, destPath)
	return cs, nil
}

// checkResources refuses the move when a resource file names the class;
// configuration references cannot be rewritten safely.
func checkResources(ctx context.Context, ws Workspace, fqn string) error {
	resources, err := ws.ResourceFiles(ctx)
	if err != nil {
		return &ApplyError{Reason: "cannot list resource files", Cause: err}
	}
	for _, rel := range resources {
		content, err := ws.ReadFile(rel)
		if err != nil {
			return declinef("incomplete reference enumeration for %s: %s", fqn, rel)
		}
		if javaast.ContainsWord(content, fqn) {
			return declinef("resource %s references %s", rel, fqn)
		}
	}
	return nil
}

// implicitImports lists old-package types the moved file uses by simple
// name; they need an explicit import once it leaves the package.
func implicitImports(proj *project, f *javaast.File, t *javaast.TypeDecl) []string {
	need := make(map[string]bool)
	for _, r := range f.Refs {
		if r.Kind != javaast.RefType && !(r.Kind == javaast.RefName && r.Qualifier) {
			continue
		}
		if r.Name == t.Name || qualifiedPrefix(f, r) != "" || len(f.TypesNamed(r.Name)) > 0 {
			continue
		}
		if _, ok := f.ImportsSimpleName(r.Name); ok {
			continue
		}
		if r.Kind == javaast.RefName && (varInScope(r.Method, r.Name, r.Span) != nil || proj.fieldOf(r.Type, r.Name) != nil) {
			continue
		}
		for _, cand := range proj.typesNamed(r.Name) {
			if cand.decl.TopLevel() && cand.file != f && cand.file.Package == f.Package {
				need[cand.fqn()] = true
			}
		}
	}
	out := make([]string, 0, len(need))
	for fqn := range need {
		out = append(out, fqn)
	}
	sort.Strings(out)
	return out
}

// rewriteQualified rewrites imports and dotted names that start with
// oldFQN.
func rewriteQualified(cs *ChangeSet, g *javaast.File, oldFQN, newFQN string) error {
	done := make(map[int]bool)
	rewrite := func(start int, text string, line int) error {
		if done[start] {
			return nil
		}
		if !strings.HasPrefix(text, oldFQN) {
			return declinef("cannot rewrite qualified name at %s:%d", g.Path, line)
		}
		done[start] = true
		replace(cs, g, javaast.Span{Start: start, End: start + len(oldFQN)}, newFQN)
		return nil
	}
	for _, imp := range g.Imports {
		if imp.Path != oldFQN && !strings.HasPrefix(imp.Path, oldFQN+".") {
			continue
		}
		if err := rewrite(imp.PathSpan.Start, g.Text(imp.PathSpan), imp.Line); err != nil {
			return err
		}
	}
	for _, q := range g.Qualified {
		if q.Text != oldFQN && !strings.HasPrefix(q.Text, oldFQN+".") {
			continue
		}
		if err := rewrite(q.Span.Start, g.Text(q.Span), q.Line); err != nil {
			return err
		}
	}
	return nil
}

// usesSimpleName reports whether g refers to t by its simple name.
func usesSimpleName(proj *project, g *javaast.File, t *javaast.TypeDecl) bool {
	for _, r := range g.RefsNamed(t.Name, javaast.RefType, javaast.RefName) {
		if r.Kind == javaast.RefName && !r.Qualifier {
			continue
		}
		if qualifiedPrefix(g, r) != "" {
			continue
		}
		if typeRefMatches(proj, g, r, t) {
			return true
		}
	}
	return false
}

// addImport inserts a single-type import line.
func addImport(cs *ChangeSet, g *javaast.File, fqn string) {
	at := g.ImportInsertOffset()
	text := "import " + fqn + ";\n"
	if len(g.Imports) == 0 && g.HasPackage {
		text = "\n" + text
	}
	cs.edit(g.Path, g.Source, Edit{Start: at, End: at, Text: text})
	cs.reference(newReference(g, javaast.Span{Start: at, End: at}))
}
