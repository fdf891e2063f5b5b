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
	"strings"

	"github.com/AleutianAI/refval/services/refval/javaast"
)

// renameStrategy renames a type, method, field, parameter or local and
// every reference the index can attribute to it.
type renameStrategy struct{}

func (renameStrategy) plan(ctx context.Context, req *request) (*ChangeSet, error) {
	name := strings.TrimSpace(req.cand.ProposedValue)
	if !javaast.IsIdentifier(name) {
		return nil, declinef("%q is not a valid Java identifier", name)
	}
	tgt, err := req.resolve()
	if err != nil {
		return nil, err
	}
	switch tgt.kind {
	case targetType:
		return renameType(ctx, req, tgt.typ, name)
	case targetMethod:
		return renameMethod(ctx, req, tgt, name)
	case targetField:
		return renameField(ctx, req, tgt.field, name)
	default:
		if len(tgt.vars) > 1 {
			return nil, declinef("%d variables named %s in %s.%s; give start_line",
				len(tgt.vars), tgt.member, tgt.typ.Name, tgt.methods[0].Name)
		}
		return renameVar(req, tgt, tgt.vars[0], name)
	}
}

// =============================================================================
// VARIABLES
// =============================================================================

func renameVar(req *request, tgt target, v *javaast.VarDecl, name string) (*ChangeSet, error) {
	if v.Name == name {
		return nil, declinef("%s is already named %s", v.Name, name)
	}
	f := req.file
	m := owningMethod(tgt.methods, v)
	if m == nil {
		return nil, notFoundf("variable %s has no enclosing method", v.Name)
	}
	for _, other := range m.AllVars() {
		if other != v && other.Name == name && other.Scope.Overlaps(v.Scope) {
			return nil, declinef("%s would collide with variable %s declared at line %d", v.Name, name, other.Line)
		}
	}
	for _, r := range f.RefsNamed(name, javaast.RefName) {
		if v.Scope.Contains(r.Span) && !r.CaseLabel {
			return nil, declinef("renaming %s to %s would capture the reference at line %d", v.Name, name, r.Line)
		}
	}

	cs := newChangeSet()
	replace(cs, f, v.NameSpan, name)
	for _, r := range f.RefsNamed(v.Name, javaast.RefName) {
		if !v.Scope.Contains(r.Span) || r.CaseLabel {
			continue
		}
		if r.Method != m {
			// A local or anonymous class member may redeclare the name.
			if r.Method != nil && varInScope(r.Method, v.Name, r.Span) != nil {
				continue
			}
			if r.Type != nil && r.Type != m.Owner && r.Type.Field(v.Name) != nil {
				continue
			}
		} else if inner := varInScope(m, v.Name, r.Span); inner != nil && inner != v {
			continue
		}
		replace(cs, f, r.Span, name)
	}
	return cs, nil
}

func owningMethod(methods []*javaast.MethodDecl, v *javaast.VarDecl) *javaast.MethodDecl {
	for _, m := range methods {
		for _, other := range m.AllVars() {
			if other == v {
				return m
			}
		}
	}
	return nil
}

// =============================================================================
// FIELDS
// =============================================================================

func renameField(ctx context.Context, req *request, fd *javaast.FieldDecl, name string) (*ChangeSet, error) {
	owner := fd.Owner
	old := fd.Name
	if old == name {
		return nil, declinef("%s is already named %s", old, name)
	}
	if owner.Field(name) != nil {
		return nil, declinef("%s already declares a field named %s", owner.Name, name)
	}
	proj, err := req.project(ctx)
	if err != nil {
		return nil, err
	}
	fileOnly := fd.Private() || owner.Private() || owner.Local
	if !fileOnly {
		if err := proj.complete(old); err != nil {
			return nil, err
		}
	}
	family := proj.fieldFamily(owner, old)
	for t := range family {
		if t != owner && t.Field(name) != nil {
			return nil, declinef("subtype %s already declares a field named %s", t.Name, name)
		}
	}

	cs := newChangeSet()
	replace(cs, req.file, fd.NameSpan, name)

	ownerFQN := req.file.QualifiedName(owner)
	for _, rel := range scopePaths(proj, req, fileOnly) {
		f := proj.file(rel)
		if f == nil || !f.Mentions(old) {
			continue
		}
		staticImported := false
		for _, imp := range f.Imports {
			if !imp.Static {
				continue
			}
			if imp.Wildcard && imp.Path == ownerFQN {
				staticImported = true
			}
			if !imp.Wildcard && imp.Path == ownerFQN+"."+old {
				if err := rewriteImportSegment(cs, f, imp, len(imp.Path), name); err != nil {
					return nil, err
				}
				staticImported = true
			}
		}
		for _, r := range f.RefsNamed(old, javaast.RefName, javaast.RefFieldAccess) {
			ok, err := fieldRefMatches(proj, f, r, fd, family, staticImported)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			if r.Kind == javaast.RefName && !r.CaseLabel && varInScope(r.Method, name, r.Span) != nil {
				return nil, declinef("local variable %s would shadow field %s at %s:%d", name, old, f.Path, r.Line)
			}
			replace(cs, f, r.Span, name)
		}
	}
	return cs, nil
}

// fieldRefMatches decides whether r refers to field fd.
func fieldRefMatches(proj *project, f *javaast.File, r javaast.Ref, fd *javaast.FieldDecl, family typeSet, staticImported bool) (bool, error) {
	if r.Kind == javaast.RefFieldAccess {
		if prefix := qualifiedPrefix(f, r); prefix != "" && strings.Count(prefix, ".") > 1 {
			// Fully qualified access such as com.acme.Foo.FIELD.
			owner := strings.TrimSuffix(prefix, "."+r.Name)
			for _, t := range proj.resolveType(f, owner) {
				if family[t.decl] {
					return true, nil
				}
			}
		}
		recv, ok := proj.receiverTypes(f, r)
		if !ok {
			return false, unattributed(proj, f, r, family, true)
		}
		for _, t := range recv {
			if family[t] {
				return true, nil
			}
		}
		return false, nil
	}

	if r.CaseLabel {
		if !fd.EnumConstant {
			return false, nil
		}
		for _, cand := range proj.byName {
			for _, t := range cand {
				if t.decl != fd.Owner && t.decl.Kind == fd.Owner.Kind && t.decl.Field(fd.Name) != nil {
					return false, declinef("ambiguous case label %s at %s:%d", r.Name, f.Path, r.Line)
				}
			}
		}
		return true, nil
	}

	if varInScope(r.Method, r.Name, r.Span) != nil {
		return false, nil
	}
	for t := r.Type; t != nil; t = t.Outer {
		if family[t] {
			return true, nil
		}
		if t.Field(r.Name) != nil {
			return false, nil
		}
		for _, a := range proj.ancestors(t) {
			if family[a] {
				return true, nil
			}
			if a.Field(r.Name) != nil {
				return false, nil
			}
		}
	}
	return staticImported, nil
}

// =============================================================================
// METHODS
// =============================================================================

func renameMethod(ctx context.Context, req *request, tgt target, name string) (*ChangeSet, error) {
	owner := tgt.typ
	old := tgt.member
	for _, m := range tgt.methods {
		if m.Constructor {
			return nil, declinef("%s is a constructor; rename the type instead", old)
		}
	}
	if old == name {
		return nil, declinef("%s is already named %s", old, name)
	}
	proj, err := req.project(ctx)
	if err != nil {
		return nil, err
	}
	private := true
	for _, m := range owner.MethodsNamed(old) {
		private = private && m.Private()
	}
	fileOnly := private || owner.Private() || owner.Local

	family := typeSet{owner: true}
	if !private {
		family = proj.methodFamily(owner, old)
	}
	if !fileOnly {
		if err := proj.complete(old); err != nil {
			return nil, err
		}
	}
	for t := range family {
		if len(t.MethodsNamed(name)) > 0 {
			return nil, declinef("%s already declares a method named %s", t.Name, name)
		}
	}

	cs := newChangeSet()
	staticPaths := make(map[string]bool)
	for t := range family {
		f := proj.fileOf[t]
		if f == nil {
			f = req.file
		}
		for _, m := range t.MethodsNamed(old) {
			replace(cs, f, m.NameSpan, name)
		}
		staticPaths[f.QualifiedName(t)+"."+old] = true
	}

	for _, rel := range scopePaths(proj, req, fileOnly) {
		f := proj.file(rel)
		if f == nil || !f.Mentions(old) {
			continue
		}
		staticImported := false
		for _, imp := range f.Imports {
			if imp.Static && !imp.Wildcard && staticPaths[imp.Path] {
				if err := rewriteImportSegment(cs, f, imp, len(imp.Path), name); err != nil {
					return nil, err
				}
				staticImported = true
			}
		}
		for _, r := range f.RefsNamed(old, javaast.RefMethodCall, javaast.RefMethodRef) {
			ok, err := methodRefMatches(proj, f, r, family, staticImported)
			if err != nil {
				return nil, err
			}
			if ok {
				replace(cs, f, r.Span, name)
			}
		}
	}
	return cs, nil
}

// methodRefMatches decides whether call or method reference r targets a
// method of family.
func methodRefMatches(proj *project, f *javaast.File, r javaast.Ref, family typeSet, staticImported bool) (bool, error) {
	if r.ObjectKind == javaast.ObjectNone {
		for t := r.Type; t != nil; t = t.Outer {
			if family[t] {
				return true, nil
			}
			if len(t.MethodsNamed(r.Name)) > 0 {
				return false, nil
			}
			for _, a := range proj.ancestors(t) {
				if len(a.MethodsNamed(r.Name)) > 0 {
					return false, nil
				}
			}
		}
		return staticImported, nil
	}

	recv, ok := proj.receiverTypes(f, r)
	if !ok {
		return false, unattributed(proj, f, r, family, false)
	}
	for _, t := range recv {
		if family[t] {
			return true, nil
		}
	}
	return false, nil
}

// unattributed declines a reference whose receiver type is unknown. The
// receiver may be a library type with a member of the same name, so
// rewriting it would be a guess.
func unattributed(proj *project, f *javaast.File, r javaast.Ref, family typeSet, fields bool) error {
	if proj.declaresMember(r.Name, family, fields) {
		return declinef("ambiguous reference to %s at %s:%d", r.Name, f.Path, r.Line)
	}
	return declinef("cannot attribute receiver %q of %s at %s:%d", r.Object, r.Name, f.Path, r.Line)
}

// =============================================================================
// TYPES
// =============================================================================

func renameType(ctx context.Context, req *request, t *javaast.TypeDecl, name string) (*ChangeSet, error) {
	old := t.Name
	if old == name {
		return nil, declinef("%s is already named %s", old, name)
	}
	f := req.file
	proj, err := req.project(ctx)
	if err != nil {
		return nil, err
	}

	if t.TopLevel() {
		for _, other := range proj.typesNamed(name) {
			if other.decl.TopLevel() && other.file.Package == f.Package {
				return nil, declinef("type %s already exists in package %q (%s)", name, f.Package, other.file.Path)
			}
		}
	} else {
		for o := t.Outer; o != nil; o = o.Outer {
			if o.Name == name {
				return nil, declinef("nested type cannot share the name of enclosing type %s", name)
			}
		}
	}
	for _, other := range f.Types {
		if other != t && other.Name == name && (other.Outer == t.Outer || other.Outer == t) {
			return nil, declinef("type %s already declared at line %d", name, other.Line)
		}
	}

	fileOnly := t.Local || t.Private()
	if !fileOnly {
		if err := proj.complete(old); err != nil {
			return nil, err
		}
	}

	cs := newChangeSet()
	replace(cs, f, t.NameSpan, name)
	for _, c := range t.Constructors() {
		replace(cs, f, c.NameSpan, name)
	}

	fqn := f.QualifiedName(t)
	for _, rel := range scopePaths(proj, req, fileOnly) {
		g := proj.file(rel)
		if g == nil || !g.Mentions(old) {
			continue
		}
		for _, imp := range g.Imports {
			if imp.Path == fqn || strings.HasPrefix(imp.Path, fqn+".") {
				if err := rewriteImportSegment(cs, g, imp, len(fqn), name); err != nil {
					return nil, err
				}
			}
		}
		for _, r := range g.RefsNamed(old, javaast.RefType, javaast.RefName, javaast.RefFieldAccess) {
			if !typeRefMatches(proj, g, r, t) {
				continue
			}
			replace(cs, g, r.Span, name)
		}
	}

	if t.TopLevel() && path.Base(req.path) == old+".java" {
		dest := path.Join(path.Dir(req.path), name+".java")
		if req.ws.Exists(dest) {
			return nil, declinef("%s already exists", dest)
		}
		cs.move(req.path, req.src, dest)
	}
	return cs, nil
}

// typeRefMatches decides whether r names type t.
func typeRefMatches(proj *project, g *javaast.File, r javaast.Ref, t *javaast.TypeDecl) bool {
	prefix := qualifiedPrefix(g, r)
	switch r.Kind {
	case javaast.RefName:
		if !r.Qualifier && prefix == "" {
			return false
		}
		if prefix == "" && (varInScope(r.Method, r.Name, r.Span) != nil || proj.fieldOf(r.Type, r.Name) != nil) {
			return false
		}
	case javaast.RefFieldAccess:
		if prefix == "" {
			return false
		}
	}
	name := r.Name
	if prefix != "" {
		name = prefix
	}
	for _, cand := range proj.resolveType(g, name) {
		if cand.decl == t {
			return true
		}
	}
	return false
}

// =============================================================================
// HELPERS
// =============================================================================

// scopePaths lists the files a rename must visit.
func scopePaths(proj *project, req *request, fileOnly bool) []string {
	if fileOnly {
		return []string{req.path}
	}
	return proj.paths()
}

// qualifiedPrefix returns the dotted chain ending at r when r is part of
// a qualified name, such as "com.acme.Foo" for the Foo in
// com.acme.Foo.bar(). It returns "" for unqualified occurrences.
func qualifiedPrefix(f *javaast.File, r javaast.Ref) string {
	best := -1
	for _, q := range f.Qualified {
		if q.Span.Contains(r.Span) && q.Span.Start < r.Span.Start {
			if best < 0 || q.Span.Start < best {
				best = q.Span.Start
			}
		}
	}
	if best < 0 {
		return ""
	}
	return compact(f.Text(javaast.Span{Start: best, End: r.Span.End}))
}

// rewriteImportSegment replaces the path segment of imp ending at byte n
// of the dotted path with name.
func rewriteImportSegment(cs *ChangeSet, f *javaast.File, imp javaast.Import, n int, name string) error {
	if f.Text(imp.PathSpan) != imp.Path {
		return declinef("cannot rewrite import at %s:%d", f.Path, imp.Line)
	}
	seg := lastSegmentOf(imp.Path[:n])
	end := imp.PathSpan.Start + n
	replace(cs, f, javaast.Span{Start: end - len(seg), End: end}, name)
	return nil
}

// compact removes all whitespace from s.
func compact(s string) string {
	return strings.Join(strings.Fields(s), "")
}
