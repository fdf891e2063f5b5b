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
	"unicode"

	"github.com/AleutianAI/refval/services/refval/javaast"
)

// =============================================================================
// PROJECT INDEX
// =============================================================================

// typeRef is a type declaration together with the file declaring it.
type typeRef struct {
	file *javaast.File
	decl *javaast.TypeDecl
}

// fqn returns the fully qualified name of the referenced type.
func (t typeRef) fqn() string {
	return t.file.QualifiedName(t.decl)
}

// project indexes every Java file of a workspace.
//
// Files that cannot be read are remembered in unreadable so reference
// enumeration can refuse to claim completeness.
type project struct {
	files      map[string]*javaast.File
	order      []string
	unreadable map[string]error
	byName     map[string][]typeRef
	fileOf     map[*javaast.TypeDecl]*javaast.File
}

// loadProject parses every Java file of ws through the engine cache.
func (e *Engine) loadProject(ctx context.Context, ws Workspace) (*project, error) {
	paths, err := ws.JavaFiles(ctx)
	if err != nil {
		return nil, &ApplyError{Reason: "cannot list source files", Cause: err}
	}
	p := &project{
		files:      make(map[string]*javaast.File, len(paths)),
		unreadable: make(map[string]error),
		byName:     make(map[string][]typeRef),
		fileOf:     make(map[*javaast.TypeDecl]*javaast.File),
	}
	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		src, err := ws.ReadFile(rel)
		if err != nil {
			p.unreadable[rel] = err
			continue
		}
		f, err := e.cache.Parse(ctx, rel, src)
		if err != nil {
			p.unreadable[rel] = err
			continue
		}
		p.add(rel, f)
	}
	return p, nil
}

func (p *project) add(rel string, f *javaast.File) {
	p.files[rel] = f
	p.order = append(p.order, rel)
	for _, t := range f.Types {
		if t.Local {
			continue
		}
		p.byName[t.Name] = append(p.byName[t.Name], typeRef{file: f, decl: t})
		p.fileOf[t] = f
	}
}

// put indexes f at rel, replacing any previous parse of that path.
func (p *project) put(rel string, f *javaast.File) {
	prev, ok := p.files[rel]
	if ok && prev == f {
		return
	}
	if ok {
		for name, refs := range p.byName {
			kept := refs[:0]
			for _, r := range refs {
				if r.file != prev {
					kept = append(kept, r)
				}
			}
			p.byName[name] = kept
		}
		for _, t := range prev.Types {
			delete(p.fileOf, t)
		}
		for i, o := range p.order {
			if o == rel {
				p.order = append(p.order[:i], p.order[i+1:]...)
				break
			}
		}
	}
	delete(p.unreadable, rel)
	p.add(rel, f)
}

// file returns the parsed file at rel, nil when unknown.
func (p *project) file(rel string) *javaast.File {
	return p.files[rel]
}

// paths returns indexed file paths in sorted order.
func (p *project) paths() []string {
	out := append([]string(nil), p.order...)
	sort.Strings(out)
	return out
}

// complete verifies every occurrence of word can be enumerated. A file
// that could not be read, or mentions word while failing to parse
// cleanly, makes the enumeration incomplete.
func (p *project) complete(word string) error {
	var bad []string
	for rel := range p.unreadable {
		bad = append(bad, rel)
	}
	for _, rel := range p.order {
		f := p.files[rel]
		if f.SyntaxError && f.Mentions(word) {
			bad = append(bad, rel)
		}
	}
	if len(bad) == 0 {
		return nil
	}
	sort.Strings(bad)
	return declinef("incomplete reference enumeration for %s: %s", word, strings.Join(bad, ", "))
}

// =============================================================================
// TYPE RESOLUTION
// =============================================================================

// typesNamed returns every non-local project type with the simple name.
func (p *project) typesNamed(name string) []typeRef {
	return p.byName[name]
}

// resolveType resolves a simple or dotted type name as seen from f.
//
// Lookup order follows Java scoping loosely: types declared in f, single
// type imports, the same package, then wildcard imports. An empty result
// means the name is not a project type.
func (p *project) resolveType(f *javaast.File, name string) []typeRef {
	name = javaast.BaseTypeName(name)
	if name == "" {
		return nil
	}
	if strings.Contains(name, ".") {
		return p.resolveDotted(f, name)
	}
	var local []typeRef
	for _, t := range f.TypesNamed(name) {
		local = append(local, typeRef{file: f, decl: t})
	}
	if len(local) > 0 {
		return local
	}
	if imp, ok := f.ImportsSimpleName(name); ok {
		return p.byFQN(imp.Path)
	}
	var out []typeRef
	for _, cand := range p.byName[name] {
		if !cand.decl.TopLevel() {
			continue
		}
		if cand.file.Package == f.Package || f.WildcardImports(cand.file.Package) {
			out = append(out, cand)
		}
	}
	return out
}

// resolveDotted handles Outer.Inner and fully qualified names.
func (p *project) resolveDotted(f *javaast.File, name string) []typeRef {
	if out := p.byFQN(name); len(out) > 0 {
		return out
	}
	head, rest, _ := strings.Cut(name, ".")
	var out []typeRef
	for _, outer := range p.resolveType(f, head) {
		want := outer.decl.BinaryName() + "." + rest
		for _, t := range outer.file.TypesNamed(want) {
			out = append(out, typeRef{file: outer.file, decl: t})
		}
	}
	return out
}

// byFQN returns the type whose fully qualified name is fqn.
func (p *project) byFQN(fqn string) []typeRef {
	var out []typeRef
	for _, cand := range p.byName[lastSegmentOf(fqn)] {
		if cand.fqn() == fqn {
			out = append(out, cand)
		}
	}
	return out
}

// supertypes returns the direct project supertypes of t.
func (p *project) supertypes(t *javaast.TypeDecl) []*javaast.TypeDecl {
	f := p.fileOf[t]
	if f == nil {
		return nil
	}
	var out []*javaast.TypeDecl
	for _, name := range t.Supertypes {
		for _, r := range p.resolveType(f, name) {
			if r.decl != t {
				out = append(out, r.decl)
			}
		}
	}
	return out
}

// ancestors returns the transitive project supertypes of t.
func (p *project) ancestors(t *javaast.TypeDecl) []*javaast.TypeDecl {
	seen := map[*javaast.TypeDecl]bool{t: true}
	var out []*javaast.TypeDecl
	queue := []*javaast.TypeDecl{t}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, s := range p.supertypes(cur) {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
				queue = append(queue, s)
			}
		}
	}
	return out
}

// descendants returns the transitive project subtypes of t.
func (p *project) descendants(t *javaast.TypeDecl) []*javaast.TypeDecl {
	children := make(map[*javaast.TypeDecl][]*javaast.TypeDecl)
	for _, refs := range p.byName {
		for _, r := range refs {
			for _, s := range p.supertypes(r.decl) {
				children[s] = append(children[s], r.decl)
			}
		}
	}
	seen := map[*javaast.TypeDecl]bool{t: true}
	var out []*javaast.TypeDecl
	queue := []*javaast.TypeDecl{t}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range children[cur] {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
				queue = append(queue, c)
			}
		}
	}
	return out
}

// typeSet is a set of type declarations.
type typeSet map[*javaast.TypeDecl]bool

// methodFamily returns the types whose methods named name must be renamed
// together with t's: the topmost ancestors declaring name plus all of
// their descendants.
func (p *project) methodFamily(t *javaast.TypeDecl, name string) typeSet {
	roots := []*javaast.TypeDecl{t}
	for _, a := range p.ancestors(t) {
		if len(a.MethodsNamed(name)) > 0 {
			roots = append(roots, a)
		}
	}
	family := make(typeSet)
	for _, r := range roots {
		family[r] = true
		for _, d := range p.descendants(r) {
			family[d] = true
		}
	}
	return family
}

// fieldFamily returns t and the descendants that inherit field name
// without redeclaring it.
func (p *project) fieldFamily(t *javaast.TypeDecl, name string) typeSet {
	family := typeSet{t: true}
	for _, d := range p.descendants(t) {
		if d.Field(name) == nil {
			family[d] = true
		}
	}
	return family
}

// declaresMember reports whether any project type outside family
// declares a method (or field, when fields is set) named name.
func (p *project) declaresMember(name string, family typeSet, fields bool) bool {
	for _, refs := range p.byName {
		for _, r := range refs {
			if family[r.decl] {
				continue
			}
			if fields && r.decl.Field(name) != nil {
				return true
			}
			if !fields && len(r.decl.MethodsNamed(name)) > 0 {
				return true
			}
		}
	}
	return false
}

// =============================================================================
// RECEIVER ATTRIBUTION
// =============================================================================

// receiverTypes attributes the object of a call, method reference or field
// access to project types.
//
// Outputs:
//
//	[]*javaast.TypeDecl - Candidate receiver types, empty for library types
//	bool - False when the receiver could not be attributed at all
func (p *project) receiverTypes(f *javaast.File, r javaast.Ref) ([]*javaast.TypeDecl, bool) {
	switch r.ObjectKind {
	case javaast.ObjectNone, javaast.ObjectThis:
		if r.Type == nil {
			return nil, false
		}
		return []*javaast.TypeDecl{r.Type}, true
	case javaast.ObjectSuper:
		if r.Type == nil {
			return nil, false
		}
		return p.supertypes(r.Type), true
	case javaast.ObjectName:
		return p.nameTypes(f, r, r.Object)
	case javaast.ObjectNew:
		// An unresolved created type is a library type.
		return decls(p.resolveType(f, r.Object)), true
	case javaast.ObjectExpr:
		obj := strings.TrimSpace(r.Object)
		if javaast.IsQualifiedName(obj) {
			if out := p.resolveType(f, obj); len(out) > 0 {
				return decls(out), true
			}
			return p.chainTypes(f, r, strings.Split(obj, "."))
		}
		if rest, ok := strings.CutPrefix(obj, "this."); ok && javaast.IsQualifiedName(rest) {
			if r.Type == nil {
				return nil, false
			}
			return p.fieldChain(f, []*javaast.TypeDecl{r.Type}, strings.Split(rest, "."))
		}
		return nil, false
	}
	return nil, false
}

// chainTypes attributes a dotted receiver such as a.b.c: the first segment
// as a name, the rest as field accesses.
func (p *project) chainTypes(f *javaast.File, r javaast.Ref, segs []string) ([]*javaast.TypeDecl, bool) {
	head, ok := p.nameTypes(f, r, segs[0])
	if !ok {
		return nil, false
	}
	return p.fieldChain(f, head, segs[1:])
}

// fieldChain follows field accesses from the types in cur. Members of
// library types are library types.
func (p *project) fieldChain(f *javaast.File, cur []*javaast.TypeDecl, segs []string) ([]*javaast.TypeDecl, bool) {
	for _, seg := range segs {
		if len(cur) == 0 {
			return nil, true
		}
		var next []*javaast.TypeDecl
		found := false
		for _, t := range cur {
			if fd := p.fieldOf(t, seg); fd != nil {
				next = append(next, p.fieldTypes(f, fd)...)
				found = true
			}
		}
		if !found {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// nameTypes attributes a bare identifier used as a receiver: a variable in
// scope, a visible field, or a type name for static access.
func (p *project) nameTypes(f *javaast.File, r javaast.Ref, name string) ([]*javaast.TypeDecl, bool) {
	if v := varInScope(r.Method, name, r.Span); v != nil {
		t := v.ExplicitType()
		if t == "" {
			return nil, false
		}
		return decls(p.resolveType(f, t)), true
	}
	if fd := p.fieldOf(r.Type, name); fd != nil {
		return p.fieldTypes(f, fd), true
	}
	if startsUpper(name) {
		if out := p.resolveType(f, name); len(out) > 0 {
			return decls(out), true
		}
		// Unresolved capitalized names are library types such as System.
		if !p.nameIsVariable(f, name) {
			return nil, true
		}
	}
	return nil, false
}

// nameIsVariable reports whether any declaration in f introduces name as
// a variable or field.
func (p *project) nameIsVariable(f *javaast.File, name string) bool {
	for _, t := range f.Types {
		if t.Field(name) != nil {
			return true
		}
		for _, m := range t.Methods {
			if len(m.Vars(name)) > 0 {
				return true
			}
		}
	}
	return false
}

// fieldOf finds field name visible from t: declared on t, an enclosing
// type, or a project supertype of either.
func (p *project) fieldOf(t *javaast.TypeDecl, name string) *javaast.FieldDecl {
	for cur := t; cur != nil; cur = cur.Outer {
		if fd := cur.Field(name); fd != nil {
			return fd
		}
		for _, a := range p.ancestors(cur) {
			if fd := a.Field(name); fd != nil {
				return fd
			}
		}
	}
	return nil
}

// fieldTypes resolves the declared type of fd from its declaring file,
// falling back to from for types the index does not track.
func (p *project) fieldTypes(from *javaast.File, fd *javaast.FieldDecl) []*javaast.TypeDecl {
	f := p.fileOf[fd.Owner]
	if f == nil {
		f = from
	}
	return decls(p.resolveType(f, fd.Type))
}

// varInScope returns the innermost parameter or local of m named name
// whose scope contains at.
func varInScope(m *javaast.MethodDecl, name string, at javaast.Span) *javaast.VarDecl {
	if m == nil {
		return nil
	}
	var best *javaast.VarDecl
	for _, v := range m.Vars(name) {
		if !v.Scope.Contains(at) {
			continue
		}
		if best == nil || best.Scope.Contains(v.Scope) {
			best = v
		}
	}
	return best
}

func decls(refs []typeRef) []*javaast.TypeDecl {
	out := make([]*javaast.TypeDecl, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.decl)
	}
	return out
}

func startsUpper(s string) bool {
	for _, r := range s {
		return unicode.IsUpper(r)
	}
	return false
}

func lastSegmentOf(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}

// packageDir returns the directory a package maps to below a source root.
func packageDir(pkg string) string {
	return strings.ReplaceAll(pkg, ".", "/")
}

// sourceRoot returns the source root of rel given its package, or false
// when the directory layout does not mirror the package.
func sourceRoot(rel, pkg string) (string, bool) {
	dir := path.Dir(rel)
	if pkg == "" {
		return dir, true
	}
	want := packageDir(pkg)
	if dir == want {
		return ".", true
	}
	if !strings.HasSuffix(dir, "/"+want) {
		return "", false
	}
	return strings.TrimSuffix(dir, "/"+want), true
}
