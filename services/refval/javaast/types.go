// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package javaast

import (
	"sort"
	"strings"
)

// =============================================================================
// SPANS
// =============================================================================

// Span is a half-open byte range [Start, End) into a file's source.
type Span struct {
	Start int
	End   int
}

// Len returns the span length in bytes.
func (s Span) Len() int {
	return s.End - s.Start
}

// IsZero reports whether the span is unset.
func (s Span) IsZero() bool {
	return s.Start == 0 && s.End == 0
}

// Contains reports whether o lies entirely inside s.
func (s Span) Contains(o Span) bool {
	return s.Start <= o.Start && o.End <= s.End
}

// Overlaps reports whether s and o share at least one byte.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// =============================================================================
// DECLARATIONS
// =============================================================================

// TypeKind is the flavor of a type declaration.
type TypeKind string

const (
	TypeClass      TypeKind = "class"
	TypeInterface  TypeKind = "interface"
	TypeEnum       TypeKind = "enum"
	TypeRecord     TypeKind = "record"
	TypeAnnotation TypeKind = "annotation"
)

// Annotation is one annotation in a modifier list.
type Annotation struct {
	// Name is the annotation name as written, without '@'.
	Name string

	// Span covers the annotation including '@' and arguments.
	Span Span
}

// SimpleName returns the last dotted segment of the name.
func (a Annotation) SimpleName() string {
	return lastSegment(a.Name)
}

// Modifiers is the modifier list of a declaration.
type Modifiers struct {
	Keywords    []string
	Annotations []Annotation

	// Span covers the whole modifier list. Zero when absent.
	Span Span
}

// Has reports whether keyword is present.
func (m Modifiers) Has(keyword string) bool {
	for _, k := range m.Keywords {
		if k == keyword {
			return true
		}
	}
	return false
}

// Annotation returns the annotation with the given simple name.
func (m Modifiers) Annotation(simpleName string) (Annotation, bool) {
	want := lastSegment(strings.TrimPrefix(simpleName, "@"))
	for _, a := range m.Annotations {
		if a.SimpleName() == want {
			return a, true
		}
	}
	return Annotation{}, false
}

// TypeDecl is a class, interface, enum, record or annotation type.
type TypeDecl struct {
	Name      string
	Kind      TypeKind
	NameSpan  Span
	Span      Span
	Body      Span
	Line      int
	Modifiers Modifiers

	// Supertypes are the simple names of extended and implemented types.
	Supertypes []string

	// Outer is the enclosing type, nil for top-level types.
	Outer *TypeDecl

	// Local is set for types declared inside a method body.
	Local bool

	Methods []*MethodDecl
	Fields  []*FieldDecl
}

// TopLevel reports whether the type is not nested.
func (t *TypeDecl) TopLevel() bool {
	return t.Outer == nil
}

// Private reports whether the type is declared private.
func (t *TypeDecl) Private() bool {
	return t.Modifiers.Has("private")
}

// BinaryName returns Outer.Inner style name without the package.
func (t *TypeDecl) BinaryName() string {
	if t.Outer == nil {
		return t.Name
	}
	return t.Outer.BinaryName() + "." + t.Name
}

// MethodsNamed returns every method or constructor with the given name.
func (t *TypeDecl) MethodsNamed(name string) []*MethodDecl {
	var out []*MethodDecl
	for _, m := range t.Methods {
		if m.Name == name && !m.Constructor {
			out = append(out, m)
		}
	}
	return out
}

// Constructors returns the declared constructors.
func (t *TypeDecl) Constructors() []*MethodDecl {
	var out []*MethodDecl
	for _, m := range t.Methods {
		if m.Constructor {
			out = append(out, m)
		}
	}
	return out
}

// Field returns the field with the given name.
func (t *TypeDecl) Field(name string) *FieldDecl {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Encloses reports whether t is o or one of o's outer types.
func (t *TypeDecl) Encloses(o *TypeDecl) bool {
	for cur := o; cur != nil; cur = cur.Outer {
		if cur == t {
			return true
		}
	}
	return false
}

// MethodDecl is a method or constructor.
type MethodDecl struct {
	Name        string
	NameSpan    Span
	Span        Span
	Line        int
	EndLine     int
	Constructor bool
	Modifiers   Modifiers
	Owner       *TypeDecl

	// TypeParams is the type parameter list as written, including brackets.
	TypeParams string

	// ReturnType spans the declared return type. Zero for constructors.
	ReturnType Span

	// Throws is the throws clause as written, including the keyword.
	Throws string

	Params []*VarDecl
	Locals []*VarDecl

	// Body spans the method block, zero for abstract methods.
	Body Span

	// Blocks lists every statement block inside the body, outermost first.
	Blocks []Block
}

// Static reports whether the method is static.
func (m *MethodDecl) Static() bool {
	return m.Modifiers.Has("static")
}

// Private reports whether the method is private.
func (m *MethodDecl) Private() bool {
	return m.Modifiers.Has("private")
}

// Vars returns the parameters and locals with the given name in source order.
func (m *MethodDecl) Vars(name string) []*VarDecl {
	var out []*VarDecl
	for _, v := range m.Params {
		if v.Name == name {
			out = append(out, v)
		}
	}
	for _, v := range m.Locals {
		if v.Name == name {
			out = append(out, v)
		}
	}
	return out
}

// AllVars returns parameters followed by locals.
func (m *MethodDecl) AllVars() []*VarDecl {
	out := make([]*VarDecl, 0, len(m.Params)+len(m.Locals))
	out = append(out, m.Params...)
	return append(out, m.Locals...)
}

// VarKind is where a variable was declared.
type VarKind string

const (
	VarParam    VarKind = "param"
	VarLocal    VarKind = "local"
	VarLambda   VarKind = "lambda"
	VarCatch    VarKind = "catch"
	VarForEach  VarKind = "foreach"
	VarResource VarKind = "resource"
)

// VarDecl is a parameter or local variable.
type VarDecl struct {
	Name     string
	NameSpan Span
	Kind     VarKind
	Line     int

	// Type is the declared type text, "var" when inferred, empty for
	// implicitly typed lambda parameters.
	Type     string
	TypeSpan Span

	// Dims holds declarator array brackets such as "[]".
	Dims string

	Varargs bool

	// Decl spans the declaring statement or parameter.
	Decl Span

	// Scope is the region in which the name is visible.
	Scope Span

	// Declarators counts variables sharing the declared type.
	Declarators int

	Modifiers Modifiers
}

// ExplicitType returns the full declared type or "" when inferred.
func (v *VarDecl) ExplicitType() string {
	if v.Type == "" || v.Type == "var" {
		return ""
	}
	t := v.Type + v.Dims
	if v.Varargs {
		t += "[]"
	}
	return t
}

// FieldDecl is a field, interface constant, enum constant or record
// component.
type FieldDecl struct {
	Name        string
	NameSpan    Span
	Line        int
	Type        string
	TypeSpan    Span
	Dims        string
	Decl        Span
	Declarators int
	Modifiers   Modifiers
	Owner       *TypeDecl

	EnumConstant bool
	Component    bool
}

// Private reports whether the field is private.
func (f *FieldDecl) Private() bool {
	return f.Modifiers.Has("private") || f.Component
}

// Block is a statement list.
type Block struct {
	Span       Span
	Statements []Statement
}

// Statement is one direct child statement of a block.
type Statement struct {
	Kind      string
	Span      Span
	StartLine int
	EndLine   int
}

// =============================================================================
// IMPORTS
// =============================================================================

// Import is one import declaration.
type Import struct {
	// Path is the dotted name without "static" or ".*".
	Path     string
	Static   bool
	Wildcard bool

	// Span covers the whole declaration including the semicolon.
	Span Span

	// PathSpan covers the dotted name only.
	PathSpan Span
	Line     int
}

// SimpleName returns the last segment of a single-type import.
func (i Import) SimpleName() string {
	if i.Wildcard {
		return ""
	}
	return lastSegment(i.Path)
}

// Package returns the package part of a non-static single-type import,
// or the imported package of a non-static wildcard import.
func (i Import) Package() string {
	if i.Wildcard {
		return i.Path
	}
	if idx := strings.LastIndex(i.Path, "."); idx >= 0 {
		return i.Path[:idx]
	}
	return ""
}

// =============================================================================
// REFERENCES
// =============================================================================

// RefKind is the syntactic role of an identifier occurrence.
type RefKind string

const (
	// RefType is a type name in a type position or an annotation name.
	RefType RefKind = "type"

	// RefName is an identifier in expression position.
	RefName RefKind = "name"

	// RefMethodCall is the name of a method invocation.
	RefMethodCall RefKind = "call"

	// RefMethodRef is the name part of a method reference (X::name).
	RefMethodRef RefKind = "method_ref"

	// RefFieldAccess is the member part of x.name.
	RefFieldAccess RefKind = "field_access"
)

// ObjectKind classifies the qualifier of a call, method reference or
// field access.
type ObjectKind string

const (
	ObjectNone  ObjectKind = ""
	ObjectThis  ObjectKind = "this"
	ObjectSuper ObjectKind = "super"
	ObjectName  ObjectKind = "name"
	ObjectExpr  ObjectKind = "expr"

	// ObjectNew is an instance creation; Object holds the created type.
	ObjectNew ObjectKind = "new"
)

// Ref is one identifier occurrence that is not a declaration name.
type Ref struct {
	Name   string
	Kind   RefKind
	Span   Span
	Line   int
	Column int

	// Object is the qualifier text for calls, method references and field
	// accesses.
	Object     string
	ObjectKind ObjectKind

	// Qualifier is set when this identifier is itself the qualifier of a
	// call, method reference or field access.
	Qualifier bool

	// Read and Write describe variable use for RefName occurrences.
	Read  bool
	Write bool

	// CaseLabel marks a switch label constant.
	CaseLabel bool

	// Type and Method are the innermost enclosing declarations.
	Type   *TypeDecl
	Method *MethodDecl
}

// QualifiedName is a dotted identifier chain outside package and import
// declarations, such as com.acme.Foo in a type or expression.
type QualifiedName struct {
	Text string
	Span Span
	Line int
}

// JumpKind is a control transfer statement.
type JumpKind string

const (
	JumpReturn          JumpKind = "return"
	JumpBreak           JumpKind = "break"
	JumpContinue        JumpKind = "continue"
	JumpYield           JumpKind = "yield"
	JumpConstructorCall JumpKind = "constructor_call"
)

// Jump is a control transfer with the span of the construct it leaves to.
type Jump struct {
	Kind   JumpKind
	Label  string
	Span   Span
	Target Span
	Line   int
}

// =============================================================================
// FILE
// =============================================================================

// File is the index of one Java compilation unit.
//
// Thread Safety: Immutable after Parse; safe for concurrent reads.
type File struct {
	Path   string
	Hash   string
	Source []byte

	Package     string
	PackageSpan Span
	HasPackage  bool

	// PackageDecl spans the whole package declaration.
	PackageDecl Span

	Imports []Import

	// Types lists every type declaration, outer before inner.
	Types []*TypeDecl

	Refs      []Ref
	Qualified []QualifiedName
	Jumps     []Jump

	// SyntaxError is set when tree-sitter reported ERROR or MISSING nodes.
	SyntaxError bool
	ErrorLine   int

	lineStarts []int
}

// TopLevelTypes returns the non-nested type declarations.
func (f *File) TopLevelTypes() []*TypeDecl {
	var out []*TypeDecl
	for _, t := range f.Types {
		if t.TopLevel() {
			out = append(out, t)
		}
	}
	return out
}

// TypesNamed returns every type with the given simple name. A dotted
// Outer.Inner name matches on the binary name.
func (f *File) TypesNamed(name string) []*TypeDecl {
	var out []*TypeDecl
	for _, t := range f.Types {
		if t.Name == name || t.BinaryName() == name {
			out = append(out, t)
		}
	}
	return out
}

// QualifiedName returns the fully qualified name of t.
func (f *File) QualifiedName(t *TypeDecl) string {
	if f.Package == "" {
		return t.BinaryName()
	}
	return f.Package + "." + t.BinaryName()
}

// Text returns the source text covered by s.
func (f *File) Text(s Span) string {
	if s.Start < 0 || s.End > len(f.Source) || s.Start > s.End {
		return ""
	}
	return string(f.Source[s.Start:s.End])
}

// Mentions reports whether the raw source contains name as a whole word.
func (f *File) Mentions(name string) bool {
	return ContainsWord(f.Source, name)
}

// Line returns the 1-based line containing offset.
func (f *File) Line(offset int) int {
	return sort.Search(len(f.lineStarts), func(i int) bool { return f.lineStarts[i] > offset })
}

// LineCount returns the number of lines.
func (f *File) LineCount() int {
	return len(f.lineStarts)
}

// LineSpan returns the span of a 1-based line including its newline.
func (f *File) LineSpan(line int) Span {
	if line < 1 || line > len(f.lineStarts) {
		return Span{}
	}
	start := f.lineStarts[line-1]
	end := len(f.Source)
	if line < len(f.lineStarts) {
		end = f.lineStarts[line]
	}
	return Span{Start: start, End: end}
}

// LineStart returns the offset of the first byte of the line holding offset.
func (f *File) LineStart(offset int) int {
	return f.LineSpan(f.Line(offset)).Start
}

// Indent returns the leading whitespace of the line holding offset.
func (f *File) Indent(offset int) string {
	start := f.LineStart(offset)
	end := start
	for end < len(f.Source) && (f.Source[end] == ' ' || f.Source[end] == '\t') {
		end++
	}
	return string(f.Source[start:end])
}

// FirstOnLine reports whether only whitespace precedes offset on its line.
func (f *File) FirstOnLine(offset int) bool {
	for i := f.LineStart(offset); i < offset; i++ {
		if f.Source[i] != ' ' && f.Source[i] != '\t' {
			return false
		}
	}
	return true
}

// ImportInsertOffset returns where a new import line belongs: after the
// last import, else after the package declaration, else at the top.
func (f *File) ImportInsertOffset() int {
	end := 0
	if len(f.Imports) > 0 {
		end = f.Imports[len(f.Imports)-1].Span.End
	} else if f.HasPackage {
		end = f.PackageDecl.End
	} else {
		return 0
	}
	// Move past the rest of the line.
	for end < len(f.Source) && f.Source[end] != '\n' {
		end++
	}
	if end < len(f.Source) {
		end++
	}
	return end
}

// Imported reports whether the file has a single-type import of fqn.
func (f *File) Imported(fqn string) bool {
	for _, imp := range f.Imports {
		if !imp.Static && !imp.Wildcard && imp.Path == fqn {
			return true
		}
	}
	return false
}

// ImportsSimpleName returns the single-type import binding name, if any.
func (f *File) ImportsSimpleName(name string) (Import, bool) {
	for _, imp := range f.Imports {
		if !imp.Static && !imp.Wildcard && imp.SimpleName() == name {
			return imp, true
		}
	}
	return Import{}, false
}

// WildcardImports reports whether pkg.* is imported.
func (f *File) WildcardImports(pkg string) bool {
	for _, imp := range f.Imports {
		if !imp.Static && imp.Wildcard && imp.Path == pkg {
			return true
		}
	}
	return false
}

// RefsNamed returns the references with the given name and kinds. An
// empty kinds list matches every kind.
func (f *File) RefsNamed(name string, kinds ...RefKind) []Ref {
	var out []Ref
	for _, r := range f.Refs {
		if r.Name != name {
			continue
		}
		if len(kinds) == 0 {
			out = append(out, r)
			continue
		}
		for _, k := range kinds {
			if r.Kind == k {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// MethodAt returns the innermost method whose span contains s.
func (f *File) MethodAt(s Span) *MethodDecl {
	var best *MethodDecl
	for _, t := range f.Types {
		for _, m := range t.Methods {
			if m.Span.Contains(s) && (best == nil || best.Span.Contains(m.Span)) {
				best = m
			}
		}
	}
	return best
}

func lastSegment(name string) string {
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		return name[idx+1:]
	}
	return name
}
