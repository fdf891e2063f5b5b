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
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
)

// =============================================================================
// PARSE
// =============================================================================

// Parse indexes one Java compilation unit.
//
// Description:
//
//	Parses src with tree-sitter-java and walks the tree once, collecting
//	declarations, identifier references, qualified names, jumps and
//	statement blocks. Syntax errors do not fail the parse; they set
//	File.SyntaxError so callers can decide whether the index is complete.
//
// Inputs:
//
//	ctx - Context for cancellation
//	path - Slash-separated path recorded on the File
//	src - Source bytes. Retained by the File; callers must not mutate.
//
// Outputs:
//
//	*File - The index
//	error - Non-nil if tree-sitter produced no tree or ctx was canceled
//
// Thread Safety: Safe for concurrent use. Each call creates its own parser.
func Parse(ctx context.Context, path string, src []byte) (*File, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	ctx, span := startParseSpan(ctx, path, len(src))
	defer span.End()
	start := time.Now()

	parser := sitter.NewParser()
	parser.SetLanguage(java.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		recordParse(ctx, time.Since(start), false)
		return nil, fmt.Errorf("%w: %s: %v", ErrParseFailed, path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		recordParse(ctx, time.Since(start), false)
		return nil, fmt.Errorf("%w: %s: nil root", ErrParseFailed, path)
	}

	sum := sha256.Sum256(src)
	f := &File{
		Path:       path,
		Hash:       hex.EncodeToString(sum[:]),
		Source:     src,
		lineStarts: lineStarts(src),
	}

	w := &walker{f: f, src: src}
	w.walk(root)
	if root.HasError() && !f.SyntaxError {
		f.SyntaxError = true
		f.ErrorLine = 1
	}

	if err := ctx.Err(); err != nil {
		recordParse(ctx, time.Since(start), false)
		return nil, err
	}
	setParseSpanResult(span, len(f.Types), len(f.Refs), f.SyntaxError)
	recordParse(ctx, time.Since(start), true)
	return f, nil
}

// HasSyntaxError reports whether src contains a syntax error and the
// first line it was seen on.
func HasSyntaxError(ctx context.Context, src []byte) (bool, int, error) {
	f, err := Parse(ctx, "", src)
	if err != nil {
		return false, 0, err
	}
	return f.SyntaxError, f.ErrorLine, nil
}

// ValidType reports whether typeText parses as exactly one Java type.
func ValidType(ctx context.Context, typeText string) bool {
	typeText = strings.TrimSpace(typeText)
	if typeText == "" || strings.ContainsAny(typeText, ";{}=()") {
		return false
	}
	src := []byte("class __RefvalProbe { " + typeText + " __refvalProbe; }")
	f, err := Parse(ctx, "", src)
	if err != nil || f.SyntaxError || len(f.Types) != 1 {
		return false
	}
	fields := f.Types[0].Fields
	if len(fields) != 1 || fields[0].Name != "__refvalProbe" {
		return false
	}
	return NormalizeType(fields[0].Type) == NormalizeType(typeText)
}

func lineStarts(src []byte) []int {
	starts := []int{0}
	for i, b := range src {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// =============================================================================
// WALKER
// =============================================================================

type targetKind int

const (
	targetMethod targetKind = iota
	targetLambda
	targetLoop
	targetSwitch
	targetLabel
)

type jumpTarget struct {
	kind  targetKind
	label string
	span  Span
}

type walker struct {
	f       *File
	src     []byte
	types   []*TypeDecl
	methods []*MethodDecl
	targets []jumpTarget
}

func (w *walker) span(n *sitter.Node) Span {
	return Span{Start: int(n.StartByte()), End: int(n.EndByte())}
}

func (w *walker) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(w.src)
}

func line(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

func sameNode(a, b *sitter.Node) bool {
	return a != nil && b != nil &&
		a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

func (w *walker) topType() *TypeDecl {
	if len(w.types) == 0 {
		return nil
	}
	return w.types[len(w.types)-1]
}

func (w *walker) topMethod() *MethodDecl {
	if len(w.methods) == 0 {
		return nil
	}
	return w.methods[len(w.methods)-1]
}

func (w *walker) walkChildren(n *sitter.Node) {
	for i := 0; i < int(n.ChildCount()); i++ {
		if c := n.Child(i); c != nil {
			w.walk(c)
		}
	}
}

func (w *walker) withTarget(t jumpTarget, n *sitter.Node) {
	w.targets = append(w.targets, t)
	w.walkChildren(n)
	w.targets = w.targets[:len(w.targets)-1]
}

func (w *walker) walk(n *sitter.Node) {
	if n.IsMissing() || n.Type() == "ERROR" {
		if !w.f.SyntaxError {
			w.f.SyntaxError = true
			w.f.ErrorLine = line(n)
		}
	}

	switch n.Type() {
	case "package_declaration":
		w.packageDecl(n)
	case "import_declaration":
		w.importDecl(n)
	case "line_comment", "block_comment":

	case "class_declaration":
		w.typeDecl(n, TypeClass)
	case "interface_declaration":
		w.typeDecl(n, TypeInterface)
	case "enum_declaration":
		w.typeDecl(n, TypeEnum)
	case "record_declaration":
		w.typeDecl(n, TypeRecord)
	case "annotation_type_declaration":
		w.typeDecl(n, TypeAnnotation)

	case "method_declaration", "constructor_declaration", "compact_constructor_declaration":
		w.methodDecl(n)
	case "field_declaration", "constant_declaration":
		w.fieldDecl(n)
		w.walkChildren(n)
	case "enum_constant":
		w.enumConstant(n)
		w.walkChildren(n)

	case "formal_parameter", "spread_parameter":
		w.param(n)
		w.walkChildren(n)
	case "local_variable_declaration":
		w.localDecl(n)
		w.walkChildren(n)
	case "catch_formal_parameter":
		w.scopedVar(n, VarCatch, n.Parent())
		w.walkChildren(n)
	case "resource":
		if n.ChildByFieldName("name") != nil {
			w.scopedVar(n, VarResource, enclosing(n, "try_with_resources_statement"))
		}
		w.walkChildren(n)

	case "lambda_expression":
		w.lambdaParams(n)
		w.withTarget(jumpTarget{kind: targetLambda, span: w.span(n)}, n)
	case "enhanced_for_statement":
		w.scopedVar(n, VarForEach, n)
		w.withTarget(jumpTarget{kind: targetLoop, span: w.span(n)}, n)
	case "for_statement", "while_statement", "do_statement":
		w.withTarget(jumpTarget{kind: targetLoop, span: w.span(n)}, n)
	case "switch_expression", "switch_statement":
		w.withTarget(jumpTarget{kind: targetSwitch, span: w.span(n)}, n)
	case "labeled_statement":
		w.withTarget(jumpTarget{kind: targetLabel, label: w.labelOf(n), span: w.span(n)}, n)

	case "return_statement":
		w.jump(n, JumpReturn, "")
		w.walkChildren(n)
	case "break_statement":
		w.jump(n, JumpBreak, w.labelOf(n))
	case "continue_statement":
		w.jump(n, JumpContinue, w.labelOf(n))
	case "yield_statement":
		w.jump(n, JumpYield, "")
		w.walkChildren(n)
	case "explicit_constructor_invocation":
		w.jump(n, JumpConstructorCall, "")
		w.walkChildren(n)

	case "block", "constructor_body", "switch_block_statement_group":
		w.block(n)
		w.walkChildren(n)

	case "scoped_type_identifier", "scoped_identifier", "field_access":
		w.qualified(n)
		w.walkChildren(n)

	case "identifier":
		w.identifier(n)
	case "type_identifier":
		if p := n.Parent(); p == nil || p.Type() != "type_parameter" {
			w.addRef(n, Ref{Kind: RefType})
		}

	default:
		w.walkChildren(n)
	}
}

// =============================================================================
// PACKAGE & IMPORTS
// =============================================================================

func (w *walker) packageDecl(n *sitter.Node) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c.Type() == "scoped_identifier" || c.Type() == "identifier" {
			w.f.Package = stripSpace(w.text(c))
			w.f.PackageSpan = w.span(c)
			w.f.PackageDecl = w.span(n)
			w.f.HasPackage = true
			return
		}
	}
}

func (w *walker) importDecl(n *sitter.Node) {
	imp := Import{Span: w.span(n), Line: line(n)}
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		switch c.Type() {
		case "static":
			imp.Static = true
		case "asterisk":
			imp.Wildcard = true
		case "scoped_identifier", "identifier":
			imp.Path = stripSpace(w.text(c))
			imp.PathSpan = w.span(c)
		}
	}
	if imp.Path != "" {
		w.f.Imports = append(w.f.Imports, imp)
	}
}

// =============================================================================
// DECLARATIONS
// =============================================================================

func (w *walker) modifiers(n *sitter.Node) Modifiers {
	var mods Modifiers
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c.Type() != "modifiers" {
			continue
		}
		mods.Span = w.span(c)
		for j := 0; j < int(c.ChildCount()); j++ {
			m := c.Child(j)
			switch m.Type() {
			case "marker_annotation", "annotation":
				mods.Annotations = append(mods.Annotations, Annotation{
					Name: stripSpace(w.text(m.ChildByFieldName("name"))),
					Span: w.span(m),
				})
			default:
				if !m.IsNamed() {
					mods.Keywords = append(mods.Keywords, m.Type())
				}
			}
		}
		break
	}
	return mods
}

// belongsToTop reports whether a member node sits directly in the body of
// the innermost type declaration rather than an anonymous class.
func (w *walker) belongsToTop(n *sitter.Node) bool {
	top := w.topType()
	body := n.Parent()
	if top == nil || body == nil {
		return false
	}
	if body.Type() == "enum_body_declarations" {
		body = body.Parent()
	}
	return body != nil && w.span(body) == top.Body
}

func (w *walker) typeDecl(n *sitter.Node, kind TypeKind) {
	name := n.ChildByFieldName("name")
	if name == nil {
		w.walkChildren(n)
		return
	}
	t := &TypeDecl{
		Name:      w.text(name),
		Kind:      kind,
		NameSpan:  w.span(name),
		Span:      w.span(n),
		Line:      line(n),
		Modifiers: w.modifiers(n),
		Outer:     w.topType(),
		Local:     w.topMethod() != nil,
	}
	if body := n.ChildByFieldName("body"); body != nil {
		t.Body = w.span(body)
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		switch c.Type() {
		case "superclass", "super_interfaces", "extends_interfaces":
			t.Supertypes = append(t.Supertypes, w.typeNames(c)...)
		}
	}
	w.f.Types = append(w.f.Types, t)

	w.types = append(w.types, t)
	// Methods of a local class are not jump targets of the outer method.
	saved := w.targets
	w.targets = nil
	w.walkChildren(n)
	w.targets = saved
	w.types = w.types[:len(w.types)-1]
}

// typeNames collects the base names of the types listed under n.
func (w *walker) typeNames(n *sitter.Node) []string {
	var out []string
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "type_list":
			out = append(out, w.typeNames(c)...)
		case "type_identifier", "generic_type", "scoped_type_identifier":
			out = append(out, BaseTypeName(w.text(c)))
		}
	}
	return out
}

func (w *walker) methodDecl(n *sitter.Node) {
	name := n.ChildByFieldName("name")
	if name == nil || !w.belongsToTop(n) {
		// Anonymous class member: keep the outer method as the reference
		// context but give returns their own target.
		w.withTarget(jumpTarget{kind: targetMethod, span: w.span(n)}, n)
		return
	}
	owner := w.topType()
	m := &MethodDecl{
		Name:        w.text(name),
		NameSpan:    w.span(name),
		Span:        w.span(n),
		Line:        line(n),
		EndLine:     int(n.EndPoint().Row) + 1,
		Constructor: n.Type() != "method_declaration",
		Modifiers:   w.modifiers(n),
		Owner:       owner,
	}
	if tp := n.ChildByFieldName("type_parameters"); tp != nil {
		m.TypeParams = w.text(tp)
	}
	if rt := n.ChildByFieldName("type"); rt != nil {
		m.ReturnType = w.span(rt)
	}
	if body := n.ChildByFieldName("body"); body != nil {
		m.Body = w.span(body)
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if c := n.Child(i); c.Type() == "throws" {
			m.Throws = w.text(c)
		}
	}
	owner.Methods = append(owner.Methods, m)

	w.methods = append(w.methods, m)
	w.withTarget(jumpTarget{kind: targetMethod, span: m.Span}, n)
	w.methods = w.methods[:len(w.methods)-1]
}

func (w *walker) fieldDecl(n *sitter.Node) {
	if !w.belongsToTop(n) {
		return
	}
	owner := w.topType()
	typ := n.ChildByFieldName("type")
	mods := w.modifiers(n)
	decls := namedChildrenOfType(n, "variable_declarator")
	for _, d := range decls {
		name := d.ChildByFieldName("name")
		if name == nil {
			continue
		}
		owner.Fields = append(owner.Fields, &FieldDecl{
			Name:        w.text(name),
			NameSpan:    w.span(name),
			Line:        line(name),
			Type:        w.text(typ),
			TypeSpan:    w.spanOrZero(typ),
			Dims:        w.text(d.ChildByFieldName("dimensions")),
			Decl:        w.span(n),
			Declarators: len(decls),
			Modifiers:   mods,
			Owner:       owner,
		})
	}
}

func (w *walker) enumConstant(n *sitter.Node) {
	owner := w.topType()
	name := n.ChildByFieldName("name")
	if owner == nil || name == nil {
		return
	}
	owner.Fields = append(owner.Fields, &FieldDecl{
		Name:         w.text(name),
		NameSpan:     w.span(name),
		Line:         line(name),
		Type:         owner.Name,
		Decl:         w.span(n),
		Declarators:  1,
		Modifiers:    w.modifiers(n),
		Owner:        owner,
		EnumConstant: true,
	})
}

func (w *walker) spanOrZero(n *sitter.Node) Span {
	if n == nil {
		return Span{}
	}
	return w.span(n)
}

// =============================================================================
// VARIABLES
// =============================================================================

func (w *walker) param(n *sitter.Node) {
	list := n.Parent()
	if list == nil || list.Parent() == nil {
		return
	}
	owner := list.Parent()

	name := n.ChildByFieldName("name")
	typ := n.ChildByFieldName("type")
	dims := n.ChildByFieldName("dimensions")
	varargs := n.Type() == "spread_parameter"
	if varargs {
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			switch c.Type() {
			case "modifiers":
			case "variable_declarator":
				name = c.ChildByFieldName("name")
				dims = c.ChildByFieldName("dimensions")
			default:
				if typ == nil {
					typ = c
				}
			}
		}
	}
	if name == nil {
		return
	}

	if owner.Type() == "record_declaration" {
		if t := w.topType(); t != nil && w.span(owner) == t.Span {
			t.Fields = append(t.Fields, &FieldDecl{
				Name:        w.text(name),
				NameSpan:    w.span(name),
				Line:        line(name),
				Type:        w.text(typ),
				TypeSpan:    w.spanOrZero(typ),
				Decl:        w.span(n),
				Declarators: 1,
				Modifiers:   w.modifiers(n),
				Owner:       t,
				Component:   true,
			})
		}
		return
	}

	m := w.topMethod()
	if m == nil {
		return
	}
	v := &VarDecl{
		Name:        w.text(name),
		NameSpan:    w.span(name),
		Kind:        VarParam,
		Line:        line(name),
		Type:        w.text(typ),
		TypeSpan:    w.spanOrZero(typ),
		Dims:        w.text(dims),
		Varargs:     varargs,
		Decl:        w.span(n),
		Scope:       w.span(owner),
		Declarators: 1,
		Modifiers:   w.modifiers(n),
	}
	switch {
	case owner.Type() == "lambda_expression":
		v.Kind = VarLambda
		m.Locals = append(m.Locals, v)
	case w.span(owner) == m.Span:
		m.Params = append(m.Params, v)
	default:
		m.Locals = append(m.Locals, v)
	}
}

func (w *walker) localDecl(n *sitter.Node) {
	m := w.topMethod()
	parent := n.Parent()
	if m == nil || parent == nil {
		return
	}
	scope := Span{Start: int(n.StartByte()), End: int(parent.EndByte())}
	if parent.Type() == "for_statement" {
		scope = w.span(parent)
	}
	typ := n.ChildByFieldName("type")
	mods := w.modifiers(n)
	decls := namedChildrenOfType(n, "variable_declarator")
	for _, d := range decls {
		name := d.ChildByFieldName("name")
		if name == nil {
			continue
		}
		m.Locals = append(m.Locals, &VarDecl{
			Name:        w.text(name),
			NameSpan:    w.span(name),
			Kind:        VarLocal,
			Line:        line(name),
			Type:        w.text(typ),
			TypeSpan:    w.spanOrZero(typ),
			Dims:        w.text(d.ChildByFieldName("dimensions")),
			Decl:        w.span(n),
			Scope:       scope,
			Declarators: len(decls),
			Modifiers:   mods,
		})
	}
}

// scopedVar records the single variable declared by n, visible in scope.
func (w *walker) scopedVar(n *sitter.Node, kind VarKind, scope *sitter.Node) {
	m := w.topMethod()
	name := n.ChildByFieldName("name")
	if m == nil || name == nil || scope == nil {
		return
	}
	typ := n.ChildByFieldName("type")
	if kind == VarCatch {
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if c := n.NamedChild(i); c.Type() == "catch_type" {
				typ = c
			}
		}
	}
	m.Locals = append(m.Locals, &VarDecl{
		Name:        w.text(name),
		NameSpan:    w.span(name),
		Kind:        kind,
		Line:        line(name),
		Type:        w.text(typ),
		TypeSpan:    w.spanOrZero(typ),
		Dims:        w.text(n.ChildByFieldName("dimensions")),
		Decl:        w.span(n),
		Scope:       w.span(scope),
		Declarators: 1,
		Modifiers:   w.modifiers(n),
	})
}

func (w *walker) lambdaParams(n *sitter.Node) {
	m := w.topMethod()
	params := n.ChildByFieldName("parameters")
	if m == nil || params == nil {
		return
	}
	var names []*sitter.Node
	switch params.Type() {
	case "identifier":
		names = append(names, params)
	case "inferred_parameters":
		names = namedChildrenOfType(params, "identifier")
	}
	for _, name := range names {
		m.Locals = append(m.Locals, &VarDecl{
			Name:        w.text(name),
			NameSpan:    w.span(name),
			Kind:        VarLambda,
			Line:        line(name),
			Decl:        w.span(params),
			Scope:       w.span(n),
			Declarators: 1,
		})
	}
}

// =============================================================================
// STATEMENTS & JUMPS
// =============================================================================

func (w *walker) block(n *sitter.Node) {
	m := w.topMethod()
	if m == nil {
		return
	}
	b := Block{Span: w.span(n)}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "line_comment", "block_comment", "switch_label":
			continue
		}
		b.Statements = append(b.Statements, Statement{
			Kind:      c.Type(),
			Span:      w.span(c),
			StartLine: line(c),
			EndLine:   int(c.EndPoint().Row) + 1,
		})
	}
	m.Blocks = append(m.Blocks, b)
}

func (w *walker) labelOf(n *sitter.Node) string {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c.Type() == "identifier" {
			return w.text(c)
		}
	}
	return ""
}

func (w *walker) jump(n *sitter.Node, kind JumpKind, label string) {
	j := Jump{Kind: kind, Label: label, Span: w.span(n), Line: line(n)}
	for i := len(w.targets) - 1; i >= 0; i-- {
		t := w.targets[i]
		if t.kind == targetMethod || t.kind == targetLambda {
			if kind == JumpReturn || kind == JumpConstructorCall {
				j.Target = t.span
			}
			break
		}
		match := false
		switch {
		case label != "":
			match = t.kind == targetLabel && t.label == label
		case kind == JumpBreak:
			match = t.kind == targetLoop || t.kind == targetSwitch
		case kind == JumpContinue:
			match = t.kind == targetLoop
		case kind == JumpYield:
			match = t.kind == targetSwitch
		}
		if match {
			j.Target = t.span
			break
		}
	}
	w.f.Jumps = append(w.f.Jumps, j)
}

// =============================================================================
// REFERENCES
// =============================================================================

func (w *walker) qualified(n *sitter.Node) {
	text := stripSpace(w.text(n))
	if IsQualifiedName(text) {
		w.f.Qualified = append(w.f.Qualified, QualifiedName{Text: text, Span: w.span(n), Line: line(n)})
	}
}

func (w *walker) addRef(n *sitter.Node, r Ref) {
	r.Name = w.text(n)
	r.Span = w.span(n)
	r.Line = line(n)
	r.Column = int(n.StartPoint().Column) + 1
	r.Type = w.topType()
	r.Method = w.topMethod()
	w.f.Refs = append(w.f.Refs, r)
}

func (w *walker) objectOf(obj *sitter.Node) (string, ObjectKind) {
	if obj == nil {
		return "", ObjectNone
	}
	switch obj.Type() {
	case "this":
		return "this", ObjectThis
	case "super":
		return "super", ObjectSuper
	case "identifier":
		return w.text(obj), ObjectName
	case "object_creation_expression":
		if t := obj.ChildByFieldName("type"); t != nil {
			return stripSpace(w.text(t)), ObjectNew
		}
	case "parenthesized_expression":
		if obj.NamedChildCount() == 1 {
			return w.objectOf(obj.NamedChild(0))
		}
	}
	return stripSpace(w.text(obj)), ObjectExpr
}

func (w *walker) identifier(n *sitter.Node) {
	p := n.Parent()
	if p == nil {
		return
	}
	isField := func(field string) bool { return sameNode(p.ChildByFieldName(field), n) }

	switch p.Type() {
	case "class_declaration", "interface_declaration", "enum_declaration", "record_declaration",
		"annotation_type_declaration", "method_declaration", "constructor_declaration",
		"compact_constructor_declaration", "formal_parameter", "catch_formal_parameter",
		"enum_constant", "annotation_type_element_declaration", "labeled_statement",
		"break_statement", "continue_statement", "inferred_parameters", "type_parameter",
		"package_declaration", "import_declaration":
		return

	case "variable_declarator", "enhanced_for_statement", "resource":
		if isField("name") {
			return
		}
	case "lambda_expression":
		if isField("parameters") {
			return
		}
	case "element_value_pair":
		if isField("key") {
			return
		}

	case "method_invocation":
		if isField("name") {
			obj, kind := w.objectOf(p.ChildByFieldName("object"))
			w.addRef(n, Ref{Kind: RefMethodCall, Object: obj, ObjectKind: kind})
			return
		}
		if isField("object") {
			w.addRef(n, Ref{Kind: RefName, Qualifier: true, Read: true})
			return
		}

	case "field_access":
		if isField("field") {
			obj, kind := w.objectOf(p.ChildByFieldName("object"))
			w.addRef(n, Ref{Kind: RefFieldAccess, Object: obj, ObjectKind: kind})
			return
		}
		if isField("object") {
			w.addRef(n, Ref{Kind: RefName, Qualifier: true, Read: true})
			return
		}

	case "method_reference":
		last := p.NamedChild(int(p.NamedChildCount()) - 1)
		if sameNode(last, n) && p.NamedChildCount() > 1 {
			obj, kind := w.objectOf(p.NamedChild(0))
			w.addRef(n, Ref{Kind: RefMethodRef, Object: obj, ObjectKind: kind})
			return
		}
		w.addRef(n, Ref{Kind: RefName, Qualifier: true, Read: true})
		return

	case "marker_annotation", "annotation":
		w.addRef(n, Ref{Kind: RefType})
		return

	case "scoped_identifier":
		if isField("name") {
			w.addRef(n, Ref{Kind: RefType})
		}
		return

	case "assignment_expression":
		if isField("left") {
			op := p.ChildByFieldName("operator")
			w.addRef(n, Ref{Kind: RefName, Write: true, Read: op != nil && w.text(op) != "="})
			return
		}

	case "update_expression":
		w.addRef(n, Ref{Kind: RefName, Read: true, Write: true})
		return

	case "switch_label":
		w.addRef(n, Ref{Kind: RefName, Read: true, CaseLabel: true})
		return
	}

	w.addRef(n, Ref{Kind: RefName, Read: true})
}

// =============================================================================
// HELPERS
// =============================================================================

func namedChildrenOfType(n *sitter.Node, typ string) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c.Type() == typ {
			out = append(out, c)
		}
	}
	return out
}

func enclosing(n *sitter.Node, typ string) *sitter.Node {
	for p := n.Parent(); p != nil; p = p.Parent() {
		if p.Type() == typ {
			return p
		}
	}
	return nil
}

func stripSpace(s string) string {
	return strings.Join(strings.Fields(s), "")
}
