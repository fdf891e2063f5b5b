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
	"regexp"
	"strings"

	"github.com/AleutianAI/refval/services/refval/javaast"
)

// extractStrategy moves a contiguous statement range into a new private
// method and replaces it with a call.
//
// The range must cover whole statements of a single block. Every variable
// the range reads from outside must resolve to a parameter or local with
// an explicit type, or to a visible field; at most one value may flow out.
type extractStrategy struct{}

// param is one parameter of the extracted method.
type param struct {
	name string
	typ  string
}

func (extractStrategy) plan(ctx context.Context, req *request) (*ChangeSet, error) {
	name := strings.TrimSpace(req.cand.ProposedValue)
	if !javaast.IsIdentifier(name) {
		return nil, declinef("%q is not a valid Java identifier", name)
	}
	loc := req.cand.Location
	f := req.file
	if loc.StartLine > f.LineCount() || loc.EndLine > f.LineCount() {
		return nil, notFoundf("lines %d-%d are beyond the end of %s", loc.StartLine, loc.EndLine, req.path)
	}

	m, err := extractionMethod(req)
	if err != nil {
		return nil, err
	}
	if m.Body.IsZero() {
		return nil, declinef("method %s has no body", m.Name)
	}
	if len(m.Owner.MethodsNamed(name)) > 0 {
		return nil, declinef("%s already declares a method named %s", m.Owner.Name, name)
	}

	rng := javaast.Span{Start: f.LineSpan(loc.StartLine).Start, End: f.LineSpan(loc.EndLine).End}
	sel := selectStatements(f, m, rng)
	if len(sel) == 0 {
		return nil, declinef("lines %d-%d do not cover whole statements of one block", loc.StartLine, loc.EndLine)
	}
	selSpan := javaast.Span{Start: sel[0].Span.Start, End: sel[len(sel)-1].Span.End}

	for _, j := range f.Jumps {
		if !selSpan.Contains(j.Span) {
			continue
		}
		if j.Kind == javaast.JumpConstructorCall {
			return nil, declinef("range contains an explicit constructor call at line %d", j.Line)
		}
		if j.Target.IsZero() || !selSpan.Contains(j.Target) {
			return nil, declinef("range contains a %s at line %d that leaves the range", j.Kind, j.Line)
		}
	}

	proj, err := req.project(ctx)
	if err != nil {
		return nil, err
	}
	params, assigned, err := freeVariables(proj, f, m, selSpan)
	if err != nil {
		return nil, err
	}

	var liveOut []*javaast.VarDecl
	declaredOut := false
	for _, v := range m.AllVars() {
		if selSpan.Contains(v.Decl) && v.Scope.End > selSpan.End && usedIn(f, v.Name, javaast.Span{Start: selSpan.End, End: v.Scope.End}) {
			liveOut = append(liveOut, v)
			declaredOut = true
		}
	}
	for _, v := range assigned {
		if usedIn(f, v.Name, javaast.Span{Start: selSpan.End, End: v.Scope.End}) || loopCarried(f, m, selSpan, v) {
			liveOut = append(liveOut, v)
		}
	}
	if len(liveOut) > 1 {
		names := make([]string, len(liveOut))
		for i, v := range liveOut {
			names[i] = v.Name
		}
		return nil, declinef("range has %d live-out variables: %s", len(liveOut), strings.Join(names, ", "))
	}

	returnType := "void"
	if len(liveOut) == 1 {
		returnType = liveOut[0].ExplicitType()
		if returnType == "" {
			return nil, declinef("live-out variable %s has an inferred type", liveOut[0].Name)
		}
	}

	args := make([]string, len(params))
	sig := make([]string, len(params))
	for i, p := range params {
		args[i] = p.name
		sig[i] = p.typ + " " + p.name
	}
	call := name + "(" + strings.Join(args, ", ") + ");"
	if len(liveOut) == 1 {
		v := liveOut[0]
		if declaredOut {
			call = returnType + " " + v.Name + " = " + call
		} else {
			call = v.Name + " = " + call
		}
	}

	method := buildMethod(f, m, sel, selSpan, methodHeader{
		name:       name,
		returnType: returnType,
		params:     sig,
		liveOut:    liveOut,
	})

	cs := newChangeSet()
	replace(cs, f, selSpan, call)
	cs.edit(f.Path, f.Source, Edit{Start: m.Span.End, End: m.Span.End, Text: method})
	return cs, nil
}

// extractionMethod finds the method whose lines enclose the range.
func extractionMethod(req *request) (*javaast.MethodDecl, error) {
	loc := req.cand.Location
	tgt, err := req.resolve()
	if err != nil {
		return nil, err
	}
	var methods []*javaast.MethodDecl
	switch tgt.kind {
	case targetMethod:
		methods = tgt.methods
	case targetType:
		methods = tgt.typ.Methods
	default:
		return nil, declinef("extract_method needs a type or method symbol, got %s", loc.Symbol)
	}
	for _, m := range methods {
		if m.Line <= loc.StartLine && loc.EndLine <= m.EndLine {
			return m, nil
		}
	}
	return nil, notFoundf("lines %d-%d are not inside %s", loc.StartLine, loc.EndLine, loc.Symbol)
}

// selectStatements returns the statements of the innermost block of m that
// the range covers exactly: no statement only partly inside, and nothing
// but whitespace and comments between them.
func selectStatements(f *javaast.File, m *javaast.MethodDecl, rng javaast.Span) []javaast.Statement {
	var (
		best     []javaast.Statement
		bestSpan javaast.Span
	)
	for _, b := range m.Blocks {
		var sel []javaast.Statement
		partial := false
		for _, s := range b.Statements {
			switch {
			case rng.Contains(s.Span):
				sel = append(sel, s)
			case rng.Overlaps(s.Span):
				partial = true
			}
		}
		if partial || len(sel) == 0 || !onlyTrivia(f, rng, sel) {
			continue
		}
		if best == nil || bestSpan.Contains(b.Span) {
			best, bestSpan = sel, b.Span
		}
	}
	return best
}

var commentPattern = regexp.MustCompile(`(?s)//[^\n]*|/\*.*?\*/`)

// onlyTrivia reports whether rng holds nothing outside sel except
// whitespace and comments.
func onlyTrivia(f *javaast.File, rng javaast.Span, sel []javaast.Statement) bool {
	var rest strings.Builder
	pos := rng.Start
	for _, s := range sel {
		rest.WriteString(f.Text(javaast.Span{Start: pos, End: s.Span.Start}))
		pos = s.Span.End
	}
	rest.WriteString(f.Text(javaast.Span{Start: pos, End: rng.End}))
	return strings.TrimSpace(commentPattern.ReplaceAllString(rest.String(), "")) == ""
}

// freeVariables collects the outside values the range reads or writes.
//
// Outputs:
//
//	[]param - Parameters in order of first use
//	[]*javaast.VarDecl - Outside variables the range assigns
//	error - ApplyError naming the first unresolvable dependency
func freeVariables(proj *project, f *javaast.File, m *javaast.MethodDecl, sel javaast.Span) ([]param, []*javaast.VarDecl, error) {
	var (
		params   []param
		assigned []*javaast.VarDecl
		seen     = make(map[*javaast.VarDecl]bool)
		written  = make(map[*javaast.VarDecl]bool)
	)
	for _, r := range f.Refs {
		if r.Kind != javaast.RefName || r.CaseLabel || !sel.Contains(r.Span) {
			continue
		}
		if declaredWithin(m, r, sel) {
			continue
		}
		if v := varInScope(m, r.Name, r.Span); v != nil && v.Decl.End <= sel.Start {
			t := v.ExplicitType()
			if t == "" {
				return nil, nil, declinef("unresolvable dependency: %s has an inferred type", r.Name)
			}
			if !seen[v] {
				seen[v] = true
				params = append(params, param{name: v.Name, typ: t})
			}
			if r.Write && !written[v] {
				written[v] = true
				assigned = append(assigned, v)
			}
			continue
		}
		if len(m.Vars(r.Name)) > 0 {
			return nil, nil, declinef("unresolvable dependency: %s is not in scope at line %d", r.Name, f.Line(sel.Start))
		}
		if proj.fieldOf(m.Owner, r.Name) != nil || staticallyImported(f, r.Name) {
			continue
		}
		if r.Qualifier && (startsUpper(r.Name) || packageQualifier(f, r)) {
			continue
		}
		return nil, nil, declinef("unresolvable dependency: %s", r.Name)
	}
	return params, assigned, nil
}

// declaredWithin reports whether r is bound by a declaration inside sel.
func declaredWithin(m *javaast.MethodDecl, r javaast.Ref, sel javaast.Span) bool {
	for _, v := range m.Vars(r.Name) {
		if sel.Contains(v.Decl) && v.Scope.Contains(r.Span) {
			return true
		}
	}
	return false
}

func staticallyImported(f *javaast.File, name string) bool {
	for _, imp := range f.Imports {
		if imp.Static && (imp.Wildcard || lastSegmentOf(imp.Path) == name) {
			return true
		}
	}
	return false
}

// packageQualifier reports whether r starts a dotted package prefix such
// as the com in com.acme.Util.run().
func packageQualifier(f *javaast.File, r javaast.Ref) bool {
	for _, q := range f.Qualified {
		if q.Span.Start == r.Span.Start && strings.Count(q.Text, ".") >= 2 {
			return true
		}
	}
	return false
}

// usedIn reports whether a variable named name is referenced inside s.
func usedIn(f *javaast.File, name string, s javaast.Span) bool {
	for _, r := range f.RefsNamed(name, javaast.RefName) {
		if s.Contains(r.Span) && !r.CaseLabel {
			return true
		}
	}
	return false
}

// loopKinds are the statements whose bodies run again after they finish.
var loopKinds = map[string]bool{
	"for_statement":          true,
	"enhanced_for_statement": true,
	"while_statement":        true,
	"do_statement":           true,
	"labeled_statement":      true,
}

// loopCarried reports whether a loop enclosing sel reads v on a later
// iteration. Variables declared inside the loop body around sel start
// fresh each iteration and are not carried.
func loopCarried(f *javaast.File, m *javaast.MethodDecl, sel javaast.Span, v *javaast.VarDecl) bool {
	for _, b := range m.Blocks {
		for _, s := range b.Statements {
			if !loopKinds[s.Kind] || s.Span == sel || !s.Span.Contains(sel) {
				continue
			}
			if declaredInBody(m, s.Span, sel, v) {
				continue
			}
			if readIn(f, v.Name, s.Span) {
				return true
			}
		}
	}
	return false
}

// declaredInBody reports whether v is declared in a block of loop that
// encloses sel.
func declaredInBody(m *javaast.MethodDecl, loop, sel javaast.Span, v *javaast.VarDecl) bool {
	for _, b := range m.Blocks {
		if loop.Contains(b.Span) && b.Span.Contains(sel) && b.Span.Contains(v.Decl) {
			return true
		}
	}
	return false
}

// readIn reports whether a variable named name is read inside s.
func readIn(f *javaast.File, name string, s javaast.Span) bool {
	for _, r := range f.RefsNamed(name, javaast.RefName) {
		if s.Contains(r.Span) && r.Read && !r.CaseLabel {
			return true
		}
	}
	return false
}

// methodHeader describes the extracted method's signature.
type methodHeader struct {
	name       string
	returnType string
	params     []string
	liveOut    []*javaast.VarDecl
}

// buildMethod renders the new method, indented like m and inserted after
// it.
func buildMethod(f *javaast.File, m *javaast.MethodDecl, sel []javaast.Statement, selSpan javaast.Span, h methodHeader) string {
	methodIndent := f.Indent(m.Span.Start)
	unit := "    "
	if len(m.Blocks) > 0 && len(m.Blocks[0].Statements) > 0 {
		if u := strings.TrimPrefix(f.Indent(m.Blocks[0].Statements[0].Span.Start), methodIndent); u != "" {
			unit = u
		}
	}
	bodyIndent := methodIndent + unit
	stmtIndent := f.Indent(sel[0].Span.Start)

	start := sel[0].Span.Start
	lead := bodyIndent
	if f.FirstOnLine(start) {
		start = f.LineStart(start)
		lead = ""
	}
	lines := strings.Split(f.Text(javaast.Span{Start: start, End: selSpan.End}), "\n")
	for i, line := range lines {
		switch {
		case strings.TrimSpace(line) == "":
			lines[i] = ""
		case strings.HasPrefix(line, stmtIndent):
			lines[i] = bodyIndent + line[len(stmtIndent):]
		}
	}

	var b strings.Builder
	b.WriteString("\n\n")
	b.WriteString(methodIndent)
	b.WriteString("private ")
	if m.Static() {
		b.WriteString("static ")
	}
	if m.TypeParams != "" {
		b.WriteString(m.TypeParams)
		b.WriteString(" ")
	}
	b.WriteString(h.returnType)
	b.WriteString(" ")
	b.WriteString(h.name)
	b.WriteString("(")
	b.WriteString(strings.Join(h.params, ", "))
	b.WriteString(")")
	if m.Throws != "" {
		b.WriteString(" ")
		b.WriteString(m.Throws)
	}
	b.WriteString(" {\n")
	b.WriteString(lead)
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n")
	if len(h.liveOut) == 1 {
		b.WriteString(bodyIndent + "return " + h.liveOut[0].Name + ";\n")
	}
	b.WriteString(methodIndent + "}")
	return b.String()
}
