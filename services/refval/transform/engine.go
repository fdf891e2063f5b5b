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
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/refval/services/refval/candidate"
	"github.com/AleutianAI/refval/services/refval/javaast"
	"github.com/AleutianAI/refval/services/refval/verdict"
)

// =============================================================================
// STRATEGY
// =============================================================================

// strategy plans one kind of transformation into a change set.
type strategy interface {
	plan(ctx context.Context, req *request) (*ChangeSet, error)
}

// strategyFor maps every candidate kind to its strategy.
//
// The switch is exhaustive over candidate.AllKinds; an unknown kind is a
// programming error because candidates are validated first.
func strategyFor(kind candidate.Kind) strategy {
	switch kind {
	case candidate.KindRename:
		return renameStrategy{}
	case candidate.KindExtractMethod:
		return extractStrategy{}
	case candidate.KindChangeType:
		return changeTypeStrategy{}
	case candidate.KindChangeAnnotation:
		return annotationStrategy{}
	case candidate.KindMoveClass:
		return moveStrategy{}
	}
	panic(fmt.Sprintf("transform: no strategy for kind %q", kind))
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine plans and applies candidate transformations.
//
// Thread Safety: Safe for concurrent use. Each call works on its own
// workspace; the parse cache is shared.
type Engine struct {
	cache  *javaast.Cache
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithCache shares a parse cache between engines.
func WithCache(cache *javaast.Cache) Option {
	return func(e *Engine) {
		e.cache = cache
	}
}

// NewEngine creates a transformation engine.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.cache == nil {
		cache, err := javaast.NewCache(0)
		if err != nil {
			return nil, err
		}
		e.cache = cache
	}
	return e, nil
}

// Plan computes the change set for c against ws without writing anything.
//
// Description:
//
//	Resolves the candidate location, runs the kind's strategy, applies the
//	edits in memory and re-parses every touched Java file. An Applied
//	outcome here means the change set is ready to flush.
//
// Inputs:
//
//	ctx - Context for cancellation
//	c - The candidate
//	ws - The working copy to plan against
//
// Outputs:
//
//	*ChangeSet - Non-nil only with an Applied outcome
//	verdict.ApplyOutcome - Applied, NotFound or ApplyFailed with a reason
func (e *Engine) Plan(ctx context.Context, c candidate.Candidate, ws Workspace) (*ChangeSet, verdict.ApplyOutcome) {
	if ctx == nil {
		return nil, verdict.ApplyFailed(ErrNilContext.Error())
	}
	ctx, span := startPlanSpan(ctx, c)
	defer span.End()
	start := time.Now()

	cs, err := e.plan(ctx, c, ws)
	outcome := outcomeFor(err)
	if outcome.Status != verdict.ApplyApplied {
		cs = nil
	}

	refs := 0
	if cs != nil {
		refs = len(cs.refs)
	}
	setPlanSpanResult(span, outcome, cs)
	recordPlan(ctx, c.Kind, outcome.Status, time.Since(start), refs)
	e.logger.Debug("transformation planned",
		slog.String("candidate", c.ID),
		slog.String("kind", c.Kind.String()),
		slog.String("status", string(outcome.Status)),
		slog.String("reason", outcome.Reason),
		slog.Int("references", refs))
	return cs, outcome
}

// Apply plans c and flushes the result into ws.
//
// A flush failure leaves the tree untouched and reports ApplyFailed.
func (e *Engine) Apply(ctx context.Context, c candidate.Candidate, ws Workspace) (*ChangeSet, verdict.ApplyOutcome) {
	cs, outcome := e.Plan(ctx, c, ws)
	if outcome.Status != verdict.ApplyApplied {
		return nil, outcome
	}
	if err := cs.Flush(ws.Root()); err != nil {
		e.logger.Warn("change set flush failed",
			slog.String("candidate", c.ID),
			slog.String("error", err.Error()))
		return nil, verdict.ApplyFailed(err.Error())
	}
	return cs, outcome
}

func (e *Engine) plan(ctx context.Context, c candidate.Candidate, ws Workspace) (*ChangeSet, error) {
	if err := c.Validate(); err != nil {
		return nil, &ApplyError{Reason: "invalid candidate", Cause: err}
	}
	req, err := e.newRequest(ctx, c, ws)
	if err != nil {
		return nil, err
	}
	cs, err := strategyFor(c.Kind).plan(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := cs.build(); err != nil {
		return nil, &ApplyError{Reason: "conflicting edits", Cause: err}
	}
	if cs.Empty() {
		return nil, declinef("transformation changes nothing")
	}
	if err := e.revalidate(ctx, cs); err != nil {
		return nil, err
	}
	return cs, nil
}

// outcomeFor maps a planning error onto an apply outcome.
func outcomeFor(err error) verdict.ApplyOutcome {
	if err == nil {
		return verdict.Applied()
	}
	if errors.Is(err, ErrNotFound) {
		return verdict.NotFound(err.Error())
	}
	var ae *ApplyError
	if errors.As(err, &ae) {
		return verdict.ApplyFailed(ae.Error())
	}
	return verdict.ApplyFailed(err.Error())
}

// revalidate re-parses every Java file the change set writes and rejects
// edits that introduce syntax errors. A file that already failed to parse
// before the edit is not held to a clean parse.
func (e *Engine) revalidate(ctx context.Context, cs *ChangeSet) error {
	for _, ch := range cs.Changes() {
		if ch.Op == OpDelete || !strings.HasSuffix(ch.Path, ".java") {
			continue
		}
		f, err := e.cache.Parse(ctx, ch.Path, ch.Updated)
		if err != nil {
			return &ApplyError{Reason: "cannot re-parse " + ch.Path, Cause: err}
		}
		if !f.SyntaxError {
			continue
		}
		if before := baseline(cs, ch); before != nil {
			orig, err := e.cache.Parse(ctx, ch.Path, before)
			if err == nil && orig.SyntaxError {
				continue
			}
		}
		return declinef("edit introduces a syntax error in %s:%d", ch.Path, f.ErrorLine)
	}
	return nil
}

// baseline returns the content ch replaces: the original of a modified
// file or of the file a moved one came from.
func baseline(cs *ChangeSet, ch FileChange) []byte {
	if ch.Op == OpModify {
		return ch.Original
	}
	if ch.Source != "" {
		if src, ok := cs.Change(ch.Source); ok {
			return src.Original
		}
	}
	return nil
}

// =============================================================================
// REQUEST
// =============================================================================

// request carries one candidate through planning.
type request struct {
	engine *Engine
	cand   candidate.Candidate
	ws     Workspace
	path   string
	src    []byte
	file   *javaast.File
	proj   *project
}

func (e *Engine) newRequest(ctx context.Context, c candidate.Candidate, ws Workspace) (*request, error) {
	rel, err := locate(ctx, ws, c.Location.File)
	if err != nil {
		return nil, err
	}
	src, err := ws.ReadFile(rel)
	if err != nil {
		return nil, &ApplyError{Reason: "cannot read " + rel, Cause: err}
	}
	f, err := e.cache.Parse(ctx, rel, src)
	if err != nil {
		return nil, &ApplyError{Reason: "cannot parse " + rel, Cause: err}
	}
	if f.SyntaxError {
		return nil, declinef("%s does not parse cleanly (line %d)", rel, f.ErrorLine)
	}
	return &request{engine: e, cand: c, ws: ws, path: rel, src: src, file: f}, nil
}

// locate maps the candidate file onto a workspace path. Absolute paths
// are made relative to the root; a bare suffix such as Foo.java matches a
// unique Java file ending in it.
func locate(ctx context.Context, ws Workspace, file string) (string, error) {
	rel := filepath.ToSlash(file)
	if filepath.IsAbs(file) {
		r, err := filepath.Rel(ws.Root(), file)
		if err != nil || strings.HasPrefix(r, "..") {
			return "", notFoundf("%s is outside the working copy", file)
		}
		rel = filepath.ToSlash(r)
	}
	rel = path.Clean(strings.TrimPrefix(rel, "./"))
	if rel == "." || strings.HasPrefix(rel, "../") {
		return "", notFoundf("invalid file %q", file)
	}
	if ws.Exists(rel) {
		return rel, nil
	}
	files, err := ws.JavaFiles(ctx)
	if err != nil {
		return "", &ApplyError{Reason: "cannot list source files", Cause: err}
	}
	var matches []string
	for _, f := range files {
		if strings.HasSuffix(f, "/"+rel) {
			matches = append(matches, f)
		}
	}
	switch len(matches) {
	case 0:
		return "", notFoundf("file %s does not exist", file)
	case 1:
		return matches[0], nil
	default:
		return "", declinef("file %s is ambiguous: %s", file, strings.Join(matches, ", "))
	}
}

// project loads the workspace index once per request. The index holds
// the request's own parse of the declaring file so resolved declarations
// compare by pointer.
func (r *request) project(ctx context.Context) (*project, error) {
	if r.proj != nil {
		return r.proj, nil
	}
	p, err := r.engine.loadProject(ctx, r.ws)
	if err != nil {
		return nil, err
	}
	p.put(r.path, r.file)
	r.proj = p
	return p, nil
}

// newReference builds a Reference for span in f.
func newReference(f *javaast.File, s javaast.Span) Reference {
	line := f.Line(s.Start)
	ls := f.LineSpan(line)
	ctxText := strings.TrimSpace(f.Text(ls))
	return Reference{
		Path:    f.Path,
		Start:   s.Start,
		End:     s.End,
		Line:    line,
		Column:  s.Start - ls.Start + 1,
		Context: ctxText,
	}
}

// replace queues an edit rewriting s in f and records the reference.
func replace(cs *ChangeSet, f *javaast.File, s javaast.Span, text string) {
	cs.edit(f.Path, f.Source, Edit{Start: s.Start, End: s.End, Text: text})
	cs.reference(newReference(f, s))
}

// =============================================================================
// SYMBOL RESOLUTION
// =============================================================================

// targetKind is what a symbol path resolved to.
type targetKind int

const (
	targetType targetKind = iota
	targetMethod
	targetField
	targetVar
)

// target is a resolved symbol path.
type target struct {
	kind    targetKind
	typ     *javaast.TypeDecl
	methods []*javaast.MethodDecl
	field   *javaast.FieldDecl
	vars    []*javaast.VarDecl
	member  string
}

// method returns the single resolved method or an error naming the
// ambiguity.
func (t target) method() (*javaast.MethodDecl, error) {
	if len(t.methods) == 1 {
		return t.methods[0], nil
	}
	return nil, declinef("%s.%s is overloaded %d times; give start_line", t.typ.Name, t.member, len(t.methods))
}

// resolve maps the candidate symbol onto declarations in the declaring
// file. start_line, when given, narrows overloads and same-named members.
func (r *request) resolve() (target, error) {
	segs := r.cand.Location.SymbolPath()
	line := r.cand.Location.StartLine

	var typ *javaast.TypeDecl
	rest := segs
	for i := len(segs); i >= 1 && typ == nil; i-- {
		types := r.file.TypesNamed(strings.Join(segs[:i], "."))
		if len(types) == 0 {
			continue
		}
		typ = types[0]
		if len(types) > 1 && line > 0 {
			for _, t := range types {
				if t.Line == line {
					typ = t
				}
			}
		}
		rest = segs[i:]
	}
	if typ == nil {
		return target{}, notFoundf("type %s not declared in %s", segs[0], r.path)
	}

	switch len(rest) {
	case 0:
		return target{kind: targetType, typ: typ}, nil
	case 1:
		return resolveMember(typ, rest[0], line)
	case 2:
		mt, err := resolveMember(typ, rest[0], line)
		if err != nil {
			return target{}, err
		}
		if mt.kind != targetMethod {
			return target{}, notFoundf("%s.%s is not a method", typ.Name, rest[0])
		}
		var vars []*javaast.VarDecl
		for _, m := range mt.methods {
			vars = append(vars, m.Vars(rest[1])...)
		}
		if len(vars) > 1 && line > 0 {
			var narrowed []*javaast.VarDecl
			for _, v := range vars {
				if v.Line == line {
					narrowed = append(narrowed, v)
				}
			}
			if len(narrowed) > 0 {
				vars = narrowed
			}
		}
		if len(vars) == 0 {
			return target{}, notFoundf("variable %s not declared in %s.%s", rest[1], typ.Name, rest[0])
		}
		return target{kind: targetVar, typ: typ, methods: mt.methods, vars: vars, member: rest[1]}, nil
	}
	return target{}, notFoundf("symbol %s does not resolve in %s", r.cand.Location.Symbol, r.path)
}

func resolveMember(typ *javaast.TypeDecl, name string, line int) (target, error) {
	methods := typ.MethodsNamed(name)
	if name == typ.Name {
		methods = append(methods, typ.Constructors()...)
	}
	field := typ.Field(name)

	if line > 0 {
		var narrowed []*javaast.MethodDecl
		for _, m := range methods {
			if line >= m.Line && line <= m.EndLine {
				narrowed = append(narrowed, m)
			}
		}
		if field != nil && field.Line == line {
			return target{kind: targetField, typ: typ, field: field, member: name}, nil
		}
		if len(narrowed) > 0 {
			methods = narrowed
		}
	}
	switch {
	case field != nil && len(methods) > 0:
		return target{}, declinef("%s.%s names both a field and a method; give start_line", typ.Name, name)
	case field != nil:
		return target{kind: targetField, typ: typ, field: field, member: name}, nil
	case len(methods) > 0:
		return target{kind: targetMethod, typ: typ, methods: methods, member: name}, nil
	}
	return target{}, notFoundf("member %s not declared in %s", name, typ.Name)
}
