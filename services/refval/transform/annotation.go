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
	"strings"

	"github.com/AleutianAI/refval/services/refval/javaast"
)

// annotationStrategy adds ("@Name(args)") or removes ("-@Name") an
// annotation on a type, method, field, parameter or local variable.
type annotationStrategy struct{}

// annotationSpec is the parsed proposed value.
type annotationSpec struct {
	remove bool
	text   string
	name   string
}

func parseAnnotationSpec(ctx context.Context, value string) (annotationSpec, error) {
	v := strings.TrimSpace(value)
	spec := annotationSpec{}
	if rest, ok := strings.CutPrefix(v, "-"); ok {
		spec.remove = true
		v = strings.TrimSpace(rest)
	} else {
		v = strings.TrimPrefix(v, "+")
	}
	if !strings.HasPrefix(v, "@") {
		return spec, declinef("%q is not an annotation", value)
	}
	name := strings.TrimPrefix(v, "@")
	if i := strings.IndexByte(name, '('); i >= 0 {
		if spec.remove {
			return spec, declinef("annotation removal takes a bare name, got %q", value)
		}
		name = name[:i]
	}
	name = strings.TrimSpace(name)
	if !javaast.IsQualifiedName(name) {
		return spec, declinef("%q is not a valid annotation name", name)
	}
	spec.name = name
	spec.text = v
	if !spec.remove {
		bad, _, err := javaast.HasSyntaxError(ctx, []byte(v+"\nclass __RefvalProbe {}\n"))
		if err != nil {
			return spec, &ApplyError{Reason: "cannot check annotation syntax", Cause: err}
		}
		if bad {
			return spec, declinef("%q is not a valid annotation", v)
		}
	}
	return spec, nil
}

// annotated is the declaration an annotation change applies to.
type annotated struct {
	mods   javaast.Modifiers
	anchor int
	inline bool
	what   string
}

func (annotationStrategy) plan(ctx context.Context, req *request) (*ChangeSet, error) {
	spec, err := parseAnnotationSpec(ctx, req.cand.ProposedValue)
	if err != nil {
		return nil, err
	}
	tgt, err := req.resolve()
	if err != nil {
		return nil, err
	}
	decl, err := annotationTarget(tgt)
	if err != nil {
		return nil, err
	}

	f := req.file
	simple := lastSegmentOf(spec.name)
	existing, present := decl.mods.Annotation(simple)
	cs := newChangeSet()

	if spec.remove {
		if !present {
			return nil, declinef("%s is not annotated with @%s", decl.what, simple)
		}
		replace(cs, f, removalSpan(f, existing.Span), "")
		return cs, nil
	}

	if present {
		return nil, declinef("%s is already annotated with @%s", decl.what, simple)
	}
	at := javaast.Span{Start: decl.anchor, End: decl.anchor}
	if !decl.inline && f.FirstOnLine(decl.anchor) {
		start := f.LineStart(decl.anchor)
		cs.edit(f.Path, f.Source, Edit{Start: start, End: start, Text: f.Indent(decl.anchor) + spec.text + "\n"})
		cs.reference(newReference(f, at))
		return cs, nil
	}
	cs.edit(f.Path, f.Source, Edit{Start: decl.anchor, End: decl.anchor, Text: spec.text + " "})
	cs.reference(newReference(f, at))
	return cs, nil
}

func annotationTarget(tgt target) (annotated, error) {
	switch tgt.kind {
	case targetType:
		return annotated{mods: tgt.typ.Modifiers, anchor: tgt.typ.Span.Start, what: "type " + tgt.typ.Name}, nil
	case targetMethod:
		m, err := tgt.method()
		if err != nil {
			return annotated{}, err
		}
		return annotated{mods: m.Modifiers, anchor: m.Span.Start, what: "method " + m.Name}, nil
	case targetField:
		fd := tgt.field
		if fd.Declarators > 1 {
			return annotated{}, declinef("field %s shares its modifiers with %d other declarators", fd.Name, fd.Declarators-1)
		}
		if fd.Component {
			return annotated{mods: fd.Modifiers, anchor: fd.Decl.Start, inline: true, what: "record component " + fd.Name}, nil
		}
		return annotated{mods: fd.Modifiers, anchor: fd.Decl.Start, what: "field " + fd.Name}, nil
	default:
		if len(tgt.vars) > 1 {
			return annotated{}, declinef("%d variables named %s; give start_line", len(tgt.vars), tgt.member)
		}
		v := tgt.vars[0]
		switch {
		case v.Kind != javaast.VarParam && v.Kind != javaast.VarLocal:
			return annotated{}, declinef("annotating %s variable %s is not supported", v.Kind, v.Name)
		case v.Declarators > 1:
			return annotated{}, declinef("variable %s shares its modifiers with %d other declarators", v.Name, v.Declarators-1)
		}
		return annotated{mods: v.Modifiers, anchor: v.Decl.Start, inline: true, what: "variable " + v.Name}, nil
	}
}

// removalSpan widens an annotation span to its whole line when nothing
// else is on it, otherwise to the spaces that follow it.
func removalSpan(f *javaast.File, s javaast.Span) javaast.Span {
	line := f.LineSpan(f.Line(s.Start))
	if f.FirstOnLine(s.Start) && strings.TrimSpace(f.Text(javaast.Span{Start: s.End, End: line.End})) == "" {
		return line
	}
	end := s.End
	for end < len(f.Source) && (f.Source[end] == ' ' || f.Source[end] == '\t') {
		end++
	}
	return javaast.Span{Start: s.Start, End: end}
}
