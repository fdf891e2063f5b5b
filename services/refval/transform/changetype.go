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

// changeTypeStrategy rewrites the declared type of a field, method return
// value, parameter or local variable. Only the declaration changes; uses
// are left for the build to judge.
type changeTypeStrategy struct{}

func (changeTypeStrategy) plan(ctx context.Context, req *request) (*ChangeSet, error) {
	newType := strings.TrimSpace(req.cand.ProposedValue)
	if !javaast.ValidType(ctx, newType) {
		return nil, declinef("%q is not a valid Java type", newType)
	}
	tgt, err := req.resolve()
	if err != nil {
		return nil, err
	}

	var (
		span    javaast.Span
		current string
	)
	switch tgt.kind {
	case targetType:
		return nil, declinef("change_type needs a field, method or variable, got type %s", tgt.typ.Name)
	case targetField:
		fd := tgt.field
		switch {
		case fd.EnumConstant:
			return nil, declinef("enum constant %s has no declared type", fd.Name)
		case fd.Declarators > 1:
			return nil, declinef("field %s shares its declared type with %d other declarators", fd.Name, fd.Declarators-1)
		case fd.Dims != "":
			return nil, declinef("field %s has declarator array dimensions", fd.Name)
		}
		span, current = fd.TypeSpan, fd.Type
	case targetMethod:
		m, err := tgt.method()
		if err != nil {
			return nil, err
		}
		if m.Constructor {
			return nil, declinef("constructor %s has no return type", m.Name)
		}
		span, current = m.ReturnType, req.file.Text(m.ReturnType)
	case targetVar:
		if len(tgt.vars) > 1 {
			return nil, declinef("%d variables named %s; give start_line", len(tgt.vars), tgt.member)
		}
		v := tgt.vars[0]
		switch {
		case v.Type == "":
			return nil, declinef("lambda parameter %s is implicitly typed", v.Name)
		case v.Declarators > 1:
			return nil, declinef("variable %s shares its declared type with %d other declarators", v.Name, v.Declarators-1)
		case v.Dims != "":
			return nil, declinef("variable %s has declarator array dimensions", v.Name)
		}
		span, current = v.TypeSpan, v.Type
	}

	if span.IsZero() {
		return nil, notFoundf("declared type of %s not found", req.cand.Location.Symbol)
	}
	if javaast.NormalizeType(current) == javaast.NormalizeType(newType) {
		return nil, declinef("%s is already declared as %s", req.cand.Location.Symbol, current)
	}

	cs := newChangeSet()
	replace(cs, req.file, span, newType)
	return cs, nil
}
