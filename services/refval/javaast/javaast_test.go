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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fooSource = `package com.acme;

import java.util.List;
import java.util.*;
import static java.lang.Math.max;

public class Foo extends Base implements Runnable, Comparable<Foo> {
    private int count;
    static final String A = "a", B = "b";

    @Override
    public void run() {
        int total = 0;
        for (int i = 0; i < count; i++) {
            total += bar(i);
        }
        this.count = total;
    }

    private static int bar(int x) throws java.io.IOException {
        return max(x, 1);
    }

    class Inner {
        void go() { Foo.this.run(); }
    }
}
`

func parseFoo(t *testing.T) *File {
	t.Helper()
	f, err := Parse(context.Background(), "src/com/acme/Foo.java", []byte(fooSource))
	require.NoError(t, err)
	return f
}

func TestParse_PackageAndImports(t *testing.T) {
	f := parseFoo(t)

	assert.True(t, f.HasPackage)
	assert.Equal(t, "com.acme", f.Package)
	assert.Equal(t, "com.acme", f.Text(f.PackageSpan))
	assert.False(t, f.SyntaxError)

	require.Len(t, f.Imports, 3)
	assert.Equal(t, "java.util.List", f.Imports[0].Path)
	assert.Equal(t, "List", f.Imports[0].SimpleName())
	assert.True(t, f.Imports[1].Wildcard)
	assert.Equal(t, "java.util", f.Imports[1].Path)
	assert.True(t, f.Imports[2].Static)
	assert.True(t, f.Imported("java.util.List"))
	assert.True(t, f.WildcardImports("java.util"))

	insert := f.ImportInsertOffset()
	assert.Equal(t, f.Imports[2].Span.End+1, insert)
}

func TestParse_Declarations(t *testing.T) {
	f := parseFoo(t)

	foos := f.TypesNamed("Foo")
	require.Len(t, foos, 1)
	foo := foos[0]
	assert.True(t, foo.TopLevel())
	assert.Equal(t, TypeClass, foo.Kind)
	assert.Equal(t, []string{"Base", "Runnable", "Comparable"}, foo.Supertypes)
	assert.Equal(t, "com.acme.Foo", f.QualifiedName(foo))

	inner := f.TypesNamed("Foo.Inner")
	require.Len(t, inner, 1)
	assert.Same(t, foo, inner[0].Outer)
	assert.Equal(t, "Foo.Inner", inner[0].BinaryName())

	count := foo.Field("count")
	require.NotNil(t, count)
	assert.Equal(t, "int", count.Type)
	assert.True(t, count.Private())
	assert.Equal(t, 1, count.Declarators)

	a := foo.Field("A")
	require.NotNil(t, a)
	assert.Equal(t, 2, a.Declarators)

	run := foo.MethodsNamed("run")
	require.Len(t, run, 1)
	_, ok := run[0].Modifiers.Annotation("@Override")
	assert.True(t, ok)
	assert.Equal(t, "void", f.Text(run[0].ReturnType))

	locals := run[0].Vars("total")
	require.Len(t, locals, 1)
	assert.Equal(t, VarLocal, locals[0].Kind)
	assert.Equal(t, "int", locals[0].ExplicitType())
	loopVar := run[0].Vars("i")
	require.Len(t, loopVar, 1)

	bar := foo.MethodsNamed("bar")
	require.Len(t, bar, 1)
	assert.True(t, bar[0].Static())
	assert.True(t, bar[0].Private())
	assert.Equal(t, "throws java.io.IOException", bar[0].Throws)
	require.Len(t, bar[0].Params, 1)
	assert.Equal(t, "x", bar[0].Params[0].Name)
	assert.Equal(t, bar[0].Span, bar[0].Params[0].Scope)
}

func TestParse_References(t *testing.T) {
	f := parseFoo(t)

	calls := f.RefsNamed("bar", RefMethodCall)
	require.Len(t, calls, 1)
	assert.Equal(t, ObjectNone, calls[0].ObjectKind)
	assert.Equal(t, "run", calls[0].Method.Name)
	assert.Equal(t, 15, calls[0].Line)

	access := f.RefsNamed("count", RefFieldAccess)
	require.Len(t, access, 1)
	assert.Equal(t, ObjectThis, access[0].ObjectKind)

	bare := f.RefsNamed("count", RefName)
	require.Len(t, bare, 1)
	assert.True(t, bare[0].Read)

	totals := f.RefsNamed("total", RefName)
	require.Len(t, totals, 2)
	assert.True(t, totals[0].Write)
	assert.True(t, totals[0].Read, "compound assignment reads")

	incr := f.RefsNamed("i", RefName)
	var wrote bool
	for _, r := range incr {
		wrote = wrote || r.Write
	}
	assert.True(t, wrote)

	types := f.RefsNamed("Foo", RefType)
	assert.NotEmpty(t, types, "Comparable<Foo> type argument")

	annots := f.RefsNamed("Override", RefType)
	assert.Len(t, annots, 1)
}

func TestParse_Qualified(t *testing.T) {
	src := `package a;
class X {
    com.acme.Foo f = new com.acme.Foo();
    Object g() { return com.acme.Foo.VALUE; }
}
`
	f, err := Parse(context.Background(), "a/X.java", []byte(src))
	require.NoError(t, err)

	var exact int
	for _, q := range f.Qualified {
		if q.Text == "com.acme.Foo" {
			exact++
			assert.Equal(t, "com.acme.Foo", f.Text(q.Span))
		}
	}
	assert.Equal(t, 3, exact)
}

func TestParse_ReceiverObjects(t *testing.T) {
	src := `package a;
class R {
    void m(StringBuilder sb) {
        new StringBuilder().append("x");
        (new Foo()).append("y");
        sb.append("z");
        make().append("w");
    }
}
`
	f, err := Parse(context.Background(), "a/R.java", []byte(src))
	require.NoError(t, err)

	calls := f.RefsNamed("append", RefMethodCall)
	require.Len(t, calls, 4)

	assert.Equal(t, ObjectNew, calls[0].ObjectKind)
	assert.Equal(t, "StringBuilder", calls[0].Object)
	assert.Equal(t, ObjectNew, calls[1].ObjectKind)
	assert.Equal(t, "Foo", calls[1].Object)
	assert.Equal(t, ObjectName, calls[2].ObjectKind)
	assert.Equal(t, "sb", calls[2].Object)
	assert.Equal(t, ObjectExpr, calls[3].ObjectKind)
}

func TestParse_JumpsAndBlocks(t *testing.T) {
	src := `class J {
    int m(int[] xs) {
        int s = 0;
        outer:
        for (int x : xs) {
            if (x < 0) break;
            if (x == 0) continue outer;
            s += x;
        }
        return s;
    }
}
`
	f, err := Parse(context.Background(), "J.java", []byte(src))
	require.NoError(t, err)
	require.Len(t, f.Jumps, 3)

	m := f.Types[0].MethodsNamed("m")[0]
	for _, j := range f.Jumps {
		assert.False(t, j.Target.IsZero(), "jump %s has a target", j.Kind)
		switch j.Kind {
		case JumpReturn:
			assert.Equal(t, m.Span, j.Target)
		case JumpContinue:
			assert.Equal(t, "outer", j.Label)
		}
	}

	require.NotEmpty(t, m.Blocks)
	body := m.Blocks[0]
	assert.Equal(t, m.Body, body.Span)
	assert.Len(t, body.Statements, 3)
	assert.Equal(t, "local_variable_declaration", body.Statements[0].Kind)
	assert.Equal(t, 3, body.Statements[0].StartLine)

	each := m.Vars("x")
	require.Len(t, each, 1)
	assert.Equal(t, VarForEach, each[0].Kind)
}

func TestParse_SyntaxError(t *testing.T) {
	bad, line, err := HasSyntaxError(context.Background(), []byte("class A {\n  void m( {\n}\n"))
	require.NoError(t, err)
	assert.True(t, bad)
	assert.Greater(t, line, 0)

	good, _, err := HasSyntaxError(context.Background(), []byte("class A { void m() {} }"))
	require.NoError(t, err)
	assert.False(t, good)
}

func TestValidType(t *testing.T) {
	ctx := context.Background()
	for _, ok := range []string{"long", "Long", "List<String>", "java.util.Map<String, Integer>", "int[]"} {
		assert.True(t, ValidType(ctx, ok), ok)
	}
	for _, bad := range []string{"", "List<", "int x", "a;b", "new Foo()"} {
		assert.False(t, ValidType(ctx, bad), bad)
	}
}

func TestLexical(t *testing.T) {
	assert.True(t, IsIdentifier("baz"))
	assert.True(t, IsIdentifier("$x_1"))
	assert.False(t, IsIdentifier("1x"))
	assert.False(t, IsIdentifier("class"))
	assert.False(t, IsIdentifier("a.b"))
	assert.True(t, IsQualifiedName("com.acme.util"))
	assert.False(t, IsQualifiedName("com..acme"))

	assert.True(t, ContainsWord([]byte("int fooBar; foo();"), "foo"))
	assert.False(t, ContainsWord([]byte("int fooBar;"), "foo"))

	assert.Equal(t, "List", BaseTypeName("java.util.List<String>[]"))
	assert.Equal(t, "String", BaseTypeName("String..."))
	assert.Equal(t, "Map<String,List<Integer>>", NormalizeType("Map< String, List<Integer> >"))
}

func TestCache(t *testing.T) {
	c, err := NewCache(2)
	require.NoError(t, err)
	ctx := context.Background()

	a1, err := c.Parse(ctx, "A.java", []byte("class A {}"))
	require.NoError(t, err)
	a2, err := c.Parse(ctx, "A.java", []byte("class A {}"))
	require.NoError(t, err)
	assert.Same(t, a1, a2)

	a3, err := c.Parse(ctx, "A.java", []byte("class A { int x; }"))
	require.NoError(t, err)
	assert.NotSame(t, a1, a3)
	assert.Equal(t, 2, c.Len())
}

func TestFileLines(t *testing.T) {
	f, err := Parse(context.Background(), "L.java", []byte("class L {\n    int a;\n}\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.Line(0))
	assert.Equal(t, 2, f.Line(12))
	assert.Equal(t, "    ", f.Indent(12))
	assert.Equal(t, "    int a;\n", f.Text(f.LineSpan(2)))
	assert.True(t, f.FirstOnLine(14))
}
