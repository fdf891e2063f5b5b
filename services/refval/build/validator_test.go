// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package build

import (
	"context"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/refval/services/refval/toolchain"
	"github.com/AleutianAI/refval/services/refval/verdict"
)

func TestParseMavenOutput(t *testing.T) {
	output := `[INFO] Compiling 3 source files to /work/target/classes
[INFO] -------------------------------------------------------------
[ERROR] COMPILATION ERROR :
[INFO] -------------------------------------------------------------
[ERROR] /work/src/main/java/com/acme/Client.java:[7,13] cannot find symbol
[ERROR]   symbol:   method bar(int)
[ERROR]   location: variable foo of type com.acme.Foo
[ERROR] /work/src/main/java/com/acme/Foo.java:[3,5] incompatible types: possible lossy conversion from long to int
[INFO] 2 errors
[ERROR] Failed to execute goal org.apache.maven.plugins:maven-compiler-plugin:3.11.0:compile
[ERROR] /work/src/main/java/com/acme/Client.java:[7,13] cannot find symbol
[ERROR]   symbol:   method bar(int)
[ERROR]   location: variable foo of type com.acme.Foo
`
	got := parseMavenOutput(output)
	want := []verdict.Diagnostic{
		{
			File:     "/work/src/main/java/com/acme/Client.java",
			Line:     7,
			Column:   13,
			Severity: "error",
			Message:  "cannot find symbol; symbol: method bar(int); location: variable foo of type com.acme.Foo",
		},
		{
			File:     "/work/src/main/java/com/acme/Foo.java",
			Line:     3,
			Column:   5,
			Severity: "error",
			Message:  "incompatible types: possible lossy conversion from long to int",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parseMavenOutput mismatch (-want +got):\n%s", diff)
	}
}

func TestParseJavacOutput(t *testing.T) {
	output := `src/com/acme/Client.java:7: error: cannot find symbol
        return foo.bar(3);
                  ^
  symbol:   method bar(int)
src/com/acme/Foo.java:2: warning: [deprecation] Old in com.acme has been deprecated
1 error
`
	got := parseJavacOutput(output)
	require.Len(t, got, 1)
	assert.Equal(t, "src/com/acme/Client.java", got[0].File)
	assert.Equal(t, 7, got[0].Line)
	assert.Equal(t, "cannot find symbol; symbol: method bar(int)", got[0].Message)
}

func TestParseGradleOutput(t *testing.T) {
	output := `> Task :compileJava FAILED
/work/src/main/java/Foo.java:12: error: ';' expected
e: file:///work/src/main/kotlin/Bar.kt:4:9 Unresolved reference: baz
e: /work/src/main/kotlin/Old.kt: (8, 2): Type mismatch
FAILURE: Build failed with an exception.
`
	got := parseGradleOutput(output)
	require.Len(t, got, 3)
	assert.Equal(t, "/work/src/main/java/Foo.java", got[0].File)
	assert.Equal(t, verdict.Diagnostic{
		File: "/work/src/main/kotlin/Bar.kt", Line: 4, Column: 9, Severity: "error",
		Message: "Unresolved reference: baz",
	}, got[1])
	assert.Equal(t, "/work/src/main/kotlin/Old.kt", got[2].File)
	assert.Equal(t, 8, got[2].Line)
	assert.Equal(t, 2, got[2].Column)
}

func TestParseGoBuildOutput(t *testing.T) {
	output := `# example.com/pkg
./pkg/file.go:12:5: undefined: x
./pkg/other.go:3: syntax error
`
	got := parseGoBuildOutput(output)
	require.Len(t, got, 2)
	assert.Equal(t, verdict.Diagnostic{File: "./pkg/file.go", Line: 12, Column: 5, Severity: "error", Message: "undefined: x"}, got[0])
	assert.Equal(t, 0, got[1].Column)
}

func TestParseDiagnostics(t *testing.T) {
	t.Run("auto picks the matching parser", func(t *testing.T) {
		got := ParseDiagnostics(toolchain.DiagnosticsAuto, "main.go:1:2: bad\n")
		require.Len(t, got, 1)
		assert.Equal(t, "main.go", got[0].File)
	})

	t.Run("unrecognized output kept as tail", func(t *testing.T) {
		var b strings.Builder
		for i := 0; i < 50; i++ {
			b.WriteString("line\n")
		}
		b.WriteString("something exploded\n\n")
		got := ParseDiagnostics(toolchain.DiagnosticsMaven, b.String())
		require.Len(t, got, 1)
		assert.Empty(t, got[0].File)
		assert.True(t, strings.HasSuffix(got[0].Message, "something exploded"))
		assert.Len(t, strings.Split(got[0].Message, "\n"), opaqueTailLines)
	})

	t.Run("empty output", func(t *testing.T) {
		assert.Empty(t, ParseDiagnostics(toolchain.DiagnosticsGo, ""))
	})
}

func TestRelativize(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "work")
	diags := []verdict.Diagnostic{
		{File: filepath.Join(root, "src", "Foo.java")},
		{File: filepath.Join(string(filepath.Separator), "elsewhere", "Bar.java")},
		{File: "rel/Baz.java"},
	}
	relativize(root, diags)
	assert.Equal(t, "src/Foo.java", diags[0].File)
	assert.Equal(t, filepath.Join(string(filepath.Separator), "elsewhere", "Bar.java"), diags[1].File)
	assert.Equal(t, "rel/Baz.java", diags[2].File)
}

func TestNewValidator(t *testing.T) {
	_, err := NewValidator(nil, time.Second)
	assert.ErrorIs(t, err, ErrEmptyCommand)

	_, err = NewValidator([]string{"make"}, -time.Second)
	assert.ErrorIs(t, err, ErrInvalidTimeout)
}

func TestValidator_Build(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	ctx := context.Background()
	root := t.TempDir()

	newValidator := func(t *testing.T, script string, timeout time.Duration) *Validator {
		t.Helper()
		v, err := NewValidator([]string{"sh", "-c", script}, timeout, WithFormat(toolchain.DiagnosticsJavac))
		require.NoError(t, err)
		return v
	}

	t.Run("success", func(t *testing.T) {
		out := newValidator(t, "echo compiled", time.Minute).Build(ctx, root)
		assert.Equal(t, verdict.BuildSuccess, out.Status)
		assert.Empty(t, out.Diagnostics)
	})

	t.Run("compiler errors relative to root", func(t *testing.T) {
		script := `echo "$PWD/src/Foo.java:3: error: cannot find symbol"; exit 1`
		out := newValidator(t, script, time.Minute).Build(ctx, root)
		assert.Equal(t, verdict.BuildFailure, out.Status)
		assert.Equal(t, 1, out.ExitCode)
		require.Len(t, out.Diagnostics, 1)
		assert.Equal(t, 3, out.Diagnostics[0].Line)
		assert.True(t, strings.HasSuffix(out.Diagnostics[0].File, "src/Foo.java"))
	})

	t.Run("silent failure", func(t *testing.T) {
		out := newValidator(t, "exit 2", time.Minute).Build(ctx, root)
		assert.Equal(t, verdict.BuildFailure, out.Status)
		assert.Equal(t, []string{"build failed with exit code 2"}, out.Errors())
	})

	t.Run("timeout", func(t *testing.T) {
		out := newValidator(t, "sleep 30", 100*time.Millisecond).Build(ctx, root)
		assert.Equal(t, verdict.BuildFailure, out.Status)
		assert.True(t, out.TimedOut)
		assert.Equal(t, []string{MessageTimeout}, out.Errors())
	})

	t.Run("start failure", func(t *testing.T) {
		v, err := NewValidator([]string{"refval-missing-build-tool"}, time.Minute)
		require.NoError(t, err)
		out := v.Build(ctx, root)
		assert.Equal(t, verdict.BuildFailure, out.Status)
		require.Len(t, out.Diagnostics, 1)
		assert.True(t, strings.HasPrefix(out.Diagnostics[0].Message, MessageStartFailed+": "))
		assert.NotContains(t, out.Diagnostics[0].Message, "command failed to start: command failed")
	})
}
