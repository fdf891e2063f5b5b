// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AleutianAI/refval/services/refval/build"
	"github.com/AleutianAI/refval/services/refval/candidate"
	"github.com/AleutianAI/refval/services/refval/lock"
	"github.com/AleutianAI/refval/services/refval/report"
	"github.com/AleutianAI/refval/services/refval/testrun"
	"github.com/AleutianAI/refval/services/refval/transform"
	"github.com/AleutianAI/refval/services/refval/verdict"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// FIXTURE
// =============================================================================

const (
	fooPath     = "src/main/java/com/acme/Foo.java"
	clientPath  = "src/main/java/com/acme/Client.java"
	countedPath = "src/main/java/com/acme/Counted.java"
	counterPath = "src/main/java/com/acme/Counter.java"
	calcPath    = "src/main/java/com/acme/Calc.java"
)

var fixture = map[string]string{
	fooPath: `package com.acme;

public class Foo {
    private int count;

    public int bar(int x) {
        return x + count;
    }

    public int twice(int x) {
        return bar(x) * 2;
    }
}
`,
	clientPath: `package com.acme;

public class Client {
    private final Foo foo = new Foo();

    public int run() {
        return foo.bar(2);
    }
}
`,
	countedPath: `package com.acme;

public interface Counted {
    int getCount();
}
`,
	counterPath: `package com.acme;

public class Counter implements Counted {
    private int count;

    public int getCount() {
        return count;
    }
}
`,
	calcPath: `package com.acme;

public class Calc {
    public int sum(int a, int b) {
        int total = a + b;
        total = total * 2;
        return total;
    }

    public int scaled(int a) {
        var factor = a * 3;
        int result = factor + 1;
        return result;
    }
}
`,
}

// buildScript stands in for javac: Foo's first method must match the call
// in Client, and Counter.count must stay an int.
const buildScript = `
foo=src/main/java/com/acme/Foo.java
client=src/main/java/com/acme/Client.java
counter=src/main/java/com/acme/Counter.java
name=$(sed -n 's/^ *public int \([A-Za-z]*\)(int x) {$/\1/p' $foo | head -n 1)
if ! grep -q "foo\.$name(2)" $client; then
  echo "$client:7: error: cannot find symbol"
  exit 1
fi
if grep -q "private Long count;" $counter; then
  echo "$counter:7: error: incompatible types: Long cannot be converted to int"
  exit 1
fi
`

// testScript prints go test -v style output. TestTwice fails once Foo
// carries @Deprecated.
const testScript = `
echo "=== RUN   TestClient"
echo "--- PASS: TestClient (0.00s)"
echo "=== RUN   TestTwice"
if grep -q "@Deprecated" src/main/java/com/acme/Foo.java; then
  echo "--- FAIL: TestTwice (0.00s)"
  echo "FAIL"
  exit 1
fi
echo "--- PASS: TestTwice (0.00s)"
echo "PASS"
`

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range fixture {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

// assertPristine checks every fixture file holds its original bytes.
func assertPristine(t *testing.T, root string) {
	t.Helper()
	for rel, want := range fixture {
		got, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		require.NoError(t, err)
		assert.Equal(t, want, string(got), "%s not restored", rel)
	}
}

type harness struct {
	orch    *Orchestrator
	sink    *report.MemorySink
	lockDir string
}

func newHarness(t *testing.T, opts ...func(*harnessConfig)) *harness {
	t.Helper()
	cfg := harnessConfig{buildScript: buildScript, testScript: testScript}
	for _, opt := range opts {
		opt(&cfg)
	}

	engine, err := transform.NewEngine(transform.WithLogger(discard()))
	require.NoError(t, err)
	builder, err := build.NewValidator([]string{"sh", "-c", cfg.buildScript}, 30*time.Second,
		build.WithLogger(discard()))
	require.NoError(t, err)
	tester, err := testrun.NewValidator([]string{"sh", "-c", cfg.testScript}, 30*time.Second,
		testrun.WithLogger(discard()))
	require.NoError(t, err)

	var planner Planner = engine
	if cfg.planner != nil {
		planner = cfg.planner
	}
	var b Builder = builder
	if cfg.builder != nil {
		b = cfg.builder
	}

	sink := report.NewMemorySink()
	var out report.Sink = sink
	if cfg.wrapSink != nil {
		out = cfg.wrapSink(sink)
	}
	lockDir := t.TempDir()
	orch, err := New(planner, b, tester, out,
		WithLogger(discard()),
		WithLockDir(lockDir),
		WithRunID("run-1"),
		WithVerifyRestore(true),
	)
	require.NoError(t, err)
	return &harness{orch: orch, sink: sink, lockDir: lockDir}
}

type harnessConfig struct {
	buildScript string
	testScript  string
	planner     Planner
	builder     Builder
	wrapSink    func(report.Sink) report.Sink
}

func rename(id, symbol, value string) candidate.Candidate {
	return candidate.Candidate{
		ID:            id,
		Kind:          candidate.KindRename,
		Location:      candidate.Location{File: fooPath, Symbol: symbol},
		ProposedValue: value,
		Confidence:    0.9,
	}
}

// scenarioCandidates covers every verdict.
func scenarioCandidates() []candidate.Candidate {
	return []candidate.Candidate{
		rename("a", "Foo.bar", "baz"),
		{
			ID:            "b",
			Kind:          candidate.KindChangeType,
			Location:      candidate.Location{File: counterPath, Symbol: "Counter.count"},
			ProposedValue: "Long",
		},
		rename("c", "Foo.removed", "gone"),
		{
			ID:            "d",
			Kind:          candidate.KindExtractMethod,
			Location:      candidate.Location{File: calcPath, Symbol: "Calc.scaled", StartLine: 12, EndLine: 12},
			ProposedValue: "plusOne",
		},
		{
			ID:            "e",
			Kind:          candidate.KindChangeAnnotation,
			Location:      candidate.Location{File: fooPath, Symbol: "Foo.twice"},
			ProposedValue: "@Deprecated",
		},
	}
}

var scenarioVerdicts = []verdict.Verdict{
	verdict.Safe,
	verdict.Unsafe,
	verdict.Inapplicable,
	verdict.ToolFailure,
	verdict.Unsafe,
}

func runOne(t *testing.T, h *harness, c candidate.Candidate) verdict.Result {
	t.Helper()
	root := writeFixture(t)
	batch, err := h.orch.Run(t.Context(), candidate.NewSliceSource(c), root)
	require.NoError(t, err)
	require.Equal(t, 1, batch.Summary.Total)
	assertPristine(t, root)
	return h.sink.Results()[0]
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenarioA_RenameAcrossFilesIsSafe(t *testing.T) {
	skipWithoutShell(t)
	h := newHarness(t)

	res := runOne(t, h, scenarioCandidates()[0])

	assert.Equal(t, verdict.Safe, res.Verdict)
	assert.Equal(t, verdict.ApplyApplied, res.Apply.Status)
	assert.Equal(t, verdict.BuildSuccess, res.Build.Status)
	assert.Equal(t, verdict.TestSuccess, res.Test.Status)
	assert.Equal(t, 2, res.Changes.Files)
	assert.Equal(t, 3, res.Changes.Added)
	assert.Equal(t, 3, res.Changes.Removed)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, 1, res.Sequence)
	assert.Equal(t, 1, res.Worker)
	assert.False(t, res.StartedAt.IsZero())
}

func TestScenarioB_DeclarationOnlyTypeChangeBreaksBuild(t *testing.T) {
	skipWithoutShell(t)
	h := newHarness(t)

	res := runOne(t, h, scenarioCandidates()[1])

	assert.Equal(t, verdict.Unsafe, res.Verdict)
	assert.Equal(t, verdict.ApplyApplied, res.Apply.Status)
	assert.Equal(t, verdict.BuildFailure, res.Build.Status)
	require.NotEmpty(t, res.Build.Diagnostics)
	assert.Contains(t, res.Build.Diagnostics[0].Message, "incompatible types")
	assert.Equal(t, verdict.TestSkipped, res.Test.Status)
}

func TestScenarioC_StaleCandidateIsInapplicable(t *testing.T) {
	skipWithoutShell(t)
	h := newHarness(t)

	res := runOne(t, h, scenarioCandidates()[2])

	assert.Equal(t, verdict.Inapplicable, res.Verdict)
	assert.Equal(t, verdict.ApplyNotFound, res.Apply.Status)
	assert.Equal(t, verdict.BuildSkipped, res.Build.Status)
	assert.Equal(t, verdict.ChangeStats{}, res.Changes)
}

func TestScenarioD_UnresolvableExtractionIsToolFailure(t *testing.T) {
	skipWithoutShell(t)
	h := newHarness(t)

	res := runOne(t, h, scenarioCandidates()[3])

	assert.Equal(t, verdict.ToolFailure, res.Verdict)
	assert.Equal(t, verdict.ApplyFailedStatus, res.Apply.Status)
	assert.Contains(t, res.Apply.Reason, "unresolvable dependency")
	assert.Equal(t, verdict.TestSkipped, res.Test.Status)
}

func TestRun_TestRegressionIsUnsafe(t *testing.T) {
	skipWithoutShell(t)
	h := newHarness(t)

	res := runOne(t, h, scenarioCandidates()[4])

	assert.Equal(t, verdict.Unsafe, res.Verdict)
	assert.Equal(t, verdict.BuildSuccess, res.Build.Status)
	assert.Equal(t, verdict.TestFailure, res.Test.Status)
	assert.Equal(t, []string{"TestTwice"}, res.FailingTests())
}

// =============================================================================
// BATCHES
// =============================================================================

func TestRun_BatchEmitsOneResultPerCandidateInOrder(t *testing.T) {
	skipWithoutShell(t)
	h := newHarness(t)
	root := writeFixture(t)

	batch, err := h.orch.Run(t.Context(), candidate.NewSliceSource(scenarioCandidates()...), root)
	require.NoError(t, err)
	assertPristine(t, root)

	results := h.sink.Results()
	require.Len(t, results, len(scenarioVerdicts))
	for i, res := range results {
		assert.Equal(t, i+1, res.Sequence)
		assert.Equal(t, scenarioVerdicts[i], res.Verdict, "candidate %s", res.Candidate.ID)
	}
	assert.Equal(t, 5, batch.Summary.Total)
	assert.Equal(t, 2, batch.Summary.ByVerdict[verdict.Unsafe])
	assert.Equal(t, "run-1", batch.RunID)

	// The lock is released once the batch ends.
	held, err := lock.Acquire(h.lockDir, root, "test", discard())
	require.NoError(t, err)
	require.NoError(t, held.Release())
}

func TestRunParallel_KeepsSourceOrder(t *testing.T) {
	skipWithoutShell(t)
	h := newHarness(t)
	roots := []string{writeFixture(t), writeFixture(t), writeFixture(t)}

	cands := append(scenarioCandidates(), scenarioCandidates()...)
	for i := range cands {
		cands[i].ID = ""
	}
	batch, err := h.orch.RunParallel(t.Context(), candidate.NewSliceSource(cands...), roots)
	require.NoError(t, err)
	assert.Equal(t, 3, batch.Workers)

	results := h.sink.Results()
	require.Len(t, results, len(cands))
	for i, res := range results {
		assert.Equal(t, i+1, res.Sequence)
		assert.Equal(t, scenarioVerdicts[i%len(scenarioVerdicts)], res.Verdict, "sequence %d", res.Sequence)
		assert.Contains(t, []int{1, 2, 3}, res.Worker)
	}
	for _, root := range roots {
		assertPristine(t, root)
	}
}

func TestRunParallel_SameRootTwiceIsLocked(t *testing.T) {
	skipWithoutShell(t)
	h := newHarness(t)
	root := writeFixture(t)

	_, err := h.orch.RunParallel(t.Context(), candidate.NewSliceSource(scenarioCandidates()...), []string{root, root})
	require.ErrorIs(t, err, lock.ErrLocked)
	assertPristine(t, root)
}

func TestRunParallel_Arguments(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.RunParallel(t.Context(), candidate.NewSliceSource(), nil)
	assert.ErrorIs(t, err, ErrNoWorkingCopies)
	_, err = h.orch.RunParallel(t.Context(), nil, []string{"x"})
	assert.ErrorIs(t, err, ErrNilSource)
}

func TestRun_InvalidCandidateIsToolFailure(t *testing.T) {
	skipWithoutShell(t)
	h := newHarness(t)

	bad := rename("bad", "Foo.bar", "")
	res := runOne(t, h, bad)

	assert.Equal(t, verdict.ToolFailure, res.Verdict)
	assert.Contains(t, res.Apply.Reason, "invalid candidate")
}

func TestRun_BaselineBuildFailure(t *testing.T) {
	skipWithoutShell(t)
	h := newHarness(t, func(c *harnessConfig) {
		c.buildScript = `echo "src/Broken.java:3: error: ';' expected"; exit 1`
	})
	root := writeFixture(t)

	_, err := h.orch.Run(t.Context(), candidate.NewSliceSource(scenarioCandidates()...), root)
	require.ErrorIs(t, err, ErrBaselineBuildFailed)
	assert.Contains(t, err.Error(), "';' expected")
	assert.Empty(t, h.sink.Results())

	held, err := lock.Acquire(h.lockDir, root, "test", discard())
	require.NoError(t, err)
	require.NoError(t, held.Release())
}

func TestRun_CancellationStopsAtCandidateBoundary(t *testing.T) {
	skipWithoutShell(t)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	h := newHarness(t, func(c *harnessConfig) {
		c.wrapSink = func(s report.Sink) report.Sink { return &cancelSink{Sink: s, cancel: cancel} }
	})
	root := writeFixture(t)

	batch, err := h.orch.Run(ctx, candidate.NewSliceSource(scenarioCandidates()...), root)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, batch.Summary.Total)
	assert.Len(t, h.sink.Results(), 1)
	assertPristine(t, root)
}

// cancelSink cancels the batch as soon as the first result arrives.
type cancelSink struct {
	report.Sink
	cancel context.CancelFunc
}

func (s *cancelSink) Emit(ctx context.Context, r verdict.Result) error {
	s.cancel()
	return s.Sink.Emit(ctx, r)
}

func TestRun_SinkErrorAbortsBatch(t *testing.T) {
	skipWithoutShell(t)
	boom := errors.New("disk full")
	h := newHarness(t, func(c *harnessConfig) {
		c.wrapSink = func(report.Sink) report.Sink { return failingSink{err: boom} }
	})
	root := writeFixture(t)

	_, err := h.orch.Run(t.Context(), candidate.NewSliceSource(scenarioCandidates()...), root)
	require.ErrorIs(t, err, boom)
	assertPristine(t, root)
}

type failingSink struct{ err error }

func (s failingSink) Emit(context.Context, verdict.Result) error { return s.err }
func (s failingSink) Close() error                               { return nil }

// =============================================================================
// PANICS AND RESTORE FAILURES
// =============================================================================

type panickingPlanner struct{}

func (panickingPlanner) Plan(context.Context, candidate.Candidate, transform.Workspace) (*transform.ChangeSet, verdict.ApplyOutcome) {
	panic("boom")
}

func TestRun_PlannerPanicIsToolFailure(t *testing.T) {
	skipWithoutShell(t)
	h := newHarness(t, func(c *harnessConfig) { c.planner = panickingPlanner{} })
	root := writeFixture(t)

	batch, err := h.orch.Run(t.Context(), candidate.NewSliceSource(scenarioCandidates()[:2]...), root)
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Summary.ByVerdict[verdict.ToolFailure])
	for _, res := range h.sink.Results() {
		assert.Equal(t, "internal error: boom", res.Apply.Reason)
	}
	assertPristine(t, root)
}

// stageBuilder passes the baseline build and then runs fn.
type stageBuilder struct {
	calls int
	fn    func(root string) verdict.BuildOutcome
}

func (b *stageBuilder) Build(_ context.Context, root string) verdict.BuildOutcome {
	b.calls++
	if b.calls == 1 {
		return verdict.BuildOutcome{Status: verdict.BuildSuccess}
	}
	return b.fn(root)
}

func TestRun_BuildPanicAbortsAfterRestore(t *testing.T) {
	skipWithoutShell(t)
	b := &stageBuilder{fn: func(string) verdict.BuildOutcome { panic("compiler exploded") }}
	h := newHarness(t, func(c *harnessConfig) { c.builder = b })
	root := writeFixture(t)

	_, err := h.orch.Run(t.Context(), candidate.NewSliceSource(scenarioCandidates()...), root)
	require.ErrorIs(t, err, ErrStagePanic)
	assert.Contains(t, err.Error(), "compiler exploded")
	assert.Empty(t, h.sink.Results())
	assertPristine(t, root)
}

func TestRun_RestoreFailureIsFatal(t *testing.T) {
	skipWithoutShell(t)
	// Replacing Foo.java with a non-empty directory makes it unrestorable.
	b := &stageBuilder{fn: func(root string) verdict.BuildOutcome {
		foo := filepath.Join(root, filepath.FromSlash(fooPath))
		_ = os.Remove(foo)
		_ = os.MkdirAll(filepath.Join(foo, "x"), 0o755)
		return verdict.BuildOutcome{Status: verdict.BuildSuccess}
	}}
	h := newHarness(t, func(c *harnessConfig) { c.builder = b })
	root := writeFixture(t)

	_, err := h.orch.Run(t.Context(), candidate.NewSliceSource(scenarioCandidates()...), root)
	require.ErrorIs(t, err, ErrRestoreFailed)
	assert.Empty(t, h.sink.Results())
	assert.Equal(t, 2, b.calls, "the batch must stop after the first candidate")
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestPrepare_ExposesBaseline(t *testing.T) {
	skipWithoutShell(t)
	h := newHarness(t)
	root := writeFixture(t)

	wc, err := h.orch.Prepare(t.Context(), root, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"TestClient", "TestTwice"}, wc.Baseline().Passed())
	assert.Equal(t, 1, wc.Worker())
	require.NoError(t, wc.Close())
	require.NoError(t, wc.Close())

	_, err = h.orch.validate(t.Context(), wc, scenarioCandidates()[0], 1)
	assert.ErrorIs(t, err, ErrWorkingCopyClosed)
}
