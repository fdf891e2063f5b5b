// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package testrun

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/refval/services/refval/toolchain"
	"github.com/AleutianAI/refval/services/refval/verdict"
)

func runWith(tests map[string]Status, exit int) *Run {
	r := newRun()
	for id, s := range tests {
		r.record(id, s)
	}
	r.ExitCode = exit
	return r
}

// =============================================================================
// REGRESSIONS
// =============================================================================

func TestRegressions(t *testing.T) {
	baseline := runWith(map[string]Status{
		"a.T.one":   StatusPassed,
		"a.T.two":   StatusPassed,
		"a.T.three": StatusFailed,
		"a.T.four":  StatusSkipped,
	}, 1)

	t.Run("all baseline-passing tests still pass", func(t *testing.T) {
		current := runWith(map[string]Status{
			"a.T.one":   StatusPassed,
			"a.T.two":   StatusPassed,
			"a.T.three": StatusFailed,
		}, 1)
		assert.Empty(t, Regressions(baseline, current))
	})

	t.Run("failing and missing tests regress", func(t *testing.T) {
		current := runWith(map[string]Status{
			"a.T.one":   StatusFailed,
			"a.T.three": StatusPassed,
		}, 1)
		assert.Equal(t, []string{"a.T.one", "a.T.two"}, Regressions(baseline, current))
	})

	t.Run("suite comparison without ids", func(t *testing.T) {
		assert.Equal(t, []string{SuiteID}, Regressions(runWith(nil, 0), runWith(nil, 1)))
		assert.Empty(t, Regressions(runWith(nil, 0), runWith(nil, 0)))
		assert.Empty(t, Regressions(runWith(nil, 1), runWith(nil, 1)))
	})

	t.Run("nil baseline compares suites", func(t *testing.T) {
		assert.Equal(t, []string{SuiteID}, Regressions(nil, runWith(nil, 2)))
	})
}

func TestRun_RecordKeepsWorst(t *testing.T) {
	r := newRun()
	r.record("x", StatusPassed)
	r.record("x", StatusFailed)
	r.record("x", StatusPassed)
	r.record("y", StatusSkipped)
	r.record("y", StatusPassed)
	r.record("", StatusFailed)
	assert.Equal(t, map[string]Status{"x": StatusFailed, "y": StatusPassed}, r.Tests)
}

// =============================================================================
// JUNIT
// =============================================================================

const surefireReport = `<?xml version="1.0" encoding="UTF-8"?>
<testsuite name="com.acme.FooTest" tests="4" failures="1" errors="1" skipped="1">
  <testcase name="barReturnsDouble" classname="com.acme.FooTest" time="0.01"/>
  <testcase name="barRejectsNegative" classname="com.acme.FooTest" time="0.01">
    <failure message="expected: 1 but was: 2" type="org.opentest4j.AssertionFailedError">trace</failure>
  </testcase>
  <testcase name="barThrows" classname="com.acme.FooTest" time="0.0">
    <error message="boom" type="java.lang.IllegalStateException"/>
  </testcase>
  <testcase name="slow" classname="com.acme.FooTest" time="0">
    <skipped/>
  </testcase>
</testsuite>`

func TestParseJUnitXML(t *testing.T) {
	t.Run("testsuite root", func(t *testing.T) {
		run := newRun()
		n, err := ParseJUnitXML([]byte(surefireReport), run)
		require.NoError(t, err)
		assert.Equal(t, 4, n)
		assert.Equal(t, []string{"com.acme.FooTest.barReturnsDouble"}, run.Passed())
		assert.Equal(t, []string{"com.acme.FooTest.barRejectsNegative", "com.acme.FooTest.barThrows"}, run.Failed())
		assert.Equal(t, StatusSkipped, run.Tests["com.acme.FooTest.slow"])
	})

	t.Run("testsuites root with nesting and no classname", func(t *testing.T) {
		data := `<testsuites>
  <testsuite name="outer">
    <testsuite name="inner">
      <testcase name="t1"/>
    </testsuite>
    <testcase name="t2" classname="pkg.C"><failure/></testcase>
  </testsuite>
</testsuites>`
		run := newRun()
		n, err := ParseJUnitXML([]byte(data), run)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, StatusPassed, run.Tests["inner.t1"])
		assert.Equal(t, StatusFailed, run.Tests["pkg.C.t2"])
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := ParseJUnitXML([]byte("<testsuite"), newRun())
		assert.ErrorIs(t, err, ErrReportParse)
	})

	t.Run("wrong root", func(t *testing.T) {
		_, err := ParseJUnitXML([]byte("<testng-results/>"), newRun())
		assert.ErrorIs(t, err, ErrReportParse)
	})
}

func TestReadReports_SkipsStaleFiles(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "target", "surefire-reports")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	stale := filepath.Join(dir, "TEST-Old.xml")
	require.NoError(t, os.WriteFile(stale, []byte(`<testsuite><testcase classname="Old" name="gone"/></testsuite>`), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "TEST-com.acme.FooTest.xml"), []byte(surefireReport), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "com.acme.FooTest.txt"), []byte("Tests run: 4"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "TEST-broken.xml"), []byte("<testsuite"), 0o644))

	run := newRun()
	n, errs := readReports(root, []string{"target/surefire-reports"}, time.Now().Add(-time.Minute), run)
	assert.Equal(t, 4, n)
	assert.Len(t, errs, 1)
	assert.NotContains(t, run.Tests, "Old.gone")
}

// =============================================================================
// CONSOLE PARSERS
// =============================================================================

func TestParseGoTestOutput(t *testing.T) {
	output := `=== RUN   TestAdd
--- PASS: TestAdd (0.00s)
=== RUN   TestSub
    sub_test.go:9: wrong
--- FAIL: TestSub (0.00s)
=== RUN   TestTable
=== RUN   TestTable/case
    --- SKIP: TestTable/case (0.00s)
--- PASS: TestTable (0.00s)
FAIL
FAIL	example.com/calc	0.012s
=== RUN   TestBoom
panic: runtime error [recovered]
FAIL	example.com/boom	0.010s
`
	run := newRun()
	parseGoTestOutput(output, run)
	assert.Equal(t, map[string]Status{
		"example.com/calc.TestAdd":        StatusPassed,
		"example.com/calc.TestSub":        StatusFailed,
		"example.com/calc.TestTable":      StatusPassed,
		"example.com/calc.TestTable/case": StatusSkipped,
		"example.com/boom.TestBoom":       StatusFailed,
	}, run.Tests)
}

func TestParseSurefireOutput(t *testing.T) {
	output := `[INFO] Running com.acme.FooTest
[ERROR] Tests run: 3, Failures: 1, Errors: 1, Skipped: 0, Time elapsed: 0.05 s <<< FAILURE! - in com.acme.FooTest
[ERROR] barRejectsNegative(com.acme.FooTest)  Time elapsed: 0.01 s  <<< FAILURE!
[ERROR] com.acme.FooTest.barThrows  Time elapsed: 0 s  <<< ERROR!
[INFO] Results:
[ERROR] Tests run: 3, Failures: 1, Errors: 1, Skipped: 0
[INFO] Tests run: 5, Failures: 0, Errors: 0, Skipped: 1
`
	run := newRun()
	parseSurefireOutput(output, run)
	assert.Equal(t, []string{"com.acme.FooTest.barRejectsNegative", "com.acme.FooTest.barThrows"}, run.Failed())
	assert.Empty(t, run.Passed())

	assert.Equal(t, &Counts{Run: 8, Failures: 1, Errors: 1, Skipped: 1}, parseSurefireCounts(output))
	assert.Nil(t, parseSurefireCounts("BUILD SUCCESS"))
}

func TestParseGradleTestOutput(t *testing.T) {
	output := `> Task :test
com.acme.FooTest > barReturnsDouble() PASSED
com.acme.FooTest > barRejectsNegative() FAILED
    org.opentest4j.AssertionFailedError at FooTest.java:21
com.acme.FooTest > slow() SKIPPED
`
	run := newRun()
	parseGradleTestOutput(output, run)
	assert.Equal(t, map[string]Status{
		"com.acme.FooTest.barReturnsDouble":   StatusPassed,
		"com.acme.FooTest.barRejectsNegative": StatusFailed,
		"com.acme.FooTest.slow":               StatusSkipped,
	}, run.Tests)
}

func TestParsePytestOutput(t *testing.T) {
	output := `tests/test_calc.py::test_add PASSED                       [ 33%]
tests/test_calc.py::test_div FAILED                       [ 66%]
tests/test_calc.py::test_slow SKIPPED (slow)              [100%]
=========================== short test summary info ============================
PASSED tests/test_calc.py::test_add
FAILED tests/test_calc.py::test_div - ZeroDivisionError
ERROR tests/test_io.py::test_read - FileNotFoundError
`
	run := newRun()
	parsePytestOutput(output, run)
	assert.Equal(t, map[string]Status{
		"tests/test_calc.py::test_add":  StatusPassed,
		"tests/test_calc.py::test_div":  StatusFailed,
		"tests/test_calc.py::test_slow": StatusSkipped,
		"tests/test_io.py::test_read":   StatusFailed,
	}, run.Tests)
}

func TestParseJestOutput(t *testing.T) {
	output := `PASS src/sum.test.js
  ✓ adds numbers (3 ms)
  ○ skipped pending
FAIL src/div.test.js
  ✕ divides by zero (12 ms)
Tests:       1 failed, 1 skipped, 1 passed, 3 total
`
	run := newRun()
	parseJestOutput(output, run)
	assert.Equal(t, map[string]Status{
		"src/sum.test.js > adds numbers":    StatusPassed,
		"src/sum.test.js > skipped pending": StatusSkipped,
		"src/div.test.js > divides by zero": StatusFailed,
	}, run.Tests)
}

func TestParseConsole_Auto(t *testing.T) {
	run := newRun()
	ParseConsole(toolchain.TestsAuto, "--- PASS: TestX (0.00s)\nok  \texample.com/x\t0.1s\n", run)
	assert.Equal(t, []string{"example.com/x.TestX"}, run.Passed())
}

// =============================================================================
// VALIDATOR
// =============================================================================

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

func TestValidator_ReportsAndBaseline(t *testing.T) {
	skipWithoutShell(t)
	ctx := context.Background()
	root := t.TempDir()
	reports := filepath.Join(root, "target", "surefire-reports")
	require.NoError(t, os.MkdirAll(reports, 0o755))
	marker := filepath.Join(root, "broken")

	// Writes a report whose second test fails once the marker exists.
	script := `second='<testcase classname="T" name="two"/>'
if [ -f broken ]; then second='<testcase classname="T" name="two"><failure/></testcase>'; fi
printf '<testsuite><testcase classname="T" name="one"/>%s</testsuite>' "$second" > target/surefire-reports/TEST-T.xml
echo "Tests run: 2, Failures: 0, Errors: 0, Skipped: 0"`

	v, err := NewValidator([]string{"sh", "-c", script}, time.Minute,
		WithFormat(toolchain.TestsSurefire),
		WithReportDirs("target/surefire-reports"))
	require.NoError(t, err)

	baseline, err := v.Baseline(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, SourceReports, baseline.Source)
	assert.Equal(t, []string{"T.one", "T.two"}, baseline.Passed())
	require.NotNil(t, baseline.Counts)
	assert.Equal(t, 2, baseline.Counts.Run)

	out := v.Test(ctx, root, baseline)
	assert.Equal(t, verdict.TestSuccess, out.Status)

	require.NoError(t, os.WriteFile(marker, nil, 0o644))
	out = v.Test(ctx, root, baseline)
	assert.Equal(t, verdict.TestFailure, out.Status)
	assert.Equal(t, []string{"T.two"}, out.FailingTests)
}

func TestValidator_SuiteFallback(t *testing.T) {
	skipWithoutShell(t)
	ctx := context.Background()
	root := t.TempDir()

	pass, err := NewValidator([]string{"sh", "-c", "echo all good"}, time.Minute)
	require.NoError(t, err)
	baseline, err := pass.Baseline(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, SourceExit, baseline.Source)

	fail, err := NewValidator([]string{"sh", "-c", "echo nope; exit 1"}, time.Minute)
	require.NoError(t, err)
	out := fail.Test(ctx, root, baseline)
	assert.Equal(t, verdict.TestFailure, out.Status)
	assert.Equal(t, []string{SuiteID}, out.FailingTests)
}

func TestValidator_Timeout(t *testing.T) {
	skipWithoutShell(t)
	ctx := context.Background()
	v, err := NewValidator([]string{"sh", "-c", "sleep 30"}, 100*time.Millisecond)
	require.NoError(t, err)

	out := v.Test(ctx, t.TempDir(), nil)
	assert.Equal(t, verdict.TestFailure, out.Status)
	assert.True(t, out.TimedOut)
	assert.Equal(t, []string{"test timeout"}, out.FailingTests)

	_, err = v.Baseline(ctx, t.TempDir())
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestValidator_StartFailure(t *testing.T) {
	v, err := NewValidator([]string{"refval-missing-test-tool"}, time.Minute)
	require.NoError(t, err)

	_, err = v.Run(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrStartFailed)

	out := v.Test(context.Background(), t.TempDir(), nil)
	assert.Equal(t, verdict.TestFailure, out.Status)
	require.Len(t, out.FailingTests, 1)
	assert.Contains(t, out.FailingTests[0], "test command failed to start: ")
}

func TestNewValidator(t *testing.T) {
	_, err := NewValidator(nil, time.Second)
	assert.ErrorIs(t, err, ErrEmptyCommand)
	_, err = NewValidator([]string{"x"}, -1)
	assert.ErrorIs(t, err, ErrInvalidTimeout)
}
