// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/refval/services/refval/report"
	"github.com/AleutianAI/refval/services/refval/testrun"
)

// runBaseline locks the working copy, builds and tests it unmodified and
// prints the baseline candidates will be compared against.
func runBaseline(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	comps, err := newComponents(cfg, logger)
	if err != nil {
		return err
	}
	orch, err := comps.newOrchestrator(cfg, report.NewMemorySink(), logger)
	if err != nil {
		return err
	}
	wc, err := orch.Prepare(ctx, cfg.WorkingCopyRoot, 0)
	if err != nil {
		return err
	}
	defer func() {
		if err := wc.Close(); err != nil {
			logger.Warn("Failed to release working copy", slog.String("error", err.Error()))
		}
	}()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "root:      %s\n", wc.Root())
	fmt.Fprintf(out, "toolchain: %s\n", comps.commands.Toolchain)
	fmt.Fprintf(out, "build:     %s\n", strings.Join(comps.commands.Build, " "))
	fmt.Fprintf(out, "test:      %s\n", strings.Join(comps.commands.Test, " "))
	printRun(out, wc.Baseline())
	return nil
}

func printRun(w io.Writer, run *testrun.Run) {
	passed, failed := run.Passed(), run.Failed()
	fmt.Fprintf(w, "tests:     %d passed, %d failed (source %s, exit %d, %s)\n",
		len(passed), len(failed), run.Source, run.ExitCode, run.Duration.Round(time.Millisecond))
	if run.Counts != nil {
		fmt.Fprintf(w, "surefire:  run %d, failures %d, errors %d, skipped %d\n",
			run.Counts.Run, run.Counts.Failures, run.Counts.Errors, run.Counts.Skipped)
	}
	for _, id := range failed {
		fmt.Fprintf(w, "  FAIL %s\n", id)
	}
}
