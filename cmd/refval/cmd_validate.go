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
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/refval/services/refval/candidate"
	"github.com/AleutianAI/refval/services/refval/config"
	"github.com/AleutianAI/refval/services/refval/orchestrator"
	"github.com/AleutianAI/refval/services/refval/verdict"
)

// shutdownTimeout bounds exporter flushing on exit.
const shutdownTimeout = 5 * time.Second

// setup loads the configuration and builds the logger for cmd.
func setup(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// runValidate validates the candidate file and prints the verdict counts.
func runValidate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := startTelemetry(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			logger.Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	comps, err := newComponents(cfg, logger)
	if err != nil {
		return err
	}
	sink, err := openSinks(cfg, cmd.OutOrStdout(), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Error("Failed to close report sinks", slog.String("error", err.Error()))
		}
	}()

	orch, err := comps.newOrchestrator(cfg, sink, logger)
	if err != nil {
		return err
	}
	batch, runErr := orch.RunParallel(ctx, candidate.NewFileSource(candidatesPath), cfg.Roots())
	if batch != nil {
		// JSON Lines on stdout keep the summary out of the stream.
		out := cmd.OutOrStdout()
		if cfg.Report.JSONL == "-" {
			out = cmd.ErrOrStderr()
		}
		printBatch(out, batch)
	}
	return runErr
}

// printBatch writes the run summary.
func printBatch(w io.Writer, batch *orchestrator.BatchResult) {
	fmt.Fprintf(w, "run %s: %d candidates in %s (%d workers)\n",
		batch.RunID, batch.Summary.Total, batch.Duration.Round(time.Millisecond), batch.Workers)
	for _, line := range batch.Summary.Lines() {
		fmt.Fprintln(w, "  "+line)
	}
	if batch.Skipped > 0 {
		fmt.Fprintf(w, "  %-13s %d\n", "skipped:", batch.Skipped)
	}
}

// describe summarizes why r received its verdict.
func describe(r verdict.Result) string {
	switch {
	case r.Apply.Status != verdict.ApplyApplied:
		return r.Apply.String()
	case r.Build.TimedOut:
		return "build timed out"
	case r.Build.Status == verdict.BuildFailure:
		errs := r.BuildErrors()
		if len(errs) == 0 {
			return fmt.Sprintf("build failed (exit %d)", r.Build.ExitCode)
		}
		return fmt.Sprintf("build failed: %d errors, first: %s", len(errs), errs[0])
	case r.Test.TimedOut:
		return "tests timed out"
	case r.Test.Status == verdict.TestFailure:
		if failing := r.FailingTests(); len(failing) > 0 {
			return "regressions: " + strings.Join(failing, ", ")
		}
		return "test suite failed"
	default:
		return fmt.Sprintf("%d files, +%d -%d", r.Changes.Files, r.Changes.Added, r.Changes.Removed)
	}
}
