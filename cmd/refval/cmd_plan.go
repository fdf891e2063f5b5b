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
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/refval/services/refval/candidate"
	"github.com/AleutianAI/refval/services/refval/transform"
	"github.com/AleutianAI/refval/services/refval/verdict"
)

// runPlan prints the change set each candidate would produce. It reads
// the working copy but never writes to it.
func runPlan(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	engine, err := transform.NewEngine(transform.WithLogger(logger))
	if err != nil {
		return err
	}
	ws := transform.NewDirWorkspace(cfg.WorkingCopyRoot)

	it, err := candidate.NewFileSource(candidatesPath).Open(ctx)
	if err != nil {
		return err
	}
	defer it.Close()

	out := cmd.OutOrStdout()
	for {
		c, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if !errors.Is(err, candidate.ErrInvalidCandidate) {
				return fmt.Errorf("read candidates: %w", err)
			}
			logger.Warn("Skipping invalid candidate",
				slog.String("candidate_id", c.ID),
				slog.String("error", err.Error()))
			fmt.Fprintf(out, "== %s\ninvalid: %v\n\n", c.ID, err)
			continue
		}
		cs, outcome := engine.Plan(ctx, c, ws)
		printPlan(out, c, cs, outcome)
	}
}

// printPlan writes the outcome, references and diff for one candidate.
func printPlan(w io.Writer, c candidate.Candidate, cs *transform.ChangeSet, outcome verdict.ApplyOutcome) {
	fmt.Fprintf(w, "== %s %s\n", c.ID, c)
	if outcome.Status != verdict.ApplyApplied || cs == nil {
		fmt.Fprintf(w, "%s\n\n", outcome)
		return
	}
	stats := cs.Stats()
	fmt.Fprintf(w, "%s: %d files, +%d -%d\n", outcome, stats.Files, stats.Added, stats.Removed)
	if refs := cs.References(); len(refs) > 0 {
		fmt.Fprintln(w, "references:")
		for _, ref := range refs {
			fmt.Fprintf(w, "  %s  %s\n", ref, ref.Context)
		}
	}
	fmt.Fprintln(w, cs.Diff())
}
