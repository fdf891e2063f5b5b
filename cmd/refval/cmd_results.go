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
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/refval/services/refval/report"
	badgerstore "github.com/AleutianAI/refval/services/refval/storage/badger"
	"github.com/AleutianAI/refval/services/refval/verdict"
)

// runResults lists the runs in a result store or prints one run.
func runResults(cmd *cobra.Command, args []string) error {
	level, format := logLevel, logFormat
	if level == "" {
		level = "warn"
	}
	logger, err := newLogger(cmd.ErrOrStderr(), level, format)
	if err != nil {
		return err
	}

	db, err := badgerstore.Open(badgerstore.Config{Path: storePath, ReadOnly: true, Logger: logger})
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	if resultsRunID == "" {
		runs, err := report.ListRuns(ctx, db)
		if err != nil {
			return err
		}
		return printRuns(cmd.OutOrStdout(), runs)
	}
	results, err := report.LoadResults(ctx, db, resultsRunID)
	if err != nil {
		return err
	}
	if resultsJSON {
		return writeJSONL(ctx, cmd.OutOrStdout(), results)
	}
	return printResults(cmd.OutOrStdout(), results)
}

func printRuns(w io.Writer, runs []report.RunInfo) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tTOTAL\tSAFE\tUNSAFE\tINAPPLICABLE\tTOOL_FAILURE")
	for _, run := range runs {
		by := run.Summary.ByVerdict
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			run.RunID, run.StartedAt.Local().Format(time.DateTime), run.Summary.Total,
			by[verdict.Safe], by[verdict.Unsafe], by[verdict.Inapplicable], by[verdict.ToolFailure])
	}
	return tw.Flush()
}

func printResults(w io.Writer, results []verdict.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tID\tKIND\tVERDICT\tDETAIL")
	for _, r := range results {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			r.Sequence, r.Candidate.ID, r.Candidate.Kind, r.Verdict, describe(r))
	}
	return tw.Flush()
}

func writeJSONL(ctx context.Context, w io.Writer, results []verdict.Result) error {
	sink := report.NewJSONLSink(w)
	for _, r := range results {
		if err := sink.Emit(ctx, r); err != nil {
			return err
		}
	}
	return sink.Close()
}
