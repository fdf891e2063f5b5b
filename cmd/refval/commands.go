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

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	// Root flags (inherited by subcommands)
	configPath string
	envFile    string
	logLevel   string
	logFormat  string

	// Working copy and tooling
	rootDir       string
	extraCopies   []string
	toolchainName string
	buildCommand  string
	testCommand   string
	timeoutSecs   int
	lockDir       string
	verifyRestore bool

	// validate and plan
	candidatesPath string

	// Reporting
	jsonlPath string
	storePath string

	// results
	resultsRunID string
	resultsJSON  bool
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var rootCmd = &cobra.Command{
	Use:   "refval",
	Short: "Validate refactoring candidates against a Java codebase",
	Long: `refval applies each proposed refactoring to a working copy, builds and
tests it, classifies the outcome and restores the working copy.

Every candidate receives exactly one verdict:
  safe          applied, compiled, no test regressions
  unsafe        applied, then the build or a baseline-passing test failed
                (timeouts included)
  inapplicable  the location or symbol no longer resolves
  tool_failure  the edit could not be applied safely; nothing was written`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a batch of candidates",
	Long: `Validate every candidate in a JSON Lines or YAML file.

Results stream to the configured sinks in candidate order. With extra
working copies (--copies) candidates are validated in parallel, one
worker per copy.

Examples:
  refval validate --root ./project --candidates candidates.jsonl
  refval validate --config refval.yaml --copies ../p2,../p3 --jsonl out.jsonl`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the edits a candidate would make without writing them",
	Long: `Plan each candidate against the working copy and print the unified
diff and discovered references. Nothing is written and no build runs.

Examples:
  refval plan --root ./project --candidates one.yaml`,
	Args: cobra.NoArgs,
	RunE: runPlan,
}

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Build and test the unmodified working copy",
	Args:  cobra.NoArgs,
	RunE:  runBaseline,
}

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "List stored runs or print the results of one run",
	Long: `Read a result store written by 'refval validate --store'.

Without --run every stored run is listed with its verdict counts.

Examples:
  refval results --store .refval/results
  refval results --store .refval/results --run 3f0c... --json`,
	Args: cobra.NoArgs,
	RunE: runResults,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the refval version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "refval", version)
	},
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "",
		"Environment file loaded before REFVAL_* overrides (default .env if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Log format: auto, text, json")

	for _, cmd := range []*cobra.Command{validateCmd, planCmd, baselineCmd} {
		cmd.Flags().StringVarP(&rootDir, "root", "r", "",
			"Working copy root")
	}
	for _, cmd := range []*cobra.Command{validateCmd, baselineCmd} {
		cmd.Flags().StringVar(&toolchainName, "toolchain", "",
			"Toolchain: auto, custom, maven, gradle, go")
		cmd.Flags().StringVar(&buildCommand, "build", "",
			"Build command line, run through the shell")
		cmd.Flags().StringVar(&testCommand, "test", "",
			"Test command line, run through the shell")
		cmd.Flags().IntVar(&timeoutSecs, "timeout", 0,
			"Timeout in seconds for each build and test run")
		cmd.Flags().StringVar(&lockDir, "lock-dir", "",
			"Directory for working copy lock files")
	}
	for _, cmd := range []*cobra.Command{validateCmd, planCmd} {
		cmd.Flags().StringVarP(&candidatesPath, "candidates", "f", "",
			"Candidate file (.jsonl, .json, .yaml)")
		_ = cmd.MarkFlagRequired("candidates")
	}

	validateCmd.Flags().StringSliceVar(&extraCopies, "copies", nil,
		"Extra working copies for parallel validation")
	validateCmd.Flags().StringVar(&jsonlPath, "jsonl", "",
		"Append results as JSON Lines to this file ('-' for stdout)")
	validateCmd.Flags().StringVar(&storePath, "store", "",
		"Persist results into this BadgerDB directory")
	validateCmd.Flags().BoolVar(&verifyRestore, "verify-restore", false,
		"Verify restored files against their snapshot checksums")

	resultsCmd.Flags().StringVar(&storePath, "store", "",
		"Result store directory")
	resultsCmd.Flags().StringVar(&resultsRunID, "run", "",
		"Print the results of this run")
	resultsCmd.Flags().BoolVar(&resultsJSON, "json", false,
		"Output as JSON Lines")
	_ = resultsCmd.MarkFlagRequired("store")

	rootCmd.AddCommand(validateCmd, planCmd, baselineCmd, resultsCmd, versionCmd)
}
