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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/refval/services/refval/build"
	"github.com/AleutianAI/refval/services/refval/config"
	"github.com/AleutianAI/refval/services/refval/lock"
	"github.com/AleutianAI/refval/services/refval/orchestrator"
	"github.com/AleutianAI/refval/services/refval/process"
	"github.com/AleutianAI/refval/services/refval/report"
	"github.com/AleutianAI/refval/services/refval/telemetry"
	"github.com/AleutianAI/refval/services/refval/testrun"
	"github.com/AleutianAI/refval/services/refval/toolchain"
	"github.com/AleutianAI/refval/services/refval/transform"
)

// Exit codes.
const (
	exitFailure = 1
	exitConfig  = 2
	exitLocked  = 3
)

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	switch {
	case errors.Is(err, config.ErrInvalidConfig), errors.Is(err, config.ErrReadConfig),
		errors.Is(err, config.ErrInvalidEnv):
		return exitConfig
	case errors.Is(err, lock.ErrLocked):
		return exitLocked
	default:
		return exitFailure
	}
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// loadConfig reads file and environment settings, applies the flags the
// user set on cmd and validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{Path: configPath, EnvFile: envFile})
	if err != nil {
		return nil, err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFlags overrides cfg with every flag explicitly set on cmd.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	set := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}
	if set("root") {
		cfg.WorkingCopyRoot = rootDir
	}
	if set("copies") {
		cfg.WorkingCopies = extraCopies
	}
	if set("toolchain") {
		cfg.Toolchain = toolchainName
	}
	if set("build") {
		cfg.BuildCommand = config.ParseCommand(buildCommand)
	}
	if set("test") {
		cfg.TestCommand = config.ParseCommand(testCommand)
	}
	if set("timeout") {
		cfg.TimeoutSeconds = timeoutSecs
	}
	if set("lock-dir") {
		cfg.LockDir = lockDir
	}
	if set("verify-restore") {
		cfg.VerifyRestore = verifyRestore
	}
	if set("jsonl") {
		cfg.Report.JSONL = jsonlPath
	}
	if set("store") {
		cfg.Report.Store = storePath
	}
	if set("log-level") {
		cfg.Log.Level = strings.ToLower(logLevel)
	}
	if set("log-format") {
		cfg.Log.Format = strings.ToLower(logFormat)
	}
}

// =============================================================================
// LOGGING
// =============================================================================

// newLogger builds the slog handler selected by level and format. The
// "auto" format writes text to a terminal and JSON everywhere else.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("%w: log level %q", config.ErrInvalidConfig, level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "", "auto":
		if isTerminal(w) {
			return slog.New(slog.NewTextHandler(w, opts)), nil
		}
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("%w: log format %q", config.ErrInvalidConfig, format)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// =============================================================================
// TELEMETRY
// =============================================================================

// startTelemetry installs the configured exporters.
func startTelemetry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (telemetry.ShutdownFunc, error) {
	tc := telemetry.DefaultConfig()
	tc.ServiceName = cfg.Telemetry.ServiceName
	tc.ServiceVersion = version
	tc.TraceExporter = cfg.Telemetry.TraceExporter
	tc.MetricExporter = cfg.Telemetry.MetricExporter
	tc.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	tc.MetricsAddr = cfg.Telemetry.MetricsAddr
	return telemetry.Init(ctx, tc, logger)
}

// =============================================================================
// COMPONENTS
// =============================================================================

// components are the collaborators a validation run needs.
type components struct {
	commands toolchain.Commands
	engine   *transform.Engine
	builder  *build.Validator
	tester   *testrun.Validator
}

// newComponents resolves the toolchain for the primary working copy and
// creates the engine and validators.
func newComponents(cfg *config.Config, logger *slog.Logger) (*components, error) {
	commands, err := toolchain.NewRegistry().Resolve(cfg.WorkingCopyRoot, cfg.Override())
	if err != nil {
		return nil, err
	}
	logger.Info("Toolchain resolved",
		slog.String("toolchain", commands.Toolchain),
		slog.String("build", strings.Join(commands.Build, " ")),
		slog.String("test", strings.Join(commands.Test, " ")))

	runner := process.NewRunner(
		process.WithMaxOutput(cfg.MaxOutputBytes),
		process.WithLogger(logger),
	)
	builder, err := build.NewValidator(commands.Build, cfg.BuildTimeout(),
		build.WithRunner(runner),
		build.WithLogger(logger),
		build.WithFormat(commands.Diagnostics),
	)
	if err != nil {
		return nil, err
	}
	tester, err := testrun.NewValidator(commands.Test, cfg.TestTimeout(),
		testrun.WithRunner(runner),
		testrun.WithLogger(logger),
		testrun.WithFormat(commands.Tests),
		testrun.WithReportDirs(commands.ReportDirs...),
	)
	if err != nil {
		return nil, err
	}
	engine, err := transform.NewEngine(transform.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return &components{commands: commands, engine: engine, builder: builder, tester: tester}, nil
}

// newOrchestrator wires the components to sink.
func (c *components) newOrchestrator(cfg *config.Config, sink report.Sink, logger *slog.Logger) (*orchestrator.Orchestrator, error) {
	return orchestrator.New(c.engine, c.builder, c.tester, sink,
		orchestrator.WithLogger(logger),
		orchestrator.WithLockDir(cfg.LockDir),
		orchestrator.WithVerifyRestore(cfg.VerifyRestore),
	)
}

// openSinks opens the configured report sinks.
func openSinks(cfg *config.Config, stdout io.Writer, logger *slog.Logger) (report.Sink, error) {
	var sinks []report.Sink
	closeAll := func() {
		for _, s := range sinks {
			_ = s.Close()
		}
	}

	switch cfg.Report.JSONL {
	case "":
	case "-":
		sinks = append(sinks, report.NewJSONLSink(stdout))
	default:
		s, err := report.OpenJSONLFile(cfg.Report.JSONL)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.Report.Store != "" {
		s, err := report.OpenBadgerSink(cfg.Report.Store, logger)
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return report.NewMultiSink(sinks...), nil
}
