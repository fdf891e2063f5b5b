// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads refval configuration.
//
// Precedence, lowest first: DefaultConfig, the YAML file, a .env file,
// REFVAL_* environment variables, then command-line flags applied by the
// caller before Validate.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/refval/services/refval/toolchain"
)

// =============================================================================
// TYPES
// =============================================================================

// Config is the full refval configuration.
type Config struct {
	// WorkingCopyRoot is the codebase candidates are validated against.
	WorkingCopyRoot string `yaml:"working_copy_root" validate:"required"`

	// WorkingCopies are extra independent copies for parallel workers.
	WorkingCopies []string `yaml:"working_copies,omitempty" validate:"dive,required"`

	// LockDir holds working copy lock files. Empty uses the user cache.
	LockDir string `yaml:"lock_dir,omitempty"`

	// TimeoutSeconds bounds each build and test run.
	TimeoutSeconds int `yaml:"timeout_seconds" validate:"gt=0"`

	// BuildTimeoutSeconds and TestTimeoutSeconds override TimeoutSeconds
	// per stage when positive.
	BuildTimeoutSeconds int `yaml:"build_timeout_seconds,omitempty" validate:"gte=0"`
	TestTimeoutSeconds  int `yaml:"test_timeout_seconds,omitempty" validate:"gte=0"`

	// BuildCommand and TestCommand override the toolchain commands. A
	// string runs through the shell, a list runs directly.
	BuildCommand Command `yaml:"build_command,omitempty"`
	TestCommand  Command `yaml:"test_command,omitempty"`

	// Toolchain is "auto", "custom" or a profile name such as "maven".
	Toolchain string `yaml:"toolchain"`

	// MaxOutputBytes bounds captured subprocess output.
	MaxOutputBytes int `yaml:"max_output_bytes" validate:"gte=0"`

	// VerifyRestore re-reads every restored file and compares checksums.
	VerifyRestore bool `yaml:"verify_restore"`

	Report    ReportConfig    `yaml:"report"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// ReportConfig selects result sinks.
type ReportConfig struct {
	// JSONL appends results to this file when set.
	JSONL string `yaml:"jsonl,omitempty"`

	// Store persists results into a BadgerDB directory when set.
	Store string `yaml:"store,omitempty"`
}

// TelemetryConfig selects OpenTelemetry exporters.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name" validate:"required"`
	TraceExporter  string `yaml:"trace_exporter" validate:"oneof=none stdout otlp"`
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=none stdout prometheus"`
	OTLPEndpoint   string `yaml:"otlp_endpoint,omitempty" validate:"required_if=TraceExporter otlp"`
	MetricsAddr    string `yaml:"metrics_addr,omitempty" validate:"required_if=MetricExporter prometheus"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=auto text json"`
}

// Command is a subprocess command line.
type Command []string

// UnmarshalYAML accepts a shell string or an argument list.
func (c *Command) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*c = ParseCommand(s)
		return nil
	case yaml.SequenceNode:
		var argv []string
		if err := node.Decode(&argv); err != nil {
			return err
		}
		*c = argv
		return nil
	default:
		return fmt.Errorf("line %d: command must be a string or a list", node.Line)
	}
}

// ParseCommand wraps a non-empty command line for the platform shell.
func ParseCommand(line string) Command {
	if strings.TrimSpace(line) == "" {
		return nil
	}
	return toolchain.ShellArgv(line)
}

// DefaultConfig returns the defaults.
func DefaultConfig() *Config {
	return &Config{
		TimeoutSeconds: 600,
		Toolchain:      "auto",
		MaxOutputBytes: 1 << 20,
		Telemetry: TelemetryConfig{
			ServiceName:    "refval",
			TraceExporter:  "none",
			MetricExporter: "none",
		},
		Log: LogConfig{Level: "info", Format: "auto"},
	}
}

// BuildTimeout returns the effective build timeout.
func (c *Config) BuildTimeout() time.Duration {
	if c.BuildTimeoutSeconds > 0 {
		return time.Duration(c.BuildTimeoutSeconds) * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TestTimeout returns the effective test timeout.
func (c *Config) TestTimeout() time.Duration {
	if c.TestTimeoutSeconds > 0 {
		return time.Duration(c.TestTimeoutSeconds) * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Roots returns the primary working copy followed by the extra copies.
func (c *Config) Roots() []string {
	return append([]string{c.WorkingCopyRoot}, c.WorkingCopies...)
}

// Override returns the toolchain override for these settings.
func (c *Config) Override() toolchain.Override {
	return toolchain.Override{
		Toolchain: c.Toolchain,
		Build:     c.BuildCommand,
		Test:      c.TestCommand,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration.
//
// Outputs:
//
//	error - Wraps ErrInvalidConfig with the offending fields
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	seen := map[string]bool{}
	for _, root := range c.Roots() {
		if seen[root] {
			return fmt.Errorf("%w: working copy %s listed twice", ErrInvalidConfig, root)
		}
		seen[root] = true
	}
	return nil
}

// =============================================================================
// LOADING
// =============================================================================

// LoadOptions controls Load.
type LoadOptions struct {
	// Path is the YAML config file. Empty skips the file.
	Path string

	// EnvFile is loaded into the process environment without overriding
	// variables that are already set. Empty means ".env"; a missing
	// default file is ignored.
	EnvFile string

	// Getenv reads variables. Nil uses os.Getenv.
	Getenv func(string) string
}

// Load builds the configuration from defaults, file and environment. It
// does not validate: callers apply flags first, then call Validate.
func Load(opts LoadOptions) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		if _, err := os.Stat(".env"); err == nil {
			envFile = ".env"
		}
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := DefaultConfig()
	if opts.Path != "" {
		data, err := os.ReadFile(opts.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrReadConfig, err)
		}
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrReadConfig, opts.Path, err)
		}
	}

	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if err := applyEnv(cfg, getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode reads YAML strictly so misspelled keys are reported.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv applies REFVAL_* overrides.
func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v := strings.TrimSpace(getenv(name))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidEnv, name, v, err)
		}
		*dst = n
		return nil
	}

	str("REFVAL_WORKING_COPY_ROOT", &cfg.WorkingCopyRoot)
	if v := strings.TrimSpace(getenv("REFVAL_WORKING_COPIES")); v != "" {
		cfg.WorkingCopies = nil
		for _, p := range strings.Split(v, string(os.PathListSeparator)) {
			if p = strings.TrimSpace(p); p != "" {
				cfg.WorkingCopies = append(cfg.WorkingCopies, p)
			}
		}
	}
	str("REFVAL_LOCK_DIR", &cfg.LockDir)
	for name, dst := range map[string]*int{
		"REFVAL_TIMEOUT_SECONDS":       &cfg.TimeoutSeconds,
		"REFVAL_BUILD_TIMEOUT_SECONDS": &cfg.BuildTimeoutSeconds,
		"REFVAL_TEST_TIMEOUT_SECONDS":  &cfg.TestTimeoutSeconds,
		"REFVAL_MAX_OUTPUT_BYTES":      &cfg.MaxOutputBytes,
	} {
		if err := num(name, dst); err != nil {
			return err
		}
	}
	if v := getenv("REFVAL_BUILD_COMMAND"); strings.TrimSpace(v) != "" {
		cfg.BuildCommand = ParseCommand(v)
	}
	if v := getenv("REFVAL_TEST_COMMAND"); strings.TrimSpace(v) != "" {
		cfg.TestCommand = ParseCommand(v)
	}
	str("REFVAL_TOOLCHAIN", &cfg.Toolchain)
	if v := strings.TrimSpace(getenv("REFVAL_VERIFY_RESTORE")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: REFVAL_VERIFY_RESTORE=%q: %v", ErrInvalidEnv, v, err)
		}
		cfg.VerifyRestore = b
	}
	str("REFVAL_REPORT_JSONL", &cfg.Report.JSONL)
	str("REFVAL_REPORT_STORE", &cfg.Report.Store)
	str("REFVAL_SERVICE_NAME", &cfg.Telemetry.ServiceName)
	str("REFVAL_TRACE_EXPORTER", &cfg.Telemetry.TraceExporter)
	str("REFVAL_METRIC_EXPORTER", &cfg.Telemetry.MetricExporter)
	str("REFVAL_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
	str("REFVAL_METRICS_ADDR", &cfg.Telemetry.MetricsAddr)
	str("REFVAL_LOG_LEVEL", &cfg.Log.Level)
	str("REFVAL_LOG_FORMAT", &cfg.Log.Format)
	return nil
}
