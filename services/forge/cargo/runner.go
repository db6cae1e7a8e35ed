// Copyright (C) 2025 Crucible Labs (oss@cruciblelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cargo invokes the Rust toolchain against a workspace.
//
// Build and run are separate stages: Run is only meaningful after a
// successful Build, and a run failure never counts as a compile
// failure. Both stages enforce a hard wall-clock timeout and guarantee
// that no subprocess survives the call on any exit path.
package cargo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrInvalidInput indicates a nil context or empty workspace directory.
var ErrInvalidInput = errors.New("invalid input")

// Result is the outcome of one toolchain invocation. It is produced
// exactly once per stage and never mutated afterward.
type Result struct {
	// Success is true when the process exited with code zero.
	Success bool `json:"success"`

	// ExitCode is the process exit code; -1 when the process was
	// killed before exiting normally.
	ExitCode int `json:"exit_code"`

	// Output is the combined stdout and stderr of the process.
	Output string `json:"output"`

	// TimedOut is true when the wall-clock timeout expired and the
	// process tree was forcibly terminated.
	TimedOut bool `json:"timed_out"`

	// Duration is the wall-clock time of the invocation.
	Duration time.Duration `json:"duration"`
}

// Config holds per-runner toolchain settings. There is no process-wide
// toolchain state; every Runner carries its own configuration.
type Config struct {
	// CargoPath is the cargo binary to invoke.
	// Default: "cargo"
	CargoPath string

	// BuildTimeout bounds one `cargo build` invocation.
	// Default: 120s
	BuildTimeout time.Duration

	// RunTimeout bounds one `cargo run` invocation.
	// Default: 30s
	RunTimeout time.Duration

	// Logger for invocation diagnostics.
	// Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults for local use.
func DefaultConfig() Config {
	return Config{
		CargoPath:    "cargo",
		BuildTimeout: 120 * time.Second,
		RunTimeout:   30 * time.Second,
	}
}

// applyDefaults fills in zero values with defaults.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.CargoPath == "" {
		c.CargoPath = defaults.CargoPath
	}
	if c.BuildTimeout == 0 {
		c.BuildTimeout = defaults.BuildTimeout
	}
	if c.RunTimeout == 0 {
		c.RunTimeout = defaults.RunTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Runner executes cargo build and run stages.
//
// Thread Safety: Safe for concurrent use; each invocation spawns its
// own process.
type Runner struct {
	config Config
}

// NewRunner creates a Runner with the given configuration. Zero-value
// fields fall back to DefaultConfig.
func NewRunner(config Config) *Runner {
	config.applyDefaults()
	return &Runner{config: config}
}

// Build runs `cargo build` rooted at the workspace directory.
//
// Inputs:
//
//	ctx - Context for cancellation; the configured BuildTimeout is
//	      applied on top of it
//	dir - Workspace directory containing Cargo.toml
//
// Outputs:
//
//	*Result - Invocation outcome with combined output
//	error - ErrInvalidInput for bad arguments, or the context's error
//	        when the caller cancelled; toolchain failures are reported
//	        in the Result, not as errors
func (r *Runner) Build(ctx context.Context, dir string) (*Result, error) {
	return r.invoke(ctx, dir, "build", r.config.BuildTimeout)
}

// Run runs `cargo run` rooted at the workspace directory. Call it only
// after a successful Build; a non-zero exit here is a run failure, not
// a compile failure.
func (r *Runner) Run(ctx context.Context, dir string) (*Result, error) {
	return r.invoke(ctx, dir, "run", r.config.RunTimeout)
}

// invoke spawns one cargo subprocess with a hard deadline and a
// process-group kill so rustc children cannot outlive the call.
func (r *Runner) invoke(ctx context.Context, dir, subcommand string, timeout time.Duration) (*Result, error) {
	if ctx == nil {
		return nil, fmt.Errorf("%w: ctx must not be nil", ErrInvalidInput)
	}
	if dir == "" {
		return nil, fmt.Errorf("%w: dir must not be empty", ErrInvalidInput)
	}

	ctx, span := startCargoSpan(ctx, subcommand, dir)
	defer span.End()

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, r.config.CargoPath, subcommand)
	cmd.Dir = dir

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	// Kill the whole process group on cancellation, then reap within
	// WaitDelay so Wait cannot hang on inherited pipes.
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := &Result{
		Success:  err == nil,
		ExitCode: cmd.ProcessState.ExitCode(),
		Output:   output.String(),
		TimedOut: errors.Is(cmdCtx.Err(), context.DeadlineExceeded),
		Duration: duration,
	}

	// Caller-initiated cancellation propagates as an error; the build
	// is neither a success nor a diagnosable failure.
	if ctx.Err() != nil && !result.TimedOut {
		span.SetStatus(codes.Error, "cancelled")
		return result, ctx.Err()
	}

	if result.TimedOut {
		result.Success = false
		r.config.Logger.Warn("cargo invocation timed out",
			slog.String("subcommand", subcommand),
			slog.String("dir", dir),
			slog.Duration("timeout", timeout),
		)
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.As(err, &exitErr) && !result.TimedOut {
		// The binary could not be started at all (missing cargo,
		// permission problem). Surface it in the log so the repair
		// loop sees a failed attempt with the reason attached.
		result.Output = fmt.Sprintf("%s\n%s: %v\n", result.Output, r.config.CargoPath, err)
	}

	span.SetAttributes(
		attribute.Bool("cargo.success", result.Success),
		attribute.Bool("cargo.timed_out", result.TimedOut),
		attribute.Int("cargo.exit_code", result.ExitCode),
	)
	recordInvocation(subcommand, result)

	r.config.Logger.Debug("cargo invocation finished",
		slog.String("subcommand", subcommand),
		slog.Bool("success", result.Success),
		slog.Int("exit_code", result.ExitCode),
		slog.Duration("duration", duration),
	)
	return result, nil
}
