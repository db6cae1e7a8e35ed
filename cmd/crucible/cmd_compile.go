// Copyright (C) 2025 Crucible Labs (oss@cruciblelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cruciblelabs/crucible/services/forge/cargo"
	"github.com/cruciblelabs/crucible/services/forge/codec"
	"github.com/cruciblelabs/crucible/services/forge/config"
	"github.com/cruciblelabs/crucible/services/forge/diagnostics"
	"github.com/cruciblelabs/crucible/services/forge/workspace"
)

var compileRun bool

// compileCmd builds a marker-format project file once and prints the
// extracted diagnostics. No LLM involved.
var compileCmd = &cobra.Command{
	Use:   "compile <project.txt>",
	Short: "Build a project text file once and report diagnostics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read project file: %w", err)
		}
		fs, err := codec.Decode(string(raw))
		if err != nil {
			return fmt.Errorf("decode project text: %w", err)
		}

		workspaces, err := workspace.NewManager(cfg.Workspace.Root, nil)
		if err != nil {
			return err
		}
		runner := cargo.NewRunner(cargo.Config{
			CargoPath:    cfg.Cargo.Path,
			BuildTimeout: cfg.Cargo.BuildTimeout,
			RunTimeout:   cfg.Cargo.RunTimeout,
		})

		// Unique per invocation so two CLI runs sharing a workspace
		// root never collide.
		handle, err := workspaces.Acquire(uuid.NewString(), 1, fs)
		defer workspaces.Release(handle)
		if err != nil {
			return err
		}

		result, err := runner.Build(cmd.Context(), handle.Dir)
		if err != nil {
			return err
		}

		if result.Success {
			fmt.Fprintln(cmd.OutOrStdout(), "build succeeded")
			if compileRun {
				runResult, err := runner.Run(cmd.Context(), handle.Dir)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), runResult.Output)
			}
			return nil
		}

		diags := diagnostics.Extract(result.Output)
		if len(diags) == 0 {
			fmt.Fprint(cmd.OutOrStdout(), result.Output)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), diagnostics.Summary(diags))
		}
		return fmt.Errorf("build failed with exit code %d", result.ExitCode)
	},
}

func init() {
	compileCmd.Flags().BoolVar(&compileRun, "run", false, "run the binary after a successful build")
	rootCmd.AddCommand(compileCmd)
}
