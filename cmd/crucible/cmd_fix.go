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

	"github.com/spf13/cobra"

	"github.com/cruciblelabs/crucible/services/forge/cargo"
	"github.com/cruciblelabs/crucible/services/forge/codec"
	"github.com/cruciblelabs/crucible/services/forge/config"
	"github.com/cruciblelabs/crucible/services/forge/proposer"
	"github.com/cruciblelabs/crucible/services/forge/repair"
	"github.com/cruciblelabs/crucible/services/forge/workspace"
	"github.com/cruciblelabs/crucible/services/llm"
)

var (
	fixDescription string
	fixAttempts    int
	fixOutput      string
)

// fixCmd runs a full repair session over a marker-format project file
// and writes the repaired project text.
var fixCmd = &cobra.Command{
	Use:   "fix <project.txt>",
	Short: "Compile a project and repair build errors with the model",
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

		model, err := llm.NewOpenAIClient(llm.OpenAIConfig{
			BaseURL:        cfg.LLM.BaseURL,
			Model:          cfg.LLM.Model,
			EmbeddingModel: cfg.LLM.EmbeddingModel,
		})
		if err != nil {
			return fmt.Errorf("init model client: %w", err)
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
		fixProposer, err := proposer.NewLLMProposer(model, proposer.Config{})
		if err != nil {
			return err
		}
		orchestrator, err := repair.NewOrchestrator(workspaces, runner, fixProposer, nil, nil)
		if err != nil {
			return err
		}

		attempts := fixAttempts
		if attempts < 1 {
			attempts = cfg.Repair.MaxAttempts
		}
		session, err := orchestrator.Run(cmd.Context(), fs, repair.Options{
			Description: fixDescription,
			MaxAttempts: attempts,
			SkipRun:     true,
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "session %s: %s after %d attempt(s)\n",
			session.ID, session.Status, len(session.Attempts))

		if session.Final == nil {
			return fmt.Errorf("no project of record: session ended %s", session.Status)
		}

		encoded := codec.Encode(session.Final)
		if fixOutput == "" || fixOutput == "-" {
			fmt.Fprint(cmd.OutOrStdout(), encoded)
			return nil
		}
		if err := os.WriteFile(fixOutput, []byte(encoded), 0o644); err != nil {
			return fmt.Errorf("write repaired project: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote repaired project to %s\n", fixOutput)
		return nil
	},
}

func init() {
	fixCmd.Flags().StringVar(&fixDescription, "description", "", "project context for the fix proposer")
	fixCmd.Flags().IntVar(&fixAttempts, "max-attempts", 0, "build attempt budget (0 uses the config default)")
	fixCmd.Flags().StringVarP(&fixOutput, "output", "o", "", "file for the repaired project text (default stdout)")
	rootCmd.AddCommand(fixCmd)
}
