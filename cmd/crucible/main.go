// Copyright (C) 2025 Crucible Labs (oss@cruciblelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"log"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "crucible",
	Short: "Crucible generates, builds, and repairs Rust Cargo projects",
	Long: `Crucible turns natural-language descriptions into compilable Rust
Cargo projects. It builds each candidate in an isolated workspace,
extracts structured diagnostics from the compiler output, and drives
bounded LLM-assisted repair attempts until the project builds or the
attempt budget runs out.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml",
		"path to the YAML configuration file")
}
