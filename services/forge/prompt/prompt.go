// Copyright (C) 2025 Crucible Labs (oss@cruciblelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package prompt assembles the system and user prompts for project
// generation and error fixing. The prompts instruct the model to emit
// project text in the [filename: <path>] marker format the codec
// decodes.
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cruciblelabs/crucible/services/forge/vector"
)

// GenerationSystemPrompt tells the model how to format a complete
// Cargo project.
const GenerationSystemPrompt = `You are an expert Rust developer. You are tasked with creating a complete,
working Cargo project based on the requirements. Provide well-structured code
with comprehensive error handling. Your output must consist of complete file
contents for all necessary files, clearly marked with filename headers like:

[filename: Cargo.toml]
// file contents here

[filename: src/main.rs]
// file contents here

Make sure the project follows Rust best practices, has appropriate dependencies,
and can be built successfully with 'cargo build'. Do not add commentary outside
the file blocks.`

// FixSystemPrompt frames the repair task.
const FixSystemPrompt = `You are an expert Rust developer fixing compilation errors. Return the complete
corrected project, every file, in the same [filename: <path>] marker format it
was given to you in. Do not omit unchanged files and do not add commentary
outside the file blocks.`

// maxReferenceLength caps a similar-project reference so one giant
// example cannot crowd out the actual request.
const maxReferenceLength = 6144

// Generation builds the user prompt for creating a new project.
// requirements may be empty; similar holds reference projects retrieved
// by description similarity, best match first.
func Generation(description, requirements string, similar []vector.ProjectExample) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Create a Rust Cargo project based on this description:\n%s\n",
		strings.TrimSpace(description))

	if strings.TrimSpace(requirements) != "" {
		fmt.Fprintf(&b, "\nAdditional requirements:\n%s\n", strings.TrimSpace(requirements))
	}

	for i, ex := range similar {
		ref := ex.ProjectText
		if len(ref) > maxReferenceLength {
			cut := maxReferenceLength
			for cut > 0 && !utf8.RuneStart(ref[cut]) {
				cut--
			}
			ref = ref[:cut]
		}
		fmt.Fprintf(&b, "\nHere is a similar project for reference (example %d, built from %q):\n%s\n",
			i+1, ex.Description, strings.TrimSpace(ref))
	}

	b.WriteString("\nGenerate all required files for a complete, compilable Rust project.\n")
	b.WriteString("Use proper Rust best practices and error handling.\n")
	return b.String()
}

// Fix builds the user prompt for repairing a failed build. errorText
// is the raw build log or diagnostic summary; hint is optional
// advisory text from the similarity hint source; projectText is the
// encoded failing project.
func Fix(description, errorText, hint, projectText string) string {
	var b strings.Builder

	b.WriteString("Here is a Rust project that failed to compile. Fix the compilation errors.\n")
	if strings.TrimSpace(description) != "" {
		fmt.Fprintf(&b, "\nProject description: %s\n", strings.TrimSpace(description))
	}

	fmt.Fprintf(&b, "\nCompilation error:\n%s\n", strings.TrimSpace(errorText))

	if strings.TrimSpace(hint) != "" {
		fmt.Fprintf(&b, "\n%s\n", strings.TrimSpace(hint))
	}

	fmt.Fprintf(&b, "\nCurrent project:\n%s\n", strings.TrimSpace(projectText))
	b.WriteString("\nProvide the complete corrected project, including unchanged files.\n")
	return b.String()
}
