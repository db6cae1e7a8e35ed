// Copyright (C) 2025 Crucible Labs (oss@cruciblelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package codec translates between the flat "combined" text form of a
// multi-file project and its in-memory FileSet form.
//
// The combined form introduces each file with a marker line:
//
//	[filename: Cargo.toml]
//	[package]
//	name = "demo"
//
//	[filename: src/main.rs]
//	fn main() {}
//
// A file's content runs from its marker to the next marker or end of
// input. Leading and trailing blank lines around a file's content are
// insignificant. Markdown code fences wrapping a file body (a habit of
// LLM output) are stripped.
//
// # Round Trip
//
// Decode(Encode(f)) == f for any FileSet whose contents are
// newline-terminated and do not themselves contain a line matching the
// marker syntax. Colliding content corrupts the split; this is a
// documented limitation of the format, not silently corrected.
package codec

import (
	"fmt"
	"regexp"
	"strings"
)

// markerPattern matches a per-file marker line. The path group is
// permissive; path invariants are enforced separately by ValidatePath.
var markerPattern = regexp.MustCompile(`^\s*\[filename:\s*(.*?)\]\s*$`)

// fencePattern matches an opening or closing Markdown code fence line,
// with an optional language tag.
var fencePattern = regexp.MustCompile("^```[a-zA-Z0-9_-]*\\s*$")

// Decode parses combined project text into a FileSet.
//
// Inputs:
//
//	text - Combined text with [filename: path] markers
//
// Outputs:
//
//	*FileSet - Parsed files in marker order
//	error - ErrMalformedProjectText if no marker is found or a marker
//	        names an empty path; ErrInvalidPath for traversal or
//	        absolute paths
func Decode(text string) (*FileSet, error) {
	lines := strings.Split(text, "\n")

	fs := NewFileSet()
	var current string
	var body []string
	sawMarker := false

	flush := func() error {
		if current == "" {
			return nil
		}
		return fs.Add(current, normalizeBody(body))
	}

	for _, line := range lines {
		m := markerPattern.FindStringSubmatch(line)
		if m == nil {
			if sawMarker {
				body = append(body, line)
			}
			continue
		}
		if err := flush(); err != nil {
			return nil, err
		}
		sawMarker = true
		current = strings.TrimSpace(m[1])
		body = body[:0]
		if current == "" {
			return nil, fmt.Errorf("%w: marker with empty path", ErrMalformedProjectText)
		}
	}
	if !sawMarker {
		return nil, fmt.Errorf("%w: no filename markers found", ErrMalformedProjectText)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Encode serializes a FileSet back to combined project text. Each file
// is written as its marker line followed by its content, files
// separated by one blank line. Content without a trailing newline gets
// one, which Decode treats as insignificant.
func Encode(fs *FileSet) string {
	var b strings.Builder
	for i, f := range fs.Files() {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[filename: %s]\n", f.Path)
		b.WriteString(f.Content)
		if !strings.HasSuffix(f.Content, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// normalizeBody trims insignificant blank lines, strips a wrapping
// Markdown code fence, and newline-terminates the content.
func normalizeBody(lines []string) string {
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	lines = lines[start:end]

	// Strip a code fence only when it wraps the whole body.
	if len(lines) >= 2 && fencePattern.MatchString(lines[0]) && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[1 : len(lines)-1]
	}

	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
