// Copyright (C) 2025 Crucible Labs (oss@cruciblelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package diagnostics turns raw rustc/cargo error text into structured
// diagnostics.
//
// Extraction is a pure function over the build log: it never fails, and
// an unrecognized log simply yields no diagnostics. Build success is
// governed solely by the toolchain exit code, so a failed build with
// zero extracted diagnostics is a representable, reportable state.
package diagnostics

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Severity classifies a diagnostic. Only errors block a successful
// build; warnings are informational.
type Severity string

const (
	// SeverityError is a compile error.
	SeverityError Severity = "error"

	// SeverityWarning is a compiler warning.
	SeverityWarning Severity = "warning"
)

// Diagnostic is one structured error or warning extracted from a build
// log. Field presence mirrors what the toolchain emitted: Line and
// Column are zero and File empty when no location line followed the
// header.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	File     string   `json:"file,omitempty"`
	Line     int      `json:"line,omitempty"`
	Column   int      `json:"column,omitempty"`
	Code     string   `json:"code,omitempty"`
	Message  string   `json:"message"`
}

// String renders the diagnostic in a compact single-line form used in
// fix prompts and logs.
func (d Diagnostic) String() string {
	var b strings.Builder
	b.WriteString(string(d.Severity))
	if d.Code != "" {
		fmt.Fprintf(&b, "[%s]", d.Code)
	}
	b.WriteString(": ")
	b.WriteString(d.Message)
	if d.File != "" {
		fmt.Fprintf(&b, " (%s", d.File)
		if d.Line > 0 {
			fmt.Fprintf(&b, ":%d", d.Line)
			if d.Column > 0 {
				fmt.Fprintf(&b, ":%d", d.Column)
			}
		}
		b.WriteString(")")
	}
	return b.String()
}

// headerPattern matches rustc diagnostic header lines:
//
//	error[E0308]: mismatched types
//	error: aborting due to 1 previous error
//	warning: unused variable: `x`
var headerPattern = regexp.MustCompile(`^(error|warning)(\[([A-Z]\d+)\])?: (.*)$`)

// locationPattern matches the location line that rustc prints under a
// header:
//
//	 --> src/main.rs:3:17
var locationPattern = regexp.MustCompile(`^\s*--> ([^:]+):(\d+):(\d+)\s*$`)

// summaryPrefixes are rustc trailer lines that restate the error count.
// They carry no repair signal and are dropped.
var summaryPrefixes = []string{
	"aborting due to",
	"could not compile",
}

// warningTrailerPattern matches the per-crate warning count trailer,
// e.g. "`demo` (bin \"demo\") generated 1 warning".
var warningTrailerPattern = regexp.MustCompile(`generated \d+ warnings?`)

// Extract parses a build log into structured diagnostics, preserving
// toolchain emission order.
//
// Inputs:
//
//	buildLog - Raw combined cargo/rustc output
//
// Outputs:
//
//	[]Diagnostic - Extracted diagnostics; empty (never nil) when the
//	               log matches no known pattern
func Extract(buildLog string) []Diagnostic {
	lines := strings.Split(buildLog, "\n")
	diags := make([]Diagnostic, 0, 4)

	for i := 0; i < len(lines); i++ {
		m := headerPattern.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}
		if isSummaryLine(m[4]) {
			continue
		}

		diag := Diagnostic{
			Severity: Severity(m[1]),
			Code:     m[3],
			Message:  strings.TrimSpace(m[4]),
		}

		// Attach the location when the following lines carry one. The
		// location is typically the next line, but rustc sometimes
		// indents notes in between.
		for j := i + 1; j < len(lines) && j <= i+3; j++ {
			if headerPattern.MatchString(lines[j]) {
				break
			}
			if loc := locationPattern.FindStringSubmatch(lines[j]); loc != nil {
				diag.File = loc[1]
				diag.Line, _ = strconv.Atoi(loc[2])
				diag.Column, _ = strconv.Atoi(loc[3])
				break
			}
		}

		// Collapse only true duplicates: the toolchain re-emitting an
		// identical diagnostic verbatim.
		if len(diags) == 0 || diags[len(diags)-1] != diag {
			diags = append(diags, diag)
		}
	}
	return diags
}

// Errors filters to error-severity diagnostics.
func Errors(diags []Diagnostic) []Diagnostic {
	errs := make([]Diagnostic, 0, len(diags))
	for _, d := range diags {
		if d.Severity == SeverityError {
			errs = append(errs, d)
		}
	}
	return errs
}

// Summary renders diagnostics into the compact text used for
// similarity lookup and job records: one line per diagnostic, errors
// first in emission order, then warnings.
func Summary(diags []Diagnostic) string {
	var b strings.Builder
	for _, d := range diags {
		if d.Severity != SeverityError {
			continue
		}
		b.WriteString(d.String())
		b.WriteString("\n")
	}
	for _, d := range diags {
		if d.Severity != SeverityWarning {
			continue
		}
		b.WriteString(d.String())
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// isSummaryLine reports whether a header message is a rustc trailer
// that only restates the failure.
func isSummaryLine(message string) bool {
	msg := strings.TrimSpace(message)
	for _, prefix := range summaryPrefixes {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return warningTrailerPattern.MatchString(msg)
}
