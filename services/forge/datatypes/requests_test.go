// Copyright (C) 2025 Crucible Labs (oss@cruciblelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cruciblelabs/crucible/services/forge/diagnostics"
	"github.com/cruciblelabs/crucible/services/forge/repair"
)

func TestGenerateRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     GenerateRequest
		wantErr bool
	}{
		{"valid", GenerateRequest{Description: "a CLI todo list"}, false},
		{"valid with attempts", GenerateRequest{Description: "a game", MaxAttempts: 5}, false},
		{"empty description", GenerateRequest{}, true},
		{"too short", GenerateRequest{Description: "ab"}, true},
		{"negative attempts", GenerateRequest{Description: "a game", MaxAttempts: -1}, true},
		{"excessive attempts", GenerateRequest{Description: "a game", MaxAttempts: 11}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCompileRequest_Validate(t *testing.T) {
	valid := CompileRequest{ProjectText: "[filename: src/main.rs]\nfn main() {}\n"}
	assert.NoError(t, valid.Validate())

	empty := CompileRequest{}
	assert.Error(t, empty.Validate())
}

func TestCompileAndFixRequest_Validate(t *testing.T) {
	valid := CompileAndFixRequest{ProjectText: "[filename: src/main.rs]\nfn main() {}\n"}
	assert.NoError(t, valid.Validate())

	tooMany := CompileAndFixRequest{ProjectText: "x", MaxAttempts: 99}
	assert.Error(t, tooMany.Validate())
}

func TestNewSessionView(t *testing.T) {
	session := &repair.Session{
		ID:     "sess-1",
		Status: repair.StatusSucceeded,
		Attempts: []repair.Attempt{
			{
				Index: 1,
				Outcome: repair.BuildOutcome{
					Success: false,
					Diagnostics: []diagnostics.Diagnostic{
						{Severity: diagnostics.SeverityError, Code: "E0308",
							Message: "mismatched types", File: "src/main.rs", Line: 2, Column: 18},
					},
				},
			},
			{Index: 2, Outcome: repair.BuildOutcome{Success: true, RunAttempted: true, RunSuccess: true}},
		},
	}

	view := NewSessionView(session, "[filename: src/main.rs]\nfn main() {}\n")

	assert.Equal(t, "sess-1", view.SessionID)
	assert.Equal(t, "succeeded", view.Status)
	require.Len(t, view.Attempts, 2)
	require.Len(t, view.Attempts[0].Diagnostics, 1)
	assert.Equal(t, "error", view.Attempts[0].Diagnostics[0].Severity)
	assert.Equal(t, "E0308", view.Attempts[0].Diagnostics[0].Code)
	assert.True(t, view.Attempts[1].Success)
	assert.Contains(t, view.ProjectText, "fn main()")
}
