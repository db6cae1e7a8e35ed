// Copyright (C) 2025 Crucible Labs (oss@cruciblelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"github.com/cruciblelabs/crucible/services/forge/diagnostics"
	"github.com/cruciblelabs/crucible/services/forge/repair"
)

// JobAccepted is the async endpoint's immediate answer.
type JobAccepted struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// JobStatus reports an async job's current state.
type JobStatus struct {
	JobID         string `json:"job_id"`
	State         string `json:"state"`
	Description   string `json:"description"`
	ProjectText   string `json:"project_text,omitempty"`
	Error         string `json:"error,omitempty"`
	Attempts      int    `json:"attempts,omitempty"`
	SessionStatus string `json:"session_status,omitempty"`
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
}

// DiagnosticView is one extracted compiler diagnostic.
type DiagnosticView struct {
	Severity string `json:"severity"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
}

// AttemptView is one build attempt in a session's audit trail.
type AttemptView struct {
	Index       int              `json:"index"`
	Success     bool             `json:"success"`
	TimedOut    bool             `json:"timed_out,omitempty"`
	Diagnostics []DiagnosticView `json:"diagnostics"`
	BuildLog    string           `json:"build_log,omitempty"`
	RunSuccess  bool             `json:"run_success,omitempty"`
	RunLog      string           `json:"run_log,omitempty"`
}

// SessionView is the API shape of a terminal repair session.
type SessionView struct {
	SessionID   string        `json:"session_id"`
	Status      string        `json:"status"`
	Attempts    []AttemptView `json:"attempts"`
	ProjectText string        `json:"project_text,omitempty"`
}

// CompileResult is the one-shot compile endpoint's answer.
type CompileResult struct {
	Success     bool             `json:"success"`
	ExitCode    int              `json:"exit_code"`
	TimedOut    bool             `json:"timed_out,omitempty"`
	Diagnostics []DiagnosticView `json:"diagnostics"`
	BuildLog    string           `json:"build_log"`
	RunSuccess  bool             `json:"run_success,omitempty"`
	RunLog      string           `json:"run_log,omitempty"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewDiagnosticViews converts extracted diagnostics to their API shape.
func NewDiagnosticViews(diags []diagnostics.Diagnostic) []DiagnosticView {
	views := make([]DiagnosticView, 0, len(diags))
	for _, d := range diags {
		views = append(views, DiagnosticView{
			Severity: string(d.Severity),
			Code:     d.Code,
			Message:  d.Message,
			File:     d.File,
			Line:     d.Line,
			Column:   d.Column,
		})
	}
	return views
}

// NewSessionView converts a terminal session to its API shape. The
// encoded final project is supplied by the caller because encoding
// lives in the codec layer.
func NewSessionView(session *repair.Session, projectText string) SessionView {
	attempts := make([]AttemptView, 0, len(session.Attempts))
	for _, a := range session.Attempts {
		attempts = append(attempts, AttemptView{
			Index:       a.Index,
			Success:     a.Outcome.Success,
			TimedOut:    a.Outcome.TimedOut,
			Diagnostics: NewDiagnosticViews(a.Outcome.Diagnostics),
			BuildLog:    a.Outcome.BuildLog,
			RunSuccess:  a.Outcome.RunSuccess,
			RunLog:      a.Outcome.RunLog,
		})
	}
	return SessionView{
		SessionID:   session.ID,
		Status:      string(session.Status),
		Attempts:    attempts,
		ProjectText: projectText,
	}
}
