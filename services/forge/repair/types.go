// Copyright (C) 2025 Crucible Labs (oss@cruciblelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package repair

import (
	"github.com/cruciblelabs/crucible/services/forge/codec"
	"github.com/cruciblelabs/crucible/services/forge/diagnostics"
)

// Status is the lifecycle state of a repair session. A session is
// terminal once its status leaves StatusRunning.
type Status string

const (
	// StatusRunning means the session is still attempting builds.
	StatusRunning Status = "running"

	// StatusSucceeded means an attempt built cleanly.
	StatusSucceeded Status = "succeeded"

	// StatusExhausted means the attempt budget ran out without a
	// successful build. Not an error: the full audit trail is the
	// defined outcome.
	StatusExhausted Status = "exhausted"

	// StatusProposerFailed means the fix proposer errored or returned
	// undecodable text; attempts so far are preserved.
	StatusProposerFailed Status = "proposer_failed"

	// StatusCancelled means the caller cancelled the session; the
	// in-flight subprocess was terminated and the workspace released.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	return s != StatusRunning
}

// BuildOutcome is the immutable result of one build attempt, produced
// exactly once by the build runner and diagnostic extractor pair.
type BuildOutcome struct {
	// Success is true when the build exited zero. Run failures do not
	// affect it.
	Success bool `json:"success"`

	// BuildLog is the raw combined cargo build output.
	BuildLog string `json:"build_log"`

	// Diagnostics are the structured errors and warnings extracted
	// from BuildLog, in toolchain emission order. May be empty even
	// when Success is false ("failed, no structured diagnostics").
	Diagnostics []diagnostics.Diagnostic `json:"diagnostics"`

	// TimedOut is true when the build was killed by the wall-clock
	// timeout. A timeout is a normal build failure that feeds repair.
	TimedOut bool `json:"timed_out"`

	// RunAttempted is true when a run stage was invoked after a
	// successful build.
	RunAttempted bool `json:"run_attempted"`

	// RunSuccess is true when the run stage exited zero.
	RunSuccess bool `json:"run_success"`

	// RunLog is the combined output of the run stage, empty when no
	// run was attempted.
	RunLog string `json:"run_log,omitempty"`
}

// Attempt is one entry of the append-only audit trail.
type Attempt struct {
	// Index is 1-based.
	Index int `json:"index"`

	// Input is the FileSet that was built.
	Input *codec.FileSet `json:"-"`

	// Outcome is the build outcome for Input.
	Outcome BuildOutcome `json:"outcome"`

	// ProposedFix is the decoded FileSet the proposer returned after
	// this attempt failed; nil when no proposal was requested or the
	// proposal was unusable.
	ProposedFix *codec.FileSet `json:"-"`
}

// Session is one compile-and-fix run. It is owned exclusively by the
// orchestrator until a terminal status is reached, then immutable.
type Session struct {
	// ID is the unique session identifier, also the workspace
	// namespace component.
	ID string `json:"id"`

	// Original is the caller-supplied FileSet.
	Original *codec.FileSet `json:"-"`

	// Description is optional natural-language context forwarded to
	// the fix proposer.
	Description string `json:"description,omitempty"`

	// MaxAttempts strictly bounds the number of build invocations.
	MaxAttempts int `json:"max_attempts"`

	// Attempts is the append-only audit trail, one entry per build.
	Attempts []Attempt `json:"attempts"`

	// Final is the FileSet of record at termination: the built set on
	// success, the last attempted (still failing) set on exhaustion,
	// nil when the proposer failed before any usable proposal.
	Final *codec.FileSet `json:"-"`

	// Status is the session lifecycle state.
	Status Status `json:"status"`
}

// LastAttempt returns the most recent attempt, or nil when no build
// has happened yet.
func (s *Session) LastAttempt() *Attempt {
	if len(s.Attempts) == 0 {
		return nil
	}
	return &s.Attempts[len(s.Attempts)-1]
}
