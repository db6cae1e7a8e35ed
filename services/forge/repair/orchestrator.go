// Copyright (C) 2025 Crucible Labs (oss@cruciblelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package repair drives the bounded build → diagnose → propose →
// rebuild state machine.
//
// A session starts in RUNNING(1) with the caller-supplied FileSet and
// always terminates in SUCCEEDED, EXHAUSTED, PROPOSER_FAILED, or
// CANCELLED. MaxAttempts strictly bounds the number of build
// invocations, so termination is a structural property of the loop,
// not an accident of a counter.
//
// Within one session attempts are strictly sequential: attempt k+1 is
// only started after attempt k's workspace has been fully released.
// Concurrent sessions share nothing but the filesystem root, which is
// partitioned by session id.
package repair

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/cruciblelabs/crucible/services/forge/cargo"
	"github.com/cruciblelabs/crucible/services/forge/codec"
	"github.com/cruciblelabs/crucible/services/forge/diagnostics"
	"github.com/cruciblelabs/crucible/services/forge/workspace"
)

// DefaultMaxAttempts bounds a session when the caller does not supply
// a budget.
const DefaultMaxAttempts = 3

// BuildRunner abstracts the toolchain invocation.
type BuildRunner interface {
	Build(ctx context.Context, dir string) (*cargo.Result, error)
	Run(ctx context.Context, dir string) (*cargo.Result, error)
}

// Workspaces abstracts workspace acquisition and release.
type Workspaces interface {
	Acquire(sessionID string, attempt int, fs *codec.FileSet) (*workspace.Handle, error)
	Release(handle *workspace.Handle)
}

// ProposeRequest carries everything the fix proposer may use.
type ProposeRequest struct {
	// FileSet is the project that failed to build.
	FileSet *codec.FileSet

	// Diagnostics are the structured diagnostics of the failure.
	Diagnostics []diagnostics.Diagnostic

	// BuildLog is the raw build output, for proposers that want the
	// full text.
	BuildLog string

	// Description is optional project context.
	Description string

	// Hint is optional advisory text from the similarity hint source,
	// empty when unavailable.
	Hint string
}

// Proposer is the external oracle that turns a failing project into
// candidate corrected project text. The orchestrator treats the
// returned text as opaque and decodes it with the project text codec;
// a decode failure is treated identically to a proposer failure.
type Proposer interface {
	Propose(ctx context.Context, req ProposeRequest) (string, error)
}

// Hinter is the optional similarity hint source. It is purely
// advisory: implementations must swallow their own failures and return
// an empty string, so a hint outage can never block a repair attempt.
type Hinter interface {
	Hint(ctx context.Context, diagnosticSummary string) string
}

// Options tune one session.
type Options struct {
	// SessionID overrides the generated uuid, mainly for tests.
	SessionID string

	// Description is optional natural-language project context.
	Description string

	// MaxAttempts bounds build invocations; values < 1 fall back to
	// DefaultMaxAttempts.
	MaxAttempts int

	// SkipRun disables the run stage after a successful build.
	SkipRun bool
}

// Orchestrator executes repair sessions.
//
// Thread Safety: Safe for concurrent use; every session is
// self-contained.
type Orchestrator struct {
	workspaces Workspaces
	runner     BuildRunner
	proposer   Proposer
	hinter     Hinter
	logger     *slog.Logger
}

// NewOrchestrator wires the orchestrator's collaborators.
//
// Inputs:
//
//	workspaces - Workspace manager (required)
//	runner - Build runner (required)
//	proposer - Fix proposer (required)
//	hinter - Similarity hint source (optional, may be nil)
//	logger - Logger; nil uses slog.Default()
//
// Outputs:
//
//	*Orchestrator - The configured orchestrator
//	error - ErrNilDependency if a required collaborator is nil
func NewOrchestrator(workspaces Workspaces, runner BuildRunner, proposer Proposer,
	hinter Hinter, logger *slog.Logger) (*Orchestrator, error) {

	if workspaces == nil {
		return nil, fmt.Errorf("%w: workspaces", ErrNilDependency)
	}
	if runner == nil {
		return nil, fmt.Errorf("%w: runner", ErrNilDependency)
	}
	if proposer == nil {
		return nil, fmt.Errorf("%w: proposer", ErrNilDependency)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		workspaces: workspaces,
		runner:     runner,
		proposer:   proposer,
		hinter:     hinter,
		logger:     logger,
	}, nil
}

// Run executes one complete repair session to a terminal state.
//
// The session itself is the result: per-attempt failures, timeouts,
// and proposer failures are captured in the session rather than raised,
// so the caller always receives a complete, inspectable audit trail.
// The error return is reserved for unbuildable caller input; a
// cancelled session terminates with StatusCancelled and a nil error.
//
// Inputs:
//
//	ctx - Context; cancellation terminates the in-flight subprocess,
//	      releases the workspace, and ends the session
//	fs - The caller-supplied FileSet (never mutated)
//	opts - Session options
//
// Outputs:
//
//	*Session - Terminal session with full audit trail
//	error - ErrUnbuildableFileSet for inputs missing manifest or source
//
// Thread Safety: Safe for concurrent use.
func (o *Orchestrator) Run(ctx context.Context, fs *codec.FileSet, opts Options) (*Session, error) {
	if fs == nil || !fs.Buildable() {
		return nil, ErrUnbuildableFileSet
	}

	session := &Session{
		ID:          opts.SessionID,
		Original:    fs,
		Description: opts.Description,
		MaxAttempts: opts.MaxAttempts,
		Status:      StatusRunning,
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.MaxAttempts < 1 {
		session.MaxAttempts = DefaultMaxAttempts
	}

	ctx, span := startSessionSpan(ctx, session.ID, session.MaxAttempts)
	defer span.End()

	logger := o.logger.With(slog.String("session_id", session.ID))
	logger.Info("repair session started",
		slog.Int("max_attempts", session.MaxAttempts),
		slog.Int("files", fs.Len()),
	)

	current := fs
	for n := 1; n <= session.MaxAttempts; n++ {
		outcome, err := o.runAttempt(ctx, session.ID, n, current, opts.SkipRun)
		session.Attempts = append(session.Attempts, Attempt{
			Index:   n,
			Input:   current,
			Outcome: outcome,
		})

		if err != nil {
			// Caller-initiated cancellation: the subprocess is dead
			// and the workspace released; report the distinct status.
			session.Status = StatusCancelled
			logger.Warn("repair session cancelled", slog.Int("attempt", n))
			break
		}

		if outcome.Success {
			session.Status = StatusSucceeded
			session.Final = current
			logger.Info("repair session succeeded", slog.Int("attempts", n))
			break
		}

		logger.Info("build attempt failed",
			slog.Int("attempt", n),
			slog.Int("diagnostics", len(outcome.Diagnostics)),
			slog.Bool("timed_out", outcome.TimedOut),
		)

		if n == session.MaxAttempts {
			// Budget exhausted; the last attempted set is the set of
			// record so the caller can inspect what was tried.
			session.Status = StatusExhausted
			session.Final = current
			logger.Warn("repair session exhausted", slog.Int("attempts", n))
			break
		}

		proposed, err := o.requestFix(ctx, session, current, outcome, logger)
		if err != nil {
			session.Status = StatusProposerFailed
			logger.Error("fix proposer failed",
				slog.Int("attempt", n),
				slog.String("error", err.Error()),
			)
			break
		}

		// A proposal byte-identical to the failing set is still
		// retried: transient failures (e.g. toolchain timeouts) can
		// make an unchanged retry succeed.
		session.Attempts[len(session.Attempts)-1].ProposedFix = proposed
		current = proposed
	}

	recordSession(session)
	span.SetAttributes(
		attribute.String("repair.status", string(session.Status)),
		attribute.Int("repair.attempts", len(session.Attempts)),
	)
	if session.Status != StatusSucceeded {
		span.SetStatus(codes.Error, string(session.Status))
	}
	return session, nil
}

// runAttempt executes one acquire → build → extract → release cycle.
// The workspace is always released before returning, so the next
// attempt can never collide with this one's directory.
func (o *Orchestrator) runAttempt(ctx context.Context, sessionID string, n int,
	fs *codec.FileSet, skipRun bool) (BuildOutcome, error) {

	handle, err := o.workspaces.Acquire(sessionID, n, fs)
	defer o.workspaces.Release(handle)
	if err != nil {
		// Workspace IO failure is fatal for this attempt only; it is
		// captured as a failed outcome so the loop (and audit trail)
		// continue normally.
		return BuildOutcome{
			Success:     false,
			BuildLog:    fmt.Sprintf("workspace error: %v", err),
			Diagnostics: []diagnostics.Diagnostic{},
		}, nil
	}

	buildResult, err := o.runner.Build(ctx, handle.Dir)
	if err != nil {
		// The runner only returns an error for caller cancellation or
		// invalid input; both end the session.
		return BuildOutcome{
			Success:     false,
			BuildLog:    fmt.Sprintf("build aborted: %v", err),
			Diagnostics: []diagnostics.Diagnostic{},
		}, err
	}

	outcome := BuildOutcome{
		Success:     buildResult.Success,
		BuildLog:    buildResult.Output,
		Diagnostics: diagnostics.Extract(buildResult.Output),
		TimedOut:    buildResult.TimedOut,
	}

	if outcome.Success && !skipRun {
		// A run failure is surfaced to the caller but never triggers
		// a repair cycle: the compile succeeded.
		runResult, runErr := o.runner.Run(ctx, handle.Dir)
		if runErr != nil {
			return outcome, runErr
		}
		outcome.RunAttempted = true
		outcome.RunSuccess = runResult.Success
		outcome.RunLog = runResult.Output
	}
	return outcome, nil
}

// requestFix consults the hint source and the proposer, then decodes
// and validates the proposal.
func (o *Orchestrator) requestFix(ctx context.Context, session *Session,
	current *codec.FileSet, outcome BuildOutcome, logger *slog.Logger) (*codec.FileSet, error) {

	var hint string
	if o.hinter != nil {
		hint = o.hinter.Hint(ctx, diagnostics.Summary(outcome.Diagnostics))
	}

	text, err := o.proposer.Propose(ctx, ProposeRequest{
		FileSet:     current,
		Diagnostics: outcome.Diagnostics,
		BuildLog:    outcome.BuildLog,
		Description: session.Description,
		Hint:        hint,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProposerFailed, err)
	}

	proposed, err := codec.Decode(text)
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable proposal: %v", ErrProposerFailed, err)
	}

	// A proposal that drops the manifest or all sources cannot be
	// built; treating it as a merge candidate would hide the defect,
	// so it counts as a proposer failure.
	if !proposed.Buildable() {
		return nil, fmt.Errorf("%w: proposal dropped required project files", ErrProposerFailed)
	}

	if proposed.Equal(current) {
		logger.Debug("proposer returned an unchanged project; retrying anyway")
	}
	return proposed, nil
}
