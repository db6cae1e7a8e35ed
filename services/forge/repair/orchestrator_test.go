// Copyright (C) 2025 Crucible Labs (oss@cruciblelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package repair

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cruciblelabs/crucible/services/forge/cargo"
	"github.com/cruciblelabs/crucible/services/forge/codec"
	"github.com/cruciblelabs/crucible/services/forge/workspace"
)

// unmatchedBraceLog is literal cargo output for a project with an
// unclosed delimiter in main.rs.
const unmatchedBraceLog = `   Compiling demo v0.1.0 (/tmp/demo)
error: this file contains an unclosed delimiter
  --> src/main.rs:4:2
   |
1  | fn main() {
   |           - unclosed delimiter
error: could not compile ` + "`demo`" + ` (bin "demo") due to 1 previous error
`

// fakeRunner replays scripted build and run results in order.
type fakeRunner struct {
	builds     []*cargo.Result
	runs       []*cargo.Result
	buildErr   error
	buildCalls int
	runCalls   int
}

func (f *fakeRunner) Build(ctx context.Context, dir string) (*cargo.Result, error) {
	f.buildCalls++
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	result := f.builds[0]
	if len(f.builds) > 1 {
		f.builds = f.builds[1:]
	}
	return result, nil
}

func (f *fakeRunner) Run(ctx context.Context, dir string) (*cargo.Result, error) {
	f.runCalls++
	if len(f.runs) == 0 {
		return &cargo.Result{Success: true, Output: "ok\n"}, nil
	}
	result := f.runs[0]
	if len(f.runs) > 1 {
		f.runs = f.runs[1:]
	}
	return result, nil
}

// fakeProposer replays scripted proposal texts, then an error if the
// script runs out.
type fakeProposer struct {
	texts    []string
	err      error
	calls    int
	requests []ProposeRequest
}

func (f *fakeProposer) Propose(ctx context.Context, req ProposeRequest) (string, error) {
	f.calls++
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	if len(f.texts) == 0 {
		return "", errors.New("proposer script exhausted")
	}
	text := f.texts[0]
	f.texts = f.texts[1:]
	return text, nil
}

// fakeHinter records the summary it was asked about.
type fakeHinter struct {
	hint      string
	summaries []string
}

func (f *fakeHinter) Hint(ctx context.Context, summary string) string {
	f.summaries = append(f.summaries, summary)
	return f.hint
}

func brokenFileSet(t *testing.T) *codec.FileSet {
	t.Helper()
	fs := codec.NewFileSet()
	require.NoError(t, fs.Add("Cargo.toml", "[package]\nname = \"demo\"\nversion = \"0.1.0\"\nedition = \"2021\"\n"))
	require.NoError(t, fs.Add("src/main.rs", "fn main() {\n    println!(\"hi\");\n"))
	return fs
}

func fixedProjectText() string {
	return "[filename: Cargo.toml]\n[package]\nname = \"demo\"\nversion = \"0.1.0\"\nedition = \"2021\"\n\n" +
		"[filename: src/main.rs]\nfn main() {\n    println!(\"hi\");\n}\n"
}

func newTestOrchestrator(t *testing.T, runner BuildRunner, proposer Proposer, hinter Hinter) (*Orchestrator, *workspace.Manager) {
	t.Helper()
	manager, err := workspace.NewManager(t.TempDir(), nil)
	require.NoError(t, err)
	o, err := NewOrchestrator(manager, runner, proposer, hinter, nil)
	require.NoError(t, err)
	return o, manager
}

func TestRun_ScenarioA_FailThenFixedSucceeds(t *testing.T) {
	runner := &fakeRunner{builds: []*cargo.Result{
		{Success: false, ExitCode: 101, Output: unmatchedBraceLog},
		{Success: true, Output: "    Finished dev profile\n"},
	}}
	proposer := &fakeProposer{texts: []string{fixedProjectText()}}
	o, _ := newTestOrchestrator(t, runner, proposer, nil)

	session, err := o.Run(context.Background(), brokenFileSet(t), Options{Description: "demo"})
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, session.Status)
	require.Len(t, session.Attempts, 2)

	// Attempt 1 carries exactly one error diagnostic pointing at the
	// offending file and line.
	first := session.Attempts[0]
	assert.False(t, first.Outcome.Success)
	require.Len(t, first.Outcome.Diagnostics, 1)
	assert.Equal(t, "src/main.rs", first.Outcome.Diagnostics[0].File)
	assert.Equal(t, 4, first.Outcome.Diagnostics[0].Line)
	require.NotNil(t, first.ProposedFix)

	assert.True(t, session.Attempts[1].Outcome.Success)
	require.NotNil(t, session.Final)
	assert.True(t, session.Final.Equal(first.ProposedFix))
}

func TestRun_ScenarioB_ExhaustedWithoutProposerCall(t *testing.T) {
	runner := &fakeRunner{builds: []*cargo.Result{
		{Success: false, ExitCode: 101, Output: unmatchedBraceLog},
	}}
	proposer := &fakeProposer{}
	o, _ := newTestOrchestrator(t, runner, proposer, nil)

	session, err := o.Run(context.Background(), brokenFileSet(t), Options{MaxAttempts: 1})
	require.NoError(t, err)

	assert.Equal(t, StatusExhausted, session.Status)
	assert.Len(t, session.Attempts, 1)
	assert.Equal(t, 0, proposer.calls, "n == maxAttempts short-circuits the proposer")
	require.NotNil(t, session.Final, "exhaustion keeps the last attempted set")
	assert.True(t, session.Final.Equal(session.Original))
}

func TestRun_ScenarioC_ProposerFailure(t *testing.T) {
	runner := &fakeRunner{builds: []*cargo.Result{
		{Success: false, ExitCode: 101, Output: unmatchedBraceLog},
	}}
	proposer := &fakeProposer{err: errors.New("model unavailable")}
	o, _ := newTestOrchestrator(t, runner, proposer, nil)

	session, err := o.Run(context.Background(), brokenFileSet(t), Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusProposerFailed, session.Status)
	assert.Len(t, session.Attempts, 1, "earlier attempts are preserved")
	assert.Nil(t, session.Final)
}

func TestRun_ScenarioD_RunFailureIsStillCompileSuccess(t *testing.T) {
	runner := &fakeRunner{
		builds: []*cargo.Result{{Success: true, Output: "    Finished dev profile\n"}},
		runs:   []*cargo.Result{{Success: false, ExitCode: 1, Output: "thread 'main' panicked at src/main.rs:2:5\n"}},
	}
	proposer := &fakeProposer{}
	o, _ := newTestOrchestrator(t, runner, proposer, nil)

	session, err := o.Run(context.Background(), brokenFileSet(t), Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, session.Status)
	require.Len(t, session.Attempts, 1)

	outcome := session.Attempts[0].Outcome
	assert.True(t, outcome.Success)
	assert.True(t, outcome.RunAttempted)
	assert.False(t, outcome.RunSuccess)
	assert.Contains(t, outcome.RunLog, "panicked")
	assert.Equal(t, 0, proposer.calls, "run failure never triggers repair")
}

func TestRun_SkipRunNeverExecutesBinary(t *testing.T) {
	runner := &fakeRunner{builds: []*cargo.Result{{Success: true, Output: "    Finished dev profile\n"}}}
	o, _ := newTestOrchestrator(t, runner, &fakeProposer{}, nil)

	session, err := o.Run(context.Background(), brokenFileSet(t), Options{SkipRun: true})
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, session.Status)
	assert.Equal(t, 0, runner.runCalls)
	assert.False(t, session.Attempts[0].Outcome.RunAttempted)
}

func TestRun_IdempotentSuccess(t *testing.T) {
	runner := &fakeRunner{builds: []*cargo.Result{{Success: true, Output: "    Finished dev profile\n"}}}
	o, _ := newTestOrchestrator(t, runner, &fakeProposer{}, nil)

	input := brokenFileSet(t)
	session, err := o.Run(context.Background(), input, Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, session.Status)
	assert.Len(t, session.Attempts, 1)
	assert.True(t, session.Final.Equal(input), "final set is identical to the input")
}

func TestRun_BoundednessAndExhaustionKeepsLastProposal(t *testing.T) {
	runner := &fakeRunner{builds: []*cargo.Result{
		{Success: false, ExitCode: 101, Output: unmatchedBraceLog},
	}}
	proposer := &fakeProposer{texts: []string{fixedProjectText(), fixedProjectText()}}
	o, _ := newTestOrchestrator(t, runner, proposer, nil)

	session, err := o.Run(context.Background(), brokenFileSet(t), Options{MaxAttempts: 3})
	require.NoError(t, err)

	assert.Equal(t, StatusExhausted, session.Status)
	assert.Equal(t, 3, runner.buildCalls, "build invocations equal the budget")
	assert.Len(t, session.Attempts, 3)
	assert.Equal(t, 2, proposer.calls, "no proposal after the final attempt")

	expected, err := codec.Decode(fixedProjectText())
	require.NoError(t, err)
	assert.True(t, session.Final.Equal(expected), "exhaustion keeps the last attempted set")
}

func TestRun_UnchangedProposalIsRetried(t *testing.T) {
	input := brokenFileSet(t)
	sameText := codec.Encode(input)

	runner := &fakeRunner{builds: []*cargo.Result{
		{Success: false, ExitCode: 101, Output: unmatchedBraceLog},
		{Success: true, Output: "    Finished dev profile\n"},
	}}
	proposer := &fakeProposer{texts: []string{sameText}}
	o, _ := newTestOrchestrator(t, runner, proposer, nil)

	session, err := o.Run(context.Background(), input, Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, session.Status, "a fixed-nothing proposal still gets its retry")
	assert.Len(t, session.Attempts, 2)
}

func TestRun_ProposalDroppingManifestIsProposerFailure(t *testing.T) {
	runner := &fakeRunner{builds: []*cargo.Result{
		{Success: false, ExitCode: 101, Output: unmatchedBraceLog},
	}}
	proposer := &fakeProposer{texts: []string{"[filename: src/main.rs]\nfn main() {}\n"}}
	o, _ := newTestOrchestrator(t, runner, proposer, nil)

	session, err := o.Run(context.Background(), brokenFileSet(t), Options{MaxAttempts: 3})
	require.NoError(t, err)

	assert.Equal(t, StatusProposerFailed, session.Status)
	assert.Len(t, session.Attempts, 1)
}

func TestRun_UndecodableProposalIsProposerFailure(t *testing.T) {
	runner := &fakeRunner{builds: []*cargo.Result{
		{Success: false, ExitCode: 101, Output: unmatchedBraceLog},
	}}
	proposer := &fakeProposer{texts: []string{"I could not fix this project, sorry."}}
	o, _ := newTestOrchestrator(t, runner, proposer, nil)

	session, err := o.Run(context.Background(), brokenFileSet(t), Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusProposerFailed, session.Status)
}

func TestRun_ZeroDiagnosticFailureStillReachesProposer(t *testing.T) {
	runner := &fakeRunner{builds: []*cargo.Result{
		{Success: false, ExitCode: 1, Output: "linker exploded in an unstructured way\n"},
		{Success: true, Output: "    Finished dev profile\n"},
	}}
	proposer := &fakeProposer{texts: []string{fixedProjectText()}}
	o, _ := newTestOrchestrator(t, runner, proposer, nil)

	session, err := o.Run(context.Background(), brokenFileSet(t), Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, session.Status)
	require.Len(t, proposer.requests, 1)
	assert.Empty(t, proposer.requests[0].Diagnostics, "failed, no structured diagnostics")
	assert.Contains(t, proposer.requests[0].BuildLog, "linker exploded")
}

func TestRun_CancellationTerminatesWithDistinctStatus(t *testing.T) {
	runner := &fakeRunner{buildErr: context.Canceled}
	o, _ := newTestOrchestrator(t, runner, &fakeProposer{}, nil)

	session, err := o.Run(context.Background(), brokenFileSet(t), Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, session.Status)
	assert.Len(t, session.Attempts, 1)
}

func TestRun_HintFlowsToProposer(t *testing.T) {
	runner := &fakeRunner{builds: []*cargo.Result{
		{Success: false, ExitCode: 101, Output: unmatchedBraceLog},
		{Success: true, Output: "    Finished dev profile\n"},
	}}
	proposer := &fakeProposer{texts: []string{fixedProjectText()}}
	hinter := &fakeHinter{hint: "similar error: add a closing brace"}
	o, _ := newTestOrchestrator(t, runner, proposer, hinter)

	session, err := o.Run(context.Background(), brokenFileSet(t), Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, session.Status)
	require.Len(t, hinter.summaries, 1)
	assert.Contains(t, hinter.summaries[0], "unclosed delimiter")
	require.Len(t, proposer.requests, 1)
	assert.Equal(t, "similar error: add a closing brace", proposer.requests[0].Hint)
}

// failingWorkspaces refuses every acquisition.
type failingWorkspaces struct{ acquires int }

func (f *failingWorkspaces) Acquire(sessionID string, attempt int, fs *codec.FileSet) (*workspace.Handle, error) {
	f.acquires++
	return nil, workspace.ErrWorkspaceIO
}

func (f *failingWorkspaces) Release(handle *workspace.Handle) {}

func TestRun_WorkspaceFailureConsumesAttempts(t *testing.T) {
	workspaces := &failingWorkspaces{}
	runner := &fakeRunner{}
	proposer := &fakeProposer{texts: []string{fixedProjectText()}}
	o, err := NewOrchestrator(workspaces, runner, proposer, nil, nil)
	require.NoError(t, err)

	session, err := o.Run(context.Background(), brokenFileSet(t), Options{MaxAttempts: 2})
	require.NoError(t, err)

	// Each failed acquisition is a recorded attempt: the audit trail
	// stays append-only and a transient IO failure gets a fresh
	// directory on the retry.
	assert.Equal(t, StatusExhausted, session.Status)
	require.Len(t, session.Attempts, 2)
	for _, attempt := range session.Attempts {
		assert.Contains(t, attempt.Outcome.BuildLog, "workspace error:")
		assert.Empty(t, attempt.Outcome.Diagnostics)
	}
	assert.Equal(t, 2, workspaces.acquires)
	assert.Equal(t, 0, runner.buildCalls, "no toolchain invocation without a workspace")
	assert.Equal(t, 1, proposer.calls)
}

func TestRun_NoLeakedWorkspaces(t *testing.T) {
	runner := &fakeRunner{builds: []*cargo.Result{
		{Success: false, ExitCode: 101, Output: unmatchedBraceLog},
	}}
	proposer := &fakeProposer{texts: []string{fixedProjectText(), fixedProjectText()}}
	o, manager := newTestOrchestrator(t, runner, proposer, nil)

	_, err := o.Run(context.Background(), brokenFileSet(t), Options{MaxAttempts: 3})
	require.NoError(t, err)

	entries, err := os.ReadDir(manager.Root())
	require.NoError(t, err)
	assert.Empty(t, entries, "every workspace must be destroyed exactly once")
}

func TestRun_UnbuildableInputRejected(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeRunner{}, &fakeProposer{}, nil)

	fs := codec.NewFileSet()
	require.NoError(t, fs.Add("README.md", "# no code here\n"))

	_, err := o.Run(context.Background(), fs, Options{})
	assert.ErrorIs(t, err, ErrUnbuildableFileSet)

	_, err = o.Run(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, ErrUnbuildableFileSet)
}

func TestNewOrchestrator_NilDependencies(t *testing.T) {
	manager, err := workspace.NewManager(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = NewOrchestrator(nil, &fakeRunner{}, &fakeProposer{}, nil, nil)
	assert.ErrorIs(t, err, ErrNilDependency)

	_, err = NewOrchestrator(manager, nil, &fakeProposer{}, nil, nil)
	assert.ErrorIs(t, err, ErrNilDependency)

	_, err = NewOrchestrator(manager, &fakeRunner{}, nil, nil, nil)
	assert.ErrorIs(t, err, ErrNilDependency)
}
