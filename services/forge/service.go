// Copyright (C) 2025 Crucible Labs (oss@cruciblelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package forge implements the service layer: project generation from
// natural-language descriptions, one-shot compiles, and full repair
// sessions, plus the learning loop that feeds successful results back
// into the vector store.
package forge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/cruciblelabs/crucible/services/forge/cargo"
	"github.com/cruciblelabs/crucible/services/forge/codec"
	"github.com/cruciblelabs/crucible/services/forge/diagnostics"
	"github.com/cruciblelabs/crucible/services/forge/jobs"
	"github.com/cruciblelabs/crucible/services/forge/prompt"
	"github.com/cruciblelabs/crucible/services/forge/repair"
	"github.com/cruciblelabs/crucible/services/forge/vector"
	"github.com/cruciblelabs/crucible/services/forge/workspace"
	"github.com/cruciblelabs/crucible/services/llm"
)

var (
	// ErrGenerationFailed indicates the model produced nothing usable
	// even after the content fallbacks.
	ErrGenerationFailed = errors.New("model produced no usable project")

	// ErrBusy indicates the concurrent session limit is reached.
	ErrBusy = errors.New("too many concurrent sessions")

	// ErrNilDependency indicates a required collaborator was nil.
	ErrNilDependency = errors.New("required dependency is nil")
)

// SessionRunner is the slice of the repair orchestrator the service
// needs.
type SessionRunner interface {
	Run(ctx context.Context, fs *codec.FileSet, opts repair.Options) (*repair.Session, error)
}

// ExampleStore is the slice of the vector store the service needs.
// All uses are advisory.
type ExampleStore interface {
	SearchSimilarProjects(ctx context.Context, description string, topK int) ([]vector.ProjectExample, error)
	SaveProjectExample(ctx context.Context, description, projectText string) error
	SaveErrorExample(ctx context.Context, errorText, fixedProjectText string) error
}

// Config tunes the service.
type Config struct {
	// MaxAttempts is the default build attempt budget.
	// Default: repair.DefaultMaxAttempts.
	MaxAttempts int

	// MaxConcurrentSessions bounds simultaneous repair sessions.
	// Default: 4.
	MaxConcurrentSessions int64

	// SimilarProjectsTopK is how many reference projects to retrieve
	// during generation. Default: 1.
	SimilarProjectsTopK int

	// Logger; nil uses slog.Default().
	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = repair.DefaultMaxAttempts
	}
	if c.MaxConcurrentSessions < 1 {
		c.MaxConcurrentSessions = 4
	}
	if c.SimilarProjectsTopK < 1 {
		c.SimilarProjectsTopK = 1
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Service coordinates generation, compilation, and repair.
//
// Thread Safety: Safe for concurrent use. The semaphore bounds how
// many sessions hold workspaces and subprocesses at once.
type Service struct {
	model        llm.Client
	orchestrator SessionRunner
	runner       repair.BuildRunner
	workspaces   *workspace.Manager
	store        ExampleStore
	registry     *jobs.Registry
	sem          *semaphore.Weighted
	config       Config
}

// NewService wires the service. store may be nil when the vector
// store is disabled; registry may be nil when async jobs are not used.
func NewService(model llm.Client, orchestrator SessionRunner, runner repair.BuildRunner,
	workspaces *workspace.Manager, store ExampleStore, registry *jobs.Registry,
	cfg Config) (*Service, error) {

	if model == nil {
		return nil, fmt.Errorf("%w: model", ErrNilDependency)
	}
	if orchestrator == nil {
		return nil, fmt.Errorf("%w: orchestrator", ErrNilDependency)
	}
	if runner == nil {
		return nil, fmt.Errorf("%w: runner", ErrNilDependency)
	}
	if workspaces == nil {
		return nil, fmt.Errorf("%w: workspaces", ErrNilDependency)
	}
	cfg.applyDefaults()
	return &Service{
		model:        model,
		orchestrator: orchestrator,
		runner:       runner,
		workspaces:   workspaces,
		store:        store,
		registry:     registry,
		sem:          semaphore.NewWeighted(cfg.MaxConcurrentSessions),
		config:       cfg,
	}, nil
}

// Registry exposes the job registry for status handlers. May be nil.
func (s *Service) Registry() *jobs.Registry {
	return s.registry
}

// ---------------------------------------------------------------------------
// Generation
// ---------------------------------------------------------------------------

// GenerateResult bundles a generation's terminal session with the
// project text of record.
type GenerateResult struct {
	Session     *repair.Session
	ProjectText string
}

// Generate produces a project from a description and repairs it until
// it builds or the attempt budget runs out.
func (s *Service) Generate(ctx context.Context, description, requirements string,
	maxAttempts int, skipRun bool) (*GenerateResult, error) {

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBusy, err)
	}
	defer s.sem.Release(1)

	fs, err := s.generateProject(ctx, description, requirements)
	if err != nil {
		return nil, err
	}

	session, err := s.runSession(ctx, fs, description, maxAttempts, skipRun)
	if err != nil {
		return nil, err
	}

	result := &GenerateResult{Session: session}
	if session.Final != nil {
		result.ProjectText = codec.Encode(session.Final)
	}
	s.learn(session, description)
	return result, nil
}

// GenerateAsync accepts a generation job and runs it in the
// background. The returned record is in the pending state; poll the
// registry for progress.
func (s *Service) GenerateAsync(description, requirements string,
	maxAttempts int, skipRun bool) (*jobs.Record, error) {

	if s.registry == nil {
		return nil, fmt.Errorf("%w: registry", ErrNilDependency)
	}
	record, err := s.registry.Create(description)
	if err != nil {
		return nil, err
	}

	go s.runJob(record.ID, description, requirements, maxAttempts, skipRun)
	return record, nil
}

// runJob executes one background generation. It deliberately uses a
// fresh context: the job must outlive the HTTP request that accepted
// it.
func (s *Service) runJob(jobID, description, requirements string, maxAttempts int, skipRun bool) {
	logger := s.config.Logger.With(slog.String("job_id", jobID))
	if _, err := s.registry.MarkRunning(jobID); err != nil {
		logger.Error("failed to mark job running", slog.String("error", err.Error()))
		return
	}

	result, err := s.Generate(context.Background(), description, requirements, maxAttempts, skipRun)
	if err != nil {
		if _, uerr := s.registry.MarkFailed(jobID, err.Error(), "", 0); uerr != nil {
			logger.Error("failed to mark job failed", slog.String("error", uerr.Error()))
		}
		return
	}

	session := result.Session
	if session.Status == repair.StatusSucceeded {
		_, err = s.registry.MarkCompleted(jobID, result.ProjectText,
			string(session.Status), len(session.Attempts))
	} else {
		reason := fmt.Sprintf("repair session ended: %s", session.Status)
		_, err = s.registry.MarkFailed(jobID, reason, string(session.Status), len(session.Attempts))
	}
	if err != nil {
		logger.Error("failed to record job outcome", slog.String("error", err.Error()))
	}
}

// generateProject asks the model for project text and decodes it,
// applying the content fallbacks for underspecified completions.
func (s *Service) generateProject(ctx context.Context, description, requirements string) (*codec.FileSet, error) {
	var similar []vector.ProjectExample
	if s.store != nil {
		var err error
		similar, err = s.store.SearchSimilarProjects(ctx, description, s.config.SimilarProjectsTopK)
		if err != nil {
			// Reference projects are advisory.
			s.config.Logger.Warn("similar project lookup failed",
				slog.String("error", err.Error()))
			similar = nil
		}
	}

	userPrompt := prompt.Generation(description, requirements, similar)
	text, err := s.model.Generate(ctx, prompt.GenerationSystemPrompt, userPrompt, llm.GenerationParams{})
	if err != nil {
		return nil, fmt.Errorf("project generation failed: %w", err)
	}

	fs, err := codec.Decode(text)
	if err != nil {
		fs = recoverFromUnmarkedText(text)
		if fs == nil {
			return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
		}
		s.config.Logger.Warn("completion had no filename markers, recovered from code blocks")
	}

	ensureEssentialFiles(fs, description)
	return fs, nil
}

// ---------------------------------------------------------------------------
// Compile and repair
// ---------------------------------------------------------------------------

// Compile builds the project once, no repair, optionally running the
// binary afterward.
func (s *Service) Compile(ctx context.Context, fs *codec.FileSet, run bool) (*cargo.Result, *cargo.Result, error) {
	if fs == nil || !fs.Buildable() {
		return nil, nil, repair.ErrUnbuildableFileSet
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBusy, err)
	}
	defer s.sem.Release(1)

	// A unique id per call keeps concurrent one-shot compiles in
	// disjoint directories, same as repair sessions.
	handle, err := s.workspaces.Acquire(uuid.NewString(), 1, fs)
	defer s.workspaces.Release(handle)
	if err != nil {
		return nil, nil, err
	}

	buildResult, err := s.runner.Build(ctx, handle.Dir)
	if err != nil {
		return nil, nil, err
	}

	var runResult *cargo.Result
	if run && buildResult.Success {
		runResult, err = s.runner.Run(ctx, handle.Dir)
		if err != nil {
			return buildResult, nil, err
		}
	}
	return buildResult, runResult, nil
}

// CompileAndFix runs a full repair session over caller-supplied
// project text and feeds the outcome to the learning loop.
func (s *Service) CompileAndFix(ctx context.Context, fs *codec.FileSet, description string,
	maxAttempts int, skipRun bool) (*repair.Session, error) {

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBusy, err)
	}
	defer s.sem.Release(1)

	session, err := s.runSession(ctx, fs, description, maxAttempts, skipRun)
	if err != nil {
		return nil, err
	}
	s.learn(session, description)
	return session, nil
}

func (s *Service) runSession(ctx context.Context, fs *codec.FileSet, description string,
	maxAttempts int, skipRun bool) (*repair.Session, error) {

	if maxAttempts < 1 {
		maxAttempts = s.config.MaxAttempts
	}
	return s.orchestrator.Run(ctx, fs, repair.Options{
		Description: description,
		MaxAttempts: maxAttempts,
		SkipRun:     skipRun,
	})
}

// ---------------------------------------------------------------------------
// Learning loop
// ---------------------------------------------------------------------------

// maxStoredTextLength caps stored example text, mirroring the cap on
// what the hint source will quote back later.
const maxStoredTextLength = 65536

// learn stores successful outcomes in the vector store. Failures are
// logged and swallowed: learning never affects the caller's result.
func (s *Service) learn(session *repair.Session, description string) {
	if s.store == nil || session.Status != repair.StatusSucceeded || session.Final == nil {
		return
	}
	ctx := context.Background()
	projectText := truncate(codec.Encode(session.Final), maxStoredTextLength)

	if description != "" {
		if err := s.store.SaveProjectExample(ctx, description, projectText); err != nil {
			s.config.Logger.Warn("failed to store project example",
				slog.String("error", err.Error()))
		}
	}

	// A session that needed repair carries an error worth remembering:
	// pair the first failing attempt's diagnostics with the project
	// that finally built.
	if len(session.Attempts) > 1 {
		first := session.Attempts[0]
		errorText := diagnostics.Summary(first.Outcome.Diagnostics)
		if errorText == "" {
			errorText = truncate(first.Outcome.BuildLog, 4096)
		}
		if errorText != "" {
			if err := s.store.SaveErrorExample(ctx, errorText, projectText); err != nil {
				s.config.Logger.Warn("failed to store error example",
					slog.String("error", err.Error()))
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Content fallbacks
// ---------------------------------------------------------------------------

var (
	fencedBlockPattern = regexp.MustCompile("(?s)```(?:[a-zA-Z]+)?\n(.*?)```")
	namePattern        = regexp.MustCompile(`[^a-z0-9_]+`)
)

// recoverFromUnmarkedText salvages a completion that ignored the
// marker format by sniffing fenced code blocks for a manifest and a
// main source file. Returns nil when nothing usable is found.
func recoverFromUnmarkedText(text string) *codec.FileSet {
	fs := codec.NewFileSet()
	for _, match := range fencedBlockPattern.FindAllStringSubmatch(text, -1) {
		block := strings.TrimSpace(match[1])
		switch {
		case strings.Contains(block, "[package]") && strings.Contains(block, "name ="):
			_ = fs.Add("Cargo.toml", block+"\n")
		case strings.Contains(block, "fn main()"):
			_ = fs.Add("src/main.rs", block+"\n")
		}
	}
	if fs.Len() == 0 {
		return nil
	}
	return fs
}

// ensureEssentialFiles fills in a minimal manifest and entry point
// when the model omitted them, so the build can at least be attempted.
func ensureEssentialFiles(fs *codec.FileSet, description string) {
	if !fs.HasManifest() {
		manifest := fmt.Sprintf("[package]\nname = %q\nversion = \"0.1.0\"\nedition = \"2021\"\n\n[dependencies]\n",
			deriveProjectName(description))
		_ = fs.Add("Cargo.toml", manifest)
	}
	if !fs.Has("src/main.rs") && !fs.HasSource() {
		_ = fs.Add("src/main.rs", "fn main() {\n    println!(\"Hello, world!\");\n}\n")
	}
}

// deriveProjectName turns a description into a crate name.
func deriveProjectName(description string) string {
	name := strings.ToLower(strings.TrimSpace(description))
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "-", "_")
	name = namePattern.ReplaceAllString(name, "")
	name = strings.Trim(name, "_")
	if len(name) > 20 {
		name = name[:20]
		name = strings.Trim(name, "_")
	}
	if name == "" || name[0] >= '0' && name[0] <= '9' {
		name = "generated_project"
	}
	return name
}

// truncate cuts s to at most n bytes without splitting a UTF-8 rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
