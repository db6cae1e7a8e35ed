// Copyright (C) 2025 Crucible Labs (oss@cruciblelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package proposer asks the language model for corrected project text
// when a build fails.
package proposer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cruciblelabs/crucible/services/forge/codec"
	"github.com/cruciblelabs/crucible/services/forge/diagnostics"
	"github.com/cruciblelabs/crucible/services/forge/prompt"
	"github.com/cruciblelabs/crucible/services/forge/repair"
	"github.com/cruciblelabs/crucible/services/llm"
)

// ErrNilClient indicates the proposer was constructed without a model
// client.
var ErrNilClient = errors.New("llm client is nil")

// fixTemperature keeps repairs close to the original code. Creative
// sampling helps generation but hurts targeted fixes.
const fixTemperature float32 = 0.2

// Config tunes the proposer.
type Config struct {
	// Temperature overrides the default fix temperature when non-nil.
	Temperature *float32

	// MaxTokens bounds the completion length; nil keeps the backend
	// default.
	MaxTokens *int

	// Logger; nil uses slog.Default().
	Logger *slog.Logger
}

// LLMProposer implements repair.Proposer on top of an llm.Client.
//
// Thread Safety: Safe for concurrent use.
type LLMProposer struct {
	client llm.Client
	config Config
}

// NewLLMProposer wires the proposer.
func NewLLMProposer(client llm.Client, cfg Config) (*LLMProposer, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &LLMProposer{client: client, config: cfg}, nil
}

// Propose implements repair.Proposer. The orchestrator decodes and
// validates the returned text; this layer only composes the prompt
// and relays the completion.
func (p *LLMProposer) Propose(ctx context.Context, req repair.ProposeRequest) (string, error) {
	errorText := req.BuildLog
	if len(req.Diagnostics) > 0 {
		// A focused summary beats pages of cargo chatter, but keep the
		// raw log when extraction found nothing structured.
		errorText = diagnostics.Summary(req.Diagnostics)
	}

	userPrompt := prompt.Fix(req.Description, errorText, req.Hint, codec.Encode(req.FileSet))

	temp := fixTemperature
	if p.config.Temperature != nil {
		temp = *p.config.Temperature
	}

	text, err := p.client.Generate(ctx, prompt.FixSystemPrompt, userPrompt, llm.GenerationParams{
		Temperature: &temp,
		MaxTokens:   p.config.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("fix generation failed: %w", err)
	}

	p.config.Logger.Debug("received fix proposal",
		slog.Int("diagnostics", len(req.Diagnostics)),
		slog.Int("proposal_bytes", len(text)),
	)
	return text, nil
}
