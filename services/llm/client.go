// Copyright (C) 2025 Crucible Labs (oss@cruciblelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm abstracts the language model backends Crucible talks to.
// All production traffic goes through an OpenAI-compatible chat
// completion API, which covers both hosted OpenAI and local inference
// servers such as LlamaEdge.
package llm

import "context"

// GenerationParams are the sampling knobs a caller may set. Nil fields
// keep the backend's defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// Client is the standard interface for any model backend.
type Client interface {
	// Generate produces a single completion for the prompt. The system
	// prompt may be empty.
	Generate(ctx context.Context, systemPrompt, prompt string, params GenerationParams) (string, error)

	// Embed returns the embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)
}
