// Copyright (C) 2025 Crucible Labs (oss@cruciblelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedClient wraps a Client with a token-bucket limiter so a
// burst of repair sessions cannot exhaust the backend's rate budget.
// Waits respect the caller's context.
//
// Thread Safety: Safe for concurrent use.
type RateLimitedClient struct {
	inner   Client
	limiter *rate.Limiter
}

// NewRateLimitedClient allows rps requests per second with the given
// burst. rps <= 0 disables limiting.
func NewRateLimitedClient(inner Client, rps float64, burst int) *RateLimitedClient {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedClient{
		inner:   inner,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Generate implements the Client interface.
func (r *RateLimitedClient) Generate(ctx context.Context, systemPrompt, prompt string,
	params GenerationParams) (string, error) {

	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter wait: %w", err)
	}
	return r.inner.Generate(ctx, systemPrompt, prompt, params)
}

// Embed implements the Client interface.
func (r *RateLimitedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}
	return r.inner.Embed(ctx, text)
}
