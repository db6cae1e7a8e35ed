// Copyright (C) 2025 Crucible Labs (oss@cruciblelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package hints turns stored error examples into advisory text for the
// fix proposer. Hints are strictly best-effort: every failure path
// returns an empty hint so the repair loop never blocks on the
// similarity store.
package hints

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cruciblelabs/crucible/services/forge/vector"
)

// Searcher is the slice of the vector store the hinter needs.
type Searcher interface {
	SearchSimilarErrors(ctx context.Context, errorText string, topK int) ([]vector.ErrorExample, error)
}

// Config tunes the hinter.
type Config struct {
	// TopK is how many similar errors to retrieve. Default: 3.
	TopK int

	// MinCertainty drops weak matches. Default: 0.7.
	MinCertainty float64

	// Timeout bounds one lookup so a slow store cannot stall a repair
	// attempt. Default: 5s.
	Timeout time.Duration

	// MaxFixLength truncates each example's fix text in the hint.
	// Default: 4096.
	MaxFixLength int

	// Logger; nil uses slog.Default().
	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.TopK < 1 {
		c.TopK = 3
	}
	if c.MinCertainty <= 0 {
		c.MinCertainty = 0.7
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MaxFixLength < 1 {
		c.MaxFixLength = 4096
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// SimilarityHinter retrieves past fixes for errors similar to the one
// at hand and formats them as advisory prompt text.
//
// Thread Safety: Safe for concurrent use.
type SimilarityHinter struct {
	searcher Searcher
	config   Config
}

// NewSimilarityHinter builds a hinter. A nil searcher yields a hinter
// that always returns an empty hint, which keeps wiring simple when
// the vector store is disabled.
func NewSimilarityHinter(searcher Searcher, cfg Config) *SimilarityHinter {
	cfg.applyDefaults()
	return &SimilarityHinter{searcher: searcher, config: cfg}
}

// Hint returns advisory text for the given diagnostic summary, or an
// empty string when nothing relevant is stored or the store is
// unavailable.
func (h *SimilarityHinter) Hint(ctx context.Context, diagnosticSummary string) string {
	if h.searcher == nil || strings.TrimSpace(diagnosticSummary) == "" {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	defer cancel()

	examples, err := h.searcher.SearchSimilarErrors(ctx, diagnosticSummary, h.config.TopK)
	if err != nil {
		h.config.Logger.Warn("similarity lookup failed, continuing without hint",
			slog.String("error", err.Error()))
		return ""
	}

	var b strings.Builder
	kept := 0
	for _, ex := range examples {
		if ex.Certainty < h.config.MinCertainty {
			continue
		}
		fix := truncate(ex.FixedProjectText, h.config.MaxFixLength)
		kept++
		fmt.Fprintf(&b, "A similar error was fixed before.\nError:\n%s\nFix:\n%s\n\n",
			strings.TrimSpace(ex.ErrorText), strings.TrimSpace(fix))
	}
	if kept == 0 {
		return ""
	}

	h.config.Logger.Debug("built similarity hint", slog.Int("examples", kept))
	return strings.TrimSpace(b.String())
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
