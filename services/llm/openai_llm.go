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
	"log/slog"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAI-compatible backend.
type OpenAIConfig struct {
	// APIKey authenticates requests. When empty, NewOpenAIClient falls
	// back to OPENAI_API_KEY and then the container secrets path.
	APIKey string

	// BaseURL points at an alternate OpenAI-compatible endpoint, e.g.
	// a local LlamaEdge server. Empty keeps the official API.
	BaseURL string

	// Model is the chat model name.
	Model string

	// EmbeddingModel is the model used for Embed calls.
	EmbeddingModel string

	// Logger; nil uses slog.Default().
	Logger *slog.Logger
}

const (
	defaultModel          = "gpt-4o-mini"
	defaultEmbeddingModel = string(openai.SmallEmbedding3)
	secretKeyPath         = "/run/secrets/openai_api_key"
)

// OpenAIClient talks to any OpenAI-compatible chat completion API.
//
// Thread Safety: Safe for concurrent use.
type OpenAIClient struct {
	client         *openai.Client
	model          string
	embeddingModel string
	logger         *slog.Logger
}

// NewOpenAIClient builds a client from the config, resolving the API
// key from the environment or the container secrets file when unset.
// Backends behind a custom BaseURL often ignore the key entirely, so
// a missing key is only an error when BaseURL is empty too.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		if raw, err := os.ReadFile(secretKeyPath); err == nil {
			apiKey = strings.TrimSpace(string(raw))
			logger.Info("read API key from container secrets")
		}
	}
	if apiKey == "" {
		if cfg.BaseURL == "" {
			return nil, ErrMissingAPIKey
		}
		apiKey = "unused"
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
		logger.Warn("model not configured, using default", slog.String("model", model))
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = defaultEmbeddingModel
	}

	logger.Info("initializing OpenAI-compatible client",
		slog.String("model", model),
		slog.String("base_url", clientCfg.BaseURL),
	)
	return &OpenAIClient{
		client:         openai.NewClientWithConfig(clientCfg),
		model:          model,
		embeddingModel: embeddingModel,
		logger:         logger,
	}, nil
}

// Generate implements the Client interface.
func (o *OpenAIClient) Generate(ctx context.Context, systemPrompt, prompt string,
	params GenerationParams) (string, error) {

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleSystem, Content: systemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser, Content: prompt,
	})

	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: messages,
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	o.logger.Debug("received completion",
		slog.String("model", o.model),
		slog.String("finish_reason", string(resp.Choices[0].FinishReason)),
	)
	return resp.Choices[0].Message.Content, nil
}

// Embed implements the Client interface.
func (o *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(o.embeddingModel),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return resp.Data[0].Embedding, nil
}
