// Copyright (C) 2025 Crucible Labs (oss@cruciblelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("crucible.forge.vector")

var (
	// ErrNilClient indicates the store was constructed without a
	// Weaviate client.
	ErrNilClient = errors.New("weaviate client is nil")

	// ErrNilEmbedder indicates the store was constructed without an
	// embedding provider.
	ErrNilEmbedder = errors.New("embedder is nil")
)

// maxEmbedLength caps the text sent to the embedder; similarity on a
// long project dump is dominated by its opening anyway.
const maxEmbedLength = 8192

// Embedder turns text into a vector. Satisfied by llm.Client.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ProjectExample is a stored description → project pair.
type ProjectExample struct {
	Description string  `json:"description"`
	ProjectText string  `json:"project_text"`
	Certainty   float64 `json:"-"`
}

// ErrorExample is a stored error → fix pair.
type ErrorExample struct {
	ErrorText        string  `json:"error_text"`
	FixedProjectText string  `json:"fixed_project_text"`
	Certainty        float64 `json:"-"`
}

// Store persists and retrieves examples by vector similarity.
//
// All methods return an error when Weaviate is unreachable; callers
// that treat the store as advisory (the hint source, the learning
// loop) are expected to log and continue.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	client   *weaviate.Client
	embedder Embedder
	logger   *slog.Logger
}

// NewStore wires the store's collaborators.
func NewStore(client *weaviate.Client, embedder Embedder, logger *slog.Logger) (*Store, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if embedder == nil {
		return nil, ErrNilEmbedder
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, embedder: embedder, logger: logger}, nil
}

// SaveProjectExample stores a description with the project text that
// built cleanly for it, vectorized by the description.
func (s *Store) SaveProjectExample(ctx context.Context, description, projectText string) error {
	ctx, span := tracer.Start(ctx, "SaveProjectExample")
	defer span.End()

	vec, err := s.embed(ctx, description)
	if err != nil {
		return err
	}

	props := map[string]any{
		"description":  description,
		"project_text": projectText,
		"created_at":   time.Now().UnixMilli(),
	}
	_, err = s.client.Data().Creator().
		WithClassName(ClassProjectExample).
		WithProperties(props).
		WithVector(vec).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to save project example: %w", err)
	}
	s.logger.Debug("saved project example", slog.Int("project_bytes", len(projectText)))
	return nil
}

// SaveErrorExample stores a compiler error summary with the project
// text that resolved it, vectorized by the error text.
func (s *Store) SaveErrorExample(ctx context.Context, errorText, fixedProjectText string) error {
	ctx, span := tracer.Start(ctx, "SaveErrorExample")
	defer span.End()

	vec, err := s.embed(ctx, errorText)
	if err != nil {
		return err
	}

	props := map[string]any{
		"error_text":         errorText,
		"fixed_project_text": fixedProjectText,
		"created_at":         time.Now().UnixMilli(),
	}
	_, err = s.client.Data().Creator().
		WithClassName(ClassErrorExample).
		WithProperties(props).
		WithVector(vec).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to save error example: %w", err)
	}
	s.logger.Debug("saved error example", slog.Int("error_bytes", len(errorText)))
	return nil
}

// projectExampleQueryResponse mirrors the GraphQL Get response shape.
type projectExampleQueryResponse struct {
	Get struct {
		ProjectExample []struct {
			Description string `json:"description"`
			ProjectText string `json:"project_text"`
			Additional  struct {
				Certainty float64 `json:"certainty"`
			} `json:"_additional"`
		} `json:"ProjectExample"`
	} `json:"Get"`
}

type errorExampleQueryResponse struct {
	Get struct {
		ErrorExample []struct {
			ErrorText        string `json:"error_text"`
			FixedProjectText string `json:"fixed_project_text"`
			Additional       struct {
				Certainty float64 `json:"certainty"`
			} `json:"_additional"`
		} `json:"ErrorExample"`
	} `json:"Get"`
}

// SearchSimilarProjects returns up to topK stored projects whose
// descriptions are most similar to the query, best match first.
func (s *Store) SearchSimilarProjects(ctx context.Context, description string, topK int) ([]ProjectExample, error) {
	ctx, span := tracer.Start(ctx, "SearchSimilarProjects")
	defer span.End()

	vec, err := s.embed(ctx, description)
	if err != nil {
		return nil, err
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)
	fields := []graphql.Field{
		{Name: "description"},
		{Name: "project_text"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(ClassProjectExample).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("project example search failed: %w", err)
	}

	parsed, err := parseGraphQLResponse[projectExampleQueryResponse](result)
	if err != nil {
		return nil, err
	}

	examples := make([]ProjectExample, 0, len(parsed.Get.ProjectExample))
	for _, row := range parsed.Get.ProjectExample {
		examples = append(examples, ProjectExample{
			Description: row.Description,
			ProjectText: row.ProjectText,
			Certainty:   row.Additional.Certainty,
		})
	}
	return examples, nil
}

// SearchSimilarErrors returns up to topK stored error examples most
// similar to the given error text, best match first.
func (s *Store) SearchSimilarErrors(ctx context.Context, errorText string, topK int) ([]ErrorExample, error) {
	ctx, span := tracer.Start(ctx, "SearchSimilarErrors")
	defer span.End()

	vec, err := s.embed(ctx, errorText)
	if err != nil {
		return nil, err
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)
	fields := []graphql.Field{
		{Name: "error_text"},
		{Name: "fixed_project_text"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(ClassErrorExample).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("error example search failed: %w", err)
	}

	parsed, err := parseGraphQLResponse[errorExampleQueryResponse](result)
	if err != nil {
		return nil, err
	}

	examples := make([]ErrorExample, 0, len(parsed.Get.ErrorExample))
	for _, row := range parsed.Get.ErrorExample {
		examples = append(examples, ErrorExample{
			ErrorText:        row.ErrorText,
			FixedProjectText: row.FixedProjectText,
			Certainty:        row.Additional.Certainty,
		})
	}
	return examples, nil
}

func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	if len(text) > maxEmbedLength {
		// Back up to a rune boundary so the embedding request never
		// carries a split UTF-8 sequence.
		cut := maxEmbedLength
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}
	return vec, nil
}

// parseGraphQLResponse unmarshals a GraphQL response's Data payload
// into the target shape.
func parseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}
	var result T
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}
	return &result, nil
}
