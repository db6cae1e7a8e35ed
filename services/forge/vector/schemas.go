// Copyright (C) 2025 Crucible Labs (oss@cruciblelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package vector stores and retrieves generation and repair examples
// in Weaviate so the service gets better at fixing errors it has seen
// before. Vectors are supplied by the caller's embedder; Weaviate does
// no vectorization of its own.
package vector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

const (
	// ClassProjectExample holds successfully built projects keyed by
	// their natural-language description.
	ClassProjectExample = "ProjectExample"

	// ClassErrorExample holds compiler error text paired with the
	// project text that fixed it.
	ClassErrorExample = "ErrorExample"
)

// GetProjectExampleSchema returns the class definition for stored
// project examples.
//
// # Properties
//
//   - description: The natural-language description the project was
//     generated from.
//   - project_text: The full encoded project text that built cleanly.
//   - created_at: Unix milliseconds when the example was stored.
func GetProjectExampleSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       ClassProjectExample,
		Description: "A project description paired with project text that compiled successfully.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "description",
				DataType:        []string{"text"},
				Description:     "Natural-language description of the project.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:        "project_text",
				DataType:    []string{"text"},
				Description: "Encoded project text that compiled successfully.",
			},
			{
				Name:            "created_at",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds when this example was stored.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// GetErrorExampleSchema returns the class definition for stored
// error/fix pairs.
//
// # Properties
//
//   - error_text: The compiler diagnostic summary that occurred.
//   - fixed_project_text: The project text that resolved the error.
//   - created_at: Unix milliseconds when the example was stored.
func GetErrorExampleSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       ClassErrorExample,
		Description: "A compiler error paired with the project text that fixed it.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "error_text",
				DataType:        []string{"text"},
				Description:     "Compiler diagnostic summary.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:        "fixed_project_text",
				DataType:    []string{"text"},
				Description: "Encoded project text that resolved the error.",
			},
			{
				Name:            "created_at",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds when this example was stored.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// EnsureSchema creates any missing classes. Existing classes are left
// untouched, so redeploys are safe.
func EnsureSchema(ctx context.Context, client *weaviate.Client, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	schemaGetters := []func() *models.Class{
		GetProjectExampleSchema,
		GetErrorExampleSchema,
	}

	for _, getSchema := range schemaGetters {
		class := getSchema()
		logger.Info("checking schema", slog.String("class", class.Class))

		// The getter errors when the class does not exist yet.
		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx)
		if err == nil {
			logger.Info("schema already exists", slog.String("class", class.Class))
			continue
		}

		logger.Info("schema not found, creating it", slog.String("class", class.Class))
		if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
			return fmt.Errorf("failed to create schema for class %s: %w", class.Class, err)
		}
		logger.Info("created schema", slog.String("class", class.Class))
	}
	return nil
}
