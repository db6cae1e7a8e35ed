// Copyright (C) 2025 Crucible Labs (oss@cruciblelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import "errors"

var (
	// ErrMissingAPIKey indicates no API key was found in the
	// environment or the secrets directory.
	ErrMissingAPIKey = errors.New("no API key configured")

	// ErrEmptyCompletion indicates the backend answered but returned
	// no usable choices.
	ErrEmptyCompletion = errors.New("backend returned no completion choices")

	// ErrEmptyEmbedding indicates the backend answered but returned
	// no embedding data.
	ErrEmptyEmbedding = errors.New("backend returned no embedding data")
)
