// Copyright (C) 2025 Crucible Labs (oss@cruciblelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes holds the request and response shapes of the HTTP
// API, with validation via go-playground/validator.
package datatypes

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// GenerateRequest asks for a new project from a natural-language
// description. Used by both the async and synchronous endpoints.
type GenerateRequest struct {
	// Description is the natural-language project description.
	Description string `json:"description" validate:"required,min=3,max=8192"`

	// Requirements holds optional extra constraints on the project.
	Requirements string `json:"requirements" validate:"max=8192"`

	// MaxAttempts bounds build attempts; 0 uses the server default.
	MaxAttempts int `json:"max_attempts" validate:"gte=0,lte=10"`

	// SkipRun disables executing the built binary.
	SkipRun bool `json:"skip_run"`
}

// Validate checks the request after JSON binding.
func (r *GenerateRequest) Validate() error {
	return validate.Struct(r)
}

// CompileRequest carries project text for a one-shot build, no repair.
type CompileRequest struct {
	// ProjectText is the encoded project in marker format.
	ProjectText string `json:"project_text" validate:"required,max=1048576"`

	// Run executes the binary after a successful build.
	Run bool `json:"run"`
}

// Validate checks the request after JSON binding.
func (r *CompileRequest) Validate() error {
	return validate.Struct(r)
}

// CompileAndFixRequest carries project text for a full repair session.
type CompileAndFixRequest struct {
	// ProjectText is the encoded project in marker format.
	ProjectText string `json:"project_text" validate:"required,max=1048576"`

	// Description is optional context handed to the fix proposer.
	Description string `json:"description" validate:"max=8192"`

	// MaxAttempts bounds build attempts; 0 uses the server default.
	MaxAttempts int `json:"max_attempts" validate:"gte=0,lte=10"`

	// SkipRun disables executing the built binary.
	SkipRun bool `json:"skip_run"`
}

// Validate checks the request after JSON binding.
func (r *CompileAndFixRequest) Validate() error {
	return validate.Struct(r)
}
