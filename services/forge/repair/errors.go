// Copyright (C) 2025 Crucible Labs (oss@cruciblelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package repair

import "errors"

// Sentinel errors for the repair orchestrator.
var (
	// ErrUnbuildableFileSet indicates caller input lacks the minimum
	// manifest plus source file needed to attempt a build. Surfaced
	// immediately, never retried.
	ErrUnbuildableFileSet = errors.New("file set is not buildable: manifest and source file required")

	// ErrProposerFailed indicates the fix proposer errored or returned
	// text the codec could not decode into a usable project.
	ErrProposerFailed = errors.New("fix proposer failed")

	// ErrNilDependency indicates the orchestrator was constructed
	// without a required collaborator.
	ErrNilDependency = errors.New("missing orchestrator dependency")
)
