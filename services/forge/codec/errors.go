// Copyright (C) 2025 Crucible Labs (oss@cruciblelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package codec

import "errors"

// Sentinel errors for the project text codec.
var (
	// ErrMalformedProjectText indicates the combined text contains no
	// recognizable [filename: ...] markers, or a marker names an empty
	// path.
	ErrMalformedProjectText = errors.New("malformed project text")

	// ErrInvalidPath indicates a file path violates the FileSet path
	// invariants (relative, forward slashes, no traversal).
	ErrInvalidPath = errors.New("invalid project file path")
)
