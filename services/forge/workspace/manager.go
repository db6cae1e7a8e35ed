// Copyright (C) 2025 Crucible Labs (oss@cruciblelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package workspace manages the ephemeral on-disk directories that hold
// one materialized FileSet for one build attempt.
//
// Every attempt is bracketed by Acquire and Release. Directory names
// embed the session id and attempt index, so concurrent sessions are
// partitioned by construction and need no locking.
package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cruciblelabs/crucible/services/forge/codec"
)

// ErrWorkspaceIO indicates a workspace directory or file could not be
// created. Partially-written state remains eligible for Release.
var ErrWorkspaceIO = errors.New("workspace io failure")

// Handle identifies one acquired workspace. It is owned exclusively by
// the attempt it was acquired for.
type Handle struct {
	// Dir is the absolute path of the workspace directory.
	Dir string
}

// Manager allocates and destroys isolated project directories under a
// single root.
//
// Thread Safety: Safe for concurrent use; each Acquire returns a
// distinct directory.
type Manager struct {
	root   string
	logger *slog.Logger
}

// NewManager creates a Manager rooted at dir. The root is created if
// it does not exist.
//
// Inputs:
//
//	root - Parent directory for all workspaces
//	logger - Logger for cleanup diagnostics; nil uses slog.Default()
//
// Outputs:
//
//	*Manager - The configured manager
//	error - ErrWorkspaceIO (wrapped) if the root cannot be created
func NewManager(root string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving root %q: %v", ErrWorkspaceIO, root, err)
	}
	if err := os.MkdirAll(abs, 0750); err != nil {
		return nil, fmt.Errorf("%w: creating root %q: %v", ErrWorkspaceIO, abs, err)
	}
	return &Manager{root: abs, logger: logger}, nil
}

// Root returns the absolute workspace root directory.
func (m *Manager) Root() string {
	return m.root
}

// Acquire creates a fresh workspace named "<sessionID>-attempt<n>" and
// materializes every entry of the FileSet into it, creating
// intermediate directories as needed.
//
// Inputs:
//
//	sessionID - Repair session id (collision-free namespace component)
//	attempt - 1-based attempt index
//	fs - FileSet to materialize
//
// Outputs:
//
//	*Handle - Handle for the created workspace
//	error - ErrWorkspaceIO (wrapped) on any write failure; the caller
//	        must still Release the handle to clean up partial state
func (m *Manager) Acquire(sessionID string, attempt int, fs *codec.FileSet) (*Handle, error) {
	dir := filepath.Join(m.root, fmt.Sprintf("%s-attempt%d", sessionID, attempt))
	handle := &Handle{Dir: dir}

	if err := os.Mkdir(dir, 0750); err != nil {
		return handle, fmt.Errorf("%w: creating %q: %v", ErrWorkspaceIO, dir, err)
	}

	for _, f := range fs.Files() {
		// Paths were validated at decode time; filepath.Join keeps the
		// file under the workspace.
		target := filepath.Join(dir, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
			return handle, fmt.Errorf("%w: creating parent of %q: %v", ErrWorkspaceIO, f.Path, err)
		}
		if err := os.WriteFile(target, []byte(f.Content), 0640); err != nil {
			return handle, fmt.Errorf("%w: writing %q: %v", ErrWorkspaceIO, f.Path, err)
		}
	}

	m.logger.Debug("workspace acquired",
		slog.String("dir", dir),
		slog.Int("files", fs.Len()),
	)
	return handle, nil
}

// Release recursively removes the workspace directory. It is
// idempotent and never returns an error: a cleanup fault must not mask
// or replace a build result, so removal failures are logged and
// swallowed.
func (m *Manager) Release(handle *Handle) {
	if handle == nil || handle.Dir == "" {
		return
	}
	if err := os.RemoveAll(handle.Dir); err != nil {
		m.logger.Warn("workspace release failed",
			slog.String("dir", handle.Dir),
			slog.String("error", err.Error()),
		)
		return
	}
	m.logger.Debug("workspace released", slog.String("dir", handle.Dir))
}
