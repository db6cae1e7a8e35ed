// Copyright (C) 2025 Crucible Labs (oss@cruciblelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cruciblelabs/crucible/services/forge/codec"
)

func sampleFileSet(t *testing.T) *codec.FileSet {
	t.Helper()
	fs := codec.NewFileSet()
	require.NoError(t, fs.Add("Cargo.toml", "[package]\nname = \"demo\"\n"))
	require.NoError(t, fs.Add("src/main.rs", "fn main() {}\n"))
	return fs
}

func TestManager_AcquireWritesTree(t *testing.T) {
	m, err := NewManager(t.TempDir(), nil)
	require.NoError(t, err)

	handle, err := m.Acquire("session1", 1, sampleFileSet(t))
	require.NoError(t, err)
	defer m.Release(handle)

	assert.Equal(t, filepath.Join(m.Root(), "session1-attempt1"), handle.Dir)

	manifest, err := os.ReadFile(filepath.Join(handle.Dir, "Cargo.toml"))
	require.NoError(t, err)
	assert.Contains(t, string(manifest), `name = "demo"`)

	main, err := os.ReadFile(filepath.Join(handle.Dir, "src", "main.rs"))
	require.NoError(t, err)
	assert.Equal(t, "fn main() {}\n", string(main))
}

func TestManager_ReleaseRemovesDirectory(t *testing.T) {
	m, err := NewManager(t.TempDir(), nil)
	require.NoError(t, err)

	handle, err := m.Acquire("session1", 1, sampleFileSet(t))
	require.NoError(t, err)

	m.Release(handle)

	_, statErr := os.Stat(handle.Dir)
	assert.True(t, os.IsNotExist(statErr), "workspace directory must be removed")
}

func TestManager_ReleaseIdempotent(t *testing.T) {
	m, err := NewManager(t.TempDir(), nil)
	require.NoError(t, err)

	handle, err := m.Acquire("session1", 1, sampleFileSet(t))
	require.NoError(t, err)

	m.Release(handle)
	m.Release(handle) // must not panic or error
	m.Release(nil)
}

func TestManager_AttemptDirectoriesAreDistinct(t *testing.T) {
	m, err := NewManager(t.TempDir(), nil)
	require.NoError(t, err)

	h1, err := m.Acquire("session1", 1, sampleFileSet(t))
	require.NoError(t, err)
	h2, err := m.Acquire("session1", 2, sampleFileSet(t))
	require.NoError(t, err)
	h3, err := m.Acquire("session2", 1, sampleFileSet(t))
	require.NoError(t, err)

	assert.NotEqual(t, h1.Dir, h2.Dir)
	assert.NotEqual(t, h1.Dir, h3.Dir)

	m.Release(h1)
	m.Release(h2)
	m.Release(h3)
}

func TestManager_AcquireCollision(t *testing.T) {
	m, err := NewManager(t.TempDir(), nil)
	require.NoError(t, err)

	h1, err := m.Acquire("session1", 1, sampleFileSet(t))
	require.NoError(t, err)
	defer m.Release(h1)

	// Same session and attempt: the directory already exists, so the
	// acquisition must fail rather than share ownership.
	h2, err := m.Acquire("session1", 1, sampleFileSet(t))
	assert.ErrorIs(t, err, ErrWorkspaceIO)
	assert.NotNil(t, h2, "handle must still be returned for cleanup")
}

func TestManager_PartialFailureStillReleasable(t *testing.T) {
	m, err := NewManager(t.TempDir(), nil)
	require.NoError(t, err)

	fs := codec.NewFileSet()
	require.NoError(t, fs.Add("Cargo.toml", "[package]\n"))
	// A path whose parent component is an existing file forces a write
	// failure after the first file has been materialized.
	require.NoError(t, fs.Add("Cargo.toml/impossible.rs", "boom\n"))

	handle, err := m.Acquire("session1", 1, fs)
	assert.ErrorIs(t, err, ErrWorkspaceIO)

	m.Release(handle)
	_, statErr := os.Stat(handle.Dir)
	assert.True(t, os.IsNotExist(statErr), "partial workspace must be cleaned up")
}
