// Copyright (C) 2025 Crucible Labs (oss@cruciblelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	db, err := OpenInMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	registry, err := NewRegistry(db, nil)
	require.NoError(t, err)
	return registry
}

func TestRegistry_CreateAndGet(t *testing.T) {
	registry := newTestRegistry(t)

	created, err := registry.Create("a CLI todo list")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, StatePending, created.State)
	assert.NotZero(t, created.CreatedAt)

	loaded, err := registry.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, loaded.ID)
	assert.Equal(t, "a CLI todo list", loaded.Description)
}

func TestRegistry_GetUnknownID(t *testing.T) {
	registry := newTestRegistry(t)

	_, err := registry.Get("no-such-job")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_Lifecycle(t *testing.T) {
	registry := newTestRegistry(t)

	created, err := registry.Create("a web scraper")
	require.NoError(t, err)

	running, err := registry.MarkRunning(created.ID)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, running.State)

	completed, err := registry.MarkCompleted(created.ID,
		"[filename: src/main.rs]\nfn main() {}\n", "succeeded", 2)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, completed.State)
	assert.Equal(t, 2, completed.Attempts)
	assert.Equal(t, "succeeded", completed.SessionStatus)
	assert.Contains(t, completed.ProjectText, "fn main()")
	assert.GreaterOrEqual(t, completed.UpdatedAt, created.CreatedAt)
}

func TestRegistry_MarkFailed(t *testing.T) {
	registry := newTestRegistry(t)

	created, err := registry.Create("impossible project")
	require.NoError(t, err)

	failed, err := registry.MarkFailed(created.ID, "fix proposer failed", "proposer_failed", 1)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, failed.State)
	assert.Equal(t, "fix proposer failed", failed.Error)
	assert.Equal(t, "proposer_failed", failed.SessionStatus)
}

func TestRegistry_UpdateUnknownID(t *testing.T) {
	registry := newTestRegistry(t)

	_, err := registry.MarkRunning("no-such-job")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewRegistry_NilDB(t *testing.T) {
	_, err := NewRegistry(nil, nil)
	assert.ErrorIs(t, err, ErrNilDB)
}
