// Copyright (C) 2025 Crucible Labs (oss@cruciblelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package jobs tracks asynchronous generation jobs in BadgerDB.
//
// BadgerDB gives the registry crash-safe local persistence without an
// external database: a restarted service can still answer status
// queries for jobs accepted before the restart.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no job exists for the given id.
	ErrNotFound = errors.New("job not found")

	// ErrNilDB indicates the registry was constructed without a
	// database.
	ErrNilDB = errors.New("badger db is nil")
)

// keyPrefix isolates job records from any other data in the database.
const keyPrefix = "job:"

// State is the lifecycle phase of a generation job.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Record is one job's persisted state.
type Record struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	State       State  `json:"state"`

	// ProjectText is the encoded final project, set on completion.
	ProjectText string `json:"project_text,omitempty"`

	// Error holds the failure reason, set when State is failed.
	Error string `json:"error,omitempty"`

	// Attempts is the number of build attempts the repair session ran.
	Attempts int `json:"attempts,omitempty"`

	// SessionStatus is the terminal repair session status, e.g.
	// "succeeded" or "exhausted".
	SessionStatus string `json:"session_status,omitempty"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// Registry persists job records.
//
// Thread Safety: Safe for concurrent use; updates are read-modify-write
// inside a single transaction.
type Registry struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewRegistry wraps an opened BadgerDB.
func NewRegistry(db *badger.DB, logger *slog.Logger) (*Registry, error) {
	if db == nil {
		return nil, ErrNilDB
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{db: db, logger: logger}, nil
}

// Create stores a new pending job and returns its record.
func (r *Registry) Create(description string) (*Record, error) {
	now := time.Now().UnixMilli()
	record := &Record{
		ID:          uuid.NewString(),
		Description: description,
		State:       StatePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal job record: %w", err)
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(record.ID), data)
	})
	if err != nil {
		return nil, fmt.Errorf("store job record: %w", err)
	}

	r.logger.Info("created job", slog.String("job_id", record.ID))
	return record, nil
}

// Get returns the job with the given id.
func (r *Registry) Get(id string) (*Record, error) {
	var record Record
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load job record: %w", err)
	}
	return &record, nil
}

// Update applies mutate to the stored record atomically and returns
// the updated record. UpdatedAt is refreshed automatically.
func (r *Registry) Update(id string, mutate func(*Record)) (*Record, error) {
	var record Record
	err := r.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		}); err != nil {
			return err
		}

		mutate(&record)
		record.UpdatedAt = time.Now().UnixMilli()

		data, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		return txn.Set(key(id), data)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("update job record: %w", err)
	}
	return &record, nil
}

// MarkRunning transitions a job to the running state.
func (r *Registry) MarkRunning(id string) (*Record, error) {
	return r.Update(id, func(rec *Record) {
		rec.State = StateRunning
	})
}

// MarkCompleted stores the final project and session outcome.
func (r *Registry) MarkCompleted(id, projectText, sessionStatus string, attempts int) (*Record, error) {
	return r.Update(id, func(rec *Record) {
		rec.State = StateCompleted
		rec.ProjectText = projectText
		rec.SessionStatus = sessionStatus
		rec.Attempts = attempts
		rec.Error = ""
	})
}

// MarkFailed stores the failure reason and any session outcome that
// was reached before the failure.
func (r *Registry) MarkFailed(id, reason, sessionStatus string, attempts int) (*Record, error) {
	return r.Update(id, func(rec *Record) {
		rec.State = StateFailed
		rec.Error = reason
		rec.SessionStatus = sessionStatus
		rec.Attempts = attempts
	})
}

func key(id string) []byte {
	return []byte(keyPrefix + id)
}
