// Copyright (C) 2025 Crucible Labs (oss@cruciblelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cruciblelabs/crucible/services/forge"
	"github.com/cruciblelabs/crucible/services/forge/codec"
	"github.com/cruciblelabs/crucible/services/forge/datatypes"
	"github.com/cruciblelabs/crucible/services/forge/jobs"
)

// CreateProject accepts an async generation job and answers
// immediately with its id.
func CreateProject(service *forge.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.GenerateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid JSON body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}

		record, err := service.GenerateAsync(req.Description, req.Requirements,
			req.MaxAttempts, req.SkipRun)
		if err != nil {
			slog.Error("failed to accept generation job", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError,
				datatypes.ErrorResponse{Error: "failed to accept generation job"})
			return
		}

		c.JSON(http.StatusAccepted, datatypes.JobAccepted{
			JobID:  record.ID,
			Status: string(record.State),
		})
	}
}

// GetProject reports an async job's status and, once completed, its
// project text.
func GetProject(service *forge.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		record, ok := loadJob(c, service)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, jobStatusView(record))
	}
}

// GetProjectFile serves a single file from a completed job's project.
func GetProjectFile(service *forge.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		record, ok := loadJob(c, service)
		if !ok {
			return
		}
		if record.State != jobs.StateCompleted {
			c.JSON(http.StatusConflict,
				datatypes.ErrorResponse{Error: "job has not completed"})
			return
		}

		fs, err := codec.Decode(record.ProjectText)
		if err != nil {
			slog.Error("stored project text is undecodable",
				slog.String("job_id", record.ID), slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError,
				datatypes.ErrorResponse{Error: "stored project is corrupt"})
			return
		}

		path := strings.TrimPrefix(c.Param("path"), "/")
		content, ok := fs.Get(path)
		if !ok {
			c.JSON(http.StatusNotFound,
				datatypes.ErrorResponse{Error: "no such file in project"})
			return
		}
		c.String(http.StatusOK, content)
	}
}

// GenerateSync runs a full generation inline and answers with the
// terminal session. Intended for small projects and tooling; the async
// endpoint is the primary entry point.
func GenerateSync(service *forge.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.GenerateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid JSON body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}

		result, err := service.Generate(c.Request.Context(), req.Description,
			req.Requirements, req.MaxAttempts, req.SkipRun)
		if err != nil {
			writeServiceError(c, err)
			return
		}

		c.JSON(http.StatusOK, datatypes.NewSessionView(result.Session, result.ProjectText))
	}
}

func loadJob(c *gin.Context, service *forge.Service) (*jobs.Record, bool) {
	registry := service.Registry()
	if registry == nil {
		c.JSON(http.StatusServiceUnavailable,
			datatypes.ErrorResponse{Error: "job registry is disabled"})
		return nil, false
	}

	record, err := registry.Get(c.Param("jobId"))
	if errors.Is(err, jobs.ErrNotFound) {
		c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "job not found"})
		return nil, false
	}
	if err != nil {
		slog.Error("failed to load job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError,
			datatypes.ErrorResponse{Error: "failed to load job"})
		return nil, false
	}
	return record, true
}

func jobStatusView(record *jobs.Record) datatypes.JobStatus {
	return datatypes.JobStatus{
		JobID:         record.ID,
		State:         string(record.State),
		Description:   record.Description,
		ProjectText:   record.ProjectText,
		Error:         record.Error,
		Attempts:      record.Attempts,
		SessionStatus: record.SessionStatus,
		CreatedAt:     record.CreatedAt,
		UpdatedAt:     record.UpdatedAt,
	}
}
