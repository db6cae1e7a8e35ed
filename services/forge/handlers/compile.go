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
	"github.com/cruciblelabs/crucible/services/forge/diagnostics"
	"github.com/cruciblelabs/crucible/services/forge/repair"
)

// HandleCompile builds caller-supplied project text once, no repair.
func HandleCompile(service *forge.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CompileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid JSON body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}

		fs, ok := decodeProjectText(c, req.ProjectText)
		if !ok {
			return
		}

		buildResult, runResult, err := service.Compile(c.Request.Context(), fs, req.Run)
		if err != nil {
			writeServiceError(c, err)
			return
		}

		buildLog := buildResult.Output
		if buildResult.Success && strings.TrimSpace(buildLog) == "" {
			// A quiet successful build still reports something.
			buildLog = "Build successful"
		}
		view := datatypes.CompileResult{
			Success:     buildResult.Success,
			ExitCode:    buildResult.ExitCode,
			TimedOut:    buildResult.TimedOut,
			Diagnostics: datatypes.NewDiagnosticViews(diagnostics.Extract(buildResult.Output)),
			BuildLog:    buildLog,
		}
		if runResult != nil {
			view.RunSuccess = runResult.Success
			view.RunLog = runResult.Output
		}
		c.JSON(http.StatusOK, view)
	}
}

// HandleCompileAndFix runs a full repair session over caller-supplied
// project text.
func HandleCompileAndFix(service *forge.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CompileAndFixRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid JSON body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}

		fs, ok := decodeProjectText(c, req.ProjectText)
		if !ok {
			return
		}

		session, err := service.CompileAndFix(c.Request.Context(), fs, req.Description,
			req.MaxAttempts, req.SkipRun)
		if err != nil {
			writeServiceError(c, err)
			return
		}

		var projectText string
		if session.Final != nil {
			projectText = codec.Encode(session.Final)
		}
		c.JSON(http.StatusOK, datatypes.NewSessionView(session, projectText))
	}
}

func decodeProjectText(c *gin.Context, text string) (*codec.FileSet, bool) {
	fs, err := codec.Decode(text)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity,
			datatypes.ErrorResponse{Error: "project text is not decodable: " + err.Error()})
		return nil, false
	}
	return fs, true
}

func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repair.ErrUnbuildableFileSet):
		c.JSON(http.StatusUnprocessableEntity, datatypes.ErrorResponse{
			Error: "project must contain Cargo.toml and at least one .rs file"})
	case errors.Is(err, forge.ErrGenerationFailed):
		c.JSON(http.StatusBadGateway, datatypes.ErrorResponse{
			Error: "model produced no usable project"})
	case errors.Is(err, forge.ErrBusy):
		c.JSON(http.StatusServiceUnavailable, datatypes.ErrorResponse{
			Error: "too many concurrent sessions"})
	default:
		slog.Error("request failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{
			Error: "internal error"})
	}
}
