// Copyright (C) 2025 Crucible Labs (oss@cruciblelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cruciblelabs/crucible/services/forge"
	"github.com/cruciblelabs/crucible/services/forge/cargo"
	"github.com/cruciblelabs/crucible/services/forge/codec"
	"github.com/cruciblelabs/crucible/services/forge/datatypes"
	"github.com/cruciblelabs/crucible/services/forge/jobs"
	"github.com/cruciblelabs/crucible/services/forge/repair"
	"github.com/cruciblelabs/crucible/services/forge/workspace"
	"github.com/cruciblelabs/crucible/services/llm"
)

const markedProject = "[filename: Cargo.toml]\n[package]\nname = \"demo\"\nversion = \"0.1.0\"\nedition = \"2021\"\n\n" +
	"[filename: src/main.rs]\nfn main() {\n    println!(\"hi\");\n}\n"

type stubModel struct{ completion string }

func (s *stubModel) Generate(ctx context.Context, systemPrompt, prompt string,
	params llm.GenerationParams) (string, error) {
	return s.completion, nil
}

func (s *stubModel) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1}, nil
}

type stubOrchestrator struct{}

func (s *stubOrchestrator) Run(ctx context.Context, fs *codec.FileSet,
	opts repair.Options) (*repair.Session, error) {
	return &repair.Session{
		ID:       "sess-test",
		Original: fs,
		Final:    fs,
		Status:   repair.StatusSucceeded,
		Attempts: []repair.Attempt{{Index: 1, Input: fs, Outcome: repair.BuildOutcome{Success: true}}},
	}, nil
}

type stubRunner struct{}

func (r *stubRunner) Build(ctx context.Context, dir string) (*cargo.Result, error) {
	return &cargo.Result{Success: true, Output: "    Finished dev profile\n"}, nil
}

func (r *stubRunner) Run(ctx context.Context, dir string) (*cargo.Result, error) {
	return &cargo.Result{Success: true, Output: "ok\n"}, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *forge.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	manager, err := workspace.NewManager(t.TempDir(), nil)
	require.NoError(t, err)

	db, err := jobs.OpenInMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	registry, err := jobs.NewRegistry(db, nil)
	require.NoError(t, err)

	service, err := forge.NewService(&stubModel{completion: markedProject},
		&stubOrchestrator{}, &stubRunner{}, manager, nil, registry, forge.Config{})
	require.NoError(t, err)

	router := gin.New()
	router.GET("/health", HealthCheck)
	v1 := router.Group("/v1")
	projects := v1.Group("/projects")
	projects.POST("", CreateProject(service))
	projects.POST("/sync", GenerateSync(service))
	projects.GET("/:jobId", GetProject(service))
	projects.GET("/:jobId/files/*path", GetProjectFile(service))
	v1.POST("/compile", HandleCompile(service))
	v1.POST("/compile-and-fix", HandleCompileAndFix(service))
	return router, service
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateProject_AcceptsAndCompletes(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/projects",
		datatypes.GenerateRequest{Description: "a demo project"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var accepted datatypes.JobAccepted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	require.NotEmpty(t, accepted.JobID)
	assert.Equal(t, "pending", accepted.Status)

	require.Eventually(t, func() bool {
		status := doJSON(t, router, http.MethodGet, "/v1/projects/"+accepted.JobID, nil)
		var view datatypes.JobStatus
		return json.Unmarshal(status.Body.Bytes(), &view) == nil && view.State == "completed"
	}, 5*time.Second, 10*time.Millisecond)

	fileRec := doJSON(t, router, http.MethodGet,
		"/v1/projects/"+accepted.JobID+"/files/src/main.rs", nil)
	require.Equal(t, http.StatusOK, fileRec.Code)
	assert.Contains(t, fileRec.Body.String(), "fn main()")

	missing := doJSON(t, router, http.MethodGet,
		"/v1/projects/"+accepted.JobID+"/files/src/lib.rs", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestCreateProject_InvalidRequest(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/projects", datatypes.GenerateRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/projects",
		bytes.NewBufferString("{not json"))
	raw := httptest.NewRecorder()
	router.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestGetProject_Unknown(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/v1/projects/no-such-job", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGenerateSync(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/projects/sync",
		datatypes.GenerateRequest{Description: "a demo project"})
	require.Equal(t, http.StatusOK, rec.Code)

	var view datatypes.SessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "succeeded", view.Status)
	require.Len(t, view.Attempts, 1)
	assert.Contains(t, view.ProjectText, "fn main()")
}

func TestHandleCompile(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/compile",
		datatypes.CompileRequest{ProjectText: markedProject, Run: true})
	require.Equal(t, http.StatusOK, rec.Code)

	var result datatypes.CompileResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.True(t, result.RunSuccess)
}

// quietRunner succeeds without producing any build output, the way a
// warm cargo cache can.
type quietRunner struct{}

func (r *quietRunner) Build(ctx context.Context, dir string) (*cargo.Result, error) {
	return &cargo.Result{Success: true, Output: ""}, nil
}

func (r *quietRunner) Run(ctx context.Context, dir string) (*cargo.Result, error) {
	return &cargo.Result{Success: true, Output: ""}, nil
}

func TestHandleCompile_QuietSuccessReportsPlaceholder(t *testing.T) {
	gin.SetMode(gin.TestMode)

	manager, err := workspace.NewManager(t.TempDir(), nil)
	require.NoError(t, err)
	service, err := forge.NewService(&stubModel{completion: markedProject},
		&stubOrchestrator{}, &quietRunner{}, manager, nil, nil, forge.Config{})
	require.NoError(t, err)

	router := gin.New()
	router.POST("/v1/compile", HandleCompile(service))

	rec := doJSON(t, router, http.MethodPost, "/v1/compile",
		datatypes.CompileRequest{ProjectText: markedProject})
	require.Equal(t, http.StatusOK, rec.Code)

	var result datatypes.CompileResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, "Build successful", result.BuildLog)
}

func TestHandleCompile_UndecodableText(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/compile",
		datatypes.CompileRequest{ProjectText: "no markers here"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandleCompile_UnbuildableProject(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/compile",
		datatypes.CompileRequest{ProjectText: "[filename: README.md]\n# nothing\n"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandleCompileAndFix(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/compile-and-fix",
		datatypes.CompileAndFixRequest{ProjectText: markedProject, Description: "demo"})
	require.Equal(t, http.StatusOK, rec.Code)

	var view datatypes.SessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "succeeded", view.Status)
	assert.Contains(t, view.ProjectText, "[filename: Cargo.toml]")
}
