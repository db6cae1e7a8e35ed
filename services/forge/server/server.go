// Copyright (C) 2025 Crucible Labs (oss@cruciblelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package server assembles and runs the HTTP service. Every optional
// collaborator (Weaviate, trace export) degrades gracefully: the
// service still compiles and repairs projects when they are absent.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cruciblelabs/crucible/pkg/logging"
	"github.com/cruciblelabs/crucible/services/forge"
	"github.com/cruciblelabs/crucible/services/forge/cargo"
	"github.com/cruciblelabs/crucible/services/forge/config"
	"github.com/cruciblelabs/crucible/services/forge/hints"
	"github.com/cruciblelabs/crucible/services/forge/jobs"
	"github.com/cruciblelabs/crucible/services/forge/proposer"
	"github.com/cruciblelabs/crucible/services/forge/repair"
	"github.com/cruciblelabs/crucible/services/forge/routes"
	"github.com/cruciblelabs/crucible/services/forge/vector"
	"github.com/cruciblelabs/crucible/services/forge/workspace"
	"github.com/cruciblelabs/crucible/services/llm"
)

const serviceName = "crucible-forge"

// initTracer configures the global OTLP trace provider. Returns a
// shutdown function. An empty endpoint yields a no-op shutdown and
// leaves the default (non-exporting) provider in place.
func initTracer(ctx context.Context, endpoint string) (func(context.Context), error) {
	if endpoint == "" {
		return func(context.Context) {}, nil
	}

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial OTLP collector: %w", err)
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, err
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", slog.String("error", err.Error()))
		}
	}, nil
}

// newWeaviateClient connects to Weaviate when configured. Returns nil
// (vector features disabled) on any misconfiguration or connection
// failure rather than refusing to start.
func newWeaviateClient(ctx context.Context, rawURL string, logger *logging.Logger) *weaviate.Client {
	rawURL = strings.Trim(rawURL, "\"' ")
	if rawURL == "" {
		logger.Info("weaviate URL not set, similarity features disabled")
		return nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		logger.Warn("weaviate URL is invalid, similarity features disabled",
			slog.String("url", rawURL))
		return nil
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		logger.Error("failed to create weaviate client, similarity features disabled",
			slog.String("error", err.Error()))
		return nil
	}

	if err := vector.EnsureSchema(ctx, client, logger.Slog()); err != nil {
		logger.Error("failed to ensure weaviate schema, similarity features disabled",
			slog.String("error", err.Error()))
		return nil
	}
	return client
}

// Run assembles the service from cfg and serves until ctx is
// cancelled.
func Run(ctx context.Context, cfg config.Config) error {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: serviceName,
		JSON:    cfg.Logging.JSON,
	})
	defer func() { _ = logger.Close() }()
	slog.SetDefault(logger.Slog())

	cleanup, err := initTracer(ctx, cfg.Server.OTLPEndpoint)
	if err != nil {
		// Trace export is observability, not functionality.
		logger.Warn("tracer setup failed, continuing without trace export",
			slog.String("error", err.Error()))
		cleanup = func(context.Context) {}
	}
	defer cleanup(context.Background())

	model, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Logger:         logger.Slog(),
	})
	if err != nil {
		return fmt.Errorf("init model client: %w", err)
	}
	var modelClient llm.Client = model
	if cfg.LLM.RequestsPerSecond > 0 {
		modelClient = llm.NewRateLimitedClient(model, cfg.LLM.RequestsPerSecond, cfg.LLM.Burst)
	}

	workspaces, err := workspace.NewManager(cfg.Workspace.Root, logger.Slog())
	if err != nil {
		return fmt.Errorf("init workspace manager: %w", err)
	}

	runner := cargo.NewRunner(cargo.Config{
		CargoPath:    cfg.Cargo.Path,
		BuildTimeout: cfg.Cargo.BuildTimeout,
		RunTimeout:   cfg.Cargo.RunTimeout,
		Logger:       logger.Slog(),
	})

	weaviateClient := newWeaviateClient(ctx, cfg.Weaviate.URL, logger)
	var store *vector.Store
	var hinter repair.Hinter
	if weaviateClient != nil {
		store, err = vector.NewStore(weaviateClient, modelClient, logger.Slog())
		if err != nil {
			return fmt.Errorf("init vector store: %w", err)
		}
		hinter = hints.NewSimilarityHinter(store, hints.Config{Logger: logger.Slog()})
	}

	fixProposer, err := proposer.NewLLMProposer(modelClient, proposer.Config{Logger: logger.Slog()})
	if err != nil {
		return fmt.Errorf("init proposer: %w", err)
	}

	orchestrator, err := repair.NewOrchestrator(workspaces, runner, fixProposer, hinter, logger.Slog())
	if err != nil {
		return fmt.Errorf("init orchestrator: %w", err)
	}

	db, err := jobs.OpenDB(jobs.DBConfig{
		Path:       cfg.Jobs.Path,
		InMemory:   cfg.Jobs.InMemory,
		SyncWrites: true,
	})
	if err != nil {
		return fmt.Errorf("open jobs database: %w", err)
	}
	defer func() { _ = db.Close() }()
	registry, err := jobs.NewRegistry(db, logger.Slog())
	if err != nil {
		return err
	}

	var exampleStore forge.ExampleStore
	if store != nil {
		exampleStore = store
	}
	service, err := forge.NewService(modelClient, orchestrator, runner, workspaces,
		exampleStore, registry, forge.Config{
			MaxAttempts:           cfg.Repair.MaxAttempts,
			MaxConcurrentSessions: cfg.Repair.MaxConcurrentSessions,
			Logger:                logger.Slog(),
		})
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}

	router := gin.Default()
	router.Use(otelgin.Middleware(serviceName))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	routes.SetupRoutes(router, service)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("port", cfg.Server.Port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		logger.Info("server stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
