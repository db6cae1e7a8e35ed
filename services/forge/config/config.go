// Copyright (C) 2025 Crucible Labs (oss@cruciblelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the service configuration from YAML with
// environment variable overrides. A .env file in the working
// directory is honored for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Cargo     CargoConfig     `yaml:"cargo"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Weaviate  WeaviateConfig  `yaml:"weaviate"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Repair    RepairConfig    `yaml:"repair"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port string `yaml:"port"`

	// OTLPEndpoint is the trace collector address; empty disables
	// tracing export.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// LLMConfig configures the model backend.
type LLMConfig struct {
	// BaseURL points at an OpenAI-compatible endpoint; empty uses the
	// official API.
	BaseURL string `yaml:"base_url"`

	Model          string `yaml:"model"`
	EmbeddingModel string `yaml:"embedding_model"`

	// RequestsPerSecond limits backend calls; 0 disables limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// CargoConfig configures the build runner.
type CargoConfig struct {
	Path         string        `yaml:"path"`
	BuildTimeout time.Duration `yaml:"build_timeout"`
	RunTimeout   time.Duration `yaml:"run_timeout"`
}

// WorkspaceConfig configures the workspace root.
type WorkspaceConfig struct {
	Root string `yaml:"root"`
}

// WeaviateConfig configures the vector store. An empty URL disables
// similarity features.
type WeaviateConfig struct {
	URL string `yaml:"url"`
}

// JobsConfig configures the job registry database.
type JobsConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
}

// RepairConfig tunes repair sessions.
type RepairConfig struct {
	MaxAttempts           int   `yaml:"max_attempts"`
	MaxConcurrentSessions int64 `yaml:"max_concurrent_sessions"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: "12300"},
		LLM: LLMConfig{
			Model: "gpt-4o-mini",
		},
		Cargo: CargoConfig{
			Path:         "cargo",
			BuildTimeout: 120 * time.Second,
			RunTimeout:   30 * time.Second,
		},
		Workspace: WorkspaceConfig{Root: "/tmp/crucible-workspaces"},
		Jobs:      JobsConfig{Path: "/var/lib/crucible/jobs"},
		Repair: RepairConfig{
			MaxAttempts:           3,
			MaxConcurrentSessions: 4,
		},
		Logging: LoggingConfig{Level: "info", JSON: true},
	}
}

// Load reads the YAML file at path (missing file is not an error),
// then applies environment overrides. A .env file is loaded first so
// local development can keep overrides out of the shell.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Server.Port, "CRUCIBLE_PORT")
	setString(&cfg.Server.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.LLM.BaseURL, "LLM_BASE_URL")
	setString(&cfg.LLM.Model, "LLM_MODEL")
	setString(&cfg.LLM.EmbeddingModel, "LLM_EMBEDDING_MODEL")
	setString(&cfg.Cargo.Path, "CARGO_PATH")
	setString(&cfg.Workspace.Root, "WORKSPACE_ROOT")
	setString(&cfg.Weaviate.URL, "WEAVIATE_SERVICE_URL")
	setString(&cfg.Jobs.Path, "JOBS_DB_PATH")
	setString(&cfg.Logging.Level, "LOG_LEVEL")

	if v := strings.TrimSpace(os.Getenv("MAX_ATTEMPTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Repair.MaxAttempts = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("BUILD_TIMEOUT_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Cargo.BuildTimeout = time.Duration(n) * time.Second
		}
	}
}

func setString(dst *string, env string) {
	// Podman can pass quoted values through literally.
	if v := strings.Trim(strings.TrimSpace(os.Getenv(env)), "\"'"); v != "" {
		*dst = v
	}
}
