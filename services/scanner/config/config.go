// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads scanner configuration from a YAML file with
// environment-variable overrides for secrets.
//
// Configuration is returned by value from Load and handed to
// constructors; there is no global config state. Tokens and API keys
// never live in the YAML file; they come exclusively from the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by Load. Secrets are env-only.
const (
	EnvGitHubToken  = "REPOSCAN_GITHUB_TOKEN"
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvStorePath    = "REPOSCAN_STORE_PATH"
	EnvScanWorkers  = "REPOSCAN_SCAN_WORKERS"
	EnvOSVBaseURL   = "REPOSCAN_OSV_BASE_URL"
	EnvSummaryModel = "REPOSCAN_SUMMARY_MODEL"
)

// Config is the full scanner configuration.
type Config struct {
	// Scanner controls the analysis pipeline.
	Scanner ScannerConfig `yaml:"scanner"`

	// Store controls report persistence.
	Store StoreConfig `yaml:"store"`

	// Summarizer controls the AI narrative collaborator.
	Summarizer SummarizerConfig `yaml:"summarizer"`

	// Logging controls log output.
	Logging LoggingConfig `yaml:"logging"`

	// GitHubToken grants repository read access. Env-only
	// (REPOSCAN_GITHUB_TOKEN); the yaml:"-" tag means any token key in
	// the file is ignored, never loaded.
	GitHubToken string `yaml:"-"`

	// OpenAIKey enables the narrative summarizer. Env-only
	// (OPENAI_API_KEY); empty disables the summarizer.
	OpenAIKey string `yaml:"-"`
}

type ScannerConfig struct {
	// ScanWorkers bounds concurrent per-file syntax scans.
	ScanWorkers int `yaml:"scan_workers" validate:"gte=1,lte=64"`

	// OSVBaseURL overrides the vulnerability API endpoint. Empty means
	// the public OSV service.
	OSVBaseURL string `yaml:"osv_base_url" validate:"omitempty,url"`

	// GitHost overrides the clone host. Empty means github.com.
	GitHost string `yaml:"git_host"`
}

type StoreConfig struct {
	// Path is the BadgerDB directory.
	Path string `yaml:"path" validate:"required"`

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool `yaml:"sync_writes"`
}

type SummarizerConfig struct {
	// Model is the chat model used for report narratives.
	Model string `yaml:"model"`

	// BaseURL points at an OpenAI-compatible endpoint. Empty means the
	// OpenAI API.
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
}

type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`

	// JSON switches output to structured JSON lines.
	JSON bool `yaml:"json"`
}

// Default returns the baseline configuration used when no YAML file is
// given.
func Default() Config {
	return Config{
		Scanner: ScannerConfig{ScanWorkers: 4},
		Store: StoreConfig{
			Path:       defaultStorePath(),
			SyncWrites: true,
		},
		Summarizer: SummarizerConfig{Model: "gpt-4o-mini"},
		Logging:    LoggingConfig{Level: "info"},
	}
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".reposcan/store"
	}
	return home + "/.reposcan/store"
}

// Load builds the configuration: defaults, then the YAML file (if path
// is non-empty), then environment overrides, then validation.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv layers environment values over the file configuration.
func applyEnv(cfg *Config) {
	cfg.GitHubToken = os.Getenv(EnvGitHubToken)
	cfg.OpenAIKey = os.Getenv(EnvOpenAIKey)

	if v := os.Getenv(EnvStorePath); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv(EnvOSVBaseURL); v != "" {
		cfg.Scanner.OSVBaseURL = v
	}
	if v := os.Getenv(EnvSummaryModel); v != "" {
		cfg.Summarizer.Model = v
	}
	if v := os.Getenv(EnvScanWorkers); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Scanner.ScanWorkers = n
		}
	}
}

// validate enforces struct constraints with go-playground/validator.
func validate(cfg Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
