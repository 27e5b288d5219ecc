// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for synth.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// .env files, environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - TierConfig: One local model tier (endpoint, model, timeout, token budget)
//   - CloudConfig: Ordered cloud candidates and their rate budgets
//   - SearchConfig: Search waterfall timeouts and limits
//   - RAGConfig: Knowledge base settings
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (SYNTH_*, GEMINI_API_KEY, TAVILY_API_KEY, ...)
//   - .env in the working directory
//   - ~/.synth/config.toml
//   - ~/.synth/config.json
//   - Built-in defaults
//
// # Usage
//
//	_ = config.LoadDotEnv()
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	timeout := cfg.Search.Tier1Timeout.Duration
package config
