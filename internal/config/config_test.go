// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "http://127.0.0.1:11434", cfg.Local.Fast.URL)
	assert.Equal(t, "http://127.0.0.1:11435", cfg.Local.Balanced.URL)
	assert.Equal(t, "http://127.0.0.1:11436", cfg.Local.Smart.URL)
	assert.Equal(t, "qwen2.5:3b", cfg.Local.Fast.Model)
	assert.Equal(t, "qwen2.5:14b", cfg.Local.Smart.Model)
	require.Len(t, cfg.Cloud.Models, 3)
	assert.Equal(t, "gemini-2.0-flash-lite", cfg.Cloud.Models[0].ID)
	assert.Equal(t, 30, cfg.Cloud.Models[0].RPM)
	assert.Equal(t, 2*time.Second, cfg.Cloud.BackoffBase.Duration)
	assert.Equal(t, 16*time.Second, cfg.Cloud.BackoffMax.Duration)
}

func TestValidate_MonotonicSearchTimeouts(t *testing.T) {
	cfg := Default()
	cfg.Search.Tier2Timeout = D(2 * time.Second) // shorter than tier1's 4s

	err := cfg.Validate()
	require.Error(t, err)

	var verrs ValidateErrors
	require.True(t, errors.As(err, &verrs))
	require.Len(t, verrs, 1)
	assert.Equal(t, "search.tier2_timeout", verrs[0].Field)
}

func TestValidate_MonotonicTierTimeouts(t *testing.T) {
	cfg := Default()
	cfg.Local.Smart.Timeout = D(5 * time.Second)

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local.smart.timeout")
}

func TestValidate_Fields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad url", func(c *Config) { c.Local.Fast.URL = "localhost:11434" }, "local.fast.url"},
		{"empty model", func(c *Config) { c.Local.Balanced.Model = "" }, "local.balanced.model"},
		{"zero rpm", func(c *Config) { c.Cloud.Models[1].RPM = 0 }, "cloud.models[1].rpm"},
		{"too many attempts", func(c *Config) { c.Cloud.MaxAttempts = 3 }, "cloud.max_attempts"},
		{"min score range", func(c *Config) { c.RAG.MinScore = 1.5 }, "rag.min_score"},
		{"dims", func(c *Config) { c.RAG.Dimensions = 0 }, "rag.dimensions"},
		{"log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"humanize bounds", func(c *Config) { c.Humanize.ShortMax = 5000 }, "humanize.short_max"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestLoadFromPath_TOMLFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[local.fast]
model = "llama3.2:3b"
timeout = "10s"

[search]
tier1_timeout = "3s"
max_results = 8

[[cloud.models]]
id = "gemini-2.0-flash"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "llama3.2:3b", cfg.Local.Fast.Model)
	assert.Equal(t, 10*time.Second, cfg.Local.Fast.Timeout.Duration)
	assert.Equal(t, "http://127.0.0.1:11434", cfg.Local.Fast.URL)
	assert.Equal(t, 3*time.Second, cfg.Search.Tier1Timeout.Duration)
	assert.Equal(t, 8*time.Second, cfg.Search.Tier2Timeout.Duration)
	assert.Equal(t, 8, cfg.Search.MaxResults)
	require.Len(t, cfg.Cloud.Models, 1)
	assert.Equal(t, 15, cfg.Cloud.Models[0].RPM)
}

func TestLoadFromPath_OmittedTogglesStayOn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[humanize]
enabled = false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.False(t, cfg.Humanize.Enabled)
	assert.True(t, cfg.RAG.Enabled)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.True(t, cfg.Classifier.LLMFallback)
}

func TestLoadFromPath_InvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[search\nbroken"), 0600))

	_, err := LoadFromPath(path)
	require.Error(t, err)
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := Default()
	cfg.Search.MaxResults = 7
	cfg.Local.Balanced.Timeout = D(45 * time.Second)

	require.NoError(t, SaveTOML(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Search.MaxResults)
	assert.Equal(t, 45*time.Second, loaded.Local.Balanced.Timeout.Duration)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("SYNTH_OLLAMA_HOST", "gpu-box")
	t.Setenv("SYNTH_OFFLINE", "true")
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("TAVILY_API_KEY", "t-key")
	t.Setenv("GEMINI_FALLBACK_MODELS", "gemini-2.0-flash, gemini-pro")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnvOverrides())

	assert.Equal(t, "http://gpu-box:11434", cfg.Local.Fast.URL)
	assert.Equal(t, "http://gpu-box:11436", cfg.Local.Smart.URL)
	assert.True(t, cfg.OfflineMode)
	assert.Equal(t, "g-key", cfg.Cloud.GeminiKey)
	assert.Equal(t, "t-key", cfg.Search.TavilyKey)
	require.Len(t, cfg.Cloud.Models, 2)
	assert.Equal(t, CloudModel{ID: "gemini-pro", RPM: 2}, cfg.Cloud.Models[1])
}

func TestApplyEnvOverrides_BadBool(t *testing.T) {
	t.Setenv("SYNTH_OFFLINE", "sometimes")
	cfg := Default()
	require.Error(t, cfg.ApplyEnvOverrides())
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SYNTH_TEST_DOTENV=loaded\n"), 0600))
	t.Cleanup(func() { os.Unsetenv("SYNTH_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("SYNTH_TEST_DOTENV"))

	// Missing files are not an error.
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}

func TestDefaultRPM(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"gemini-2.0-flash-lite", 30},
		{"gemini-2.0-flash", 15},
		{"gemini-1.5-flash", 15},
		{"gemini-2.5-flash", 15},
		{"gemini-pro", 2},
		{"something-else", 5},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultRPM(tt.model))
		})
	}
}

func TestGet_DotNotation(t *testing.T) {
	cfg := Default()

	v, err := cfg.Get("search.max_results")
	require.NoError(t, err)
	assert.Equal(t, 5, v)

	v, err = cfg.Get("local.fast.model")
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5:3b", v)

	_, err = cfg.Get("search.nope")
	require.Error(t, err)
}

func TestString_RedactsKeys(t *testing.T) {
	cfg := Default()
	cfg.Cloud.GeminiKey = "secret-gemini"
	cfg.Search.TavilyKey = "secret-tavily"

	out := cfg.String()
	assert.NotContains(t, out, "secret-gemini")
	assert.NotContains(t, out, "secret-tavily")
	assert.Contains(t, out, "[REDACTED]")
	assert.Equal(t, "secret-gemini", cfg.Cloud.GeminiKey)
}
