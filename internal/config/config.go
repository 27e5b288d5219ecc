// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for synth.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// .env loading, environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.synth/config.toml
//   - ~/.synth/config.json
//   - Built-in defaults
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/jeranaias/synth/internal/util"
)

// =============================================================================
// DURATION
// =============================================================================

// Duration is a time.Duration that reads and writes as "4s", "1m30s" in both
// TOML and JSON.
type Duration struct {
	time.Duration
}

// D is shorthand for building a Duration.
func D(d time.Duration) Duration { return Duration{d} }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete synth configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	// OfflineMode blocks search and cloud; only loopback Ollama is reachable.
	OfflineMode bool `toml:"offline_mode" json:"offline_mode"`

	Local      LocalConfig      `toml:"local" json:"local"`
	Cloud      CloudConfig      `toml:"cloud" json:"cloud"`
	Search     SearchConfig     `toml:"search" json:"search"`
	RAG        RAGConfig        `toml:"rag" json:"rag"`
	Humanize   HumanizeConfig   `toml:"humanize" json:"humanize"`
	Classifier ClassifierConfig `toml:"classifier" json:"classifier"`
	Server     ServerConfig     `toml:"server" json:"server"`
	Telemetry  TelemetryConfig  `toml:"telemetry" json:"telemetry"`
	Logging    LoggingConfig    `toml:"logging" json:"logging"`
}

// TierConfig describes one locally hosted model tier.
type TierConfig struct {
	URL        string   `toml:"url" json:"url"`
	Model      string   `toml:"model" json:"model"`
	Timeout    Duration `toml:"timeout" json:"timeout"`
	NumPredict int      `toml:"num_predict" json:"num_predict"`
}

// LocalConfig contains the three local Ollama tiers.
type LocalConfig struct {
	Fast     TierConfig `toml:"fast" json:"fast"`
	Balanced TierConfig `toml:"balanced" json:"balanced"`
	Smart    TierConfig `toml:"smart" json:"smart"`
	// TerseMaxTokens caps num_predict when the prompt asks for brevity.
	TerseMaxTokens int `toml:"terse_max_tokens" json:"terse_max_tokens"`
}

// CloudModel is one cloud fallback candidate and its requests-per-minute budget.
type CloudModel struct {
	ID  string `toml:"id" json:"id"`
	RPM int    `toml:"rpm" json:"rpm"`
}

// CloudConfig contains cloud fallback configuration.
type CloudConfig struct {
	// GeminiKey enables the Gemini candidates.
	GeminiKey string `toml:"gemini_key" json:"gemini_key"`
	// OpenRouterKey enables candidates whose id contains a "/".
	OpenRouterKey string       `toml:"openrouter_key" json:"openrouter_key"`
	Models        []CloudModel `toml:"models" json:"models"`
	Cooldown      Duration     `toml:"cooldown" json:"cooldown"`
	Window        Duration     `toml:"window" json:"window"`
	BackoffBase   Duration     `toml:"backoff_base" json:"backoff_base"`
	BackoffMax    Duration     `toml:"backoff_max" json:"backoff_max"`
	MaxAttempts   int          `toml:"max_attempts" json:"max_attempts"`
	Timeout       Duration     `toml:"timeout" json:"timeout"`
}

// SearchConfig contains search waterfall configuration.
type SearchConfig struct {
	Tier1Timeout      Duration `toml:"tier1_timeout" json:"tier1_timeout"`
	Tier2Timeout      Duration `toml:"tier2_timeout" json:"tier2_timeout"`
	Tier3Timeout      Duration `toml:"tier3_timeout" json:"tier3_timeout"`
	NewsTimeout       Duration `toml:"news_timeout" json:"news_timeout"`
	MaxResults        int      `toml:"max_results" json:"max_results"`
	ContextMaxChars   int      `toml:"context_max_chars" json:"context_max_chars"`
	RequestsPerMinute int      `toml:"requests_per_minute" json:"requests_per_minute"`
	TavilyKey         string   `toml:"tavily_key" json:"tavily_key"`
	UserAgent         string   `toml:"user_agent" json:"user_agent"`
}

// RAGConfig contains knowledge base configuration.
type RAGConfig struct {
	Enabled              bool    `toml:"enabled" json:"enabled"`
	EmbedURL             string  `toml:"embed_url" json:"embed_url"`
	EmbedModel           string  `toml:"embed_model" json:"embed_model"`
	Dimensions           int     `toml:"dimensions" json:"dimensions"`
	DBPath               string  `toml:"db_path" json:"db_path"`
	Collection           string  `toml:"collection" json:"collection"`
	TopK                 int     `toml:"top_k" json:"top_k"`
	MinScore             float64 `toml:"min_score" json:"min_score"`
	ChunkChars           int     `toml:"chunk_chars" json:"chunk_chars"`
	PersistSearchResults bool    `toml:"persist_search_results" json:"persist_search_results"`
}

// HumanizeConfig contains the response rewriting thresholds.
type HumanizeConfig struct {
	Enabled    bool `toml:"enabled" json:"enabled"`
	SkipLength int  `toml:"skip_length" json:"skip_length"`
	ShortMax   int  `toml:"short_max" json:"short_max"`
	MediumMax  int  `toml:"medium_max" json:"medium_max"`
}

// ClassifierConfig contains the query classifier settings.
type ClassifierConfig struct {
	FallbackTimeout Duration `toml:"fallback_timeout" json:"fallback_timeout"`
	// LLMFallback enables the fast-model tie breaker for ambiguous queries.
	LLMFallback bool `toml:"llm_fallback" json:"llm_fallback"`
}

// ServerConfig contains the local HTTP API settings.
type ServerConfig struct {
	Addr         string   `toml:"addr" json:"addr"`
	ReadTimeout  Duration `toml:"read_timeout" json:"read_timeout"`
	WriteTimeout Duration `toml:"write_timeout" json:"write_timeout"`
	MaxBodyBytes int64    `toml:"max_body_bytes" json:"max_body_bytes"`
	// AllowRemote permits binding to a non-loopback address.
	AllowRemote bool `toml:"allow_remote" json:"allow_remote"`
}

// TelemetryConfig contains usage tracking settings.
type TelemetryConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled"`
	Path    string `toml:"path" json:"path"`
}

// LoggingConfig contains structured logging settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level" json:"level"`
	// Format is "json" or "console".
	Format string `toml:"format" json:"format"`
	// File is an optional log file; empty means stderr.
	File string `toml:"file" json:"file"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// DefaultCloudModels is the ordered cloud candidate list with per-model budgets.
var DefaultCloudModels = []CloudModel{
	{ID: "gemini-2.0-flash-lite", RPM: 30},
	{ID: "gemini-2.0-flash", RPM: 15},
	{ID: "gemini-1.5-flash", RPM: 15},
}

// Default returns a configuration with every field populated.
func Default() *Config {
	return &Config{
		Version: "1",
		Local: LocalConfig{
			Fast: TierConfig{
				URL:        "http://127.0.0.1:11434",
				Model:      "qwen2.5:3b",
				Timeout:    D(15 * time.Second),
				NumPredict: 256,
			},
			Balanced: TierConfig{
				URL:        "http://127.0.0.1:11435",
				Model:      "qwen2.5:7b",
				Timeout:    D(30 * time.Second),
				NumPredict: 512,
			},
			Smart: TierConfig{
				URL:        "http://127.0.0.1:11436",
				Model:      "qwen2.5:14b",
				Timeout:    D(60 * time.Second),
				NumPredict: 1024,
			},
			TerseMaxTokens: 150,
		},
		Cloud: CloudConfig{
			Models:      append([]CloudModel(nil), DefaultCloudModels...),
			Cooldown:    D(60 * time.Second),
			Window:      D(60 * time.Second),
			BackoffBase: D(2 * time.Second),
			BackoffMax:  D(16 * time.Second),
			MaxAttempts: 2,
			Timeout:     D(30 * time.Second),
		},
		Search: SearchConfig{
			Tier1Timeout:      D(4 * time.Second),
			Tier2Timeout:      D(8 * time.Second),
			Tier3Timeout:      D(15 * time.Second),
			NewsTimeout:       D(6 * time.Second),
			MaxResults:        5,
			ContextMaxChars:   4000,
			RequestsPerMinute: 20,
			UserAgent:         "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
		},
		RAG: RAGConfig{
			Enabled:              true,
			EmbedURL:             "http://127.0.0.1:11434",
			EmbedModel:           "nomic-embed-text",
			Dimensions:           768,
			DBPath:               "",
			Collection:           "knowledge",
			TopK:                 5,
			MinScore:             0.5,
			ChunkChars:           1000,
			PersistSearchResults: true,
		},
		Humanize: HumanizeConfig{
			Enabled:    true,
			SkipLength: 600,
			ShortMax:   300,
			MediumMax:  1200,
		},
		Classifier: ClassifierConfig{
			FallbackTimeout: D(3 * time.Second),
			LLMFallback:     true,
		},
		Server: ServerConfig{
			Addr:         "127.0.0.1:8765",
			ReadTimeout:  D(10 * time.Second),
			WriteTimeout: D(3 * time.Minute),
			MaxBodyBytes: 1 << 20,
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the synth configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".synth"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// ensureSecurePermissions tightens config files to 0600; they hold API keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	mode := info.Mode().Perm()
	if mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// LoadDotEnv loads KEY=VALUE pairs from .env files into the process
// environment. Missing files are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	if tomlPath, err := ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			return LoadFromPath(tomlPath)
		}
	}
	if jsonPath, err := ConfigPathJSON(); err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			return LoadFromPath(jsonPath)
		}
	}

	cfg := Default()
	if err := finish(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return fillDefaults(cfg)
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return fillDefaults(cfg)
}

// LoadFromPath loads configuration from a specific file path with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}
	presetToggles(cfg)

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	if err := finish(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// presetToggles sets the switches that default to on, so a file that
// omits them does not turn features off.
func presetToggles(cfg *Config) {
	d := Default()
	cfg.RAG.Enabled = d.RAG.Enabled
	cfg.RAG.PersistSearchResults = d.RAG.PersistSearchResults
	cfg.Humanize.Enabled = d.Humanize.Enabled
	cfg.Classifier.LLMFallback = d.Classifier.LLMFallback
	cfg.Telemetry.Enabled = d.Telemetry.Enabled
}

// finish applies env overrides, resolves paths and validates.
func finish(cfg *Config) error {
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}
	cfg.resolvePaths()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) resolvePaths() {
	dir, err := ConfigDir()
	if err != nil {
		return
	}
	if c.RAG.DBPath == "" {
		c.RAG.DBPath = filepath.Join(dir, "knowledge.db")
	}
	if c.Telemetry.Path == "" {
		c.Telemetry.Path = filepath.Join(dir, "usage.json")
	}
}

func fillTier(t *TierConfig, d TierConfig) {
	if t.URL == "" {
		t.URL = d.URL
	}
	if t.Model == "" {
		t.Model = d.Model
	}
	if t.Timeout.Duration == 0 {
		t.Timeout = d.Timeout
	}
	if t.NumPredict == 0 {
		t.NumPredict = d.NumPredict
	}
}

func fillDuration(d *Duration, def Duration) {
	if d.Duration == 0 {
		*d = def
	}
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) error {
	defaults := Default()

	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}

	// Local
	fillTier(&cfg.Local.Fast, defaults.Local.Fast)
	fillTier(&cfg.Local.Balanced, defaults.Local.Balanced)
	fillTier(&cfg.Local.Smart, defaults.Local.Smart)
	if cfg.Local.TerseMaxTokens == 0 {
		cfg.Local.TerseMaxTokens = defaults.Local.TerseMaxTokens
	}

	// Cloud
	if len(cfg.Cloud.Models) == 0 {
		cfg.Cloud.Models = defaults.Cloud.Models
	}
	for i := range cfg.Cloud.Models {
		if cfg.Cloud.Models[i].RPM == 0 {
			cfg.Cloud.Models[i].RPM = DefaultRPM(cfg.Cloud.Models[i].ID)
		}
	}
	fillDuration(&cfg.Cloud.Cooldown, defaults.Cloud.Cooldown)
	fillDuration(&cfg.Cloud.Window, defaults.Cloud.Window)
	fillDuration(&cfg.Cloud.BackoffBase, defaults.Cloud.BackoffBase)
	fillDuration(&cfg.Cloud.BackoffMax, defaults.Cloud.BackoffMax)
	fillDuration(&cfg.Cloud.Timeout, defaults.Cloud.Timeout)
	if cfg.Cloud.MaxAttempts == 0 {
		cfg.Cloud.MaxAttempts = defaults.Cloud.MaxAttempts
	}

	// Search
	fillDuration(&cfg.Search.Tier1Timeout, defaults.Search.Tier1Timeout)
	fillDuration(&cfg.Search.Tier2Timeout, defaults.Search.Tier2Timeout)
	fillDuration(&cfg.Search.Tier3Timeout, defaults.Search.Tier3Timeout)
	fillDuration(&cfg.Search.NewsTimeout, defaults.Search.NewsTimeout)
	if cfg.Search.MaxResults == 0 {
		cfg.Search.MaxResults = defaults.Search.MaxResults
	}
	if cfg.Search.ContextMaxChars == 0 {
		cfg.Search.ContextMaxChars = defaults.Search.ContextMaxChars
	}
	if cfg.Search.RequestsPerMinute == 0 {
		cfg.Search.RequestsPerMinute = defaults.Search.RequestsPerMinute
	}
	if cfg.Search.UserAgent == "" {
		cfg.Search.UserAgent = defaults.Search.UserAgent
	}

	// RAG
	if cfg.RAG.EmbedURL == "" {
		cfg.RAG.EmbedURL = defaults.RAG.EmbedURL
	}
	if cfg.RAG.EmbedModel == "" {
		cfg.RAG.EmbedModel = defaults.RAG.EmbedModel
	}
	if cfg.RAG.Dimensions == 0 {
		cfg.RAG.Dimensions = defaults.RAG.Dimensions
	}
	if cfg.RAG.Collection == "" {
		cfg.RAG.Collection = defaults.RAG.Collection
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = defaults.RAG.TopK
	}
	if cfg.RAG.MinScore == 0 {
		cfg.RAG.MinScore = defaults.RAG.MinScore
	}
	if cfg.RAG.ChunkChars == 0 {
		cfg.RAG.ChunkChars = defaults.RAG.ChunkChars
	}

	// Humanize
	if cfg.Humanize.SkipLength == 0 {
		cfg.Humanize.SkipLength = defaults.Humanize.SkipLength
	}
	if cfg.Humanize.ShortMax == 0 {
		cfg.Humanize.ShortMax = defaults.Humanize.ShortMax
	}
	if cfg.Humanize.MediumMax == 0 {
		cfg.Humanize.MediumMax = defaults.Humanize.MediumMax
	}

	// Classifier
	fillDuration(&cfg.Classifier.FallbackTimeout, defaults.Classifier.FallbackTimeout)

	// Server
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaults.Server.Addr
	}
	fillDuration(&cfg.Server.ReadTimeout, defaults.Server.ReadTimeout)
	fillDuration(&cfg.Server.WriteTimeout, defaults.Server.WriteTimeout)
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = defaults.Server.MaxBodyBytes
	}

	// Logging
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}

	return nil
}

// DefaultRPM returns the requests-per-minute budget for a cloud model id.
func DefaultRPM(model string) int {
	switch m := strings.ToLower(model); {
	case strings.Contains(m, "flash-lite"):
		return 30
	case strings.Contains(m, "1.5-flash"), strings.Contains(m, "2.0-flash"), strings.Contains(m, "2.5-flash"):
		return 15
	case strings.Contains(m, "flash"):
		return 15
	case strings.Contains(m, "pro"):
		return 2
	default:
		return 5
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var b strings.Builder
	b.WriteString("# synth configuration file\n")
	b.WriteString("# Generated by synth - edit with care\n\n")
	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Local tiers: each tier must have an endpoint and model, and timeouts
	// grow with model size.
	tiers := []struct {
		name string
		t    TierConfig
	}{
		{"local.fast", c.Local.Fast},
		{"local.balanced", c.Local.Balanced},
		{"local.smart", c.Local.Smart},
	}
	for i, tc := range tiers {
		if tc.t.URL == "" {
			add(tc.name+".url", "must not be empty")
		} else if !strings.HasPrefix(tc.t.URL, "http://") && !strings.HasPrefix(tc.t.URL, "https://") {
			add(tc.name+".url", "must start with http:// or https://, got '%s'", tc.t.URL)
		}
		if tc.t.Model == "" {
			add(tc.name+".model", "must not be empty")
		}
		if tc.t.Timeout.Duration <= 0 {
			add(tc.name+".timeout", "must be positive")
		}
		if tc.t.NumPredict < 0 {
			add(tc.name+".num_predict", "must not be negative")
		}
		if i > 0 && tc.t.Timeout.Duration < tiers[i-1].t.Timeout.Duration {
			add(tc.name+".timeout", "must be >= %s (%s)", tiers[i-1].name+".timeout", tiers[i-1].t.Timeout)
		}
	}

	// Cloud
	for i, m := range c.Cloud.Models {
		if strings.TrimSpace(m.ID) == "" {
			add(fmt.Sprintf("cloud.models[%d].id", i), "must not be empty")
		}
		if m.RPM <= 0 {
			add(fmt.Sprintf("cloud.models[%d].rpm", i), "must be positive, got %d", m.RPM)
		}
	}
	if c.Cloud.MaxAttempts < 1 || c.Cloud.MaxAttempts > 2 {
		add("cloud.max_attempts", "must be 1 or 2, got %d", c.Cloud.MaxAttempts)
	}
	if c.Cloud.BackoffMax.Duration < c.Cloud.BackoffBase.Duration {
		add("cloud.backoff_max", "must be >= cloud.backoff_base")
	}

	// Search tiers escalate in cost and latency; timeouts must not shrink.
	st := []struct {
		name string
		d    time.Duration
	}{
		{"search.tier1_timeout", c.Search.Tier1Timeout.Duration},
		{"search.tier2_timeout", c.Search.Tier2Timeout.Duration},
		{"search.tier3_timeout", c.Search.Tier3Timeout.Duration},
	}
	for i, s := range st {
		if s.d <= 0 {
			add(s.name, "must be positive")
		}
		if i > 0 && s.d < st[i-1].d {
			add(s.name, "must be >= %s (%s)", st[i-1].name, st[i-1].d)
		}
	}
	if c.Search.MaxResults < 1 || c.Search.MaxResults > 25 {
		add("search.max_results", "must be between 1 and 25, got %d", c.Search.MaxResults)
	}
	if c.Search.ContextMaxChars < 200 {
		add("search.context_max_chars", "must be at least 200, got %d", c.Search.ContextMaxChars)
	}

	// RAG
	if c.RAG.Dimensions <= 0 {
		add("rag.dimensions", "must be positive, got %d", c.RAG.Dimensions)
	}
	if c.RAG.MinScore < 0 || c.RAG.MinScore > 1 {
		add("rag.min_score", "must be between 0 and 1, got %f", c.RAG.MinScore)
	}
	if c.RAG.ChunkChars < 100 {
		add("rag.chunk_chars", "must be at least 100, got %d", c.RAG.ChunkChars)
	}
	if c.RAG.TopK < 1 {
		add("rag.top_k", "must be positive, got %d", c.RAG.TopK)
	}

	// Humanize
	if c.Humanize.ShortMax >= c.Humanize.MediumMax {
		add("humanize.short_max", "must be less than humanize.medium_max")
	}

	// Logging
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("logging.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		add("logging.format", "invalid format '%s', must be json or console", c.Logging.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// GET HELPER (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "search.max_results").
func (c *Config) Get(key string) (interface{}, error) {
	parts := strings.Split(key, ".")
	if key == "" || len(parts) == 0 {
		return nil, errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return nil, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field.Interface(), nil
		}
		if field.Kind() != reflect.Struct {
			return nil, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}

	return nil, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})
	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Cloud.Models = append([]CloudModel(nil), c.Cloud.Models...)
	return &clone
}

// String returns the config as JSON with API keys redacted.
func (c *Config) String() string {
	safe := c.Clone()
	for _, k := range []*string{&safe.Cloud.GeminiKey, &safe.Cloud.OpenRouterKey, &safe.Search.TavilyKey} {
		if *k != "" {
			*k = "[REDACTED]"
		}
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
