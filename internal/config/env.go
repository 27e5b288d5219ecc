// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"strconv"
	"strings"

	env "github.com/netflix/go-env"
)

// EnvOverrides holds every environment variable synth reads.
// Empty means "not set"; flags are strings so an explicit "false" can
// switch off a value enabled in the file.
type EnvOverrides struct {
	OllamaHost    string `env:"SYNTH_OLLAMA_HOST"`
	Offline       string `env:"SYNTH_OFFLINE"`
	LogLevel      string `env:"SYNTH_LOG_LEVEL"`
	LogFormat     string `env:"SYNTH_LOG_FORMAT"`
	ServerAddr    string `env:"SYNTH_ADDR"`
	GeminiKey     string `env:"GEMINI_API_KEY"`
	GoogleKey     string `env:"GOOGLE_API_KEY"`
	OpenRouterKey string `env:"OPENROUTER_API_KEY"`
	TavilyKey     string `env:"TAVILY_API_KEY"`
	// FallbackModels is a comma separated cloud candidate list.
	FallbackModels string `env:"GEMINI_FALLBACK_MODELS"`
	KnowledgeDB    string `env:"SYNTH_KNOWLEDGE_DB"`
}

// ReadEnv reads EnvOverrides from the process environment.
func ReadEnv() (EnvOverrides, error) {
	var o EnvOverrides
	if _, err := env.UnmarshalFromEnviron(&o); err != nil {
		return o, err
	}
	return o, nil
}

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - SYNTH_OLLAMA_HOST: replaces the host of every local tier URL (ports kept)
//   - SYNTH_OFFLINE: "1"/"true" forces offline mode
//   - SYNTH_LOG_LEVEL, SYNTH_LOG_FORMAT: override logging
//   - SYNTH_ADDR: overrides server.addr
//   - GEMINI_API_KEY (or GOOGLE_API_KEY): overrides cloud.gemini_key
//   - OPENROUTER_API_KEY: overrides cloud.openrouter_key
//   - TAVILY_API_KEY: overrides search.tavily_key
//   - GEMINI_FALLBACK_MODELS: replaces cloud.models (default budgets)
//   - SYNTH_KNOWLEDGE_DB: overrides rag.db_path
func (c *Config) ApplyEnvOverrides() error {
	o, err := ReadEnv()
	if err != nil {
		return err
	}
	return c.applyOverrides(o)
}

func (c *Config) applyOverrides(o EnvOverrides) error {
	if o.OllamaHost != "" {
		for _, t := range []*TierConfig{&c.Local.Fast, &c.Local.Balanced, &c.Local.Smart} {
			t.URL = replaceHost(t.URL, o.OllamaHost)
		}
		c.RAG.EmbedURL = replaceHost(c.RAG.EmbedURL, o.OllamaHost)
	}
	if o.Offline != "" {
		v, err := strconv.ParseBool(strings.TrimSpace(o.Offline))
		if err != nil {
			return fmt.Errorf("SYNTH_OFFLINE: %w", err)
		}
		c.OfflineMode = v
	}
	if o.LogLevel != "" {
		c.Logging.Level = strings.ToLower(o.LogLevel)
	}
	if o.LogFormat != "" {
		c.Logging.Format = strings.ToLower(o.LogFormat)
	}
	if o.ServerAddr != "" {
		c.Server.Addr = o.ServerAddr
	}
	switch {
	case o.GeminiKey != "":
		c.Cloud.GeminiKey = o.GeminiKey
	case o.GoogleKey != "":
		c.Cloud.GeminiKey = o.GoogleKey
	}
	if o.OpenRouterKey != "" {
		c.Cloud.OpenRouterKey = o.OpenRouterKey
	}
	if o.TavilyKey != "" {
		c.Search.TavilyKey = o.TavilyKey
	}
	if o.FallbackModels != "" {
		var models []CloudModel
		for _, id := range strings.Split(o.FallbackModels, ",") {
			if id = strings.TrimSpace(id); id != "" {
				models = append(models, CloudModel{ID: id, RPM: DefaultRPM(id)})
			}
		}
		if len(models) > 0 {
			c.Cloud.Models = models
		}
	}
	if o.KnowledgeDB != "" {
		c.RAG.DBPath = o.KnowledgeDB
	}
	return nil
}

// replaceHost swaps the host part of an http URL, keeping scheme and port.
// "http://127.0.0.1:11435" with host "gpu-box" becomes "http://gpu-box:11435".
func replaceHost(rawURL, host string) string {
	scheme := "http://"
	rest := rawURL
	if i := strings.Index(rawURL, "://"); i >= 0 {
		scheme = rawURL[:i+3]
		rest = rawURL[i+3:]
	}
	port := ""
	if i := strings.LastIndex(rest, ":"); i >= 0 {
		port = rest[i:]
	}
	host = strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(host, "http://"), "https://"), "/")
	if strings.Contains(host, ":") {
		port = ""
	}
	return scheme + host + port
}
