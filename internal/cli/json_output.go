// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"io"
	"time"
)

// JSONResponse is the envelope every command prints in --json mode.
type JSONResponse struct {
	Success   bool    `json:"success"`
	Data      any     `json:"data"`
	Error     *string `json:"error"`
	Timestamp string  `json:"timestamp"`
	Command   string  `json:"command,omitempty"`
}

// NewJSONResponse creates a successful response.
func NewJSONResponse(command string, data any) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// NewJSONErrorResponse creates a failed response.
func NewJSONErrorResponse(command string, err error) *JSONResponse {
	msg := err.Error()
	return &JSONResponse{
		Error:     &msg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// Print writes the response as indented JSON.
func (r *JSONResponse) Print(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// =============================================================================
// COMMAND-SPECIFIC DATA STRUCTURES
// =============================================================================

// AskData is the JSON form of an answer.
type AskData struct {
	Answer     string   `json:"answer"`
	Identity   string   `json:"identity"`
	Humanizer  string   `json:"humanizer"`
	Tier       string   `json:"tier"`
	Complexity string   `json:"complexity"`
	Local      bool     `json:"local"`
	Providers  []string `json:"providers"`
	Sources    []string `json:"sources"`
	LatencyMs  int64    `json:"latency_ms"`
	RequestID  string   `json:"request_id"`
}

// StatusData is the JSON form of the status command.
type StatusData struct {
	ConfigPath string            `json:"config_path"`
	Offline    bool              `json:"offline"`
	Tiers      []TierStatus      `json:"tiers"`
	Cloud      []CloudStatus     `json:"cloud"`
	Search     []string          `json:"search_providers"`
	Knowledge  *KnowledgeStatus  `json:"knowledge,omitempty"`
	Usage      *UsageStatus      `json:"usage,omitempty"`
	Problems   map[string]string `json:"problems,omitempty"`
}

// TierStatus describes one local tier.
type TierStatus struct {
	Tier    string `json:"tier"`
	URL     string `json:"url"`
	Model   string `json:"model"`
	Healthy bool   `json:"healthy"`
	Pulled  bool   `json:"model_pulled"`
	Size    string `json:"size,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CloudStatus describes one cloud fallback model.
type CloudStatus struct {
	Model      string `json:"model"`
	RPM        int    `json:"rpm"`
	Configured bool   `json:"configured"`
	Available  bool   `json:"available"`
	KeyID      string `json:"key_id,omitempty"`
}

// KnowledgeStatus describes the knowledge base.
type KnowledgeStatus struct {
	Path       string `json:"path"`
	Collection string `json:"collection"`
	Model      string `json:"model"`
	Records    int    `json:"records"`
	Dimensions int    `json:"dimensions"`
}

// UsageStatus summarizes cumulative usage.
type UsageStatus struct {
	Requests   int            `json:"requests"`
	Identities map[string]int `json:"identities"`
}
