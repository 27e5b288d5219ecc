// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TavilyProvider queries the Tavily search API. It needs an API key.
type TavilyProvider struct {
	BaseURL string
	// Depth is "basic" or "advanced".
	Depth  string
	apiKey string
	client *http.Client
}

// NewTavilyProvider creates a Tavily provider.
func NewTavilyProvider(apiKey string) *TavilyProvider {
	return &TavilyProvider{
		BaseURL: "https://api.tavily.com/search",
		Depth:   "advanced",
		apiKey:  strings.TrimSpace(apiKey),
		client:  newHTTPClient(60 * time.Second),
	}
}

// Name implements Provider.
func (t *TavilyProvider) Name() string { return "Tavily" }

type tavilyRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results"`
	SearchDepth   string `json:"search_depth"`
	IncludeAnswer bool   `json:"include_answer"`
}

type tavilyResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Search implements Provider.
func (t *TavilyProvider) Search(ctx context.Context, query string, max int) Outcome {
	payload, err := json.Marshal(tavilyRequest{
		APIKey:        t.apiKey,
		Query:         query,
		MaxResults:    max,
		SearchDepth:   t.Depth,
		IncludeAnswer: true,
	})
	if err != nil {
		return Failed(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return Failed(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return Failed(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return Failed(err)
	}
	if resp.StatusCode != http.StatusOK {
		return Failed(fmt.Errorf("tavily: HTTP %d", resp.StatusCode))
	}

	var data tavilyResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return Failed(fmt.Errorf("%w: %v", ErrParse, err))
	}

	results := make([]Result, 0, len(data.Results))
	for _, r := range data.Results {
		if r.Title == "" && r.Content == "" {
			continue
		}
		results = append(results, Result{
			Title:    cleanHTML(r.Title),
			URL:      r.URL,
			Snippet:  cleanHTML(r.Content),
			Provider: t.Name(),
		})
	}
	if max > 0 && len(results) > max {
		results = results[:max]
	}
	return Found(results, strings.TrimSpace(data.Answer))
}
