// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package classify

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ============================================================================
// MULTI-QUERY TYPES
// ============================================================================

// Kind says whether a query is one question or several bundled together.
type Kind string

const (
	Single     Kind = "SINGLE"
	MultiQuery Kind = "MULTI_QUERY"
)

// Route is the processing path a query should take.
type Route string

const (
	// OllamaOnly answers from the local models without retrieval.
	OllamaOnly Route = "OLLAMA_ONLY"
	// SearchThenOllama retrieves web context before generation.
	SearchThenOllama Route = "SEARCH_THEN_OLLAMA"
)

// Source records which rule produced a MultiResult.
type Source string

const (
	SourceRules    Source = "rules"
	SourceModel    Source = "model"
	SourceFallback Source = "fallback"
)

// MultiResult is the outcome of ClassifyMultiQuery.
type MultiResult struct {
	Kind   Kind     `json:"kind"`
	Route  Route    `json:"route"`
	Topics []string `json:"topics,omitempty"`
	Source Source   `json:"source"`
}

// Generator is the narrow model interface used for ambiguous queries.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// ErrUnparsable is returned when the model reply carries no category label.
var ErrUnparsable = errors.New("classify: model reply has no category label")

// ============================================================================
// TOPIC GROUPS
// ============================================================================

// topicGroups are the keyword families counted by the rule-based pass.
var topicGroups = map[string][]string{
	"weather":       {"weather", "forecast", "temperature", "rain", "snow"},
	"finance":       {"stock", "price of", "market", "bitcoin", "crypto", "exchange rate", "nasdaq"},
	"sports":        {"score", "game", "match", "nba", "nfl", "league", "tournament"},
	"news":          {"news", "election", "politics", "president", "headline"},
	"technology":    {"software", "programming", "code", "api", "computer", "ai model", "release"},
	"science":       {"science", "research paper", "physics", "biology", "health", "disease"},
	"travel":        {"flight", "hotel", "travel", "visa", "airport"},
	"entertainment": {"movie", "film", "music", "album", "tv show", "series"},
}

var ambiguousShape = regexp.MustCompile(`(?i)\band\b|\balso\b|;|\?.+\?`)

// ============================================================================
// CLASSIFIER
// ============================================================================

// MultiClassifier detects multi-topic queries.
type MultiClassifier struct {
	gen     Generator
	timeout time.Duration
	logger  *zap.Logger
}

// NewMultiClassifier creates a classifier. gen may be nil, in which case
// ambiguous queries default to Single.
func NewMultiClassifier(gen Generator, timeout time.Duration, logger *zap.Logger) *MultiClassifier {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MultiClassifier{gen: gen, timeout: timeout, logger: logger}
}

// Classify determines whether the query is one question or several.
//
// Two or more distinct topic groups make it MultiQuery. A query with at
// most one group but a conjunction shape ("and", "also", ";", several
// question marks) is ambiguous and is settled by the model. Any model
// failure yields Single.
func (c *MultiClassifier) Classify(ctx context.Context, query string) MultiResult {
	topics := Topics(query)
	if len(topics) >= 2 {
		return MultiResult{Kind: MultiQuery, Route: SearchThenOllama, Topics: topics, Source: SourceRules}
	}

	single := MultiResult{Kind: Single, Route: routeFor(query), Topics: topics, Source: SourceRules}
	if !ambiguousShape.MatchString(query) || c.gen == nil {
		return single
	}

	kind, err := c.askModel(ctx, query)
	if err != nil {
		c.logger.Debug("multi-query fallback failed", zap.Error(err))
		return MultiResult{Kind: Single, Route: OllamaOnly, Topics: topics, Source: SourceFallback}
	}
	if kind == MultiQuery {
		return MultiResult{Kind: MultiQuery, Route: SearchThenOllama, Topics: topics, Source: SourceModel}
	}
	single.Source = SourceModel
	return single
}

func (c *MultiClassifier) askModel(ctx context.Context, query string) (Kind, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	prompt := "Classify the user query. Reply with exactly one label.\n" +
		"MULTI_QUERY: the query asks about two or more unrelated topics.\n" +
		"SINGLE: the query asks about one topic.\n\n" +
		"Query: " + query + "\nLabel:"

	reply, err := c.gen.Generate(ctx, prompt)
	if err != nil {
		return Single, err
	}
	return ParseLabel(reply)
}

// ParseLabel extracts the category label from a model reply.
func ParseLabel(reply string) (Kind, error) {
	r := strings.ToUpper(reply)
	switch {
	case strings.Contains(r, "MULTI_QUERY"), strings.Contains(r, "MULTI QUERY"), strings.Contains(r, "MULTI-QUERY"):
		return MultiQuery, nil
	case strings.Contains(r, "SINGLE"):
		return Single, nil
	default:
		return Single, ErrUnparsable
	}
}

// Topics returns the sorted topic groups present in the query.
func Topics(query string) []string {
	q := strings.ToLower(query)
	var found []string
	for name, kws := range topicGroups {
		if containsPhrase(q, kws) {
			found = append(found, name)
		}
	}
	sort.Strings(found)
	return found
}

func routeFor(query string) Route {
	if NeedsSearch(query) {
		return SearchThenOllama
	}
	return OllamaOnly
}

// ============================================================================
// SUB-QUERY SPLITTING
// ============================================================================

// maxSubQueries bounds how many searches a bundled query can trigger.
const maxSubQueries = 4

var subQuerySplit = regexp.MustCompile(`(?i)\?|;|\band also\b|\band\b|\balso\b`)

// SplitSubQueries breaks a bundled query into its parts. Single-word
// fragments are merged into a neighbouring part. A query that does not
// split returns a single element.
func SplitSubQueries(query string) []string {
	var parts []string
	pending := ""
	for _, p := range subQuerySplit.Split(query, -1) {
		p = strings.Trim(strings.TrimSpace(p), ",.")
		if p == "" {
			continue
		}
		if pending != "" {
			p = pending + " " + p
			pending = ""
		}
		if len(strings.Fields(p)) < 2 {
			if len(parts) > 0 {
				parts[len(parts)-1] += " " + p
			} else {
				pending = p
			}
			continue
		}
		parts = append(parts, p)
	}
	if pending != "" {
		parts = append(parts, pending)
	}
	if len(parts) == 0 {
		return []string{strings.TrimSpace(query)}
	}
	if len(parts) > maxSubQueries {
		parts = append(parts[:maxSubQueries-1], strings.Join(parts[maxSubQueries-1:], " "))
	}
	return parts
}

// ClassifyMultiQuery runs the rule-based pass only; ambiguous queries are
// reported as Single.
func ClassifyMultiQuery(query string) MultiResult {
	return NewMultiClassifier(nil, 0, nil).Classify(context.Background(), query)
}

// containsPhrase reports whether any needle occurs in s on word boundaries.
func containsPhrase(s string, needles []string) bool {
	for _, n := range needles {
		for i := 0; i+len(n) <= len(s); {
			j := strings.Index(s[i:], n)
			if j < 0 {
				break
			}
			start, end := i+j, i+j+len(n)
			if (start == 0 || !isWordByte(s[start-1])) && (end == len(s) || !isWordByte(s[end])) {
				return true
			}
			i = start + 1
		}
	}
	return false
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
