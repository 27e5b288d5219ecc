// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package search

import (
	"context"
	"errors"
	"time"
)

// ErrParse is wrapped into failed outcomes when a response cannot be parsed.
var ErrParse = errors.New("search: unparsable response")

// NoResultsContext is the context string when nothing was found anywhere.
const NoResultsContext = "No relevant information found from web search."

// Result is one search hit.
type Result struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Snippet  string `json:"snippet"`
	Provider string `json:"provider"`
}

// OutcomeKind tags what a provider call produced.
type OutcomeKind int

const (
	// OutcomeEmpty means the call worked (or was skipped) and found nothing.
	OutcomeEmpty OutcomeKind = iota
	// OutcomeResults means at least one result or a direct answer.
	OutcomeResults
	// OutcomeFailed means a transport, status or parse failure.
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeResults:
		return "results"
	case OutcomeFailed:
		return "failed"
	default:
		return "empty"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k OutcomeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Outcome is what a single provider call produced.
type Outcome struct {
	Provider     string        `json:"provider"`
	Kind         OutcomeKind   `json:"kind"`
	Results      []Result      `json:"results,omitempty"`
	DirectAnswer string        `json:"direct_answer,omitempty"`
	Err          error         `json:"-"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Found returns an outcome holding results and an optional direct answer.
// With neither it is OutcomeEmpty.
func Found(results []Result, direct string) Outcome {
	if len(results) == 0 && direct == "" {
		return Outcome{Kind: OutcomeEmpty}
	}
	return Outcome{Kind: OutcomeResults, Results: results, DirectAnswer: direct}
}

// Failed returns a failed outcome.
func Failed(err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Err: err}
}

// Empty returns an empty outcome.
func Empty() Outcome {
	return Outcome{Kind: OutcomeEmpty}
}

// Provider is one search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, max int) Outcome
}

// Response is the merged result of a waterfall run.
type Response struct {
	Query        string    `json:"query"`
	Results      []Result  `json:"results"`
	DirectAnswer string    `json:"direct_answer,omitempty"`
	Context      string    `json:"context"`
	Providers    []string  `json:"providers"`
	Outcomes     []Outcome `json:"outcomes,omitempty"`
	Count        int       `json:"count"`
	Timestamp    time.Time `json:"timestamp"`
}

// Empty reports whether nothing was found.
func (r *Response) Empty() bool {
	return r == nil || (len(r.Results) == 0 && r.DirectAnswer == "")
}
