// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package classify

import (
	"fmt"
	"regexp"
	"strings"
)

// ============================================================================
// COMPLEXITY TYPE
// ============================================================================

// Complexity is the effort tier a query deserves.
type Complexity int

const (
	// Simple is a short factual lookup.
	Simple Complexity = iota
	// Medium is a how-to, recency or list style request.
	Medium
	// Complex is comparison, analysis or deep technical reasoning.
	Complex
)

// String returns the upper-case name used in logs and API responses.
func (c Complexity) String() string {
	switch c {
	case Simple:
		return "SIMPLE"
	case Medium:
		return "MEDIUM"
	case Complex:
		return "COMPLEX"
	default:
		return fmt.Sprintf("Complexity(%d)", int(c))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Complexity) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// ============================================================================
// KEYWORD TABLES
// ============================================================================

// searchKeywords always trigger a web search.
var searchKeywords = []string{
	"latest", "recent", "current", "news", "today", "yesterday",
	"election", "politics", "score", "weather", "stock",
	"what is", "who is", "when did", "where is", "how to",
	"tell me about", "information about", "details about",
	"research", "find", "search", "explain", "define",
	"what are", "what does", "why is", "why did",
}

// simplePatterns are factual lookups that stay on the fast tier when the
// query is short, even if a technical term is present.
var simplePatterns = []string{
	"capital of", "what is", "who is", "when did", "when was",
	"where is", "how many", "how old", "population of", "define",
	"meaning of",
}

// simpleMaxWords bounds what counts as a "short" factual query.
const simpleMaxWords = 6

var complexMarkers = []string{
	"compare", " vs ", " vs.", "versus", "analyze", "analyse", "analysis",
	"why does", "trade-off", "tradeoff", "pros and cons", "in detail",
	"in depth", "in-depth", "architecture", "algorithm", "cryptograph",
	"quantum", "security", "optimiz", "implications",
}

var mediumMarkers = []string{
	"how to", "how do", "how can", "explain", "latest", "recent", "news",
	"today", "list", "steps", "top ", "best ", "examples of",
}

// mediumMinWords is the word-count fallback threshold.
const mediumMinWords = 10

// technicalToken matches an all-caps acronym followed by a digit group,
// adjacent ("FIPS203"), hyphenated ("ML-KEM-768") or after one space
// ("FIPS 203").
var technicalToken = regexp.MustCompile(`\b[A-Z]{2,10}(?:-[A-Z]{2,10})*(?:[- ]?\d+)\b`)

// ============================================================================
// CLASSIFICATION FUNCTIONS
// ============================================================================

// NeedsSearch reports whether answering the query likely needs live web data.
//
// True when any of:
//  1. a search keyword appears (case-insensitive substring)
//  2. a technical token appears (see HasTechnicalToken)
//  3. the query is a long question (8+ words containing '?')
func NeedsSearch(query string) bool {
	q := strings.ToLower(query)
	for _, kw := range searchKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}

	if HasTechnicalToken(query) {
		return true
	}

	return len(strings.Fields(query)) >= 8 && strings.Contains(query, "?")
}

// HasTechnicalToken reports whether the query names a standard-like
// identifier: an upper-case acronym followed by digits.
func HasTechnicalToken(query string) bool {
	return technicalToken.MatchString(query)
}

// EstimateComplexity classifies the query into an effort tier.
//
// Rules (in order of priority):
//  1. Simple: a factual pattern on a short query wins outright
//  2. Complex: comparison, analysis or technical-domain markers
//  3. Medium: how-to, recency and list markers
//  4. Otherwise Medium at 10+ words, else Simple
func EstimateComplexity(query string) Complexity {
	q := " " + strings.ToLower(strings.TrimSpace(query)) + " "
	wc := len(strings.Fields(query))

	if wc <= simpleMaxWords && containsAny(q, simplePatterns) {
		return Simple
	}

	if containsAny(q, complexMarkers) || HasTechnicalToken(query) {
		return Complex
	}

	if containsAny(q, mediumMarkers) {
		return Medium
	}

	if wc >= mediumMinWords {
		return Medium
	}
	return Simple
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
