// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNeedsSearch(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		expected bool
	}{
		{"recency keyword", "latest iPhone announcement", true},
		{"what is", "what is a monad", true},
		{"weather", "weather in Boston", true},
		{"hyphenated acronym number", "ML-KEM-768 key sizes", true},
		{"adjacent acronym number", "differences between GPT4 and its predecessor", true},
		{"acronym space number", "FIPS 203 overview", true},
		{"acronym without number", "ML-KEM key sizes", false},
		{"capitalised hyphenated word", "Well-known cat breeds", false},
		{"sentence starting with hyphenated word", "Self-driving cars are neat", false},
		{"mixed case with digit", "my iPhone15 case", false},
		{"long question", "should I bring an umbrella to the park this afternoon?", true},
		{"long statement without question mark", "please rewrite this paragraph so it sounds more friendly to readers", false},
		{"plain rewrite", "make this sound nicer", false},
		{"greeting", "hello there", false},
		{"short question", "ready yet?", false},
		{"lowercase hyphen only", "well-known fact", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NeedsSearch(tt.query))
		})
	}
}

func TestEstimateComplexity(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		expected Complexity
	}{
		{"capital lookup", "capital of France", Simple},
		{"short factual beats technical term", "what is quantum computing", Simple},
		{"define", "define entropy", Simple},
		{"compare acronyms", "compare FIPS 203 vs FIPS 204 in detail", Complex},
		{"adjacent acronym number", "FIPS203 overview", Complex},
		{"hyphenated acronym number", "ML-KEM-768 overview", Complex},
		{"spaced acronym number", "FIPS 203 overview", Complex},
		{"short factual beats acronym number", "what is ML-KEM-768", Simple},
		{"capitalised hyphenated word", "Well-known cat breeds", Simple},
		{"analyze", "analyze the causes of the 2008 financial crisis", Complex},
		{"why does", "why does ice float on water", Complex},
		{"long factual is not simple", "what is the most efficient sorting algorithm for nearly sorted data", Complex},
		{"how to", "how to bake sourdough bread", Medium},
		{"recency", "latest results from the marathon", Medium},
		{"list", "list some good sci-fi novels", Medium},
		{"long no markers", "I would really like you to tell me something interesting about owls tonight", Medium},
		{"short no markers", "tell me a joke", Simple},
		{"empty", "", Simple},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, EstimateComplexity(tt.query))
		})
	}
}

func TestClassification_IsPure(t *testing.T) {
	queries := []string{
		"capital of France",
		"compare FIPS 203 vs FIPS 204 in detail",
		"latest news today",
		"",
	}
	for _, q := range queries {
		first, firstSearch := EstimateComplexity(q), NeedsSearch(q)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, EstimateComplexity(q))
			assert.Equal(t, firstSearch, NeedsSearch(q))
		}
	}
}

func TestComplexity_String(t *testing.T) {
	assert.Equal(t, "SIMPLE", Simple.String())
	assert.Equal(t, "MEDIUM", Medium.String())
	assert.Equal(t, "COMPLEX", Complex.String())
	assert.Equal(t, "Complexity(9)", Complexity(9).String())
}
