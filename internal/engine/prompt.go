// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"strings"

	"github.com/jeranaias/synth/internal/util"
)

// maxSurroundingRunes bounds the caller supplied context in the prompt.
const maxSurroundingRunes = 2000

const styleBase = "You are Synth, a concise desktop copilot. Always answer in English, reuse the user's terminology, and never use placeholder text."

// Style names the answer shape derived from the query wording.
type Style string

const (
	StyleExplain    Style = "explain"
	StyleSummarize  Style = "summarize"
	StyleParaphrase Style = "paraphrase"
	StyleDefault    Style = "default"
)

var (
	explainCues    = []string{"explain", "teach", "walk me through"}
	summarizeCues  = []string{"summarize", "summarise", "tl;dr", "summary"}
	paraphraseCues = []string{"paraphrase", "rewrite", "rephrase"}
)

// DetectStyle picks the answer style for query.
func DetectStyle(query string) Style {
	lower := strings.ToLower(query)
	switch {
	case containsAny(lower, explainCues):
		return StyleExplain
	case containsAny(lower, summarizeCues):
		return StyleSummarize
	case containsAny(lower, paraphraseCues):
		return StyleParaphrase
	default:
		return StyleDefault
	}
}

// StylePrompt returns the instruction block for query.
func StylePrompt(query string) string {
	switch DetectStyle(query) {
	case StyleExplain:
		return styleBase + "\nWhen explaining, start with 'Quick take:' that names the subject, then give up to three tight bullets (at most 14 words each) with real facts, and finish with 'Takeaway:' plus one short sentence."
	case StyleSummarize:
		return styleBase + "\nSummaries must fit in two sentences highlighting impact and the immediate next step."
	case StyleParaphrase:
		return styleBase + "\nDeliver a single polished paragraph under 120 words that preserves the original meaning."
	default:
		return styleBase + "\nUnless the user explicitly asks for detail, keep answers under 120 words with no preamble."
	}
}

// PromptParts are the pieces of a generation prompt. Empty parts are omitted.
type PromptParts struct {
	Query       string
	Surrounding string
	WebContext  string
	Knowledge   string
}

// BuildPrompt assembles the generation prompt.
func BuildPrompt(p PromptParts) string {
	var b strings.Builder
	b.WriteString(StylePrompt(p.Query))
	b.WriteString("\n\n")

	if s := strings.TrimSpace(p.Surrounding); s != "" {
		b.WriteString("Text the user is looking at:\n\"\"\"\n")
		b.WriteString(util.TruncateRunes(s, maxSurroundingRunes))
		b.WriteString("\n\"\"\"\n\n")
	}
	if s := strings.TrimSpace(p.WebContext); s != "" {
		b.WriteString(s)
		b.WriteString("\n\n")
	}
	if s := strings.TrimSpace(p.Knowledge); s != "" {
		b.WriteString("CONTEXT FROM KNOWLEDGE BASE:\n")
		b.WriteString(s)
		b.WriteString("\n\n")
	}
	if p.WebContext != "" || p.Knowledge != "" {
		b.WriteString("Use the context above when it is relevant. If it does not contain the answer, say so briefly and answer from general knowledge.\n\n")
	}

	b.WriteString("USER QUESTION: ")
	b.WriteString(strings.TrimSpace(p.Query))
	b.WriteString("\n\nAnswer:")
	return b.String()
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
