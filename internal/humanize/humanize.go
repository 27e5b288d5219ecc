// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package humanize rewrites terse or structured model output as short,
// conversational English without dropping any fact.
package humanize

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/jeranaias/synth/internal/generate"
	"github.com/jeranaias/synth/internal/router"
)

// Identities reported alongside the returned text.
const (
	IdentitySkipped       = "Skipped"
	IdentityErrorOriginal = "Error-Original"
)

// DefaultSkipLength is the length above which text is assumed to be prose.
const DefaultSkipLength = 600

// friendlyMarkers open text that is already conversational.
var friendlyMarkers = []string{
	"sure", "here's", "here is", "great question", "absolutely", "of course",
	"hi", "hello", "hey", "quick take:", "i ", "i'm", "happy to", "good news",
}

const persona = `Rewrite the text below as a friendly answer in plain, direct English.
Rules:
- Keep every fact, number, name and URL exactly as given.
- Do not add information that is not in the text.
- No preamble, no sign-off, no mention of rewriting.
- Use simple sentences. Keep lists as lists.

Text:
`

// Asker is the generation call the humanizer delegates to.
type Asker interface {
	Ask(ctx context.Context, prompt string, tier router.Tier, opts ...generate.AskOption) generate.Outcome
}

// Humanizer rephrases text. Safe for concurrent use.
type Humanizer struct {
	asker      Asker
	router     *router.Router
	skipLength int
	logger     *zap.Logger
}

// Option configures a Humanizer.
type Option func(*Humanizer)

// WithRouter sets the length thresholds used to pick a tier.
func WithRouter(r *router.Router) Option {
	return func(h *Humanizer) {
		if r != nil {
			h.router = r
		}
	}
}

// WithSkipLength sets the prose length threshold in characters.
func WithSkipLength(n int) Option {
	return func(h *Humanizer) {
		if n > 0 {
			h.skipLength = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Humanizer) {
		if l != nil {
			h.logger = l
		}
	}
}

// New creates a Humanizer.
func New(asker Asker, opts ...Option) *Humanizer {
	h := &Humanizer{
		asker:      asker,
		router:     router.Default(),
		skipLength: DefaultSkipLength,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// IsFriendly reports whether text already opens conversationally.
// Alphabetic markers must end on a word boundary, so "History" does not
// count as "Hi".
func IsFriendly(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, m := range friendlyMarkers {
		if !strings.HasPrefix(lower, m) {
			continue
		}
		last, _ := utf8.DecodeLastRuneInString(m)
		if !unicode.IsLetter(last) {
			return true
		}
		next, _ := utf8.DecodeRuneInString(lower[len(m):])
		if next == utf8.RuneError || !unicode.IsLetter(next) {
			return true
		}
	}
	return false
}

// ShouldSkip reports whether text is returned unchanged.
func (h *Humanizer) ShouldSkip(text string) bool {
	if strings.TrimSpace(text) == "" {
		return true
	}
	return IsFriendly(text) || utf8.RuneCountInString(text) > h.skipLength
}

// Humanize returns the rephrased text and the identity that produced it.
// On failure the original text is returned with IdentityErrorOriginal.
func (h *Humanizer) Humanize(ctx context.Context, text string) (string, string) {
	if h.ShouldSkip(text) {
		return text, IdentitySkipped
	}

	tier := h.router.ForOutputLength(utf8.RuneCountInString(text))
	out := h.asker.Ask(ctx, persona+text, tier, generate.WithoutTerseCap())
	rephrased := strings.TrimSpace(out.Text)
	if out.Failed() || rephrased == "" {
		h.logger.Warn("humanize failed, keeping original", zap.Stringer("tier", tier), zap.String("identity", out.Identity))
		return text, IdentityErrorOriginal
	}
	return rephrased, out.Identity
}
