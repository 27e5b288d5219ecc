// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package search

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/synth/internal/util"
)

// deepResearchKeywords force the last tier even when earlier tiers found results.
var deepResearchKeywords = []string{"deep research", "research deeply", "in-depth", "comprehensive", "thorough"}

// IsDeepResearch reports whether query explicitly asks for thorough research.
func IsDeepResearch(query string) bool {
	return containsAny(strings.ToLower(query), deepResearchKeywords)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Gate decides whether a stage runs given the outcomes of earlier stages.
type Gate func(query string, prior []Outcome) bool

// Always runs the stage unconditionally.
func Always(string, []Outcome) bool { return true }

// WhenNothingFound runs the stage only if no earlier stage returned results.
func WhenNothingFound(_ string, prior []Outcome) bool {
	return countResults(prior) == 0
}

// WhenNothingFoundOrDeep runs the stage if nothing was found yet or the
// query asks for deep research.
func WhenNothingFoundOrDeep(query string, prior []Outcome) bool {
	return countResults(prior) == 0 || IsDeepResearch(query)
}

func countResults(outcomes []Outcome) int {
	n := 0
	for _, o := range outcomes {
		n += len(o.Results)
	}
	return n
}

// Stage is one tier of the waterfall.
type Stage struct {
	Provider Provider
	Timeout  time.Duration
	Gate     Gate
}

// Waterfall runs stages in order and merges their results. Safe for
// concurrent use when its providers are.
type Waterfall struct {
	stages     []Stage
	news       *Stage
	maxResults int
	contextMax int
	now        func() time.Time
	logger     *zap.Logger
}

// Option configures a Waterfall.
type Option func(*Waterfall)

// WithNews sets the recency-gated news stage.
func WithNews(p Provider, timeout time.Duration) Option {
	return func(w *Waterfall) {
		if p != nil {
			w.news = &Stage{Provider: p, Timeout: timeout}
		}
	}
}

// WithMaxResults sets the per-provider result limit.
func WithMaxResults(n int) Option {
	return func(w *Waterfall) {
		if n > 0 {
			w.maxResults = n
		}
	}
}

// WithContextMaxChars bounds the rendered context.
func WithContextMaxChars(n int) Option {
	return func(w *Waterfall) {
		if n > 0 {
			w.contextMax = n
		}
	}
}

// WithClock injects the time source used for year keywords and timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Waterfall) {
		if now != nil {
			w.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Waterfall) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWaterfall creates a waterfall over stages, in order.
func NewWaterfall(stages []Stage, opts ...Option) *Waterfall {
	w := &Waterfall{
		stages:     append([]Stage(nil), stages...),
		maxResults: 5,
		contextMax: 4000,
		now:        time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Stages returns the provider names in order, news last.
func (w *Waterfall) Stages() []string {
	names := make([]string, 0, len(w.stages)+1)
	for _, s := range w.stages {
		names = append(names, s.Provider.Name())
	}
	if w.news != nil {
		names = append(names, w.news.Provider.Name())
	}
	return names
}

// Search runs the waterfall for query.
func (w *Waterfall) Search(ctx context.Context, query string) *Response {
	resp := &Response{Query: query, Timestamp: w.now()}
	var outcomes []Outcome

	for i, stage := range w.stages {
		if ctx.Err() != nil {
			break
		}
		gate := stage.Gate
		if gate == nil {
			gate = Always
		}
		if i > 0 && !gate(query, outcomes) {
			continue
		}

		out := w.run(ctx, stage, query)
		outcomes = append(outcomes, out)
		resp.Providers = append(resp.Providers, out.Provider)
		if resp.DirectAnswer == "" {
			resp.DirectAnswer = out.DirectAnswer
		}

		// A direct answer backed by organic results settles the query.
		if out.DirectAnswer != "" && len(out.Results) > 0 {
			break
		}
	}

	if w.news != nil && ctx.Err() == nil && WantsNews(query, w.now()) {
		out := w.run(ctx, *w.news, query)
		outcomes = append(outcomes, out)
		resp.Providers = append(resp.Providers, out.Provider)
	}

	var merged []Result
	for _, o := range outcomes {
		merged = append(merged, o.Results...)
	}
	resp.Results = Dedup(merged)
	resp.Outcomes = outcomes
	resp.Count = len(resp.Results)
	resp.Context = RenderContext(resp.Results, resp.DirectAnswer, w.contextMax)
	return resp
}

// run executes one stage under its own timeout.
func (w *Waterfall) run(ctx context.Context, stage Stage, query string) Outcome {
	stageCtx := ctx
	if stage.Timeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, stage.Timeout)
		defer cancel()
	}

	start := time.Now()
	out := stage.Provider.Search(stageCtx, query, w.maxResults)
	out.Provider = stage.Provider.Name()
	out.Elapsed = time.Since(start)

	fields := []zap.Field{
		zap.String("provider", out.Provider),
		zap.Stringer("kind", out.Kind),
		zap.Int("results", len(out.Results)),
		zap.Duration("elapsed", out.Elapsed),
	}
	if out.Kind == OutcomeFailed {
		w.logger.Warn("search stage failed", append(fields, zap.Error(out.Err))...)
	} else {
		w.logger.Debug("search stage done", fields...)
	}
	return out
}

// dedupKey identifies a result: lowercased first 50 runes of the title and the URL.
type dedupKey struct {
	title string
	url   string
}

func keyOf(r Result) dedupKey {
	return dedupKey{title: strings.ToLower(util.TruncateRunesNoEllipsis(r.Title, 50)), url: r.URL}
}

// Dedup removes later results that share a key with an earlier one.
func Dedup(results []Result) []Result {
	seen := make(map[dedupKey]bool, len(results))
	out := make([]Result, 0, len(results))
	for _, r := range results {
		k := keyOf(r)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}
