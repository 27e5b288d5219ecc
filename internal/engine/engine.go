// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeranaias/synth/internal/classify"
	"github.com/jeranaias/synth/internal/generate"
	"github.com/jeranaias/synth/internal/humanize"
	"github.com/jeranaias/synth/internal/offline"
	"github.com/jeranaias/synth/internal/rag"
	"github.com/jeranaias/synth/internal/router"
	"github.com/jeranaias/synth/internal/search"
	"github.com/jeranaias/synth/internal/telemetry"
)

// EmptyQueryMessage is returned for a blank query.
const EmptyQueryMessage = "Ask me something and I'll look into it."

// =============================================================================
// COLLABORATORS
// =============================================================================

// Generator produces text for a tier.
type Generator interface {
	Ask(ctx context.Context, prompt string, tier router.Tier, opts ...generate.AskOption) generate.Outcome
}

// Searcher runs a web search waterfall.
type Searcher interface {
	Search(ctx context.Context, query string) *search.Response
}

// Knowledge is the local vector index.
type Knowledge interface {
	BuildContext(ctx context.Context, question string, sources ...string) (string, []rag.Hit, error)
	AddSearchResults(ctx context.Context, resp *search.Response) int
}

// Rephraser rewrites generated text.
type Rephraser interface {
	Humanize(ctx context.Context, text string) (string, string)
}

// Classifier decides single versus multi-topic queries.
type Classifier interface {
	Classify(ctx context.Context, query string) classify.MultiResult
}

// =============================================================================
// REQUEST / ANSWER
// =============================================================================

// Request is one user query.
type Request struct {
	Query string `json:"query"`
	// SurroundingText is what the user was looking at, if anything.
	SurroundingText string `json:"context,omitempty"`
	// Tier forces a model tier instead of the complexity estimate.
	Tier *router.Tier `json:"tier,omitempty"`
	// NoSearch skips the web waterfall.
	NoSearch bool `json:"no_search,omitempty"`
	// NoHumanize returns the generated text as is.
	NoHumanize bool `json:"no_humanize,omitempty"`
	// RequestID is generated when empty.
	RequestID string `json:"request_id,omitempty"`
}

// Answer is the resolved response. It is always populated.
type Answer struct {
	Text              string               `json:"answer"`
	Identity          string               `json:"identity"`
	HumanizerIdentity string               `json:"humanizer"`
	Tier              router.Tier          `json:"tier"`
	Complexity        classify.Complexity  `json:"complexity"`
	RouteReason       string               `json:"route_reason,omitempty"`
	Multi             classify.MultiResult `json:"multi"`
	Search            *search.Response     `json:"search,omitempty"`
	KnowledgeHits     []rag.Hit            `json:"knowledge,omitempty"`
	Local             bool                 `json:"local"`
	Latency           time.Duration        `json:"latency"`
	RequestID         string               `json:"request_id"`
}

// Failed reports whether no model produced the text.
func (a Answer) Failed() bool {
	return a.Identity == generate.IdentityError
}

// Sources lists the URLs and knowledge sources behind the answer.
func (a Answer) Sources() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	if a.Search != nil {
		for _, r := range a.Search.Results {
			add(r.URL)
		}
	}
	for _, h := range a.KnowledgeHits {
		add(h.Source)
	}
	return out
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine wires the pipeline together. Optional collaborators may be nil.
// It is safe for concurrent use when its collaborators are.
type Engine struct {
	gen        Generator
	searcher   Searcher
	knowledge  Knowledge
	humanizer  Rephraser
	classifier Classifier
	router     *router.Router
	guard      *offline.Guard
	tracker    *telemetry.Tracker
	persist    bool
	contextMax int
	logger     *zap.Logger
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithSearcher enables web search.
func WithSearcher(s Searcher) Option {
	return func(e *Engine) { e.searcher = s }
}

// WithKnowledge enables the local knowledge base. When persist is set,
// search results are added to it.
func WithKnowledge(k Knowledge, persist bool) Option {
	return func(e *Engine) {
		e.knowledge = k
		e.persist = persist
	}
}

// WithHumanizer enables rephrasing of generated text.
func WithHumanizer(h Rephraser) Option {
	return func(e *Engine) { e.humanizer = h }
}

// WithClassifier overrides the rule-only multi-query classifier.
func WithClassifier(c Classifier) Option {
	return func(e *Engine) {
		if c != nil {
			e.classifier = c
		}
	}
}

// WithRouter sets the tier router.
func WithRouter(r *router.Router) Option {
	return func(e *Engine) {
		if r != nil {
			e.router = r
		}
	}
}

// WithGuard sets the offline guard.
func WithGuard(g *offline.Guard) Option {
	return func(e *Engine) { e.guard = g }
}

// WithTelemetry records every answer.
func WithTelemetry(t *telemetry.Tracker) Option {
	return func(e *Engine) { e.tracker = t }
}

// WithContextMaxChars bounds the merged multi-query search context.
func WithContextMaxChars(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.contextMax = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an engine around gen.
func New(gen Generator, opts ...Option) *Engine {
	e := &Engine{
		gen:        gen,
		classifier: classify.NewMultiClassifier(nil, 0, nil),
		router:     router.Default(),
		contextMax: 4000,
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve answers one request. It never fails; see Answer.Failed.
func (e *Engine) Resolve(ctx context.Context, req Request) Answer {
	start := e.now()
	id := req.RequestID
	if id == "" {
		id = uuid.NewString()
	}
	log := e.logger.With(zap.String("request_id", id))

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return Answer{
			Text:              EmptyQueryMessage,
			Identity:          humanize.IdentitySkipped,
			HumanizerIdentity: humanize.IdentitySkipped,
			RequestID:         id,
		}
	}

	decision := e.router.Route(query)
	if req.Tier != nil && req.Tier.Valid() {
		decision = e.router.Override(query, *req.Tier)
	}
	ans := Answer{
		RequestID:   id,
		Tier:        decision.Tier,
		Complexity:  decision.Complexity,
		RouteReason: decision.Reason,
	}
	ans.Multi = e.classifier.Classify(ctx, query)
	needsSearch := classify.NeedsSearch(query) || ans.Multi.Route == classify.SearchThenOllama

	log.Debug("classified",
		zap.Stringer("complexity", ans.Complexity),
		zap.String("kind", string(ans.Multi.Kind)),
		zap.Bool("needs_search", needsSearch),
		zap.Stringer("tier", ans.Tier),
		zap.String("reason", decision.Reason))

	var webContext string
	if needsSearch && !req.NoSearch && e.searcher != nil && e.guard.AllowSearch() {
		if resp := e.search(ctx, query, ans.Multi); resp != nil {
			ans.Search = resp
			webContext = resp.Context
			if e.persist && e.knowledge != nil && !resp.Empty() {
				if n := e.knowledge.AddSearchResults(ctx, resp); n > 0 {
					log.Debug("persisted search results", zap.Int("added", n))
				}
			}
		}
	}

	var kbContext string
	if e.knowledge != nil {
		text, hits, err := e.knowledge.BuildContext(ctx, query)
		if err != nil {
			log.Debug("knowledge lookup failed", zap.Error(err))
		} else {
			kbContext = text
			ans.KnowledgeHits = hits
		}
	}

	prompt := BuildPrompt(PromptParts{
		Query:       query,
		Surrounding: req.SurroundingText,
		WebContext:  webContext,
		Knowledge:   kbContext,
	})

	out := e.gen.Ask(ctx, prompt, ans.Tier, generate.WithCueText(query))
	ans.Text = out.Text
	ans.Identity = out.Identity
	ans.Local = out.Local
	ans.HumanizerIdentity = humanize.IdentitySkipped

	if !out.Failed() && !req.NoHumanize && e.humanizer != nil {
		ans.Text, ans.HumanizerIdentity = e.humanizer.Humanize(ctx, out.Text)
	}
	ans.Latency = e.now().Sub(start)

	e.record(query, ans)
	log.Info("resolved",
		zap.String("identity", ans.Identity),
		zap.String("humanizer", ans.HumanizerIdentity),
		zap.Stringer("tier", ans.Tier),
		zap.Duration("latency", ans.Latency))
	return ans
}

// search runs the waterfall once, or once per sub-query for a multi-topic
// query, and merges the responses.
func (e *Engine) search(ctx context.Context, query string, multi classify.MultiResult) *search.Response {
	queries := []string{query}
	if multi.Kind == classify.MultiQuery {
		if subs := classify.SplitSubQueries(query); len(subs) > 1 {
			queries = subs
		}
	}
	if len(queries) == 1 {
		return e.searcher.Search(ctx, query)
	}

	merged := &search.Response{Query: query, Timestamp: e.now()}
	var results []search.Result
	for _, q := range queries {
		if ctx.Err() != nil {
			break
		}
		resp := e.searcher.Search(ctx, q)
		if resp == nil {
			continue
		}
		results = append(results, resp.Results...)
		merged.Providers = append(merged.Providers, resp.Providers...)
		merged.Outcomes = append(merged.Outcomes, resp.Outcomes...)
		if merged.DirectAnswer == "" {
			merged.DirectAnswer = resp.DirectAnswer
		}
	}
	merged.Results = search.Dedup(results)
	merged.Count = len(merged.Results)
	merged.Context = search.RenderContext(merged.Results, merged.DirectAnswer, e.contextMax)
	return merged
}

func (e *Engine) record(query string, ans Answer) {
	if e.tracker == nil {
		return
	}
	ev := telemetry.Event{
		Query:             query,
		Identity:          ans.Identity,
		HumanizerIdentity: ans.HumanizerIdentity,
		Tier:              ans.Tier.String(),
		Latency:           ans.Latency,
		Failed:            ans.Failed(),
	}
	if ans.Search != nil {
		ev.Outcomes = ans.Search.Outcomes
	}
	e.tracker.Record(ev)
}
