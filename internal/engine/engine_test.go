// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/synth/internal/classify"
	"github.com/jeranaias/synth/internal/cloud"
	"github.com/jeranaias/synth/internal/generate"
	"github.com/jeranaias/synth/internal/humanize"
	"github.com/jeranaias/synth/internal/offline"
	"github.com/jeranaias/synth/internal/rag"
	"github.com/jeranaias/synth/internal/router"
	"github.com/jeranaias/synth/internal/search"
	"github.com/jeranaias/synth/internal/telemetry"
)

// =============================================================================
// FAKES
// =============================================================================

type askCall struct {
	prompt string
	tier   router.Tier
}

type fakeGen struct {
	mu    sync.Mutex
	calls []askCall
	out   generate.Outcome
}

func (f *fakeGen) Ask(_ context.Context, prompt string, tier router.Tier, _ ...generate.AskOption) generate.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, askCall{prompt: prompt, tier: tier})
	out := f.out
	if out.Identity == "" {
		out = generate.Outcome{Text: "Paris is the capital.", Identity: tier.String(), Tier: tier, Local: true}
	}
	return out
}

func (f *fakeGen) last(t *testing.T) askCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.calls)
	return f.calls[len(f.calls)-1]
}

type fakeSearcher struct {
	mu      sync.Mutex
	queries []string
	results map[string][]search.Result
}

func (f *fakeSearcher) Search(_ context.Context, query string) *search.Response {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	results := f.results[query]
	f.mu.Unlock()
	return &search.Response{
		Query:     query,
		Results:   results,
		Providers: []string{"Fake"},
		Outcomes:  []search.Outcome{{Provider: "Fake", Kind: search.OutcomeResults, Results: results}},
		Count:     len(results),
		Context:   search.RenderContext(results, "", 4000),
	}
}

type fakeKnowledge struct {
	context   string
	hits      []rag.Hit
	err       error
	persisted []*search.Response
}

func (f *fakeKnowledge) BuildContext(context.Context, string, ...string) (string, []rag.Hit, error) {
	return f.context, f.hits, f.err
}

func (f *fakeKnowledge) AddSearchResults(_ context.Context, resp *search.Response) int {
	f.persisted = append(f.persisted, resp)
	return len(resp.Results)
}

type fakeHumanizer struct {
	calls int
}

func (f *fakeHumanizer) Humanize(_ context.Context, text string) (string, string) {
	f.calls++
	return "Sure! " + text, "fast"
}

type staticProvider struct {
	name string
	out  search.Outcome
}

func (p staticProvider) Name() string { return p.name }

func (p staticProvider) Search(context.Context, string, int) search.Outcome {
	return p.out
}

// =============================================================================
// RESOLVE
// =============================================================================

func TestResolve_ShortFactualQueryUsesFastTierWithoutSearch(t *testing.T) {
	gen := &fakeGen{}
	s := &fakeSearcher{}
	e := New(gen, WithSearcher(s))

	ans := e.Resolve(context.Background(), Request{Query: "capital of France"})

	assert.Equal(t, classify.Simple, ans.Complexity)
	assert.Equal(t, router.TierFast, ans.Tier)
	assert.Equal(t, router.TierFast, gen.last(t).tier)
	assert.Equal(t, "fast", ans.Identity)
	assert.Nil(t, ans.Search)
	assert.Empty(t, s.queries)
	assert.NotEmpty(t, ans.RequestID)
	assert.Equal(t, "complexity SIMPLE", ans.RouteReason)
}

func TestResolve_TechnicalComparisonSearchesOnSmartTier(t *testing.T) {
	gen := &fakeGen{}
	query := "compare FIPS 203 vs FIPS 204 in detail"
	s := &fakeSearcher{results: map[string][]search.Result{
		query: {{Title: "FIPS 203", URL: "https://csrc.nist.gov/pubs/fips/203/final", Snippet: "ML-KEM", Provider: "Google"}},
	}}
	e := New(gen, WithSearcher(s))

	ans := e.Resolve(context.Background(), Request{Query: query})

	assert.Equal(t, classify.Complex, ans.Complexity)
	assert.True(t, classify.NeedsSearch(query))
	assert.Equal(t, router.TierSmart, ans.Tier)
	assert.Equal(t, []string{query}, s.queries)
	require.NotNil(t, ans.Search)
	assert.Contains(t, gen.last(t).prompt, "=== WEB SEARCH RESULTS ===")
	assert.Contains(t, gen.last(t).prompt, "csrc.nist.gov")
	assert.Equal(t, []string{"https://csrc.nist.gov/pubs/fips/203/final"}, ans.Sources())
}

func TestResolve_EmptyTiersFallThroughToDeepSearch(t *testing.T) {
	three := []search.Result{
		{Title: "One", URL: "https://a.example", Snippet: "a"},
		{Title: "Two", URL: "https://b.example", Snippet: "b"},
		{Title: "Three", URL: "https://c.example", Snippet: "c"},
	}
	wf := search.NewWaterfall([]search.Stage{
		{Provider: staticProvider{"Google", search.Empty()}, Timeout: time.Second, Gate: search.Always},
		{Provider: staticProvider{"DuckDuckGo", search.Empty()}, Timeout: 2 * time.Second, Gate: search.WhenNothingFound},
		{Provider: staticProvider{"Tavily", search.Found(three, "")}, Timeout: 3 * time.Second, Gate: search.WhenNothingFoundOrDeep},
	})
	gen := &fakeGen{}
	e := New(gen, WithSearcher(wf))

	ans := e.Resolve(context.Background(), Request{Query: "explain FIPS 203 key sizes"})

	require.NotNil(t, ans.Search)
	assert.Equal(t, 3, ans.Search.Count)
	assert.Len(t, ans.Search.Results, 3)
	assert.Equal(t, []string{"Google", "DuckDuckGo", "Tavily"}, ans.Search.Providers)
}

func TestResolve_LocalHTTP500FallsBackToCloud(t *testing.T) {
	local := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer local.Close()

	backend := cloud.BackendFunc(func(_ context.Context, model, _ string, _ int) (string, error) {
		return "Paris.", nil
	})
	gen := generate.New(
		[]router.TierSpec{{Tier: router.TierFast, URL: local.URL, Model: "qwen2.5:3b", Timeout: 2 * time.Second, NumPredict: 64}},
		generate.WithCloud(backend, []generate.Candidate{{ID: "gemini-2.0-flash", RPM: 15}}),
	)
	e := New(gen)

	var ans Answer
	require.NotPanics(t, func() {
		ans = e.Resolve(context.Background(), Request{Query: "capital of France"})
	})
	assert.Equal(t, "gemini-2.0-flash", ans.Identity)
	assert.Equal(t, "Paris.", ans.Text)
	assert.False(t, ans.Local)
	assert.False(t, ans.Failed())
}

// =============================================================================
// PIPELINE
// =============================================================================

func TestResolve_EmptyQuery(t *testing.T) {
	gen := &fakeGen{}
	ans := New(gen).Resolve(context.Background(), Request{Query: "   "})
	assert.Equal(t, EmptyQueryMessage, ans.Text)
	assert.Equal(t, humanize.IdentitySkipped, ans.Identity)
	assert.Empty(t, gen.calls)
}

func TestResolve_ExhaustionSkipsHumanizer(t *testing.T) {
	gen := &fakeGen{out: generate.Outcome{Text: generate.ErrorMessage, Identity: generate.IdentityError}}
	h := &fakeHumanizer{}
	e := New(gen, WithHumanizer(h))

	ans := e.Resolve(context.Background(), Request{Query: "capital of France"})
	assert.True(t, ans.Failed())
	assert.Equal(t, generate.ErrorMessage, ans.Text)
	assert.Equal(t, humanize.IdentitySkipped, ans.HumanizerIdentity)
	assert.Zero(t, h.calls)
}

func TestResolve_Humanizes(t *testing.T) {
	h := &fakeHumanizer{}
	e := New(&fakeGen{}, WithHumanizer(h))

	ans := e.Resolve(context.Background(), Request{Query: "capital of France"})
	assert.Equal(t, "Sure! Paris is the capital.", ans.Text)
	assert.Equal(t, "fast", ans.HumanizerIdentity)

	raw := e.Resolve(context.Background(), Request{Query: "capital of France", NoHumanize: true})
	assert.Equal(t, "Paris is the capital.", raw.Text)
	assert.Equal(t, 1, h.calls)
}

func TestResolve_OfflineSkipsSearch(t *testing.T) {
	s := &fakeSearcher{}
	e := New(&fakeGen{}, WithSearcher(s), WithGuard(offline.New(true)))

	ans := e.Resolve(context.Background(), Request{Query: "latest news about FIPS 203"})
	assert.Nil(t, ans.Search)
	assert.Empty(t, s.queries)
}

func TestResolve_NoSearchFlag(t *testing.T) {
	s := &fakeSearcher{}
	e := New(&fakeGen{}, WithSearcher(s))

	e.Resolve(context.Background(), Request{Query: "latest news about FIPS 203", NoSearch: true})
	assert.Empty(t, s.queries)
}

func TestResolve_TierOverride(t *testing.T) {
	gen := &fakeGen{}
	smart := router.TierSmart
	ans := New(gen).Resolve(context.Background(), Request{Query: "capital of France", Tier: &smart})
	assert.Equal(t, router.TierSmart, ans.Tier)
	assert.Equal(t, router.TierSmart, gen.last(t).tier)
	assert.Equal(t, classify.Simple, ans.Complexity)
	assert.Equal(t, "tier requested by caller", ans.RouteReason)
}

type nilSearcher struct{ calls int }

func (n *nilSearcher) Search(context.Context, string) *search.Response {
	n.calls++
	return nil
}

func TestResolve_NilSearchResponseIsTolerated(t *testing.T) {
	s := &nilSearcher{}
	kb := &fakeKnowledge{}
	gen := &fakeGen{}
	e := New(gen, WithSearcher(s), WithKnowledge(kb, true))

	var ans Answer
	require.NotPanics(t, func() {
		ans = e.Resolve(context.Background(), Request{Query: "latest news about FIPS 203"})
	})
	assert.Equal(t, 1, s.calls)
	assert.Nil(t, ans.Search)
	assert.Empty(t, kb.persisted)
	assert.NotContains(t, gen.last(t).prompt, "=== WEB SEARCH RESULTS ===")
	assert.False(t, ans.Failed())
	assert.Empty(t, ans.Sources())
}

func TestResolve_KnowledgeAndPersistence(t *testing.T) {
	query := "what is ML-KEM-768"
	s := &fakeSearcher{results: map[string][]search.Result{
		query: {{Title: "ML-KEM", URL: "https://nist.gov/mlkem", Snippet: "lattice KEM"}},
	}}
	kb := &fakeKnowledge{
		context: "[1] (Score: 0.91) ML-KEM-768 has 1184 byte public keys",
		hits:    []rag.Hit{{Source: "notes.md", Score: 0.91}},
	}
	gen := &fakeGen{}
	e := New(gen, WithSearcher(s), WithKnowledge(kb, true))

	ans := e.Resolve(context.Background(), Request{Query: query, SurroundingText: "selected paragraph"})

	prompt := gen.last(t).prompt
	assert.Contains(t, prompt, "CONTEXT FROM KNOWLEDGE BASE:")
	assert.Contains(t, prompt, "1184 byte public keys")
	assert.Contains(t, prompt, "selected paragraph")
	assert.True(t, strings.HasSuffix(prompt, "Answer:"))
	require.Len(t, kb.persisted, 1)
	assert.Equal(t, []string{"https://nist.gov/mlkem", "notes.md"}, ans.Sources())
}

func TestResolve_KnowledgeFailureIsIgnored(t *testing.T) {
	kb := &fakeKnowledge{err: errors.New("sqlite locked")}
	gen := &fakeGen{}
	ans := New(gen, WithKnowledge(kb, false)).Resolve(context.Background(), Request{Query: "capital of France"})
	assert.Equal(t, "fast", ans.Identity)
	assert.NotContains(t, gen.last(t).prompt, "KNOWLEDGE BASE")
}

func TestResolve_MultiQuerySearchesEachPart(t *testing.T) {
	query := "weather in Paris and the stock price of Apple"
	s := &fakeSearcher{results: map[string][]search.Result{
		"weather in Paris":         {{Title: "Paris forecast", URL: "https://w.example"}},
		"the stock price of Apple": {{Title: "AAPL", URL: "https://s.example"}, {Title: "Paris forecast", URL: "https://w.example"}},
	}}
	e := New(&fakeGen{}, WithSearcher(s))

	ans := e.Resolve(context.Background(), Request{Query: query})

	assert.Equal(t, classify.MultiQuery, ans.Multi.Kind)
	assert.Equal(t, []string{"weather in Paris", "the stock price of Apple"}, s.queries)
	require.NotNil(t, ans.Search)
	assert.Equal(t, 2, ans.Search.Count, "duplicates across sub-queries are merged")
	assert.Equal(t, []string{"Fake", "Fake"}, ans.Search.Providers)
	assert.Equal(t, query, ans.Search.Query)
}

func TestResolve_RecordsTelemetry(t *testing.T) {
	tracker, err := telemetry.New("")
	require.NoError(t, err)
	e := New(&fakeGen{}, WithTelemetry(tracker))

	e.Resolve(context.Background(), Request{Query: "capital of France"})
	snap := tracker.Snapshot()
	assert.Equal(t, 1, snap.Requests)
	assert.Equal(t, 1, snap.Identities["fast"].Calls)
	assert.Equal(t, 1, snap.Tiers["fast"])
}

func TestResolve_UsesRequestID(t *testing.T) {
	ans := New(&fakeGen{}).Resolve(context.Background(), Request{Query: "hi there", RequestID: "req-1"})
	assert.Equal(t, "req-1", ans.RequestID)
}

// =============================================================================
// PROMPT
// =============================================================================

func TestDetectStyle(t *testing.T) {
	tests := []struct {
		query string
		want  Style
	}{
		{"explain how ML-KEM works", StyleExplain},
		{"walk me through TLS", StyleExplain},
		{"summarize this article", StyleSummarize},
		{"tl;dr please", StyleSummarize},
		{"rephrase this paragraph", StyleParaphrase},
		{"capital of France", StyleDefault},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectStyle(tt.query))
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt(PromptParts{Query: "capital of France"})
	assert.Contains(t, p, "under 120 words")
	assert.Contains(t, p, "USER QUESTION: capital of France")
	assert.NotContains(t, p, "Use the context above")

	long := strings.Repeat("word ", 1000)
	p = BuildPrompt(PromptParts{Query: "explain this", Surrounding: long, WebContext: search.NoResultsContext})
	assert.Contains(t, p, "Quick take:")
	assert.Contains(t, p, search.NoResultsContext)
	assert.Less(t, len(p), len(long)+1000)
}
