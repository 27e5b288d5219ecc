// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/jeranaias/synth/internal/cloud"
	"github.com/jeranaias/synth/internal/config"
	"github.com/jeranaias/synth/internal/ollama"
	"github.com/jeranaias/synth/internal/ratelimit"
	"github.com/jeranaias/synth/internal/router"
)

// ollamaStub answers /api/generate with a fixed reply and records requests.
type ollamaStub struct {
	mu       sync.Mutex
	requests []ollama.GenerateRequest
	reply    string
	delay    time.Duration
}

func (s *ollamaStub) handler(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/version":
		fmt.Fprint(w, `{"version":"0.5.1"}`)
		return
	case "/api/tags":
		fmt.Fprint(w, `{"models":[{"name":"m:latest","model":"m:latest"}]}`)
		return
	case "/api/generate":
	default:
		http.NotFound(w, r)
		return
	}
	var req ollama.GenerateRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(s.delay):
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"model": req.Model, "response": s.reply, "done": true})
}

func (s *ollamaStub) last(t *testing.T) ollama.GenerateRequest {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.requests)
	return s.requests[len(s.requests)-1]
}

func startStub(t *testing.T, stub *ollamaStub) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	t.Cleanup(srv.Close)
	return srv.URL
}

// deadURL returns a URL nothing listens on.
func deadURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

func specs(url string, timeout time.Duration) []router.TierSpec {
	return []router.TierSpec{
		{Tier: router.TierFast, URL: url, Model: "fast-model", Timeout: timeout, NumPredict: 256},
		{Tier: router.TierBalanced, URL: url, Model: "balanced-model", Timeout: timeout, NumPredict: 512},
		{Tier: router.TierSmart, URL: url, Model: "smart-model", Timeout: timeout, NumPredict: 1024},
	}
}

// fakeCloud scripts per-model replies and records the call order.
type fakeCloud struct {
	mu      sync.Mutex
	calls   []string
	replies map[string][]error
	tokens  []int
}

func (f *fakeCloud) Generate(_ context.Context, model, _ string, maxTokens int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, model)
	f.tokens = append(f.tokens, maxTokens)
	if errs := f.replies[model]; len(errs) > 0 {
		err := errs[0]
		f.replies[model] = errs[1:]
		if err != nil {
			return "", err
		}
	}
	return "answer from " + model, nil
}

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func TestAsk_LocalSuccess(t *testing.T) {
	stub := &ollamaStub{reply: "  Paris is the capital of France.\n"}
	c := New(specs(startStub(t, stub), 5*time.Second))

	out := c.Ask(context.Background(), "What is the capital of France?", router.TierBalanced)

	assert.Equal(t, "Paris is the capital of France.", out.Text)
	assert.Equal(t, "balanced", out.Identity)
	assert.True(t, out.Local)
	assert.False(t, out.Failed())

	req := stub.last(t)
	assert.Equal(t, "balanced-model", req.Model)
	assert.False(t, req.Stream)
	require.NotNil(t, req.Options)
	assert.Equal(t, 512, req.Options.NumPredict)
}

func TestAsk_TokenBudget(t *testing.T) {
	tests := []struct {
		name   string
		prompt string
		opts   []AskOption
		want   int
	}{
		{"tier default", "Explain TCP handshakes", nil, 1024},
		{"terse cue", "Give me a brief summary of TCP", nil, 150},
		{"tldr cue", "TL;DR of the article please", nil, 150},
		{"explicit cap", "Explain TCP handshakes", []AskOption{WithMaxTokens(64)}, 64},
		{"smaller wins", "in a sentence, what is TCP", []AskOption{WithMaxTokens(400)}, 150},
		{"terse cap disabled", "brief answer please", []AskOption{WithoutTerseCap()}, 1024},
		{"cue text overrides prompt", "context: short story...\nQ: explain", []AskOption{WithCueText("explain everything")}, 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &ollamaStub{reply: "ok"}
			c := New(specs(startStub(t, stub), 5*time.Second))

			out := c.Ask(context.Background(), tt.prompt, router.TierSmart, tt.opts...)
			require.Equal(t, "smart", out.Identity)
			assert.Equal(t, tt.want, stub.last(t).Options.NumPredict)
		})
	}
}

func TestAsk_LocalTimeoutFallsBackToCloud(t *testing.T) {
	stub := &ollamaStub{reply: "too late", delay: 2 * time.Second}
	fc := &fakeCloud{replies: map[string][]error{}}
	c := New(specs(startStub(t, stub), 50*time.Millisecond),
		WithCloud(fc, []Candidate{{ID: "gemini-2.0-flash", RPM: 15}}))

	start := time.Now()
	out := c.Ask(context.Background(), "hello", router.TierFast)

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, "answer from gemini-2.0-flash", out.Text)
	assert.Equal(t, "gemini-2.0-flash", out.Identity)
	assert.False(t, out.Local)
}

func TestAsk_QuotaErrorRotatesAndCoolsDown(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	reg := ratelimit.New(ratelimit.WithClock(clock.Now))
	fc := &fakeCloud{replies: map[string][]error{
		"model-a": {errors.New("Error 429, Status: RESOURCE_EXHAUSTED")},
	}}
	sleeper := &recordingSleeper{}
	c := New(specs(deadURL(t), time.Second),
		WithCloud(fc, []Candidate{{ID: "model-a", RPM: 10}, {ID: "model-b", RPM: 10}}),
		WithRegistry(reg),
		WithSleeper(sleeper.sleep))

	out := c.Ask(context.Background(), "hello", router.TierFast)
	assert.Equal(t, "model-b", out.Identity)
	assert.Equal(t, []string{"model-a", "model-b"}, fc.calls)
	assert.Empty(t, sleeper.delays, "quota errors rotate without backoff")
	assert.Equal(t, ratelimit.CoolingDown, reg.Check("model-a"))

	// While cooling down, model-a is not attempted at all.
	fc.calls = nil
	out = c.Ask(context.Background(), "again", router.TierFast)
	assert.Equal(t, "model-b", out.Identity)
	assert.Equal(t, []string{"model-b"}, fc.calls)

	// After the cooldown, model-a is first again.
	clock.now = clock.now.Add(61 * time.Second)
	fc.calls = nil
	out = c.Ask(context.Background(), "later", router.TierFast)
	assert.Equal(t, "model-a", out.Identity)
}

func TestAsk_RPMBudgetSkip(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	fc := &fakeCloud{replies: map[string][]error{}}
	c := New(specs(deadURL(t), time.Second),
		WithCloud(fc, []Candidate{{ID: "model-a", RPM: 1}, {ID: "model-b", RPM: 5}}),
		WithRegistry(ratelimit.New(ratelimit.WithClock(clock.Now))))

	assert.Equal(t, "model-a", c.Ask(context.Background(), "one", router.TierFast).Identity)
	assert.Equal(t, "model-b", c.Ask(context.Background(), "two", router.TierFast).Identity)
	assert.Equal(t, []string{"model-a", "model-b"}, fc.calls)
}

func TestAsk_RetriesWithBackoff(t *testing.T) {
	badGateway := &cloud.OpenRouterError{Status: http.StatusBadGateway, Message: "upstream hiccup"}
	unavailable := genai.APIError{Code: http.StatusServiceUnavailable, Status: "UNAVAILABLE"}
	fc := &fakeCloud{replies: map[string][]error{
		"model-a": {badGateway, badGateway},
		"model-b": {unavailable},
	}}
	sleeper := &recordingSleeper{}
	c := New(specs(deadURL(t), time.Second),
		WithCloud(fc, []Candidate{{ID: "model-a", RPM: 10}, {ID: "model-b", RPM: 10}}),
		WithSleeper(sleeper.sleep))

	out := c.Ask(context.Background(), "hello", router.TierFast)
	assert.Equal(t, "model-b", out.Identity)
	assert.Equal(t, []string{"model-a", "model-a", "model-b", "model-b"}, fc.calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, sleeper.delays)
}

func TestAsk_PermanentErrorMovesOnWithoutRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"auth failed", fmt.Errorf("%w: bad key", cloud.ErrAuthFailed)},
		{"not configured", cloud.ErrNotConfigured},
		{"missing model", fmt.Errorf("%w: gone", cloud.ErrModelNotFound)},
		{"gemini bad request", genai.APIError{Code: http.StatusBadRequest, Status: "INVALID_ARGUMENT"}},
		{"empty reply", cloud.ErrEmptyResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := &fakeCloud{replies: map[string][]error{"model-a": {tt.err, tt.err}}}
			sleeper := &recordingSleeper{}
			c := New(specs(deadURL(t), time.Second),
				WithCloud(fc, []Candidate{{ID: "model-a", RPM: 10}, {ID: "model-b", RPM: 10}}),
				WithSleeper(sleeper.sleep))

			out := c.Ask(context.Background(), "hello", router.TierFast)
			assert.Equal(t, "model-b", out.Identity)
			assert.Equal(t, []string{"model-a", "model-b"}, fc.calls)
			assert.Empty(t, sleeper.delays)
		})
	}
}

func TestAsk_OverBudgetRetryDoesNotSleep(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	fc := &fakeCloud{replies: map[string][]error{
		"model-a": {&cloud.OpenRouterError{Status: http.StatusServiceUnavailable}},
	}}
	sleeper := &recordingSleeper{}
	c := New(specs(deadURL(t), time.Second),
		WithCloud(fc, []Candidate{{ID: "model-a", RPM: 1}, {ID: "model-b", RPM: 5}}),
		WithRegistry(ratelimit.New(ratelimit.WithClock(clock.Now))),
		WithSleeper(sleeper.sleep))

	out := c.Ask(context.Background(), "hello", router.TierFast)
	assert.Equal(t, "model-b", out.Identity)
	assert.Equal(t, []string{"model-a", "model-b"}, fc.calls)
	assert.Empty(t, sleeper.delays)
}

func TestBackoffSchedule(t *testing.T) {
	c := New(nil)
	want := []time.Duration{0, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 16 * time.Second}
	for attempt, d := range want {
		assert.Equal(t, d, c.Backoff(attempt), "attempt %d", attempt)
	}
}

func TestAsk_Exhausted(t *testing.T) {
	fc := &fakeCloud{replies: map[string][]error{
		"model-a": {cloud.ErrRateLimited},
	}}
	c := New(specs(deadURL(t), time.Second),
		WithCloud(fc, []Candidate{{ID: "model-a", RPM: 10}}),
		WithSleeper((&recordingSleeper{}).sleep))

	out := c.Ask(context.Background(), "hello", router.TierSmart)
	assert.Equal(t, ErrorMessage, out.Text)
	assert.Equal(t, IdentityError, out.Identity)
	assert.True(t, out.Failed())
	assert.NotEmpty(t, out.Identity)
}

func TestAsk_NoCloudConfigured(t *testing.T) {
	c := New(specs(deadURL(t), time.Second))
	assert.False(t, c.HasCloud())

	out := c.Ask(context.Background(), "hello", router.TierFast)
	assert.Equal(t, IdentityError, out.Identity)
}

func TestAsk_LocalOnlySkipsCloud(t *testing.T) {
	fc := &fakeCloud{replies: map[string][]error{}}
	c := New(specs(deadURL(t), time.Second),
		WithCloud(fc, []Candidate{{ID: "model-a", RPM: 10}}))

	out := c.Ask(context.Background(), "hello", router.TierFast, LocalOnly())
	assert.True(t, out.Failed())
	assert.Empty(t, fc.calls)
}

func TestAsk_CancelledDuringBackoff(t *testing.T) {
	fc := &fakeCloud{replies: map[string][]error{"model-a": {&cloud.OpenRouterError{Status: http.StatusServiceUnavailable}}}}
	ctx, cancel := context.WithCancel(context.Background())
	c := New(specs(deadURL(t), time.Second),
		WithCloud(fc, []Candidate{{ID: "model-a", RPM: 10}, {ID: "model-b", RPM: 10}}),
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		}))

	out := c.Ask(ctx, "hello", router.TierFast)
	assert.True(t, out.Failed())
	assert.Equal(t, []string{"model-a"}, fc.calls)
}

func TestHealth(t *testing.T) {
	good := startStub(t, &ollamaStub{})
	c := New([]router.TierSpec{
		{Tier: router.TierFast, URL: good, Model: "m", Timeout: time.Second},
		{Tier: router.TierSmart, URL: deadURL(t), Model: "m", Timeout: time.Second},
	})

	health := c.Health(context.Background())
	require.Len(t, health, 2)
	assert.NoError(t, health[router.TierFast])
	assert.Error(t, health[router.TierSmart])
	_, ok := health[router.TierBalanced]
	assert.False(t, ok)
}

func TestProbe(t *testing.T) {
	good := startStub(t, &ollamaStub{})
	c := New([]router.TierSpec{
		{Tier: router.TierFast, URL: good, Model: "m", Timeout: time.Second},
		{Tier: router.TierBalanced, URL: good, Model: "missing", Timeout: time.Second},
		{Tier: router.TierSmart, URL: deadURL(t), Model: "m", Timeout: time.Second},
	})

	probes := c.Probe(context.Background())
	require.Len(t, probes, 3)
	assert.NoError(t, probes[router.TierFast].Err)
	assert.True(t, probes[router.TierFast].ModelPresent)
	assert.NoError(t, probes[router.TierBalanced].Err)
	assert.False(t, probes[router.TierBalanced].ModelPresent)
	assert.Error(t, probes[router.TierSmart].Err)
}

func TestStartLocal_AlreadyRunning(t *testing.T) {
	good := startStub(t, &ollamaStub{})
	c := New(specs(good, time.Second))

	errs := c.StartLocal(context.Background())
	require.Len(t, errs, 3)
	for tier, err := range errs {
		assert.NoError(t, err, tier.String())
	}
}

func TestGenerator(t *testing.T) {
	stub := &ollamaStub{reply: "MULTI_QUERY"}
	c := New(specs(startStub(t, stub), time.Second))

	text, err := c.Generator(router.TierFast).Generate(context.Background(), "classify this")
	require.NoError(t, err)
	assert.Equal(t, "MULTI_QUERY", text)
	req := stub.last(t)
	assert.Equal(t, 0.1, req.Options.Temperature)
	assert.Equal(t, 10, req.Options.NumPredict)

	dead := New(specs(deadURL(t), time.Second))
	_, err = dead.Generator(router.TierFast).Generate(context.Background(), "classify this")
	require.ErrorIs(t, err, ErrLocalUnavailable)
}

func TestConfigConversion(t *testing.T) {
	cfg := config.Default()
	ts := TierSpecs(cfg)
	require.Len(t, ts, 3)
	assert.Equal(t, router.TierSmart, ts[2].Tier)
	assert.Equal(t, cfg.Local.Smart.Timeout.Duration, ts[2].Timeout)
	assert.Equal(t, 1024, ts[2].NumPredict)

	cands := Candidates(cfg)
	require.Len(t, cands, len(cfg.Cloud.Models))
	assert.Equal(t, "gemini-2.0-flash-lite", cands[0].ID)
	assert.Equal(t, 30, cands[0].RPM)
}

func TestIsTerse(t *testing.T) {
	assert.True(t, IsTerse("Keep it SHORT"))
	assert.True(t, IsTerse("tldr?"))
	assert.False(t, IsTerse("Explain in depth"))
}
