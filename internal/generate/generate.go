// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package generate

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/synth/internal/classify"
	"github.com/jeranaias/synth/internal/cloud"
	"github.com/jeranaias/synth/internal/config"
	"github.com/jeranaias/synth/internal/ollama"
	"github.com/jeranaias/synth/internal/ratelimit"
	"github.com/jeranaias/synth/internal/router"
)

// IdentityError marks an Outcome produced after total exhaustion.
const IdentityError = "Error"

// ErrorMessage is the only failure text a user ever sees.
const ErrorMessage = "I couldn't reach any language model right now. Please check that the local model server is running or try again in a minute."

// Defaults used when the caller does not override them.
const (
	DefaultTerseMaxTokens = 150
	DefaultMaxAttempts    = 2
	DefaultBackoffBase    = 2 * time.Second
	DefaultBackoffMax     = 16 * time.Second
	DefaultCloudTimeout   = 30 * time.Second
	DefaultTemperature    = 0.7
)

// ErrLocalUnavailable is returned by Generator when the local tier failed.
var ErrLocalUnavailable = errors.New("local model unavailable")

var terseCues = []string{"brief", "tl;dr", "tldr", "short", "concise", "one line", "in a sentence"}

// Outcome is the result of Ask. It is always populated.
type Outcome struct {
	Text     string        `json:"text"`
	Identity string        `json:"identity"`
	Tier     router.Tier   `json:"tier"`
	Local    bool          `json:"local"`
	Latency  time.Duration `json:"latency"`
}

// Failed reports whether the outcome is the exhaustion sentinel.
func (o Outcome) Failed() bool {
	return o.Identity == IdentityError
}

// Candidate is a cloud model with its requests-per-minute budget.
type Candidate struct {
	ID  string
	RPM int
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type endpoint struct {
	spec   router.TierSpec
	client *ollama.Client
}

// Client generates text. It is safe for concurrent use.
type Client struct {
	tiers        map[router.Tier]endpoint
	cloud        cloud.Backend
	candidates   []Candidate
	limits       *ratelimit.Registry
	maxAttempts  int
	backoffBase  time.Duration
	backoffMax   time.Duration
	terseMax     int
	temperature  float64
	cloudTimeout time.Duration
	sleep        Sleeper
	logger       *zap.Logger
	httpClient   *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithCloud enables cloud fallback over the ordered candidates.
func WithCloud(b cloud.Backend, candidates []Candidate) Option {
	return func(c *Client) {
		c.cloud = b
		c.candidates = append([]Candidate(nil), candidates...)
	}
}

// WithRegistry injects the per-model budget registry.
func WithRegistry(r *ratelimit.Registry) Option {
	return func(c *Client) {
		if r != nil {
			c.limits = r
		}
	}
}

// WithSleeper replaces the backoff sleep. Tests pass a recorder.
func WithSleeper(s Sleeper) Option {
	return func(c *Client) {
		if s != nil {
			c.sleep = s
		}
	}
}

// WithBackoff sets the first retry delay and its cap.
func WithBackoff(base, max time.Duration) Option {
	return func(c *Client) {
		if base > 0 {
			c.backoffBase = base
		}
		if max > 0 {
			c.backoffMax = max
		}
	}
}

// WithMaxAttempts sets attempts per cloud model, clamped to 1..2.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		c.maxAttempts = min(max(n, 1), DefaultMaxAttempts)
	}
}

// WithTerseMaxTokens sets the token cap applied when a terseness cue is present.
func WithTerseMaxTokens(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.terseMax = n
		}
	}
}

// WithCloudTimeout bounds each cloud attempt.
func WithCloudTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.cloudTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHTTPClient sets the transport used for local tiers.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.httpClient = h
	}
}

// New creates a Client for the given local tiers.
func New(specs []router.TierSpec, opts ...Option) *Client {
	c := &Client{
		tiers:        make(map[router.Tier]endpoint, len(specs)),
		limits:       ratelimit.New(),
		maxAttempts:  DefaultMaxAttempts,
		backoffBase:  DefaultBackoffBase,
		backoffMax:   DefaultBackoffMax,
		terseMax:     DefaultTerseMaxTokens,
		temperature:  DefaultTemperature,
		cloudTimeout: DefaultCloudTimeout,
		sleep:        sleepCtx,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, s := range specs {
		c.tiers[s.Tier] = endpoint{
			spec: s,
			client: ollama.NewClientWithConfig(&ollama.ClientConfig{
				BaseURL:      s.URL,
				Timeout:      s.Timeout,
				DefaultModel: s.Model,
				HTTPClient:   c.httpClient,
			}),
		}
	}
	for _, cand := range c.candidates {
		c.limits.SetBudget(cand.ID, cand.RPM)
	}
	return c
}

// TierSpecs converts the local section of the configuration.
func TierSpecs(cfg *config.Config) []router.TierSpec {
	conv := func(t router.Tier, tc config.TierConfig) router.TierSpec {
		return router.TierSpec{Tier: t, URL: tc.URL, Model: tc.Model, Timeout: tc.Timeout.Duration, NumPredict: tc.NumPredict}
	}
	return []router.TierSpec{
		conv(router.TierFast, cfg.Local.Fast),
		conv(router.TierBalanced, cfg.Local.Balanced),
		conv(router.TierSmart, cfg.Local.Smart),
	}
}

// Candidates converts the configured cloud models.
func Candidates(cfg *config.Config) []Candidate {
	out := make([]Candidate, 0, len(cfg.Cloud.Models))
	for _, m := range cfg.Cloud.Models {
		out = append(out, Candidate{ID: m.ID, RPM: m.RPM})
	}
	return out
}

// Spec returns the local tier configuration.
func (c *Client) Spec(t router.Tier) (router.TierSpec, bool) {
	e, ok := c.tiers[t]
	return e.spec, ok
}

// Registry exposes the budget registry for status output.
func (c *Client) Registry() *ratelimit.Registry {
	return c.limits
}

// HasCloud reports whether any cloud candidate is configured.
func (c *Client) HasCloud() bool {
	return c.cloud != nil && len(c.candidates) > 0
}

type askOptions struct {
	maxTokens int
	cueText   string
	noTerse   bool
	localOnly bool
	temp      *float64
}

// AskOption adjusts a single Ask call.
type AskOption func(*askOptions)

// WithMaxTokens caps the generated tokens. The smaller of this and the
// terseness cap wins.
func WithMaxTokens(n int) AskOption {
	return func(o *askOptions) { o.maxTokens = n }
}

// WithCueText sets the text scanned for terseness cues. Defaults to the prompt.
func WithCueText(s string) AskOption {
	return func(o *askOptions) { o.cueText = s }
}

// WithoutTerseCap disables the terseness cue check for this call.
func WithoutTerseCap() AskOption {
	return func(o *askOptions) { o.noTerse = true }
}

// LocalOnly skips the cloud fallback.
func LocalOnly() AskOption {
	return func(o *askOptions) { o.localOnly = true }
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) AskOption {
	return func(o *askOptions) { o.temp = &t }
}

// IsTerse reports whether s asks for a short answer.
func IsTerse(s string) bool {
	lower := strings.ToLower(s)
	for _, cue := range terseCues {
		if strings.Contains(lower, cue) {
			return true
		}
	}
	return false
}

// tokenBudget picks num_predict for a call.
func (c *Client) tokenBudget(base int, o *askOptions, prompt string) int {
	n := base
	capAt := func(limit int) {
		if limit > 0 && (n <= 0 || limit < n) {
			n = limit
		}
	}
	capAt(o.maxTokens)
	cue := o.cueText
	if cue == "" {
		cue = prompt
	}
	if !o.noTerse && IsTerse(cue) {
		capAt(c.terseMax)
	}
	return n
}

// Ask generates a completion for prompt on tier, falling back to cloud.
func (c *Client) Ask(ctx context.Context, prompt string, tier router.Tier, opts ...AskOption) Outcome {
	start := time.Now()
	var o askOptions
	for _, opt := range opts {
		opt(&o)
	}

	if text, ok := c.askLocal(ctx, prompt, tier, &o); ok {
		return Outcome{Text: text, Identity: tier.String(), Tier: tier, Local: true, Latency: time.Since(start)}
	}

	if !o.localOnly {
		if model, text, ok := c.askCloud(ctx, prompt, tier, &o); ok {
			return Outcome{Text: text, Identity: model, Tier: tier, Latency: time.Since(start)}
		}
	}

	c.logger.Warn("all generation options exhausted", zap.Stringer("tier", tier))
	return Outcome{Text: ErrorMessage, Identity: IdentityError, Tier: tier, Latency: time.Since(start)}
}

func (c *Client) askLocal(ctx context.Context, prompt string, tier router.Tier, o *askOptions) (string, bool) {
	ep, ok := c.tiers[tier]
	if !ok {
		c.logger.Debug("tier not configured", zap.Stringer("tier", tier))
		return "", false
	}

	callCtx := ctx
	if ep.spec.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, ep.spec.Timeout)
		defer cancel()
	}

	temp := c.temperature
	if o.temp != nil {
		temp = *o.temp
	}
	resp, err := ep.client.Generate(callCtx, &ollama.GenerateRequest{
		Model:  ep.spec.Model,
		Prompt: prompt,
		Options: &ollama.Options{
			Temperature: temp,
			NumPredict:  c.tokenBudget(ep.spec.NumPredict, o, prompt),
		},
	})
	if err != nil {
		c.logger.Warn("local generation failed",
			zap.Stringer("tier", tier),
			zap.String("model", ep.spec.Model),
			zap.String("kind", ollama.FailureKind(err)),
			zap.Error(err))
		return "", false
	}
	c.logger.Debug("local generation done",
		zap.Stringer("tier", tier),
		zap.Int("tokens", resp.EvalCount),
		zap.Float64("tokens_per_sec", resp.TokensPerSecond()),
		zap.Duration("server_time", resp.TotalTime()))
	text := strings.TrimSpace(resp.Response)
	if text == "" {
		c.logger.Warn("local generation returned empty text", zap.Stringer("tier", tier))
		return "", false
	}
	return text, true
}

func (c *Client) askCloud(ctx context.Context, prompt string, tier router.Tier, o *askOptions) (string, string, bool) {
	if c.cloud == nil {
		return "", "", false
	}
	base := 0
	if ep, ok := c.tiers[tier]; ok {
		base = ep.spec.NumPredict
	}
	maxTokens := c.tokenBudget(base, o, prompt)

	for _, cand := range c.candidates {
		if ctx.Err() != nil {
			return "", "", false
		}
		log := c.logger.With(zap.String("model", cand.ID))

		for attempt := 0; attempt < c.maxAttempts; attempt++ {
			if attempt > 0 {
				// Skip before backing off when the model has no budget left.
				if d := c.limits.Check(cand.ID); d != ratelimit.Allowed {
					c.logSkip(log, cand.ID, d)
					break
				}
				if err := c.sleep(ctx, c.Backoff(attempt)); err != nil {
					return "", "", false
				}
			}
			if d := c.limits.Acquire(cand.ID); d != ratelimit.Allowed {
				c.logSkip(log, cand.ID, d)
				break
			}

			text, err := c.callCloud(ctx, cand.ID, prompt, maxTokens)
			if err == nil {
				return cand.ID, text, true
			}
			if cloud.IsQuota(err) {
				c.limits.MarkQuotaExceeded(cand.ID)
				log.Warn("cloud quota exceeded, cooling down", zap.Error(err))
				break
			}
			if !cloud.IsRetryable(err) {
				log.Warn("cloud generation failed, trying next model", zap.Error(err))
				break
			}
			log.Warn("cloud generation failed", zap.Int("attempt", attempt+1), zap.Error(err))
		}
	}
	return "", "", false
}

func (c *Client) logSkip(log *zap.Logger, model string, d ratelimit.Decision) {
	log.Debug("skipping cloud model",
		zap.Stringer("reason", d),
		zap.Duration("cooldown", c.limits.CooldownRemaining(model)))
}

func (c *Client) callCloud(ctx context.Context, model, prompt string, maxTokens int) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cloudTimeout)
	defer cancel()
	return c.cloud.Generate(callCtx, model, prompt, maxTokens)
}

// Backoff returns the delay before retry number attempt (1-based):
// base, 2*base, 4*base ... capped at the configured maximum.
func (c *Client) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := c.backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.backoffMax {
			return c.backoffMax
		}
	}
	return min(d, c.backoffMax)
}

// Health probes every local tier's /api/version. A nil value means healthy.
func (c *Client) Health(ctx context.Context) map[router.Tier]error {
	out := make(map[router.Tier]error, len(c.tiers))
	for _, t := range router.Tiers {
		ep, ok := c.tiers[t]
		if !ok {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		_, err := ep.client.Version(probeCtx)
		cancel()
		out[t] = err
	}
	return out
}

// TierProbe is the state of one local tier.
type TierProbe struct {
	Err          error
	ModelPresent bool
	// Size is the pulled model's size, formatted for display.
	Size string
}

// Probe checks each tier's server and whether its model is pulled.
func (c *Client) Probe(ctx context.Context) map[router.Tier]TierProbe {
	out := make(map[router.Tier]TierProbe, len(c.tiers))
	for _, t := range router.Tiers {
		ep, ok := c.tiers[t]
		if !ok {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		info, err := ep.client.FindModel(probeCtx, ep.spec.Model)
		cancel()
		p := TierProbe{Err: err}
		if info != nil {
			p.ModelPresent = true
			p.Size = info.FormatSize()
		}
		out[t] = p
	}
	return out
}

// StartLocal launches "ollama serve" for every loopback tier that does not
// answer. Tiers sharing a URL are started once.
func (c *Client) StartLocal(ctx context.Context) map[router.Tier]error {
	out := make(map[router.Tier]error, len(c.tiers))
	started := make(map[string]error)
	for _, t := range router.Tiers {
		ep, ok := c.tiers[t]
		if !ok {
			continue
		}
		err, seen := started[ep.client.BaseURL()]
		if !seen {
			err = ep.client.StartServer(ctx)
			started[ep.client.BaseURL()] = err
			if err != nil {
				c.logger.Warn("could not start ollama", zap.String("tier", t.String()), zap.Error(err))
			}
		}
		out[t] = err
	}
	return out
}

// Generator adapts the fast tier to the classifier's narrow interface.
// It never falls back to cloud.
func (c *Client) Generator(tier router.Tier) classify.GeneratorFunc {
	return func(ctx context.Context, prompt string) (string, error) {
		out := c.Ask(ctx, prompt, tier, LocalOnly(), WithTemperature(0.1), WithMaxTokens(10))
		if out.Failed() {
			return "", ErrLocalUnavailable
		}
		return out.Text, nil
	}
}
