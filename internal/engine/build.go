// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/jeranaias/synth/internal/classify"
	"github.com/jeranaias/synth/internal/cloud"
	"github.com/jeranaias/synth/internal/config"
	"github.com/jeranaias/synth/internal/generate"
	"github.com/jeranaias/synth/internal/humanize"
	"github.com/jeranaias/synth/internal/offline"
	"github.com/jeranaias/synth/internal/rag"
	"github.com/jeranaias/synth/internal/ratelimit"
	"github.com/jeranaias/synth/internal/router"
	"github.com/jeranaias/synth/internal/search"
	"github.com/jeranaias/synth/internal/telemetry"
)

// Components holds everything Build wires, for callers that need more than
// the Engine (status output, the HTTP server, ingest).
type Components struct {
	Config    *config.Config
	Logger    *zap.Logger
	Guard     *offline.Guard
	Generator *generate.Client
	Waterfall *search.Waterfall
	Index     *rag.Index // nil when the knowledge base is disabled or unavailable
	Humanizer *humanize.Humanizer
	Tracker   *telemetry.Tracker
	Engine    *Engine
}

// Build wires the full pipeline from configuration. Optional parts that
// fail to initialise (cloud keys, knowledge base, usage file) are logged
// and left out.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	if cfg == nil {
		return nil, errors.New("engine: nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Components{
		Config: cfg,
		Logger: logger,
		Guard:  offline.New(cfg.OfflineMode),
	}

	c.Generator = generate.New(localSpecs(cfg, c.Guard, logger), generateOptions(ctx, cfg, c.Guard, logger)...)
	c.Waterfall = search.NewFromConfig(cfg.Search, c.Guard, logger.Named("search"))

	if cfg.RAG.Enabled {
		if err := c.Guard.CheckURL(cfg.RAG.EmbedURL); err != nil {
			logger.Warn("knowledge base disabled", zap.Error(err))
		} else if idx, err := rag.Open(ctx, cfg.RAG, logger.Named("rag")); err != nil {
			logger.Warn("knowledge base unavailable", zap.Error(err))
		} else {
			c.Index = idx
		}
	}

	rt := router.New(cfg.Humanize.ShortMax, cfg.Humanize.MediumMax)
	if cfg.Humanize.Enabled {
		c.Humanizer = humanize.New(c.Generator,
			humanize.WithRouter(rt),
			humanize.WithSkipLength(cfg.Humanize.SkipLength),
			humanize.WithLogger(logger.Named("humanize")),
		)
	}

	if cfg.Telemetry.Enabled {
		tracker, err := telemetry.New(cfg.Telemetry.Path)
		if err != nil {
			logger.Warn("usage file unreadable, starting fresh", zap.Error(err))
			tracker, _ = telemetry.New("")
		}
		c.Tracker = tracker
	}

	opts := []Option{
		WithSearcher(c.Waterfall),
		WithRouter(rt),
		WithGuard(c.Guard),
		WithTelemetry(c.Tracker),
		WithContextMaxChars(cfg.Search.ContextMaxChars),
		WithLogger(logger.Named("engine")),
	}
	if c.Index != nil {
		opts = append(opts, WithKnowledge(c.Index, cfg.RAG.PersistSearchResults))
	}
	if c.Humanizer != nil {
		opts = append(opts, WithHumanizer(c.Humanizer))
	}
	if cfg.Classifier.LLMFallback {
		opts = append(opts, WithClassifier(classify.NewMultiClassifier(
			c.Generator.Generator(router.TierFast),
			cfg.Classifier.FallbackTimeout.Duration,
			logger.Named("classify"),
		)))
	}
	c.Engine = New(c.Generator, opts...)
	return c, nil
}

// Close saves usage totals and closes the knowledge base.
func (c *Components) Close() error {
	var errs []error
	if c.Tracker != nil {
		errs = append(errs, c.Tracker.Save())
	}
	if c.Index != nil {
		errs = append(errs, c.Index.Close())
	}
	return errors.Join(errs...)
}

// localSpecs returns the tier specs, dropping non-loopback tiers when offline.
func localSpecs(cfg *config.Config, guard *offline.Guard, logger *zap.Logger) []router.TierSpec {
	specs := generate.TierSpecs(cfg)
	kept := specs[:0]
	for _, s := range specs {
		if err := guard.CheckURL(s.URL); err != nil {
			logger.Warn("local tier disabled", zap.Stringer("tier", s.Tier), zap.Error(err))
			continue
		}
		kept = append(kept, s)
	}
	return kept
}

// generateOptions configures cloud fallback and retry policy.
func generateOptions(ctx context.Context, cfg *config.Config, guard *offline.Guard, logger *zap.Logger) []generate.Option {
	opts := []generate.Option{
		generate.WithRegistry(ratelimit.New(
			ratelimit.WithWindow(cfg.Cloud.Window.Duration),
			ratelimit.WithCooldown(cfg.Cloud.Cooldown.Duration),
		)),
		generate.WithBackoff(cfg.Cloud.BackoffBase.Duration, cfg.Cloud.BackoffMax.Duration),
		generate.WithMaxAttempts(cfg.Cloud.MaxAttempts),
		generate.WithTerseMaxTokens(cfg.Local.TerseMaxTokens),
		generate.WithCloudTimeout(cfg.Cloud.Timeout.Duration),
		generate.WithLogger(logger.Named("generate")),
	}
	if !guard.AllowCloud() {
		return opts
	}

	var gemini, openRouter cloud.Backend
	if cfg.Cloud.GeminiKey != "" {
		g, err := cloud.NewGeminiBackend(ctx, cfg.Cloud.GeminiKey)
		if err != nil {
			logger.Warn("gemini unavailable", zap.Error(err))
		} else {
			gemini = g
		}
	}
	if cfg.Cloud.OpenRouterKey != "" {
		openRouter = cloud.NewOpenRouterClient(cfg.Cloud.OpenRouterKey)
	}

	var candidates []generate.Candidate
	for _, cand := range generate.Candidates(cfg) {
		if cloud.IsOpenRouterModel(cand.ID) && openRouter == nil {
			continue
		}
		if !cloud.IsOpenRouterModel(cand.ID) && gemini == nil {
			continue
		}
		candidates = append(candidates, cand)
	}
	if len(candidates) > 0 {
		opts = append(opts, generate.WithCloud(cloud.NewDispatcher(gemini, openRouter), candidates))
	}
	return opts
}
