// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package search

import (
	"go.uber.org/zap"

	"github.com/jeranaias/synth/internal/config"
	"github.com/jeranaias/synth/internal/offline"
)

// NewFromConfig builds the default waterfall. Tavily is included only when
// a key is configured. An offline guard yields a waterfall with no stages.
func NewFromConfig(cfg config.SearchConfig, guard *offline.Guard, logger *zap.Logger) *Waterfall {
	opts := []Option{
		WithMaxResults(cfg.MaxResults),
		WithContextMaxChars(cfg.ContextMaxChars),
		WithLogger(logger),
	}
	if !guard.AllowSearch() {
		return NewWaterfall(nil, opts...)
	}

	rpm := cfg.RequestsPerMinute
	stages := []Stage{
		{Provider: Limit(NewGoogleProvider(cfg.UserAgent), rpm), Timeout: cfg.Tier1Timeout.Duration, Gate: Always},
		{Provider: Limit(NewDuckDuckGoProvider(cfg.UserAgent), rpm), Timeout: cfg.Tier2Timeout.Duration, Gate: WhenNothingFound},
	}
	if cfg.TavilyKey != "" {
		stages = append(stages, Stage{
			Provider: Limit(NewTavilyProvider(cfg.TavilyKey), rpm),
			Timeout:  cfg.Tier3Timeout.Duration,
			Gate:     WhenNothingFoundOrDeep,
		})
	}
	opts = append(opts, WithNews(Limit(NewNewsProvider(cfg.UserAgent), rpm), cfg.NewsTimeout.Duration))
	return NewWaterfall(stages, opts...)
}
