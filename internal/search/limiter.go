// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package search

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// limitedProvider guards a provider with a politeness limiter.
type limitedProvider struct {
	Provider
	limiter *rate.Limiter
}

// Limit wraps p so it is called at most rpm times per minute, with a small
// burst. Denied calls return OutcomeEmpty without touching the network.
// rpm <= 0 returns p unchanged.
func Limit(p Provider, rpm int) Provider {
	if rpm <= 0 {
		return p
	}
	burst := min(rpm, 5)
	return &limitedProvider{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), burst),
	}
}

// Search implements Provider.
func (l *limitedProvider) Search(ctx context.Context, query string, max int) Outcome {
	if !l.limiter.Allow() {
		return Empty()
	}
	return l.Provider.Search(ctx, query, max)
}
