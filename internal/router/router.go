// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"fmt"

	"github.com/jeranaias/synth/internal/classify"
)

// Default output-length thresholds (characters) used by ForOutputLength.
const (
	DefaultShortMax  = 300
	DefaultMediumMax = 1200
)

// Router maps classification signals onto tiers. The zero value is not
// usable; create one with New.
type Router struct {
	shortMax  int
	mediumMax int
}

// New creates a router with the given output-length thresholds. Non-positive
// values fall back to the defaults.
func New(shortMax, mediumMax int) *Router {
	if shortMax <= 0 {
		shortMax = DefaultShortMax
	}
	if mediumMax <= shortMax {
		mediumMax = DefaultMediumMax
	}
	return &Router{shortMax: shortMax, mediumMax: mediumMax}
}

// Default returns a router with the default thresholds.
func Default() *Router {
	return New(DefaultShortMax, DefaultMediumMax)
}

// ForComplexity picks the tier that answers a query of the given complexity.
//
//	Simple  -> fast
//	Medium  -> balanced
//	Complex -> smart
func ForComplexity(c classify.Complexity) Tier {
	switch c {
	case classify.Simple:
		return TierFast
	case classify.Medium:
		return TierBalanced
	default:
		return TierSmart
	}
}

// ForOutputLength picks the tier used to rewrite a text of n characters.
// Short texts go to the fast model, long ones to the smart model.
func (r *Router) ForOutputLength(n int) Tier {
	switch {
	case n < r.shortMax:
		return TierFast
	case n < r.mediumMax:
		return TierBalanced
	default:
		return TierSmart
	}
}

// Route estimates the complexity of a query and maps it onto a tier.
func (r *Router) Route(query string) Decision {
	c := classify.EstimateComplexity(query)
	return Decision{
		Tier:       ForComplexity(c),
		Complexity: c,
		Reason:     fmt.Sprintf("complexity %s", c),
	}
}

// Override builds a decision for an explicitly requested tier.
func (r *Router) Override(query string, t Tier) Decision {
	return Decision{
		Tier:       t,
		Complexity: classify.EstimateComplexity(query),
		Reason:     "tier requested by caller",
	}
}
