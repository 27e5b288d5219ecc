// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/synth/internal/classify"
)

// ============================================================================
// TIER TYPE
// ============================================================================

// Tier is one of the three locally hosted model tiers.
// Ordered by size and latency: Fast < Balanced < Smart.
type Tier int

const (
	// TierFast is the smallest model, for short lookups and rewrites.
	TierFast Tier = iota
	// TierBalanced is the mid-size model.
	TierBalanced
	// TierSmart is the largest local model, for analysis.
	TierSmart
)

// Tiers lists every tier from smallest to largest.
var Tiers = []Tier{TierFast, TierBalanced, TierSmart}

// String returns the lower-case tier name, which is also the identity
// reported for local answers.
func (t Tier) String() string {
	switch t {
	case TierFast:
		return "fast"
	case TierBalanced:
		return "balanced"
	case TierSmart:
		return "smart"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Valid reports whether t is one of the defined tiers.
func (t Tier) Valid() bool {
	return t >= TierFast && t <= TierSmart
}

// ParseTier parses a tier name. Accepts the names returned by String plus
// the common aliases "small", "medium" and "large".
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fast", "small":
		return TierFast, nil
	case "balanced", "medium":
		return TierBalanced, nil
	case "smart", "large":
		return TierSmart, nil
	default:
		return TierFast, fmt.Errorf("unknown tier %q (want fast, balanced or smart)", s)
	}
}

// ============================================================================
// TIER SPEC
// ============================================================================

// TierSpec binds a tier to its endpoint and limits.
type TierSpec struct {
	Tier       Tier          `json:"tier"`
	URL        string        `json:"url"`
	Model      string        `json:"model"`
	Timeout    time.Duration `json:"timeout"`
	NumPredict int           `json:"num_predict"`
}

// ============================================================================
// ROUTING DECISION
// ============================================================================

// Decision is the result of routing a query.
type Decision struct {
	Tier       Tier                `json:"tier"`
	Complexity classify.Complexity `json:"complexity"`
	Reason     string              `json:"reason"`
}

// String returns a one-line summary for logs.
func (d Decision) String() string {
	return fmt.Sprintf("%s -> %s (%s)", d.Complexity, d.Tier, d.Reason)
}
