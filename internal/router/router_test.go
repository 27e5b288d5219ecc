// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/synth/internal/classify"
)

func TestForComplexity(t *testing.T) {
	tests := []struct {
		name       string
		complexity classify.Complexity
		expected   Tier
	}{
		{"simple", classify.Simple, TierFast},
		{"medium", classify.Medium, TierBalanced},
		{"complex", classify.Complex, TierSmart},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ForComplexity(tt.complexity))
		})
	}
}

func TestForOutputLength(t *testing.T) {
	r := Default()
	tests := []struct {
		name     string
		length   int
		expected Tier
	}{
		{"empty", 0, TierFast},
		{"short", 299, TierFast},
		{"boundary medium", 300, TierBalanced},
		{"medium", 1199, TierBalanced},
		{"boundary long", 1200, TierSmart},
		{"long", 5000, TierSmart},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, r.ForOutputLength(tt.length))
		})
	}
}

func TestNew_BadThresholdsFallBack(t *testing.T) {
	r := New(0, -1)
	assert.Equal(t, TierFast, r.ForOutputLength(DefaultShortMax-1))
	assert.Equal(t, TierSmart, r.ForOutputLength(DefaultMediumMax))
}

func TestRoute_ComplexityAndOverride(t *testing.T) {
	r := Default()

	d := r.Route("capital of France")
	assert.Equal(t, TierFast, d.Tier)
	assert.Equal(t, classify.Simple, d.Complexity)

	d = r.Route("compare FIPS 203 vs FIPS 204 in detail")
	assert.Equal(t, TierSmart, d.Tier)
	assert.Equal(t, classify.Complex, d.Complexity)

	d = r.Override("capital of France", TierSmart)
	assert.Equal(t, TierSmart, d.Tier)
	assert.Equal(t, classify.Simple, d.Complexity)
	assert.Equal(t, "tier requested by caller", d.Reason)
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		in      string
		want    Tier
		wantErr bool
	}{
		{"fast", TierFast, false},
		{" Balanced ", TierBalanced, false},
		{"large", TierSmart, false},
		{"huge", TierFast, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTier(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecision_JSON(t *testing.T) {
	d := Decision{Tier: TierBalanced, Complexity: classify.Medium, Reason: "x"}
	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tier":"balanced","complexity":"MEDIUM","reason":"x"}`, string(data))
}
