// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package router maps queries and texts onto the three local model tiers.
//
// Two independent mappings exist:
//
//   - ForComplexity: query complexity picks the model that answers
//   - ForOutputLength: text length picks the model that rewrites
//
// # Key Types
//
//   - Tier: fast, balanced or smart
//   - TierSpec: a tier's endpoint, model, timeout and token budget
//   - Decision: tier, complexity and reason for logs and API output
//
// # Usage
//
//	r := router.Default()
//	d := r.Route("compare FIPS 203 vs FIPS 204")
//	// d.Tier == router.TierSmart
package router
