// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package classify decides how a query should be answered.
//
// Three independent questions are answered from the query text:
//
//   - NeedsSearch: does the answer depend on live web information?
//   - EstimateComplexity: how much model effort does it deserve?
//   - ClassifyMultiQuery: does it bundle several unrelated topics?
//
// NeedsSearch and EstimateComplexity are pure keyword heuristics.
// ClassifyMultiQuery is rule based too, but hands ambiguous shapes to a
// small local model through the Generator interface and falls back to
// Single when that call fails.
//
// # Usage
//
//	if classify.NeedsSearch(q) {
//	    resp := waterfall.Search(ctx, q)
//	}
//	tier := router.ForComplexity(classify.EstimateComplexity(q))
package classify
