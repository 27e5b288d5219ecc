// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package search runs the tiered web search used to ground answers.
//
// A Waterfall walks an ordered list of Stages. Each Stage wraps a Provider
// with its own timeout and a Gate deciding whether it runs given what the
// earlier stages returned. The default order is:
//
//	Tier 1  Google HTML scrape        always
//	Tier 2  DuckDuckGo HTML + API     only if nothing was found yet
//	Tier 3  Tavily                    if nothing was found, or deep research
//
// A direct answer from an earlier stage that also carried organic results
// stops the walk. Google News is queried separately when the query asks
// about recent events, and its results are always merged.
//
// Providers never return Go errors. Failures and parse problems become
// an Outcome of kind OutcomeFailed and count as zero results.
package search
