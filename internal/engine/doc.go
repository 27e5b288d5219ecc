// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine resolves a user query into an answer.
//
// A request is classified, optionally enriched with web search and local
// knowledge, routed to a model tier, generated (local first, cloud as
// fallback) and finally rephrased by the humanizer. Resolve never returns
// an error: when every model is unreachable the answer carries
// generate.ErrorMessage and the identity "Error".
//
// Worker serialises requests on a single goroutine so interactive callers
// never block on generation.
package engine
