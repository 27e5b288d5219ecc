// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package generate turns a prompt into text, local models first.
//
// Client.Ask tries the requested local tier once. If that fails it walks
// the ordered cloud candidates, skipping models that are cooling down
// after a quota error or have used their per-minute budget, and retrying
// each remaining model at most twice with exponential backoff. Ask never
// returns an error: when every option is exhausted the Outcome carries
// ErrorMessage and the identity "Error".
//
// Only one network call is in flight per Ask.
package generate
