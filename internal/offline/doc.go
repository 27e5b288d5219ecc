// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package offline implements local-only operation.
//
// When the Guard is enabled synth talks to loopback model servers only:
// web search is skipped, cloud fallback candidates are dropped and every
// configured endpoint must resolve to localhost. Local Ollama tiers keep
// working.
//
//	g := offline.New(cfg.OfflineMode)
//	if err := g.CheckURL(cfg.Local.Fast.URL); err != nil {
//	    return err
//	}
package offline
