// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the query engine over a local JSON HTTP API for
// the desktop UI.
//
// # Endpoints
//
//   - POST /api/ask       - resolve a query {query, context, tier}
//   - POST /api/search    - run the web search waterfall only
//   - POST /api/knowledge - add text to the knowledge base
//   - GET  /api/health    - per-tier local model health and offline flag
//   - GET  /api/stats     - usage counters
//
// Identical concurrent /api/ask bodies share one engine call. Every request
// goes through request id, recovery, security header, access log and body
// limit middleware. The server binds loopback addresses only unless
// server.allow_remote is set.
//
// # Usage
//
//	worker := engine.NewWorker(eng, 0, logger)
//	srv := server.New(cfg.Server, worker, server.WithLogger(logger))
//	go srv.Start()
//	defer srv.Shutdown(ctx)
package server
