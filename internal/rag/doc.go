// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package rag provides the local knowledge base: a chunker, an embedding
// adapter, a SQLite backed vector store and an ingest watcher.
//
// The store is a best-effort cache. Records are keyed by a hash of their
// source and text, so re-adding the same content is a no-op.
//
// Usage:
//
//	store, err := rag.OpenSQLite(cfg.RAG.DBPath)
//	idx, err := rag.New(ctx, store, rag.NewOllamaEmbedder(client, "nomic-embed-text"), "knowledge", 768)
//	added, err := idx.Add(ctx, text, "notes.md", nil)
//	hits, err := idx.Search(ctx, "what is ML-KEM?", 5, 0.5)
package rag
