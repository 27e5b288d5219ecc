// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
//
// synth runs one Ollama server per model tier (ports 11434, 11435 and
// 11436 by default), so a Client is bound to a single base URL.
//
// # Key Types
//
//   - Client: HTTP client for one Ollama server
//   - GenerateRequest / GenerateResponse: non-streaming completions
//   - ClientError: typed error (NotRunning, Timeout, ModelNotFound, ...)
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: "http://127.0.0.1:11435"})
//	resp, err := client.Generate(ctx, &ollama.GenerateRequest{
//	    Model:   "qwen2.5:7b",
//	    Prompt:  "Hello",
//	    Options: &ollama.Options{NumPredict: 256},
//	})
//	if ollama.IsTimeout(err) {
//	    // try the next tier
//	}
//
// Embeddings for the knowledge base come from the same client:
//
//	vec, err := client.Embed(ctx, "nomic-embed-text", text)
package ollama
