// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud provides the hosted model backends used when every local
// tier has failed.
//
// Two providers are supported behind the Backend interface:
//
//   - GeminiBackend talks to the Gemini API through google.golang.org/genai.
//   - OpenRouterClient talks to OpenRouter's chat completions endpoint.
//
// Dispatcher picks between them by model id: ids containing "/" (for
// example "meta-llama/llama-3-8b-instruct") go to OpenRouter, everything
// else goes to Gemini.
//
// # Usage
//
//	gem, _ := cloud.NewGeminiBackend(ctx, apiKey)
//	d := cloud.NewDispatcher(gem, cloud.NewOpenRouterClient(orKey))
//	text, err := d.Generate(ctx, "gemini-2.0-flash", prompt, 512)
//	if cloud.IsQuota(err) {
//	    // park the model
//	}
//
// API keys are never logged. Retries and per-model budgets are owned by
// the caller; backends make exactly one request per call.
package cloud
