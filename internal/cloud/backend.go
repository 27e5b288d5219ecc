// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"errors"
	"strings"
)

// Backend generates a single completion from a hosted model.
type Backend interface {
	Generate(ctx context.Context, model, prompt string, maxTokens int) (string, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, model, prompt string, maxTokens int) (string, error)

// Generate calls f.
func (f BackendFunc) Generate(ctx context.Context, model, prompt string, maxTokens int) (string, error) {
	return f(ctx, model, prompt, maxTokens)
}

// Dispatcher routes a model id to the provider that serves it.
type Dispatcher struct {
	gemini     Backend
	openRouter Backend
}

// NewDispatcher creates a dispatcher. Either backend may be nil, in which
// case models for that provider fail with ErrNotConfigured.
func NewDispatcher(gemini, openRouter Backend) *Dispatcher {
	return &Dispatcher{gemini: gemini, openRouter: openRouter}
}

// IsOpenRouterModel reports whether the id names an OpenRouter model.
func IsOpenRouterModel(model string) bool {
	return strings.Contains(model, "/")
}

// Generate implements Backend.
func (d *Dispatcher) Generate(ctx context.Context, model, prompt string, maxTokens int) (string, error) {
	b := d.gemini
	if IsOpenRouterModel(model) {
		b = d.openRouter
	}
	if b == nil {
		return "", ErrNotConfigured
	}
	return b.Generate(ctx, model, prompt, maxTokens)
}

// Configured reports whether any provider is available.
func (d *Dispatcher) Configured() bool {
	return d != nil && (d.gemini != nil || d.openRouter != nil)
}

var quotaMarkers = []string{"quota", "429", "rate limit", "resource_exhausted"}

// IsQuota reports whether err means the provider refused the call for
// budget reasons. Such models should be parked rather than retried.
func IsQuota(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range quotaMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
