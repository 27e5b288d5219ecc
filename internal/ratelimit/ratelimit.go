// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ratelimit tracks per-model request budgets for cloud fallback.
//
// Each model has a requests-per-minute budget counted over a sliding
// window, plus a cooldown that is armed when the provider reports a quota
// error. The Registry is an explicit value owned by the generation client;
// there is no package-level state.
package ratelimit

import (
	"sort"
	"sync"
	"time"
)

// Clock returns the current time. Tests inject a fake.
type Clock func() time.Time

// Defaults for the request window and quota cooldown.
const (
	DefaultWindow   = 60 * time.Second
	DefaultCooldown = 60 * time.Second
	DefaultRPM      = 5
)

// Decision is the outcome of asking whether a model may be called now.
type Decision int

const (
	Allowed Decision = iota
	// CoolingDown means a recent quota error parked the model.
	CoolingDown
	// OverBudget means the sliding window is full.
	OverBudget
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case CoolingDown:
		return "cooling_down"
	case OverBudget:
		return "over_budget"
	default:
		return "unknown"
	}
}

// modelState is the per-model bookkeeping.
type modelState struct {
	rpm           int
	requests      []time.Time // ascending
	cooldownUntil time.Time
	quotaHits     int
}

// Registry holds per-model state. Safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	models   map[string]*modelState
	window   time.Duration
	cooldown time.Duration
	fallback int
	now      Clock
}

// Option configures a Registry.
type Option func(*Registry)

// WithWindow sets the sliding window length.
func WithWindow(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.window = d
		}
	}
}

// WithCooldown sets how long a model is parked after a quota error.
func WithCooldown(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.cooldown = d
		}
	}
}

// WithClock injects a time source.
func WithClock(c Clock) Option {
	return func(r *Registry) {
		if c != nil {
			r.now = c
		}
	}
}

// WithDefaultRPM sets the budget for models never passed to SetBudget.
func WithDefaultRPM(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.fallback = n
		}
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		models:   make(map[string]*modelState),
		window:   DefaultWindow,
		cooldown: DefaultCooldown,
		fallback: DefaultRPM,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// state returns the entry for model, creating it. Caller holds r.mu.
func (r *Registry) state(model string) *modelState {
	s, ok := r.models[model]
	if !ok {
		s = &modelState{rpm: r.fallback}
		r.models[model] = s
	}
	return s
}

// prune drops requests older than the window. Caller holds r.mu.
func (r *Registry) prune(s *modelState, now time.Time) {
	cutoff := now.Add(-r.window)
	i := sort.Search(len(s.requests), func(i int) bool { return s.requests[i].After(cutoff) })
	if i > 0 {
		s.requests = append(s.requests[:0], s.requests[i:]...)
	}
}

// SetBudget sets a model's requests-per-minute budget.
func (r *Registry) SetBudget(model string, rpm int) {
	if rpm <= 0 {
		rpm = r.fallback
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state(model).rpm = rpm
}

// Check reports whether model may be called now without recording anything.
func (r *Registry) Check(model string) Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.check(model, r.now())
}

func (r *Registry) check(model string, now time.Time) Decision {
	s := r.state(model)
	if now.Before(s.cooldownUntil) {
		return CoolingDown
	}
	r.prune(s, now)
	if len(s.requests) >= s.rpm {
		return OverBudget
	}
	return Allowed
}

// Acquire checks the model and, when allowed, records a request in the
// window atomically.
func (r *Registry) Acquire(model string) Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	d := r.check(model, now)
	if d == Allowed {
		s := r.models[model]
		s.requests = append(s.requests, now)
	}
	return d
}

// MarkQuotaExceeded parks the model for the cooldown period.
func (r *Registry) MarkQuotaExceeded(model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.state(model)
	s.cooldownUntil = r.now().Add(r.cooldown)
	s.quotaHits++
}

// CooldownRemaining returns how long model stays parked, or zero.
func (r *Registry) CooldownRemaining(model string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.state(model)
	if d := s.cooldownUntil.Sub(r.now()); d > 0 {
		return d
	}
	return 0
}

// Status is a snapshot of one model's budget.
type Status struct {
	Model             string        `json:"model"`
	RPM               int           `json:"rpm"`
	InWindow          int           `json:"in_window"`
	CooldownRemaining time.Duration `json:"cooldown_remaining"`
	QuotaHits         int           `json:"quota_hits"`
}

// Snapshot returns the state of every known model, sorted by name.
func (r *Registry) Snapshot() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()

	out := make([]Status, 0, len(r.models))
	for name, s := range r.models {
		r.prune(s, now)
		st := Status{Model: name, RPM: s.rpm, InWindow: len(s.requests), QuotaHits: s.quotaHits}
		if d := s.cooldownUntil.Sub(now); d > 0 {
			st.CooldownRemaining = d
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}
