// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"errors"
	"net"
	"net/url"
	"strings"
	"sync/atomic"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNonLocalhost is returned when a non-loopback URL is used while offline.
	ErrNonLocalhost = errors.New("offline mode: only localhost connections are allowed")

	// ErrCloudBlocked is returned when cloud generation is attempted while offline.
	ErrCloudBlocked = errors.New("offline mode: cloud models are disabled")

	// ErrSearchBlocked is returned when web search is attempted while offline.
	ErrSearchBlocked = errors.New("offline mode: web search is disabled")

	// ErrInvalidURLScheme is returned for anything other than http or https.
	ErrInvalidURLScheme = errors.New("only http and https schemes are allowed")

	// ErrInvalidURL is returned when a URL cannot be parsed.
	ErrInvalidURL = errors.New("invalid URL")
)

// =============================================================================
// GUARD
// =============================================================================

// Guard decides which network operations are allowed. The zero value is
// an online guard. Safe for concurrent use.
type Guard struct {
	enabled atomic.Bool
}

// New returns a guard in the given mode.
func New(enabled bool) *Guard {
	g := &Guard{}
	g.enabled.Store(enabled)
	return g
}

// Set switches offline mode on or off.
func (g *Guard) Set(enabled bool) {
	g.enabled.Store(enabled)
}

// Enabled reports whether offline mode is on. A nil guard is online.
func (g *Guard) Enabled() bool {
	return g != nil && g.enabled.Load()
}

// AllowCloud reports whether cloud fallback may be used.
func (g *Guard) AllowCloud() bool {
	return !g.Enabled()
}

// AllowSearch reports whether web search may be used.
func (g *Guard) AllowSearch() bool {
	return !g.Enabled()
}

// CheckCloud returns ErrCloudBlocked when offline.
func (g *Guard) CheckCloud() error {
	if g.Enabled() {
		return ErrCloudBlocked
	}
	return nil
}

// CheckSearch returns ErrSearchBlocked when offline.
func (g *Guard) CheckSearch() error {
	if g.Enabled() {
		return ErrSearchBlocked
	}
	return nil
}

// CheckURL validates rawURL. The scheme must always be http or https;
// while offline the host must also be loopback.
func (g *Guard) CheckURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ErrInvalidURL
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrInvalidURLScheme
	}

	if g.Enabled() && !IsLocalhost(parsed.Hostname()) {
		return ErrNonLocalhost
	}
	return nil
}

// Badge returns "[OFFLINE]" when offline, empty otherwise.
func (g *Guard) Badge() string {
	if g.Enabled() {
		return "[OFFLINE]"
	}
	return ""
}

// =============================================================================
// URL VALIDATION
// =============================================================================

// IsLocalhost checks if a host string refers to localhost.
// Accepts "localhost", any 127.0.0.0/8 address and any IPv6 loopback form,
// with or without a port or brackets.
func IsLocalhost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	host = strings.Trim(host, "[]")
	host = strings.ToLower(host)

	if host == "localhost" {
		return true
	}

	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}

	return false
}
