// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// StartupTimeout bounds how long StartServer waits for the server to answer.
const StartupTimeout = 10 * time.Second

// StartServer launches "ollama serve" bound to this client's host and port
// (via OLLAMA_HOST) unless the server already answers. It only works for
// loopback URLs; remote tiers must be started on their own host.
func (c *Client) StartServer(ctx context.Context) error {
	if err := c.CheckRunning(ctx); err == nil {
		return nil
	}

	u, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return &ClientError{Type: ErrTypeConnection, Message: "invalid base URL", Cause: err}
	}
	switch u.Hostname() {
	case "127.0.0.1", "localhost", "::1":
	default:
		return &ClientError{Type: ErrTypeConnection, Message: "cannot start a remote Ollama server: " + u.Host}
	}

	path, err := findOllamaExecutable()
	if err != nil {
		return &ClientError{Type: ErrTypeConnection, Message: "failed to find Ollama executable", Cause: err}
	}

	cmd := exec.Command(path, "serve")
	cmd.Env = append(os.Environ(), "OLLAMA_HOST="+u.Host)
	cmd.SysProcAttr = detachedProcAttr()
	cmd.Stdin, cmd.Stdout, cmd.Stderr = nil, nil, nil

	if err := cmd.Start(); err != nil {
		return &ClientError{
			Type:    ErrTypeConnection,
			Message: fmt.Sprintf("failed to start Ollama (path: %s)", path),
			Cause:   err,
		}
	}
	if cmd.Process != nil {
		_ = cmd.Process.Release()
	}

	return c.waitReady(ctx, StartupTimeout)
}

// waitReady polls /api/version until it answers or the deadline passes.
func (c *Client) waitReady(ctx context.Context, limit time.Duration) error {
	deadline := time.Now().Add(limit)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var lastErr error
	for time.Now().Before(deadline) {
		checkCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		lastErr = c.CheckRunning(checkCtx)
		cancel()
		if lastErr == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return &ClientError{Type: ErrTypeConnection, Message: "Ollama startup cancelled", Cause: ctx.Err()}
		case <-ticker.C:
		}
	}

	return &ClientError{
		Type:    ErrTypeConnection,
		Message: fmt.Sprintf("Ollama started but not responding after %s", limit),
		Cause:   lastErr,
	}
}

// candidatePaths lists install locations checked after PATH.
func candidatePaths(names ...string) []string {
	var dirs []string
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".local", "bin"), filepath.Join(home, "bin"))
	}
	dirs = append(dirs, platformDirs()...)

	var out []string
	for _, d := range dirs {
		for _, n := range names {
			out = append(out, filepath.Join(d, n))
		}
	}
	return out
}

func findOllamaExecutable() (string, error) {
	for _, n := range executableNames() {
		if p, err := exec.LookPath(n); err == nil {
			return p, nil
		}
	}
	for _, p := range candidatePaths(executableNames()...) {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("ollama not found in PATH or common installation directories")
}
