// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/synth/internal/engine"
)

// formatDurationShort formats a latency for display.
func formatDurationShort(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm%ds", m, s)
}

// formatBytes formats a byte count for display.
func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}

// readContextArg resolves a --context value: "-" reads stdin, "@path"
// reads a file, anything else is used verbatim.
func readContextArg(value string, stdin io.Reader) (string, error) {
	switch {
	case value == "-":
		data, err := io.ReadAll(io.LimitReader(stdin, 1<<20))
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	case strings.HasPrefix(value, "@"):
		data, err := os.ReadFile(strings.TrimPrefix(value, "@"))
		if err != nil {
			return "", fmt.Errorf("read context file: %w", err)
		}
		return string(data), nil
	default:
		return value, nil
	}
}

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// renderMarkdown renders content for the terminal. Plain text is returned
// when colors are off or rendering fails.
func renderMarkdown(content string) string {
	if !ColorsEnabled() {
		return content
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(min(GetTerminalWidth()-4, 100)),
	)
	if err != nil {
		return content
	}
	out, err := r.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n")
}

// =============================================================================
// ANSWER OUTPUT
// =============================================================================

func toAskData(ans engine.Answer) AskData {
	data := AskData{
		Answer:     ans.Text,
		Identity:   ans.Identity,
		Humanizer:  ans.HumanizerIdentity,
		Tier:       ans.Tier.String(),
		Complexity: ans.Complexity.String(),
		Local:      ans.Local,
		Providers:  []string{},
		Sources:    ans.Sources(),
		LatencyMs:  ans.Latency.Milliseconds(),
		RequestID:  ans.RequestID,
	}
	if ans.Search != nil {
		data.Providers = ans.Search.Providers
	}
	if data.Sources == nil {
		data.Sources = []string{}
	}
	return data
}

// printAnswer writes the answer and, unless quiet, a footer naming the
// model, tier, latency and sources.
func printAnswer(w io.Writer, ans engine.Answer, quiet bool) {
	if ans.Failed() {
		fmt.Fprintln(w, RenderConditional(WarningStyle, ans.Text))
	} else {
		fmt.Fprintln(w, renderMarkdown(ans.Text))
	}
	if quiet {
		return
	}

	where := "local"
	if !ans.Local {
		where = "cloud"
	}
	if ans.Failed() {
		where = "none"
	}
	meta := fmt.Sprintf("%s · %s tier · %s · %s", ans.Identity, ans.Tier, where, formatDurationShort(ans.Latency))
	if ans.Search != nil && len(ans.Search.Providers) > 0 {
		meta += " · searched " + strings.Join(ans.Search.Providers, ", ")
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, RenderConditional(DimStyle, meta))

	for i, src := range ans.Sources() {
		if i == 5 {
			break
		}
		fmt.Fprintln(w, RenderConditional(DimStyle, fmt.Sprintf("  [%d] %s", i+1, src)))
	}
}
