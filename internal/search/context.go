// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package search

import (
	"fmt"
	"strings"

	"github.com/jeranaias/synth/internal/util"
)

const (
	contextHeader = "=== WEB SEARCH RESULTS ==="
	snippetRunes  = 300
)

// RenderContext formats results for a prompt. The output never exceeds
// maxChars runes; entries that would overflow are left out. With nothing
// to render it returns NoResultsContext.
func RenderContext(results []Result, direct string, maxChars int) string {
	if len(results) == 0 && direct == "" {
		return NoResultsContext
	}
	if maxChars <= 0 {
		maxChars = 4000
	}

	var entries []string
	budget := maxChars - util.RuneLen(contextHeader) - util.RuneLen("\nFound 0000 relevant sources:\n")
	if direct != "" {
		entry := "\nDirect answer: " + util.TruncateRunes(direct, snippetRunes) + "\n"
		if n := util.RuneLen(entry); n <= budget {
			entries = append(entries, entry)
			budget -= n
		}
	}

	count := 0
	for _, r := range results {
		var b strings.Builder
		fmt.Fprintf(&b, "\n[%d] %s (%s)\n", count+1, r.Title, r.Provider)
		if r.URL != "" {
			fmt.Fprintf(&b, "URL: %s\n", r.URL)
		}
		if r.Snippet != "" {
			b.WriteString(util.TruncateRunes(r.Snippet, snippetRunes))
			b.WriteByte('\n')
		}
		entry := b.String()
		n := util.RuneLen(entry)
		if n > budget {
			continue
		}
		entries = append(entries, entry)
		budget -= n
		count++
	}

	if len(entries) == 0 {
		return NoResultsContext
	}

	var out strings.Builder
	out.WriteString(contextHeader)
	fmt.Fprintf(&out, "\nFound %d relevant sources:\n", count)
	for _, e := range entries {
		out.WriteString(e)
	}
	return out.String()
}
