// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package rag

import (
	"strings"

	"github.com/jeranaias/synth/internal/util"
)

// DefaultChunkChars is the chunk size used when none is configured.
const DefaultChunkChars = 1000

// Chunk splits text on blank lines and packs paragraphs into chunks of at
// most maxRunes runes. A paragraph longer than maxRunes is hard split on
// rune boundaries.
func Chunk(text string, maxRunes int) []string {
	if maxRunes <= 0 {
		maxRunes = DefaultChunkChars
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var chunks []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
		currentLen = 0
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		n := util.RuneLen(para)

		if n > maxRunes {
			flush()
			for start := 0; start < n; start += maxRunes {
				if piece := strings.TrimSpace(util.SafeSubstring(para, start, start+maxRunes)); piece != "" {
					chunks = append(chunks, piece)
				}
			}
			continue
		}

		sep := 0
		if currentLen > 0 {
			sep = 2
		}
		if currentLen+sep+n > maxRunes {
			flush()
			sep = 0
		}
		if sep > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
		currentLen += sep + n
	}
	flush()
	return chunks
}
