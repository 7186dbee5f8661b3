// Package outbound splits replies into chunks that fit the transport's
// message size limit.
package outbound

import (
	"unicode"
	"unicode/utf8"

	"github.com/tanpawarit/chative-relay/internal/relay/model"
)

// DefaultMaxChunkLength is Telegram's message limit in characters.
const DefaultMaxChunkLength = 4096

// Split cuts text into ordered chunks of at most maxChunkLength runes.
// Cuts fall after the last whitespace in each window, preferring a newline
// in the window's second half; a window without whitespace is hard-split.
// Concatenating the chunk texts yields text exactly. Empty text yields one
// empty final chunk.
func Split(text string, maxChunkLength int) []model.OutboundChunk {
	if maxChunkLength <= 0 {
		maxChunkLength = DefaultMaxChunkLength
	}

	var parts []string
	rest := text
	remaining := utf8.RuneCountInString(rest)
	for remaining > maxChunkLength {
		cut, runes := cutPoint(rest, maxChunkLength)
		parts = append(parts, rest[:cut])
		rest = rest[cut:]
		remaining -= runes
	}
	parts = append(parts, rest)

	chunks := make([]model.OutboundChunk, len(parts))
	for i, p := range parts {
		chunks[i] = model.OutboundChunk{Index: i, Text: p, IsFinal: i == len(parts)-1}
	}
	return chunks
}

// cutPoint returns the byte offset to cut s at and the number of runes
// before it. s must hold more than limit runes.
func cutPoint(s string, limit int) (offset, runes int) {
	var end, n int
	var space, spaceRunes int
	var newline, lineRunes int
	for i, r := range s {
		if n == limit {
			break
		}
		_, w := utf8.DecodeRuneInString(s[i:])
		end = i + w
		n++
		if unicode.IsSpace(r) {
			space, spaceRunes = end, n
			if r == '\n' {
				newline, lineRunes = end, n
			}
		}
	}

	switch {
	case newline > 0 && lineRunes > limit/2:
		return newline, lineRunes
	case space > 0:
		return space, spaceRunes
	default:
		return end, n
	}
}
