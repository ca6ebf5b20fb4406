package tts

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxChunkLength is the longest piece of text the translate endpoint accepts
// per call.
const maxChunkLength = 100

func isSentenceBreak(r rune) bool {
	switch r {
	case '.', '!', '?', ';', ':', ',', '…', '।', '\n':
		return true
	}
	return false
}

func speakable(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// splitText breaks text into pieces of at most max characters, preferring
// punctuation, then whitespace, then a hard cut. Pieces with nothing to
// pronounce are dropped.
func splitText(text string, max int) []string {
	var (
		chunks []string
		buf    strings.Builder
	)

	flush := func() {
		s := strings.TrimSpace(buf.String())
		buf.Reset()
		if speakable(s) {
			chunks = append(chunks, s)
		}
	}

	add := func(piece string) {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			return
		}
		if buf.Len() > 0 && utf8.RuneCountInString(buf.String())+1+utf8.RuneCountInString(piece) > max {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(piece)
	}

	for _, sentence := range splitAfterFunc(text, isSentenceBreak) {
		if utf8.RuneCountInString(strings.TrimSpace(sentence)) <= max {
			add(sentence)
			continue
		}
		for _, word := range strings.Fields(sentence) {
			for utf8.RuneCountInString(word) > max {
				runes := []rune(word)
				add(string(runes[:max]))
				word = string(runes[max:])
			}
			add(word)
		}
	}
	flush()

	return chunks
}

// splitAfterFunc splits s after every rune satisfying f, keeping the rune.
func splitAfterFunc(s string, f func(rune) bool) []string {
	var parts []string
	start := 0
	for i, r := range s {
		if f(r) {
			end := i + utf8.RuneLen(r)
			parts = append(parts, s[start:end])
			start = end
		}
	}
	if start < len(s) {
		parts = append(parts, s[start:])
	}
	return parts
}
