// Package util provides shared string helpers used across the bridge.
package util

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// TruncateString truncates a string to maxLen runes, adding "..." if truncated.
// This does not account for ANSI escape codes or wide characters; for
// styled terminal output use TruncateANSI instead.
func TruncateString(s string, maxLen int) string {
	if maxLen <= 3 {
		return "..."
	}
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen-3]) + "..."
}

// TruncateANSI truncates a string to maxWidth visual columns, adding "..." if
// truncated. Escape sequences are preserved.
func TruncateANSI(s string, maxWidth int) string {
	if maxWidth <= 3 {
		return "..."
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	return ansi.Truncate(s, maxWidth, "...")
}

// Capitalize upper-cases the first rune of s.
func Capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// SplitMessage splits text into chunks of at most limit runes so each can be
// sent as one chat message. Splits prefer the last newline in a chunk, then
// the last space, and fall back to a hard cut. A non-positive limit returns
// text unsplit.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var chunks []string
	rest := []rune(text)
	for len(rest) > limit {
		window := string(rest[:limit])
		cut := strings.LastIndex(window, "\n")
		if cut <= 0 {
			cut = strings.LastIndex(window, " ")
		}
		if cut <= 0 {
			chunks = append(chunks, window)
			rest = rest[limit:]
			continue
		}
		n := utf8.RuneCountInString(window[:cut])
		chunks = append(chunks, strings.TrimRight(string(rest[:n]), " \n"))
		rest = []rune(strings.TrimLeft(string(rest[n:]), " \n"))
	}
	if len(rest) > 0 {
		chunks = append(chunks, string(rest))
	}
	return chunks
}
