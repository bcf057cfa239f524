package tgui

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// TruncRunes keeps the first n runes of s and marks a cut with "…".
// Whitespace left at the cut is dropped.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	head := string([]rune(s)[:n])
	return strings.TrimRightFunc(head, unicode.IsSpace) + "…"
}
