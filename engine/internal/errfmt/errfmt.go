// Package errfmt provides bounded, UTF-8 safe formatting of agent output
// for log fields.
package errfmt

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// PreviewLen caps log previews of malformed protocol lines.
const PreviewLen = 200

// MaxLen caps error and diagnostic content to prevent unbounded log fields.
const MaxLen = 4096

// truncateUTF8 caps s at limit bytes, backtracking to a valid UTF-8 boundary.
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	end := limit
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	return s[:end]
}

// Truncate caps a string at MaxLen bytes with UTF-8-safe truncation.
func Truncate(s string) string {
	return truncateUTF8(s, MaxLen)
}

// Preview returns a single-line excerpt of s suitable for a log field.
// Control characters are replaced with spaces and the result is capped at
// PreviewLen bytes; a trailing ellipsis marks truncation.
func Preview(s string) string {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	if len(clean) <= PreviewLen {
		return clean
	}
	return truncateUTF8(clean, PreviewLen) + "…"
}
