package utils

import (
	"strings"
	"unicode"
)

// truncated marks input cut short by SanitizeForLog.
const truncated = "...[truncated]"

// SanitizeForLog makes untrusted input safe to embed in a log line. Line
// breaks, tabs and backslashes are escaped, other unprintable runes become
// '?', and the result is cut after max runes. A max of zero or less keeps
// everything.
func SanitizeForLog(s string, max int) string {
	var b strings.Builder
	b.Grow(len(s))
	n := 0
	for _, r := range s {
		if max > 0 && n == max {
			b.WriteString(truncated)
			break
		}
		n++
		switch r {
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\\':
			b.WriteString(`\\`)
		default:
			if unicode.IsPrint(r) {
				b.WriteRune(r)
			} else {
				b.WriteByte('?')
			}
		}
	}
	return b.String()
}
