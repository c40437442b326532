package normalize

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// markup strips every element and escapes the remaining text.
var markup = bluemonday.StrictPolicy()

// SanitizeText trims s, drops control characters, removes markup, and caps the
// result at maxRunes of unescaped text. Stray angle brackets and ampersands are
// kept as HTML entities. Applying it twice gives the same result as applying it
// once.
func SanitizeText(s string, maxRunes int) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)

	s = strings.TrimSpace(markup.Sanitize(s))

	if maxRunes > 0 {
		// Cut the plain text so an entity is never split.
		plain := html.UnescapeString(s)
		if utf8.RuneCountInString(plain) > maxRunes {
			s = html.EscapeString(strings.TrimSpace(string([]rune(plain)[:maxRunes])))
		}
	}
	return s
}
