package core

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultUsernameMaxLength caps derived usernames.
const DefaultUsernameMaxLength = 30

// stripMarks removes combining marks after canonical decomposition, so "José"
// becomes "Jose".
func stripMarks(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// asciiAlnum lower-cases s and keeps only ASCII letters and digits.
func asciiAlnum(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(stripMarks(s)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DeriveUsername builds a username from a display name: lower-cased,
// non-alphanumerics stripped, capped at maxLen. Names with no usable
// characters get a stable "user" + hash form.
func DeriveUsername(name string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultUsernameMaxLength
	}
	u := asciiAlnum(name)
	if u == "" {
		u = "user" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(strings.TrimSpace(name))).String()[:8]
	}
	if len(u) > maxLen {
		u = u[:maxLen]
	}
	return u
}

// DistinctUsername appends a short suffix derived from email to username, so
// people who share a display name get different usernames that are stable
// across runs.
func DistinctUsername(username, email string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultUsernameMaxLength
	}
	suffix := uuid.NewSHA1(uuid.NameSpaceURL, []byte(strings.ToLower(strings.TrimSpace(email)))).String()[:6]
	if keep := maxLen - len(suffix); len(username) > keep {
		username = username[:max(keep, 0)]
	}
	return username + suffix
}

// SyntheticEmail builds first.last@domain from a display name. Single-word
// names give name@domain.
func SyntheticEmail(name, domain string) string {
	var parts []string
	for _, w := range strings.Fields(name) {
		if p := asciiAlnum(w); p != "" {
			parts = append(parts, p)
		}
	}

	var local string
	switch len(parts) {
	case 0:
		local = DeriveUsername(name, 0)
	case 1:
		local = parts[0]
	default:
		local = parts[0] + "." + parts[len(parts)-1]
	}
	return local + "@" + strings.TrimPrefix(strings.TrimSpace(domain), "@")
}
