// Package normalize converts raw spreadsheet cells into the typed values stored
// for a competency.
//
// The input is whatever a human typed into the export: dates in day-first
// order with 2- or 4-digit years, spreadsheet date serials, yes/no markers in
// several spellings, and free text. Every function in this package is pure.
package normalize

import (
	"strings"

	"github.com/JonMunkholm/competency-import/internal/competency"
)

// DefaultMaxTextLength caps stored text values, in runes.
const DefaultMaxTextLength = 500

// Cells holding one of these values mean "no data" for every field type.
// Placeholders match in any case after trimming. "MAI" is a site marker and
// matches exactly, since a lower-case "mai" is an affirmative boolean.
var sentinels = map[string]struct{}{
	"":    {},
	"N/A": {},
	"N":   {},
	"TBC": {},
}

const siteMarker = "MAI"

var (
	affirmative = map[string]struct{}{"yes": {}, "true": {}, "completed": {}, "mai": {}}
	negative    = map[string]struct{}{"no": {}, "n": {}, "n/a": {}, "false": {}, "tbc": {}}
)

// BooleanYes is the canonical affirmative value.
const BooleanYes = "Yes"

// Normalizer holds the tunables of the field normalizer. The zero value is usable.
type Normalizer struct {
	MaxTextLength int
}

// Normalize converts raw using the default Normalizer.
func Normalize(raw string, ft competency.FieldType) (string, bool) {
	return Normalizer{}.Normalize(raw, ft)
}

// IsSentinel reports whether raw is a "no data" placeholder.
func IsSentinel(raw string) bool {
	return isSentinel(cleanCell(raw))
}

func isSentinel(v string) bool {
	if v == siteMarker {
		return true
	}
	_, ok := sentinels[strings.ToUpper(v)]
	return ok
}

// Normalize converts raw into the stored representation for ft.
// The boolean result is false when the cell carries no value or cannot be read
// as the declared type.
func (n Normalizer) Normalize(raw string, ft competency.FieldType) (string, bool) {
	v := cleanCell(raw)
	if isSentinel(v) {
		return "", false
	}

	switch ft {
	case competency.FieldDate, competency.FieldExpiryDate:
		t, err := ParseDate(v)
		if err != nil {
			return "", false
		}
		return FormatDate(t), true
	case competency.FieldBoolean:
		return n.boolean(v)
	default:
		s := SanitizeText(v, n.maxTextLength())
		return s, s != ""
	}
}

func (n Normalizer) boolean(v string) (string, bool) {
	key := strings.ToLower(v)
	if _, ok := affirmative[key]; ok {
		return BooleanYes, true
	}
	if _, ok := negative[key]; ok {
		return "", false
	}
	// Unexpected markers are kept as text so nothing the author wrote is lost.
	s := SanitizeText(v, n.maxTextLength())
	return s, s != ""
}

func (n Normalizer) maxTextLength() int {
	if n.MaxTextLength > 0 {
		return n.MaxTextLength
	}
	return DefaultMaxTextLength
}

// cleanCell trims whitespace and unwraps the ="value" form some spreadsheet
// tools emit to keep leading zeros.
func cleanCell(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") && len(s) >= 3 {
		s = strings.TrimSpace(s[2 : len(s)-1])
	}
	return s
}
