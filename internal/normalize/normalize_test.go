package normalize

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/competency-import/internal/competency"
)

var allTypes = []competency.FieldType{
	competency.FieldText,
	competency.FieldBoolean,
	competency.FieldDate,
	competency.FieldExpiryDate,
}

func TestNormalize_SentinelsAreNullForEveryType(t *testing.T) {
	for _, raw := range []string{"", "N/A", "N", "TBC", "MAI", "  N/A  ", "\tTBC", "n/a", "tbc", "Tbc", "n", " N/a "} {
		for _, ft := range allTypes {
			got, ok := Normalize(raw, ft)
			require.False(t, ok, "raw=%q type=%s", raw, ft)
			require.Empty(t, got)
		}
	}
}

func TestNormalize_Date(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{name: "four digit year", input: "15/03/2024", want: "2024-03-15T00:00:00Z", ok: true},
		{name: "single digit day and month", input: "1/2/2023", want: "2023-02-01T00:00:00Z", ok: true},
		{name: "two digit year below pivot", input: "01/06/49", want: "2049-06-01T00:00:00Z", ok: true},
		{name: "two digit year at pivot", input: "01/06/50", want: "1950-06-01T00:00:00Z", ok: true},
		{name: "trailing time part", input: "31/12/2025 00:00:00", want: "2025-12-31T00:00:00Z", ok: true},
		{name: "spreadsheet serial epoch", input: "25569", want: "1970-01-01T00:00:00Z", ok: true},
		{name: "spreadsheet serial", input: "45366", want: "2024-03-15T00:00:00Z", ok: true},
		{name: "iso date", input: "2024-03-15", want: "2024-03-15T00:00:00Z", ok: true},
		{name: "own output", input: "2024-03-15T00:00:00Z", want: "2024-03-15T00:00:00Z", ok: true},
		{name: "non numeric day", input: "xx/03/2024", ok: false},
		{name: "month out of range", input: "01/13/2024", ok: false},
		{name: "day rolls over", input: "31/02/2024", ok: false},
		{name: "too few parts", input: "03/2024", ok: false},
		{name: "free text", input: "next week", ok: false},
		{name: "negative serial", input: "-4", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, ft := range []competency.FieldType{competency.FieldDate, competency.FieldExpiryDate} {
				got, ok := Normalize(tt.input, ft)
				require.Equal(t, tt.ok, ok)
				require.Equal(t, tt.want, got)
			}
		})
	}
}

func TestParseDate_RoundTripsDayMonthYear(t *testing.T) {
	start := time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC)
	for d := start; d.Year() < 2050; d = d.AddDate(0, 0, 37) {
		raw := d.Format("02/01/2006")
		got, err := ParseDate(raw)
		require.NoError(t, err, raw)
		require.Equal(t, d, got, raw)

		short := d.Format("02/01/06")
		got, err = ParseDate(short)
		require.NoError(t, err, short)
		require.Equal(t, d, got, short)
	}
}

func TestParseDate_ErrorType(t *testing.T) {
	_, err := ParseDate("32/01/2024")
	require.Error(t, err)

	var de *DateError
	require.ErrorAs(t, err, &de)
	require.Equal(t, "32/01/2024", de.Value)
	require.Contains(t, err.Error(), "invalid date")
}

func TestNormalize_Boolean(t *testing.T) {
	tests := []struct {
		input string
		want  string
		ok    bool
	}{
		{input: "yes", want: "Yes", ok: true},
		{input: "YES", want: "Yes", ok: true},
		{input: "True", want: "Yes", ok: true},
		{input: "completed", want: "Yes", ok: true},
		{input: "mai", want: "Yes", ok: true},
		{input: "no", ok: false},
		{input: "No", ok: false},
		{input: "n", ok: false},
		{input: "n/a", ok: false},
		{input: "false", ok: false},
		{input: "tbc", ok: false},
		{input: "Booked for May", want: "Booked for May", ok: true},
		{input: "<b>Done</b>", want: "Done", ok: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := Normalize(tt.input, competency.FieldBoolean)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_BooleanIsIdempotent(t *testing.T) {
	inputs := []string{
		"yes", "Yes", "no", "TBC", "", "maybe", " partially ", "<i>x</i>",
		"javajavascript:script:alert(1)", "COMPLETED", "n/a", "MAI", "mai",
	}
	for _, in := range inputs {
		once, ok := Normalize(in, competency.FieldBoolean)
		if !ok {
			again, ok2 := Normalize(once, competency.FieldBoolean)
			require.False(t, ok2, in)
			require.Empty(t, again)
			continue
		}
		twice, ok2 := Normalize(once, competency.FieldBoolean)
		require.True(t, ok2, in)
		require.Equal(t, once, twice, in)
	}
}

func TestNormalize_Text(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{name: "trimmed", input: "  Welder  ", want: "Welder", ok: true},
		{name: "formula wrapper", input: `="00123"`, want: "00123", ok: true},
		{name: "script element removed", input: `<script>alert(1)</script>Rigger`, want: "Rigger", ok: true},
		{name: "tags removed", input: "a<b>c</b>", want: "ac", ok: true},
		{name: "attribute payload removed", input: "<img src=x onerror=alert(1)>Banksman", want: "Banksman", ok: true},
		{name: "stray less than kept", input: "Grade <3", want: "Grade &lt;3", ok: true},
		{name: "stray greater than kept", input: "Depth > 30m", want: "Depth &gt; 30m", ok: true},
		{name: "ampersand kept", input: "H&S Level 2", want: "H&amp;S Level 2", ok: true},
		{name: "only markup", input: "<br/>", ok: false},
		{name: "control characters", input: "Crane\x00 Op\x07", want: "Crane Op", ok: true},
		{name: "lowercase placeholder", input: "n/a", ok: false},
		{name: "placeholder inside text", input: "n/a until May", want: "n/a until May", ok: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Normalize(tt.input, competency.FieldText)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_TextLengthCap(t *testing.T) {
	n := Normalizer{MaxTextLength: 10}
	got, ok := n.Normalize(strings.Repeat("é", 25), competency.FieldText)
	require.True(t, ok)
	require.Equal(t, strings.Repeat("é", 10), got)

	got, ok = Normalize(strings.Repeat("a", DefaultMaxTextLength+50), competency.FieldText)
	require.True(t, ok)
	require.Len(t, got, DefaultMaxTextLength)
}

func TestSanitizeText_Idempotent(t *testing.T) {
	inputs := []string{
		"<script>alert(1)</script>Rigger",
		"<img src=x onerror=alert(1)>Banksman",
		"<img src=x onerror=alert(1)",
		"java\x00script:alert(1)",
		"  plain  ",
		"a < b > c",
		"Smith & Sons",
		"&lt;b&gt;escaped&lt;/b&gt;",
		strings.Repeat("x ", 400),
		strings.Repeat("<", 150),
	}
	for _, in := range inputs {
		once := SanitizeText(in, 100)
		require.Equal(t, once, SanitizeText(once, 100), in)
		require.NotContains(t, once, "<", in)
	}
}

func TestSanitizeText_CapsPlainText(t *testing.T) {
	got := SanitizeText(strings.Repeat("<", 150), 100)
	require.Equal(t, strings.Repeat("&lt;", 100), got)
}

func TestIsSentinel(t *testing.T) {
	require.True(t, IsSentinel(" TBC "))
	require.True(t, IsSentinel(""))
	require.True(t, IsSentinel("tbc"))
	require.True(t, IsSentinel("N/a"))
	require.False(t, IsSentinel("mai"))
	require.False(t, IsSentinel("Yes"))
}
