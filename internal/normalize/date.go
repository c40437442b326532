package normalize

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// TwoDigitYearPivot splits 2-digit years: values at or above it are 19xx,
// values below it are 20xx.
const TwoDigitYearPivot = 50

// Spreadsheet serial 25569 is 1970-01-01.
const (
	unixEpochSerial = 25569
	maxSerial       = 2958465 // 9999-12-31
	secondsPerDay   = 86400
)

// DateError reports a cell that could not be read as a date.
type DateError struct {
	Value  string
	Reason string
}

func (e *DateError) Error() string {
	return fmt.Sprintf("invalid date %q: %s", e.Value, e.Reason)
}

// ParseDate reads a day-first date (DD/MM/YYYY or DD/MM/YY), a spreadsheet date
// serial, or an ISO date. The result is in UTC.
func ParseDate(raw string) (time.Time, error) {
	s := cleanCell(raw)
	if s == "" {
		return time.Time{}, &DateError{Value: raw, Reason: "empty"}
	}

	if strings.Contains(s, "/") {
		// Exports sometimes carry a time part after the date.
		if i := strings.IndexByte(s, ' '); i > 0 {
			s = s[:i]
		}
		return parseDayMonthYear(raw, s)
	}

	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		return fromSerial(raw, serial)
	}

	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, &DateError{Value: raw, Reason: "unrecognized format"}
}

// FormatDate renders t as an ISO-8601 timestamp.
func FormatDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseDayMonthYear(raw, s string) (time.Time, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return time.Time{}, &DateError{Value: raw, Reason: "expected DD/MM/YYYY"}
	}

	nums := make([]int, 3)
	for i, p := range parts {
		p = strings.TrimSpace(p)
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return time.Time{}, &DateError{Value: raw, Reason: fmt.Sprintf("non-numeric component %q", p)}
		}
		nums[i] = n
	}
	day, month, year := nums[0], nums[1], nums[2]

	if len(strings.TrimSpace(parts[2])) <= 2 {
		if year >= TwoDigitYearPivot {
			year += 1900
		} else {
			year += 2000
		}
	}

	if month < 1 || month > 12 {
		return time.Time{}, &DateError{Value: raw, Reason: "month out of range"}
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if day < 1 || t.Day() != day {
		return time.Time{}, &DateError{Value: raw, Reason: "day out of range"}
	}
	return t, nil
}

func fromSerial(raw string, serial float64) (time.Time, error) {
	if serial <= 0 || serial > maxSerial || math.IsNaN(serial) {
		return time.Time{}, &DateError{Value: raw, Reason: "date serial out of range"}
	}
	secs := math.Round((serial - unixEpochSerial) * secondsPerDay)
	return time.Unix(int64(secs), 0).UTC(), nil
}
