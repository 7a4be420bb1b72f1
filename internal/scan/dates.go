package scan

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Italian month names commonly embedded in scanned document names. Short
// forms are tried before full forms, in this order.
var italianMonths = []struct {
	name  string
	month time.Month
}{
	{"gen", time.January}, {"feb", time.February}, {"mar", time.March},
	{"apr", time.April}, {"mag", time.May}, {"giu", time.June},
	{"lug", time.July}, {"ago", time.August}, {"set", time.September},
	{"ott", time.October}, {"nov", time.November}, {"dic", time.December},
	{"gennaio", time.January}, {"febbraio", time.February},
	{"marzo", time.March}, {"aprile", time.April}, {"maggio", time.May},
	{"giugno", time.June}, {"luglio", time.July}, {"agosto", time.August},
	{"settembre", time.September}, {"ottobre", time.October},
	{"novembre", time.November}, {"dicembre", time.December},
}

var monthPatterns = buildMonthPatterns()

func buildMonthPatterns() []struct {
	re    *regexp.Regexp
	month time.Month
} {
	out := make([]struct {
		re    *regexp.Regexp
		month time.Month
	}, 0, len(italianMonths))
	for _, m := range italianMonths {
		re := regexp.MustCompile(fmt.Sprintf(`(?i)\b%s[-_\s]?(\d{4})\b`, m.name))
		out = append(out, struct {
			re    *regexp.Regexp
			month time.Month
		}{re: re, month: m.month})
	}
	return out
}

// Numeric date patterns, tried in order. Only the first match of each
// pattern is probed; an invalid candidate moves on to the next pattern, not
// to the next match.
var datePatterns = []struct {
	re    *regexp.Regexp
	build func(m []string) (time.Time, bool)
}{
	// YYYYMMDD
	{
		re:    regexp.MustCompile(`(\d{4})(\d{2})(\d{2})`),
		build: func(m []string) (time.Time, bool) { return makeDate(m[1], m[2], m[3]) },
	},
	// YYYY-MM-DD or YYYY_MM_DD
	{
		re:    regexp.MustCompile(`(\d{4})[-_](\d{2})[-_](\d{2})`),
		build: func(m []string) (time.Time, bool) { return makeDate(m[1], m[2], m[3]) },
	},
	// DD-MM-YYYY, DD/MM/YYYY or DD_MM_YYYY
	{
		re:    regexp.MustCompile(`(\d{2})[-/_](\d{2})[-/_](\d{4})`),
		build: func(m []string) (time.Time, bool) { return makeDate(m[3], m[2], m[1]) },
	},
	// DDMMYYYY
	{
		re:    regexp.MustCompile(`(\d{2})(\d{2})(\d{4})`),
		build: func(m []string) (time.Time, bool) { return makeDate(m[3], m[2], m[1]) },
	},
}

// makeDate builds a date from year/month/day strings, accepting only real
// calendar dates with years in [1900, 2100].
func makeDate(yearStr, monthStr, dayStr string) (time.Time, bool) {
	y, err := strconv.Atoi(yearStr)
	if err != nil {
		return time.Time{}, false
	}
	m, err := strconv.Atoi(monthStr)
	if err != nil {
		return time.Time{}, false
	}
	d, err := strconv.Atoi(dayStr)
	if err != nil {
		return time.Time{}, false
	}

	if y < 1900 || y > 2100 || m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}

	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.Local)
	// time.Date normalizes overflow (e.g. Feb 30), so reject anything that
	// did not round-trip
	if t.Year() != y || t.Month() != time.Month(m) || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

// ExtractDateFromName extracts a date embedded in a file name. Italian
// month names adjacent to a 4-digit year win over numeric patterns.
func ExtractDateFromName(filename string) (time.Time, bool) {
	name := strings.TrimSuffix(filename, extOf(filename))

	for _, p := range monthPatterns {
		if m := p.re.FindStringSubmatch(name); m != nil {
			if t, ok := makeDate(m[1], strconv.Itoa(int(p.month)), "1"); ok {
				return t, true
			}
		}
	}

	for _, p := range datePatterns {
		if m := p.re.FindStringSubmatch(name); m != nil {
			if t, ok := p.build(m); ok {
				return t, true
			}
		}
	}

	return time.Time{}, false
}
