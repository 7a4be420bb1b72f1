package scan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

func TestExtractDateFromName_NumericPatterns(t *testing.T) {
	cases := []struct {
		name string
		want time.Time
	}{
		{"20240115_scan.pdf", date(2024, time.January, 15)},
		{"rapporto_2024-03-15.pdf", date(2024, time.March, 15)},
		{"verbale 2021_07_09.docx", date(2021, time.July, 9)},
		{"fattura 15-03-2024.pdf", date(2024, time.March, 15)},
		{"ricevuta 01/02/2019.jpg", date(2019, time.February, 1)},
		{"04052023.pdf", date(2023, time.May, 4)},
	}

	for _, tc := range cases {
		got, ok := ExtractDateFromName(tc.name)
		require.True(t, ok, "expected a date in %q", tc.name)
		assert.Equal(t, tc.want, got, "wrong date for %q", tc.name)
	}
}

func TestExtractDateFromName_ItalianMonths(t *testing.T) {
	cases := []struct {
		name string
		want time.Time
	}{
		{"gennaio2024.pdf", date(2024, time.January, 1)},
		{"report gennaio 2024.pdf", date(2024, time.January, 1)},
		{"estratto conto mag 2021.pdf", date(2021, time.May, 1)},
		{"DICEMBRE-2019 spese.xlsx", date(2019, time.December, 1)},
		{"set_2020 verbali.pdf", date(2020, time.September, 1)},
	}

	for _, tc := range cases {
		got, ok := ExtractDateFromName(tc.name)
		require.True(t, ok, "expected a date in %q", tc.name)
		assert.Equal(t, tc.want, got, "wrong date for %q", tc.name)
	}
}

func TestExtractDateFromName_MonthNameWinsOverNumericPattern(t *testing.T) {
	got, ok := ExtractDateFromName("dicembre 2020 bonifico 01-02-1999.pdf")
	require.True(t, ok)
	assert.Equal(t, date(2020, time.December, 1), got)
}

func TestExtractDateFromName_EightDigitRunPrefersISOOrder(t *testing.T) {
	// An eight digit run reads as YYYYMMDD first; only when that is not a
	// valid calendar date does the DDMMYYYY reading apply.
	got, ok := ExtractDateFromName("20240506.pdf")
	require.True(t, ok)
	assert.Equal(t, date(2024, time.May, 6), got)

	got, ok = ExtractDateFromName("31122005.pdf")
	require.True(t, ok)
	assert.Equal(t, date(2005, time.December, 31), got)
}

func TestExtractDateFromName_RejectsInvalidCandidates(t *testing.T) {
	for _, name := range []string{
		"99887766.pdf",          // no reading is a valid date
		"30022024.pdf",          // Feb 30 does not exist
		"protocollo 018233.pdf", // too short for any pattern
		"senza data.pdf",
	} {
		_, ok := ExtractDateFromName(name)
		assert.False(t, ok, "expected no date in %q", name)
	}
}

func TestExtractDateFromName_YearOutOfRange(t *testing.T) {
	_, ok := ExtractDateFromName("documento 15-03-2823.pdf")
	assert.False(t, ok)

	_, ok = ExtractDateFromName("archivio 1899-01-01.pdf")
	assert.False(t, ok)
}
