package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRange struct {
	start, end int
	dst        string
}

type fakeSerializer struct {
	pageSize int64
	calls    []recordedRange
}

func (f *fakeSerializer) SerializeRange(src string, start, end int, dst string) (int64, error) {
	f.calls = append(f.calls, recordedRange{start: start, end: end, dst: dst})
	size := int64(end-start) * f.pageSize
	if err := os.WriteFile(dst, bytes.Repeat([]byte("p"), int(size)), 0o644); err != nil {
		return 0, err
	}
	return size, nil
}

func TestParseRanges(t *testing.T) {
	spans, err := parseRanges("1-10, 11-25,26", 30)
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{1, 10}, {11, 25}, {26, 26}}, spans)

	for _, bad := range []string{"", "abc", "5-2", "0-3", "1-99", "1-"} {
		_, err := parseRanges(bad, 10)
		assert.Error(t, err, "parseRanges(%q)", bad)
	}
}

func TestWriteRangeParts(t *testing.T) {
	dir := t.TempDir()
	ser := &fakeSerializer{pageSize: 100}

	parts, err := writeRangeParts(ser, "/src/doc.pdf", dir, "doc", "Parte", true, [][2]int{{1, 5}, {6, 6}})
	require.NoError(t, err)
	require.Len(t, parts, 2)

	assert.Equal(t, "doc_Parte 1 di 2.pdf", parts[0].Name)
	assert.Equal(t, "doc_Parte 2 di 2.pdf", parts[1].Name)
	assert.Equal(t, 5, parts[0].Pages)
	assert.Equal(t, "1-5", parts[0].PageRange)
	assert.Equal(t, "6", parts[1].PageRange)
	assert.Equal(t, int64(500), parts[0].Size)
	assert.FileExists(t, filepath.Join(dir, "doc_Parte 1 di 2.pdf"))

	// Spans arrive at the serializer zero based, half open.
	require.Len(t, ser.calls, 2)
	assert.Equal(t, 0, ser.calls[0].start)
	assert.Equal(t, 5, ser.calls[0].end)
	assert.Equal(t, 5, ser.calls[1].start)
	assert.Equal(t, 6, ser.calls[1].end)
}

func TestWriteRangeParts_OmitTotal(t *testing.T) {
	dir := t.TempDir()
	ser := &fakeSerializer{pageSize: 10}

	parts, err := writeRangeParts(ser, "/src/doc.pdf", dir, "doc", "Sezione", false, [][2]int{{2, 4}})
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "doc_Sezione 1.pdf", parts[0].Name)
}
