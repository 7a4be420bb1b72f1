package pdfops

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattiianni/Pdf50/internal/observability"
)

// fakeSerializer reports range sizes from a synthetic per page weight
// table instead of writing real PDFs.
type fakeSerializer struct {
	mu        sync.Mutex
	pageSizes []int64
	outDir    string
	probes    int
	writes    []string
	ops       []string // "probe" or "write", in call order
}

func (f *fakeSerializer) SerializeRange(src string, start, end int, dst string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if strings.HasPrefix(dst, f.outDir) {
		f.writes = append(f.writes, filepath.Base(dst))
		f.ops = append(f.ops, "write")
	} else {
		f.probes++
		f.ops = append(f.ops, "probe")
	}

	var size int64
	for i := start; i < end; i++ {
		size += f.pageSizes[i]
	}
	return size, nil
}

// splitFixture creates a source file whose size matches the synthetic
// page table, so the splitter sees a consistent document.
func splitFixture(t *testing.T, pageSizes []int64) (src, outDir string, ser *fakeSerializer) {
	t.Helper()

	dir := t.TempDir()
	outDir = filepath.Join(dir, "parts")

	var total int64
	for _, s := range pageSizes {
		total += s
	}
	src = filepath.Join(dir, "merged.pdf")
	require.NoError(t, os.WriteFile(src, make([]byte, total), 0o644))

	return src, outDir, &fakeSerializer{pageSizes: pageSizes, outDir: outDir}
}

func uniformPages(n int, size int64) []int64 {
	pages := make([]int64, n)
	for i := range pages {
		pages[i] = size
	}
	return pages
}

func TestSplitter_Split_PartitionsAllPagesInOrder(t *testing.T) {
	src, outDir, ser := splitFixture(t, uniformPages(100, 10))
	s := NewSplitter(ser, SplitterConfig{TargetBytes: 250}, observability.DefaultLogger())

	parts, err := s.Split(context.Background(), src, 100, outDir, "doc", nil)
	require.NoError(t, err)
	require.Len(t, parts, 4)

	assert.Equal(t, "doc_Parte 1 di 4.pdf", parts[0].Name)
	assert.Equal(t, "doc_Parte 4 di 4.pdf", parts[3].Name)

	ranges := []string{parts[0].PageRange, parts[1].PageRange, parts[2].PageRange, parts[3].PageRange}
	assert.Equal(t, []string{"1-25", "26-50", "51-75", "76-100"}, ranges)

	total := 0
	for _, p := range parts {
		assert.LessOrEqual(t, p.Size, int64(250))
		total += p.Pages
	}
	assert.Equal(t, 100, total)
}

func TestSplitter_Split_SinglePageOverTargetStandsAlone(t *testing.T) {
	src, outDir, ser := splitFixture(t, []int64{600, 10, 10})
	s := NewSplitter(ser, SplitterConfig{TargetBytes: 250}, observability.DefaultLogger())

	parts, err := s.Split(context.Background(), src, 3, outDir, "doc", nil)
	require.NoError(t, err)
	require.Len(t, parts, 2)

	assert.Equal(t, 1, parts[0].Pages)
	assert.Equal(t, "1", parts[0].PageRange)
	assert.Equal(t, int64(600), parts[0].Size)

	assert.Equal(t, 2, parts[1].Pages)
	assert.Equal(t, "2-3", parts[1].PageRange)
}

func TestSplitter_Split_SingleFittingPartSkipsSearch(t *testing.T) {
	src, outDir, ser := splitFixture(t, uniformPages(10, 10))
	s := NewSplitter(ser, SplitterConfig{TargetBytes: 250}, observability.DefaultLogger())

	parts, err := s.Split(context.Background(), src, 10, outDir, "doc", nil)
	require.NoError(t, err)
	require.Len(t, parts, 1)

	assert.Equal(t, "doc_Parte 1 di 1.pdf", parts[0].Name)
	assert.Equal(t, "1-10", parts[0].PageRange)
	assert.Equal(t, 1, ser.probes, "one estimate probe, no binary search")
}

func TestSplitter_Split_ProbeDepthBoundsTheSearch(t *testing.T) {
	src, outDir, ser := splitFixture(t, uniformPages(100, 10))
	s := NewSplitter(ser, SplitterConfig{TargetBytes: 250, MaxProbeDepth: 1}, observability.DefaultLogger())

	parts, err := s.Split(context.Background(), src, 100, outDir, "doc", nil)
	require.NoError(t, err)

	// A shallow search still partitions correctly, it just produces more
	// parts than the optimal four.
	assert.Greater(t, len(parts), 4)
	total := 0
	for _, p := range parts {
		assert.LessOrEqual(t, p.Size, int64(250))
		total += p.Pages
	}
	assert.Equal(t, 100, total)
	// Per chunk: one estimate probe plus at most MaxProbeDepth search probes.
	assert.LessOrEqual(t, ser.probes, 2*len(parts))
}

func TestSplitter_Split_AllRangesDecidedBeforeFirstWrite(t *testing.T) {
	src, outDir, ser := splitFixture(t, uniformPages(100, 10))
	s := NewSplitter(ser, SplitterConfig{TargetBytes: 250}, observability.DefaultLogger())

	_, err := s.Split(context.Background(), src, 100, outDir, "doc", nil)
	require.NoError(t, err)

	firstWrite := -1
	for i, op := range ser.ops {
		if op == "write" {
			firstWrite = i
			break
		}
	}
	require.NotEqual(t, -1, firstWrite)
	for _, op := range ser.ops[firstWrite:] {
		assert.Equal(t, "write", op, "no probing after writing starts")
	}
}

func TestSplitter_Split_CustomPartLabel(t *testing.T) {
	src, outDir, ser := splitFixture(t, uniformPages(100, 10))
	s := NewSplitter(ser, SplitterConfig{TargetBytes: 250, PartLabel: "Part"}, observability.DefaultLogger())

	parts, err := s.Split(context.Background(), src, 100, outDir, "report", nil)
	require.NoError(t, err)
	assert.Equal(t, "report_Part 1 di 4.pdf", parts[0].Name)
}

func TestSplitter_Split_OmitTotalDropsSuffix(t *testing.T) {
	src, outDir, ser := splitFixture(t, uniformPages(100, 10))
	s := NewSplitter(ser, SplitterConfig{TargetBytes: 250, OmitTotal: true}, observability.DefaultLogger())

	parts, err := s.Split(context.Background(), src, 100, outDir, "report", nil)
	require.NoError(t, err)
	assert.Equal(t, "report_Parte 1.pdf", parts[0].Name)
	assert.Equal(t, "report_Parte 4.pdf", parts[3].Name)
}

func TestSplitter_Split_ReportsPartsThroughCallback(t *testing.T) {
	src, outDir, ser := splitFixture(t, uniformPages(100, 10))
	s := NewSplitter(ser, SplitterConfig{TargetBytes: 250}, observability.DefaultLogger())

	type call struct {
		i, total int
		name     string
	}
	var calls []call
	_, err := s.Split(context.Background(), src, 100, outDir, "doc", func(i, total int, p Part) {
		calls = append(calls, call{i, total, p.Name})
	})
	require.NoError(t, err)

	require.Len(t, calls, 4)
	assert.Equal(t, call{1, 4, "doc_Parte 1 di 4.pdf"}, calls[0])
	assert.Equal(t, call{4, 4, "doc_Parte 4 di 4.pdf"}, calls[3])
}

func TestSplitter_Split_RejectsEmptyDocument(t *testing.T) {
	src, outDir, ser := splitFixture(t, uniformPages(1, 10))
	s := NewSplitter(ser, SplitterConfig{TargetBytes: 250}, observability.DefaultLogger())

	_, err := s.Split(context.Background(), src, 0, outDir, "doc", nil)
	assert.ErrorContains(t, err, "no pages")
}

func TestSplitter_Split_HonorsCancellation(t *testing.T) {
	src, outDir, ser := splitFixture(t, uniformPages(100, 10))
	s := NewSplitter(ser, SplitterConfig{TargetBytes: 250}, observability.DefaultLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Split(ctx, src, 100, outDir, "doc", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, ser.writes)
}

func TestPageSelection(t *testing.T) {
	assert.Equal(t, "1", pageSelection(0, 1))
	assert.Equal(t, "7", pageSelection(6, 7))
	assert.Equal(t, "1-25", pageSelection(0, 25))
	assert.Equal(t, "26-50", pageSelection(25, 50))
}
