package pdfops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mattiianni/Pdf50/internal/observability"
)

// RangeSerializer writes a contiguous page range of a source PDF to a
// standalone file and reports its size in bytes. Pages are zero based,
// ranges half open.
type RangeSerializer interface {
	SerializeRange(src string, start, end int, dst string) (int64, error)
}

// Part describes one file produced by a split.
type Part struct {
	Name      string
	Path      string
	Pages     int
	PageRange string // 1-based inclusive, "12-40" or "7" for a single page
	Size      int64
}

// SplitterConfig bounds a Splitter. TargetBytes is the size every part
// must stay under, MaxProbeDepth caps the binary search per part.
// OmitTotal drops the " di N" suffix from part names.
type SplitterConfig struct {
	TargetBytes   int64
	MaxProbeDepth int
	PartLabel     string
	OmitTotal     bool
}

// Splitter cuts a PDF into sequential parts of at most TargetBytes.
// Part boundaries are discovered empirically: candidate ranges are
// serialized to probe files and measured.
type Splitter struct {
	ser    RangeSerializer
	cfg    SplitterConfig
	logger *observability.Logger
}

// NewSplitter returns a Splitter over the given serializer.
func NewSplitter(ser RangeSerializer, cfg SplitterConfig, logger *observability.Logger) *Splitter {
	if cfg.MaxProbeDepth <= 0 {
		cfg.MaxProbeDepth = 20
	}
	if cfg.PartLabel == "" {
		cfg.PartLabel = "Parte"
	}
	return &Splitter{ser: ser, cfg: cfg, logger: logger}
}

// zero based, half open
type pageRange struct {
	start, end int
}

// Split divides the PDF at src into parts under outDir, each at most
// TargetBytes except where a single page already exceeds the target.
// All ranges are decided first, then each part is written under its
// final "{base}_{label} {i} di {total}.pdf" name. onPart, when non nil,
// runs after each part lands on disk.
func (s *Splitter) Split(ctx context.Context, src string, totalPages int, outDir, baseName string, onPart func(i, total int, p Part)) ([]Part, error) {
	if totalPages <= 0 {
		return nil, fmt.Errorf("%s has no pages", filepath.Base(src))
	}
	info, err := os.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", src, err)
	}
	totalBytes := info.Size()

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", outDir, err)
	}
	probeDir, err := os.MkdirTemp("", "pdf50-split-*")
	if err != nil {
		return nil, fmt.Errorf("create probe dir: %w", err)
	}
	defer os.RemoveAll(probeDir)

	// Whole document average, computed once. Every chunk starts its
	// search from the same first guess.
	avg := float64(totalBytes) / float64(totalPages)

	var ranges []pageRange
	for start := 0; start < totalPages; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		remaining := totalPages - start

		estimate := int(float64(s.cfg.TargetBytes) / avg)
		if estimate < 1 {
			estimate = 1
		}
		if estimate > remaining {
			estimate = remaining
		}

		size, err := s.probe(src, start, start+estimate, probeDir)
		if err != nil {
			return nil, err
		}

		var n int
		switch {
		case size <= s.cfg.TargetBytes && estimate == remaining:
			// Everything left fits in one part.
			n = remaining
		case size <= s.cfg.TargetBytes:
			n, err = s.maxFittingPages(src, start, remaining, probeDir)
		default:
			n, err = s.maxFittingPages(src, start, estimate, probeDir)
		}
		if err != nil {
			return nil, err
		}

		ranges = append(ranges, pageRange{start: start, end: start + n})
		start += n
	}

	total := len(ranges)
	parts := make([]Part, 0, total)
	for i, r := range ranges {
		if err := ctx.Err(); err != nil {
			return parts, err
		}

		name := fmt.Sprintf("%s_%s %d di %d.pdf", baseName, s.cfg.PartLabel, i+1, total)
		if s.cfg.OmitTotal {
			name = fmt.Sprintf("%s_%s %d.pdf", baseName, s.cfg.PartLabel, i+1)
		}
		path := filepath.Join(outDir, name)
		size, err := s.ser.SerializeRange(src, r.start, r.end, path)
		if err != nil {
			return parts, fmt.Errorf("write part %d of %d: %w", i+1, total, err)
		}

		part := Part{
			Name:      name,
			Path:      path,
			Pages:     r.end - r.start,
			PageRange: rangeLabel(r),
			Size:      size,
		}
		parts = append(parts, part)

		s.logger.Debug().
			Str("part", name).
			Str("pages", part.PageRange).
			Int64("bytes", size).
			Msg("part written")

		if onPart != nil {
			onPart(i+1, total, part)
		}
	}
	return parts, nil
}

// maxFittingPages finds the largest n in [1, hi] for which pages
// [start, start+n) serialize to at most TargetBytes. A single page over
// the target is still accepted.
func (s *Splitter) maxFittingPages(src string, start, hi int, probeDir string) (int, error) {
	lo, best := 1, 1
	for depth := 0; depth < s.cfg.MaxProbeDepth; depth++ {
		if lo > hi {
			break
		}
		mid := (lo + hi) / 2
		size, err := s.probe(src, start, start+mid, probeDir)
		if err != nil {
			return 0, err
		}
		if size <= s.cfg.TargetBytes {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best, nil
}

// probe serializes [start, end) to a scratch file and measures it.
func (s *Splitter) probe(src string, start, end int, probeDir string) (int64, error) {
	dst := filepath.Join(probeDir, "probe.pdf")
	size, err := s.ser.SerializeRange(src, start, end, dst)
	if err != nil {
		return 0, fmt.Errorf("probe pages %d-%d: %w", start+1, end, err)
	}
	return size, nil
}

func rangeLabel(r pageRange) string {
	if r.end-r.start > 1 {
		return fmt.Sprintf("%d-%d", r.start+1, r.end)
	}
	return strconv.Itoa(r.start + 1)
}
