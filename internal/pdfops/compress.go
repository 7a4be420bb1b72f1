package pdfops

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/mattiianni/Pdf50/internal/observability"
)

// CompressQuality selects a Ghostscript downsampling preset.
type CompressQuality string

const (
	QualityScreen  CompressQuality = "screen"  // 72 dpi
	QualityEbook   CompressQuality = "ebook"   // 150 dpi
	QualityPrinter CompressQuality = "printer" // 300 dpi
)

// ParseQuality maps s onto a known preset, defaulting to ebook.
func ParseQuality(s string) CompressQuality {
	switch q := CompressQuality(strings.ToLower(strings.TrimSpace(s))); q {
	case QualityScreen, QualityEbook, QualityPrinter:
		return q
	default:
		return QualityEbook
	}
}

// CompressResult reports the outcome of a compression run.
type CompressResult struct {
	OriginalBytes   int64
	CompressedBytes int64
	Reduction       float64 // percent
}

// Compressor shrinks PDFs through Ghostscript, falling back to the
// pdfcpu optimizer when no gs binary is installed.
type Compressor struct {
	binary  string // explicit gs path, empty means autodetect
	timeout time.Duration
	engine  *Engine
	logger  *observability.Logger
}

// NewCompressor returns a Compressor. binary may be empty, in which case
// the usual Ghostscript names are probed on PATH.
func NewCompressor(binary string, timeout time.Duration, engine *Engine, logger *observability.Logger) *Compressor {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Compressor{binary: binary, timeout: timeout, engine: engine, logger: logger}
}

var ghostscriptCandidates = []string{"gs", "gswin64c", "gswin32c"}

func (c *Compressor) findGhostscript() string {
	if c.binary != "" {
		return c.binary
	}
	for _, cand := range ghostscriptCandidates {
		if path, err := exec.LookPath(cand); err == nil {
			return path
		}
	}
	return ""
}

// Available reports whether a Ghostscript binary can be resolved.
func (c *Compressor) Available() bool {
	return c.findGhostscript() != ""
}

// Binary returns the resolved Ghostscript path, empty when unavailable.
func (c *Compressor) Binary() string {
	return c.findGhostscript()
}

func ghostscriptArgs(quality CompressQuality, inPath, outPath string) []string {
	return []string{
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.4",
		fmt.Sprintf("-dPDFSETTINGS=/%s", quality),
		"-dNOPAUSE",
		"-dQUIET",
		"-dBATCH",
		fmt.Sprintf("-sOutputFile=%s", outPath),
		inPath,
	}
}

// Compress writes a compressed copy of inPath to outPath. The run is
// bounded by the configured tool timeout, not by a caller context.
func (c *Compressor) Compress(quality CompressQuality, inPath, outPath string) (*CompressResult, error) {
	info, err := os.Stat(inPath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", inPath, err)
	}
	origBytes := info.Size()

	gs := c.findGhostscript()
	if gs == "" {
		c.logger.Warn().Msg("ghostscript not found, using built-in optimizer")
		if err := c.engine.Optimize(inPath, outPath); err != nil {
			return nil, err
		}
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, gs, ghostscriptArgs(quality, inPath, outPath)...)
		var stderr strings.Builder
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return nil, fmt.Errorf("ghostscript timed out after %s", c.timeout)
			}
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = err.Error()
			}
			return nil, fmt.Errorf("ghostscript: %s", msg)
		}
	}

	outInfo, err := os.Stat(outPath)
	if err != nil || outInfo.Size() == 0 {
		return nil, fmt.Errorf("compression produced no output at %s", outPath)
	}

	res := &CompressResult{OriginalBytes: origBytes, CompressedBytes: outInfo.Size()}
	if origBytes > 0 {
		res.Reduction = (1 - float64(outInfo.Size())/float64(origBytes)) * 100
	}
	return res, nil
}
