package pdfops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/mattiianni/Pdf50/internal/observability"
)

// Engine wraps the pdfcpu operations shared by the pipeline and the
// post processing endpoints. Validation runs relaxed: scanner output and
// generator produced PDFs are frequently out of spec but still usable.
type Engine struct {
	conf   *model.Configuration
	logger *observability.Logger
}

// NewEngine returns an Engine with relaxed validation.
func NewEngine(logger *observability.Logger) *Engine {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Engine{conf: conf, logger: logger}
}

// SkippedFile records an input dropped from a merge and why.
type SkippedFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// MergeReport describes which inputs made it into a merged document.
type MergeReport struct {
	Merged  []string
	Skipped []SkippedFile
}

// Merge concatenates the given PDFs into outPath, preserving order.
// Missing or empty inputs are dropped silently, corrupt ones are skipped
// and reported. Merging fails only when no input survives.
func (e *Engine) Merge(ctx context.Context, inputs []string, outPath string) (*MergeReport, error) {
	report := &MergeReport{}

	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		info, err := os.Stat(in)
		if err != nil || info.IsDir() || info.Size() == 0 {
			continue
		}
		if err := api.ValidateFile(in, e.conf); err != nil {
			e.logger.Warn().Str("file", filepath.Base(in)).Err(err).Msg("skipping corrupt PDF")
			report.Skipped = append(report.Skipped, SkippedFile{Path: in, Reason: err.Error()})
			continue
		}
		report.Merged = append(report.Merged, in)
	}

	if len(report.Merged) == 0 {
		return report, fmt.Errorf("no mergeable PDFs among %d inputs", len(inputs))
	}

	if err := api.MergeCreateFile(report.Merged, outPath, false, e.conf); err != nil {
		return report, fmt.Errorf("merge %d PDFs: %w", len(report.Merged), err)
	}
	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		return report, fmt.Errorf("merge produced no output at %s", outPath)
	}
	return report, nil
}

// PageCount returns the number of pages of the PDF at path.
func (e *Engine) PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("count pages of %s: %w", filepath.Base(path), err)
	}
	return n, nil
}

// SerializeRange writes pages [start, end) of src to dst and returns the
// size in bytes of the file produced. Pages are zero based.
func (e *Engine) SerializeRange(src string, start, end int, dst string) (int64, error) {
	if err := api.TrimFile(src, dst, []string{pageSelection(start, end)}, e.conf); err != nil {
		return 0, fmt.Errorf("extract pages %d-%d: %w", start+1, end, err)
	}
	info, err := os.Stat(dst)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", dst, err)
	}
	return info.Size(), nil
}

// pageSelection renders a zero based half open range as a 1-based pdfcpu
// page selection.
func pageSelection(start, end int) string {
	if end-start == 1 {
		return strconv.Itoa(start + 1)
	}
	return fmt.Sprintf("%d-%d", start+1, end)
}

// Optimize rewrites src to dst through pdfcpu's optimizer.
func (e *Engine) Optimize(src, dst string) error {
	if err := api.OptimizeFile(src, dst, e.conf); err != nil {
		return fmt.Errorf("optimize %s: %w", filepath.Base(src), err)
	}
	return nil
}

// ImportImages builds a PDF at outPath with one page per input image.
func (e *Engine) ImportImages(images []string, outPath string) error {
	imp := pdfcpu.DefaultImportConfig()
	if err := api.ImportImagesFile(images, outPath, imp, e.conf); err != nil {
		return fmt.Errorf("import %d images: %w", len(images), err)
	}
	return nil
}

// Validate reports whether the PDF at path parses under relaxed
// validation.
func (e *Engine) Validate(path string) error {
	return api.ValidateFile(path, e.conf)
}
