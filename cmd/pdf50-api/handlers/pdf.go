package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mattiianni/Pdf50/internal/cache"
	"github.com/mattiianni/Pdf50/internal/observability"
	"github.com/mattiianni/Pdf50/internal/pdfops"
)

// DocumentEngine covers the PDF operations the one-shot routes need.
type DocumentEngine interface {
	PageCount(path string) (int, error)
	SerializeRange(src string, start, end int, dst string) (int64, error)
}

// Compressor shrinks a PDF through an external tool.
type Compressor interface {
	Available() bool
	Compress(quality pdfops.CompressQuality, inPath, outPath string) (*pdfops.CompressResult, error)
}

// TextExtractor pulls the text out of a PDF.
type TextExtractor interface {
	Extract(ctx context.Context, path string) (*pdfops.ExtractResult, error)
}

// PDFHandler exposes the one-shot PDF utilities that do not go through the
// job pipeline. Page counts and extracted text are cached keyed on the
// file's path, size and mtime, so an unchanged file never pays twice.
type PDFHandler struct {
	logger       *observability.Logger
	engine       DocumentEngine
	compressor   Compressor
	extract      TextExtractor // OCR fallback when available
	extractPlain TextExtractor // text layer only
	cache        cache.Client
	cacheTTL     time.Duration
}

// NewPDFHandler creates a new PDF utilities handler.
func NewPDFHandler(
	logger *observability.Logger,
	engine DocumentEngine,
	compressor Compressor,
	extract, extractPlain TextExtractor,
	cacheClient cache.Client,
	cacheTTL time.Duration,
) *PDFHandler {
	return &PDFHandler{
		logger:       logger,
		engine:       engine,
		compressor:   compressor,
		extract:      extract,
		extractPlain: extractPlain,
		cache:        cacheClient,
		cacheTTL:     cacheTTL,
	}
}

// PageCountRequestDTO selects a PDF by path.
type PageCountRequestDTO struct {
	Path string `json:"path"`
}

// PageCountDTO reports a page count.
type PageCountDTO struct {
	Pages int `json:"pages"`
}

// PageCount returns the number of pages of the PDF at path.
func (h *PDFHandler) PageCount(w http.ResponseWriter, r *http.Request) {
	var req PageCountRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := pdfops.ValidatePDFPath(req.Path); err != nil {
		writeError(w, http.StatusBadRequest, "invalid pdf path", err.Error())
		return
	}

	key, keyErr := cache.FileKeyFor("pages", req.Path)
	if keyErr == nil {
		if data, err := h.cache.Get(r.Context(), key); err == nil {
			if pages, err := strconv.Atoi(string(data)); err == nil {
				writeJSON(w, http.StatusOK, PageCountDTO{Pages: pages})
				return
			}
		}
	}

	pages, err := h.engine.PageCount(req.Path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count pages", err.Error())
		return
	}

	if keyErr == nil {
		if err := h.cache.Set(r.Context(), key, []byte(strconv.Itoa(pages)), h.cacheTTL); err != nil {
			h.logger.Debug().Err(err).Msg("Cache write failed")
		}
	}
	writeJSON(w, http.StatusOK, PageCountDTO{Pages: pages})
}

// ExtractTextRequestDTO selects a PDF and whether pages without a text
// layer should go through OCR.
type ExtractTextRequestDTO struct {
	Path        string `json:"path"`
	OCRFallback bool   `json:"ocr_fallback,omitempty"`
}

// ExtractTextDTO reports extracted text. Method is "text" when every page
// had a text layer, "ocr" when every page was recognized, "mixed"
// otherwise.
type ExtractTextDTO struct {
	Text   string `json:"text"`
	Method string `json:"method"`
	Pages  int    `json:"pages"`
	Chars  int    `json:"chars"`
}

// ExtractText returns the text of the PDF at path.
func (h *PDFHandler) ExtractText(w http.ResponseWriter, r *http.Request) {
	var req ExtractTextRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := pdfops.ValidatePDFPath(req.Path); err != nil {
		writeError(w, http.StatusBadRequest, "invalid pdf path", err.Error())
		return
	}

	kind := "text"
	extractor := h.extractPlain
	if req.OCRFallback {
		kind = "text+ocr"
		extractor = h.extract
	}

	key, keyErr := cache.FileKeyFor(kind, req.Path)
	if keyErr == nil {
		if data, err := h.cache.Get(r.Context(), key); err == nil {
			var cached ExtractTextDTO
			if err := json.Unmarshal(data, &cached); err == nil {
				writeJSON(w, http.StatusOK, cached)
				return
			}
		}
	}

	res, err := extractor.Extract(r.Context(), req.Path)
	if err != nil {
		if errors.Is(err, pdfops.ErrNoText) {
			writeError(w, http.StatusUnprocessableEntity, "no extractable text", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to extract text", err.Error())
		return
	}

	resp := ExtractTextDTO{
		Text:   res.Text,
		Method: extractMethod(res),
		Pages:  res.Pages,
		Chars:  res.Chars,
	}
	if keyErr == nil {
		if data, err := json.Marshal(resp); err == nil {
			if err := h.cache.Set(r.Context(), key, data, h.cacheTTL); err != nil {
				h.logger.Debug().Err(err).Msg("Cache write failed")
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func extractMethod(res *pdfops.ExtractResult) string {
	switch {
	case res.PagesOCR == 0:
		return "text"
	case res.PagesWithText == 0:
		return "ocr"
	default:
		return "mixed"
	}
}

// CompressRequestDTO selects a PDF and a Ghostscript quality preset.
// Unknown qualities fall back to "ebook".
type CompressRequestDTO struct {
	Path      string `json:"path"`
	OutputDir string `json:"output_dir,omitempty"`
	Quality   string `json:"quality,omitempty"`
}

// CompressDTO reports a compression outcome.
type CompressDTO struct {
	Path            string  `json:"path"`
	Filename        string  `json:"filename"`
	OriginalBytes   int64   `json:"original_bytes"`
	CompressedBytes int64   `json:"compressed_bytes"`
	ReductionPct    float64 `json:"reduction_pct"`
}

// Compress writes a compressed copy of the PDF at path next to it, or into
// output_dir, named "{base}_compresso.pdf".
func (h *PDFHandler) Compress(w http.ResponseWriter, r *http.Request) {
	var req CompressRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := pdfops.ValidatePDFPath(req.Path); err != nil {
		writeError(w, http.StatusBadRequest, "invalid pdf path", err.Error())
		return
	}

	outDir := strings.TrimSpace(req.OutputDir)
	if outDir == "" {
		outDir = filepath.Dir(req.Path)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create output dir", err.Error())
		return
	}

	base := strings.TrimSuffix(filepath.Base(req.Path), filepath.Ext(req.Path))
	out := filepath.Join(outDir, base+"_compresso.pdf")

	res, err := h.compressor.Compress(pdfops.ParseQuality(req.Quality), req.Path, out)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "compression failed", err.Error())
		return
	}

	h.logger.Info().
		Str("pdf", req.Path).
		Int64("from", res.OriginalBytes).
		Int64("to", res.CompressedBytes).
		Msg("PDF compressed")

	writeJSON(w, http.StatusOK, CompressDTO{
		Path:            out,
		Filename:        filepath.Base(out),
		OriginalBytes:   res.OriginalBytes,
		CompressedBytes: res.CompressedBytes,
		ReductionPct:    res.Reduction,
	})
}

// PartDTO describes one file produced by a split.
type PartDTO struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	Pages int    `json:"pages"`
	Range string `json:"range"`
	Size  int64  `json:"size"`
}

// SplitRangesRequestDTO selects a PDF and the 1-based inclusive page
// ranges to cut out of it.
type SplitRangesRequestDTO struct {
	Path      string  `json:"path"`
	OutputDir string  `json:"output_dir,omitempty"`
	Ranges    [][]int `json:"ranges"`
	PartLabel string  `json:"part_label,omitempty"`
	ShowTotal *bool   `json:"show_total,omitempty"`
}

// SplitRangesDTO reports the files written by a split.
type SplitRangesDTO struct {
	Parts []PartDTO `json:"parts"`
}

// SplitRanges writes one file per requested page range, named
// "{base}_{label} {i} di {n}.pdf" in request order.
func (h *PDFHandler) SplitRanges(w http.ResponseWriter, r *http.Request) {
	var req SplitRangesRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := pdfops.ValidatePDFPath(req.Path); err != nil {
		writeError(w, http.StatusBadRequest, "invalid pdf path", err.Error())
		return
	}
	if len(req.Ranges) == 0 {
		writeError(w, http.StatusBadRequest, "ranges is required", "")
		return
	}

	total, err := h.engine.PageCount(req.Path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count pages", err.Error())
		return
	}

	type span struct{ from, to int }
	spans := make([]span, 0, len(req.Ranges))
	for _, rg := range req.Ranges {
		if len(rg) != 2 || rg[0] < 1 || rg[1] < rg[0] || rg[1] > total {
			detail := fmt.Sprintf("each range must be [from, to] with 1 <= from <= to <= %d", total)
			writeError(w, http.StatusBadRequest, "invalid range", detail)
			return
		}
		spans = append(spans, span{from: rg[0], to: rg[1]})
	}

	outDir := strings.TrimSpace(req.OutputDir)
	if outDir == "" {
		outDir = filepath.Dir(req.Path)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create output dir", err.Error())
		return
	}

	label := strings.TrimSpace(req.PartLabel)
	if label == "" {
		label = "Parte"
	}
	showTotal := req.ShowTotal == nil || *req.ShowTotal

	base := strings.TrimSuffix(filepath.Base(req.Path), filepath.Ext(req.Path))
	parts := make([]PartDTO, 0, len(spans))
	for i, sp := range spans {
		name := fmt.Sprintf("%s_%s %d di %d.pdf", base, label, i+1, len(spans))
		if !showTotal {
			name = fmt.Sprintf("%s_%s %d.pdf", base, label, i+1)
		}
		dst := filepath.Join(outDir, name)

		size, err := h.engine.SerializeRange(req.Path, sp.from-1, sp.to, dst)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to write part", err.Error())
			return
		}

		rangeLabel := strconv.Itoa(sp.from)
		if sp.to > sp.from {
			rangeLabel = fmt.Sprintf("%d-%d", sp.from, sp.to)
		}
		parts = append(parts, PartDTO{
			Name:  name,
			Path:  dst,
			Pages: sp.to - sp.from + 1,
			Range: rangeLabel,
			Size:  size,
		})
	}

	h.logger.Info().Str("pdf", req.Path).Int("parts", len(parts)).Msg("Split by ranges complete")
	writeJSON(w, http.StatusOK, SplitRangesDTO{Parts: parts})
}

// SplitSizeRequestDTO selects a PDF and a target part size in MiB.
type SplitSizeRequestDTO struct {
	Path      string  `json:"path"`
	OutputDir string  `json:"output_dir,omitempty"`
	TargetMB  float64 `json:"target_mb,omitempty"`
	PartLabel string  `json:"part_label,omitempty"`
	ShowTotal *bool   `json:"show_total,omitempty"`
}

// SplitSizeDTO reports a size-bounded split. Parts land in their own
// subdirectory named after the source file.
type SplitSizeDTO struct {
	Parts    []PartDTO `json:"parts"`
	SplitDir string    `json:"split_dir"`
}

// SplitSize cuts the PDF at path into sequential parts of at most
// target_mb each, default 46.
func (h *PDFHandler) SplitSize(w http.ResponseWriter, r *http.Request) {
	var req SplitSizeRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := pdfops.ValidatePDFPath(req.Path); err != nil {
		writeError(w, http.StatusBadRequest, "invalid pdf path", err.Error())
		return
	}

	targetMB := req.TargetMB
	if targetMB <= 0 {
		targetMB = 46
	}

	total, err := h.engine.PageCount(req.Path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count pages", err.Error())
		return
	}

	outDir := strings.TrimSpace(req.OutputDir)
	if outDir == "" {
		outDir = filepath.Dir(req.Path)
	}
	base := strings.TrimSuffix(filepath.Base(req.Path), filepath.Ext(req.Path))
	splitDir := filepath.Join(outDir, base)

	splitter := pdfops.NewSplitter(h.engine, pdfops.SplitterConfig{
		TargetBytes: int64(targetMB * 1024 * 1024),
		PartLabel:   strings.TrimSpace(req.PartLabel),
		OmitTotal:   req.ShowTotal != nil && !*req.ShowTotal,
	}, h.logger)

	split, err := splitter.Split(r.Context(), req.Path, total, splitDir, base, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "split failed", err.Error())
		return
	}

	parts := make([]PartDTO, 0, len(split))
	for _, p := range split {
		parts = append(parts, PartDTO{
			Name:  p.Name,
			Path:  p.Path,
			Pages: p.Pages,
			Range: p.PageRange,
			Size:  p.Size,
		})
	}

	h.logger.Info().Str("pdf", req.Path).Int("parts", len(parts)).Msg("Split by size complete")
	writeJSON(w, http.StatusOK, SplitSizeDTO{Parts: parts, SplitDir: splitDir})
}
