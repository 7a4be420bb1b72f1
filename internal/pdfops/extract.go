package pdfops

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/mattiianni/Pdf50/internal/observability"
)

// ErrNoText is returned when a document yields no text at all, typically
// a scan without a text layer and no OCR engine wired in.
var ErrNoText = errors.New("no text found in document")

// OCREngine recognizes text on a rendered page image.
type OCREngine interface {
	ImageText(png []byte) (string, error)
	Close() error
}

// pageSource is the slice of Document the extractor needs.
type pageSource interface {
	PageCount() int
	PageText(page int) (string, error)
	RenderPage(ctx context.Context, page int) ([]byte, error)
}

// ExtractResult carries the extracted text and per page statistics.
type ExtractResult struct {
	Text          string
	Pages         int
	PagesWithText int
	PagesOCR      int
	Chars         int
}

// TextExtractor pulls the text layer out of a PDF page by page. Pages
// without a text layer are rendered and handed to OCR when an engine is
// available.
type TextExtractor struct {
	ocr    OCREngine // nil disables the fallback
	logger *observability.Logger
}

// NewTextExtractor returns an extractor. ocr may be nil.
func NewTextExtractor(ocr OCREngine, logger *observability.Logger) *TextExtractor {
	return &TextExtractor{ocr: ocr, logger: logger}
}

// Extract reads the text of every page of the PDF at path. Pages that
// stay empty are skipped, the remaining ones are joined by blank lines.
func (x *TextExtractor) Extract(ctx context.Context, path string) (*ExtractResult, error) {
	doc, err := OpenDocument(path)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	return x.extractFrom(ctx, doc)
}

func (x *TextExtractor) extractFrom(ctx context.Context, doc pageSource) (*ExtractResult, error) {
	res := &ExtractResult{Pages: doc.PageCount()}

	var chunks []string
	for page := 0; page < res.Pages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		text, err := doc.PageText(page)
		if err != nil {
			// Damaged page, OCR below may still recover it.
			text = ""
		}
		text = strings.TrimSpace(text)

		if text == "" && x.ocr != nil {
			if text = x.recognizePage(ctx, doc, page); text != "" {
				res.PagesOCR++
			}
		}
		if text != "" {
			chunks = append(chunks, text)
			res.PagesWithText++
		}
	}

	if len(chunks) == 0 {
		return nil, ErrNoText
	}

	res.Text = strings.Join(chunks, "\n\n")
	res.Chars = utf8.RuneCountInString(res.Text)
	return res, nil
}

func (x *TextExtractor) recognizePage(ctx context.Context, doc pageSource, page int) string {
	img, err := doc.RenderPage(ctx, page)
	if err != nil {
		x.logger.Warn().Int("page", page+1).Err(err).Msg("page render failed, skipping OCR")
		return ""
	}
	text, err := x.ocr.ImageText(img)
	if err != nil {
		x.logger.Warn().Int("page", page+1).Err(err).Msg("OCR failed for page")
		return ""
	}
	return strings.TrimSpace(text)
}
