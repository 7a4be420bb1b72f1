// Package pdfops provides the PDF primitives behind the pipeline:
// merging, page range serialization, size bounded splitting, compression
// and text extraction.
package pdfops

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// ValidatePDFPath checks that path names a readable, regular file with a
// .pdf extension.
func ValidatePDFPath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("file path cannot be empty")
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("file does not exist: %s", path)
		}
		return fmt.Errorf("cannot access file %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("path is a directory, not a file: %s", path)
	}
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".pdf" {
		return fmt.Errorf("file is not a PDF (has extension %q)", ext)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cannot open file %s: %w", path, err)
	}
	f.Close()

	return nil
}

// Document wraps an open PDF for page level access.
type Document struct {
	doc  *fitz.Document
	path string
}

// OpenDocument validates path and opens the PDF behind it.
func OpenDocument(path string) (*Document, error) {
	if err := ValidatePDFPath(path); err != nil {
		return nil, err
	}
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	return &Document{doc: doc, path: path}, nil
}

// PageCount returns the number of pages.
func (d *Document) PageCount() int {
	return d.doc.NumPage()
}

// PageText returns the text layer of the given zero based page.
func (d *Document) PageText(page int) (string, error) {
	text, err := d.doc.Text(page)
	if err != nil {
		return "", fmt.Errorf("extract text from page %d: %w", page+1, err)
	}
	return text, nil
}

// RenderPage rasterizes the given zero based page and returns it PNG
// encoded.
func (d *Document) RenderPage(ctx context.Context, page int) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	img, err := d.doc.Image(page)
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", page+1, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode page %d: %w", page+1, err)
	}
	return buf.Bytes(), nil
}

// Close releases the underlying document. Safe to call twice.
func (d *Document) Close() error {
	if d.doc == nil {
		return nil
	}
	err := d.doc.Close()
	d.doc = nil
	return err
}
