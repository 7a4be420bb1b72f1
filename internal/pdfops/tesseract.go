package pdfops

import (
	"fmt"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"
)

// TesseractEngine backs the OCR fallback with a persistent gosseract
// client. The client is not goroutine safe, calls are serialized.
type TesseractEngine struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// NewTesseractEngine starts a tesseract client configured for the given
// language. Compound specs like "ita+eng" are accepted.
func NewTesseractEngine(language string) (*TesseractEngine, error) {
	client := gosseract.NewClient()
	if language != "" {
		if err := client.SetLanguage(strings.Split(language, "+")...); err != nil {
			client.Close()
			return nil, fmt.Errorf("set OCR language %q: %w", language, err)
		}
	}
	return &TesseractEngine{client: client}, nil
}

// ImageText runs recognition over a PNG encoded page image.
func (t *TesseractEngine) ImageText(png []byte) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.client.SetImageFromBytes(png); err != nil {
		return "", fmt.Errorf("load page image: %w", err)
	}
	text, err := t.client.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return text, nil
}

// Close releases the tesseract client.
func (t *TesseractEngine) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client.Close()
}

// TesseractVersion reports the linked tesseract library version.
func TesseractVersion() string {
	return gosseract.Version()
}
