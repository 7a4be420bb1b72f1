package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/mattiianni/Pdf50/internal/observability"
)

// ErrOCRUnavailable signals that no ocrmypdf binary could be resolved.
var ErrOCRUnavailable = errors.New("ocrmypdf not available")

// OCR adds a searchable text layer to PDFs through ocrmypdf.
type OCR struct {
	binary   string
	language string
	timeout  time.Duration
	logger   *observability.Logger
}

// NewOCR resolves ocrmypdf. An empty binary means PATH lookup, an empty
// language defaults to Italian.
func NewOCR(binary, language string, timeout time.Duration, logger *observability.Logger) *OCR {
	if binary == "" {
		binary, _ = exec.LookPath("ocrmypdf")
	}
	if language == "" {
		language = "ita"
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &OCR{binary: binary, language: language, timeout: timeout, logger: logger}
}

// Available reports whether OCR can run at all.
func (o *OCR) Available() bool {
	return o.binary != ""
}

// Binary returns the resolved ocrmypdf path, empty when unavailable.
func (o *OCR) Binary() string {
	return o.binary
}

func ocrArgs(language, inPath, outPath string) []string {
	return []string{
		"--language", language,
		"--force-ocr",
		"--optimize", "1",
		"--skip-big", "50",
		"--quiet",
		inPath, outPath,
	}
}

// ApplyTextLayer OCRs inPath into outPath. On any failure the original
// PDF is copied to outPath so downstream stages keep a usable file, and
// the error is still returned for reporting.
func (o *OCR) ApplyTextLayer(inPath, outPath string) error {
	if !o.Available() {
		if err := copyFile(inPath, outPath); err != nil {
			return err
		}
		return ErrOCRUnavailable
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, o.binary, ocrArgs(o.language, inPath, outPath)...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if copyErr := copyFile(inPath, outPath); copyErr != nil {
			o.logger.Warn().Err(copyErr).Msg("copy-through after OCR failure failed")
		}
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("OCR timed out after %s", o.timeout)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("OCR failed: %s", msg)
	}

	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		if copyErr := copyFile(inPath, outPath); copyErr != nil {
			return copyErr
		}
		return fmt.Errorf("OCR produced no output")
	}
	return nil
}
