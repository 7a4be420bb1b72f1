package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/mattiianni/Pdf50/internal/observability"
)

// ErrLibreOfficeNotFound is returned when no soffice binary can be
// resolved on this host.
var ErrLibreOfficeNotFound = errors.New("libreoffice binary not found")

// LibreOffice runs soffice headless to render office documents to PDF.
type LibreOffice struct {
	binary  string
	timeout time.Duration
	logger  *observability.Logger
}

// NewLibreOffice resolves the soffice binary, preferring the configured
// path over a PATH and well known location search.
func NewLibreOffice(binary string, timeout time.Duration, logger *observability.Logger) (*LibreOffice, error) {
	resolved := resolveLibreOffice(binary)
	if resolved == "" {
		return nil, ErrLibreOfficeNotFound
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &LibreOffice{binary: resolved, timeout: timeout, logger: logger}, nil
}

func resolveLibreOffice(configured string) string {
	if configured != "" {
		return configured
	}
	for _, cand := range []string{"soffice", "libreoffice"} {
		if path, err := exec.LookPath(cand); err == nil {
			return path
		}
	}

	switch runtime.GOOS {
	case "darwin":
		for _, p := range []string{
			"/Applications/LibreOffice.app/Contents/MacOS/soffice",
			"/usr/local/bin/soffice",
			"/opt/homebrew/bin/soffice",
		} {
			if info, err := os.Stat(p); err == nil && !info.IsDir() {
				return p
			}
		}
	case "windows":
		for _, pattern := range []string{
			`C:\Program Files\LibreOffice*\program\soffice.exe`,
			`C:\Program Files (x86)\LibreOffice*\program\soffice.exe`,
		} {
			if matches, err := filepath.Glob(pattern); err == nil && len(matches) > 0 {
				return matches[len(matches)-1]
			}
		}
	}
	return ""
}

// Binary returns the resolved soffice path.
func (lo *LibreOffice) Binary() string {
	return lo.binary
}

// ConvertToPDF renders the document at path into outDir and returns the
// produced file. The run happens inside a scratch directory with its own
// profile, soffice refuses concurrent use of a shared one. The timeout
// comes from configuration, not from a caller context.
func (lo *LibreOffice) ConvertToPDF(path, outDir string) (string, error) {
	tmpDir, err := os.MkdirTemp("", "lo-conv-*")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	tmpInput := filepath.Join(tmpDir, filepath.Base(path))
	if err := copyFile(path, tmpInput); err != nil {
		return "", fmt.Errorf("stage %s: %w", filepath.Base(path), err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), lo.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, lo.binary,
		"--headless", "--norestore",
		"--convert-to", "pdf",
		"--outdir", tmpDir,
		tmpInput,
	)
	cmd.Env = append(os.Environ(), "HOME="+tmpDir)

	var stderr strings.Builder
	cmd.Stderr = &stderr

	// soffice occasionally exits non zero while still writing the PDF,
	// so only the output file decides success.
	runErr := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("libreoffice timed out after %s on %s", lo.timeout, filepath.Base(path))
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	produced := filepath.Join(tmpDir, base+".pdf")
	if _, err := os.Stat(produced); err != nil {
		produced = ""
		entries, _ := os.ReadDir(tmpDir)
		for _, e := range entries {
			if strings.HasSuffix(e.Name(), ".pdf") {
				produced = filepath.Join(tmpDir, e.Name())
				break
			}
		}
	}
	if produced == "" {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" && runErr != nil {
			msg = runErr.Error()
		}
		if msg == "" {
			msg = "no PDF produced"
		}
		return "", fmt.Errorf("libreoffice failed on %s: %s", filepath.Base(path), msg)
	}

	dest := filepath.Join(outDir, fmt.Sprintf("%s_%s.pdf", base, uniqueSuffix()))
	if err := moveFile(produced, dest); err != nil {
		return "", fmt.Errorf("move converted file: %w", err)
	}
	return dest, nil
}
