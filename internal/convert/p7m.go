package convert

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/pem"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"go.mozilla.org/pkcs7"

	"github.com/mattiianni/Pdf50/internal/observability"
)

// maxNestedEnvelopes bounds recursion through p7m-in-p7m signatures.
const maxNestedEnvelopes = 5

// P7MExtractor unwraps CMS SignedData envelopes, the container used by
// Italian digital signatures. Parsing happens in process, with an
// openssl smime fallback for envelopes the library rejects.
type P7MExtractor struct {
	openssl string
	timeout time.Duration
	logger  *observability.Logger
}

// NewP7MExtractor resolves openssl for the fallback path. An empty
// binary means PATH lookup, absence only disables the fallback.
func NewP7MExtractor(openssl string, timeout time.Duration, logger *observability.Logger) *P7MExtractor {
	if openssl == "" {
		openssl, _ = exec.LookPath("openssl")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &P7MExtractor{openssl: openssl, timeout: timeout, logger: logger}
}

// Extract writes the payload of the envelope at path into outDir and
// returns its location. Nested envelopes are unwrapped transparently.
func (x *P7MExtractor) Extract(path, outDir string) (string, error) {
	return x.extract(path, outDir, 0)
}

func (x *P7MExtractor) extract(path, outDir string, depth int) (string, error) {
	if depth > maxNestedEnvelopes {
		return "", fmt.Errorf("envelopes nested deeper than %d levels", maxNestedEnvelopes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	// Some signers ship PEM armored envelopes.
	if bytes.HasPrefix(data, []byte("-----")) {
		if block, _ := pem.Decode(data); block != nil {
			data = block.Bytes
		}
	}

	inner := parseSignedData(data)
	if inner == nil {
		inner = x.extractWithOpenSSL(path)
	}
	if inner == nil {
		return "", fmt.Errorf("cannot extract payload from %s", filepath.Base(path))
	}

	ext := detectExtension(inner)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	extracted := filepath.Join(outDir, "p7m_extracted_"+base+ext)
	if err := os.WriteFile(extracted, inner, 0o644); err != nil {
		return "", fmt.Errorf("write payload: %w", err)
	}

	if ext == ".p7m" {
		nested, err := x.extract(extracted, outDir, depth+1)
		os.Remove(extracted)
		return nested, err
	}
	return extracted, nil
}

func parseSignedData(data []byte) []byte {
	p7, err := pkcs7.Parse(data)
	if err != nil || len(p7.Content) == 0 {
		return nil
	}
	return p7.Content
}

// extractWithOpenSSL shells out to openssl smime without signature
// verification, trying DER first and PEM second. The produced file
// decides success, openssl exit codes are unreliable here.
func (x *P7MExtractor) extractWithOpenSSL(path string) []byte {
	if x.openssl == "" {
		return nil
	}

	tmp, err := os.CreateTemp("", "p7m-*.content")
	if err != nil {
		return nil
	}
	tmpOut := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpOut)

	for _, inform := range []string{"DER", "PEM"} {
		ctx, cancel := context.WithTimeout(context.Background(), x.timeout)
		cmd := exec.CommandContext(ctx, x.openssl,
			"smime", "-verify", "-in", path,
			"-noverify", "-inform", inform, "-out", tmpOut,
		)
		err := cmd.Run()
		cancel()
		if err != nil {
			continue
		}
		if content, err := os.ReadFile(tmpOut); err == nil && len(content) > 0 {
			return content
		}
	}
	return nil
}

// detectExtension sniffs the payload type from magic bytes. Signed
// envelopes carry no filename for their content.
func detectExtension(data []byte) string {
	if len(data) < 8 {
		return ".bin"
	}

	switch {
	case bytes.HasPrefix(data, []byte("%PDF")):
		return ".pdf"
	case bytes.HasPrefix(data, []byte("PK")):
		return sniffZip(data)
	case bytes.HasPrefix(data, []byte{0xff, 0xd8}):
		return ".jpg"
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return ".png"
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return ".gif"
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return ".tiff"
	case bytes.HasPrefix(data, []byte("BM")):
		return ".bmp"
	case bytes.HasPrefix(data, []byte(`{\rtf`)):
		return ".rtf"
	}

	head := strings.TrimSpace(string(data[:min(200, len(data))]))
	if strings.HasPrefix(head, "<?xml") || strings.HasPrefix(head, "<") {
		return ".xml"
	}

	// A DER sequence at the top usually means another signature layer.
	if data[0] == 0x30 && parseSignedData(data) != nil {
		return ".p7m"
	}

	if utf8.Valid(data[:min(512, len(data))]) {
		return ".txt"
	}
	return ".bin"
}

// sniffZip tells office container formats apart by their well known
// member files.
func sniffZip(data []byte) string {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ".zip"
	}

	names := make(map[string]bool, len(r.File))
	for _, f := range r.File {
		names[f.Name] = true
	}

	switch {
	case names["word/document.xml"]:
		return ".docx"
	case names["xl/workbook.xml"]:
		return ".xlsx"
	case names["ppt/presentation.xml"]:
		return ".pptx"
	case names["content.xml"]:
		for _, f := range r.File {
			if f.Name != "mimetype" {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				break
			}
			var buf bytes.Buffer
			_, _ = buf.ReadFrom(rc)
			rc.Close()
			mt := buf.String()
			switch {
			case strings.Contains(mt, "spreadsheet"):
				return ".ods"
			case strings.Contains(mt, "presentation"):
				return ".odp"
			}
			break
		}
		return ".odt"
	}
	return ".zip"
}
