package convert

import (
	"archive/zip"
	"bytes"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mozilla.org/pkcs7"

	"github.com/mattiianni/Pdf50/internal/observability"
)

// signedEnvelope wraps payload in a degenerate CMS SignedData, the same
// shape a signing smartcard produces minus the signature.
func signedEnvelope(t *testing.T, payload []byte) []byte {
	t.Helper()
	sd, err := pkcs7.NewSignedData(payload)
	require.NoError(t, err)
	der, err := sd.Finish()
	require.NoError(t, err)
	return der
}

func zipWith(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestDetectExtension_MagicBytes(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want string
	}{
		{"pdf", []byte("%PDF-1.4 blah blah"), ".pdf"},
		{"jpeg", append([]byte{0xff, 0xd8}, make([]byte, 16)...), ".jpg"},
		{"png", []byte("\x89PNG\r\n\x1a\nrest"), ".png"},
		{"gif", []byte("GIF89a trailer bytes"), ".gif"},
		{"tiff little endian", []byte("II*\x00 and more data"), ".tiff"},
		{"bmp", []byte("BM then pixel data"), ".bmp"},
		{"rtf", []byte(`{\rtf1\ansi ciao}`), ".rtf"},
		{"xml declaration", []byte(`<?xml version="1.0"?><FatturaElettronica/>`), ".xml"},
		{"bare xml", []byte("  <root><child/></root>"), ".xml"},
		{"plain text", []byte("ricevuta di pagamento n. 42"), ".txt"},
		{"binary junk", []byte{0xff, 0xfe, 0x01, 0x02, 0xff, 0xff, 0x00, 0x9f, 0xff}, ".bin"},
		{"too short", []byte("abc"), ".bin"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, detectExtension(tc.data))
		})
	}
}

func TestDetectExtension_OfficeContainers(t *testing.T) {
	assert.Equal(t, ".docx", detectExtension(zipWith(t, map[string]string{
		"word/document.xml": "<doc/>",
	})))
	assert.Equal(t, ".xlsx", detectExtension(zipWith(t, map[string]string{
		"xl/workbook.xml": "<wb/>",
	})))
	assert.Equal(t, ".pptx", detectExtension(zipWith(t, map[string]string{
		"ppt/presentation.xml": "<p/>",
	})))
	assert.Equal(t, ".ods", detectExtension(zipWith(t, map[string]string{
		"content.xml": "<c/>",
		"mimetype":    "application/vnd.oasis.opendocument.spreadsheet",
	})))
	assert.Equal(t, ".odt", detectExtension(zipWith(t, map[string]string{
		"content.xml": "<c/>",
		"mimetype":    "application/vnd.oasis.opendocument.text",
	})))
	assert.Equal(t, ".zip", detectExtension(zipWith(t, map[string]string{
		"random.txt": "x",
	})))
}

func TestDetectExtension_NestedEnvelope(t *testing.T) {
	inner := signedEnvelope(t, []byte("%PDF-1.4 doc"))
	assert.Equal(t, ".p7m", detectExtension(inner))
}

func TestP7MExtractor_UnwrapsSignedPDF(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("%PDF-1.4 contenuto firmato")

	src := filepath.Join(dir, "contratto.p7m")
	require.NoError(t, os.WriteFile(src, signedEnvelope(t, payload), 0o644))

	x := NewP7MExtractor("", 0, observability.DefaultLogger())
	out, err := x.Extract(src, dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "p7m_extracted_contratto.pdf"), out)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestP7MExtractor_UnwrapsPEMArmoredEnvelope(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("%PDF-1.4 pem")

	der := signedEnvelope(t, payload)
	armored := pem.EncodeToMemory(&pem.Block{Type: "PKCS7", Bytes: der})

	src := filepath.Join(dir, "armored.p7m")
	require.NoError(t, os.WriteFile(src, armored, 0o644))

	x := NewP7MExtractor("", 0, observability.DefaultLogger())
	out, err := x.Extract(src, dir)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestP7MExtractor_UnwrapsNestedEnvelopes(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("%PDF-1.4 doppia firma")

	double := signedEnvelope(t, signedEnvelope(t, payload))
	src := filepath.Join(dir, "doppio.p7m")
	require.NoError(t, os.WriteFile(src, double, 0o644))

	x := NewP7MExtractor("", 0, observability.DefaultLogger())
	out, err := x.Extract(src, dir)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	// The intermediate envelope does not survive.
	assert.NoFileExists(t, filepath.Join(dir, "p7m_extracted_doppio.p7m"))
}

func TestP7MExtractor_GarbageWithoutOpenSSLFails(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "rotto.p7m")
	require.NoError(t, os.WriteFile(src, []byte("non sono una busta"), 0o644))

	x := &P7MExtractor{logger: observability.DefaultLogger()}
	_, err := x.Extract(src, dir)
	assert.ErrorContains(t, err, "rotto.p7m")
}
