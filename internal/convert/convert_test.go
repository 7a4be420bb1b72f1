package convert

import (
	"context"
	"errors"
	"image"
	"image/gif"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattiianni/Pdf50/internal/observability"
)

type fakeOffice struct {
	calls []string
	err   error
}

func (f *fakeOffice) ConvertToPDF(path, outDir string) (string, error) {
	f.calls = append(f.calls, path)
	if f.err != nil {
		return "", f.err
	}
	dest := filepath.Join(outDir, "office.pdf")
	if err := os.WriteFile(dest, []byte("%PDF-1.4"), 0o644); err != nil {
		return "", err
	}
	return dest, nil
}

type fakeImporter struct {
	sources [][]string
	dests   []string
	err     error
}

func (f *fakeImporter) ImportImages(images []string, outPath string) error {
	f.sources = append(f.sources, append([]string(nil), images...))
	f.dests = append(f.dests, outPath)
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(outPath, []byte("%PDF-1.4"), 0o644)
}

type fakeExtractor struct {
	payload []byte
	ext     string
	err     error
}

func (f *fakeExtractor) Extract(path, outDir string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	p := filepath.Join(outDir, "p7m_extracted_"+base+f.ext)
	return p, os.WriteFile(p, f.payload, 0o644)
}

func newTestDispatcher(office OfficeConverter, images ImageImporter, p7m PayloadExtractor) *Dispatcher {
	return NewDispatcher(office, images, p7m, observability.DefaultLogger())
}

func TestDispatcher_Convert_CopiesPDFWithUniqueName(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "fattura.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF-1.4 contenuto"), 0o644))

	d := newTestDispatcher(nil, nil, nil)
	out, err := d.Convert(context.Background(), src, dir)
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`fattura_[0-9a-f]{8}\.pdf$`), out)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 contenuto", string(data))
}

func TestDispatcher_Convert_RoutesImagesToImporter(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "scansione.jpg")
	require.NoError(t, os.WriteFile(src, []byte{0xff, 0xd8, 0xff}, 0o644))

	imp := &fakeImporter{}
	d := newTestDispatcher(nil, imp, nil)

	out, err := d.Convert(context.Background(), src, dir)
	require.NoError(t, err)

	require.Len(t, imp.sources, 1)
	assert.Equal(t, []string{src}, imp.sources[0])
	assert.Regexp(t, `scansione_[0-9a-f]{8}\.pdf$`, out)
}

func TestDispatcher_Convert_ReencodesGIFBeforeImport(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "logo.gif")

	f, err := os.Create(src)
	require.NoError(t, err)
	require.NoError(t, gif.Encode(f, image.NewRGBA(image.Rect(0, 0, 2, 2)), nil))
	require.NoError(t, f.Close())

	imp := &fakeImporter{}
	d := newTestDispatcher(nil, imp, nil)

	_, err = d.Convert(context.Background(), src, dir)
	require.NoError(t, err)

	require.Len(t, imp.sources, 1)
	assert.True(t, strings.HasSuffix(imp.sources[0][0], ".png"), "importer should receive the re-encoded PNG")
	assert.NotEqual(t, src, imp.sources[0][0])
	assert.NoFileExists(t, imp.sources[0][0], "scratch PNG is removed after import")
}

func TestDispatcher_Convert_RoutesOfficeFormats(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "verbale.docx")
	require.NoError(t, os.WriteFile(src, []byte("PK"), 0o644))

	office := &fakeOffice{}
	d := newTestDispatcher(office, nil, nil)

	out, err := d.Convert(context.Background(), src, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{src}, office.calls)
	assert.FileExists(t, out)
}

func TestDispatcher_Convert_OfficeFormatsNeedLibreOffice(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "conto.xlsx")
	require.NoError(t, os.WriteFile(src, []byte("PK"), 0o644))

	d := newTestDispatcher(nil, nil, nil)
	_, err := d.Convert(context.Background(), src, dir)
	assert.ErrorIs(t, err, ErrLibreOfficeRequired)
}

func TestDispatcher_Convert_UnwrapsP7MAndConvertsPayload(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "contratto.pdf.p7m")
	require.NoError(t, os.WriteFile(src, []byte("busta"), 0o644))

	ext := &fakeExtractor{payload: []byte("%PDF-1.4 interno"), ext: ".pdf"}
	d := newTestDispatcher(nil, nil, ext)

	out, err := d.Convert(context.Background(), src, dir)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 interno", string(data))
	assert.NoFileExists(t, filepath.Join(dir, "p7m_extracted_contratto.pdf.pdf"))
}

func TestDispatcher_Convert_UnknownExtensionFallsBackToOffice(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "strano.xyz")
	require.NoError(t, os.WriteFile(src, []byte("dati"), 0o644))

	office := &fakeOffice{}
	d := newTestDispatcher(office, nil, nil)
	_, err := d.Convert(context.Background(), src, dir)
	require.NoError(t, err)
	assert.Len(t, office.calls, 1)

	d = newTestDispatcher(nil, nil, nil)
	_, err = d.Convert(context.Background(), src, dir)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestDispatcher_Convert_HonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := newTestDispatcher(nil, nil, nil)
	_, err := d.Convert(ctx, "whatever.pdf", t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMoveFile_AcrossDirectories(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a", "file.pdf")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o755))
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	dst := filepath.Join(dir, "b", "file.pdf")
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0o755))
	require.NoError(t, moveFile(src, dst))

	assert.NoFileExists(t, src)
	assert.FileExists(t, dst)
}

func TestOCRArgs(t *testing.T) {
	args := ocrArgs("ita", "/tmp/in.pdf", "/tmp/out.pdf")
	assert.Equal(t, []string{
		"--language", "ita",
		"--force-ocr",
		"--optimize", "1",
		"--skip-big", "50",
		"--quiet",
		"/tmp/in.pdf", "/tmp/out.pdf",
	}, args)
}

func TestOCR_CopyThroughWhenUnavailable(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.pdf")
	out := filepath.Join(dir, "out.pdf")
	require.NoError(t, os.WriteFile(in, []byte("%PDF-1.4 originale"), 0o644))

	o := &OCR{logger: observability.DefaultLogger()}
	err := o.ApplyTextLayer(in, out)
	assert.ErrorIs(t, err, ErrOCRUnavailable)

	data, readErr := os.ReadFile(out)
	require.NoError(t, readErr)
	assert.Equal(t, "%PDF-1.4 originale", string(data), "original survives without a text layer")
}

func TestOCR_AvailableWithExplicitBinary(t *testing.T) {
	o := NewOCR("/usr/local/bin/ocrmypdf", "", 0, observability.DefaultLogger())
	assert.True(t, o.Available())
	assert.Equal(t, "ita", o.language)
}

func TestLibreOffice_PrefersConfiguredBinary(t *testing.T) {
	lo, err := NewLibreOffice("/opt/libreoffice/soffice", 0, observability.DefaultLogger())
	require.NoError(t, err)
	assert.Equal(t, "/opt/libreoffice/soffice", lo.Binary())
}

func TestDispatcher_Convert_ExtractorFailureIsWrapped(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "firma.p7m")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	ext := &fakeExtractor{err: errors.New("busta illeggibile")}
	d := newTestDispatcher(nil, nil, ext)

	_, err := d.Convert(context.Background(), src, dir)
	assert.ErrorContains(t, err, "firma.p7m")
	assert.ErrorContains(t, err, "busta illeggibile")
}
