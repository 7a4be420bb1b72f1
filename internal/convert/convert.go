// Package convert turns every supported input type into a PDF: images
// through the pdfcpu importer, office and text formats through
// LibreOffice headless, signed p7m envelopes by unwrapping the payload
// and converting whatever is inside.
package convert

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	_ "golang.org/x/image/bmp"

	"github.com/mattiianni/Pdf50/internal/observability"
)

// ErrUnsupported is returned for extensions no converter route covers.
var ErrUnsupported = errors.New("unsupported file format")

// ErrLibreOfficeRequired is returned when a format needs LibreOffice and
// no binary was found.
var ErrLibreOfficeRequired = errors.New("conversion requires LibreOffice")

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".tiff": true, ".tif": true, ".webp": true,
}

var officeExtensions = map[string]bool{
	".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".ppt": true, ".pptx": true, ".odt": true, ".ods": true,
	".odp": true, ".odg": true, ".rtf": true, ".txt": true,
	".csv": true, ".html": true, ".htm": true, ".xml": true,
}

// OfficeConverter renders office style documents to PDF.
type OfficeConverter interface {
	ConvertToPDF(path, outDir string) (string, error)
}

// ImageImporter builds a PDF out of image files.
type ImageImporter interface {
	ImportImages(images []string, outPath string) error
}

// PayloadExtractor unwraps signed envelopes down to their payload.
type PayloadExtractor interface {
	Extract(path, outDir string) (string, error)
}

// Dispatcher routes a file to the converter able to handle its
// extension. office may be nil, in which case office formats fail with
// ErrLibreOfficeRequired.
type Dispatcher struct {
	office OfficeConverter
	images ImageImporter
	p7m    PayloadExtractor
	logger *observability.Logger
}

// NewDispatcher wires the converter routes together.
func NewDispatcher(office OfficeConverter, images ImageImporter, p7m PayloadExtractor, logger *observability.Logger) *Dispatcher {
	return &Dispatcher{office: office, images: images, p7m: p7m, logger: logger}
}

// Convert produces a PDF for the file at path inside outDir and returns
// its location. The output name carries a random suffix so that files
// with equal names from different folders never collide.
func (d *Dispatcher) Convert(ctx context.Context, path, outDir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case ext == ".p7m":
		extracted, err := d.p7m.Extract(path, outDir)
		if err != nil {
			return "", fmt.Errorf("unwrap %s: %w", filepath.Base(path), err)
		}
		out, err := d.Convert(ctx, extracted, outDir)
		os.Remove(extracted)
		return out, err

	case ext == ".pdf":
		dest := uniqueDest(outDir, path)
		if err := copyFile(path, dest); err != nil {
			return "", fmt.Errorf("copy %s: %w", filepath.Base(path), err)
		}
		return dest, nil

	case imageExtensions[ext]:
		return d.convertImage(path, outDir)

	case officeExtensions[ext]:
		if d.office == nil {
			return "", fmt.Errorf("%s: %w", ext, ErrLibreOfficeRequired)
		}
		return d.office.ConvertToPDF(path, outDir)

	default:
		if d.office != nil {
			return d.office.ConvertToPDF(path, outDir)
		}
		return "", fmt.Errorf("%s: %w", ext, ErrUnsupported)
	}
}

func (d *Dispatcher) convertImage(path, outDir string) (string, error) {
	src := path

	// The importer reads JPEG, PNG, TIFF and WebP natively. Everything
	// else is re-encoded to PNG first.
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gif", ".bmp":
		reencoded, err := reencodePNG(path, outDir)
		if err != nil {
			return "", fmt.Errorf("re-encode %s: %w", filepath.Base(path), err)
		}
		defer os.Remove(reencoded)
		src = reencoded
	}

	dest := uniqueDest(outDir, path)
	if err := d.images.ImportImages([]string{src}, dest); err != nil {
		return "", fmt.Errorf("image %s: %w", filepath.Base(path), err)
	}
	return dest, nil
}

func reencodePNG(path, outDir string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return "", err
	}

	dest := filepath.Join(outDir, "img_"+uniqueSuffix()+".png")
	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	if err := png.Encode(out, img); err != nil {
		out.Close()
		os.Remove(dest)
		return "", err
	}
	return dest, out.Close()
}

// uniqueDest builds "{base}_{suffix}.pdf" inside dir for the given
// source file.
func uniqueDest(dir, srcPath string) string {
	base := strings.TrimSuffix(filepath.Base(srcPath), filepath.Ext(srcPath))
	return filepath.Join(dir, fmt.Sprintf("%s_%s.pdf", base, uniqueSuffix()))
}

func uniqueSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// moveFile renames src to dst, falling back to copy and remove across
// filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}
