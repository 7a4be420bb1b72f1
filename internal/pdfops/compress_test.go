package pdfops

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseQuality(t *testing.T) {
	assert.Equal(t, QualityScreen, ParseQuality("screen"))
	assert.Equal(t, QualityEbook, ParseQuality("ebook"))
	assert.Equal(t, QualityPrinter, ParseQuality("printer"))
	assert.Equal(t, QualityPrinter, ParseQuality("  PRINTER "))

	assert.Equal(t, QualityEbook, ParseQuality(""))
	assert.Equal(t, QualityEbook, ParseQuality("lossless"))
}

func TestGhostscriptArgs(t *testing.T) {
	args := ghostscriptArgs(QualityEbook, "/in/doc.pdf", "/out/doc.pdf")

	assert.Equal(t, []string{
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.4",
		"-dPDFSETTINGS=/ebook",
		"-dNOPAUSE",
		"-dQUIET",
		"-dBATCH",
		"-sOutputFile=/out/doc.pdf",
		"/in/doc.pdf",
	}, args)
}

func TestCompressor_FindGhostscript_PrefersConfiguredBinary(t *testing.T) {
	c := NewCompressor("/opt/gs/bin/gs", 0, nil, nil)
	assert.Equal(t, "/opt/gs/bin/gs", c.findGhostscript())
	assert.True(t, c.Available())
}
