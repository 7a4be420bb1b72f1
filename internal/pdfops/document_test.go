package pdfops

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePDFPath(t *testing.T) {
	dir := t.TempDir()

	pdf := filepath.Join(dir, "doc.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.4"), 0o644))
	txt := filepath.Join(dir, "note.txt")
	require.NoError(t, os.WriteFile(txt, []byte("ciao"), 0o644))

	assert.NoError(t, ValidatePDFPath(pdf))

	assert.ErrorContains(t, ValidatePDFPath(""), "cannot be empty")
	assert.ErrorContains(t, ValidatePDFPath("   "), "cannot be empty")
	assert.ErrorContains(t, ValidatePDFPath(filepath.Join(dir, "missing.pdf")), "does not exist")
	assert.ErrorContains(t, ValidatePDFPath(dir), "is a directory")
	assert.ErrorContains(t, ValidatePDFPath(txt), "not a PDF")
}
