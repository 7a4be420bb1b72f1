// Package scan lists the convertible files under a source tree and buckets
// them into folder groups. Ordering is the contract the rest of the
// pipeline relies on: files sort by containing folder, then by the date
// carried in the file name (modification time when absent), then by name,
// so merged PDFs read chronologically within each folder.
package scan

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// supportedExtensions is the fixed set of convertible inputs.
var supportedExtensions = map[string]bool{
	// images
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".tiff": true, ".tif": true, ".webp": true,
	// office documents
	".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".ppt": true, ".pptx": true,
	".odt": true, ".ods": true, ".odp": true, ".odg": true,
	// PDF
	".pdf": true,
	// text
	".txt": true, ".rtf": true, ".csv": true,
	// signed envelopes
	".p7m": true,
	// markup
	".html": true, ".htm": true, ".xml": true,
}

// SupportedExtension reports whether files with the given extension
// (lowercase, with leading dot) are eligible for conversion.
func SupportedExtension(ext string) bool {
	return supportedExtensions[strings.ToLower(ext)]
}

// File describes one eligible file found under the scan root. Immutable
// once produced.
type File struct {
	Path      string
	Name      string
	RelPath   string
	RelFolder string // empty for files directly under the root
	Ext       string
	SortDate  time.Time
	Size      int64
}

// Scanner lists eligible files under a root directory.
type Scanner struct{}

// NewScanner returns a Scanner.
func NewScanner() *Scanner {
	return &Scanner{}
}

// Scan recursively lists every supported file under root, ordered by
// (relative folder, sort date, name). Subdirectories are visited in
// case-insensitive lexicographic order; unreadable subtrees are skipped.
// Failure to stat a file yields size 0 and never aborts the scan.
func (s *Scanner) Scan(root string) ([]File, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat source directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source path %s is not a directory", root)
	}

	var files []File
	s.walk(root, root, &files)

	slices.SortStableFunc(files, compareFiles)
	return files, nil
}

func (s *Scanner) walk(root, dir string, files *[]File) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	var subdirs []fs.DirEntry
	for _, entry := range entries {
		if entry.IsDir() {
			subdirs = append(subdirs, entry)
			continue
		}

		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if !supportedExtensions[ext] {
			continue
		}

		abs := filepath.Join(dir, entry.Name())
		rel, err := filepath.Rel(root, abs)
		if err != nil {
			continue
		}
		relFolder := filepath.Dir(rel)
		if relFolder == "." {
			relFolder = ""
		}

		var size int64
		var mtime time.Time
		if fi, err := entry.Info(); err == nil {
			size = fi.Size()
			mtime = fi.ModTime()
		}

		sortDate, ok := ExtractDateFromName(entry.Name())
		if !ok {
			sortDate = mtime
		}

		*files = append(*files, File{
			Path:      abs,
			Name:      entry.Name(),
			RelPath:   rel,
			RelFolder: relFolder,
			Ext:       ext,
			SortDate:  sortDate,
			Size:      size,
		})
	}

	slices.SortFunc(subdirs, func(a, b fs.DirEntry) int {
		return strings.Compare(strings.ToLower(a.Name()), strings.ToLower(b.Name()))
	})
	for _, sub := range subdirs {
		s.walk(root, filepath.Join(dir, sub.Name()), files)
	}
}

func compareFiles(a, b File) int {
	if c := strings.Compare(strings.ToLower(a.RelFolder), strings.ToLower(b.RelFolder)); c != 0 {
		return c
	}
	if c := a.SortDate.Compare(b.SortDate); c != 0 {
		return c
	}
	return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
}

func extOf(name string) string {
	return filepath.Ext(name)
}
