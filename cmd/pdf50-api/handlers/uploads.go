package handlers

import (
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattiianni/Pdf50/internal/observability"
)

// UploadsHandler stages client files on the server's disk so a job can scan
// them like any local folder. Staging directories live under the configured
// upload base and are meant to be deleted once their job finishes.
type UploadsHandler struct {
	logger   *observability.Logger
	baseDir  string
	maxBytes int64
}

// NewUploadsHandler creates a new uploads handler. maxBytes caps the size
// of a single request body.
func NewUploadsHandler(logger *observability.Logger, baseDir string, maxBytes int64) *UploadsHandler {
	return &UploadsHandler{
		logger:   logger,
		baseDir:  baseDir,
		maxBytes: maxBytes,
	}
}

// UploadFolderDTO reports a staged folder upload.
type UploadFolderDTO struct {
	SourcePath string `json:"source_path"`
	Files      int    `json:"files"`
	TotalBytes int64  `json:"total_bytes"`
}

// UploadFileDTO reports a staged single-file upload.
type UploadFileDTO struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Folder accepts a multipart form of "files" entries plus parallel "paths"
// values carrying each file's relative path, and recreates the tree in a
// fresh staging directory. The paths field exists because Go strips
// directory information from multipart filenames per RFC 7578; entries
// without one keep just their base name. The response names the directory
// so it can be passed as a job's source_path.
func (h *UploadsHandler) Folder(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no files uploaded", "")
		return
	}
	paths := r.MultipartForm.Value["paths"]

	dir, err := h.stagingDir()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create staging dir", err.Error())
		return
	}

	var saved int
	var total int64
	for i, fh := range files {
		raw := fh.Filename
		if i < len(paths) && strings.TrimSpace(paths[i]) != "" {
			raw = paths[i]
		}
		rel := sanitizeRelPath(raw)
		if rel == "" {
			h.logger.Warn().Str("name", raw).Msg("Upload entry dropped, no safe path")
			continue
		}
		n, err := saveUpload(fh, filepath.Join(dir, rel))
		if err != nil {
			os.RemoveAll(dir)
			writeError(w, http.StatusInternalServerError, "failed to save upload", err.Error())
			return
		}
		saved++
		total += n
	}
	if saved == 0 {
		os.RemoveAll(dir)
		writeError(w, http.StatusBadRequest, "no files uploaded", "")
		return
	}

	h.logger.Info().
		Str("dir", dir).
		Int("files", saved).
		Int64("bytes", total).
		Msg("Folder upload staged")

	writeJSON(w, http.StatusOK, UploadFolderDTO{SourcePath: dir, Files: saved, TotalBytes: total})
}

// File accepts a single "file" form entry and stages it in its own
// directory.
func (h *UploadsHandler) File(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, fh, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required", err.Error())
		return
	}
	defer file.Close()

	name := filepath.Base(sanitizeRelPath(fh.Filename))
	if name == "" || name == "." {
		name = "upload.bin"
	}

	dir, err := h.stagingDir()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create staging dir", err.Error())
		return
	}

	dst := filepath.Join(dir, name)
	out, err := os.Create(dst)
	if err != nil {
		os.RemoveAll(dir)
		writeError(w, http.StatusInternalServerError, "failed to save upload", err.Error())
		return
	}
	n, err := io.Copy(out, file)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.RemoveAll(dir)
		writeError(w, http.StatusInternalServerError, "failed to save upload", err.Error())
		return
	}

	h.logger.Info().Str("path", dst).Int64("bytes", n).Msg("File upload staged")
	writeJSON(w, http.StatusOK, UploadFileDTO{Path: dst, Size: n})
}

func (h *UploadsHandler) stagingDir() (string, error) {
	if err := os.MkdirAll(h.baseDir, 0o755); err != nil {
		return "", err
	}
	return os.MkdirTemp(h.baseDir, "upload-")
}

// sanitizeRelPath rebuilds a client-supplied relative path from its safe
// segments. Empty, "." and ".." segments are dropped and backslashes are
// treated as separators, so the result can never escape the staging dir.
func sanitizeRelPath(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	var parts []string
	for _, seg := range strings.Split(name, "/") {
		seg = strings.TrimSpace(seg)
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		parts = append(parts, seg)
	}
	return filepath.Join(parts...)
}

func saveUpload(fh *multipart.FileHeader, dst string) (int64, error) {
	src, err := fh.Open()
	if err != nil {
		return 0, err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}
