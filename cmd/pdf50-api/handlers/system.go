package handlers

import (
	"context"
	"encoding/json"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/mattiianni/Pdf50/internal/observability"
)

// ToolDTO reports one external tool.
type ToolDTO struct {
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
}

// ToolsDTO reports every external tool the service can call.
type ToolsDTO struct {
	LibreOffice ToolDTO `json:"libreoffice"`
	OCRmyPDF    ToolDTO `json:"ocrmypdf"`
	Ghostscript ToolDTO `json:"ghostscript"`
	Tesseract   ToolDTO `json:"tesseract"`
}

// LimitsDTO echoes the configured size bounds.
type LimitsDTO struct {
	LimitBytes  int64 `json:"limit_bytes"`
	TargetBytes int64 `json:"target_bytes"`
}

// SystemInfoDTO is the full info report.
type SystemInfoDTO struct {
	Service     string    `json:"service"`
	GoVersion   string    `json:"go_version"`
	Platform    string    `json:"platform"`
	Tools       ToolsDTO  `json:"tools"`
	Limits      LimitsDTO `json:"limits"`
	CacheDriver string    `json:"cache_driver"`
}

// SystemConfig carries what the info route reports and the directories
// cleanup is allowed to touch.
type SystemConfig struct {
	Tools       ToolsDTO
	Limits      LimitsDTO
	CacheDriver string
	TempBase    string
	UploadBase  string
}

// SystemHandler reports tool availability and owns temp-space janitorial
// work. Tool versions are probed once at startup, not per request.
type SystemHandler struct {
	logger     *observability.Logger
	info       SystemInfoDTO
	tempBase   string
	uploadBase string
}

// NewSystemHandler creates a new system handler.
func NewSystemHandler(logger *observability.Logger, cfg SystemConfig) *SystemHandler {
	return &SystemHandler{
		logger: logger,
		info: SystemInfoDTO{
			Service:     "pdf50",
			GoVersion:   runtime.Version(),
			Platform:    runtime.GOOS + "/" + runtime.GOARCH,
			Tools:       cfg.Tools,
			Limits:      cfg.Limits,
			CacheDriver: cfg.CacheDriver,
		},
		tempBase:   cfg.TempBase,
		uploadBase: cfg.UploadBase,
	}
}

// Info returns the startup snapshot of tools, limits and runtime.
func (h *SystemHandler) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.info)
}

// CleanupRequestDTO names a directory to delete.
type CleanupRequestDTO struct {
	Path string `json:"path"`
}

// CleanupDTO reports what a cleanup removed.
type CleanupDTO struct {
	Removed    int   `json:"removed"`
	FreedBytes int64 `json:"freed_bytes"`
}

// CleanupTemp deletes the given directory, typically an upload staging dir
// the client no longer needs. Only paths strictly inside the service's
// temp or upload base are touched; anything else is ignored, never an
// error.
func (h *SystemHandler) CleanupTemp(w http.ResponseWriter, r *http.Request) {
	var req CleanupRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	target := strings.TrimSpace(req.Path)
	if target == "" || !filepath.IsAbs(target) {
		writeJSON(w, http.StatusOK, CleanupDTO{})
		return
	}
	if !underBase(target, h.tempBase) && !underBase(target, h.uploadBase) {
		h.logger.Warn().Str("path", target).Msg("Cleanup refused outside temp base")
		writeJSON(w, http.StatusOK, CleanupDTO{})
		return
	}

	removed, freed := measureTree(target)
	if err := os.RemoveAll(target); err != nil {
		h.logger.Warn().Err(err).Str("path", target).Msg("Cleanup failed")
		writeJSON(w, http.StatusOK, CleanupDTO{})
		return
	}

	h.logger.Info().Str("path", target).Int("files", removed).Int64("bytes", freed).Msg("Temp dir removed")
	writeJSON(w, http.StatusOK, CleanupDTO{Removed: removed, FreedBytes: freed})
}

// underBase reports whether path sits strictly inside base.
func underBase(path, base string) bool {
	if base == "" {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(base), filepath.Clean(path))
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func measureTree(root string) (int, int64) {
	var files int
	var total int64
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			files++
			total += info.Size()
		}
		return nil
	})
	return files, total
}

// ProbeVersion runs "binary --version" with a short timeout and returns
// the first line of output, empty when the tool cannot answer.
func ProbeVersion(binary string) string {
	if binary == "" {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, binary, "--version").Output()
	if err != nil {
		return ""
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line)
}
