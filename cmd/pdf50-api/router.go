// Package main provides the pdf50 API server.
package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/mattiianni/Pdf50/cmd/pdf50-api/handlers"
	"github.com/mattiianni/Pdf50/cmd/pdf50-api/middleware"
	"github.com/mattiianni/Pdf50/internal/api/rpc"
	"github.com/mattiianni/Pdf50/internal/cache"
	"github.com/mattiianni/Pdf50/internal/config"
	"github.com/mattiianni/Pdf50/internal/convert"
	"github.com/mattiianni/Pdf50/internal/job"
	"github.com/mattiianni/Pdf50/internal/observability"
	"github.com/mattiianni/Pdf50/internal/pdfops"
	"github.com/mattiianni/Pdf50/internal/pipeline"
	"github.com/mattiianni/Pdf50/internal/scan"
)

// NewRouter creates the API router with all routes and their collaborators
// configured. Missing external tools disable their features instead of
// refusing to start; what ended up available is reported by /system/info.
func NewRouter(logger *observability.Logger, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"pdf50"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ready"}`))
	})

	// PDF engine and external tools
	engine := pdfops.NewEngine(logger)

	lo, err := convert.NewLibreOffice(cfg.Tools.LibreOffice, cfg.Tools.ConvertTimeout, logger)
	var office convert.OfficeConverter
	if err != nil {
		logger.Warn().Err(err).Msg("LibreOffice not found, office conversion disabled")
	} else {
		office = lo
	}

	ocr := convert.NewOCR(cfg.Tools.OCRmyPDF, cfg.Pipeline.OCRLanguage, cfg.Tools.OCRTimeout, logger)
	if !ocr.Available() {
		logger.Warn().Msg("ocrmypdf not found, OCR text layers disabled")
	}

	p7m := convert.NewP7MExtractor(cfg.Tools.OpenSSL, cfg.Tools.ConvertTimeout, logger)
	dispatcher := convert.NewDispatcher(office, engine, p7m, logger)

	compressor := pdfops.NewCompressor(cfg.Tools.Ghostscript, cfg.Tools.CompressTimeout, engine, logger)

	var ocrEngine pdfops.OCREngine
	tess, err := pdfops.NewTesseractEngine(cfg.Pipeline.OCRLanguage)
	if err != nil {
		logger.Warn().Err(err).Msg("Tesseract unavailable, extract-text OCR fallback disabled")
	} else {
		ocrEngine = tess
	}

	cacheClient, err := cache.New(cfg.Cache)
	if err != nil {
		logger.Warn().Err(err).Msg("Cache unavailable, continuing without")
		cacheClient = cache.NopClient{}
	}

	splitter := pdfops.NewSplitter(engine, pdfops.SplitterConfig{
		TargetBytes:   cfg.Pipeline.TargetBytes,
		MaxProbeDepth: cfg.Pipeline.MaxProbeDepth,
		PartLabel:     cfg.Pipeline.PartLabel,
	}, logger)

	// Job engine
	registry := job.NewRegistry(cfg.Jobs.MaxFinished, cfg.Jobs.Retention)
	executor := pipeline.New(logger, pipeline.Config{
		LimitBytes: cfg.Pipeline.LimitBytes,
		TempBase:   cfg.TempBase(),
	}, scan.NewScanner(), dispatcher, ocr, engine, splitter)

	tools := handlers.ToolsDTO{
		OCRmyPDF: handlers.ToolDTO{
			Available: ocr.Available(),
			Path:      ocr.Binary(),
			Version:   handlers.ProbeVersion(ocr.Binary()),
		},
		Ghostscript: handlers.ToolDTO{
			Available: compressor.Available(),
			Path:      compressor.Binary(),
			Version:   handlers.ProbeVersion(compressor.Binary()),
		},
		Tesseract: handlers.ToolDTO{
			Available: ocrEngine != nil,
			Version:   pdfops.TesseractVersion(),
		},
	}
	if office != nil {
		tools.LibreOffice = handlers.ToolDTO{
			Available: true,
			Path:      lo.Binary(),
			Version:   handlers.ProbeVersion(lo.Binary()),
		}
	}

	// Initialize handlers
	jobsHandler := handlers.NewJobsHandler(logger, registry, executor)
	streamHandler := handlers.NewStreamHandler(logger, registry)
	uploadsHandler := handlers.NewUploadsHandler(logger, cfg.UploadBase(), cfg.Uploads.MaxBytes)
	pdfHandler := handlers.NewPDFHandler(logger, engine, compressor,
		pdfops.NewTextExtractor(ocrEngine, logger),
		pdfops.NewTextExtractor(nil, logger),
		cacheClient, cfg.Cache.TTL)
	systemHandler := handlers.NewSystemHandler(logger, handlers.SystemConfig{
		Tools:       tools,
		Limits:      handlers.LimitsDTO{LimitBytes: cfg.Pipeline.LimitBytes, TargetBytes: cfg.Pipeline.TargetBytes},
		CacheDriver: cfg.Cache.Driver,
		TempBase:    cfg.TempBase(),
		UploadBase:  cfg.UploadBase(),
	})

	// Connect RPC surface, sharing the registry and executor with REST
	rpcPath, rpcHandler := rpc.NewJobServiceHandler(rpc.NewJobService(logger, registry, executor))
	r.Mount(rpcPath, rpcHandler)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Event streams outlive any request timeout.
		r.Get("/jobs/{jobID}/events", streamHandler.Events)
		r.Get("/jobs/{jobID}/ws", streamHandler.WebSocket)

		r.Group(func(r chi.Router) {
			if cfg.Server.ReadTimeout > 0 {
				r.Use(chimiddleware.Timeout(cfg.Server.ReadTimeout))
			}

			r.Post("/jobs", jobsHandler.Create)
			r.Get("/jobs", jobsHandler.List)
			r.Get("/jobs/{jobID}", jobsHandler.Get)
			r.Post("/jobs/{jobID}/cancel", jobsHandler.Cancel)

			r.Post("/uploads/folder", uploadsHandler.Folder)
			r.Post("/uploads/file", uploadsHandler.File)

			r.Post("/pdf/page-count", pdfHandler.PageCount)
			r.Post("/pdf/extract-text", pdfHandler.ExtractText)
			r.Post("/pdf/compress", pdfHandler.Compress)
			r.Post("/pdf/split-ranges", pdfHandler.SplitRanges)
			r.Post("/pdf/split-size", pdfHandler.SplitSize)

			r.Get("/system/info", systemHandler.Info)
			r.Post("/system/cleanup-temp", systemHandler.CleanupTemp)
		})
	})

	return r
}
