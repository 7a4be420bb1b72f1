// Package pipeline drives a conversion job from scan to saved output:
// every supported file is converted to PDF and OCRed, the results are
// merged per scope and the merged document is saved directly or split
// into size-bounded parts. Progress, warnings and results are reported
// through the job's event log; the worker owns a private temp directory
// that is removed on every exit path.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/mattiianni/Pdf50/internal/job"
	"github.com/mattiianni/Pdf50/internal/observability"
	"github.com/mattiianni/Pdf50/internal/pdfops"
	"github.com/mattiianni/Pdf50/internal/scan"
)

// Stage tags carried by stage-started events.
const (
	stageScan    = "scan"
	stageConvert = "convert"
	stageMerge   = "merge"
	stageSave    = "save"
)

// Operation tags carried by unit-progress events.
const (
	opConvert = "convert"
	opOCR     = "ocr"
)

// Scanner lists the convertible files under a source root.
type Scanner interface {
	Scan(root string) ([]scan.File, error)
}

// Converter turns a single input file into a PDF inside workDir. Failures
// are per file and never abort the run.
type Converter interface {
	Convert(ctx context.Context, path, workDir string) (string, error)
}

// OCR adds a text layer to a converted PDF. Implementations write outPath
// even on failure, falling back to a plain copy of the input.
type OCR interface {
	ApplyTextLayer(inPath, outPath string) error
}

// Merger concatenates PDFs and reports page counts.
type Merger interface {
	Merge(ctx context.Context, inputs []string, outPath string) (*pdfops.MergeReport, error)
	PageCount(path string) (int, error)
}

// Splitter cuts an oversized merged PDF into parts under a target size.
type Splitter interface {
	Split(ctx context.Context, src string, totalPages int, outDir, baseName string, onPart func(i, total int, p pdfops.Part)) ([]pdfops.Part, error)
}

// Config bounds an Executor. LimitBytes is the hard ceiling for a single
// output PDF; merged documents above it are split. TempBase is the parent
// for per-job work directories, the system temp dir when empty.
type Config struct {
	LimitBytes int64
	TempBase   string
}

// Executor runs jobs against a fixed set of collaborators. One Executor
// serves any number of concurrent jobs; each Run owns its job's worker
// and never touches another job's state.
type Executor struct {
	logger    *observability.Logger
	cfg       Config
	scanner   Scanner
	converter Converter
	ocr       OCR
	merger    Merger
	splitter  Splitter
}

// New creates an Executor.
func New(
	logger *observability.Logger,
	cfg Config,
	scanner Scanner,
	converter Converter,
	ocr OCR,
	merger Merger,
	splitter Splitter,
) *Executor {
	return &Executor{
		logger:    logger,
		cfg:       cfg,
		scanner:   scanner,
		converter: converter,
		ocr:       ocr,
		merger:    merger,
		splitter:  splitter,
	}
}

// Start launches the job's pipeline on a dedicated goroutine and returns
// immediately. Progress is observed through the job's event log.
func (e *Executor) Start(j *job.Job) {
	go e.Run(j)
}

// Run executes the whole pipeline for one job and blocks until terminal
// cleanup has finished. On every exit path, normal or not, the work
// directory is removed, a transient upload source is released, the job is
// marked done and exactly one end-of-stream event is appended last.
// Cancellation is cooperative: the flag is observed between files and
// between groups, never by interrupting an in-flight tool call.
func (e *Executor) Run(j *job.Job) {
	r := &run{exec: e, job: j, logger: e.logger.WithJob(j.ID)}

	defer r.finish()
	defer r.recoverPanic()

	r.logger.Info().
		Str("mode", string(j.Mode)).
		Str("source", j.SourcePath).
		Str("output", j.OutputPath).
		Msg("Starting job")

	tmpDir, err := e.makeWorkDir()
	if err != nil {
		r.fatal("creating work directory: " + err.Error())
		return
	}
	r.tmpDir = tmpDir

	switch j.Mode {
	case job.ModePerFolder:
		r.runPerFolder()
	default:
		r.runUnified()
	}
}

func (e *Executor) makeWorkDir() (string, error) {
	base := e.cfg.TempBase
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", err
	}
	return os.MkdirTemp(base, "pdf50-job-*")
}

// run is the per-job working state, owned by a single worker goroutine.
type run struct {
	exec   *Executor
	job    *job.Job
	logger *observability.Logger
	tmpDir string

	errs    []job.FileError
	outputs []job.Output
}

type convertedFile struct {
	path string
	name string
	rel  string
}

func (r *run) runUnified() {
	files, ok := r.scanStage()
	if !ok {
		return
	}
	name := r.displayName()

	r.stage(stageConvert, "Converting to PDF", "")
	ocrPDFs := r.convertAndOCR(files, r.tmpDir, "")
	if r.cancelled() {
		return
	}
	if len(ocrPDFs) == 0 {
		r.fatal("no files could be converted")
		return
	}

	r.stage(stageMerge, "Merging PDFs", "")
	r.logLine(fmt.Sprintf("merging %d PDFs", len(ocrPDFs)))

	mergedPath := filepath.Join(r.tmpDir, name+"_merged.pdf")
	if _, err := r.exec.merger.Merge(r.job.Context(), ocrPDFs, mergedPath); err != nil {
		if r.cancelled() {
			return
		}
		r.fatal("merging PDFs: " + err.Error())
		return
	}
	pages, err := r.exec.merger.PageCount(mergedPath)
	if err != nil {
		r.fatal("reading merged page count: " + err.Error())
		return
	}
	if info, err := os.Stat(mergedPath); err == nil {
		r.logLine(fmt.Sprintf("merged: %d pages, %s", pages, megabytes(info.Size())))
	}

	r.stage(stageSave, "Saving", "")
	out, err := r.saveOrSplit(mergedPath, pages, name)
	if err != nil {
		if r.cancelled() {
			return
		}
		r.fatal("saving output: " + err.Error())
		return
	}
	r.outputs = append(r.outputs, *out)

	r.summarizeErrors()
	r.logLine("processing complete")
	r.done()
}

func (r *run) runPerFolder() {
	files, ok := r.scanStage()
	if !ok {
		return
	}
	rootName := r.displayName()

	groups := scan.GroupByFolder(files, rootName)
	r.logLine(fmt.Sprintf("%d folders to process", len(groups)))

	for i, g := range groups {
		if r.cancelled() {
			r.logLine("cancelled")
			return
		}

		r.emit(job.Event{
			Type:    job.EventGroupStarted,
			Group:   g.Key,
			Current: i + 1,
			Total:   len(groups),
		})
		r.logLine(fmt.Sprintf("folder %d/%d: %q (%d files)", i+1, len(groups), g.Key, len(g.Files)))

		scopeDir := filepath.Join(r.tmpDir, fmt.Sprintf("group_%03d", i))
		if err := os.MkdirAll(scopeDir, 0o755); err != nil {
			r.recordGroupError(g.Key, "creating group work dir: "+err.Error())
			continue
		}

		r.stage(stageConvert, "Converting: "+g.Key, g.Key)
		ocrPDFs := r.convertAndOCR(g.Files, scopeDir, g.Key)
		if r.cancelled() {
			return
		}
		if len(ocrPDFs) == 0 {
			r.logLine(fmt.Sprintf("no files converted for %q, skipping folder", g.Key))
			continue
		}

		r.logLine(fmt.Sprintf("merging %d PDFs for %q", len(ocrPDFs), g.Key))
		mergedPath := filepath.Join(scopeDir, g.Key+"_merged.pdf")
		if _, err := r.exec.merger.Merge(r.job.Context(), ocrPDFs, mergedPath); err != nil {
			if r.cancelled() {
				return
			}
			r.recordGroupError(g.Key, "merge failed: "+err.Error())
			continue
		}
		pages, err := r.exec.merger.PageCount(mergedPath)
		if err != nil {
			r.recordGroupError(g.Key, "reading merged page count: "+err.Error())
			continue
		}
		if info, err := os.Stat(mergedPath); err == nil {
			r.logLine(fmt.Sprintf("merged %q: %d pages, %s", g.Key, pages, megabytes(info.Size())))
		}

		r.stage(stageSave, "Saving: "+g.Key, g.Key)
		out, err := r.saveOrSplit(mergedPath, pages, g.Key)
		if err != nil {
			if r.cancelled() {
				return
			}
			r.recordGroupError(g.Key, "saving output: "+err.Error())
			continue
		}
		r.outputs = append(r.outputs, *out)
	}

	r.summarizeErrors()
	r.logLine(fmt.Sprintf("processing complete, %d PDFs created", len(r.outputs)))
	r.done()
}

// scanStage runs the scan and reports whether the pipeline should proceed.
func (r *run) scanStage() ([]scan.File, bool) {
	r.stage(stageScan, "Scanning files", "")
	r.logLine("scanning " + r.job.SourcePath)

	files, err := r.exec.scanner.Scan(r.job.SourcePath)
	if err != nil {
		r.fatal("scanning source: " + err.Error())
		return nil, false
	}
	if len(files) == 0 {
		r.fatal("no supported files found")
		return nil, false
	}

	r.logLine(fmt.Sprintf("found %d supported files", len(files)))
	r.emit(job.Event{Type: job.EventScanComplete, Total: len(files)})
	return files, true
}

// convertAndOCR runs the two per-file phases over one scope. Conversion
// failures are recorded and skipped; OCR failures fall back to the plain
// converted PDF. A nil return means the run was cancelled mid-scope.
func (r *run) convertAndOCR(files []scan.File, scopeDir, group string) []string {
	convDir := filepath.Join(scopeDir, "conv")
	ocrDir := filepath.Join(scopeDir, "ocr")
	for _, dir := range []string{convDir, ocrDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			r.recordGroupError(group, "creating scope dirs: "+err.Error())
			return []string{}
		}
	}

	var converted []convertedFile
	total := len(files)

	for i, f := range files {
		if r.cancelled() {
			return nil
		}
		rel := f.RelPath

		r.progress(opConvert, rel, group, i+1, total)
		r.logLine(fmt.Sprintf("[%d/%d] converting %s", i+1, total, rel))

		pdfPath, err := r.exec.converter.Convert(r.job.Context(), f.Path, convDir)
		if err != nil {
			r.errs = append(r.errs, job.FileError{File: rel, Error: err.Error()})
			r.logLine(fmt.Sprintf("skipped %s: %v", rel, err))
			r.logger.Warn().Str("file", rel).Err(err).Msg("Conversion failed")
			continue
		}
		converted = append(converted, convertedFile{path: pdfPath, name: f.Name, rel: rel})
	}

	if len(converted) == 0 {
		return []string{}
	}

	var ocrPDFs []string
	for i, c := range converted {
		if r.cancelled() {
			return nil
		}

		r.progress(opOCR, c.rel, group, i+1, len(converted))
		r.logLine(fmt.Sprintf("[%d/%d] OCR %s", i+1, len(converted), c.name))

		out := filepath.Join(ocrDir, fmt.Sprintf("ocr_%05d.pdf", i))
		if err := r.exec.ocr.ApplyTextLayer(c.path, out); err != nil {
			r.logLine(fmt.Sprintf("OCR failed for %s, keeping plain copy: %v", c.name, err))
			r.logger.Warn().Str("file", c.rel).Err(err).Msg("OCR failed")
		}
		// The OCR collaborator copies the input through on failure. If even
		// that did not land, drop the file instead of feeding a hole to merge.
		if _, err := os.Stat(out); err != nil {
			r.errs = append(r.errs, job.FileError{File: c.rel, Error: "OCR produced no output"})
			continue
		}
		ocrPDFs = append(ocrPDFs, out)
	}
	return ocrPDFs
}

// saveOrSplit lands the merged document in the output directory: directly
// when it fits the limit, otherwise as the uncapped original plus a
// same-named subdirectory of size-bounded parts. Names never overwrite
// existing files.
func (r *run) saveOrSplit(mergedPath string, totalPages int, name string) (*job.Output, error) {
	info, err := os.Stat(mergedPath)
	if err != nil {
		return nil, fmt.Errorf("stat merged PDF: %w", err)
	}
	size := info.Size()

	if err := os.MkdirAll(r.job.OutputPath, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	final, base := uniquePath(r.job.OutputPath, name, ".pdf")

	if size <= r.exec.cfg.LimitBytes {
		if err := copyFile(mergedPath, final); err != nil {
			return nil, fmt.Errorf("copy %s: %w", base+".pdf", err)
		}
		r.logLine(fmt.Sprintf("saved %s (%d pages, %s)", base+".pdf", totalPages, megabytes(size)))
		return &job.Output{Name: base + ".pdf", Path: final, Size: size, Kind: job.OutputSingle}, nil
	}

	r.logLine(fmt.Sprintf("%s.pdf exceeds %s (%s), splitting", name, megabytes(r.exec.cfg.LimitBytes), megabytes(size)))

	if err := copyFile(mergedPath, final); err != nil {
		return nil, fmt.Errorf("copy %s: %w", base+".pdf", err)
	}
	r.logLine(fmt.Sprintf("saved uncapped original %s (%s)", base+".pdf", megabytes(size)))

	splitDir := filepath.Join(r.job.OutputPath, base)
	onPart := func(i, total int, p pdfops.Part) {
		r.emit(job.Event{Type: job.EventSplitProgress, Group: base, Part: i, Parts: total})
		r.logLine(fmt.Sprintf("  %s (%d pages, %s, pages %s)", p.Name, p.Pages, megabytes(p.Size), p.PageRange))
	}
	parts, err := r.exec.splitter.Split(r.job.Context(), mergedPath, totalPages, splitDir, base, onPart)
	if err != nil {
		return nil, fmt.Errorf("split %s: %w", base+".pdf", err)
	}
	r.logLine(fmt.Sprintf("split complete: %d parts", len(parts)))

	out := &job.Output{
		Name:  base + ".pdf",
		Path:  final,
		Size:  size,
		Kind:  job.OutputSplit,
		Parts: make([]job.PartInfo, 0, len(parts)),
	}
	for _, p := range parts {
		out.Parts = append(out.Parts, job.PartInfo{
			Name:  p.Name,
			Path:  p.Path,
			Pages: p.Pages,
			Range: p.PageRange,
			Size:  p.Size,
		})
	}
	return out, nil
}

func (r *run) displayName() string {
	if r.job.DisplayName != "" {
		return r.job.DisplayName
	}
	return filepath.Base(filepath.Clean(r.job.SourcePath))
}

func (r *run) cancelled() bool {
	return r.job.Cancelled()
}

func (r *run) emit(ev job.Event) {
	r.job.Log.Append(ev)
}

func (r *run) logLine(msg string) {
	r.emit(job.Event{Type: job.EventLogLine, Message: msg})
}

func (r *run) stage(stage, label, group string) {
	r.emit(job.Event{Type: job.EventStageStarted, Stage: stage, Message: label, Group: group})
}

func (r *run) progress(op, file, group string, current, total int) {
	r.emit(job.Event{
		Type:    job.EventUnitProgress,
		Op:      op,
		File:    file,
		Group:   group,
		Current: current,
		Total:   total,
		Percent: job.Percentage(current, total),
	})
}

// fatal reports a scope-fatal failure, attaching any per-file errors
// accumulated so far.
func (r *run) fatal(msg string) {
	r.logger.Error().Str("reason", msg).Msg("Pipeline failed")
	r.emit(job.Event{Type: job.EventFatalError, Message: msg, Errors: r.errs})
}

func (r *run) recordGroupError(group, msg string) {
	r.errs = append(r.errs, job.FileError{File: group, Error: msg})
	r.logLine(fmt.Sprintf("%s: %s", group, msg))
	r.logger.Warn().Str("group", group).Str("reason", msg).Msg("Folder skipped")
}

func (r *run) summarizeErrors() {
	if len(r.errs) == 0 {
		return
	}
	r.logLine(fmt.Sprintf("%d files were not processed:", len(r.errs)))
	for _, e := range r.errs {
		r.logLine(fmt.Sprintf("  %s: %s", e.File, e.Error))
	}
}

func (r *run) done() {
	r.emit(job.Event{Type: job.EventPipelineDone, Outputs: r.outputs, Errors: r.errs})
	r.logger.Info().
		Int("outputs", len(r.outputs)).
		Int("file_errors", len(r.errs)).
		Msg("Job completed")
}

// recoverPanic converts an executor panic into a fatal-error event so a
// broken run still terminates its stream instead of crashing the process.
func (r *run) recoverPanic() {
	if p := recover(); p != nil {
		r.logger.Error().
			Str("panic", fmt.Sprint(p)).
			Str("stack", string(debug.Stack())).
			Msg("Pipeline panicked")
		r.emit(job.Event{Type: job.EventFatalError, Message: fmt.Sprintf("internal error: %v", p), Errors: r.errs})
	}
}

// finish is the terminal transition, run on every exit path. Cleanup comes
// first, then the status flip, then end-of-stream, in that order.
func (r *run) finish() {
	if r.tmpDir != "" {
		os.RemoveAll(r.tmpDir)
	}
	if r.job.TransientSource {
		os.RemoveAll(r.job.SourcePath)
	}
	r.job.MarkDone()
	r.job.Log.Finish()
	r.logger.Info().Str("status", string(r.job.Status())).Bool("cancelled", r.job.Cancelled()).Msg("Job finished")
}

// uniquePath finds a non-colliding path for base+ext in dir, appending
// " (n)" to the base when needed. Returns the path and the chosen base.
func uniquePath(dir, base, ext string) (string, string) {
	name := base
	for n := 2; ; n++ {
		p := filepath.Join(dir, name+ext)
		if _, err := os.Stat(p); err != nil {
			return p, name
		}
		name = fmt.Sprintf("%s (%d)", base, n)
	}
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
		return err
	}
	return out.Close()
}

func megabytes(n int64) string {
	return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
}
