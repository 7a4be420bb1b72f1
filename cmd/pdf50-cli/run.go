package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"

	"github.com/mattiianni/Pdf50/internal/config"
	"github.com/mattiianni/Pdf50/internal/convert"
	"github.com/mattiianni/Pdf50/internal/job"
	"github.com/mattiianni/Pdf50/internal/observability"
	"github.com/mattiianni/Pdf50/internal/pdfops"
	"github.com/mattiianni/Pdf50/internal/pipeline"
	"github.com/mattiianni/Pdf50/internal/scan"
)

// newRunCmd creates the run subcommand.
func newRunCmd() *cobra.Command {
	var (
		output   string
		mode     string
		name     string
		limitMB  float64
		targetMB float64
	)

	cmd := &cobra.Command{
		Use:   "run SOURCE_DIR",
		Short: "Convert a folder into size-bounded PDFs locally",
		Long: `Run executes the whole pipeline in-process: scan the source folder,
convert everything to PDF, apply an OCR text layer, merge, and split any
output that exceeds the size limit.

With --mode per_folder each top-level subfolder becomes its own output
PDF; the default unified mode merges the whole tree into one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := job.ParseMode(mode)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if limitMB > 0 {
				cfg.Pipeline.LimitBytes = int64(limitMB * 1024 * 1024)
			}
			if targetMB > 0 {
				cfg.Pipeline.TargetBytes = int64(targetMB * 1024 * 1024)
			}

			executor := buildExecutor(cfg, logger)
			registry := job.NewRegistry(0, 0)
			j := registry.Create(job.CreateParams{
				Mode:        m,
				SourcePath:  args[0],
				OutputPath:  output,
				DisplayName: name,
			})

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()
			ui.Info("Processing %s", args[0])

			executor.Start(j)

			// Ctrl+C requests a cooperative stop; the pipeline still runs
			// its cleanup and closes the event log.
			go func() {
				<-ctx.Done()
				registry.Cancel(j.ID)
			}()

			render := newEventRenderer(ui)
			cursor := 0
			for {
				evs, finished, err := j.Log.Wait(context.Background(), cursor)
				if err != nil {
					return err
				}
				for _, ev := range evs {
					render.observe(ev)
				}
				cursor += len(evs)
				if finished {
					break
				}
			}
			render.finish()

			if j.Cancelled() {
				ui.Warning("Run cancelled")
				return nil
			}
			if render.fatal != "" {
				return fmt.Errorf("run failed: %s", render.fatal)
			}
			if render.done {
				summarizeOutputs(ui, render.outputs, render.errs)
				ui.Success("%d PDFs created in %s", len(render.outputs), FormatDuration(time.Since(j.CreatedAt)))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output directory for the final PDFs (required)")
	cmd.Flags().StringVar(&mode, "mode", string(job.ModeUnified), "pipeline mode: unified or per_folder")
	cmd.Flags().StringVar(&name, "name", "", "display name for the output, defaults to the source folder name")
	cmd.Flags().Float64Var(&limitMB, "limit-mb", 0, "override the single-output size ceiling in MiB")
	cmd.Flags().Float64Var(&targetMB, "target-mb", 0, "override the split part target size in MiB")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

// buildExecutor assembles the pipeline collaborators the way the server
// does, minus the pieces only HTTP routes need. Missing tools degrade to
// warnings, not startup failures.
func buildExecutor(cfg *config.Config, logger *observability.Logger) *pipeline.Executor {
	engine := pdfops.NewEngine(logger)

	var office convert.OfficeConverter
	if lo, err := convert.NewLibreOffice(cfg.Tools.LibreOffice, cfg.Tools.ConvertTimeout, logger); err != nil {
		logger.Warn().Err(err).Msg("LibreOffice not found, office conversion disabled")
	} else {
		office = lo
	}

	ocr := convert.NewOCR(cfg.Tools.OCRmyPDF, cfg.Pipeline.OCRLanguage, cfg.Tools.OCRTimeout, logger)
	if !ocr.Available() {
		logger.Warn().Msg("ocrmypdf not found, outputs will not be searchable")
	}

	p7m := convert.NewP7MExtractor(cfg.Tools.OpenSSL, cfg.Tools.ConvertTimeout, logger)
	dispatcher := convert.NewDispatcher(office, engine, p7m, logger)

	splitter := pdfops.NewSplitter(engine, pdfops.SplitterConfig{
		TargetBytes:   cfg.Pipeline.TargetBytes,
		MaxProbeDepth: cfg.Pipeline.MaxProbeDepth,
		PartLabel:     cfg.Pipeline.PartLabel,
	}, logger)

	return pipeline.New(logger, pipeline.Config{
		LimitBytes: cfg.Pipeline.LimitBytes,
		TempBase:   cfg.TempBase(),
	}, scan.NewScanner(), dispatcher, ocr, engine, splitter)
}

// eventRenderer turns a job's event log into terminal output: one
// progress bar per operation and scope, plain lines for the rest. In JSON
// mode it prints each event as a JSON line instead.
type eventRenderer struct {
	ui      *UI
	bars    map[string]*mpb.Bar
	stage   *mpb.Bar
	outputs []job.Output
	errs    []job.FileError
	fatal   string
	done    bool
}

func newEventRenderer(ui *UI) *eventRenderer {
	return &eventRenderer{ui: ui, bars: make(map[string]*mpb.Bar)}
}

func (r *eventRenderer) observe(ev job.Event) {
	if outputJSON {
		_ = json.NewEncoder(os.Stdout).Encode(ev)
	}

	switch ev.Type {
	case job.EventStageStarted:
		r.endStage()
		r.stage = r.ui.Spinner(ev.Message)
	case job.EventScanComplete:
		r.ui.Step("Found %d supported files", ev.Total)
	case job.EventGroupStarted:
		r.ui.Step("Folder %d/%d: %s", ev.Current, ev.Total, ev.Group)
	case job.EventUnitProgress:
		r.endStage()
		key := ev.Op + "|" + ev.Group
		bar := r.bars[key]
		if bar == nil {
			bar = r.ui.ProgressBar(opLabel(ev.Op, ev.Group), int64(ev.Total))
			r.bars[key] = bar
		}
		if bar != nil {
			bar.SetCurrent(int64(ev.Current))
		}
	case job.EventSplitProgress:
		r.endStage()
		key := "split|" + ev.Group
		bar := r.bars[key]
		if bar == nil {
			bar = r.ui.ProgressBar("split "+ev.Group, int64(ev.Parts))
			r.bars[key] = bar
		}
		if bar != nil {
			bar.SetCurrent(int64(ev.Part))
		}
	case job.EventLogLine:
		if verbose {
			r.ui.Step("%s", ev.Message)
		}
	case job.EventFatalError:
		r.fatal = ev.Message
		if r.stage != nil {
			r.stage.Abort(true)
			r.stage = nil
		}
		r.ui.Error("%s", ev.Message)
	case job.EventPipelineDone:
		r.endStage()
		r.outputs = ev.Outputs
		r.errs = ev.Errors
		r.done = true
	}
}

// endStage completes the active stage spinner. A stage hands off to a
// progress bar as soon as determinate counts arrive, so the spinner only
// covers the lead-in.
func (r *eventRenderer) endStage() {
	if r.stage != nil && !r.stage.Completed() {
		r.stage.SetTotal(-1, true)
	}
	r.stage = nil
}

// finish drops bars a failed or cancelled run left incomplete so Close
// does not wait on them.
func (r *eventRenderer) finish() {
	if r.stage != nil && !r.stage.Completed() {
		r.stage.Abort(true)
	}
	for _, bar := range r.bars {
		if bar != nil && !bar.Completed() {
			bar.Abort(true)
		}
	}
}

func opLabel(op, group string) string {
	label := op
	switch op {
	case "convert":
		label = "converting"
	case "ocr":
		label = "OCR"
	}
	if group != "" {
		label += " " + group
	}
	return label
}
