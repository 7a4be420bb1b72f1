package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/mattiianni/Pdf50/internal/job"
)

// newWatchCmd creates the watch subcommand.
func newWatchCmd() *cobra.Command {
	var cursor int

	cmd := &cobra.Command{
		Use:   "watch JOB_ID",
		Short: "Follow a server job's progress",
		Long: `Watch attaches to the job's event stream and renders its progress until
the job finishes. A dropped connection is re-attached from the last seen
event, so nothing is missed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client := newAPIClient(resolveServer(cfg))
			ui := NewUI(outputJSON, noColor)
			defer ui.Close()

			return watchJob(ctx, client, args[0], ui, cursor)
		},
	}

	cmd.Flags().IntVar(&cursor, "cursor", 0, "resume the stream from this event index")
	return cmd
}

// watchJob follows one server job to its end, re-attaching on transient
// stream failures from the last seen event index.
func watchJob(ctx context.Context, client *apiClient, jobID string, ui *UI, cursor int) error {
	r := &remoteRenderer{ui: ui, next: cursor}
	defer r.quiet()

	attempts := 0
	for !r.sawEnd {
		err := client.streamEvents(ctx, jobID, r.next, func(ev job.Event) error {
			attempts = 0
			r.next = ev.Index + 1
			r.observe(ev)
			return nil
		})
		if r.sawEnd {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && r.next == cursor {
			// Nothing ever arrived: unknown job or unreachable server.
			return err
		}

		// The stream ended before end-of-stream: server restart or a
		// broken connection. Re-attach from the cursor.
		attempts++
		if attempts > 5 {
			if err != nil {
				return err
			}
			return fmt.Errorf("stream ended before the job finished")
		}
		r.quiet()
		ui.Warning("Stream dropped, re-attaching from event %d", r.next)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	r.quiet()

	if r.fatal != "" {
		return fmt.Errorf("job failed: %s", r.fatal)
	}
	if !r.done {
		if snap, err := client.getJob(ctx, jobID); err == nil && snap.Cancelled {
			ui.Warning("Job cancelled")
		} else {
			ui.Warning("Job ended without a result")
		}
		return nil
	}

	summarizeOutputs(ui, r.outputs, r.errs)
	ui.Success("%d PDFs created", len(r.outputs))
	return nil
}

// remoteRenderer draws a remote job: a spinner for indeterminate stages,
// a single progress bar for whichever per-unit operation is running. In
// JSON mode it prints each event as a JSON line instead.
type remoteRenderer struct {
	ui     *UI
	next   int
	bar    *progressbar.ProgressBar
	barKey string
	spin   *spinner.Spinner

	outputs []job.Output
	errs    []job.FileError
	fatal   string
	done    bool
	sawEnd  bool
}

func (r *remoteRenderer) observe(ev job.Event) {
	switch ev.Type {
	case job.EventFatalError:
		r.fatal = ev.Message
	case job.EventPipelineDone:
		r.outputs = ev.Outputs
		r.errs = ev.Errors
		r.done = true
	case job.EventEndOfStream:
		r.sawEnd = true
	}

	if outputJSON {
		_ = json.NewEncoder(os.Stdout).Encode(ev)
		return
	}

	switch ev.Type {
	case job.EventStageStarted:
		r.quiet()
		r.spinTo(ev.Message)
	case job.EventScanComplete:
		r.quiet()
		r.ui.Step("Found %d supported files", ev.Total)
	case job.EventGroupStarted:
		r.quiet()
		r.ui.Step("Folder %d/%d: %s", ev.Current, ev.Total, ev.Group)
	case job.EventUnitProgress:
		r.barTo(ev.Op+"|"+ev.Group, opLabel(ev.Op, ev.Group), ev.Total, ev.Current)
	case job.EventSplitProgress:
		r.barTo("split|"+ev.Group, "splitting "+ev.Group, ev.Parts, ev.Part)
	case job.EventLogLine:
		if verbose {
			r.quiet()
			r.ui.Step("%s", ev.Message)
		}
	case job.EventFatalError:
		r.quiet()
		r.ui.Error("%s", ev.Message)
	}
}

func (r *remoteRenderer) spinTo(message string) {
	if r.spin == nil {
		r.spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		r.spin.Writer = os.Stderr
	}
	r.spin.Suffix = " " + message
	if !r.spin.Active() {
		r.spin.Start()
	}
}

func (r *remoteRenderer) barTo(key, description string, total, current int) {
	if r.spin != nil && r.spin.Active() {
		r.spin.Stop()
	}
	if r.bar == nil || r.barKey != key {
		r.finishBar()
		r.barKey = key
		r.bar = progressbar.NewOptions64(int64(total),
			progressbar.OptionSetDescription(description),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprint(os.Stderr, "\n")
			}),
		)
	}
	r.bar.ChangeMax64(int64(total))
	_ = r.bar.Set64(int64(current))
}

func (r *remoteRenderer) finishBar() {
	if r.bar != nil {
		_ = r.bar.Finish()
		r.bar = nil
		r.barKey = ""
	}
}

// quiet stops any live spinner or bar so plain lines print cleanly.
func (r *remoteRenderer) quiet() {
	if r.spin != nil && r.spin.Active() {
		r.spin.Stop()
	}
	r.finishBar()
}

// summarizeOutputs prints the artifact table and any skipped files.
func summarizeOutputs(ui *UI, outputs []job.Output, errs []job.FileError) {
	rows := make([][]string, 0, len(outputs))
	for _, out := range outputs {
		parts := "-"
		if len(out.Parts) > 0 {
			parts = fmt.Sprintf("%d", len(out.Parts))
		}
		rows = append(rows, []string{out.Name, out.Kind, FormatBytes(out.Size), parts})
	}
	if len(rows) > 0 {
		ui.Newline()
		ui.Table([]string{"OUTPUT", "KIND", "SIZE", "PARTS"}, rows)
	}

	if len(errs) > 0 {
		ui.Warning("%d files skipped", len(errs))
		for _, fe := range errs {
			ui.Step("%s: %s", fe.File, fe.Error)
		}
	}
}
