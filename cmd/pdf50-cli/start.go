package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mattiianni/Pdf50/internal/job"
)

// newStartCmd creates the start subcommand.
func newStartCmd() *cobra.Command {
	var (
		output string
		mode   string
		name   string
		watch  bool
	)

	cmd := &cobra.Command{
		Use:   "start SOURCE_DIR",
		Short: "Submit a conversion job to a pdf50 server",
		Long: `Start posts a job to the server's HTTP API and prints its ID. Source
and output paths are resolved on the server, so they must be visible from
where the server runs.

With --watch the command stays attached and renders progress until the
job finishes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client := newAPIClient(resolveServer(cfg))
			created, err := client.startJob(ctx, startJobRequest{
				SourcePath:  args[0],
				OutputPath:  output,
				Mode:        mode,
				DisplayName: name,
			})
			if err != nil {
				return err
			}

			if outputJSON && !watch {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{
					"jobId": created.JobID,
					"mode":  created.Mode,
				})
			}

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()

			ui.Success("Job %s accepted (%s mode)", created.JobID, created.Mode)
			if !watch {
				ui.Info("Follow it with: pdf50 watch %s", created.JobID)
				return nil
			}
			return watchJob(ctx, client, created.JobID, ui, 0)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output directory on the server (required)")
	cmd.Flags().StringVar(&mode, "mode", string(job.ModeUnified), "pipeline mode: unified or per_folder")
	cmd.Flags().StringVar(&name, "name", "", "display name for the job, defaults to the source folder name")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "stay attached and render progress")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}
