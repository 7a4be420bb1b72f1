package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// newCancelCmd creates the cancel subcommand.
func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel JOB_ID",
		Short: "Request cancellation of a server job",
		Long: `Cancel asks the server to stop a running job. The pipeline stops
between files, runs its cleanup and closes the event stream; outputs
already written stay on disk.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			client := newAPIClient(resolveServer(cfg))
			if err := client.cancelJob(ctx, args[0]); err != nil {
				return err
			}

			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{
					"jobId":  args[0],
					"status": "cancelling",
				})
			}

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()
			ui.Success("Cancellation requested for job %s", args[0])
			return nil
		},
	}
}
