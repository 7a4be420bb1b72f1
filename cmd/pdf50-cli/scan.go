package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mattiianni/Pdf50/internal/job"
	"github.com/mattiianni/Pdf50/internal/scan"
)

// newScanCmd creates the scan subcommand.
func newScanCmd() *cobra.Command {
	var (
		mode string
		name string
	)

	cmd := &cobra.Command{
		Use:   "scan SOURCE_DIR",
		Short: "Preview what a source folder would produce",
		Long: `Scan lists the supported files under a folder in processing order and
shows how per_folder mode would group them, without converting anything.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := job.ParseMode(mode)
			if err != nil {
				return err
			}

			files, err := scan.NewScanner().Scan(args[0])
			if err != nil {
				return err
			}

			rootName := name
			if rootName == "" {
				rootName = filepath.Base(filepath.Clean(args[0]))
			}
			groups := scan.GroupByFolder(files, rootName)

			var totalBytes int64
			for _, f := range files {
				totalBytes += f.Size
			}

			if outputJSON {
				type groupOut struct {
					Key   string   `json:"key"`
					Files []string `json:"files"`
					Bytes int64    `json:"bytes"`
				}
				out := make([]groupOut, 0, len(groups))
				for _, g := range groups {
					var bytes int64
					paths := make([]string, 0, len(g.Files))
					for _, f := range g.Files {
						bytes += f.Size
						paths = append(paths, f.RelPath)
					}
					out = append(out, groupOut{Key: g.Key, Files: paths, Bytes: bytes})
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{
					"files":      len(files),
					"totalBytes": totalBytes,
					"groups":     out,
				})
			}

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()

			ui.Section("Scan preview")
			ui.KeyValue("Source", args[0])
			ui.KeyValue("Files", len(files))
			ui.KeyValue("Total size", FormatBytes(totalBytes))
			ui.Newline()

			rows := make([][]string, 0, len(groups))
			for _, g := range groups {
				var bytes int64
				for _, f := range g.Files {
					bytes += f.Size
				}
				rows = append(rows, []string{g.Key, strconv.Itoa(len(g.Files)), FormatBytes(bytes)})
			}
			ui.Table([]string{"GROUP", "FILES", "SIZE"}, rows)

			if verbose {
				ui.Newline()
				fileRows := make([][]string, 0, len(files))
				for _, f := range files {
					date := "-"
					if !f.SortDate.IsZero() {
						date = f.SortDate.Format("2006-01-02")
					}
					fileRows = append(fileRows, []string{f.RelPath, date, FormatBytes(f.Size)})
				}
				ui.Table([]string{"FILE", "DATE", "SIZE"}, fileRows)
			}

			ui.Newline()
			if m == job.ModePerFolder {
				ui.Success("per_folder mode would produce %d PDFs", len(groups))
			} else {
				ui.Success("unified mode would merge %d files into one PDF", len(files))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(job.ModeUnified), "pipeline mode to preview: unified or per_folder")
	cmd.Flags().StringVar(&name, "name", "", "display name, defaults to the source folder name")

	return cmd
}
