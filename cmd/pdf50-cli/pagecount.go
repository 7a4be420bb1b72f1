package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mattiianni/Pdf50/internal/pdfops"
)

// newPageCountCmd creates the pagecount subcommand.
func newPageCountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pagecount PDF...",
		Short: "Count the pages of one or more PDFs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine := pdfops.NewEngine(logger)

			type entry struct {
				Path  string `json:"path"`
				Pages int    `json:"pages,omitempty"`
				Error string `json:"error,omitempty"`
			}
			results := make([]entry, 0, len(args))
			totalPages, failed := 0, 0

			for _, path := range args {
				if err := pdfops.ValidatePDFPath(path); err != nil {
					results = append(results, entry{Path: path, Error: err.Error()})
					failed++
					continue
				}
				pages, err := engine.PageCount(path)
				if err != nil {
					results = append(results, entry{Path: path, Error: err.Error()})
					failed++
					continue
				}
				results = append(results, entry{Path: path, Pages: pages})
				totalPages += pages
			}

			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(results); err != nil {
					return err
				}
			} else {
				ui := NewUI(outputJSON, noColor)
				defer ui.Close()

				rows := make([][]string, 0, len(results))
				for _, res := range results {
					pages := res.Error
					if res.Error == "" {
						pages = strconv.Itoa(res.Pages)
					}
					rows = append(rows, []string{res.Path, pages})
				}
				ui.Table([]string{"FILE", "PAGES"}, rows)
				if len(args) > 1 {
					ui.Success("%d pages across %d files", totalPages, len(args)-failed)
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d files could not be read", failed, len(args))
			}
			return nil
		},
	}
}
