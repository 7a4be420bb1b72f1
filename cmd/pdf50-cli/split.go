package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/mattiianni/Pdf50/internal/pdfops"
)

// newSplitCmd creates the split subcommand.
func newSplitCmd() *cobra.Command {
	var (
		outputDir string
		targetMB  float64
		ranges    string
		label     string
		noTotal   bool
	)

	cmd := &cobra.Command{
		Use:   "split PDF",
		Short: "Split a PDF by size or by page ranges",
		Long: `Split cuts a PDF into parts. By default parts are size bounded:
sequential page runs are probed so every part stays under --target-mb.
With --ranges explicit 1-based inclusive page ranges are cut instead,
for example --ranges 1-10,11-25,26.

Parts are named "<name>_<label> N di M.pdf". Size-bounded parts land in
a subdirectory named after the source file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if err := pdfops.ValidatePDFPath(path); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			engine := pdfops.NewEngine(logger)
			total, err := engine.PageCount(path)
			if err != nil {
				return fmt.Errorf("count pages: %w", err)
			}

			outDir := outputDir
			if outDir == "" {
				outDir = filepath.Dir(path)
			}
			base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

			var parts []pdfops.Part
			var destDir string
			if ranges != "" {
				spans, err := parseRanges(ranges, total)
				if err != nil {
					return err
				}
				if err := os.MkdirAll(outDir, 0o755); err != nil {
					return fmt.Errorf("create output dir: %w", err)
				}
				destDir = outDir
				parts, err = writeRangeParts(engine, path, outDir, base, label, !noTotal, spans)
				if err != nil {
					return err
				}
			} else {
				targetBytes := cfg.Pipeline.TargetBytes
				if targetMB > 0 {
					targetBytes = int64(targetMB * 1024 * 1024)
				}
				destDir = filepath.Join(outDir, base)

				splitter := pdfops.NewSplitter(engine, pdfops.SplitterConfig{
					TargetBytes:   targetBytes,
					MaxProbeDepth: cfg.Pipeline.MaxProbeDepth,
					PartLabel:     label,
					OmitTotal:     noTotal,
				}, logger)

				var spin *spinner.Spinner
				if !outputJSON {
					spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
					spin.Writer = os.Stderr
					spin.Suffix = " probing part sizes"
					spin.Start()
				}
				onPart := func(i, n int, p pdfops.Part) {
					if spin != nil {
						spin.Suffix = fmt.Sprintf(" writing part %d/%d", i, n)
					}
				}
				parts, err = splitter.Split(ctx, path, total, destDir, base, onPart)
				if spin != nil {
					spin.Stop()
				}
				if err != nil {
					return fmt.Errorf("split: %w", err)
				}
			}

			if outputJSON {
				out := make([]map[string]interface{}, 0, len(parts))
				for _, p := range parts {
					out = append(out, map[string]interface{}{
						"name":  p.Name,
						"path":  p.Path,
						"pages": p.Pages,
						"range": p.PageRange,
						"size":  p.Size,
					})
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{"dir": destDir, "parts": out})
			}

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()

			rows := make([][]string, 0, len(parts))
			for _, p := range parts {
				rows = append(rows, []string{p.Name, strconv.Itoa(p.Pages), p.PageRange, FormatBytes(p.Size)})
			}
			ui.Table([]string{"PART", "PAGES", "RANGE", "SIZE"}, rows)
			ui.Success("%d parts written to %s", len(parts), destDir)
			return nil
		},
	}

	cmd.Flags().StringVar(&outputDir, "output-dir", "", "directory for the parts, defaults next to the source")
	cmd.Flags().Float64Var(&targetMB, "target-mb", 0, "part size target in MiB, defaults to the configured target")
	cmd.Flags().StringVar(&ranges, "ranges", "", "explicit page ranges to cut, e.g. 1-10,11-25,26")
	cmd.Flags().StringVar(&label, "label", "Parte", "part label used in file names")
	cmd.Flags().BoolVar(&noTotal, "no-total", false, "omit the \" di N\" suffix from part names")

	return cmd
}

// parseRanges turns "1-10,11-25,26" into validated page spans.
func parseRanges(s string, totalPages int) ([][2]int, error) {
	var spans [][2]int
	for _, piece := range strings.Split(s, ",") {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}

		from, to := 0, 0
		if a, b, ok := strings.Cut(piece, "-"); ok {
			var err error
			if from, err = strconv.Atoi(strings.TrimSpace(a)); err != nil {
				return nil, fmt.Errorf("invalid range %q", piece)
			}
			if to, err = strconv.Atoi(strings.TrimSpace(b)); err != nil {
				return nil, fmt.Errorf("invalid range %q", piece)
			}
		} else {
			n, err := strconv.Atoi(piece)
			if err != nil {
				return nil, fmt.Errorf("invalid range %q", piece)
			}
			from, to = n, n
		}

		if from < 1 || to < from || to > totalPages {
			return nil, fmt.Errorf("range %q out of bounds, document has %d pages", piece, totalPages)
		}
		spans = append(spans, [2]int{from, to})
	}
	if len(spans) == 0 {
		return nil, fmt.Errorf("no ranges given")
	}
	return spans, nil
}

// writeRangeParts cuts one file per span, named in request order.
func writeRangeParts(ser pdfops.RangeSerializer, path, outDir, base, label string, showTotal bool, spans [][2]int) ([]pdfops.Part, error) {
	parts := make([]pdfops.Part, 0, len(spans))
	for i, sp := range spans {
		name := fmt.Sprintf("%s_%s %d di %d.pdf", base, label, i+1, len(spans))
		if !showTotal {
			name = fmt.Sprintf("%s_%s %d.pdf", base, label, i+1)
		}
		dst := filepath.Join(outDir, name)

		size, err := ser.SerializeRange(path, sp[0]-1, sp[1], dst)
		if err != nil {
			return nil, fmt.Errorf("write part %d: %w", i+1, err)
		}

		pageRange := strconv.Itoa(sp[0])
		if sp[1] > sp[0] {
			pageRange = fmt.Sprintf("%d-%d", sp[0], sp[1])
		}
		parts = append(parts, pdfops.Part{
			Name:      name,
			Path:      dst,
			Pages:     sp[1] - sp[0] + 1,
			PageRange: pageRange,
			Size:      size,
		})
	}
	return parts, nil
}
