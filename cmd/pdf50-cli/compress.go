package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/mattiianni/Pdf50/internal/pdfops"
)

// newCompressCmd creates the compress subcommand.
func newCompressCmd() *cobra.Command {
	var (
		outputDir string
		quality   string
	)

	cmd := &cobra.Command{
		Use:   "compress PDF",
		Short: "Compress a PDF through Ghostscript",
		Long: `Compress rewrites the PDF through a Ghostscript quality preset
(screen, ebook or printer) and saves it next to the original as
"<name>_compresso.pdf", or into --output-dir.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if err := pdfops.ValidatePDFPath(path); err != nil {
				return err
			}

			engine := pdfops.NewEngine(logger)
			compressor := pdfops.NewCompressor(cfg.Tools.Ghostscript, cfg.Tools.CompressTimeout, engine, logger)
			if !compressor.Available() {
				return fmt.Errorf("ghostscript not found, set GHOSTSCRIPT_PATH or install gs")
			}

			outDir := outputDir
			if outDir == "" {
				outDir = filepath.Dir(path)
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
			base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			out := filepath.Join(outDir, base+"_compresso.pdf")

			var spin *spinner.Spinner
			if !outputJSON {
				spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				spin.Writer = os.Stderr
				spin.Suffix = " compressing " + filepath.Base(path)
				spin.Start()
			}
			res, err := compressor.Compress(pdfops.ParseQuality(quality), path, out)
			if spin != nil {
				spin.Stop()
			}
			if err != nil {
				return fmt.Errorf("compress: %w", err)
			}

			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{
					"path":            out,
					"originalBytes":   res.OriginalBytes,
					"compressedBytes": res.CompressedBytes,
					"reductionPct":    res.Reduction,
				})
			}

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()
			ui.Success("Compressed %s", filepath.Base(path))
			ui.KeyValue("Output", out)
			ui.KeyValue("Size", fmt.Sprintf("%s to %s", FormatBytes(res.OriginalBytes), FormatBytes(res.CompressedBytes)))
			ui.KeyValue("Reduction", fmt.Sprintf("%.1f%%", res.Reduction))
			return nil
		},
	}

	cmd.Flags().StringVar(&outputDir, "output-dir", "", "directory for the compressed copy, defaults next to the source")
	cmd.Flags().StringVar(&quality, "quality", "ebook", "Ghostscript preset: screen, ebook or printer")

	return cmd
}
