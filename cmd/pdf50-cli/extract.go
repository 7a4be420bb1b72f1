package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/mattiianni/Pdf50/internal/pdfops"
)

// newExtractCmd creates the extract subcommand.
func newExtractCmd() *cobra.Command {
	var (
		useOCR  bool
		outFile string
	)

	cmd := &cobra.Command{
		Use:   "extract PDF",
		Short: "Extract the text of a PDF",
		Long: `Extract pulls the text layer out of a PDF and prints it to stdout, or
writes it to --out. With --ocr pages without a text layer are rendered
and recognized with Tesseract.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if err := pdfops.ValidatePDFPath(path); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var ocrEngine pdfops.OCREngine
			if useOCR {
				tess, err := pdfops.NewTesseractEngine(cfg.Pipeline.OCRLanguage)
				if err != nil {
					return fmt.Errorf("tesseract unavailable: %w", err)
				}
				defer tess.Close()
				ocrEngine = tess
			}
			extractor := pdfops.NewTextExtractor(ocrEngine, logger)

			var spin *spinner.Spinner
			if !outputJSON && outFile != "" {
				spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				spin.Writer = os.Stderr
				spin.Suffix = " extracting text from " + filepath.Base(path)
				spin.Start()
			}
			res, err := extractor.Extract(ctx, path)
			if spin != nil {
				spin.Stop()
			}
			if err != nil {
				if errors.Is(err, pdfops.ErrNoText) {
					return fmt.Errorf("no extractable text in %s, try --ocr", filepath.Base(path))
				}
				return fmt.Errorf("extract: %w", err)
			}

			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{
					"text":   res.Text,
					"method": extractionMethod(res),
					"pages":  res.Pages,
					"chars":  res.Chars,
				})
			}

			if outFile == "" {
				fmt.Print(res.Text)
				return nil
			}

			if err := os.WriteFile(outFile, []byte(res.Text), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", outFile, err)
			}
			ui := NewUI(outputJSON, noColor)
			defer ui.Close()
			ui.Success("Text written to %s", outFile)
			ui.KeyValue("Method", extractionMethod(res))
			ui.KeyValue("Pages", res.Pages)
			ui.KeyValue("Characters", res.Chars)
			return nil
		},
	}

	cmd.Flags().BoolVar(&useOCR, "ocr", false, "recognize pages without a text layer with Tesseract")
	cmd.Flags().StringVar(&outFile, "out", "", "write the text to this file instead of stdout")

	return cmd
}

func extractionMethod(res *pdfops.ExtractResult) string {
	switch {
	case res.PagesOCR == 0:
		return "text"
	case res.PagesWithText == 0:
		return "ocr"
	default:
		return "mixed"
	}
}
