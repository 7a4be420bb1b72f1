// Package main provides the pdf50 CLI entrypoint.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/mattiianni/Pdf50/internal/config"
	"github.com/mattiianni/Pdf50/internal/observability"
)

var version = "0.1.0"

var (
	// Global flags
	cfgFile    string
	serverURL  string
	outputJSON bool
	verbose    bool
	noColor    bool

	// Configuration and logger
	cfg    *config.Config
	logger *observability.Logger
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "pdf50",
	Short: "pdf50 turns document folders into size-bounded PDFs",
	Long: `pdf50 converts folders of mixed documents into merged, OCR-searchable
PDFs that stay under a size limit, splitting them when they do not.

Use this tool to:
- Run a conversion pipeline locally with live progress (run)
- Submit jobs to a pdf50 server and follow them (start, watch, cancel)
- Preview what a source folder would produce (scan)
- Apply one-shot PDF utilities: compress, split, pagecount, extract

All commands support --json for automation.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logFormat := "console"
		if outputJSON {
			logFormat = "json"
		}
		logLevel := cfg.Observability.LogLevel
		if verbose {
			logLevel = "debug"
		}

		logger = observability.NewLogger(observability.LogConfig{
			Level:       logLevel,
			Format:      logFormat,
			ServiceName: "pdf50-cli",
		})

		return nil
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: uses env vars)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "pdf50 server base URL (default: from config)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	// Add subcommands
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newCancelCmd())
	rootCmd.AddCommand(newCompressCmd())
	rootCmd.AddCommand(newSplitCmd())
	rootCmd.AddCommand(newPageCountCmd())
	rootCmd.AddCommand(newExtractCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newVersionCmd creates the version subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pdf50 %s (%s, %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
