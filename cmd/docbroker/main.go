// Command docbroker converts documents between office, OnlyOffice and
// raster formats, as a server or one-shot from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/local/docbroker/internal/config"
	"github.com/local/docbroker/internal/logger"
	"github.com/local/docbroker/internal/metrics"
)

var (
	cfgFile  string
	logLevel string

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "docbroker",
	Short: "Document conversion broker",
	Long: `docbroker converts documents by delegating to LibreOffice (through a UNO
helper), the OnlyOffice x2t converter and ImageMagick.

Run "docbroker serve" for the HTTP API, or use the convert, metadata and
formats commands directly. Inputs and outputs may be local paths or
s3://bucket/key references.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if err := logger.Init(logger.Options{
			Level:        cfg.Logging.Level,
			Pretty:       cfg.Logging.Pretty,
			File:         cfg.Logging.File,
			MaxSizeMB:    cfg.Logging.MaxSizeMB,
			MaxBackups:   cfg.Logging.MaxBackups,
			MaxAgeDays:   cfg.Logging.MaxAgeDays,
			Compress:     cfg.Logging.Compress,
			SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
			AxiomAPIKey:  cfg.Axiom.APIKey,
			AxiomOrgID:   cfg.Axiom.OrgID,
			AxiomDataset: cfg.Axiom.Dataset,
			AxiomFlush:   cfg.Axiom.FlushInterval,
			// stdout carries command results
			Output: os.Stderr,
		}); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		metrics.Init()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: $DOCBROKER_CONFIG, then env vars)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(
		newServeCmd(),
		newConvertCmd(),
		newMetadataCmd(),
		newFormatsCmd(),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Close()
		os.Exit(1)
	}
}
