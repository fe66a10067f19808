package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"docindex/config"
	"docindex/internal/logutil"
)

var (
	cfgFile  string
	cfg      *config.Config
	rootDir  string
	logLevel string
	logger   *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "docindex",
	Short: "Document indexer - ingest, chunk and search a document collection",
	Long: `docindex ingests documents (PDF, Markdown, HTML, plain text) from a directory,
splits them into overlapping chunks and serves hybrid lexical/semantic search
over them.

Example usage:
  docindex index .                       # Ingest the current directory
  docindex search -q "refund policy"     # Search the index
  docindex serve                         # Serve the HTTP query API
  docindex watch                         # Re-ingest documents as they change`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		level := cfg.Logging.Level
		if logLevel != "" {
			level = logLevel
		}
		logger, err = logutil.New(os.Stderr, level, cfg.Logging.Format)
		if err != nil {
			return fmt.Errorf("failed to configure logging: %w", err)
		}
		slog.SetDefault(logger)
		cmd.SetContext(logutil.WithLogger(cmd.Context(), logger))

		return nil
	},
}

// Execute runs the root command. Cancelling ctx stops long-running commands.
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./docindex.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "document root directory (default is current directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
}
