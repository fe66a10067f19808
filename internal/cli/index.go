package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"docindex/config"
	"docindex/internal/usecase"
)

var indexPrefix string

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Ingest documents for search",
	Long: `Parse, chunk and index every document in the specified directory.
The index is stored in .docindex/index.db within the target directory.
Unchanged documents are skipped and documents that disappeared are removed.

Examples:
  docindex index .                   # Ingest current directory
  docindex index /path/to/docs       # Ingest a specific directory
  docindex index . --prefix reports/ # Only documents under reports/`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().StringVar(&indexPrefix, "prefix", "", "only ingest documents whose path starts with prefix")
}

func runIndex(cmd *cobra.Command, args []string) error {
	path := rootDir
	conf := cfg
	if len(args) > 0 {
		var err error
		path, err = filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}
		if cfgFile == "" {
			if conf, err = config.LoadFromDir(path); err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	bar := newIndexProgress()
	a, err := openApp(conf, path, appOptions{create: true, progress: bar.update})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if err := a.checkSchema(ctx, true); err != nil {
		return err
	}
	if err := a.warm(ctx); err != nil {
		return err
	}

	fmt.Printf("Scanning %s...\n", path)
	result, err := a.ingest.Ingest(ctx, indexPrefix)
	bar.finish()
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	// Update schema info after successful indexing
	if err := a.store.Migrate(conf); err != nil {
		return fmt.Errorf("failed to update schema info: %w", err)
	}

	printIngestResult(result)
	fmt.Printf("\nIndex stored at: %s\n", a.dbPath)
	return nil
}

func printIngestResult(result *usecase.IngestResult) {
	fmt.Printf("\nIndexing complete (run %s):\n", result.RunID)
	fmt.Printf("  Documents indexed:  %d\n", result.Indexed)
	fmt.Printf("  Documents skipped:  %d (unchanged)\n", result.Skipped)
	fmt.Printf("  Documents deleted:  %d (removed)\n", result.Deleted)
	fmt.Printf("  Documents failed:   %d\n", result.Failed)
	if result.Degraded > 0 {
		fmt.Printf("  Documents degraded: %d (previous version kept)\n", result.Degraded)
	}
	fmt.Printf("  Chunks created:     %d\n", result.ChunksCreated)

	if len(result.Errors) > 0 {
		fmt.Printf("\nErrors:\n")
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
	if len(result.Warnings) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, w := range result.Warnings {
			fmt.Printf("  - %s\n", w)
		}
	}
}

// indexProgress renders ingestion progress once the document count is known.
type indexProgress struct {
	mu        sync.Mutex
	bar       *progressbar.ProgressBar
	startTime time.Time
}

func newIndexProgress() *indexProgress {
	return &indexProgress{}
}

func (p *indexProgress) update(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar == nil {
		if total == 0 {
			return
		}
		p.startTime = time.Now()
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowBytes(false),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSetDescription("[cyan]Indexing[reset]"),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
			progressbar.OptionOnCompletion(func() {
				fmt.Println()
			}),
		)
	}

	_ = p.bar.Set(done)

	if done > 0 && done < total {
		elapsed := time.Since(p.startTime)
		rate := float64(done) / elapsed.Seconds()
		if rate > 0 {
			eta := time.Duration(float64(total-done)/rate) * time.Second
			p.bar.Describe(fmt.Sprintf("[cyan]Indexing[reset] ETA: %s", formatDuration(eta)))
		}
	}
}

func (p *indexProgress) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
