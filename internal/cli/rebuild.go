package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var rebuildForce bool

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Recompute every index entry from the stored chunks",
	Long: `Rebuild re-derives tokens and embeddings for every stored chunk and
republishes the whole index. Use it after changing the embedding backend or
when entries were reported as corrupt. Documents are not re-parsed; run
'docindex index' for that. Do not run it while 'watch' or 'serve --watch'
is ingesting the same root.`,
	Args: cobra.NoArgs,
	RunE: runRebuild,
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
	rebuildCmd.Flags().BoolVar(&rebuildForce, "force", false, "rebuild even though chunking or parse settings changed")
}

func runRebuild(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg, rootDir, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	result, err := a.store.CheckMigration(a.cfg)
	if err != nil {
		return fmt.Errorf("failed to check migration: %w", err)
	}
	if result.NeedsRebuild && !rebuildForce {
		return fmt.Errorf("stored index differs from the configuration (%s). "+
			"Run 'docindex index' to re-ingest, or pass --force if only embedding settings changed", result.Reason)
	}

	start := time.Now()
	res, err := a.ingest.Rebuild(ctx)
	if err != nil {
		return fmt.Errorf("rebuild failed: %w", err)
	}
	if err := a.store.Migrate(a.cfg); err != nil {
		return fmt.Errorf("failed to update schema info: %w", err)
	}

	fmt.Printf("Rebuild complete in %s:\n", formatDuration(time.Since(start)))
	fmt.Printf("  Documents: %d\n", res.Documents)
	fmt.Printf("  Chunks:    %d\n", res.Chunks)
	if len(res.Warnings) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, w := range res.Warnings {
			fmt.Printf("  - %s\n", w)
		}
	}
	return nil
}
