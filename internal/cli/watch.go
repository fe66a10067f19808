package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"docindex/internal/adapter/fs"
	"docindex/internal/logutil"
	"docindex/internal/usecase"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the index up to date as documents change",
	Long: `Ingest the document root once, then watch it and re-ingest documents as
they are created, modified or removed. Changes are batched and become
searchable within index.target_lag.

Examples:
  docindex watch
  docindex watch -d /path/to/docs`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg, rootDir, appOptions{create: true})
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

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.index.Run(gctx) })
	g.Go(func() error { return a.watch(gctx) })
	return g.Wait()
}

// watch catches up with the document root and then ingests changed paths
// until ctx is done. The watcher is subscribed before the catch-up so
// changes made during it are queued.
func (a *app) watch(ctx context.Context) error {
	logger := logutil.FromContext(ctx)

	w, err := fs.NewWatcher(a.blobs, a.cfg.Index.TargetLag)
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", a.blobs.Root(), err)
	}
	defer w.Close()
	batches := w.Watch(ctx)

	result, err := a.ingest.Ingest(ctx, "")
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("initial ingestion failed: %w", err)
	}
	if err := a.store.Migrate(a.cfg); err != nil {
		return fmt.Errorf("failed to update schema info: %w", err)
	}
	logger.Info("watching for changes", "root", a.blobs.Root(), "documents", result.Indexed+result.Skipped)

	for batch := range batches {
		if len(batch.Paths) > 0 {
			res, err := a.ingest.IngestPaths(ctx, batch.Paths)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Error("ingestion of changed documents failed", "error", err)
				continue
			}
			logBatch(ctx, res)
		}
		for _, dir := range batch.Dirs {
			res, err := a.ingest.Ingest(ctx, dir)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Error("ingestion of removed directory failed", "dir", dir, "error", err)
				continue
			}
			logBatch(ctx, res)
		}
	}
	if ctx.Err() == nil {
		return fmt.Errorf("watcher for %s stopped", a.blobs.Root())
	}
	return nil
}

func logBatch(ctx context.Context, res *usecase.IngestResult) {
	logger := logutil.FromContext(ctx).With("run_id", res.RunID)
	for _, e := range res.Errors {
		logger.Warn("document failed", "detail", e)
	}
	for _, w := range res.Warnings {
		logger.Warn("document degraded", "detail", w)
	}
	logger.Info("changes ingested", "indexed", res.Indexed, "deleted", res.Deleted, "failed", res.Failed, "degraded", res.Degraded)
}
