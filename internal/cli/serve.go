package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"docindex/internal/httpapi"
	"docindex/internal/logutil"
)

const shutdownTimeout = 10 * time.Second

var (
	serveAddr  string
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP query API",
	Long: `Load the index and serve search over HTTP.

Endpoints:
  POST /api/search          {"query": "...", "filters": {...}, "limit": 10, "preview": false}
  GET  /api/documents       list ingested documents
  GET  /api/documents/{id}  one document with its chunks
  GET  /api/health          index health

Examples:
  docindex serve
  docindex serve --addr :9000 --watch`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "also watch the document root and re-ingest changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg, rootDir, appOptions{create: serveWatch})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	logger := logutil.FromContext(ctx)
	if err := a.checkSchema(ctx, serveWatch); err != nil {
		return err
	}
	if err := a.warm(ctx); err != nil {
		return err
	}

	addr := a.cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	srv := &http.Server{
		Addr: addr,
		Handler: httpapi.NewRouter(httpapi.Dependencies{
			Searcher: a.search,
			Catalog:  a.store,
			Status:   a.ingest,
			Logger:   logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.index.Run(gctx) })
	if serveWatch {
		g.Go(func() error { return a.watch(gctx) })
	}
	g.Go(func() error {
		logger.Info("serving query API", "addr", addr, "root", a.dir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
