package cli

import (
	"context"
	"fmt"
	"os"

	"docindex/config"
	"docindex/internal/adapter/analyzer"
	"docindex/internal/adapter/cache"
	"docindex/internal/adapter/chunker"
	"docindex/internal/adapter/embedding"
	"docindex/internal/adapter/fs"
	"docindex/internal/adapter/parser"
	"docindex/internal/adapter/retriever"
	"docindex/internal/adapter/store"
	"docindex/internal/domain"
	"docindex/internal/index"
	"docindex/internal/logutil"
	"docindex/internal/usecase"
)

// app is the wired pipeline for one document root.
type app struct {
	cfg    *config.Config
	dir    string
	dbPath string
	store  *store.BoltStore
	blobs  *fs.DirStore
	index  *index.Index
	ingest *usecase.IngestUseCase
	search *usecase.SearchUseCase
}

type appOptions struct {
	// create makes the data directory when no index exists yet.
	create   bool
	progress func(done, total int)
}

func openApp(cfg *config.Config, dir string, opts appOptions) (*app, error) {
	dbPath := config.IndexDBPath(dir)
	if opts.create {
		if err := config.EnsureDataDir(dir); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	} else if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("no index found in %s. Run 'docindex index' first", dir)
	}

	blobs, err := fs.NewDirStore(dir, cfg.Storage.Includes, cfg.Storage.Excludes)
	if err != nil {
		return nil, fmt.Errorf("invalid document root: %w", err)
	}

	chk := chunker.NewRecursiveChunker(cfg.Chunk.TargetSize, cfg.Chunk.Overlap, cfg.Chunk.Separators)
	if err := chk.Validate(); err != nil {
		return nil, err
	}

	emb, err := embedding.New(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	st, err := store.NewBoltStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open index store: %w", err)
	}

	mode := domain.ParseMode(cfg.Parse.Mode)
	p := parser.WithTimeout(parser.New(mode, parser.NewPDFParser(cfg.Parse.PDFCommand, nil)), cfg.Parse.Timeout)
	tokenizer := analyzer.NewTokenizer(cfg.Index.Stopwords)
	ix := index.New(index.Options{BatchSize: cfg.Index.BatchSize, TargetLag: cfg.Index.TargetLag})

	ingest := usecase.NewIngestUseCase(blobs, st, p, chk, emb, tokenizer, ix, usecase.IngestOptions{
		ParseMode:  mode,
		Workers:    cfg.Ingest.Workers,
		MaxRetries: cfg.Index.MaxRetries,
		Backoff:    cfg.Index.Backoff,
		Progress:   opts.progress,
	})

	var semantic *retriever.SemanticRetriever
	if emb != nil {
		semantic = retriever.NewSemanticRetriever(emb, cfg.Search.MinSimilarity)
	}
	hybrid := retriever.NewHybridRetriever(
		retriever.NewBM25Retriever(tokenizer, cfg.Index.K1, cfg.Index.B, cfg.Search.PathBoost),
		semantic,
		cfg.Search.RRFK,
		cfg.Search.BM25Weight,
	)
	search := usecase.NewSearchUseCase(ix, hybrid,
		cache.NewQueryCache(cfg.Search.CacheSize, cfg.Search.CacheTTL),
		cfg.Search.DefaultLimit, cfg.Search.MaxLimit)

	return &app{
		cfg:    cfg,
		dir:    dir,
		dbPath: dbPath,
		store:  st,
		blobs:  blobs,
		index:  ix,
		ingest: ingest,
		search: search,
	}, nil
}

// checkSchema migrates the store schema. A store built with other chunking
// or embedding settings is cleared when reset is set and rejected otherwise.
func (a *app) checkSchema(ctx context.Context, reset bool) error {
	result, err := a.store.CheckMigration(a.cfg)
	if err != nil {
		return fmt.Errorf("failed to check migration: %w", err)
	}

	if result.NeedsRebuild {
		if !reset {
			return fmt.Errorf("index must be rebuilt (%s). Run 'docindex index' to re-ingest", result.Reason)
		}
		fmt.Printf("Index rebuild required: %s\n", result.Reason)
		fmt.Println("Clearing existing index...")
		if err := a.store.Clear(); err != nil {
			return fmt.Errorf("failed to clear index: %w", err)
		}
		return nil
	}

	if result.NeedsMigration {
		logutil.FromContext(ctx).Info("running schema migration", "reason", result.Reason)
		if err := a.store.Migrate(a.cfg); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// warm loads the persisted index so searches see every committed document.
func (a *app) warm(ctx context.Context) error {
	res, err := a.ingest.Warm(ctx)
	if err != nil {
		return fmt.Errorf("failed to load index: %w", err)
	}
	logger := logutil.FromContext(ctx)
	for _, w := range res.Warnings {
		logger.Warn("index entry not recoverable", "detail", w)
	}
	logger.Debug("index loaded", "documents", res.Documents, "chunks", res.Chunks, "repaired", res.Repaired)
	return nil
}

func (a *app) Close() error {
	return a.store.Close()
}
