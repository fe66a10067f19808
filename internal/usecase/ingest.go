package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"docindex/internal/adapter/analyzer"
	"docindex/internal/domain"
	"docindex/internal/index"
	"docindex/internal/logutil"
	"docindex/internal/port"
)

// Outcome is what ingestion did with one document.
type Outcome string

const (
	OutcomeIndexed  Outcome = "indexed"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
	OutcomeDegraded Outcome = "degraded"
	OutcomeDeleted  Outcome = "deleted"
)

// IngestOptions configures an IngestUseCase.
type IngestOptions struct {
	ParseMode  domain.ParseMode
	Workers    int
	MaxRetries int
	Backoff    time.Duration
	// Progress, when set, is called with the number of finished documents
	// and the total once the document set is known and after each document.
	Progress func(done, total int)
}

// IngestUseCase runs the parse, chunk and index pipeline over the blob store.
type IngestUseCase struct {
	blobs     port.BlobStore
	store     port.DocumentStore
	parser    port.Parser
	chunker   port.Chunker
	embedder  port.Embedder
	tokenizer *analyzer.Tokenizer
	index     *index.Index
	opts      IngestOptions
	locks     *keyedMutex
	now       func() time.Time
}

// NewIngestUseCase creates an ingestion use case. embedder may be nil, in
// which case entries carry tokens only.
func NewIngestUseCase(
	blobs port.BlobStore,
	store port.DocumentStore,
	parser port.Parser,
	chunker port.Chunker,
	embedder port.Embedder,
	tokenizer *analyzer.Tokenizer,
	ix *index.Index,
	opts IngestOptions,
) *IngestUseCase {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.ParseMode == "" {
		opts.ParseMode = domain.ModeAuto
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	return &IngestUseCase{
		blobs:     blobs,
		store:     store,
		parser:    parser,
		chunker:   chunker,
		embedder:  embedder,
		tokenizer: tokenizer,
		index:     ix,
		opts:      opts,
		locks:     newKeyedMutex(),
		now:       time.Now,
	}
}

// IngestResult contains the results of an ingestion run.
type IngestResult struct {
	RunID         string
	Indexed       int
	Skipped       int
	Failed        int
	Degraded      int
	Deleted       int
	ChunksCreated int
	Errors        []string
	Warnings      []string
}

func (r *IngestResult) record(path string, o Outcome, chunks int, err error) {
	switch o {
	case OutcomeIndexed:
		r.Indexed++
		r.ChunksCreated += chunks
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
		r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", path, err))
	case OutcomeDegraded:
		r.Degraded++
		r.Warnings = append(r.Warnings, fmt.Sprintf("%s: %v", path, err))
	case OutcomeDeleted:
		r.Deleted++
	}
}

// Ingest brings every document under prefix up to date and removes
// documents that vanished from storage. Per-document failures are recorded
// in the result; only cancellation and storage listing errors abort the run.
func (u *IngestUseCase) Ingest(ctx context.Context, prefix string) (*IngestResult, error) {
	result := &IngestResult{RunID: uuid.NewString()}
	logger := logutil.FromContext(ctx).With("run_id", result.RunID)
	ctx = logutil.WithLogger(ctx, logger)

	paths, err := u.blobs.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	existing, err := u.store.ListDocs()
	if err != nil {
		return nil, fmt.Errorf("failed to list existing docs: %w", err)
	}

	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		seen[p] = struct{}{}
	}
	var vanished []domain.Document
	for _, doc := range existing {
		if _, ok := seen[doc.ID]; !ok && strings.HasPrefix(doc.ID, prefix) {
			vanished = append(vanished, doc)
		}
	}

	total := len(paths) + len(vanished)
	done := 0
	var mu sync.Mutex
	report := func(path string, o Outcome, chunks int, err error) {
		mu.Lock()
		defer mu.Unlock()
		result.record(path, o, chunks, err)
		done++
		if u.opts.Progress != nil {
			u.opts.Progress(done, total)
		}
	}
	if u.opts.Progress != nil {
		u.opts.Progress(0, total)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.opts.Workers)

	for _, path := range paths {
		path := path
		g.Go(func() error {
			o, chunks, err := u.ingestDocument(gctx, path)
			if o == "" {
				return err
			}
			report(path, o, chunks, err)
			return nil
		})
	}
	for _, doc := range vanished {
		doc := doc
		g.Go(func() error {
			if err := u.removeDocument(gctx, doc.ID); err != nil {
				report(doc.ID, OutcomeFailed, 0, err)
				return nil
			}
			report(doc.ID, OutcomeDeleted, 0, nil)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}

	snap := u.index.Flush()
	if err := u.updateStats(snap); err != nil {
		return result, err
	}

	logger.Info("ingestion finished",
		"indexed", result.Indexed,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"degraded", result.Degraded,
		"deleted", result.Deleted,
		"chunks", result.ChunksCreated,
	)
	return result, nil
}

// IngestPaths brings the given documents up to date. Paths that no longer
// exist in storage are removed.
func (u *IngestUseCase) IngestPaths(ctx context.Context, paths []string) (*IngestResult, error) {
	result := &IngestResult{RunID: uuid.NewString()}
	ctx = logutil.WithLogger(ctx, logutil.FromContext(ctx).With("run_id", result.RunID))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.opts.Workers)
	for _, path := range paths {
		path := path
		g.Go(func() error {
			var (
				o      Outcome
				chunks int
				err    error
			)
			if _, statErr := u.blobs.Stat(gctx, path); errors.Is(statErr, fs.ErrNotExist) {
				if err = u.removeDocument(gctx, path); err != nil {
					o = OutcomeFailed
				} else {
					o = OutcomeDeleted
				}
			} else {
				o, chunks, err = u.ingestDocument(gctx, path)
				if o == "" {
					return err
				}
			}
			mu.Lock()
			result.record(path, o, chunks, err)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}
	return result, nil
}

// ingestDocument processes one document under its lock. An empty outcome
// means the run was cancelled and err is the context error.
func (u *IngestUseCase) ingestDocument(ctx context.Context, path string) (Outcome, int, error) {
	unlock := u.locks.Lock(path)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	logger := logutil.FromContext(ctx).With("doc", path)

	existing, err := u.store.GetDoc(path)
	exists := err == nil
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return OutcomeFailed, 0, fmt.Errorf("read document row: %w", err)
	}

	doc := domain.Document{
		ID:        path,
		Path:      path,
		URL:       u.blobs.URL(path),
		Status:    domain.StatusUnparsed,
		Version:   existing.Version + 1,
		UpdatedAt: u.now(),
	}
	// A removal may still be pending for a document that came back.
	if v, ok := u.index.LatestVersion(path); ok && v >= doc.Version {
		doc.Version = v + 1
	}

	raw, err := u.blobs.Read(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return "", 0, ctx.Err()
		}
		var loadErr *domain.LoadError
		if !errors.As(err, &loadErr) {
			err = &domain.LoadError{Path: path, Err: err}
		}
		logger.Warn("document unreadable", "error", err)
		return u.fail(doc, err)
	}

	sum := sha256.Sum256(raw)
	doc.ContentHash = hex.EncodeToString(sum[:])
	doc.Size = int64(len(raw))

	if exists && existing.ContentHash == doc.ContentHash && existing.Status == domain.StatusParsed {
		// The served version matches storage again.
		if existing.Error != "" {
			existing.Error = ""
			if err := u.store.PutDoc(existing); err != nil {
				return OutcomeFailed, 0, fmt.Errorf("clear index warning: %w", err)
			}
		}
		return OutcomeSkipped, 0, nil
	}

	content, err := u.parser.Parse(ctx, path, raw, u.opts.ParseMode)
	if err != nil {
		if ctx.Err() != nil {
			return "", 0, ctx.Err()
		}
		logger.Warn("parse failed", "error", err)
		return u.fail(doc, err)
	}

	chunks, err := u.chunker.Chunk(doc, content)
	if err != nil {
		var chunkErr *domain.ChunkingError
		if !errors.As(err, &chunkErr) {
			err = &domain.ChunkingError{DocID: doc.ID, Err: err}
		}
		logger.Error("chunking failed", "error", err)
		return u.fail(doc, err)
	}

	entries, err := u.buildEntries(ctx, doc.ID, chunks)
	if err != nil {
		if ctx.Err() != nil {
			return "", 0, ctx.Err()
		}
		return u.degrade(ctx, doc, existing, exists, err)
	}

	doc.Status = domain.StatusParsed
	if err := u.store.ReplaceDocument(doc, chunks, entries); err != nil {
		return u.degrade(ctx, doc, existing, exists, &domain.IndexError{DocID: doc.ID, Attempts: 1, Err: err})
	}
	ack, err := u.index.Stage(doc, chunks, entries)
	if err != nil {
		return u.degrade(ctx, doc, existing, exists, err)
	}

	logger.Debug("document staged",
		"version", ack.Version,
		"chunks", len(chunks),
		"visible_by", ack.VisibleBy,
		"stale", ack.Stale,
	)
	return OutcomeIndexed, len(chunks), nil
}

// fail marks doc failed and withdraws everything derived from its previous
// version.
func (u *IngestUseCase) fail(doc domain.Document, cause error) (Outcome, int, error) {
	doc.Status = domain.StatusFailed
	doc.Error = cause.Error()
	if err := u.store.ClearDocument(doc); err != nil {
		return OutcomeFailed, 0, fmt.Errorf("%w (clearing rows: %v)", cause, err)
	}
	u.index.StageRemove(doc.ID, doc.Version)
	return OutcomeFailed, 0, cause
}

// degrade keeps the previous version serving and records the warning on
// the stored row, which Status reports as degraded. A document seen for the
// first time gets an unparsed row so the next run retries it.
func (u *IngestUseCase) degrade(ctx context.Context, doc, existing domain.Document, exists bool, cause error) (Outcome, int, error) {
	logutil.FromContext(ctx).Warn("index update failed, previous version keeps serving", "doc", doc.ID, "error", cause)
	row := existing
	if !exists {
		row = doc
		row.Status = domain.StatusUnparsed
		row.ContentHash = ""
	}
	row.Error = cause.Error()
	if err := u.store.PutDoc(row); err != nil {
		return OutcomeDegraded, 0, fmt.Errorf("%w (recording document: %v)", cause, err)
	}
	return OutcomeDegraded, 0, cause
}

func (u *IngestUseCase) removeDocument(ctx context.Context, id string) error {
	unlock := u.locks.Lock(id)
	defer unlock()

	doc, err := u.store.GetDoc(id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := u.store.DeleteDocument(id); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	u.index.StageRemove(id, doc.Version+1)
	logutil.FromContext(ctx).Info("document removed", "doc", id)
	return nil
}

// buildEntries tokenizes and embeds chunks. Embedding is retried with
// exponential backoff while the backend reports itself unavailable.
func (u *IngestUseCase) buildEntries(ctx context.Context, docID string, chunks []domain.Chunk) ([]domain.IndexEntry, error) {
	entries := make([]domain.IndexEntry, len(chunks))
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		entries[i] = domain.IndexEntry{ChunkID: c.ID, DocID: docID, Tokens: u.tokenizer.Tokenize(c.Text)}
		texts[i] = c.Text
	}
	if u.embedder == nil || len(chunks) == 0 {
		return entries, nil
	}

	vectors, err := u.embedWithRetry(ctx, docID, texts)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Vector = vectors[i]
	}
	return entries, nil
}

func (u *IngestUseCase) embedWithRetry(ctx context.Context, docID string, texts []string) ([][]float32, error) {
	logger := logutil.FromContext(ctx)
	delay := u.opts.Backoff
	attempts := 0
	for {
		attempts++
		vectors, err := u.embedder.Embed(ctx, texts)
		if err == nil {
			if len(vectors) != len(texts) {
				return nil, &domain.IndexError{DocID: docID, Attempts: attempts, Err: fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(texts))}
			}
			return vectors, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, domain.ErrEmbeddingUnavailable) || attempts > u.opts.MaxRetries {
			return nil, &domain.IndexError{DocID: docID, Attempts: attempts, Err: err}
		}

		logger.Warn("embedding backend unavailable, retrying", "doc", docID, "attempt", attempts, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (u *IngestUseCase) updateStats(snap *index.Snapshot) error {
	stats := snap.Stats()
	docs, err := u.store.ListDocs()
	if err != nil {
		return fmt.Errorf("failed to list docs: %w", err)
	}
	for _, doc := range docs {
		switch {
		case doc.Status == domain.StatusFailed:
			stats.FailedDocs++
		case doc.Error != "":
			stats.DegradedDocs++
		}
	}
	if err := u.store.UpdateStats(stats); err != nil {
		return fmt.Errorf("failed to update stats: %w", err)
	}
	return nil
}
