package usecase

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"docindex/internal/domain"
	"docindex/internal/logutil"
	"docindex/internal/port"
)

// RebuildResult contains the results of a rebuild or warm-up.
type RebuildResult struct {
	Documents int
	Chunks    int
	Repaired  int
	Warnings  []string
}

func (u *IngestUseCase) dimension() int {
	if u.embedder == nil {
		return 0
	}
	return u.embedder.Dimension()
}

// Warm loads the persisted index into memory. Documents with corrupt or
// missing entries get them recomputed from their chunks; if that fails the
// affected chunks stay out of the index until the next rebuild.
func (u *IngestUseCase) Warm(ctx context.Context) (*RebuildResult, error) {
	docs, err := u.store.LoadAll(u.dimension())
	if err != nil {
		return nil, fmt.Errorf("failed to load index: %w", err)
	}

	result := &RebuildResult{}
	for i := range docs {
		sd := &docs[i]
		if len(sd.Corrupt) == 0 || sd.Doc.Status != domain.StatusParsed {
			continue
		}
		if err := u.repair(ctx, sd); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %v", sd.Doc.ID, err))
			logutil.FromContext(ctx).Warn("could not repair index entries", "doc", sd.Doc.ID, "corrupt", len(sd.Corrupt), "error", err)
			continue
		}
		result.Repaired++
	}

	if err := u.index.Load(docs); err != nil {
		return nil, err
	}
	u.fillCounts(result, docs)
	return result, nil
}

// repair recomputes every entry of sd from its chunks and persists them.
func (u *IngestUseCase) repair(ctx context.Context, sd *port.StoredDocument) error {
	unlock := u.locks.Lock(sd.Doc.ID)
	defer unlock()

	entries, err := u.buildEntries(ctx, sd.Doc.ID, sd.Chunks)
	if err != nil {
		return err
	}
	if err := u.store.ReplaceDocument(sd.Doc, sd.Chunks, entries); err != nil {
		return err
	}
	sd.Entries = entries
	sd.Corrupt = nil
	return nil
}

// Rebuild recomputes every index entry from the chunk table and publishes
// the result as one snapshot.
func (u *IngestUseCase) Rebuild(ctx context.Context) (*RebuildResult, error) {
	logger := logutil.FromContext(ctx)

	docs, err := u.store.ListDocs()
	if err != nil {
		return nil, fmt.Errorf("failed to list docs: %w", err)
	}

	stored := make([]port.StoredDocument, 0, len(docs))
	result := &RebuildResult{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.opts.Workers)
	for _, doc := range docs {
		if doc.Status != domain.StatusParsed {
			continue
		}
		doc := doc
		g.Go(func() error {
			chunks, err := u.store.GetChunksByDoc(doc.ID)
			if err != nil {
				return fmt.Errorf("read chunks of %s: %w", doc.ID, err)
			}
			sd := port.StoredDocument{Doc: doc, Chunks: chunks}
			if err := u.repair(gctx, &sd); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Warn("rebuild of document failed, keeping stored entries", "doc", doc.ID, "error", err)
				mu.Lock()
				result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %v", doc.ID, err))
				mu.Unlock()
				sd.Entries, sd.Corrupt = u.usableEntries(doc.ID, chunks)
			}
			mu.Lock()
			stored = append(stored, sd)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := u.index.Load(stored); err != nil {
		return nil, err
	}
	if err := u.updateStats(u.index.Snapshot()); err != nil {
		return nil, err
	}
	u.fillCounts(result, stored)
	logger.Info("index rebuilt", "documents", result.Documents, "chunks", result.Chunks, "warnings", len(result.Warnings))
	return result, nil
}

// usableEntries returns the stored entries of a document that match the
// current dimension and lists the chunks without one.
func (u *IngestUseCase) usableEntries(docID string, chunks []domain.Chunk) ([]domain.IndexEntry, []string) {
	stored, err := u.store.GetEntriesByDoc(docID)
	byChunk := make(map[string]domain.IndexEntry, len(stored))
	if err == nil {
		for _, e := range stored {
			if e.DocID == docID && len(e.Vector) == u.dimension() {
				byChunk[e.ChunkID] = e
			}
		}
	}
	var entries []domain.IndexEntry
	var corrupt []string
	for _, c := range chunks {
		if e, ok := byChunk[c.ID]; ok {
			entries = append(entries, e)
		} else {
			corrupt = append(corrupt, c.ID)
		}
	}
	return entries, corrupt
}

func (u *IngestUseCase) fillCounts(result *RebuildResult, docs []port.StoredDocument) {
	for _, sd := range docs {
		if sd.Doc.Status != domain.StatusParsed {
			continue
		}
		result.Documents++
		result.Chunks += len(sd.Chunks) - len(sd.Corrupt)
	}
}

// StatusReport summarizes the index and the document table. Degraded
// lists documents whose last index update failed; their previous version,
// if any, is still served.
type StatusReport struct {
	Stats      domain.Stats
	Generation uint64
	Pending    int
	ByStatus   map[domain.ParseStatus]int
	Failed     []domain.Document
	Degraded   []domain.Document
}

// Status reports the visible index state and per-document parse status.
func (u *IngestUseCase) Status() (*StatusReport, error) {
	docs, err := u.store.ListDocs()
	if err != nil {
		return nil, fmt.Errorf("failed to list docs: %w", err)
	}

	snap := u.index.Snapshot()
	report := &StatusReport{
		Stats:      snap.Stats(),
		Generation: snap.Generation(),
		Pending:    u.index.Pending(),
		ByStatus:   make(map[domain.ParseStatus]int),
	}
	for _, doc := range docs {
		report.ByStatus[doc.Status]++
		switch {
		case doc.Status == domain.StatusFailed:
			report.Failed = append(report.Failed, doc)
		case doc.Error != "":
			report.Degraded = append(report.Degraded, doc)
		}
	}
	report.Stats.FailedDocs = len(report.Failed)
	report.Stats.DegradedDocs = len(report.Degraded)
	return report, nil
}
