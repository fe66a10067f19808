package retriever

import (
	"context"

	"docindex/internal/index"
	"docindex/internal/logutil"
)

// HybridRetriever combines BM25 lexical search with vector similarity search.
type HybridRetriever struct {
	bm25       *BM25Retriever
	semantic   *SemanticRetriever
	rrfK       int     // RRF constant (typically 60)
	bm25Weight float64 // Weight for BM25 results (0-1)
}

// NewHybridRetriever creates a new hybrid retriever. A nil semantic
// retriever makes it lexical only.
func NewHybridRetriever(bm25 *BM25Retriever, semantic *SemanticRetriever, rrfK int, bm25Weight float64) *HybridRetriever {
	if rrfK <= 0 {
		rrfK = 60
	}
	if bm25Weight < 0 || bm25Weight > 1 {
		bm25Weight = 0.5
	}

	return &HybridRetriever{
		bm25:       bm25,
		semantic:   semantic,
		rrfK:       rrfK,
		bm25Weight: bm25Weight,
	}
}

// Search runs both signals over one snapshot and fuses them. When the
// query cannot be embedded the lexical ranking is returned on its own.
func (r *HybridRetriever) Search(ctx context.Context, snap *index.Snapshot, query string, filter Filter, k int) ([]Hit, error) {
	if r.semantic == nil {
		return r.bm25.Search(snap, query, filter, k), nil
	}

	candidateK := max(k*3, 20)

	bm25Results := r.bm25.Search(snap, query, filter, candidateK)

	vectorResults, err := r.semantic.Search(ctx, snap, query, filter, candidateK)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		logutil.FromContext(ctx).Warn("semantic search failed, using lexical ranking only", "error", err)
		return topK(bm25Results, k), nil
	}

	return topK(r.rrfFuse(bm25Results, vectorResults), k), nil
}

// rrfFuse combines results using Reciprocal Rank Fusion.
// RRF score = Σ weight/(k + rank) for each result list where the chunk appears.
// Phrase matches keep their flag and sort ahead of the fused scores.
func (r *HybridRetriever) rrfFuse(bm25Results, vectorResults []Hit) []Hit {
	fused := make(map[string]*Hit, len(bm25Results)+len(vectorResults))
	order := make([]string, 0, len(bm25Results)+len(vectorResults))

	get := func(h Hit) *Hit {
		id := h.Chunk.Chunk.ID
		if f, ok := fused[id]; ok {
			return f
		}
		f := &Hit{Chunk: h.Chunk}
		fused[id] = f
		order = append(order, id)
		return f
	}

	for rank, h := range bm25Results {
		f := get(h)
		f.Lexical = h.Lexical
		f.Phrase = h.Phrase
		f.Score += r.bm25Weight / float64(r.rrfK+rank+1)
	}

	vectorWeight := 1.0 - r.bm25Weight
	for rank, h := range vectorResults {
		f := get(h)
		f.Semantic = h.Semantic
		f.Score += vectorWeight / float64(r.rrfK+rank+1)
	}

	hits := make([]Hit, 0, len(order))
	for _, id := range order {
		hits = append(hits, *fused[id])
	}
	return hits
}
