package retriever

import (
	"context"
	"fmt"
	"math"

	"docindex/internal/index"
	"docindex/internal/port"
)

type SemanticRetriever struct {
	embedder      port.Embedder
	minSimilarity float64
}

func NewSemanticRetriever(embedder port.Embedder, minSimilarity float64) *SemanticRetriever {
	return &SemanticRetriever{
		embedder:      embedder,
		minSimilarity: minSimilarity,
	}
}

// Search embeds query and ranks admitted chunks by cosine similarity.
// Chunks below the minimum similarity are left out.
func (r *SemanticRetriever) Search(ctx context.Context, snap *index.Snapshot, query string, filter Filter, k int) ([]Hit, error) {
	if r.embedder == nil {
		return nil, fmt.Errorf("semantic search not available: embeddings not configured")
	}
	if snap.TotalChunks() == 0 {
		return nil, nil
	}

	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("embedding returned empty result")
	}
	queryVec := embeddings[0]

	var hits []Hit
	for _, c := range snap.Chunks() {
		if !filter.allows(c) || len(c.Vector) != len(queryVec) {
			continue
		}
		sim := cosineSimilarity(queryVec, c.Vector)
		if sim < r.minSimilarity || sim <= 0 {
			continue
		}
		hits = append(hits, Hit{Chunk: c, Score: sim, Semantic: sim})
	}

	return topK(hits, k), nil
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
