package retriever

import (
	"sort"

	"docindex/internal/index"
)

// Filter reports whether a chunk takes part in ranking. A nil Filter
// admits every chunk.
type Filter func(*index.IndexedChunk) bool

func (f Filter) allows(c *index.IndexedChunk) bool {
	return f == nil || f(c)
}

// Hit is a ranked chunk. Lexical and Semantic keep the per-signal scores
// that went into Score. Phrase is set when the chunk contains the whole
// normalized query.
type Hit struct {
	Chunk    *index.IndexedChunk
	Score    float64
	Lexical  float64
	Semantic float64
	Phrase   bool
}

// sortHits puts phrase matches ahead of other hits. Within each tier hits
// are ordered by score, then document id, then chunk index.
func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Phrase != b.Phrase {
			return a.Phrase
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Chunk.Chunk.DocID != b.Chunk.Chunk.DocID {
			return a.Chunk.Chunk.DocID < b.Chunk.Chunk.DocID
		}
		return a.Chunk.Chunk.Index < b.Chunk.Chunk.Index
	})
}

func topK(hits []Hit, k int) []Hit {
	sortHits(hits)
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
