package index

import (
	"sort"

	"docindex/internal/adapter/analyzer"
	"docindex/internal/domain"
)

// IndexedChunk is a chunk with the precomputed data search needs.
type IndexedChunk struct {
	Chunk  domain.Chunk
	Vector []float32
	TF     map[string]int
	Length int
}

// DocVersion is the visible state of one document. It is never mutated
// after it has been published.
type DocVersion struct {
	Doc    domain.Document
	Chunks []*IndexedChunk
	// terms counts, per term, the chunks of this document containing it.
	terms map[string]int
	// tokens is the total token count over all chunks.
	tokens int
}

// Version is the document version this state belongs to.
func (d *DocVersion) Version() uint64 { return d.Doc.Version }

func newDocVersion(doc domain.Document, chunks []domain.Chunk, entries []domain.IndexEntry) (*DocVersion, error) {
	byChunk := make(map[string]domain.IndexEntry, len(entries))
	for _, e := range entries {
		if e.DocID != doc.ID {
			return nil, errEntryOwner(e, doc.ID)
		}
		byChunk[e.ChunkID] = e
	}

	dv := &DocVersion{
		Doc:    doc,
		Chunks: make([]*IndexedChunk, 0, len(chunks)),
		terms:  make(map[string]int),
	}
	for _, c := range chunks {
		if c.DocID != doc.ID {
			return nil, errChunkOwner(c, doc.ID)
		}
		e, ok := byChunk[c.ID]
		if !ok {
			return nil, errMissingEntry(c)
		}

		tf := analyzer.TermFrequencies(e.Tokens)
		for t := range tf {
			dv.terms[t]++
		}
		dv.tokens += len(e.Tokens)

		c.Attributes = copyAttrs(c.Attributes)
		dv.Chunks = append(dv.Chunks, &IndexedChunk{
			Chunk:  c,
			Vector: e.Vector,
			TF:     tf,
			Length: len(e.Tokens),
		})
	}
	sort.Slice(dv.Chunks, func(i, j int) bool { return dv.Chunks[i].Chunk.Index < dv.Chunks[j].Chunk.Index })
	return dv, nil
}

func copyAttrs(attrs map[string]string) map[string]string {
	if attrs == nil {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

// Snapshot is an immutable view of the index. Searches hold one snapshot
// for their whole duration, so they never observe a partial update.
type Snapshot struct {
	generation uint64
	docs       map[string]*DocVersion
	docIDs     []string
	chunks     []*IndexedChunk
	df         map[string]int
	tokens     int
}

func emptySnapshot() *Snapshot {
	return &Snapshot{docs: map[string]*DocVersion{}, df: map[string]int{}}
}

// Generation increases with every publish.
func (s *Snapshot) Generation() uint64 { return s.generation }

// Doc returns the visible version of a document.
func (s *Snapshot) Doc(id string) (*DocVersion, bool) {
	dv, ok := s.docs[id]
	return dv, ok
}

// DocIDs returns visible document ids in ascending order.
func (s *Snapshot) DocIDs() []string { return s.docIDs }

// Chunks returns every visible chunk ordered by document id, then chunk
// index.
func (s *Snapshot) Chunks() []*IndexedChunk { return s.chunks }

// DocFreq is the number of chunks containing term.
func (s *Snapshot) DocFreq(term string) int { return s.df[term] }

// TotalChunks is the number of visible chunks.
func (s *Snapshot) TotalChunks() int { return len(s.chunks) }

// AvgChunkLen is the mean token count of visible chunks.
func (s *Snapshot) AvgChunkLen() float64 {
	if len(s.chunks) == 0 {
		return 0
	}
	return float64(s.tokens) / float64(len(s.chunks))
}

// Stats summarizes the snapshot.
func (s *Snapshot) Stats() domain.Stats {
	return domain.Stats{
		TotalDocs:   len(s.docs),
		TotalChunks: len(s.chunks),
		AvgChunkLen: s.AvgChunkLen(),
	}
}

// apply returns a new snapshot with ops applied. s is left untouched.
func (s *Snapshot) apply(generation uint64, ops map[string]op) *Snapshot {
	next := &Snapshot{
		generation: generation,
		docs:       make(map[string]*DocVersion, len(s.docs)+len(ops)),
		df:         make(map[string]int, len(s.df)),
		tokens:     s.tokens,
	}
	for id, dv := range s.docs {
		next.docs[id] = dv
	}
	for t, n := range s.df {
		next.df[t] = n
	}

	for id, o := range ops {
		if old, ok := next.docs[id]; ok {
			next.subtract(old)
			delete(next.docs, id)
		}
		if o.remove {
			continue
		}
		next.docs[id] = o.version
		next.add(o.version)
	}

	next.rebuildOrder()
	return next
}

func (s *Snapshot) add(dv *DocVersion) {
	for t, n := range dv.terms {
		s.df[t] += n
	}
	s.tokens += dv.tokens
}

func (s *Snapshot) subtract(dv *DocVersion) {
	for t, n := range dv.terms {
		if s.df[t] <= n {
			delete(s.df, t)
		} else {
			s.df[t] -= n
		}
	}
	s.tokens -= dv.tokens
}

func (s *Snapshot) rebuildOrder() {
	s.docIDs = make([]string, 0, len(s.docs))
	total := 0
	for id, dv := range s.docs {
		s.docIDs = append(s.docIDs, id)
		total += len(dv.Chunks)
	}
	sort.Strings(s.docIDs)

	s.chunks = make([]*IndexedChunk, 0, total)
	for _, id := range s.docIDs {
		s.chunks = append(s.chunks, s.docs[id].Chunks...)
	}
}
