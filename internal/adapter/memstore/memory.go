package memstore

import (
	"fmt"
	"sort"
	"sync"

	"docindex/internal/domain"
	"docindex/internal/port"
)

var _ port.DocumentStore = (*MemoryStore)(nil)

// MemoryStore is a DocumentStore kept entirely in memory. Values are
// copied on the way in and out so callers cannot alias stored rows.
type MemoryStore struct {
	mu        sync.RWMutex
	docs      map[string]domain.Document
	chunks    map[string]domain.Chunk
	entries   map[string]domain.IndexEntry
	docChunks map[string][]string
	stats     domain.Stats
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:      make(map[string]domain.Document),
		chunks:    make(map[string]domain.Chunk),
		entries:   make(map[string]domain.IndexEntry),
		docChunks: make(map[string][]string),
	}
}

func (s *MemoryStore) PutDoc(doc domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc
	return nil
}

func (s *MemoryStore) GetDoc(id string) (domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return domain.Document{}, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	return doc, nil
}

func (s *MemoryStore) ListDocs() ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]domain.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (s *MemoryStore) GetChunksByDoc(docID string) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chunksOf(docID), nil
}

func (s *MemoryStore) chunksOf(docID string) []domain.Chunk {
	chunkIDs := s.docChunks[docID]
	chunks := make([]domain.Chunk, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		if chunk, ok := s.chunks[id]; ok {
			chunks = append(chunks, copyChunk(chunk))
		}
	}
	return chunks
}

func (s *MemoryStore) GetEntriesByDoc(docID string) ([]domain.IndexEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []domain.IndexEntry
	for _, id := range s.docChunks[docID] {
		if entry, ok := s.entries[id]; ok {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (s *MemoryStore) ReplaceDocument(doc domain.Document, chunks []domain.Chunk, entries []domain.IndexEntry) error {
	for _, chunk := range chunks {
		if chunk.DocID != doc.ID {
			return fmt.Errorf("chunk %s belongs to %s, not %s", chunk.ID, chunk.DocID, doc.ID)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteRows(doc.ID)
	s.docs[doc.ID] = doc
	ids := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		s.chunks[chunk.ID] = copyChunk(chunk)
		ids = append(ids, chunk.ID)
	}
	for _, entry := range entries {
		s.entries[entry.ChunkID] = entry
	}
	if len(ids) > 0 {
		s.docChunks[doc.ID] = ids
	}
	return nil
}

func (s *MemoryStore) ClearDocument(doc domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteRows(doc.ID)
	s.docs[doc.ID] = doc
	return nil
}

func (s *MemoryStore) DeleteDocument(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteRows(id)
	delete(s.docs, id)
	return nil
}

func (s *MemoryStore) deleteRows(docID string) {
	for _, id := range s.docChunks[docID] {
		delete(s.chunks, id)
		delete(s.entries, id)
	}
	delete(s.docChunks, docID)
}

func (s *MemoryStore) GetStats() (domain.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats, nil
}

func (s *MemoryStore) UpdateStats(stats domain.Stats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = stats
	return nil
}

func (s *MemoryStore) LoadAll(dimension int) ([]port.StoredDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]port.StoredDocument, 0, len(ids))
	for _, id := range ids {
		stored := port.StoredDocument{Doc: s.docs[id], Chunks: s.chunksOf(id)}
		for _, chunk := range stored.Chunks {
			entry, ok := s.entries[chunk.ID]
			if !ok || len(entry.Vector) != dimension {
				stored.Corrupt = append(stored.Corrupt, chunk.ID)
				continue
			}
			stored.Entries = append(stored.Entries, entry)
		}
		out = append(out, stored)
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func copyChunk(c domain.Chunk) domain.Chunk {
	if c.Attributes != nil {
		attrs := make(map[string]string, len(c.Attributes))
		for k, v := range c.Attributes {
			attrs[k] = v
		}
		c.Attributes = attrs
	}
	return c
}
