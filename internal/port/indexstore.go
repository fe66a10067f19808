package port

import "docindex/internal/domain"

// DocumentStore persists documents, their chunks and index entries.
// The chunk table is the source of truth for index rebuilds.
type DocumentStore interface {
	GetDoc(id string) (domain.Document, error)

	ListDocs() ([]domain.Document, error)

	PutDoc(doc domain.Document) error

	GetChunksByDoc(docID string) ([]domain.Chunk, error)

	GetEntriesByDoc(docID string) ([]domain.IndexEntry, error)

	// ReplaceDocument atomically swaps the chunk set and entries of a document.
	ReplaceDocument(doc domain.Document, chunks []domain.Chunk, entries []domain.IndexEntry) error

	// ClearDocument keeps the document row but removes its chunks and entries.
	ClearDocument(doc domain.Document) error

	DeleteDocument(id string) error

	GetStats() (domain.Stats, error)

	UpdateStats(stats domain.Stats) error

	// LoadAll returns every document with its chunks and the entries that
	// decode with the given vector dimension. Other chunks are listed in
	// StoredDocument.Corrupt.
	LoadAll(dimension int) ([]StoredDocument, error)

	Close() error
}

// StoredDocument is a persisted document with its derived rows.
type StoredDocument struct {
	Doc     domain.Document
	Chunks  []domain.Chunk
	Entries []domain.IndexEntry
	Corrupt []string
}
