package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"docindex/internal/domain"
	"docindex/internal/port"
)

var (
	bucketDocs      = []byte("docs")
	bucketChunks    = []byte("chunks")
	bucketBlobs     = []byte("blobs")
	bucketDocChunks = []byte("doc_chunks")
	bucketEntries   = []byte("entries")
	bucketStats     = []byte("stats")
	keyStats        = []byte("corpus_stats")

	allBuckets = [][]byte{bucketDocs, bucketChunks, bucketBlobs, bucketDocChunks, bucketEntries, bucketStats}
)

var _ port.DocumentStore = (*BoltStore)(nil)

type BoltStore struct {
	db *bbolt.DB
}

// openTimeout bounds the wait for the file lock held by another process.
const openTimeout = 2 * time.Second

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

type chunkMeta struct {
	DocID       string            `json:"doc_id"`
	Index       int               `json:"index"`
	Start       int               `json:"start"`
	End         int               `json:"end"`
	OverlapPrev int               `json:"overlap_prev"`
	Attributes  map[string]string `json:"attrs,omitempty"`
}

func (s *BoltStore) PutDoc(doc domain.Document) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putDoc(tx, doc)
	})
}

func putDoc(tx *bbolt.Tx, doc domain.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketDocs).Put([]byte(doc.ID), data)
}

func (s *BoltStore) GetDoc(id string) (domain.Document, error) {
	var doc domain.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketDocs).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
		}
		return json.Unmarshal(data, &doc)
	})
	return doc, err
}

// ListDocs returns documents ordered by id.
func (s *BoltStore) ListDocs() ([]domain.Document, error) {
	var docs []domain.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDocs).ForEach(func(k, v []byte) error {
			var doc domain.Document
			if err := json.Unmarshal(v, &doc); err != nil {
				return fmt.Errorf("decode document %s: %w", k, err)
			}
			docs = append(docs, doc)
			return nil
		})
	})
	return docs, err
}

// GetChunksByDoc returns the chunks of a document ordered by index.
func (s *BoltStore) GetChunksByDoc(docID string) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		chunks, err = readChunks(tx, docID)
		return err
	})
	return chunks, err
}

func readChunks(tx *bbolt.Tx, docID string) ([]domain.Chunk, error) {
	ids, err := docChunkIDs(tx, docID)
	if err != nil {
		return nil, err
	}

	chunkBucket := tx.Bucket(bucketChunks)
	blobBucket := tx.Bucket(bucketBlobs)
	chunks := make([]domain.Chunk, 0, len(ids))
	for _, id := range ids {
		data := chunkBucket.Get([]byte(id))
		if data == nil {
			return nil, fmt.Errorf("chunk %s of %s: %w", id, docID, domain.ErrNotFound)
		}
		var meta chunkMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			return nil, fmt.Errorf("decode chunk %s: %w", id, err)
		}
		text := blobBucket.Get([]byte(id))
		if text == nil {
			return nil, fmt.Errorf("blob of chunk %s: %w", id, domain.ErrNotFound)
		}
		chunks = append(chunks, domain.Chunk{
			ID:          id,
			DocID:       meta.DocID,
			Index:       meta.Index,
			Start:       meta.Start,
			End:         meta.End,
			Text:        string(text),
			OverlapPrev: meta.OverlapPrev,
			Attributes:  meta.Attributes,
		})
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })
	return chunks, nil
}

func docChunkIDs(tx *bbolt.Tx, docID string) ([]string, error) {
	data := tx.Bucket(bucketDocChunks).Get([]byte(docID))
	if data == nil {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("decode chunk list of %s: %w", docID, err)
	}
	return ids, nil
}

// GetEntriesByDoc returns the entries of a document in chunk order.
// Chunks without a decodable entry are skipped.
func (s *BoltStore) GetEntriesByDoc(docID string) ([]domain.IndexEntry, error) {
	var entries []domain.IndexEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		ids, err := docChunkIDs(tx, docID)
		if err != nil {
			return err
		}
		b := tx.Bucket(bucketEntries)
		for _, id := range ids {
			entry, err := decodeEntry(id, b.Get([]byte(id)))
			if err != nil {
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}

// ReplaceDocument writes doc and swaps its chunk set and entries in one
// transaction. Readers see either the old rows or the new ones.
func (s *BoltStore) ReplaceDocument(doc domain.Document, chunks []domain.Chunk, entries []domain.IndexEntry) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := deleteChunkRows(tx, doc.ID); err != nil {
			return err
		}
		if err := putDoc(tx, doc); err != nil {
			return err
		}
		return putChunkRows(tx, doc.ID, chunks, entries)
	})
}

// ClearDocument keeps the document row and drops everything derived from it.
func (s *BoltStore) ClearDocument(doc domain.Document) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := deleteChunkRows(tx, doc.ID); err != nil {
			return err
		}
		return putDoc(tx, doc)
	})
}

func (s *BoltStore) DeleteDocument(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := deleteChunkRows(tx, id); err != nil {
			return err
		}
		return tx.Bucket(bucketDocs).Delete([]byte(id))
	})
}

func putChunkRows(tx *bbolt.Tx, docID string, chunks []domain.Chunk, entries []domain.IndexEntry) error {
	chunkBucket := tx.Bucket(bucketChunks)
	blobBucket := tx.Bucket(bucketBlobs)
	entryBucket := tx.Bucket(bucketEntries)

	ids := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if chunk.DocID != docID {
			return fmt.Errorf("chunk %s belongs to %s, not %s", chunk.ID, chunk.DocID, docID)
		}
		data, err := json.Marshal(chunkMeta{
			DocID:       chunk.DocID,
			Index:       chunk.Index,
			Start:       chunk.Start,
			End:         chunk.End,
			OverlapPrev: chunk.OverlapPrev,
			Attributes:  chunk.Attributes,
		})
		if err != nil {
			return err
		}
		if err := chunkBucket.Put([]byte(chunk.ID), data); err != nil {
			return err
		}
		if err := blobBucket.Put([]byte(chunk.ID), []byte(chunk.Text)); err != nil {
			return err
		}
		ids = append(ids, chunk.ID)
	}

	for _, entry := range entries {
		data, err := encodeEntry(entry)
		if err != nil {
			return err
		}
		if err := entryBucket.Put([]byte(entry.ChunkID), data); err != nil {
			return err
		}
	}

	if len(ids) == 0 {
		return nil
	}
	idsData, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketDocChunks).Put([]byte(docID), idsData)
}

func deleteChunkRows(tx *bbolt.Tx, docID string) error {
	ids, err := docChunkIDs(tx, docID)
	if err != nil {
		return err
	}
	chunkBucket := tx.Bucket(bucketChunks)
	blobBucket := tx.Bucket(bucketBlobs)
	entryBucket := tx.Bucket(bucketEntries)
	for _, id := range ids {
		if err := chunkBucket.Delete([]byte(id)); err != nil {
			return err
		}
		if err := blobBucket.Delete([]byte(id)); err != nil {
			return err
		}
		if err := entryBucket.Delete([]byte(id)); err != nil {
			return err
		}
	}
	return tx.Bucket(bucketDocChunks).Delete([]byte(docID))
}

func (s *BoltStore) GetStats() (domain.Stats, error) {
	var stats domain.Stats
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketStats).Get(keyStats)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &stats)
	})
	return stats, err
}

func (s *BoltStore) UpdateStats(stats domain.Stats) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(stats)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketStats).Put(keyStats, data)
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
