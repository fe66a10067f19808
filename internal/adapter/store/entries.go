package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"

	"docindex/internal/domain"
	"docindex/internal/port"
)

type storedEntry struct {
	DocID  string    `json:"d"`
	Vector []float32 `json:"v,omitempty"`
	Tokens []string  `json:"t"`
}

func encodeEntry(entry domain.IndexEntry) ([]byte, error) {
	return json.Marshal(storedEntry{
		DocID:  entry.DocID,
		Vector: entry.Vector,
		Tokens: entry.Tokens,
	})
}

func decodeEntry(chunkID string, data []byte) (domain.IndexEntry, error) {
	if data == nil {
		return domain.IndexEntry{}, fmt.Errorf("entry %s: %w", chunkID, domain.ErrNotFound)
	}
	var stored storedEntry
	if err := json.Unmarshal(data, &stored); err != nil {
		return domain.IndexEntry{}, fmt.Errorf("decode entry %s: %w", chunkID, err)
	}
	return domain.IndexEntry{
		ChunkID: chunkID,
		DocID:   stored.DocID,
		Vector:  stored.Vector,
		Tokens:  stored.Tokens,
	}, nil
}

var errDimension = errors.New("vector dimension mismatch")

// LoadAll reads every document with its chunks and entries for index
// warm-up. An entry that is missing, cannot be decoded, belongs to another
// document or has a vector of the wrong size marks its chunk corrupt.
// dimension 0 means vectors are not expected.
func (s *BoltStore) LoadAll(dimension int) ([]port.StoredDocument, error) {
	var out []port.StoredDocument
	err := s.db.View(func(tx *bbolt.Tx) error {
		entryBucket := tx.Bucket(bucketEntries)
		return tx.Bucket(bucketDocs).ForEach(func(k, v []byte) error {
			var doc domain.Document
			if err := json.Unmarshal(v, &doc); err != nil {
				return fmt.Errorf("decode document %s: %w", k, err)
			}
			chunks, err := readChunks(tx, doc.ID)
			if err != nil {
				return err
			}

			stored := port.StoredDocument{Doc: doc, Chunks: chunks}
			for _, chunk := range chunks {
				entry, err := decodeEntry(chunk.ID, entryBucket.Get([]byte(chunk.ID)))
				if err == nil {
					err = checkEntry(entry, doc.ID, dimension)
				}
				if err != nil {
					stored.Corrupt = append(stored.Corrupt, chunk.ID)
					continue
				}
				stored.Entries = append(stored.Entries, entry)
			}
			out = append(out, stored)
			return nil
		})
	})
	return out, err
}

func checkEntry(entry domain.IndexEntry, docID string, dimension int) error {
	if entry.DocID != docID {
		return fmt.Errorf("entry %s belongs to %s", entry.ChunkID, entry.DocID)
	}
	if len(entry.Vector) != dimension {
		return fmt.Errorf("entry %s: %w: got %d, want %d", entry.ChunkID, errDimension, len(entry.Vector), dimension)
	}
	return nil
}
