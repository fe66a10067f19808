package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"docindex/config"
	"docindex/internal/domain"
)

func openStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRows(docID string, n int) ([]domain.Chunk, []domain.IndexEntry) {
	var chunks []domain.Chunk
	var entries []domain.IndexEntry
	for i := 0; i < n; i++ {
		id := docID + "#" + string(rune('a'+i))
		chunks = append(chunks, domain.Chunk{
			ID:         id,
			DocID:      docID,
			Index:      i,
			Start:      i * 10,
			End:        i*10 + 12,
			Text:       "chunk text " + string(rune('a'+i)),
			Attributes: map[string]string{"doc_type": "md"},
		})
		entries = append(entries, domain.IndexEntry{
			ChunkID: id,
			DocID:   docID,
			Vector:  []float32{1, 0, 0},
			Tokens:  []string{"chunk", "text"},
		})
	}
	return chunks, entries
}

func TestBoltStore_ReplaceDocument(t *testing.T) {
	s := openStore(t)
	doc := domain.Document{ID: "a.md", Path: "a.md", ContentHash: "h1", Status: domain.StatusParsed, Version: 1}

	chunks, entries := sampleRows(doc.ID, 3)
	require.NoError(t, s.ReplaceDocument(doc, chunks, entries))

	got, err := s.GetChunksByDoc(doc.ID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, chunks[1].Text, got[1].Text)
	assert.Equal(t, "md", got[2].Attributes["doc_type"])

	// A shorter replacement must not leave rows of the old version behind.
	doc.Version = 2
	newChunks, newEntries := sampleRows(doc.ID, 1)
	newChunks[0].ID, newEntries[0].ChunkID = "a.md#new", "a.md#new"
	require.NoError(t, s.ReplaceDocument(doc, newChunks, newEntries))

	got, err = s.GetChunksByDoc(doc.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a.md#new", got[0].ID)

	gotEntries, err := s.GetEntriesByDoc(doc.ID)
	require.NoError(t, err)
	require.Len(t, gotEntries, 1)
	assert.Equal(t, []float32{1, 0, 0}, gotEntries[0].Vector)

	err = s.db.View(func(tx *bbolt.Tx) error {
		for _, old := range chunks {
			assert.Nil(t, tx.Bucket(bucketChunks).Get([]byte(old.ID)))
			assert.Nil(t, tx.Bucket(bucketBlobs).Get([]byte(old.ID)))
			assert.Nil(t, tx.Bucket(bucketEntries).Get([]byte(old.ID)))
		}
		return nil
	})
	require.NoError(t, err)

	stored, err := s.GetDoc(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stored.Version)
}

func TestBoltStore_ReplaceDocumentRejectsForeignChunks(t *testing.T) {
	s := openStore(t)
	doc := domain.Document{ID: "a.md", Path: "a.md", Version: 1}
	chunks, entries := sampleRows("other.md", 1)

	require.Error(t, s.ReplaceDocument(doc, chunks, entries))

	_, err := s.GetDoc(doc.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound, "failed transaction must not write the document row")
}

func TestBoltStore_ClearAndDelete(t *testing.T) {
	s := openStore(t)
	doc := domain.Document{ID: "a.md", Path: "a.md", Status: domain.StatusParsed, Version: 1}
	chunks, entries := sampleRows(doc.ID, 2)
	require.NoError(t, s.ReplaceDocument(doc, chunks, entries))

	doc.Status = domain.StatusFailed
	doc.Error = "parse a.md: corrupt"
	require.NoError(t, s.ClearDocument(doc))

	got, err := s.GetChunksByDoc(doc.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
	stored, err := s.GetDoc(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)

	require.NoError(t, s.DeleteDocument(doc.ID))
	_, err = s.GetDoc(doc.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	docs, err := s.ListDocs()
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestBoltStore_LoadAllDetectsCorruptEntries(t *testing.T) {
	s := openStore(t)
	doc := domain.Document{ID: "a.md", Path: "a.md", Status: domain.StatusParsed, Version: 1}
	chunks, entries := sampleRows(doc.ID, 3)
	entries[2].Vector = []float32{1, 0}
	require.NoError(t, s.ReplaceDocument(doc, chunks, entries))

	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEntries).Put([]byte(chunks[1].ID), []byte("{not json"))
	})
	require.NoError(t, err)

	loaded, err := s.LoadAll(3)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	assert.Len(t, loaded[0].Chunks, 3)
	require.Len(t, loaded[0].Entries, 1)
	assert.Equal(t, chunks[0].ID, loaded[0].Entries[0].ChunkID)
	assert.Equal(t, []string{chunks[1].ID, chunks[2].ID}, loaded[0].Corrupt)
}

func TestBoltStore_Stats(t *testing.T) {
	s := openStore(t)

	stats, err := s.GetStats()
	require.NoError(t, err)
	assert.Zero(t, stats.TotalDocs)

	require.NoError(t, s.UpdateStats(domain.Stats{TotalDocs: 2, TotalChunks: 5, AvgChunkLen: 120.5}))
	stats, err = s.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 5, stats.TotalChunks)
}

func TestMigrations(t *testing.T) {
	s := openStore(t)
	cfg := config.DefaultConfig()

	result, err := s.CheckMigration(cfg)
	require.NoError(t, err)
	assert.True(t, result.NeedsMigration)
	assert.False(t, result.NeedsRebuild)

	require.NoError(t, s.Migrate(cfg))
	result, err = s.CheckMigration(cfg)
	require.NoError(t, err)
	assert.False(t, result.NeedsMigration)
	assert.False(t, result.NeedsRebuild)

	changed := config.DefaultConfig()
	changed.Chunk.Overlap = 50
	needs, reason, err := s.NeedsRebuild(changed)
	require.NoError(t, err)
	assert.True(t, needs)
	assert.Equal(t, "index configuration changed", reason)

	// Query-time settings do not invalidate stored rows.
	tuned := config.DefaultConfig()
	tuned.Index.K1 = 2.0
	tuned.Search.RRFK = 10
	assert.Equal(t, ComputeConfigHash(cfg), ComputeConfigHash(tuned))
}

func TestClearKeepsSchemaInfo(t *testing.T) {
	s := openStore(t)
	cfg := config.DefaultConfig()
	require.NoError(t, s.Migrate(cfg))

	chunks, entries := sampleRows("a.md", 2)
	require.NoError(t, s.ReplaceDocument(domain.Document{ID: "a.md"}, chunks, entries))
	require.NoError(t, s.UpdateStats(domain.Stats{TotalDocs: 1}))
	require.NoError(t, s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketStats).Put([]byte("last_run"), []byte("x"))
	}))

	require.NoError(t, s.Clear())

	require.NoError(t, s.db.View(func(tx *bbolt.Tx) error {
		assert.Nil(t, tx.Bucket(bucketStats).Get([]byte("last_run")))
		return nil
	}))

	docs, err := s.ListDocs()
	require.NoError(t, err)
	assert.Empty(t, docs)
	stats, err := s.GetStats()
	require.NoError(t, err)
	assert.Zero(t, stats.TotalDocs)

	info, err := s.GetSchemaInfo()
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, info.Version)
	assert.Equal(t, ComputeConfigHash(cfg), info.ConfigHash)
}
