package usecase

import (
	"context"
	"errors"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docindex/internal/adapter/analyzer"
	"docindex/internal/adapter/cache"
	"docindex/internal/adapter/chunker"
	"docindex/internal/adapter/embedding"
	"docindex/internal/adapter/memstore"
	"docindex/internal/adapter/parser"
	"docindex/internal/adapter/retriever"
	"docindex/internal/domain"
	"docindex/internal/index"
	"docindex/internal/port"
)

type memBlobs struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemBlobs(files map[string]string) *memBlobs {
	b := &memBlobs{files: make(map[string][]byte)}
	for p, content := range files {
		b.files[p] = []byte(content)
	}
	return b
}

func (b *memBlobs) set(path, content string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.files[path] = []byte(content)
}

func (b *memBlobs) remove(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.files, path)
}

func (b *memBlobs) List(ctx context.Context, prefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var paths []string
	for p := range b.files {
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (b *memBlobs) Read(ctx context.Context, path string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.files[path]
	if !ok {
		return nil, &domain.LoadError{Path: path, Err: fs.ErrNotExist}
	}
	return append([]byte(nil), data...), nil
}

func (b *memBlobs) Stat(ctx context.Context, path string) (port.BlobInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.files[path]
	if !ok {
		return port.BlobInfo{}, &domain.LoadError{Path: path, Err: fs.ErrNotExist}
	}
	return port.BlobInfo{Path: path, Size: int64(len(data))}, nil
}

func (b *memBlobs) URL(path string) string { return "mem://" + path }

// switchEmbedder wraps a HashEmbedder and can be made unavailable.
type switchEmbedder struct {
	*embedding.HashEmbedder
	down  atomic.Bool
	calls atomic.Int32
}

func (e *switchEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.down.Load() {
		return nil, domain.ErrEmbeddingUnavailable
	}
	return e.HashEmbedder.Embed(ctx, texts)
}

type pipeline struct {
	blobs    *memBlobs
	store    *memstore.MemoryStore
	index    *index.Index
	embedder *switchEmbedder
	ingest   *IngestUseCase
	search   *SearchUseCase
	cache    *cache.QueryCache
}

func newPipeline(t *testing.T, files map[string]string) *pipeline {
	t.Helper()
	p := &pipeline{
		blobs:    newMemBlobs(files),
		store:    memstore.NewMemoryStore(),
		index:    index.New(index.Options{BatchSize: 100, TargetLag: time.Hour}),
		embedder: &switchEmbedder{HashEmbedder: embedding.NewHashEmbedder(64)},
		cache:    cache.NewQueryCache(16, time.Minute),
	}
	tokenizer := analyzer.NewTokenizer(true)
	p.ingest = NewIngestUseCase(
		p.blobs,
		p.store,
		parser.WithTimeout(parser.New(domain.ModeAuto, nil), time.Second),
		chunker.NewRecursiveChunker(120, 20, nil),
		p.embedder,
		tokenizer,
		p.index,
		IngestOptions{Workers: 4, MaxRetries: 2, Backoff: time.Millisecond},
	)
	hybrid := retriever.NewHybridRetriever(
		retriever.NewBM25Retriever(tokenizer, 1.2, 0.75, 0.2),
		retriever.NewSemanticRetriever(p.embedder, 0.3),
		60, 0.5,
	)
	p.search = NewSearchUseCase(p.index, hybrid, p.cache, 5, 20)
	return p
}

var corpus = map[string]string{
	"guide.md": "# Billing\n\nInvoices are issued monthly to every customer.\n\n## Refunds\n\nRefund requests are processed within five business days.\n",
	"zebra.txt": "Zebra migration patterns puzzle field biologists every spring.\n\n" +
		"The herd crosses the river at dawn and rests in the tall grass before moving north again.",
	"notes/q3.txt": "Quarterly revenue grew while margins held steady.",
}

func TestIngest_IndexesAndFindsVerbatimPhrase(t *testing.T) {
	p := newPipeline(t, corpus)
	ctx := context.Background()

	res, err := p.ingest.Ingest(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Indexed)
	assert.Zero(t, res.Failed)
	assert.NotEmpty(t, res.RunID)

	results, err := p.search.Search(ctx, SearchRequest{Query: "puzzle field biologists", Limit: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "zebra.txt", results[0].DocumentID)
	assert.Contains(t, results[0].Chunk.Text, "puzzle field biologists")
	assert.Equal(t, "mem://zebra.txt", results[0].SourceURL)
	assert.Equal(t, 1, results[0].Rank)

	results, err = p.search.Search(ctx, SearchRequest{Query: "refund requests", Limit: 2})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.LessOrEqual(t, len(results), 2)
	assert.Equal(t, "guide.md", results[0].DocumentID)
	assert.Contains(t, results[0].Chunk.Attributes["section"], "Billing")

	stats, err := p.store.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalDocs)
}

func TestSearch_VerbatimPhraseBeatsReorderedWords(t *testing.T) {
	p := newPipeline(t, map[string]string{
		"x.txt": "Quarterly revenue grew while margins held steady across regions",
		"y.txt": "steady margins held",
		"z.txt": "held margins steady",
	})
	ctx := context.Background()

	_, err := p.ingest.Ingest(ctx, "")
	require.NoError(t, err)

	results, err := p.search.Search(ctx, SearchRequest{Query: "margins held steady", Limit: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "x.txt", results[0].DocumentID)

	preview, err := p.search.Preview(ctx, SearchRequest{Query: "Margins  HELD steady", Limit: 3})
	require.NoError(t, err)
	require.Len(t, preview, 3)
	assert.Equal(t, "x.txt", preview[0].DocumentID)
	assert.ElementsMatch(t, []string{"y.txt", "z.txt"}, []string{preview[1].DocumentID, preview[2].DocumentID})
}

func TestIngest_UnchangedIsNoop(t *testing.T) {
	p := newPipeline(t, corpus)
	ctx := context.Background()

	_, err := p.ingest.Ingest(ctx, "")
	require.NoError(t, err)
	gen := p.index.Snapshot().Generation()
	calls := p.embedder.calls.Load()
	before, err := p.store.ListDocs()
	require.NoError(t, err)

	res, err := p.ingest.Ingest(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Skipped)
	assert.Zero(t, res.Indexed)
	assert.Equal(t, gen, p.index.Snapshot().Generation())
	assert.Equal(t, calls, p.embedder.calls.Load())

	after, err := p.store.ListDocs()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestIngest_ChangedDocumentReplacesChunks(t *testing.T) {
	p := newPipeline(t, corpus)
	ctx := context.Background()
	_, err := p.ingest.Ingest(ctx, "")
	require.NoError(t, err)
	oldChunks, err := p.store.GetChunksByDoc("notes/q3.txt")
	require.NoError(t, err)

	p.blobs.set("notes/q3.txt", "Headcount doubled after the merger.")
	res, err := p.ingest.Ingest(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Indexed)
	assert.Equal(t, 2, res.Skipped)

	doc, err := p.store.GetDoc("notes/q3.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), doc.Version)

	newChunks, err := p.store.GetChunksByDoc("notes/q3.txt")
	require.NoError(t, err)
	require.Len(t, newChunks, 1)
	assert.NotEqual(t, oldChunks[0].ID, newChunks[0].ID)

	results, err := p.search.Search(ctx, SearchRequest{Query: "margins held steady", Filters: map[string]string{"folder": "notes"}})
	require.NoError(t, err)
	for _, r := range results {
		assert.NotContains(t, r.Chunk.Text, "margins")
	}

	results, err = p.search.Search(ctx, SearchRequest{Query: "headcount merger"})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "notes/q3.txt", results[0].DocumentID)
}

func TestIngest_FailedParseIsIsolated(t *testing.T) {
	files := map[string]string{"broken.pdf": "this is not a pdf"}
	for k, v := range corpus {
		files[k] = v
	}
	p := newPipeline(t, files)
	ctx := context.Background()

	res, err := p.ingest.Ingest(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Indexed)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "broken.pdf")

	doc, err := p.store.GetDoc("broken.pdf")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, doc.Status)
	assert.NotEmpty(t, doc.Error)
	chunks, err := p.store.GetChunksByDoc("broken.pdf")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	// A previously indexed document that turns corrupt loses its rows.
	p.blobs.set("notes/q3.txt", "Quarterly\x00revenue")
	res, err = p.ingest.Ingest(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Failed)

	chunks, err = p.store.GetChunksByDoc("notes/q3.txt")
	require.NoError(t, err)
	assert.Empty(t, chunks)
	_, visible := p.index.Snapshot().Doc("notes/q3.txt")
	assert.False(t, visible)

	status, err := p.ingest.Status()
	require.NoError(t, err)
	assert.Equal(t, 2, status.Stats.FailedDocs)
	assert.Equal(t, 2, status.ByStatus[domain.StatusParsed])
}

func TestIngest_EmbeddingOutageKeepsPreviousVersion(t *testing.T) {
	p := newPipeline(t, corpus)
	ctx := context.Background()
	_, err := p.ingest.Ingest(ctx, "")
	require.NoError(t, err)

	p.embedder.down.Store(true)
	p.blobs.set("notes/q3.txt", "Headcount doubled after the merger.")
	calls := p.embedder.calls.Load()

	res, err := p.ingest.Ingest(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Degraded)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, int32(3), p.embedder.calls.Load()-calls, "one attempt plus two retries")

	doc, err := p.store.GetDoc("notes/q3.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), doc.Version)
	assert.Equal(t, domain.StatusParsed, doc.Status)
	assert.NotEmpty(t, doc.Error)

	status, err := p.ingest.Status()
	require.NoError(t, err)
	assert.Equal(t, 1, status.Stats.DegradedDocs)
	assert.Zero(t, status.Stats.FailedDocs)
	require.Len(t, status.Degraded, 1)
	assert.Equal(t, "notes/q3.txt", status.Degraded[0].ID)
	stored, err := p.store.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stored.DegradedDocs)

	// Queries keep serving the old version; semantic search falls back to lexical.
	results, err := p.search.Search(ctx, SearchRequest{Query: "margins held steady"})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "notes/q3.txt", results[0].DocumentID)

	p.embedder.down.Store(false)
	res, err = p.ingest.Ingest(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Indexed)

	status, err = p.ingest.Status()
	require.NoError(t, err)
	assert.Zero(t, status.Stats.DegradedDocs)
	assert.Empty(t, status.Degraded)
}

func TestIngest_RevertedContentClearsDegradedWarning(t *testing.T) {
	p := newPipeline(t, corpus)
	ctx := context.Background()
	_, err := p.ingest.Ingest(ctx, "")
	require.NoError(t, err)

	p.embedder.down.Store(true)
	p.blobs.set("notes/q3.txt", "Headcount doubled after the merger.")
	_, err = p.ingest.Ingest(ctx, "")
	require.NoError(t, err)

	p.blobs.set("notes/q3.txt", corpus["notes/q3.txt"])
	res, err := p.ingest.Ingest(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Skipped)

	status, err := p.ingest.Status()
	require.NoError(t, err)
	assert.Empty(t, status.Degraded)
}

func TestIngest_NewDocumentDuringOutageIsRetried(t *testing.T) {
	p := newPipeline(t, map[string]string{"a.txt": "alpha beta gamma"})
	p.embedder.down.Store(true)

	res, err := p.ingest.Ingest(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Degraded)
	doc, err := p.store.GetDoc("a.txt")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnparsed, doc.Status)

	p.embedder.down.Store(false)
	res, err = p.ingest.Ingest(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Indexed)
}

func TestIngest_VanishedDocumentsAreRemoved(t *testing.T) {
	p := newPipeline(t, corpus)
	ctx := context.Background()
	_, err := p.ingest.Ingest(ctx, "")
	require.NoError(t, err)

	p.blobs.remove("zebra.txt")
	res, err := p.ingest.Ingest(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)

	_, err = p.store.GetDoc("zebra.txt")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	results, err := p.search.Search(ctx, SearchRequest{Query: "zebra migration"})
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "zebra.txt", r.DocumentID)
	}

	// The document can come back while its removal is still pending.
	p.blobs.remove("notes/q3.txt")
	res, err = p.ingest.IngestPaths(ctx, []string{"notes/q3.txt"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	p.blobs.set("notes/q3.txt", "Headcount doubled after the merger.")
	res, err = p.ingest.IngestPaths(ctx, []string{"notes/q3.txt"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Indexed)

	p.index.Flush()
	dv, ok := p.index.Snapshot().Doc("notes/q3.txt")
	require.True(t, ok)
	assert.Contains(t, dv.Chunks[0].Chunk.Text, "Headcount")
}

func TestSearch_EmptyIndex(t *testing.T) {
	p := newPipeline(t, nil)

	results, err := p.search.Search(context.Background(), SearchRequest{Query: "anything"})
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestSearch_Validation(t *testing.T) {
	p := newPipeline(t, nil)

	tests := []struct {
		name  string
		req   SearchRequest
		field string
	}{
		{"empty query", SearchRequest{Query: "   "}, "query"},
		{"negative limit", SearchRequest{Query: "x", Limit: -1}, "limit"},
		{"limit above max", SearchRequest{Query: "x", Limit: 21}, "limit"},
		{"bad filter key", SearchRequest{Query: "x", Filters: map[string]string{"Folder; DROP": "a"}}, "filters"},
		{"query too long", SearchRequest{Query: strings.Repeat("a", maxQueryRunes+1)}, "query"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := p.search.Search(context.Background(), tt.req)
			require.Error(t, err)
			assert.Nil(t, results)
			assert.ErrorIs(t, err, domain.ErrQuery)
			var qe *domain.QueryError
			require.True(t, errors.As(err, &qe))
			assert.Equal(t, tt.field, qe.Field)
		})
	}

	q, err := p.search.Validate(SearchRequest{Query: " revenue "})
	require.NoError(t, err)
	assert.Equal(t, domain.Query{Text: "revenue", Limit: 5}, q)
}

func TestSearch_FiltersApplyBeforeRanking(t *testing.T) {
	p := newPipeline(t, map[string]string{
		"notes/a.txt":  "revenue forecast",
		"notes/b.txt":  "revenue forecast",
		"legal/c.txt":  "revenue revenue forecast",
		"legal/d.html": "<p>revenue</p>",
	})
	ctx := context.Background()
	_, err := p.ingest.Ingest(ctx, "")
	require.NoError(t, err)

	results, err := p.search.Search(ctx, SearchRequest{Query: "revenue", Filters: map[string]string{"folder": "notes"}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "notes/a.txt", results[0].DocumentID)

	results, err = p.search.Search(ctx, SearchRequest{Query: "revenue", Filters: map[string]string{"doc_type": "html"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "legal/d.html", results[0].DocumentID)

	results, err = p.search.Search(ctx, SearchRequest{Query: "revenue", Filters: map[string]string{FilterDocID: "legal/c.txt"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "legal/c.txt", results[0].DocumentID)

	results, err = p.search.Search(ctx, SearchRequest{Query: "revenue", Filters: map[string]string{"folder": "missing"}})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_PreviewLeavesCacheAlone(t *testing.T) {
	p := newPipeline(t, corpus)
	ctx := context.Background()
	_, err := p.ingest.Ingest(ctx, "")
	require.NoError(t, err)

	preview, err := p.search.Preview(ctx, SearchRequest{Query: "refund requests"})
	require.NoError(t, err)
	require.NotEmpty(t, preview)
	assert.Greater(t, preview[0].Lexical, 0.0)
	assert.Zero(t, p.cache.Size())

	results, err := p.search.Search(ctx, SearchRequest{Query: "refund requests"})
	require.NoError(t, err)
	assert.Equal(t, preview, results)
	assert.Equal(t, 1, p.cache.Size())
	gen := p.index.Snapshot().Generation()

	_, err = p.search.Preview(ctx, SearchRequest{Query: "refund requests"})
	require.NoError(t, err)
	assert.Equal(t, gen, p.index.Snapshot().Generation())
}

func TestWarm_RepairsEntriesWithWrongDimension(t *testing.T) {
	p := newPipeline(t, corpus)
	ctx := context.Background()
	_, err := p.ingest.Ingest(ctx, "")
	require.NoError(t, err)

	// Same rows, a fresh process with a different embedding size.
	ix := index.New(index.Options{})
	reopened := NewIngestUseCase(p.blobs, p.store, parser.New(domain.ModeAuto, nil),
		chunker.NewRecursiveChunker(120, 20, nil), embedding.NewHashEmbedder(32),
		analyzer.NewTokenizer(true), ix, IngestOptions{})

	res, err := reopened.Warm(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Repaired)
	assert.Equal(t, 3, res.Documents)
	assert.Empty(t, res.Warnings)

	for _, c := range ix.Snapshot().Chunks() {
		assert.Len(t, c.Vector, 32)
	}
	assert.Equal(t, p.index.Snapshot().TotalChunks(), ix.Snapshot().TotalChunks())
}

func TestRebuild_FromChunkTable(t *testing.T) {
	p := newPipeline(t, corpus)
	ctx := context.Background()
	_, err := p.ingest.Ingest(ctx, "")
	require.NoError(t, err)
	before := p.index.Snapshot()

	res, err := p.ingest.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Documents)
	assert.Equal(t, before.TotalChunks(), res.Chunks)

	after := p.index.Snapshot()
	assert.Greater(t, after.Generation(), before.Generation())
	assert.Equal(t, before.DocIDs(), after.DocIDs())
	assert.Equal(t, before.Stats(), after.Stats())
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("doc")
			n := active.Add(1)
			if n > maxActive.Load() {
				maxActive.Store(n)
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxActive.Load())
	assert.Empty(t, k.locks)
}

func TestEvaluate(t *testing.T) {
	p := newPipeline(t, corpus)
	ctx := context.Background()
	_, err := p.ingest.Ingest(ctx, "")
	require.NoError(t, err)

	report, err := p.search.Evaluate(ctx, []EvalCase{
		{Query: "puzzle field biologists", Limit: 1, Relevant: []string{"zebra.txt"}},
		{Query: "", Relevant: []string{"guide.md"}},
	})
	require.NoError(t, err)
	require.Len(t, report.Cases, 2)

	first := report.Cases[0]
	assert.Equal(t, []string{"zebra.txt"}, first.Retrieved)
	assert.Equal(t, 1.0, first.Precision)
	assert.Equal(t, 1.0, first.Recall)
	assert.Equal(t, 1.0, first.ReciprocalRank)
	assert.Equal(t, 1.0, first.NDCG)

	assert.NotEmpty(t, report.Cases[1].Error)
	assert.Equal(t, 1.0, report.MRR, "invalid cases are left out of the means")
	assert.Zero(t, p.cache.Size())
}
