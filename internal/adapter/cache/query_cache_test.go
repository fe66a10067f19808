package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docindex/internal/domain"
)

func results(ids ...string) []domain.SearchResult {
	out := make([]domain.SearchResult, len(ids))
	for i, id := range ids {
		out[i] = domain.SearchResult{DocumentID: id, Rank: i + 1}
	}
	return out
}

func TestQueryCache_KeyIncludesFiltersAndLimit(t *testing.T) {
	c := NewQueryCache(10, time.Minute)
	q := domain.Query{Text: "pricing", Filters: map[string]string{"folder": "billing", "doc_type": "md"}, Limit: 5}
	c.Put(q, 1, results("a.md"))

	got, ok := c.Get(domain.Query{Text: "pricing", Filters: map[string]string{"doc_type": "md", "folder": "billing"}, Limit: 5}, 1)
	require.True(t, ok)
	assert.Equal(t, results("a.md"), got)

	_, ok = c.Get(domain.Query{Text: "pricing", Filters: map[string]string{"folder": "billing"}, Limit: 5}, 1)
	assert.False(t, ok)
	_, ok = c.Get(domain.Query{Text: "pricing", Filters: q.Filters, Limit: 6}, 1)
	assert.False(t, ok)
}

func TestCacheKey_FramesFields(t *testing.T) {
	smuggled := domain.Query{Text: "q", Filters: map[string]string{"folder": "a\x00section=b"}, Limit: 5}
	split := domain.Query{Text: "q", Filters: map[string]string{"folder": "a", "section": "b"}, Limit: 5}
	assert.NotEqual(t, cacheKey(split), cacheKey(smuggled))

	assert.NotEqual(t, cacheKey(domain.Query{Text: "ab", Filters: map[string]string{"c": "d"}}),
		cacheKey(domain.Query{Text: "a", Filters: map[string]string{"bc": "d"}}))

	// Limits differing only above 16 bits must not collide.
	assert.NotEqual(t, cacheKey(domain.Query{Text: "q", Limit: 1}), cacheKey(domain.Query{Text: "q", Limit: 1 + 1<<16}))
	assert.Equal(t, cacheKey(split), cacheKey(domain.Query{Text: "q", Filters: map[string]string{"section": "b", "folder": "a"}, Limit: 5}))
}

func TestQueryCache_GenerationAndTTL(t *testing.T) {
	c := NewQueryCache(10, time.Minute)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	q := domain.Query{Text: "pricing", Limit: 5}
	c.Put(q, 1, results("a.md"))

	_, ok := c.Get(q, 2)
	assert.False(t, ok, "a newer index generation must miss")
	assert.Zero(t, c.Size())

	c.Put(q, 2, results("a.md"))
	now = now.Add(2 * time.Minute)
	_, ok = c.Get(q, 2)
	assert.False(t, ok, "expired entries must miss")
}

func TestQueryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewQueryCache(2, time.Minute)
	a := domain.Query{Text: "a", Limit: 1}
	b := domain.Query{Text: "b", Limit: 1}
	d := domain.Query{Text: "d", Limit: 1}

	c.Put(a, 1, results("a"))
	c.Put(b, 1, results("b"))
	_, ok := c.Get(a, 1)
	require.True(t, ok)
	c.Put(d, 1, results("d"))

	_, ok = c.Get(b, 1)
	assert.False(t, ok)
	_, ok = c.Get(a, 1)
	assert.True(t, ok)
	assert.Equal(t, 2, c.Size())
}

func TestQueryCache_ReturnsCopies(t *testing.T) {
	c := NewQueryCache(2, time.Minute)
	q := domain.Query{Text: "a", Limit: 1}
	c.Put(q, 1, results("a"))

	got, _ := c.Get(q, 1)
	got[0].DocumentID = "mutated"
	again, _ := c.Get(q, 1)
	assert.Equal(t, "a", again[0].DocumentID)

	c.Invalidate()
	assert.Zero(t, c.Size())
}
