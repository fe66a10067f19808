package usecase

import (
	"context"
	"fmt"
	"maps"
	"regexp"
	"strings"
	"unicode/utf8"

	"docindex/internal/adapter/cache"
	"docindex/internal/adapter/retriever"
	"docindex/internal/domain"
	"docindex/internal/index"
)

// filterKeyPattern is the allow-list for attribute filter keys.
var filterKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

const (
	maxQueryRunes = 2048
	// FilterDocID restricts results to one document instead of matching a
	// chunk attribute.
	FilterDocID = "doc_id"
)

// SearchRequest is an unvalidated query. A zero Limit selects the default.
type SearchRequest struct {
	Query   string            `json:"query"`
	Filters map[string]string `json:"filters,omitempty"`
	Limit   int               `json:"limit,omitempty"`
}

// SearchUseCase answers queries against the current index snapshot.
type SearchUseCase struct {
	index        *index.Index
	retriever    *retriever.HybridRetriever
	cache        *cache.QueryCache
	defaultLimit int
	maxLimit     int
}

// NewSearchUseCase creates a search use case. queryCache may be nil.
func NewSearchUseCase(ix *index.Index, r *retriever.HybridRetriever, queryCache *cache.QueryCache, defaultLimit, maxLimit int) *SearchUseCase {
	if defaultLimit <= 0 {
		defaultLimit = 10
	}
	if maxLimit < defaultLimit {
		maxLimit = defaultLimit
	}
	return &SearchUseCase{
		index:        ix,
		retriever:    r,
		cache:        queryCache,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}
}

// Validate turns req into a Query or rejects it with a *domain.QueryError.
func (u *SearchUseCase) Validate(req SearchRequest) (domain.Query, error) {
	text := strings.TrimSpace(req.Query)
	switch {
	case text == "":
		return domain.Query{}, &domain.QueryError{Field: "query", Reason: "must not be empty"}
	case !utf8.ValidString(text):
		return domain.Query{}, &domain.QueryError{Field: "query", Reason: "must be valid UTF-8"}
	case utf8.RuneCountInString(text) > maxQueryRunes:
		return domain.Query{}, &domain.QueryError{Field: "query", Reason: "too long"}
	}

	limit := req.Limit
	if limit == 0 {
		limit = u.defaultLimit
	}
	if limit < 0 || limit > u.maxLimit {
		return domain.Query{}, &domain.QueryError{Field: "limit", Reason: fmt.Sprintf("must be between 1 and %d", u.maxLimit)}
	}

	var filters map[string]string
	if len(req.Filters) > 0 {
		filters = make(map[string]string, len(req.Filters))
		for k, v := range req.Filters {
			if !filterKeyPattern.MatchString(k) {
				return domain.Query{}, &domain.QueryError{Field: "filters", Reason: fmt.Sprintf("invalid attribute name %q", k)}
			}
			filters[k] = v
		}
	}

	return domain.Query{Text: text, Filters: filters, Limit: limit}, nil
}

// Search validates req and returns at most Limit results ranked by fused
// score. No matches, including an empty index, yield an empty slice.
func (u *SearchUseCase) Search(ctx context.Context, req SearchRequest) ([]domain.SearchResult, error) {
	q, err := u.Validate(req)
	if err != nil {
		return nil, err
	}

	snap := u.index.Snapshot()
	if u.cache != nil {
		if results, ok := u.cache.Get(q, snap.Generation()); ok {
			return results, nil
		}
	}

	results, err := u.run(ctx, snap, q)
	if err != nil {
		return nil, err
	}
	if u.cache != nil {
		u.cache.Put(q, snap.Generation(), results)
	}
	return results, nil
}

// Preview runs req like Search, bypassing the cache in both directions.
// Results carry the per-signal scores.
func (u *SearchUseCase) Preview(ctx context.Context, req SearchRequest) ([]domain.SearchResult, error) {
	q, err := u.Validate(req)
	if err != nil {
		return nil, err
	}
	return u.run(ctx, u.index.Snapshot(), q)
}

func (u *SearchUseCase) run(ctx context.Context, snap *index.Snapshot, q domain.Query) ([]domain.SearchResult, error) {
	hits, err := u.retriever.Search(ctx, snap, q.Text, attributeFilter(q.Filters), q.Limit)
	if err != nil {
		return nil, err
	}

	results := make([]domain.SearchResult, 0, len(hits))
	for i, h := range hits {
		chunk := h.Chunk.Chunk
		chunk.Attributes = maps.Clone(chunk.Attributes)
		r := domain.SearchResult{
			Chunk:      chunk,
			DocumentID: h.Chunk.Chunk.DocID,
			Score:      h.Score,
			Rank:       i + 1,
			Lexical:    h.Lexical,
			Semantic:   h.Semantic,
		}
		if dv, ok := snap.Doc(r.DocumentID); ok {
			r.SourceURL = dv.Doc.URL
		}
		results = append(results, r)
	}
	return results, nil
}

// attributeFilter admits chunks whose attributes match every filter.
func attributeFilter(filters map[string]string) retriever.Filter {
	if len(filters) == 0 {
		return nil
	}
	return func(c *index.IndexedChunk) bool {
		for k, want := range filters {
			if k == FilterDocID {
				if c.Chunk.DocID != want {
					return false
				}
				continue
			}
			if got, ok := c.Chunk.Attributes[k]; !ok || got != want {
				return false
			}
		}
		return true
	}
}
