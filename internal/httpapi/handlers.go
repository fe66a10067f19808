package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"docindex/internal/domain"
	"docindex/internal/logutil"
	"docindex/internal/usecase"
)

const maxBodyBytes = 1 << 20

type handlers struct {
	searcher Searcher
	catalog  Catalog
	status   StatusReporter
}

// SearchBody is the POST /api/search payload. A missing limit selects the
// server default; an explicit limit must be positive.
type SearchBody struct {
	Query   string            `json:"query"`
	Filters map[string]string `json:"filters,omitempty"`
	Limit   *int              `json:"limit,omitempty"`
	Preview bool              `json:"preview,omitempty"`
}

// SearchHit is one ranked result on the wire.
type SearchHit struct {
	ChunkID    string            `json:"chunkId"`
	DocumentID string            `json:"documentId"`
	Score      float64           `json:"score"`
	Rank       int               `json:"rank"`
	Text       string            `json:"text"`
	SourceURL  string            `json:"sourceUrl"`
	Start      int               `json:"start"`
	End        int               `json:"end"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Lexical    *float64          `json:"lexical,omitempty"`
	Semantic   *float64          `json:"semantic,omitempty"`
}

// SearchResponse is the POST /api/search response.
type SearchResponse struct {
	Results []SearchHit `json:"results"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// HealthResponse is the GET /api/health response. The status is degraded
// while any document failed to parse or to reach the index.
type HealthResponse struct {
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	Documents    int       `json:"documents"`
	Chunks       int       `json:"chunks"`
	FailedDocs   int       `json:"failedDocs"`
	DegradedDocs int       `json:"degradedDocs"`
	Generation   uint64    `json:"generation"`
	Pending      int       `json:"pending"`
}

// DocumentResponse is the GET /api/documents/{id} response.
type DocumentResponse struct {
	Document domain.Document `json:"document"`
	Chunks   []domain.Chunk  `json:"chunks"`
}

func (h *handlers) search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logutil.FromContext(ctx)

	var body SearchBody
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	req := usecase.SearchRequest{Query: body.Query, Filters: body.Filters}
	if body.Limit != nil {
		if *body.Limit <= 0 {
			writeError(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be positive", Field: "limit"})
			return
		}
		req.Limit = *body.Limit
	}

	run := h.searcher.Search
	if body.Preview {
		run = h.searcher.Preview
	}
	results, err := run(ctx, req)
	if err != nil {
		var qe *domain.QueryError
		if errors.As(err, &qe) {
			writeError(w, http.StatusBadRequest, ErrorResponse{Error: qe.Error(), Field: qe.Field})
			return
		}
		if ctx.Err() != nil {
			return
		}
		logger.Error("search failed", "error", err)
		writeError(w, http.StatusInternalServerError, ErrorResponse{Error: "search failed"})
		return
	}

	resp := SearchResponse{Results: make([]SearchHit, 0, len(results))}
	for _, res := range results {
		hit := SearchHit{
			ChunkID:    res.Chunk.ID,
			DocumentID: res.DocumentID,
			Score:      res.Score,
			Rank:       res.Rank,
			Text:       res.Chunk.Text,
			SourceURL:  res.SourceURL,
			Start:      res.Chunk.Start,
			End:        res.Chunk.End,
			Attributes: res.Chunk.Attributes,
		}
		if body.Preview {
			lexical, semantic := res.Lexical, res.Semantic
			hit.Lexical, hit.Semantic = &lexical, &semantic
		}
		resp.Results = append(resp.Results, hit)
	}
	logger.Debug("search served", "results", len(resp.Results), "preview", body.Preview)
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.catalog.ListDocs()
	if err != nil {
		logutil.FromContext(r.Context()).Error("list documents failed", "error", err)
		writeError(w, http.StatusInternalServerError, ErrorResponse{Error: "could not list documents"})
		return
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *handlers) getDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "*")
	doc, err := h.catalog.GetDoc(id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, ErrorResponse{Error: "document not found"})
		return
	}
	if err != nil {
		logutil.FromContext(r.Context()).Error("get document failed", "doc", id, "error", err)
		writeError(w, http.StatusInternalServerError, ErrorResponse{Error: "could not load document"})
		return
	}

	chunks, err := h.catalog.GetChunksByDoc(id)
	if err != nil {
		logutil.FromContext(r.Context()).Error("get chunks failed", "doc", id, "error", err)
		writeError(w, http.StatusInternalServerError, ErrorResponse{Error: "could not load chunks"})
		return
	}
	if chunks == nil {
		chunks = []domain.Chunk{}
	}
	writeJSON(w, http.StatusOK, DocumentResponse{Document: doc, Chunks: chunks})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Timestamp: time.Now().UTC()}

	report, err := h.status.Status()
	if err != nil {
		logutil.FromContext(r.Context()).Warn("health check failed", "error", err)
		resp.Status = "unhealthy"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	resp.Documents = report.Stats.TotalDocs
	resp.Chunks = report.Stats.TotalChunks
	resp.FailedDocs = report.Stats.FailedDocs
	resp.DegradedDocs = report.Stats.DegradedDocs
	resp.Generation = report.Generation
	resp.Pending = report.Pending
	if resp.FailedDocs > 0 || resp.DegradedDocs > 0 {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, resp ErrorResponse) {
	writeJSON(w, status, resp)
}
