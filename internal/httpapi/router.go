package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"docindex/internal/domain"
	"docindex/internal/usecase"
)

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -destination=mocks/mock_httpapi.go -package=mocks docindex/internal/httpapi Searcher,Catalog,StatusReporter

// Searcher answers validated queries.
type Searcher interface {
	Search(ctx context.Context, req usecase.SearchRequest) ([]domain.SearchResult, error)
	Preview(ctx context.Context, req usecase.SearchRequest) ([]domain.SearchResult, error)
}

// Catalog is the read side of the document store.
type Catalog interface {
	ListDocs() ([]domain.Document, error)
	GetDoc(id string) (domain.Document, error)
	GetChunksByDoc(docID string) ([]domain.Chunk, error)
}

// StatusReporter reports index health.
type StatusReporter interface {
	Status() (*usecase.StatusReport, error)
}

// Dependencies holds everything the handlers need.
type Dependencies struct {
	Searcher Searcher
	Catalog  Catalog
	Status   StatusReporter
	Logger   *slog.Logger
}

// NewRouter creates and configures a new Chi router with all routes and middleware.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(CORS)

	h := &handlers{
		searcher: deps.Searcher,
		catalog:  deps.Catalog,
		status:   deps.Status,
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.health)
		r.Post("/search", h.search)
		r.Get("/documents", h.listDocuments)
		// Document ids are slash-separated paths.
		r.Get("/documents/*", h.getDocument)
	})

	return r
}
