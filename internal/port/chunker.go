package port

import "docindex/internal/domain"

type Chunker interface {
	Chunk(doc domain.Document, content domain.ExtractedContent) ([]domain.Chunk, error)
}
