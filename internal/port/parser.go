package port

import (
	"context"

	"docindex/internal/domain"
)

// Parser turns raw bytes into ExtractedContent. Implementations return a
// *domain.ParseError for unsupported or corrupt input.
type Parser interface {
	Parse(ctx context.Context, path string, raw []byte, mode domain.ParseMode) (domain.ExtractedContent, error)
}
