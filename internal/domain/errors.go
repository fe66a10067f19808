package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. The typed errors below match them through errors.Is.
var (
	ErrNotFound = errors.New("not found")
	ErrLoad     = errors.New("load failed")
	ErrParse    = errors.New("parse failed")
	ErrChunking = errors.New("chunking failed")
	ErrIndex    = errors.New("index update failed")
	ErrQuery    = errors.New("invalid query")

	// ErrEmbeddingUnavailable is returned by embedders whose backend cannot be reached.
	ErrEmbeddingUnavailable = errors.New("embedding backend unavailable")
)

// LoadError reports a document that could not be read from storage.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Is(target error) bool { return target == ErrLoad }

// ParseReason classifies parse failures.
type ParseReason string

const (
	ReasonUnsupported ParseReason = "unsupported"
	ReasonCorrupt     ParseReason = "corrupt"
	ReasonTimeout     ParseReason = "timeout"
	ReasonBackend     ParseReason = "backend"
)

// ParseError reports a per-document extraction failure.
type ParseError struct {
	Path   string
	Reason ParseReason
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("parse %s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("parse %s: %s: %v", e.Path, e.Reason, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// ChunkingError is fatal to a single document only.
type ChunkingError struct {
	DocID string
	Err   error
}

func (e *ChunkingError) Error() string {
	return fmt.Sprintf("chunk %s: %v", e.DocID, e.Err)
}

func (e *ChunkingError) Unwrap() error { return e.Err }

func (e *ChunkingError) Is(target error) bool { return target == ErrChunking }

// IndexError reports an index update that did not happen. The previous
// version of the document keeps serving.
type IndexError struct {
	DocID    string
	Attempts int
	Err      error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index %s after %d attempt(s): %v", e.DocID, e.Attempts, e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }

func (e *IndexError) Is(target error) bool { return target == ErrIndex }

// QueryError is a malformed search request.
type QueryError struct {
	Field  string
	Reason string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("invalid query: %s: %s", e.Field, e.Reason)
}

func (e *QueryError) Is(target error) bool { return target == ErrQuery }
