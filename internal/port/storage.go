package port

import (
	"context"
	"time"
)

// BlobStore is the raw document source, keyed by slash-separated relative path.
type BlobStore interface {
	// List returns the paths under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	Read(ctx context.Context, path string) ([]byte, error)

	Stat(ctx context.Context, path string) (BlobInfo, error)

	// URL returns a locator for the blob that can be shown to users.
	URL(path string) string
}

// BlobInfo describes a stored blob.
type BlobInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
}
