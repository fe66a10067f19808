package domain

import "time"

// ParseStatus is the extraction state of a Document.
type ParseStatus string

const (
	StatusUnparsed ParseStatus = "unparsed"
	StatusParsed   ParseStatus = "parsed"
	StatusFailed   ParseStatus = "failed"
)

// ParseMode selects how raw bytes are turned into text.
type ParseMode string

const (
	// ModeOCR recovers text on a best-effort basis with no structure.
	ModeOCR ParseMode = "ocr"
	// ModeLayout keeps headings, paragraphs and tables.
	ModeLayout ParseMode = "layout"
	// ModeAuto lets the parser pick per document.
	ModeAuto ParseMode = "auto"
)

// Document is one file in the blob store.
type Document struct {
	ID          string      `json:"id"`
	Path        string      `json:"path"`
	Size        int64       `json:"size"`
	URL         string      `json:"url"`
	ContentHash string      `json:"content_hash"`
	Status      ParseStatus `json:"status"`
	Error       string      `json:"error,omitempty"`
	Version     uint64      `json:"version"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// SectionKind classifies a layout section.
type SectionKind string

const (
	SectionHeading   SectionKind = "heading"
	SectionParagraph SectionKind = "paragraph"
	SectionTable     SectionKind = "table"
)

// Section marks a structural region of ExtractedContent.Text.
// Start and End are rune offsets.
type Section struct {
	Kind  SectionKind `json:"kind"`
	Level int         `json:"level,omitempty"`
	Title string      `json:"title,omitempty"`
	Path  string      `json:"path,omitempty"`
	Start int         `json:"start"`
	End   int         `json:"end"`
}

// ExtractedContent is the parser output for one document.
type ExtractedContent struct {
	DocID    string
	Mode     ParseMode
	Text     string
	Sections []Section
	RawText  string
}

// Chunk is a contiguous, possibly overlapping slice of ExtractedContent.Text.
type Chunk struct {
	ID          string            `json:"id"`
	DocID       string            `json:"doc_id"`
	Index       int               `json:"index"`
	Start       int               `json:"start"`
	End         int               `json:"end"`
	Text        string            `json:"text"`
	OverlapPrev int               `json:"overlap_prev"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// IndexEntry is the searchable representation of a chunk.
type IndexEntry struct {
	ChunkID string    `json:"chunk_id"`
	DocID   string    `json:"doc_id"`
	Vector  []float32 `json:"vector,omitempty"`
	Tokens  []string  `json:"tokens"`
}

// Query is a validated search request.
type Query struct {
	Text    string
	Filters map[string]string
	Limit   int
}

// SearchResult is one ranked hit. It is never persisted.
type SearchResult struct {
	Chunk      Chunk   `json:"chunk"`
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`
	Rank       int     `json:"rank"`
	SourceURL  string  `json:"source_url"`
	Lexical    float64 `json:"lexical,omitempty"`
	Semantic   float64 `json:"semantic,omitempty"`
}

// Stats describes the index corpus. DegradedDocs counts documents whose
// last index update failed.
type Stats struct {
	TotalDocs    int     `json:"total_docs"`
	TotalChunks  int     `json:"total_chunks"`
	AvgChunkLen  float64 `json:"avg_chunk_len"`
	FailedDocs   int     `json:"failed_docs"`
	DegradedDocs int     `json:"degraded_docs"`
}
