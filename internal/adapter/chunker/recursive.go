package chunker

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/google/uuid"

	"docindex/internal/domain"
)

// DefaultSeparators are tried in order: paragraph break, line break, space,
// then character boundary (the empty separator).
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// chunkNamespace scopes the name-based chunk UUIDs.
var chunkNamespace = uuid.MustParse("6f1c6d52-3b0e-4c8a-9f55-0d1f2b7a9e41")

// RecursiveChunker splits text into windows of at most targetSize runes.
// Consecutive windows share exactly overlap runes.
type RecursiveChunker struct {
	targetSize int
	overlap    int
	separators [][]rune
	charSplit  bool
}

// NewRecursiveChunker creates a chunker. A nil separators slice selects
// DefaultSeparators.
func NewRecursiveChunker(targetSize, overlap int, separators []string) *RecursiveChunker {
	if separators == nil {
		separators = DefaultSeparators
	}
	c := &RecursiveChunker{
		targetSize: targetSize,
		overlap:    overlap,
	}
	for _, sep := range separators {
		if sep == "" {
			// Nothing after a character boundary can ever be reached.
			c.charSplit = true
			break
		}
		c.separators = append(c.separators, []rune(sep))
	}
	return c
}

// Validate reports whether the chunker parameters are usable.
func (c *RecursiveChunker) Validate() error {
	switch {
	case c.targetSize <= 0:
		return fmt.Errorf("target size must be positive, got %d", c.targetSize)
	case c.overlap < 0:
		return fmt.Errorf("overlap must not be negative, got %d", c.overlap)
	case c.overlap >= c.targetSize:
		return fmt.Errorf("overlap (%d) must be smaller than target size (%d)", c.overlap, c.targetSize)
	case len(c.separators) == 0 && !c.charSplit:
		return errors.New("at least one separator is required")
	}
	return nil
}

func (c *RecursiveChunker) Chunk(doc domain.Document, content domain.ExtractedContent) ([]domain.Chunk, error) {
	if err := c.Validate(); err != nil {
		return nil, &domain.ChunkingError{DocID: doc.ID, Err: err}
	}

	text := []rune(content.Text)
	if strings.TrimSpace(content.Text) == "" {
		return nil, nil
	}

	spans := c.split(text)
	headings := headingSections(content.Sections)

	chunks := make([]domain.Chunk, 0, len(spans))
	for i, sp := range spans {
		overlapPrev := 0
		if i > 0 {
			overlapPrev = spans[i-1].end - sp.start
		}
		chunks = append(chunks, domain.Chunk{
			ID:          generateChunkID(doc.ID, i, sp.start, sp.end),
			DocID:       doc.ID,
			Index:       i,
			Start:       sp.start,
			End:         sp.end,
			Text:        string(text[sp.start:sp.end]),
			OverlapPrev: overlapPrev,
			Attributes:  chunkAttributes(doc, headings, sp.start),
		})
	}

	return chunks, nil
}

type span struct {
	start, end int
}

// split walks the text left to right. Each window ends at the best cut
// point and the next window starts overlap runes before that cut.
func (c *RecursiveChunker) split(text []rune) []span {
	var spans []span
	n := len(text)
	pos := 0

	for {
		if n-pos <= c.targetSize {
			spans = append(spans, span{start: pos, end: n})
			return spans
		}

		end := c.cut(text, pos)
		spans = append(spans, span{start: pos, end: end})
		if end >= n {
			return spans
		}
		pos = end - c.overlap
	}
}

// cut picks the end of the window starting at pos. The end must leave the
// next window starting after pos, so it lies in (pos+overlap, pos+targetSize].
func (c *RecursiveChunker) cut(text []rune, pos int) int {
	lo := pos + c.overlap + 1
	hi := pos + c.targetSize
	return c.cutWithin(text, lo, hi, c.separators)
}

// cutWithin tries the highest priority separator first and recurses into
// the remaining ones when it does not occur in the window.
func (c *RecursiveChunker) cutWithin(text []rune, lo, hi int, seps [][]rune) int {
	if len(seps) == 0 {
		if c.charSplit {
			return hi
		}
		return c.oversizedEnd(text, hi)
	}
	if end := lastCutAfter(text, seps[0], lo, hi); end > 0 {
		return end
	}
	return c.cutWithin(text, lo, hi, seps[1:])
}

// oversizedEnd extends a window past targetSize up to the next separator,
// used when a single token is longer than the target.
func (c *RecursiveChunker) oversizedEnd(text []rune, hi int) int {
	for e := hi + 1; e <= len(text); e++ {
		for _, sep := range c.separators {
			if endsWith(text, sep, e) {
				return e
			}
		}
	}
	return len(text)
}

// lastCutAfter returns the largest e in [lo, hi] such that text[:e] ends
// with sep, or 0 when there is none.
func lastCutAfter(text []rune, sep []rune, lo, hi int) int {
	if hi > len(text) {
		hi = len(text)
	}
	for e := hi; e >= lo; e-- {
		if endsWith(text, sep, e) {
			return e
		}
	}
	return 0
}

func endsWith(text []rune, sep []rune, e int) bool {
	if e < len(sep) || e > len(text) {
		return false
	}
	for i := range sep {
		if text[e-len(sep)+i] != sep[i] {
			return false
		}
	}
	return true
}

func headingSections(sections []domain.Section) []domain.Section {
	var out []domain.Section
	for _, s := range sections {
		if s.Kind == domain.SectionHeading {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// chunkAttributes derives the classification fields used by search filters.
func chunkAttributes(doc domain.Document, headings []domain.Section, start int) map[string]string {
	attrs := make(map[string]string, 3)

	if ext := strings.ToLower(strings.TrimPrefix(path.Ext(doc.Path), ".")); ext != "" {
		attrs["doc_type"] = ext
	}
	if i := strings.Index(doc.ID, "/"); i > 0 {
		attrs["folder"] = doc.ID[:i]
	}

	idx := sort.Search(len(headings), func(i int) bool { return headings[i].Start > start }) - 1
	if idx >= 0 {
		section := headings[idx].Path
		if section == "" {
			section = headings[idx].Title
		}
		attrs["section"] = section
	}

	return attrs
}

func generateChunkID(docID string, index, start, end int) string {
	data := fmt.Sprintf("%s:%d:%d-%d", docID, index, start, end)
	return uuid.NewSHA1(chunkNamespace, []byte(data)).String()
}
