package chunker

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"docindex/internal/domain"
)

func content(text string) domain.ExtractedContent {
	return domain.ExtractedContent{DocID: "doc1", Mode: domain.ModeOCR, Text: text, RawText: text}
}

func testDoc() domain.Document {
	return domain.Document{ID: "reports/A.pdf", Path: "reports/A.pdf"}
}

func TestRecursiveChunkerScenario(t *testing.T) {
	chunker := NewRecursiveChunker(1000, 100, nil)

	text := strings.Repeat("abcdefghij", 300)
	chunks, err := chunker.Chunk(testDoc(), content(text))
	if err != nil {
		t.Fatal(err)
	}

	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}

	for i, chunk := range chunks {
		if n := utf8.RuneCountInString(chunk.Text); n > 1000 {
			t.Errorf("chunk %d has %d runes, want <= 1000", i, n)
		}
		if chunk.Index != i {
			t.Errorf("chunk %d has index %d", i, chunk.Index)
		}
	}
	for i := 0; i < len(chunks)-1; i++ {
		if got := chunks[i].End - chunks[i+1].Start; got != 100 {
			t.Errorf("chunks %d and %d overlap by %d, want 100", i, i+1, got)
		}
	}
	if chunks[3].End != 3000 {
		t.Errorf("last chunk should end at 3000, got %d", chunks[3].End)
	}
}

func TestRecursiveChunkerOverlapIsExact(t *testing.T) {
	chunker := NewRecursiveChunker(120, 25, nil)

	var sb strings.Builder
	for i := 0; i < 40; i++ {
		sb.WriteString("Paragraph sentence number with several words in it.")
		if i%3 == 2 {
			sb.WriteString("\n\n")
		} else if i%2 == 1 {
			sb.WriteString("\n")
		} else {
			sb.WriteString(" ")
		}
	}

	chunks, err := chunker.Chunk(testDoc(), content(sb.String()))
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}

	for i := 0; i < len(chunks)-1; i++ {
		cur := []rune(chunks[i].Text)
		next := []rune(chunks[i+1].Text)
		tail := string(cur[len(cur)-25:])
		head := string(next[:25])
		if tail != head {
			t.Errorf("chunk %d tail %q != chunk %d head %q", i, tail, i+1, head)
		}
		if chunks[i+1].OverlapPrev != 25 {
			t.Errorf("chunk %d OverlapPrev=%d, want 25", i+1, chunks[i+1].OverlapPrev)
		}
	}
}

func TestRecursiveChunkerOffsets(t *testing.T) {
	chunker := NewRecursiveChunker(50, 10, nil)

	text := "Héllo wörld. " + strings.Repeat("Ünïcode text keeps rune offsets. ", 20)
	total := utf8.RuneCountInString(text)
	runes := []rune(text)

	chunks, err := chunker.Chunk(testDoc(), content(text))
	if err != nil {
		t.Fatal(err)
	}

	prevStart := -1
	for i, chunk := range chunks {
		if chunk.Start < 0 || chunk.End > total || chunk.Start >= chunk.End {
			t.Errorf("chunk %d has invalid range [%d,%d) for %d runes", i, chunk.Start, chunk.End, total)
		}
		if chunk.Start <= prevStart {
			t.Errorf("chunk %d start %d not after previous start %d", i, chunk.Start, prevStart)
		}
		if string(runes[chunk.Start:chunk.End]) != chunk.Text {
			t.Errorf("chunk %d text does not match its offsets", i)
		}
		prevStart = chunk.Start
	}
	if chunks[0].Start != 0 || chunks[len(chunks)-1].End != total {
		t.Error("chunks must cover the whole text")
	}
}

func TestRecursiveChunkerPrefersParagraphs(t *testing.T) {
	chunker := NewRecursiveChunker(40, 0, nil)

	text := "First paragraph here.\n\nSecond paragraph is here.\n\nThird one."
	chunks, err := chunker.Chunk(testDoc(), content(text))
	if err != nil {
		t.Fatal(err)
	}

	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Text != "First paragraph here.\n\n" {
		t.Errorf("expected first chunk to end at the paragraph break, got %q", chunks[0].Text)
	}
}

func TestRecursiveChunkerDeterministic(t *testing.T) {
	chunker := NewRecursiveChunker(64, 8, nil)
	text := strings.Repeat("alpha beta gamma\ndelta epsilon\n\nzeta eta theta ", 30)

	first, err := chunker.Chunk(testDoc(), content(text))
	if err != nil {
		t.Fatal(err)
	}
	second, err := NewRecursiveChunker(64, 8, nil).Chunk(testDoc(), content(text))
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Error("chunking the same content twice produced different chunks")
	}
}

func TestRecursiveChunkerOversizedToken(t *testing.T) {
	chunker := NewRecursiveChunker(10, 0, []string{"\n\n", "\n", " "})

	long := "supercalifragilisticexpialidocious"
	text := "tiny " + long + " end"

	chunks, err := chunker.Chunk(testDoc(), content(text))
	if err != nil {
		t.Fatal(err)
	}

	found := false
	for _, chunk := range chunks {
		if strings.Contains(chunk.Text, long) {
			found = true
		}
	}
	if !found {
		t.Fatal("oversized token must be emitted, not dropped")
	}

	var rebuilt strings.Builder
	for _, chunk := range chunks {
		rebuilt.WriteString(chunk.Text)
	}
	if rebuilt.String() != text {
		t.Errorf("without overlap chunks should concatenate to the input, got %q", rebuilt.String())
	}
}

func TestRecursiveChunkerInvalidParams(t *testing.T) {
	tests := []struct {
		name       string
		target     int
		overlap    int
		separators []string
	}{
		{"zero target", 0, 0, nil},
		{"negative overlap", 10, -1, nil},
		{"overlap equals target", 10, 10, nil},
		{"no separators", 10, 2, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRecursiveChunker(tt.target, tt.overlap, tt.separators).Chunk(testDoc(), content("some text"))
			if err == nil {
				t.Fatal("expected an error")
			}
			var ce *domain.ChunkingError
			if !errors.As(err, &ce) {
				t.Errorf("expected ChunkingError, got %T", err)
			}
		})
	}
}

func TestRecursiveChunkerEmptyContent(t *testing.T) {
	chunker := NewRecursiveChunker(50, 10, nil)

	for _, text := range []string{"", "   \n\n  "} {
		chunks, err := chunker.Chunk(testDoc(), content(text))
		if err != nil {
			t.Fatal(err)
		}
		if len(chunks) != 0 {
			t.Errorf("expected no chunks for %q, got %d", text, len(chunks))
		}
	}
}

func TestRecursiveChunkerSingleChunk(t *testing.T) {
	chunker := NewRecursiveChunker(50, 10, nil)

	text := "Just a single short line"
	chunks, err := chunker.Chunk(testDoc(), content(text))
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != text || chunks[0].OverlapPrev != 0 {
		t.Errorf("unexpected chunk %+v", chunks[0])
	}
}

func TestRecursiveChunkerAttributes(t *testing.T) {
	chunker := NewRecursiveChunker(30, 0, nil)

	text := "Intro text that precedes.\n\nBilling details follow here."
	c := content(text)
	c.Sections = []domain.Section{
		{Kind: domain.SectionHeading, Level: 1, Title: "Billing", Path: "# Billing", Start: 27, End: 34},
	}

	chunks, err := chunker.Chunk(testDoc(), c)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}

	if chunks[0].Attributes["doc_type"] != "pdf" {
		t.Errorf("expected doc_type=pdf, got %q", chunks[0].Attributes["doc_type"])
	}
	if chunks[0].Attributes["folder"] != "reports" {
		t.Errorf("expected folder=reports, got %q", chunks[0].Attributes["folder"])
	}
	if _, ok := chunks[0].Attributes["section"]; ok {
		t.Error("first chunk starts before any heading")
	}
	if chunks[1].Attributes["section"] != "# Billing" {
		t.Errorf("expected section '# Billing', got %q", chunks[1].Attributes["section"])
	}
}

func TestChunkIDUniqueness(t *testing.T) {
	chunker := NewRecursiveChunker(10, 2, nil)

	text := "Line1\nLine2\nLine3\nLine4\nLine5\nLine6\nLine7\nLine8"
	chunks, err := chunker.Chunk(testDoc(), content(text))
	if err != nil {
		t.Fatal(err)
	}

	ids := make(map[string]bool)
	for _, chunk := range chunks {
		if ids[chunk.ID] {
			t.Errorf("duplicate chunk ID: %s", chunk.ID)
		}
		ids[chunk.ID] = true
	}

	if generateChunkID("doc1", 0, 0, 10) != generateChunkID("doc1", 0, 0, 10) {
		t.Error("chunk IDs must be stable")
	}
}
