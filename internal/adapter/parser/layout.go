package parser

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"docindex/internal/domain"
)

// layoutBuilder accumulates blocks into a flat text with rune-offset
// sections. Blocks are separated by a blank line so the chunker's
// paragraph separator lines up with structural boundaries.
type layoutBuilder struct {
	sb       strings.Builder
	runes    int
	sections []domain.Section
	stack    []headingInfo
}

type headingInfo struct {
	level int
	text  string
}

func (b *layoutBuilder) write(kind domain.SectionKind, level int, title, text string) {
	text = strings.TrimRight(text, " \t\n")
	if strings.TrimSpace(text) == "" {
		return
	}
	if b.runes > 0 {
		b.sb.WriteString("\n\n")
		b.runes += 2
	}
	start := b.runes
	b.sb.WriteString(text)
	b.runes += utf8.RuneCountInString(text)

	b.sections = append(b.sections, domain.Section{
		Kind:  kind,
		Level: level,
		Title: title,
		Path:  buildHeadingPath(b.stack),
		Start: start,
		End:   b.runes,
	})
}

func (b *layoutBuilder) heading(level int, title string) {
	title = strings.TrimSpace(title)
	if title == "" {
		return
	}
	for len(b.stack) > 0 && b.stack[len(b.stack)-1].level >= level {
		b.stack = b.stack[:len(b.stack)-1]
	}
	b.stack = append(b.stack, headingInfo{level: level, text: title})
	b.write(domain.SectionHeading, level, title, title)
}

func (b *layoutBuilder) paragraph(text string) {
	b.write(domain.SectionParagraph, 0, "", text)
}

func (b *layoutBuilder) table(rows []string) {
	b.write(domain.SectionTable, 0, "", strings.Join(rows, "\n"))
}

func (b *layoutBuilder) content(docID string, raw string) domain.ExtractedContent {
	return domain.ExtractedContent{
		DocID:    docID,
		Mode:     domain.ModeLayout,
		Text:     b.sb.String(),
		Sections: b.sections,
		RawText:  raw,
	}
}

// buildHeadingPath formats the heading stack as "# H1 > ## H2".
func buildHeadingPath(stack []headingInfo) string {
	if len(stack) == 0 {
		return ""
	}
	parts := make([]string, len(stack))
	for i, h := range stack {
		parts[i] = fmt.Sprintf("%s %s", strings.Repeat("#", h.level), h.text)
	}
	return strings.Join(parts, " > ")
}

var (
	markdownHeading = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*$`)
	numberedHeading = regexp.MustCompile(`^(\d+(?:\.\d+)*)\.?\s+(\S.*)$`)
	multiNewline    = regexp.MustCompile(`\n{3,}`)
	inlineSpace     = regexp.MustCompile(`[ \x{00a0}]+`)
)

// layoutText recovers structure from plain text: markdown-style and
// numbered headings, short all-caps titles, pipe or tab separated tables,
// and blank-line separated paragraphs.
func layoutText(docID, raw string) domain.ExtractedContent {
	b := &layoutBuilder{}
	cleaned := recoverText(raw)

	for _, block := range strings.Split(cleaned, "\n\n") {
		block = strings.Trim(block, "\n")
		if block == "" {
			continue
		}
		lines := strings.Split(block, "\n")

		if len(lines) == 1 {
			if level, title, ok := detectHeading(lines[0]); ok {
				b.heading(level, title)
				continue
			}
		} else if level, title, ok := detectHeading(lines[0]); ok && strings.HasPrefix(lines[0], "#") {
			b.heading(level, title)
			lines = lines[1:]
			block = strings.Join(lines, "\n")
		}

		if rows, ok := detectTable(lines); ok {
			b.table(rows)
			continue
		}
		b.paragraph(block)
	}

	return b.content(docID, raw)
}

func detectHeading(line string) (int, string, bool) {
	line = strings.TrimSpace(line)
	if m := markdownHeading.FindStringSubmatch(line); m != nil {
		return len(m[1]), m[2], true
	}
	if utf8.RuneCountInString(line) > 80 || strings.HasSuffix(line, ".") || strings.HasSuffix(line, ",") {
		return 0, "", false
	}
	if m := numberedHeading.FindStringSubmatch(line); m != nil && startsUpper(m[2]) {
		return strings.Count(m[1], ".") + 1, line, true
	}
	if isAllCaps(line) {
		return 1, line, true
	}
	return 0, "", false
}

// detectTable accepts blocks of two or more rows with the same number
// (at least two) of pipe or tab separated cells.
func detectTable(lines []string) ([]string, bool) {
	if len(lines) < 2 {
		return nil, false
	}
	sep := "|"
	if !strings.Contains(lines[0], "|") {
		sep = "\t"
	}

	var rows []string
	cols := -1
	for _, line := range lines {
		trimmed := strings.Trim(strings.TrimSpace(line), "|")
		if isDividerRow(trimmed) {
			continue
		}
		cells := strings.Split(trimmed, sep)
		if len(cells) < 2 || (cols >= 0 && len(cells) != cols) {
			return nil, false
		}
		cols = len(cells)
		for i := range cells {
			cells[i] = strings.TrimSpace(cells[i])
		}
		rows = append(rows, strings.Join(cells, " | "))
	}
	return rows, len(rows) >= 2
}

func isDividerRow(line string) bool {
	if line == "" {
		return false
	}
	for _, r := range line {
		if r != '-' && r != ':' && r != '|' && r != ' ' {
			return false
		}
	}
	return true
}

func startsUpper(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsUpper(r)
}

func isAllCaps(s string) bool {
	letters := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			letters++
		}
	}
	return letters >= 3
}

// recoverText drops control characters, turns form feeds into paragraph
// breaks, collapses runs of spaces and limits blank lines to one. Tabs
// inside a line survive for table detection.
func recoverText(raw string) string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")
	raw = strings.ReplaceAll(raw, "\f", "\n\n")

	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r == utf8.RuneError || unicode.IsControl(r):
			return -1
		}
		return r
	}, raw)

	lines := strings.Split(cleaned, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(inlineSpace.ReplaceAllString(line, " "))
	}
	cleaned = strings.Join(lines, "\n")
	cleaned = multiNewline.ReplaceAllString(cleaned, "\n\n")
	return strings.Trim(cleaned, "\n")
}

// ocrContent wraps recovered text without structural guarantees.
func ocrContent(docID, raw string) domain.ExtractedContent {
	return domain.ExtractedContent{
		DocID:   docID,
		Mode:    domain.ModeOCR,
		Text:    inlineSpace.ReplaceAllString(strings.ReplaceAll(recoverText(raw), "\t", " "), " "),
		RawText: raw,
	}
}
