package parser

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"docindex/internal/domain"
)

// MarkdownParser extracts layout from markdown using the goldmark AST.
type MarkdownParser struct {
	md goldmark.Markdown
}

// NewMarkdownParser creates a markdown parser with GFM tables enabled.
func NewMarkdownParser() *MarkdownParser {
	return &MarkdownParser{
		md: goldmark.New(
			goldmark.WithExtensions(extension.Table),
		),
	}
}

// Layout converts markdown source into flat text with heading, paragraph
// and table sections.
func (p *MarkdownParser) Layout(docID string, source []byte) domain.ExtractedContent {
	doc := p.md.Parser().Parse(text.NewReader(source))

	b := &layoutBuilder{}
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		p.block(b, n, source)
	}
	return b.content(docID, string(source))
}

func (p *MarkdownParser) block(b *layoutBuilder, n ast.Node, source []byte) {
	switch node := n.(type) {
	case *ast.Heading:
		b.heading(node.Level, inlineText(node, source))

	case *ast.Paragraph, *ast.TextBlock:
		b.paragraph(inlineText(node, source))

	case *ast.FencedCodeBlock, *ast.CodeBlock:
		b.paragraph(linesText(node, source))

	case *ast.List:
		var items []string
		for item := node.FirstChild(); item != nil; item = item.NextSibling() {
			items = append(items, "- "+strings.ReplaceAll(blockText(item, source), "\n", " "))
		}
		b.paragraph(strings.Join(items, "\n"))

	case *ast.Blockquote:
		for c := node.FirstChild(); c != nil; c = c.NextSibling() {
			p.block(b, c, source)
		}

	case *extast.Table:
		var rows []string
		for row := node.FirstChild(); row != nil; row = row.NextSibling() {
			rows = append(rows, tableRowText(row, source))
		}
		b.table(rows)

	case *ast.ThematicBreak, *ast.HTMLBlock:
		// no text content

	default:
		b.paragraph(blockText(node, source))
	}
}

// inlineText concatenates the text leaves under n. Soft line breaks
// become newlines.
func inlineText(n ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := node.(type) {
		case *ast.Text:
			sb.Write(v.Segment.Value(source))
			if v.SoftLineBreak() || v.HardLineBreak() {
				sb.WriteByte('\n')
			}
		case *ast.String:
			sb.Write(v.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}

func linesText(n ast.Node, source []byte) string {
	var sb strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(source))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// blockText flattens nested blocks, one line per leaf block.
func blockText(n ast.Node, source []byte) string {
	switch n.(type) {
	case *ast.Paragraph, *ast.TextBlock, *ast.Heading:
		return inlineText(n, source)
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		return linesText(n, source)
	}

	var parts []string
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t := blockText(c, source); t != "" {
			parts = append(parts, t)
		}
	}
	if len(parts) == 0 {
		return inlineText(n, source)
	}
	return strings.Join(parts, "\n")
}

func tableRowText(row ast.Node, source []byte) string {
	var cells []string
	for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
		if _, ok := cell.(*extast.TableCell); ok {
			cells = append(cells, inlineText(cell, source))
		}
	}
	return strings.Join(cells, " | ")
}
