package parser

import (
	"bytes"
	"context"
	"errors"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"docindex/internal/domain"
	"docindex/internal/logutil"
	"docindex/internal/port"
)

type format int

const (
	formatUnknown format = iota
	formatText
	formatMarkdown
	formatHTML
	formatPDF
)

var extFormats = map[string]format{
	".txt":      formatText,
	".text":     formatText,
	".log":      formatText,
	".csv":      formatText,
	".md":       formatMarkdown,
	".markdown": formatMarkdown,
	".html":     formatHTML,
	".htm":      formatHTML,
	".pdf":      formatPDF,
}

// Parser dispatches on document format and parse mode.
type Parser struct {
	markdown    *MarkdownParser
	pdf         *PDFParser
	defaultMode domain.ParseMode
}

// New creates a parser. defaultMode applies when Parse is called with an
// empty mode.
func New(defaultMode domain.ParseMode, pdf *PDFParser) *Parser {
	if defaultMode == "" {
		defaultMode = domain.ModeAuto
	}
	if pdf == nil {
		pdf = NewPDFParser("", nil)
	}
	return &Parser{
		markdown:    NewMarkdownParser(),
		pdf:         pdf,
		defaultMode: defaultMode,
	}
}

func (p *Parser) Parse(ctx context.Context, docPath string, raw []byte, mode domain.ParseMode) (domain.ExtractedContent, error) {
	if err := ctx.Err(); err != nil {
		return domain.ExtractedContent{}, &domain.ParseError{Path: docPath, Reason: domain.ReasonTimeout, Err: err}
	}
	if mode == "" {
		mode = p.defaultMode
	}

	f, err := detectFormat(docPath, raw)
	if err != nil {
		return domain.ExtractedContent{}, err
	}

	if f == formatPDF {
		return p.parsePDF(ctx, docPath, raw, mode)
	}

	source := string(raw)
	if mode == domain.ModeAuto {
		mode = autoMode(f, source)
	}
	if mode == domain.ModeOCR {
		if f == formatHTML {
			source = htmlToText(source)
		}
		return ocrContent(docPath, source), nil
	}

	switch f {
	case formatMarkdown:
		return p.markdown.Layout(docPath, raw), nil
	case formatHTML:
		content := layoutText(docPath, htmlToText(source))
		content.RawText = source
		return content, nil
	default:
		return layoutText(docPath, source), nil
	}
}

func (p *Parser) parsePDF(ctx context.Context, docPath string, raw []byte, mode domain.ParseMode) (domain.ExtractedContent, error) {
	extractMode := mode
	if mode == domain.ModeAuto {
		extractMode = domain.ModeLayout
	}

	text, err := p.pdf.Extract(ctx, docPath, raw, extractMode)
	if err != nil {
		return domain.ExtractedContent{}, err
	}
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}

	if extractMode == domain.ModeOCR {
		return ocrContent(docPath, text), nil
	}
	content := layoutText(docPath, text)
	if mode == domain.ModeAuto && !hasStructure(content.Sections) {
		// No recoverable structure: treat it like a scan.
		return ocrContent(docPath, text), nil
	}
	return content, nil
}

// autoMode picks layout for structured formats and for plain text that
// shows headings or tables, OCR cleanup otherwise.
func autoMode(f format, source string) domain.ParseMode {
	switch f {
	case formatMarkdown, formatHTML:
		return domain.ModeLayout
	}
	if hasStructure(layoutText("", source).Sections) {
		return domain.ModeLayout
	}
	return domain.ModeOCR
}

func hasStructure(sections []domain.Section) bool {
	for _, s := range sections {
		if s.Kind != domain.SectionParagraph {
			return true
		}
	}
	return false
}

// detectFormat classifies raw bytes. Binary content under a text
// extension is corrupt; binary content under an unknown extension is
// unsupported.
func detectFormat(docPath string, raw []byte) (format, error) {
	if bytes.HasPrefix(raw, pdfMagic) {
		return formatPDF, nil
	}

	f, known := extFormats[strings.ToLower(path.Ext(docPath))]
	if f == formatPDF {
		// Extract reports the missing header.
		return formatPDF, nil
	}

	if !utf8.Valid(raw) || bytes.IndexByte(raw, 0) >= 0 {
		if known {
			return formatUnknown, &domain.ParseError{Path: docPath, Reason: domain.ReasonCorrupt, Err: errors.New("binary content in text document")}
		}
		return formatUnknown, &domain.ParseError{Path: docPath, Reason: domain.ReasonUnsupported}
	}
	if !known {
		return formatText, nil
	}
	return f, nil
}

// TimeoutParser bounds each attempt of the wrapped parser and retries a
// timed-out attempt once.
type TimeoutParser struct {
	next    port.Parser
	timeout time.Duration
	retries int
}

// WithTimeout wraps next. A non-positive timeout disables the bound.
func WithTimeout(next port.Parser, timeout time.Duration) *TimeoutParser {
	return &TimeoutParser{next: next, timeout: timeout, retries: 1}
}

func (p *TimeoutParser) Parse(ctx context.Context, docPath string, raw []byte, mode domain.ParseMode) (domain.ExtractedContent, error) {
	if p.timeout <= 0 {
		return p.next.Parse(ctx, docPath, raw, mode)
	}

	for attempt := 0; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		content, err := p.next.Parse(attemptCtx, docPath, raw, mode)
		timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		cancel()

		if err == nil {
			return content, nil
		}
		if !timedOut {
			return domain.ExtractedContent{}, err
		}
		if attempt >= p.retries {
			return domain.ExtractedContent{}, &domain.ParseError{Path: docPath, Reason: domain.ReasonTimeout, Err: context.DeadlineExceeded}
		}
		logutil.FromContext(ctx).Warn("parse timed out, retrying", "path", docPath, "timeout", p.timeout)
	}
}
