package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"docindex/internal/domain"
)

var pdfMagic = []byte("%PDF-")

// CommandRunner runs an external extraction tool.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec. The process is killed when ctx
// is done.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}

// PDFParser extracts text with pdftotext (poppler-utils).
type PDFParser struct {
	command string
	runner  CommandRunner
}

// NewPDFParser creates a PDF parser. An empty command selects "pdftotext".
func NewPDFParser(command string, runner CommandRunner) *PDFParser {
	if command == "" {
		command = "pdftotext"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &PDFParser{command: command, runner: runner}
}

// Extract returns the text layer of a PDF. Layout mode keeps the physical
// column layout, OCR mode asks for reading order.
func (p *PDFParser) Extract(ctx context.Context, path string, raw []byte, mode domain.ParseMode) (string, error) {
	if !bytes.HasPrefix(raw, pdfMagic) {
		return "", &domain.ParseError{Path: path, Reason: domain.ReasonCorrupt, Err: errors.New("missing %PDF- header")}
	}
	if !bytes.Contains(raw[max(0, len(raw)-1024):], []byte("%%EOF")) {
		return "", &domain.ParseError{Path: path, Reason: domain.ReasonCorrupt, Err: errors.New("truncated: missing %%EOF trailer")}
	}

	tmp, err := os.CreateTemp("", "docindex-*.pdf")
	if err != nil {
		return "", &domain.ParseError{Path: path, Reason: domain.ReasonBackend, Err: err}
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return "", &domain.ParseError{Path: path, Reason: domain.ReasonBackend, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return "", &domain.ParseError{Path: path, Reason: domain.ReasonBackend, Err: err}
	}

	flag := "-raw"
	if mode == domain.ModeLayout {
		flag = "-layout"
	}
	out, err := p.runner.Run(ctx, p.command, flag, "-enc", "UTF-8", tmp.Name(), "-")
	if err != nil {
		if ctx.Err() != nil {
			return "", &domain.ParseError{Path: path, Reason: domain.ReasonTimeout, Err: ctx.Err()}
		}
		if errors.Is(err, exec.ErrNotFound) {
			return "", &domain.ParseError{Path: path, Reason: domain.ReasonBackend, Err: err}
		}
		return "", &domain.ParseError{Path: path, Reason: domain.ReasonCorrupt, Err: err}
	}
	return string(out), nil
}
