// Package extract turns source documents into plain text for the ingestion
// pipeline. PDF files are converted with the poppler pdftotext binary so no
// PDF parsing dependency is carried; plain text and markdown files are read
// directly. Page boundaries are preserved so retrieved chunks can cite the
// page they came from.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrNoText indicates the source yielded no extractable text, typically an
// image-only scan. The operator must pre-process the file with OCR (e.g.
// ocrmypdf) before ingesting it.
var ErrNoText = errors.New("no extractable text (image-only scan? pre-process with OCR, e.g. ocrmypdf)")

// Page is the text of a single source page.
type Page struct {
	// Number is the 1-based page number.
	Number int
	// Text is the raw extracted page text.
	Text string
}

// CommandRunner executes an external command and returns its stdout.
// The production implementation shells out; tests inject a fake.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// execRunner is the production CommandRunner backed by os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("%s: %s", name, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// Extractor converts document files into per-page plain text.
type Extractor struct {
	runner CommandRunner
}

// New constructs an Extractor using the system pdftotext binary for PDFs.
func New() *Extractor {
	return &Extractor{runner: execRunner{}}
}

// NewWithRunner constructs an Extractor with an injected CommandRunner.
func NewWithRunner(r CommandRunner) *Extractor {
	return &Extractor{runner: r}
}

// ExtractText returns the pages of the given file. PDFs go through
// pdftotext; .txt and .md files are read as a single page. Returns ErrNoText
// when the source contains no usable text.
func (e *Extractor) ExtractText(ctx context.Context, path string) ([]Page, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return e.extractPDF(ctx, path)
	case ".txt", ".md":
		return extractPlain(path)
	default:
		return nil, fmt.Errorf("extract: unsupported file type %q (supported: .pdf, .txt, .md)", filepath.Ext(path))
	}
}

// extractPDF shells out to pdftotext and splits the output on the form-feed
// characters pdftotext emits between pages.
func (e *Extractor) extractPDF(ctx context.Context, path string) ([]Page, error) {
	// "-" writes to stdout; -enc UTF-8 keeps ligatures and symbols intact.
	out, err := e.runner.Run(ctx, "pdftotext", "-enc", "UTF-8", path, "-")
	if err != nil {
		return nil, fmt.Errorf("extract: pdftotext failed for %s: %w", path, err)
	}

	var pages []Page
	for i, raw := range strings.Split(string(out), "\f") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		pages = append(pages, Page{Number: i + 1, Text: raw})
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("extract: %s: %w", path, ErrNoText)
	}
	return pages, nil
}

// extractPlain reads a text file as a single page.
func extractPlain(path string) ([]Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("extract: read %s: %w", path, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, fmt.Errorf("extract: %s: %w", path, ErrNoText)
	}
	return []Page{{Number: 1, Text: string(data)}}, nil
}
