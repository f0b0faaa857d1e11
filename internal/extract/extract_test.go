package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// fakeRunner is a CommandRunner test double returning canned output.
type fakeRunner struct {
	output []byte
	err    error
}

func (f *fakeRunner) Run(_ context.Context, _ string, _ ...string) ([]byte, error) {
	return f.output, f.err
}

func TestExtractPDF_SplitsPages(t *testing.T) {
	t.Parallel()

	e := NewWithRunner(&fakeRunner{output: []byte("page one text\fpage two text\f")})
	pages, err := e.ExtractText(context.Background(), "handbook.pdf")
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}

	if len(pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(pages))
	}
	if pages[0].Number != 1 || pages[0].Text != "page one text" {
		t.Errorf("page 1 = %+v", pages[0])
	}
	if pages[1].Number != 2 || pages[1].Text != "page two text" {
		t.Errorf("page 2 = %+v", pages[1])
	}
}

// Blank pages are skipped but page numbering still reflects the original
// position, so citations stay accurate.
func TestExtractPDF_SkipsBlankPagesKeepsNumbers(t *testing.T) {
	t.Parallel()

	e := NewWithRunner(&fakeRunner{output: []byte("first\f  \n\fthird")})
	pages, err := e.ExtractText(context.Background(), "doc.pdf")
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}

	if len(pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(pages))
	}
	if pages[1].Number != 3 {
		t.Errorf("third page numbered %d, want 3", pages[1].Number)
	}
}

func TestExtractPDF_NoText(t *testing.T) {
	t.Parallel()

	e := NewWithRunner(&fakeRunner{output: []byte("\f\f  \f")})
	_, err := e.ExtractText(context.Background(), "scan.pdf")
	if !errors.Is(err, ErrNoText) {
		t.Errorf("expected ErrNoText, got %v", err)
	}
}

func TestExtractPDF_RunnerError(t *testing.T) {
	t.Parallel()

	e := NewWithRunner(&fakeRunner{err: errors.New("pdftotext: not found")})
	_, err := e.ExtractText(context.Background(), "doc.pdf")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestExtractPlainText(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("some handbook text"), 0o600); err != nil {
		t.Fatal(err)
	}

	e := New()
	pages, err := e.ExtractText(context.Background(), path)
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if len(pages) != 1 || pages[0].Text != "some handbook text" {
		t.Errorf("unexpected pages %+v", pages)
	}
}

func TestExtractPlainText_Empty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "empty.txt")
	if err := os.WriteFile(path, []byte("  \n"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := New().ExtractText(context.Background(), path)
	if !errors.Is(err, ErrNoText) {
		t.Errorf("expected ErrNoText, got %v", err)
	}
}

func TestExtract_UnsupportedType(t *testing.T) {
	t.Parallel()

	_, err := New().ExtractText(context.Background(), "doc.docx")
	if err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}
