package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplit_EmptyInput(t *testing.T) {
	t.Parallel()

	s := NewSplitter(100, 20)

	for _, text := range []string{"", "   ", "\n\t "} {
		if got := s.Split(text, "doc"); got != nil {
			t.Errorf("Split(%q) = %d chunks, want none", text, len(got))
		}
	}
}

func TestSplit_ShortInputSingleChunk(t *testing.T) {
	t.Parallel()

	s := NewSplitter(100, 20)
	chunks := s.Split("a short document", "doc")

	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	c := chunks[0]
	if c.Text != "a short document" {
		t.Errorf("unexpected text %q", c.Text)
	}
	if c.StartOffset != 0 || c.EndOffset != len(c.Text) {
		t.Errorf("unexpected offsets [%d, %d)", c.StartOffset, c.EndOffset)
	}
	if c.SourceID != "doc" || c.SequenceIndex != 0 {
		t.Errorf("unexpected metadata %q/%d", c.SourceID, c.SequenceIndex)
	}
}

// TestSplit_StrideAndCoverage checks the two structural invariants: each
// chunk after the first starts exactly ChunkSize-Overlap bytes after the
// previous one, and the chunks cover the input with no gaps.
func TestSplit_StrideAndCoverage(t *testing.T) {
	t.Parallel()

	text := strings.TrimSpace(strings.Repeat("the quick brown fox jumps over the lazy dog ", 40))
	s := NewSplitter(100, 20)
	chunks := s.Split(text, "doc")

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	stride := s.ChunkSize - s.Overlap
	for i, c := range chunks {
		if c.SequenceIndex != i {
			t.Errorf("chunk %d: sequence index %d", i, c.SequenceIndex)
		}
		if c.Text != text[c.StartOffset:c.EndOffset] {
			t.Errorf("chunk %d: text does not match offsets", i)
		}
		if i == 0 {
			if c.StartOffset != 0 {
				t.Errorf("first chunk starts at %d", c.StartOffset)
			}
			continue
		}
		if want := chunks[i-1].StartOffset + stride; c.StartOffset != want {
			t.Errorf("chunk %d starts at %d, want %d", i, c.StartOffset, want)
		}
		if c.StartOffset > chunks[i-1].EndOffset {
			t.Errorf("gap between chunk %d (ends %d) and chunk %d (starts %d)",
				i-1, chunks[i-1].EndOffset, i, c.StartOffset)
		}
	}

	if last := chunks[len(chunks)-1]; last.EndOffset != len(text) {
		t.Errorf("last chunk ends at %d, want %d", last.EndOffset, len(text))
	}
}

func TestSplit_TrimsToWhitespace(t *testing.T) {
	t.Parallel()

	// Words of 9 bytes + space: every chunk boundary lands mid-word unless
	// trimmed, so each non-final chunk should end on a space boundary.
	text := strings.TrimSpace(strings.Repeat("wordwordw ", 50))
	s := NewSplitter(100, 20)
	chunks := s.Split(text, "doc")

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks[:len(chunks)-1] {
		if text[c.EndOffset-1] != ' ' {
			t.Errorf("chunk %d ends mid-word at offset %d: %q", i, c.EndOffset, c.Text[len(c.Text)-10:])
		}
	}
}

// TestSplit_TrimSkippedBelowFloor uses a single unbroken run of characters:
// there is no whitespace to trim to, so the hard cut must be kept rather
// than producing an empty chunk.
func TestSplit_TrimSkippedBelowFloor(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("x", 250)
	s := NewSplitter(100, 20)
	chunks := s.Split(text, "doc")

	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}
	for i, c := range chunks {
		if len(c.Text) == 0 {
			t.Errorf("chunk %d is empty", i)
		}
		if i < len(chunks)-1 && len(c.Text) != s.ChunkSize {
			t.Errorf("chunk %d: length %d, want full chunk size %d", i, len(c.Text), s.ChunkSize)
		}
	}
}

// TestSplit_MultibyteRuneSafety feeds text whose byte boundaries land inside
// multibyte runes: every produced chunk must still be valid UTF-8 and match
// its offsets, with no coverage gaps.
func TestSplit_MultibyteRuneSafety(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
	}{
		{"continuation byte before boundary", strings.Repeat("a", 17) + "栀" + strings.Repeat("a", 6)},
		{"cjk without whitespace", strings.Repeat("心肌梗死", 15)},
		{"accented prose", strings.TrimSpace(strings.Repeat("tachycardie auriculaire à réponse rapide ", 3))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := NewSplitter(20, 5)
			chunks := s.Split(tt.text, "doc")
			if len(chunks) == 0 {
				t.Fatal("expected chunks")
			}
			for i, c := range chunks {
				if !utf8.ValidString(c.Text) {
					t.Errorf("chunk %d is not valid UTF-8: %q", i, c.Text)
				}
				if c.Text != tt.text[c.StartOffset:c.EndOffset] {
					t.Errorf("chunk %d: text does not match offsets", i)
				}
				if i > 0 && c.StartOffset > chunks[i-1].EndOffset {
					t.Errorf("gap between chunk %d (ends %d) and chunk %d (starts %d)",
						i-1, chunks[i-1].EndOffset, i, c.StartOffset)
				}
			}
			if last := chunks[len(chunks)-1]; last.EndOffset != len(tt.text) {
				t.Errorf("last chunk ends at %d, want %d", last.EndOffset, len(tt.text))
			}
		})
	}
}

// The second byte of 栀 (E6 A0 80) is 0xA0, which read as a lone byte looks
// like U+00A0 no-break space. The whitespace trim must not cut there.
func TestSplit_ContinuationByteNotWhitespace(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("a", 17) + "栀" + strings.Repeat("a", 6)
	chunks := NewSplitter(20, 5).Split(text, "doc")

	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}
	if got, want := chunks[0].Text, strings.Repeat("a", 17)+"栀"; got != want {
		t.Errorf("first chunk %q, want %q", got, want)
	}
}

func TestNewSplitter_ClampsOverlap(t *testing.T) {
	t.Parallel()

	s := NewSplitter(100, 200)
	if s.Overlap >= s.ChunkSize {
		t.Errorf("overlap %d not clamped below chunk size %d", s.Overlap, s.ChunkSize)
	}
}

func TestClean(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses whitespace", "This   has\t\textra\n\nspaces.", "This has extra spaces."},
		{"expands ligatures", "atrial ﬁbrillation reﬂex", "atrial fibrillation reflex"},
		{"trims", "  padded  ", "padded"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Clean(tt.in); got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
