// Package chunker splits extracted document text into overlapping,
// fixed-size chunks with position metadata. Chunks are the unit of
// retrieval: each chunk becomes exactly one vector record at ingestion
// time and is returned verbatim as a citation source at query time.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Chunk is a contiguous slice of cleaned source text.
type Chunk struct {
	// Text is the chunk content.
	Text string

	// StartOffset and EndOffset are byte offsets into the cleaned source
	// text, so Text == cleaned[StartOffset:EndOffset].
	StartOffset int
	EndOffset   int

	// SourceID identifies the document this chunk came from.
	SourceID string

	// SequenceIndex is the zero-based position of this chunk within its
	// source. Together with SourceID it derives the vector record ID.
	SequenceIndex int
}

// Splitter holds the chunking parameters.
type Splitter struct {
	// ChunkSize is the target chunk length in bytes.
	ChunkSize int

	// Overlap is the number of bytes shared between consecutive chunks.
	// Must be smaller than ChunkSize.
	Overlap int

	// MinChunk is the floor below which whitespace-boundary trimming is
	// skipped, so trimming never produces near-empty chunks.
	MinChunk int
}

// Default chunking parameters, tuned for prose reference material.
const (
	DefaultChunkSize = 800
	DefaultOverlap   = 200
	DefaultMinChunk  = 100
)

// NewSplitter constructs a Splitter, applying defaults for zero values and
// clamping a pathological overlap to a tenth of the chunk size.
func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 10
	}
	minChunk := DefaultMinChunk
	if minChunk >= chunkSize {
		minChunk = chunkSize / 4
	}
	return &Splitter{ChunkSize: chunkSize, Overlap: overlap, MinChunk: minChunk}
}

// Clean normalises raw extracted text: whitespace runs collapse to a single
// space, the fi/fl ligatures common in PDF extractions are expanded, and
// leading/trailing whitespace is removed.
func Clean(text string) string {
	text = strings.ReplaceAll(text, "ﬁ", "fi")
	text = strings.ReplaceAll(text, "ﬂ", "fl")
	return strings.Join(strings.Fields(text), " ")
}

// Split divides text into overlapping chunks. Every chunk after the first
// starts ChunkSize-Overlap bytes after the previous chunk's start, so the
// chunks cover the whole input with no gaps. The trailing boundary of each
// non-final chunk is trimmed back to the nearest whitespace unless that
// would shrink the chunk below MinChunk. Boundaries never cut a rune in
// half: a start landing inside a multibyte rune widens back to the rune's
// first byte, a hard cut landing inside one extends past it. Empty input
// yields no chunks.
//
// Offsets in the returned chunks refer to text as passed in; callers that
// want cleaned offsets should call Clean first.
func (s *Splitter) Split(text, sourceID string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	stride := s.ChunkSize - s.Overlap
	var chunks []Chunk
	seq := 0

	for pos := 0; pos < len(text); pos += stride {
		start := pos
		for start > 0 && !utf8.RuneStart(text[start]) {
			start--
		}

		end := pos + s.ChunkSize
		last := end >= len(text)
		if last {
			end = len(text)
		} else {
			// Trimming never reaches past the next chunk's start, so the
			// chunk sequence covers the input with no gaps.
			floor := s.MinChunk
			if stride > floor {
				floor = stride
			}
			if trimmed := trimToWhitespace(text, pos+floor, end); trimmed > 0 {
				end = trimmed
			} else {
				for end < len(text) && !utf8.RuneStart(text[end]) {
					end++
				}
				last = end == len(text)
			}
		}

		chunks = append(chunks, Chunk{
			Text:          text[start:end],
			StartOffset:   start,
			EndOffset:     end,
			SourceID:      sourceID,
			SequenceIndex: seq,
		})
		seq++

		if last {
			break
		}
	}

	return chunks
}

// trimToWhitespace walks end backwards rune by rune to the nearest
// whitespace so a chunk does not cut a word in half. Returns 0 when no
// whitespace exists between floor and end, signalling the caller to keep
// the hard cut.
func trimToWhitespace(text string, floor, end int) int {
	for i := end; i > floor; {
		r, size := utf8.DecodeLastRuneInString(text[:i])
		if unicode.IsSpace(r) {
			return i
		}
		i -= size
	}
	return 0
}
