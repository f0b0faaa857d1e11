package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/avelkov/cardiobot/internal/rag"
)

// keywordEmbedder is a fake embedder that maps texts onto a two-dimensional
// space: texts mentioning "aspirin" point one way, everything else the other.
type keywordEmbedder struct{}

func embedText(text string) []float32 {
	if strings.Contains(strings.ToLower(text), "aspirin") {
		return []float32{1, 0}
	}
	return []float32{0, 1}
}

func (keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = embedText(t)
	}
	return out, nil
}

func (keywordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return embedText(text), nil
}

// fakeGen records the messages it was asked to generate from and returns a
// canned answer, whole or in fragments.
type fakeGen struct {
	answer   string
	err      error
	messages []*schema.Message
}

func (f *fakeGen) Generate(_ context.Context, messages []*schema.Message) (string, error) {
	f.messages = messages
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func (f *fakeGen) GenerateStream(_ context.Context, messages []*schema.Message) (AnswerStream, error) {
	f.messages = messages
	if f.err != nil {
		return nil, f.err
	}
	// Split the answer into two fragments so concatenation is exercised.
	mid := len(f.answer) / 2
	return &fakeStream{fragments: []string{f.answer[:mid], f.answer[mid:]}}, nil
}

type fakeStream struct {
	fragments []string
	pos       int
	closed    bool
}

func (s *fakeStream) Recv() (string, error) {
	if s.pos >= len(s.fragments) {
		return "", io.EOF
	}
	frag := s.fragments[s.pos]
	s.pos++
	return frag, nil
}

func (s *fakeStream) Close() { s.closed = true }

func (f *fakeGen) prompt() string {
	if len(f.messages) == 0 {
		return ""
	}
	return f.messages[len(f.messages)-1].Content
}

func newTestPipeline(t *testing.T, gen Generator, cfg Config) (*Pipeline, *rag.MemoryStore) {
	t.Helper()
	store := rag.NewMemoryStore()
	retriever, err := rag.NewRetriever(keywordEmbedder{}, store, cfg.TopK, cfg.SimilarityThreshold)
	if err != nil {
		t.Fatalf("NewRetriever: %v", err)
	}
	p, err := New(retriever, store, gen, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, store
}

func ingest(t *testing.T, store *rag.MemoryStore, docs ...rag.Document) {
	t.Helper()
	embeddings := make([][]float32, len(docs))
	for i, doc := range docs {
		embeddings[i] = embedText(doc.Content)
	}
	if err := store.Upsert(context.Background(), docs, embeddings); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}

func TestAnswer_CitesMatchingChunk(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{answer: "Aspirin inhibits platelet aggregation."}
	p, store := newTestPipeline(t, gen, Config{TopK: 5, SimilarityThreshold: 0.3})

	ingest(t, store,
		rag.Document{ID: "c1", Content: "Aspirin inhibits platelet aggregation.", Source: "handbook.pdf", Page: 12},
		rag.Document{ID: "c2", Content: "The mitral valve separates the left atrium and ventricle.", Source: "handbook.pdf", Page: 40},
	)

	result, err := p.Answer(context.Background(), "How does aspirin work?", nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}

	if result.Answer != gen.answer {
		t.Errorf("answer = %q", result.Answer)
	}
	if len(result.Sources) != 1 {
		t.Fatalf("expected 1 source above threshold, got %d", len(result.Sources))
	}
	if result.Sources[0].Document != "handbook.pdf" || result.Sources[0].Page != 12 {
		t.Errorf("source = %+v", result.Sources[0])
	}
	if !strings.Contains(gen.prompt(), "Aspirin inhibits platelet aggregation.") {
		t.Error("prompt does not carry the matching chunk")
	}
	if !strings.Contains(gen.prompt(), "(Page 12,") {
		t.Errorf("prompt missing page tag:\n%s", gen.prompt())
	}
	if !strings.Contains(gen.prompt(), "How does aspirin work?") {
		t.Error("prompt does not carry the question")
	}
}

func TestAnswer_EmptyIndexUsesNoContextBranch(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{answer: "The handbook has no relevant material on that."}
	p, _ := newTestPipeline(t, gen, Config{TopK: 5, SimilarityThreshold: 0.3})

	result, err := p.Answer(context.Background(), "How does aspirin work?", nil)
	if err != nil {
		t.Fatalf("Answer on empty index: %v", err)
	}
	if len(result.Sources) != 0 {
		t.Errorf("expected no sources, got %d", len(result.Sources))
	}
	if !strings.Contains(gen.prompt(), noContextMessage) {
		t.Errorf("prompt missing no-context marker:\n%s", gen.prompt())
	}
}

func TestAnswer_TruncatesToHighestSimilarityPrefix(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{answer: "ok"}
	p, store := newTestPipeline(t, gen, Config{TopK: 5, MaxPromptChars: 150})

	long := strings.Repeat("aspirin dosing guidance. ", 4) // 100 chars
	ingest(t, store,
		rag.Document{ID: "best", Content: "aspirin " + long, Source: "handbook.pdf", Page: 1},
		rag.Document{ID: "worse", Content: "general cardiology overview text of some length here", Source: "handbook.pdf", Page: 2},
	)

	result, err := p.Answer(context.Background(), "aspirin?", nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}

	if result.Retrieved != 2 {
		t.Errorf("retrieved = %d, want 2", result.Retrieved)
	}
	if len(result.Sources) != 1 {
		t.Fatalf("expected 1 retained source after truncation, got %d", len(result.Sources))
	}
	if result.Sources[0].Page != 1 {
		t.Errorf("retained the wrong chunk: %+v", result.Sources[0])
	}
}

func TestAnswerStream_ConcatenationMatchesSources(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{answer: "Aspirin thins the blood."}
	p, store := newTestPipeline(t, gen, Config{TopK: 5, SimilarityThreshold: 0.3})

	ingest(t, store, rag.Document{ID: "c1", Content: "aspirin facts", Source: "handbook.pdf", Page: 3})

	result, err := p.AnswerStream(context.Background(), "aspirin?", nil)
	if err != nil {
		t.Fatalf("AnswerStream: %v", err)
	}
	defer result.Stream.Close()

	if len(result.Sources) != 1 {
		t.Fatalf("sources should be available before streaming, got %d", len(result.Sources))
	}

	var sb strings.Builder
	for {
		frag, err := result.Stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		sb.WriteString(frag)
	}
	if sb.String() != gen.answer {
		t.Errorf("assembled answer = %q, want %q", sb.String(), gen.answer)
	}
}

func TestAnswer_HistoryIncluded(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{answer: "ok"}
	p, _ := newTestPipeline(t, gen, Config{TopK: 5})

	history := []*schema.Message{
		schema.UserMessage("What is atrial fibrillation?"),
		schema.AssistantMessage("An irregular heart rhythm.", nil),
	}
	if _, err := p.Answer(context.Background(), "How is it treated?", history); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	// system + 2 history + user question
	if len(gen.messages) != 4 {
		t.Errorf("expected 4 messages, got %d", len(gen.messages))
	}
}

func TestAnswer_GeneratorErrorPropagates(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("model unavailable")
	p, _ := newTestPipeline(t, &fakeGen{err: wantErr}, Config{})

	_, err := p.Answer(context.Background(), "question", nil)
	if !errors.Is(err, wantErr) {
		t.Errorf("expected generator error, got %v", err)
	}
}

func TestFormatContext(t *testing.T) {
	t.Parallel()

	docs := []rag.Document{
		{Content: "first chunk", Page: 12, Score: 0.91},
		{Content: "second chunk", Score: 0.507},
	}
	got := FormatContext(docs)

	if !strings.Contains(got, "[Context 1] (Page 12, Relevance: 0.91)\nfirst chunk") {
		t.Errorf("context block malformed:\n%s", got)
	}
	if !strings.Contains(got, "[Context 2] (Page Unknown, Relevance: 0.51)\nsecond chunk") {
		t.Errorf("unknown page not handled:\n%s", got)
	}
}

func TestFormatContext_Empty(t *testing.T) {
	t.Parallel()

	if got := FormatContext(nil); got != noContextMessage {
		t.Errorf("FormatContext(nil) = %q", got)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()

	p, store := newTestPipeline(t, &fakeGen{answer: "ok"}, Config{TopK: 7, SimilarityThreshold: 0.4})
	ingest(t, store,
		rag.Document{ID: "a", Content: "x"},
		rag.Document{ID: "b", Content: "y"},
	)

	stats, err := p.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.IndexedChunks != 2 || stats.TopK != 7 || stats.SimilarityThreshold != 0.4 {
		t.Errorf("stats = %+v", stats)
	}
}
