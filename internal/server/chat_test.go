package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/avelkov/cardiobot/internal/generator"
	"github.com/avelkov/cardiobot/internal/pipeline"
)

// fakeAnswerer implements the answerer interface for handler tests.
type fakeAnswerer struct {
	// answer is returned (whole for Answer, in two fragments for AnswerStream).
	answer string
	// sources and retrieved populate the result metadata.
	sources   []pipeline.Source
	retrieved int
	// err is returned from both Answer and AnswerStream.
	err error
	// streamErr, when set, is returned mid-stream after the first fragment.
	streamErr error
}

func (f *fakeAnswerer) Answer(_ context.Context, _ string, _ []*schema.Message) (*pipeline.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Result{Answer: f.answer, Sources: f.sources, Retrieved: f.retrieved}, nil
}

func (f *fakeAnswerer) AnswerStream(_ context.Context, _ string, _ []*schema.Message) (*pipeline.StreamResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	frags := []string{f.answer[:len(f.answer)/2], f.answer[len(f.answer)/2:]}
	return &pipeline.StreamResult{
		Stream:    &fakeStream{fragments: frags, err: f.streamErr},
		Sources:   f.sources,
		Retrieved: f.retrieved,
	}, nil
}

func (f *fakeAnswerer) Stats(_ context.Context) (*pipeline.Stats, error) {
	return &pipeline.Stats{IndexedChunks: 77, TopK: 5, SimilarityThreshold: 0.3}, nil
}

// fakeStream yields its fragments then err (or io.EOF). After the first
// fragment a non-nil err is returned immediately to exercise mid-stream
// failure paths.
type fakeStream struct {
	fragments []string
	err       error
	pos       int
}

func (s *fakeStream) Recv() (string, error) {
	if s.err != nil && s.pos == 1 {
		return "", s.err
	}
	if s.pos >= len(s.fragments) {
		return "", io.EOF
	}
	frag := s.fragments[s.pos]
	s.pos++
	return frag, nil
}

func (s *fakeStream) Close() {}

// newChatTestServer builds a *Server wired with the given answerer fake and
// an isolated metrics registry.
func newChatTestServer(ans answerer) *Server {
	return &Server{
		answerer: ans,
		cfg:      &Config{Port: 8080, ChatTimeout: 5 * time.Minute},
		log:      slog.Default(),
		metrics:  newServerMetrics(prometheus.NewRegistry()),
	}
}

func TestHandleChat_MissingQuestion(t *testing.T) {
	t.Parallel()

	s := newChatTestServer(nil)
	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	s.handleChat(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleChat_InvalidJSON(t *testing.T) {
	t.Parallel()

	s := newChatTestServer(nil)
	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`not-json`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	s.handleChat(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

// TestHandleChat_Success verifies that a valid request produces an SSE stream
// with a "meta" event carrying citations and a "done" event.
// httptest.ResponseRecorder implements http.Flusher so the handler's flusher
// check passes without a real connection.
func TestHandleChat_Success(t *testing.T) {
	t.Parallel()

	ans := &fakeAnswerer{
		answer:    "Atrial fibrillation is an irregular heart rhythm.",
		sources:   []pipeline.Source{{Document: "handbook.pdf", Page: 12, Score: 0.91}},
		retrieved: 2,
	}
	s := newChatTestServer(ans)

	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"question":"what is atrial fibrillation?"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	s.handleChat(w, req)

	body := w.Body.String()

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected SSE content type, got %q", ct)
	}
	if !strings.Contains(body, "event: meta") {
		t.Errorf("expected meta event in body, got: %s", body)
	}
	if !strings.Contains(body, `"handbook.pdf"`) || !strings.Contains(body, `"retrieved":2`) {
		t.Errorf("expected citation metadata in body, got: %s", body)
	}
	if !strings.Contains(body, "irregular heart rhythm") {
		t.Errorf("expected answer fragments in body, got: %s", body)
	}
	if !strings.Contains(body, "event: done") || !strings.Contains(body, "[DONE]") {
		t.Errorf("expected done event in body, got: %s", body)
	}
}

// TestHandleChat_PipelineError verifies that when the pipeline fails, the SSE
// stream includes an "error" event and the response is still 200 (SSE errors
// are delivered in-band, not via HTTP status). Internal error detail must not
// leak to the client.
func TestHandleChat_PipelineError(t *testing.T) {
	t.Parallel()

	ans := &fakeAnswerer{err: fmt.Errorf("qdrant at 10.0.0.5:6334 unavailable")}
	s := newChatTestServer(ans)

	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"question":"anything"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	s.handleChat(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "event: error") {
		t.Errorf("expected error event in body, got: %s", body)
	}
	if strings.Contains(body, "10.0.0.5") {
		t.Errorf("internal error detail leaked to client: %s", body)
	}
}

func TestHandleChat_ContentBlocked(t *testing.T) {
	t.Parallel()

	ans := &fakeAnswerer{err: fmt.Errorf("generating: %w", generator.ErrContentBlocked)}
	s := newChatTestServer(ans)

	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"question":"anything"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	s.handleChat(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "blocked by safety filters") {
		t.Errorf("expected safety message in body, got: %s", body)
	}
}

func TestHandleAsk_Success(t *testing.T) {
	t.Parallel()

	ans := &fakeAnswerer{
		answer:    "Beta blockers reduce heart rate.",
		sources:   []pipeline.Source{{Document: "handbook.pdf", Page: 40, Score: 0.8}},
		retrieved: 1,
	}
	s := newChatTestServer(ans)

	req := httptest.NewRequest(http.MethodPost, "/api/ask",
		strings.NewReader(`{"question":"how do beta blockers work?"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	s.handleAsk(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp askResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Answer != ans.answer {
		t.Errorf("Answer = %q", resp.Answer)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].Page != 40 {
		t.Errorf("Sources = %+v", resp.Sources)
	}
	if resp.Retrieved != 1 {
		t.Errorf("Retrieved = %d, want 1", resp.Retrieved)
	}
}

func TestHandleAsk_ContentBlockedStatus(t *testing.T) {
	t.Parallel()

	ans := &fakeAnswerer{err: generator.ErrContentBlocked}
	s := newChatTestServer(ans)

	req := httptest.NewRequest(http.MethodPost, "/api/ask",
		strings.NewReader(`{"question":"anything"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	s.handleAsk(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", w.Code)
	}
}

func TestHandleStats(t *testing.T) {
	t.Parallel()

	s := newChatTestServer(&fakeAnswerer{})

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	w := httptest.NewRecorder()

	s.handleStats(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp statsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.IndexedChunks != 77 {
		t.Errorf("IndexedChunks = %d, want 77", resp.IndexedChunks)
	}
	if resp.TopK != 5 {
		t.Errorf("TopK = %d, want 5", resp.TopK)
	}
}
