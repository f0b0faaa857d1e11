package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/avelkov/cardiobot/internal/pipeline"
	"github.com/avelkov/cardiobot/internal/stats"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// ChatTimeout bounds a single /api/chat or /api/ask request, including
	// retrieval and generation (default: 5 minutes).
	ChatTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// Counters feeds GET /api/stats. If nil, usage fields are reported as zero.
	Counters *stats.Counters
	// MetricsRegistry receives the server's Prometheus metrics. If nil, a
	// private registry is created.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Usually the same object as
	// MetricsRegistry.
	MetricsGatherer prometheus.Gatherer
}

// answerer is the slice of the pipeline the handlers call.
// *pipeline.Pipeline satisfies it; tests inject a fake.
type answerer interface {
	Answer(ctx context.Context, question string, history []*schema.Message) (*pipeline.Result, error)
	AnswerStream(ctx context.Context, question string, history []*schema.Message) (*pipeline.StreamResult, error)
	Stats(ctx context.Context) (*pipeline.Stats, error)
}

// Server is the HTTP server that exposes the answering pipeline.
type Server struct {
	// answerer handles all question requests.
	answerer answerer
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// chatRequest is the JSON body for POST /api/chat and POST /api/ask.
// The HTTP API is stateless: unlike the Telegram adapter it carries no
// conversation history.
type chatRequest struct {
	// Question is the user's natural language question.
	Question string `json:"question"`
}

// sourceRef is the JSON form of a citation.
type sourceRef struct {
	// Document is the origin file name.
	Document string `json:"document"`
	// Page is the 1-based page number (0 if unknown).
	Page int `json:"page"`
	// Score is the cosine similarity of the chunk to the question.
	Score float32 `json:"score"`
}

// askResponse is the JSON response for POST /api/ask.
type askResponse struct {
	// Answer is the generated text.
	Answer string `json:"answer"`
	// Sources lists the supporting chunks' origins, in relevance order.
	Sources []sourceRef `json:"sources"`
	// Retrieved is the number of chunks that cleared the similarity threshold.
	Retrieved int `json:"retrieved"`
}

// chatMeta is the payload of the SSE "meta" event sent before the first
// answer fragment.
type chatMeta struct {
	Sources   []sourceRef `json:"sources"`
	Retrieved int         `json:"retrieved"`
}

// statsResponse is the JSON response for GET /api/stats.
type statsResponse struct {
	// Queries is the number of questions answered since startup.
	Queries uint64 `json:"queries"`
	// Failures is the number of questions that ended in an error.
	Failures uint64 `json:"failures"`
	// Users is the number of distinct Telegram users seen since startup.
	Users int `json:"users"`
	// UptimeSeconds is the process uptime.
	UptimeSeconds int64 `json:"uptimeSeconds"`
	// IndexedChunks is the number of chunks in the vector index.
	IndexedChunks uint64 `json:"indexedChunks"`
	// TopK is the retrieval depth in use.
	TopK int `json:"topK"`
}

// toSourceRefs converts pipeline citations to their JSON form.
func toSourceRefs(sources []pipeline.Source) []sourceRef {
	refs := make([]sourceRef, 0, len(sources))
	for _, s := range sources {
		refs = append(refs, sourceRef{Document: s.Document, Page: s.Page, Score: s.Score})
	}
	return refs
}
