package server

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
// It satisfies the Pinger interface and is used by GET /api/ready.
type QdrantPinger struct {
	// client is the Qdrant gRPC client to probe.
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
// Returns nil if Qdrant is reachable, or a descriptive error otherwise.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	_, err := p.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// embeddingProber is the slice of the embedder used for readiness probes.
type embeddingProber interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// EmbedderPinger probes the embedding backend by embedding a single short
// string. The call is cheap relative to generation and exercises the same
// credentials and endpoint the pipeline uses.
type EmbedderPinger struct {
	embedder embeddingProber
	name     string
}

// NewEmbedderPinger constructs an EmbedderPinger for the given embedder and
// backend name (e.g. "gemini", "ollama").
func NewEmbedderPinger(e embeddingProber, name string) *EmbedderPinger {
	return &EmbedderPinger{embedder: e, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *EmbedderPinger) Name() string { return p.name }

// Ping embeds a single token and checks a non-empty vector comes back.
func (p *EmbedderPinger) Ping(ctx context.Context) error {
	vec, err := p.embedder.EmbedQuery(ctx, "ping")
	if err != nil {
		return fmt.Errorf("embedding probe failed: %w", err)
	}
	if len(vec) == 0 {
		return fmt.Errorf("embedding probe returned an empty vector")
	}
	return nil
}
