package embedder

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// Gemini task types. Documents and queries are embedded in different modes
// so retrieval quality matches what the embedding model was trained for.
const (
	taskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	taskRetrievalQuery    = "RETRIEVAL_QUERY"
)

// GeminiEmbedder implements rag.Embedder using the Gemini embedContent API.
// It is safe for concurrent use.
type GeminiEmbedder struct {
	client *genai.Client
	// model is the embedding model name (e.g. "text-embedding-004").
	model string
	// dimensions is the desired embedding vector length (0 = model default).
	dimensions int
	policy     RetryPolicy
}

// GeminiConfig holds the settings for constructing a GeminiEmbedder.
type GeminiConfig struct {
	// APIKey is the Google AI Studio API key.
	APIKey string
	// Model is the embedding model name (e.g. "text-embedding-004").
	Model string
	// Dimensions is the desired vector length (0 = model default, 768 for
	// text-embedding-004).
	Dimensions int
}

// NewGeminiEmbedder constructs a GeminiEmbedder from the given config.
func NewGeminiEmbedder(ctx context.Context, cfg *GeminiConfig) (*GeminiEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini embedder: API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embedder: failed to create client: %w", err)
	}

	return &GeminiEmbedder{
		client:     client,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		policy:     DefaultRetryPolicy,
	}, nil
}

// Embed converts a batch of document texts into their corresponding
// embeddings using the RETRIEVAL_DOCUMENT task type. The returned slice is
// parallel to the input slice.
func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return e.embed(ctx, texts, taskRetrievalDocument)
}

// EmbedQuery embeds a single search query using the RETRIEVAL_QUERY task type.
func (e *GeminiEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.embed(ctx, []string{text}, taskRetrievalQuery)
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

func (e *GeminiEmbedder) embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
	}

	config := &genai.EmbedContentConfig{TaskType: taskType}
	if e.dimensions > 0 {
		config.OutputDimensionality = genai.Ptr(int32(e.dimensions)) //nolint:gosec // dimensions is a small config value
	}

	var embeddings [][]float32
	op := func() error {
		resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, config)
		if err != nil {
			return classifyGeminiError(err)
		}
		if len(resp.Embeddings) != len(texts) {
			return &FatalError{Err: fmt.Errorf("gemini embedder: expected %d embeddings, got %d", len(texts), len(resp.Embeddings))}
		}
		embeddings = make([][]float32, len(texts))
		for i, emb := range resp.Embeddings {
			embeddings[i] = emb.Values
		}
		return nil
	}

	if err := Retry(ctx, e.policy, op); err != nil {
		return nil, fmt.Errorf("gemini embedder: %w", err)
	}
	return embeddings, nil
}

// classifyGeminiError maps an error from the genai SDK onto the transient or
// fatal taxonomy. Errors without a status code (network failures) are
// treated as transient.
func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return Classify(apiErr.Code, err)
	}
	return &TransientError{Err: err}
}
