package rag

import (
	"context"
	"fmt"
)

// DefaultRetriever implements Retriever by combining an Embedder and a
// VectorStore. It embeds the query at retrieval time, delegates similarity
// search to the store, and drops results below the similarity threshold.
type DefaultRetriever struct {
	embedder Embedder
	store    VectorStore

	// defaultTopK is the result count used when the caller passes 0.
	defaultTopK int

	// threshold is the minimum cosine similarity a result must reach to be
	// returned. Results below it are dropped, which may leave the caller
	// with an empty (but valid) result set.
	threshold float32
}

// NewRetriever constructs a DefaultRetriever. defaultTopK falls back to 5
// when non-positive; a zero threshold disables threshold filtering.
func NewRetriever(embedder Embedder, store VectorStore, defaultTopK int, threshold float32) (*DefaultRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	return &DefaultRetriever{
		embedder:    embedder,
		store:       store,
		defaultTopK: defaultTopK,
		threshold:   threshold,
	}, nil
}

// Retrieve embeds the query and returns the top-k documents whose
// similarity meets the threshold, in descending score order. An empty
// result is a valid outcome, not an error.
func (r *DefaultRetriever) Retrieve(ctx context.Context, query string, topK int) ([]Document, error) {
	if topK <= 0 {
		topK = r.defaultTopK
	}

	embedding, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}

	docs, err := r.store.Search(ctx, embedding, topK, nil)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}

	if r.threshold <= 0 {
		return docs, nil
	}

	kept := docs[:0]
	for _, doc := range docs {
		if doc.Score >= r.threshold {
			kept = append(kept, doc)
		}
	}
	return kept, nil
}
