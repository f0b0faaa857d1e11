// Package rag defines the interfaces for the retrieval layer: vector
// storage, embedding, and similarity retrieval. Concrete implementations
// (Qdrant, in-memory) satisfy these interfaces so the pipeline never
// depends on a specific backend.
package rag

import (
	"context"
)

// Document is a unit of stored or retrieved handbook knowledge — one chunk
// of the source text plus its citation metadata.
type Document struct {
	// ID is the unique identifier for this chunk, derived from the source
	// ID and sequence index so re-ingestion is idempotent.
	ID string

	// Content is the chunk text.
	Content string

	// Source is the origin document (file name).
	Source string

	// Page is the 1-based page number the chunk came from (0 if unknown).
	Page int

	// SequenceIndex is the chunk's position within its source.
	SequenceIndex int

	// StartOffset and EndOffset locate the chunk within the page text.
	StartOffset int
	EndOffset   int

	// Metadata holds additional key-value pairs.
	Metadata map[string]string

	// Score is the cosine similarity assigned during retrieval.
	// Zero value means the score was not computed.
	Score float32
}

// VectorStore persists and searches document embeddings.
// Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// Upsert stores or updates a batch of documents with their pre-computed
	// embeddings. embeddings[i] is the vector for docs[i]. Upserting a
	// document ID that already exists replaces the stored record.
	Upsert(ctx context.Context, docs []Document, embeddings [][]float32) error

	// Search returns the topK documents with the highest cosine similarity
	// to queryEmbedding, in descending score order. When filter is non-nil,
	// only documents whose metadata matches every filter entry are
	// considered. An empty index yields an empty result, not an error;
	// fewer than topK records yield that many.
	Search(ctx context.Context, queryEmbedding []float32, topK int, filter map[string]string) ([]Document, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (uint64, error)

	// Delete removes documents by their IDs.
	Delete(ctx context.Context, ids []string) error

	// Close releases any resources held by the store.
	Close() error
}

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of document texts into embeddings. The
	// returned slice is parallel to the input: len(out) == len(texts) and
	// out[i] embeds texts[i].
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single search query. Backends that distinguish
	// document and query modes (Gemini task types) use the query mode here.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Retriever fetches relevant context documents for a query. It combines
// embedding and vector search and applies the similarity threshold.
// Implementations must be safe to call from multiple goroutines.
type Retriever interface {
	// Retrieve returns the top-k documents for the query whose similarity
	// meets the configured threshold, in descending score order.
	Retrieve(ctx context.Context, query string, topK int) ([]Document, error)
}
