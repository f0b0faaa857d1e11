// Package ingestion implements the handbook ingestion pipeline.
// It extracts text from source documents, cleans and chunks it page by
// page, embeds each chunk, and upserts the results into the vector store.
// This pipeline is invoked by the `cardiobot ingest` CLI command.
package ingestion

import (
	"context"
	"crypto/sha256"
	"fmt"
	"path/filepath"

	"github.com/avelkov/cardiobot/internal/chunker"
	"github.com/avelkov/cardiobot/internal/extract"
	"github.com/avelkov/cardiobot/internal/rag"
)

// TextExtractor produces per-page plain text from a document file.
type TextExtractor interface {
	ExtractText(ctx context.Context, path string) ([]extract.Page, error)
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of characters per chunk.
	// Defaults to chunker.DefaultChunkSize if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters shared between consecutive
	// chunks (0 = no overlap).
	ChunkOverlap int

	// BatchSize is the number of chunks embedded and upserted per request.
	// Defaults to 100 if zero.
	BatchSize int
}

// Pipeline orchestrates the extract → clean → chunk → embed → upsert flow
// for a set of handbook documents.
type Pipeline struct {
	extractor TextExtractor
	splitter  *chunker.Splitter
	embedder  rag.Embedder
	store     rag.VectorStore
	batchSize int
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(extractor TextExtractor, embedder rag.Embedder, store rag.VectorStore, cfg *Config) (*Pipeline, error) {
	if extractor == nil {
		return nil, fmt.Errorf("ingestion: extractor must not be nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	return &Pipeline{
		extractor: extractor,
		splitter:  chunker.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		embedder:  embedder,
		store:     store,
		batchSize: batchSize,
	}, nil
}

// Ingest extracts, chunks, embeds, and stores all provided documents.
// It processes documents sequentially and aborts the whole run on the first
// error, so a broken credential does not burn through an entire handbook.
// Progress is reported via the optional progress callback. Returns the total
// number of chunks ingested.
func (p *Pipeline) Ingest(ctx context.Context, paths []string, progress func(msg string)) (int, error) {
	if progress == nil {
		progress = func(string) {}
	}

	total := 0
	for _, path := range paths {
		source := filepath.Base(path)
		progress(fmt.Sprintf("extracting %s", source))

		pages, err := p.extractor.ExtractText(ctx, path)
		if err != nil {
			return total, fmt.Errorf("ingestion: extraction failed for %s: %w", source, err)
		}

		docs := p.chunkPages(source, pages)
		progress(fmt.Sprintf("chunked %s into %d chunks across %d pages", source, len(docs), len(pages)))

		if err := p.embedAndStore(ctx, docs); err != nil {
			return total, fmt.Errorf("ingestion: %s: %w", source, err)
		}

		total += len(docs)
		progress(fmt.Sprintf("ingested %d chunks from %s", len(docs), source))
	}

	return total, nil
}

// chunkPages cleans and splits each page, assigning document-wide sequence
// indices so chunk IDs stay stable across re-ingestion.
func (p *Pipeline) chunkPages(source string, pages []extract.Page) []rag.Document {
	var docs []rag.Document
	seq := 0
	for _, page := range pages {
		cleaned := chunker.Clean(page.Text)
		for _, c := range p.splitter.Split(cleaned, source) {
			docs = append(docs, rag.Document{
				ID:            chunkID(source, seq),
				Content:       c.Text,
				Source:        source,
				Page:          page.Number,
				SequenceIndex: seq,
				StartOffset:   c.StartOffset,
				EndOffset:     c.EndOffset,
			})
			seq++
		}
	}
	return docs
}

// embedAndStore embeds and upserts documents in batches.
func (p *Pipeline) embedAndStore(ctx context.Context, docs []rag.Document) error {
	for start := 0; start < len(docs); start += p.batchSize {
		end := start + p.batchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]

		texts := make([]string, len(batch))
		for i, doc := range batch {
			texts[i] = doc.Content
		}

		embeddings, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding batch failed: %w", err)
		}

		if err := p.store.Upsert(ctx, batch, embeddings); err != nil {
			return fmt.Errorf("upsert failed: %w", err)
		}
	}
	return nil
}

// chunkID generates a deterministic UUID-formatted ID for a chunk based on
// its source name and sequence index. Qdrant requires point IDs to be UUIDs
// or integers; hashing keeps re-ingestion idempotent.
func chunkID(source string, seq int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", source, seq)))
	return fmt.Sprintf("%x-%x-%x-%x-%x", h[0:4], h[4:6], h[6:8], h[8:10], h[10:16])
}
