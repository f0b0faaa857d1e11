// Package pipeline orchestrates grounded question answering: embed the
// question, retrieve relevant handbook chunks, compose the prompt, generate
// the answer, and return it together with citation metadata.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/schema"

	"github.com/avelkov/cardiobot/internal/budget"
	"github.com/avelkov/cardiobot/internal/generator"
	"github.com/avelkov/cardiobot/internal/logging"
	"github.com/avelkov/cardiobot/internal/rag"
)

// AnswerStream is a lazy, finite sequence of answer fragments. Recv returns
// io.EOF after the final fragment; Close must be called when the consumer
// stops early.
type AnswerStream interface {
	Recv() (string, error)
	Close()
}

// Generator produces answers from composed messages.
type Generator interface {
	Generate(ctx context.Context, messages []*schema.Message) (string, error)
	GenerateStream(ctx context.Context, messages []*schema.Message) (AnswerStream, error)
}

// clientGenerator adapts *generator.Client to the Generator interface.
type clientGenerator struct {
	c *generator.Client
}

func (g clientGenerator) Generate(ctx context.Context, messages []*schema.Message) (string, error) {
	return g.c.Generate(ctx, messages)
}

func (g clientGenerator) GenerateStream(ctx context.Context, messages []*schema.Message) (AnswerStream, error) {
	return g.c.GenerateStream(ctx, messages)
}

// WrapGenerator adapts a generator.Client for use as a pipeline Generator.
func WrapGenerator(c *generator.Client) Generator {
	return clientGenerator{c: c}
}

// Config holds the retrieval and prompt-assembly parameters.
type Config struct {
	// TopK is the number of chunks retrieved per question (default: 5).
	TopK int
	// SimilarityThreshold drops retrieved chunks scoring below it. Applied
	// by the retriever; recorded here for Stats reporting.
	SimilarityThreshold float32
	// MaxPromptChars caps the combined length of retrieved context included
	// in the prompt (default: budget.DefaultMaxPromptChars). Lowest-relevance
	// chunks are dropped first.
	MaxPromptChars int
	// HistoryMaxTokens bounds the conversation history included in the
	// prompt; oldest turns are dropped first (default: 2000).
	HistoryMaxTokens int
}

// Source identifies where an answer's supporting chunk came from.
type Source struct {
	// Document is the origin file name.
	Document string
	// Page is the 1-based page number (0 if unknown).
	Page int
	// Score is the cosine similarity of the chunk to the question.
	Score float32
}

// Result is a completed answer with its citations.
type Result struct {
	// Answer is the generated text.
	Answer string
	// Sources lists the retained chunks' origins, in relevance order.
	Sources []Source
	// Retrieved is the number of chunks that survived threshold filtering,
	// before prompt-length truncation.
	Retrieved int
}

// StreamResult is a streaming answer. Sources are known before the first
// fragment arrives, so callers can display citations while streaming.
type StreamResult struct {
	Stream    AnswerStream
	Sources   []Source
	Retrieved int
}

// Stats reports the pipeline's observable configuration and index size.
type Stats struct {
	IndexedChunks       uint64
	TopK                int
	SimilarityThreshold float32
}

// Pipeline sequences retrieval and generation. It is safe for concurrent
// use; all mutable state lives in its collaborators.
type Pipeline struct {
	retriever rag.Retriever
	store     rag.VectorStore
	gen       Generator
	cfg       Config
}

// New constructs a Pipeline. The store is only used for Stats and may not
// be nil; retrieval goes through the retriever.
func New(retriever rag.Retriever, store rag.VectorStore, gen Generator, cfg Config) (*Pipeline, error) {
	if retriever == nil {
		return nil, fmt.Errorf("pipeline: retriever must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("pipeline: store must not be nil")
	}
	if gen == nil {
		return nil, fmt.Errorf("pipeline: generator must not be nil")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.MaxPromptChars <= 0 {
		cfg.MaxPromptChars = budget.DefaultMaxPromptChars
	}
	if cfg.HistoryMaxTokens <= 0 {
		cfg.HistoryMaxTokens = 2000
	}
	return &Pipeline{retriever: retriever, store: store, gen: gen, cfg: cfg}, nil
}

// prepare runs the retrieval half of the pipeline: retrieve, truncate to the
// prompt budget, format the context block, and assemble the messages.
func (p *Pipeline) prepare(ctx context.Context, question string, history []*schema.Message) ([]*schema.Message, []Source, int, error) {
	log := logging.FromContext(ctx)

	docs, err := p.retriever.Retrieve(ctx, question, p.cfg.TopK)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("pipeline: retrieval failed: %w", err)
	}
	retrieved := len(docs)

	retained := budget.TruncateChunks(docs, p.cfg.MaxPromptChars)
	if len(retained) < retrieved {
		log.Debug("pipeline: context truncated to prompt budget",
			slog.Int("retrieved", retrieved),
			slog.Int("retained", len(retained)),
		)
	}

	contextBlock := FormatContext(retained)
	if len(retained) == 0 {
		log.Info("pipeline: no chunks above similarity threshold", slog.String("question", question))
	}

	fixed := BuildMessages(question, contextBlock, nil)
	history = budget.TrimHistory(fixed, history, p.cfg.HistoryMaxTokens)
	messages := BuildMessages(question, contextBlock, history)

	sources := make([]Source, 0, len(retained))
	for _, doc := range retained {
		sources = append(sources, Source{Document: doc.Source, Page: doc.Page, Score: doc.Score})
	}
	return messages, sources, retrieved, nil
}

// Answer runs the full pipeline and returns the completed answer. An empty
// index or below-threshold retrieval is not an error; the prompt's
// no-context branch handles it.
func (p *Pipeline) Answer(ctx context.Context, question string, history []*schema.Message) (*Result, error) {
	messages, sources, retrieved, err := p.prepare(ctx, question, history)
	if err != nil {
		return nil, err
	}

	answer, err := p.gen.Generate(ctx, messages)
	if err != nil {
		return nil, err
	}

	return &Result{Answer: answer, Sources: sources, Retrieved: retrieved}, nil
}

// AnswerStream runs the pipeline with streaming generation. The caller must
// Close the returned stream.
func (p *Pipeline) AnswerStream(ctx context.Context, question string, history []*schema.Message) (*StreamResult, error) {
	messages, sources, retrieved, err := p.prepare(ctx, question, history)
	if err != nil {
		return nil, err
	}

	stream, err := p.gen.GenerateStream(ctx, messages)
	if err != nil {
		return nil, err
	}

	return &StreamResult{Stream: stream, Sources: sources, Retrieved: retrieved}, nil
}

// Stats returns the index size and retrieval configuration.
func (p *Pipeline) Stats(ctx context.Context) (*Stats, error) {
	count, err := p.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: counting index failed: %w", err)
	}
	return &Stats{
		IndexedChunks:       count,
		TopK:                p.cfg.TopK,
		SimilarityThreshold: p.cfg.SimilarityThreshold,
	}, nil
}
