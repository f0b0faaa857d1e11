package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/cloudwego/eino/components/model"

	"github.com/avelkov/cardiobot/internal/embedder"
	"github.com/avelkov/cardiobot/internal/generator"
	"github.com/avelkov/cardiobot/internal/pipeline"
	"github.com/avelkov/cardiobot/internal/rag"
	"github.com/avelkov/cardiobot/internal/store"
)

// ragComponents bundles the wiring shared by the ask, bot, and serve
// commands: the embedder, the Qdrant store, and the answering pipeline
// built on top of them.
type ragComponents struct {
	embedder rag.Embedder
	store    *rag.QdrantStore
	pipeline *pipeline.Pipeline
	// close releases the Qdrant connection.
	close func()
}

// buildStore connects to Qdrant using the QDRANT_* environment variables.
func buildStore(ctx context.Context) (*rag.QdrantStore, error) {
	host := getEnvOrDefault("QDRANT_HOST", "localhost")
	port := getEnvInt("QDRANT_PORT", 6334)
	collection := getEnvOrDefault("QDRANT_COLLECTION", "cardiology")
	vectorSize := uint64(embedder.DefaultDimensions(embedder.Backend())) //nolint:gosec // dimensions are bounded

	qs, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
		Host:       host,
		Port:       port,
		Collection: collection,
		VectorSize: vectorSize,
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", host, port, err)
	}
	return qs, nil
}

// buildPipeline wires the full answering stack from environment config: the
// embedder, the Qdrant store, the retriever, and the generator around the
// given chat model.
func buildPipeline(ctx context.Context, log *slog.Logger, chatModel model.BaseChatModel) (*ragComponents, error) {
	if err := embedder.Validate(log); err != nil {
		return nil, err
	}

	emb, err := embedder.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}

	qs, err := buildStore(ctx)
	if err != nil {
		return nil, err
	}

	topK := getEnvInt("RAG_TOP_K", 5)
	threshold := getEnvFloat32("RAG_SIMILARITY_THRESHOLD", 0.3)

	retriever, err := rag.NewRetriever(emb, qs, topK, threshold)
	if err != nil {
		qs.Close()
		return nil, fmt.Errorf("failed to create retriever: %w", err)
	}

	gen, err := generator.New(chatModel, generator.Config{
		Temperature: getEnvFloat32("MODEL_TEMPERATURE", 0.3),
		MaxTokens:   getEnvInt("MODEL_MAX_TOKENS", 2048),
		TopP:        getEnvFloat32("MODEL_TOP_P", 0.95),
	})
	if err != nil {
		qs.Close()
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}

	p, err := pipeline.New(retriever, qs, pipeline.WrapGenerator(gen), pipeline.Config{
		TopK:                topK,
		SimilarityThreshold: threshold,
		MaxPromptChars:      getEnvInt("RAG_MAX_PROMPT_CHARS", 0),
	})
	if err != nil {
		qs.Close()
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	return &ragComponents{
		embedder: emb,
		store:    qs,
		pipeline: p,
		close:    func() { _ = qs.Close() },
	}, nil
}

// openHistory opens the conversation history store. CARDIOBOT_HISTORY_DB
// overrides the default path (~/.cardiobot/history.db); the value "disabled"
// turns history off. Failures degrade to stateless conversations.
func openHistory(log *slog.Logger) (store.ConversationStore, func()) {
	dbPath := os.Getenv("CARDIOBOT_HISTORY_DB")
	if dbPath == "disabled" {
		log.Info("history: disabled via CARDIOBOT_HISTORY_DB=disabled")
		return nil, func() {}
	}
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil, func() {}
		}
	}
	hs, err := store.Open(dbPath)
	if err != nil {
		log.Warn("history: failed to open store, disabling", slog.Any("error", err))
		return nil, func() {}
	}
	log.Info("history: store opened", slog.String("path", dbPath))
	return hs, func() { _ = hs.Close() }
}

// llmModelName returns the display name of the configured chat model.
func llmModelName() string {
	switch getEnvOrDefault("MODEL_PROVIDER", "gemini") {
	case "openai":
		return getEnvOrDefault("OPENAI_MODEL", "gpt-4o")
	case "azure":
		return getEnvOrDefault("AZURE_OPENAI_DEPLOYMENT", "unknown")
	case "ollama":
		return getEnvOrDefault("OLLAMA_MODEL", "llama3")
	default:
		return getEnvOrDefault("GEMINI_MODEL", "gemini-2.5-flash")
	}
}

// embeddingModelName returns the display name of the configured embedding model.
func embeddingModelName() string {
	if m := os.Getenv("EMBEDDING_MODEL"); m != "" {
		return m
	}
	switch embedder.Backend() {
	case "openai":
		return "text-embedding-3-small"
	case "ollama":
		return "nomic-embed-text"
	default:
		return "text-embedding-004"
	}
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvFloat32 returns the float32 value of the named environment variable,
// or fallback if the variable is unset, empty, or not parseable.
func getEnvFloat32(key string, fallback float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return fallback
}
