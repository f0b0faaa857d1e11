package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/avelkov/cardiobot/internal/embedder"
	"github.com/avelkov/cardiobot/internal/extract"
	"github.com/avelkov/cardiobot/internal/ingestion"
	"github.com/avelkov/cardiobot/internal/logging"
)

// NewIngestCmd constructs the `cardiobot ingest` command, which extracts,
// chunks, embeds, and indexes handbook PDFs into the Qdrant vector store.
func NewIngestCmd() *cobra.Command {
	var chunkSize int
	var chunkOverlap int

	cmd := &cobra.Command{
		Use:   "ingest <file.pdf> [file.pdf...]",
		Short: "Ingest handbook PDFs into the RAG vector store",
		Long: `Extract text from handbook PDFs and index it into the Qdrant vector store.

Each PDF is split into overlapping chunks, embedded, and upserted with
deterministic IDs, so re-ingesting the same file updates it in place
instead of duplicating it.

Required environment variables:
  QDRANT_HOST          Qdrant server hostname (default: localhost)
  QDRANT_PORT          Qdrant gRPC port (default: 6334)
  QDRANT_COLLECTION    Collection name (default: cardiology)
  QDRANT_API_KEY       Optional API key for authenticated clusters
  EMBEDDING_PROVIDER   Embedding backend: gemini, openai, ollama (default: gemini)
  EMBEDDING_*          Provider-specific overrides (see README)

Examples:
  cardiobot ingest handbook.pdf
  cardiobot ingest --chunk-size 1000 --chunk-overlap 250 vol1.pdf vol2.pdf`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			for _, path := range args {
				if _, err := os.Stat(path); err != nil {
					return fmt.Errorf("ingest: cannot read %s: %w", path, err)
				}
			}

			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			emb, err := embedder.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ingest: failed to initialise embedder: %w", err)
			}
			log.Info("embedder initialised", slog.String("provider", embedder.Backend()))

			qs, err := buildStore(ctx)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer qs.Close()
			log.Info("qdrant store ready",
				slog.String("collection", getEnvOrDefault("QDRANT_COLLECTION", "cardiology")))

			if !cmd.Flags().Changed("chunk-size") {
				chunkSize = getEnvInt("RAG_CHUNK_SIZE", chunkSize)
			}
			if !cmd.Flags().Changed("chunk-overlap") {
				chunkOverlap = getEnvInt("RAG_CHUNK_OVERLAP", chunkOverlap)
			}

			pipe, err := ingestion.NewPipeline(extract.New(), emb, qs, &ingestion.Config{
				ChunkSize:    chunkSize,
				ChunkOverlap: chunkOverlap,
			})
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			log.Info("starting ingestion",
				slog.Int("files", len(args)),
				slog.Int("chunk_size", chunkSize),
				slog.Int("chunk_overlap", chunkOverlap),
			)

			total, err := pipe.Ingest(ctx, args, func(msg string) {
				log.Info(msg)
			})
			if err != nil {
				return fmt.Errorf("ingest: pipeline failed after %d chunks: %w", total, err)
			}

			log.Info("ingestion complete", slog.Int("chunks", total), slog.Int("files", len(args)))
			return nil
		},
	}

	cmd.Flags().IntVar(&chunkSize, "chunk-size", 800, "Target chunk length in characters")
	cmd.Flags().IntVar(&chunkOverlap, "chunk-overlap", 200, "Overlap between consecutive chunks in characters")

	return cmd
}
