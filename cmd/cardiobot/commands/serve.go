package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/avelkov/cardiobot/internal/embedder"
	"github.com/avelkov/cardiobot/internal/logging"
	"github.com/avelkov/cardiobot/internal/provider"
	"github.com/avelkov/cardiobot/internal/server"
	"github.com/avelkov/cardiobot/internal/stats"
	"github.com/avelkov/cardiobot/internal/tracing"
)

// NewServeCmd constructs the `cardiobot serve` command, which starts the
// HTTP API server.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the cardiobot HTTP API server",
		Long: `Start the cardiobot HTTP server on localhost.

The server exposes a REST/SSE API for answering questions from the indexed
handbook, plus health, readiness, statistics, and Prometheus metrics
endpoints. Protect the API with a Bearer token via CARDIOBOT_API_KEY.

Examples:
  cardiobot serve
  cardiobot serve --port 9090
  CARDIOBOT_API_KEY=secret cardiobot serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", getEnvOrDefault("MODEL_PROVIDER", "gemini")))

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}

			rc, err := buildPipeline(ctx, log, chatModel)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer rc.close()

			registry := prometheus.NewRegistry()
			counters := stats.New(registry)

			pingers := []server.Pinger{
				server.NewQdrantPinger(rc.store.Client()),
				server.NewEmbedderPinger(rc.embedder, embedder.Backend()),
			}

			srv, err := server.New(rc.pipeline, &server.Config{
				Host:            host,
				Port:            port,
				Logger:          log,
				Pingers:         pingers,
				APIKey:          os.Getenv("CARDIOBOT_API_KEY"),
				Counters:        counters,
				MetricsRegistry: registry,
				MetricsGatherer: registry,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
