package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/avelkov/cardiobot/internal/bot"
	"github.com/avelkov/cardiobot/internal/logging"
	"github.com/avelkov/cardiobot/internal/provider"
	"github.com/avelkov/cardiobot/internal/stats"
	"github.com/avelkov/cardiobot/internal/tracing"
)

// NewBotCmd constructs the `cardiobot bot` command, which runs the Telegram
// bot with long polling until interrupted.
func NewBotCmd() *cobra.Command {
	var streaming bool

	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Run the Telegram bot",
		Long: `Run the cardiology assistant as a Telegram bot.

The bot answers free-text questions from the indexed handbook, keeps
per-user conversation history in SQLite, and supports the /start, /help,
/clear, and /stats commands.

Required environment variables:
  TELEGRAM_BOT_TOKEN   Bot token from @BotFather
  GOOGLE_API_KEY       Gemini API key (or provider-specific equivalent)

Examples:
  cardiobot bot
  cardiobot bot --streaming
  BOT_STREAMING=true cardiobot bot`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			token := os.Getenv("TELEGRAM_BOT_TOKEN")
			if token == "" {
				return fmt.Errorf("bot: TELEGRAM_BOT_TOKEN is required")
			}

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			}

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("bot: failed to initialise model provider: %w", err)
			}
			log.Info("provider initialised", slog.String("provider", getEnvOrDefault("MODEL_PROVIDER", "gemini")))

			rc, err := buildPipeline(ctx, log, chatModel)
			if err != nil {
				return fmt.Errorf("bot: %w", err)
			}
			defer rc.close()

			history, closeHistory := openHistory(log)
			defer closeHistory()

			api, err := tgbotapi.NewBotAPI(token)
			if err != nil {
				return fmt.Errorf("bot: failed to connect to Telegram: %w", err)
			}
			log.Info("telegram connected", slog.String("username", api.Self.UserName))

			if !cmd.Flags().Changed("streaming") {
				streaming = os.Getenv("BOT_STREAMING") == "true"
			}

			counters := stats.New(prometheus.NewRegistry())

			b, err := bot.New(api, rc.pipeline, history, counters, bot.Config{
				Streaming:      streaming,
				HistoryDepth:   getEnvInt("BOT_HISTORY_DEPTH", 10),
				LLMModel:       llmModelName(),
				EmbeddingModel: embeddingModelName(),
			})
			if err != nil {
				return fmt.Errorf("bot: %w", err)
			}

			u := tgbotapi.NewUpdate(0)
			u.Timeout = 30
			updates := api.GetUpdatesChan(u)

			log.Info("bot started", slog.Bool("streaming", streaming))
			return b.Run(ctx, updates)
		},
	}

	cmd.Flags().BoolVar(&streaming, "streaming", false, "Stream answers via message edits")

	return cmd
}
