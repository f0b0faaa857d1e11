// Package bot implements the Telegram chat adapter. It receives updates
// via long polling, dispatches commands, forwards free-text messages to
// the answering pipeline, and streams or sends the answer back within
// Telegram's message limits.
package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/avelkov/cardiobot/internal/generator"
	"github.com/avelkov/cardiobot/internal/logging"
	"github.com/avelkov/cardiobot/internal/pipeline"
	"github.com/avelkov/cardiobot/internal/stats"
	"github.com/avelkov/cardiobot/internal/store"
)

// sender is the slice of the Telegram API the bot uses. *tgbotapi.BotAPI
// satisfies it; tests substitute a recording fake.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Answerer is the slice of the pipeline the bot depends on.
type Answerer interface {
	Answer(ctx context.Context, question string, history []*schema.Message) (*pipeline.Result, error)
	AnswerStream(ctx context.Context, question string, history []*schema.Message) (*pipeline.StreamResult, error)
	Stats(ctx context.Context) (*pipeline.Stats, error)
}

// Config holds the chat adapter's settings.
type Config struct {
	// Streaming enables incremental answer delivery via message edits.
	Streaming bool

	// HistoryDepth is the number of past (question, answer) turns included
	// in the prompt (default: 10).
	HistoryDepth int

	// LLMModel and EmbeddingModel are display names for the /stats reply.
	LLMModel       string
	EmbeddingModel string
}

// Bot wires Telegram updates to the answering pipeline.
type Bot struct {
	api      sender
	answerer Answerer
	history  store.ConversationStore
	counters *stats.Counters
	cfg      Config

	// editThreshold and editInterval pace streaming edits so the bot stays
	// under Telegram's per-chat rate limit.
	editThreshold int
	editInterval  time.Duration
}

// New constructs a Bot. The history store may be nil, in which case
// conversations are stateless.
func New(api sender, answerer Answerer, history store.ConversationStore, counters *stats.Counters, cfg Config) (*Bot, error) {
	if api == nil {
		return nil, fmt.Errorf("bot: api must not be nil")
	}
	if answerer == nil {
		return nil, fmt.Errorf("bot: answerer must not be nil")
	}
	if counters == nil {
		return nil, fmt.Errorf("bot: counters must not be nil")
	}
	if cfg.HistoryDepth <= 0 {
		cfg.HistoryDepth = 10
	}
	return &Bot{
		api:           api,
		answerer:      answerer,
		history:       history,
		counters:      counters,
		cfg:           cfg,
		editThreshold: 100,
		editInterval:  time.Second,
	}, nil
}

// Run consumes updates until ctx is cancelled or the channel closes. Each
// update is handled in its own goroutine so one user's slow generation does
// not block the others.
func (b *Bot) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	if err := b.registerCommands(); err != nil {
		return err
	}
	logging.FromContext(ctx).Info("bot: polling for updates")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			go b.handleUpdate(ctx, update)
		}
	}
}

// registerCommands publishes the command menu shown in the Telegram UI.
func (b *Bot) registerCommands() error {
	cmds := tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{Command: "start", Description: "Start the bot"},
		tgbotapi.BotCommand{Command: "help", Description: "Get help"},
		tgbotapi.BotCommand{Command: "clear", Description: "Clear conversation history"},
		tgbotapi.BotCommand{Command: "stats", Description: "View statistics"},
	)
	if _, err := b.api.Request(cmds); err != nil {
		return fmt.Errorf("bot: setting commands: %w", err)
	}
	return nil
}

// handleUpdate dispatches a single update. Errors never propagate to the
// user beyond the generic failure message.
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Text == "" {
		return
	}
	log := logging.FromContext(ctx).With(slog.Int64("user_id", msg.From.ID))
	ctx = logging.WithLogger(ctx, log)

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}
	b.handleQuestion(ctx, msg)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	log := logging.FromContext(ctx)

	switch msg.Command() {
	case "start":
		log.Info("bot: /start", slog.String("username", msg.From.UserName))
		b.reply(ctx, msg.Chat.ID, greetingText)
	case "help":
		b.reply(ctx, msg.Chat.ID, helpText)
	case "clear":
		if b.history != nil {
			if err := b.history.Clear(ctx, msg.From.ID); err != nil {
				log.Error("bot: clearing history", slog.Any("error", err))
				b.reply(ctx, msg.Chat.ID, genericErrorText)
				return
			}
		}
		b.reply(ctx, msg.Chat.ID, clearedText)
	case "stats":
		ps, err := b.answerer.Stats(ctx)
		if err != nil {
			log.Error("bot: fetching stats", slog.Any("error", err))
			b.reply(ctx, msg.Chat.ID, genericErrorText)
			return
		}
		b.reply(ctx, msg.Chat.ID, formatStats(b.counters, ps, b.cfg.LLMModel, b.cfg.EmbeddingModel))
	default:
		b.reply(ctx, msg.Chat.ID, "Unknown command. Type /help to see what I can do.")
	}
}

// handleQuestion answers a free-text message through the pipeline.
func (b *Bot) handleQuestion(ctx context.Context, msg *tgbotapi.Message) {
	log := logging.FromContext(ctx)
	userID := msg.From.ID
	question := msg.Text

	log.Info("bot: question received", slog.Int("length", len(question)))

	// Typing indicator; best-effort.
	if _, err := b.api.Request(tgbotapi.NewChatAction(msg.Chat.ID, tgbotapi.ChatTyping)); err != nil {
		log.Debug("bot: chat action failed", slog.Any("error", err))
	}

	history := b.loadHistory(ctx, userID)

	var answer string
	var err error
	if b.cfg.Streaming {
		answer, err = b.streamAnswer(ctx, msg.Chat.ID, question, history)
	} else {
		answer, err = b.sendAnswer(ctx, msg.Chat.ID, question, history)
	}
	if err != nil {
		b.counters.RecordFailure(userID)
		log.Error("bot: answering failed", slog.Any("error", err))
		if errors.Is(err, generator.ErrContentBlocked) {
			b.reply(ctx, msg.Chat.ID, contentBlockedText)
		} else {
			b.reply(ctx, msg.Chat.ID, genericErrorText)
		}
		return
	}

	b.counters.RecordQuery(userID)
	b.saveTurn(ctx, userID, question, answer)
}

// loadHistory converts the user's stored turns into prompt messages.
func (b *Bot) loadHistory(ctx context.Context, userID int64) []*schema.Message {
	if b.history == nil {
		return nil
	}
	stored, err := b.history.Recent(ctx, userID, b.cfg.HistoryDepth*2)
	if err != nil {
		logging.FromContext(ctx).Warn("bot: loading history", slog.Any("error", err))
		return nil
	}
	msgs := make([]*schema.Message, 0, len(stored))
	for _, m := range stored {
		switch m.Role {
		case store.RoleUser:
			msgs = append(msgs, schema.UserMessage(m.Content))
		case store.RoleAssistant:
			msgs = append(msgs, schema.AssistantMessage(m.Content, nil))
		}
	}
	return msgs
}

// saveTurn persists a completed (question, answer) exchange.
func (b *Bot) saveTurn(ctx context.Context, userID int64, question, answer string) {
	if b.history == nil {
		return
	}
	log := logging.FromContext(ctx)
	if err := b.history.Append(ctx, userID, store.RoleUser, question); err != nil {
		log.Warn("bot: persisting question", slog.Any("error", err))
	}
	if err := b.history.Append(ctx, userID, store.RoleAssistant, answer); err != nil {
		log.Warn("bot: persisting answer", slog.Any("error", err))
	}
}

// sendAnswer runs the non-streaming pipeline and sends the full answer,
// split into Telegram-sized pieces.
func (b *Bot) sendAnswer(ctx context.Context, chatID int64, question string, history []*schema.Message) (string, error) {
	result, err := b.answerer.Answer(ctx, question, history)
	if err != nil {
		return "", err
	}

	response := result.Answer + answerFooter(result.Retrieved)
	for _, part := range splitMessage(response, telegramMessageLimit) {
		b.reply(ctx, chatID, part)
	}
	return result.Answer, nil
}

// streamAnswer runs the streaming pipeline and delivers the answer by
// editing a placeholder message as fragments arrive. Edits are paced to at
// most one per editInterval or editThreshold buffered characters; transient
// edit failures are ignored and retried on the next flush.
func (b *Bot) streamAnswer(ctx context.Context, chatID int64, question string, history []*schema.Message) (string, error) {
	result, err := b.answerer.AnswerStream(ctx, question, history)
	if err != nil {
		return "", err
	}
	defer result.Stream.Close()

	placeholder, err := b.api.Send(tgbotapi.NewMessage(chatID, "💭 Thinking..."))
	if err != nil {
		return "", fmt.Errorf("bot: sending placeholder: %w", err)
	}

	var full strings.Builder
	buffered := 0
	lastEdit := time.Now()

	for {
		frag, err := result.Stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		full.WriteString(frag)
		buffered += len(frag)

		if buffered >= b.editThreshold || time.Since(lastEdit) >= b.editInterval {
			b.editMessage(ctx, chatID, placeholder.MessageID, full.String())
			buffered = 0
			lastEdit = time.Now()
		}
	}

	answer := full.String()
	final := answer + answerFooter(result.Retrieved)
	parts := splitMessage(final, telegramMessageLimit)
	b.editMessage(ctx, chatID, placeholder.MessageID, parts[0])
	for _, part := range parts[1:] {
		b.reply(ctx, chatID, part)
	}
	return answer, nil
}

// reply sends a plain message, logging failures instead of surfacing them.
func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		logging.FromContext(ctx).Error("bot: sending message", slog.Any("error", err))
	}
}

// editMessage edits a previously sent message, ignoring failures. Telegram
// rejects edits with unchanged text; during streaming that is harmless.
func (b *Bot) editMessage(ctx context.Context, chatID int64, messageID int, text string) {
	if _, err := b.api.Send(tgbotapi.NewEditMessageText(chatID, messageID, text)); err != nil {
		logging.FromContext(ctx).Debug("bot: edit failed", slog.Any("error", err))
	}
}
