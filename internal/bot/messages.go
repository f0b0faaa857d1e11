package bot

import (
	"fmt"
	"strings"

	"github.com/avelkov/cardiobot/internal/pipeline"
	"github.com/avelkov/cardiobot/internal/stats"
)

// telegramMessageLimit is Telegram's maximum message length in characters.
const telegramMessageLimit = 4096

const greetingText = `👋 Welcome to the Cardiology Assistant!

I answer questions about cardiovascular medicine using a cardiology handbook. Just send me your question in plain text.

Type /help to see what I can do.

⚠️ I provide educational information only. For medical advice, always consult a healthcare professional.`

const helpText = `🏥 Cardiology Assistant Help

What I can do:
• Answer questions about cardiovascular medicine
• Provide information from the cardiology handbook
• Explain medical terms and conditions
• Discuss treatment approaches

How to use:
Just send me your question in plain text!

Example questions:
• "What is atrial fibrillation?"
• "Explain the symptoms of heart failure"
• "What are the risk factors for coronary artery disease?"

Commands:
/start - Start the bot
/help - Show this help message
/clear - Clear conversation history
/stats - View bot statistics

Important:
⚠️ This bot provides educational information only.
For medical advice, always consult healthcare professionals.
In emergencies, call emergency services immediately!`

const clearedText = "✅ Conversation history cleared!"

// genericErrorText is the only error surface users ever see; internal
// detail stays in the logs.
const genericErrorText = "❌ Sorry, I encountered an error processing your question. Please try again or rephrase your question."

const contentBlockedText = "⚠️ I can't answer that question. Please try rephrasing it, or ask something else about cardiology."

// formatStats renders the /stats reply.
func formatStats(c *stats.Counters, ps *pipeline.Stats, llmModel, embeddingModel string) string {
	uptime := c.Uptime()
	hours := int(uptime.Hours())
	minutes := int(uptime.Minutes()) % 60

	return fmt.Sprintf(`📊 Bot Statistics

Usage:
• Total queries: %d
• Total users: %d
• Uptime: %dh %dm

RAG System:
• Chunks indexed: %d
• Embedding model: %s
• LLM model: %s
• Retrieval top-K: %d`,
		c.QueryCount(), c.UserCount(), hours, minutes,
		ps.IndexedChunks, embeddingModel, llmModel, ps.TopK)
}

// answerFooter tags each answer with how much supporting material backed it.
func answerFooter(retrieved int) string {
	return fmt.Sprintf("\n\n_Retrieved from %d relevant sections_", retrieved)
}

// splitMessage cuts text into pieces that fit Telegram's message limit,
// splitting on rune boundaries and preferring newlines near the cut.
func splitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = telegramMessageLimit
	}

	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var parts []string
	for len(runes) > limit {
		cut := limit
		// Prefer a newline in the tail quarter of the window.
		for i := limit; i > limit*3/4; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
