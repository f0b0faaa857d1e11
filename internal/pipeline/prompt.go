package pipeline

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/avelkov/cardiobot/internal/rag"
)

// systemPrompt fixes the assistant's persona and grounding policy. Answers
// must come from the supplied handbook excerpts, and medical content always
// carries a professional-consultation disclaimer.
const systemPrompt = `You are a medical assistant specializing in cardiology. You answer questions using excerpts from a cardiology handbook.

Rules:
- Answer ONLY from the provided context. If the context does not contain the answer, say so plainly instead of guessing.
- Cite the context entries you used (e.g. "per Context 1").
- Keep answers clear and clinically precise.
- End every answer that touches on diagnosis, treatment, or medication with: "This information is educational. Always consult a qualified healthcare professional for medical advice."`

// queryTemplate composes the retrieved context and the user's question into
// the final user message.
const queryTemplate = `Context from the cardiology handbook:

%s

Question: %s`

// noContextMessage replaces the context block when retrieval finds nothing
// above the similarity threshold. The model is expected to tell the user the
// handbook has no relevant material.
const noContextMessage = "No relevant context found in the handbook."

// FormatContext renders retrieved documents into the numbered context block
// used by the prompt. Each entry is tagged with its page and relevance so
// the model can cite it. An empty document set yields the no-context marker.
func FormatContext(docs []rag.Document) string {
	if len(docs) == 0 {
		return noContextMessage
	}

	parts := make([]string, 0, len(docs))
	for i, doc := range docs {
		page := "Unknown"
		if doc.Page > 0 {
			page = fmt.Sprintf("%d", doc.Page)
		}
		parts = append(parts, fmt.Sprintf("[Context %d] (Page %s, Relevance: %.2f)\n%s\n", i+1, page, doc.Score, doc.Content))
	}
	return strings.Join(parts, "\n")
}

// BuildMessages assembles the full message slice for generation:
// system prompt, trimmed conversation history, then the context-bearing
// user message.
func BuildMessages(question, context string, history []*schema.Message) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history)+2)
	messages = append(messages, schema.SystemMessage(systemPrompt))
	messages = append(messages, history...)
	messages = append(messages, schema.UserMessage(fmt.Sprintf(queryTemplate, context, question)))
	return messages
}
