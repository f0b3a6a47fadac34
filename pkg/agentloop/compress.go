package agentloop

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opsforge/opsforge/pkg/llm"
	"github.com/opsforge/opsforge/pkg/models"
)

const (
	// compressionThreshold is the live-history length that triggers
	// summarisation; keepRecent messages survive verbatim.
	compressionThreshold = 50
	keepRecent           = 10

	// tokenBudget bounds the estimated prompt size sent to the model.
	tokenBudget = 100_000
)

// historyMessages maps stored conversation turns to LLM messages. System
// rows are bookkeeping and never replayed.
func historyMessages(stored []*models.Message) []llm.Message {
	out := make([]llm.Message, 0, len(stored))
	for _, msg := range stored {
		if msg.Role == models.RoleSystem || msg.Content == "" {
			continue
		}
		out = append(out, llm.Message{Role: msg.Role, Content: msg.Content})
	}
	return out
}

// compress folds all but the last keepRecent messages into an LLM-written
// summary, persists it as a ConversationSummary, and replaces the folded
// span with a synthetic user/assistant pair. On summarisation failure the
// history passes through untouched; the token trim still bounds it.
func (l *Loop) compress(ctx context.Context, client llm.Client, model, conversationID string, history []llm.Message, usage *usageTally) []llm.Message {
	if len(history) <= compressionThreshold {
		return history
	}

	cut := len(history) - keepRecent
	summary, err := l.summarize(ctx, client, model, history[:cut], usage)
	if err != nil || summary == "" {
		l.logger.Warn("conversation compression failed", "conversation_id", conversationID, "error", err)
		return history
	}

	record := &models.ConversationSummary{
		ConversationID: conversationID,
		Summary:        summary,
		MessageRange:   fmt.Sprintf("1-%d", cut),
		TokenCount:     llm.EstimateTokens(summary),
		CreatedAt:      time.Now().UTC(),
	}
	if err := l.store.AppendSummary(ctx, record); err != nil {
		l.logger.Warn("summary append failed", "conversation_id", conversationID, "error", err)
	}

	compressed := make([]llm.Message, 0, keepRecent+2)
	compressed = append(compressed,
		llm.Message{Role: models.RoleUser, Content: "Summary of our conversation so far:\n\n" + summary},
		llm.Message{Role: models.RoleAssistant, Content: "Understood. I have the context from the earlier conversation and will continue from there."},
	)
	return append(compressed, history[cut:]...)
}

func (l *Loop) summarize(ctx context.Context, client llm.Client, model string, span []llm.Message, usage *usageTally) (string, error) {
	var transcript strings.Builder
	for _, msg := range span {
		fmt.Fprintf(&transcript, "[%s] %s\n", msg.Role, msg.Content)
	}

	text, in, out, err := collect(ctx, client, &llm.Request{
		Model:  model,
		System: "Summarize this server-administration conversation. Preserve: server state changes made, commands run and their outcomes, open problems, and user preferences. Be dense and factual.",
		Messages: []llm.Message{
			{Role: models.RoleUser, Content: transcript.String()},
		},
		MaxTokens: 2048,
	})
	usage.add(in, out)
	return strings.TrimSpace(text), err
}

// collect drains a stream into its full text, returning token counts.
func collect(ctx context.Context, client llm.Client, req *llm.Request) (string, int, int, error) {
	ch, err := client.Stream(ctx, req)
	if err != nil {
		return "", 0, 0, err
	}
	var text strings.Builder
	var in, out int
	for chunk := range ch {
		if chunk.Error != nil {
			return text.String(), in, out, chunk.Error
		}
		text.WriteString(chunk.Text)
		if chunk.Done {
			in, out = chunk.InputTokens, chunk.OutputTokens
		}
	}
	return text.String(), in, out, nil
}

// trimToBudget drops the oldest messages until the estimated prompt fits.
// The newest message always survives.
func trimToBudget(system string, history []llm.Message) []llm.Message {
	total := llm.EstimateTokens(system)
	for _, msg := range history {
		total += messageTokens(msg)
	}
	for total > tokenBudget && len(history) > 1 {
		total -= messageTokens(history[0])
		history = history[1:]
	}
	return history
}

func messageTokens(msg llm.Message) int {
	n := llm.EstimateTokens(msg.Content)
	for _, tr := range msg.ToolResults {
		n += llm.EstimateTokens(tr.Content)
	}
	for _, tc := range msg.ToolCalls {
		n += llm.EstimateTokens(string(tc.Input))
	}
	return n
}

type usageTally struct {
	input  int
	output int
}

func (u *usageTally) add(in, out int) {
	u.input += in
	u.output += out
}
