package terminal

import (
	"context"
	"strings"

	"github.com/opsforge/opsforge/pkg/llm"
	"github.com/opsforge/opsforge/pkg/models"
)

const maxAIResults = 5

// Assistant produces AI completions and answers for the terminal. Nil is a
// valid configuration; the relay then serves local suggestions only.
type Assistant interface {
	Suggest(ctx context.Context, partial string, history []string) ([]string, error)
	Answer(ctx context.Context, question string, history []string) (string, error)
}

// LLMAssistant answers over an llm.Client.
type LLMAssistant struct {
	client llm.Client
	model  string
}

// NewLLMAssistant builds an Assistant over client.
func NewLLMAssistant(client llm.Client, model string) *LLMAssistant {
	return &LLMAssistant{client: client, model: model}
}

// Suggest returns up to five shell command completions for a partial input.
func (a *LLMAssistant) Suggest(ctx context.Context, partial string, history []string) ([]string, error) {
	prompt := "Partial command: " + partial
	if len(history) > 0 {
		prompt += "\nRecent commands:\n" + strings.Join(history, "\n")
	}

	text, err := a.complete(ctx, &llm.Request{
		Model:     a.model,
		System:    "Complete the user's partial shell command for a Linux server. Reply with up to 5 full command suggestions, one per line, no numbering, no commentary.",
		MaxTokens: 256,
		Messages:  []llm.Message{{Role: models.RoleUser, Content: prompt}},
	})
	if err != nil {
		return nil, err
	}

	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "- "))
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == maxAIResults {
			break
		}
	}
	return out, nil
}

// Answer gives a short answer to a terminal question.
func (a *LLMAssistant) Answer(ctx context.Context, question string, history []string) (string, error) {
	prompt := question
	if len(history) > 0 {
		prompt += "\n\nRecent terminal commands for context:\n" + strings.Join(history, "\n")
	}
	return a.complete(ctx, &llm.Request{
		Model:     a.model,
		System:    "You are helping a user working in a Linux server terminal. Answer briefly and concretely; show commands when useful.",
		MaxTokens: 1024,
		Messages:  []llm.Message{{Role: models.RoleUser, Content: prompt}},
	})
}

func (a *LLMAssistant) complete(ctx context.Context, req *llm.Request) (string, error) {
	ch, err := a.client.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for chunk := range ch {
		if chunk.Error != nil {
			return "", chunk.Error
		}
		b.WriteString(chunk.Text)
	}
	return strings.TrimSpace(b.String()), nil
}
