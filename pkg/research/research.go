// Package research adapts an external web-search completion API (Perplexity)
// for the agent loop. The gateway never fails the caller: a missing key or
// an upstream error yields an empty result, and the loop proceeds without a
// research block.
package research

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/opsforge/opsforge/pkg/llm"
	"github.com/opsforge/opsforge/pkg/models"
	"github.com/opsforge/opsforge/pkg/store"
)

const (
	defaultEndpoint = "https://api.perplexity.ai/chat/completions"

	// Model is the research model id recorded in the usage ledger.
	Model = "sonar"
)

// Result is a research answer with its source citations. Zero value means
// research was unavailable.
type Result struct {
	Answer    string
	Citations []string
}

// Empty reports whether the gateway produced nothing usable.
func (r Result) Empty() bool { return r.Answer == "" }

// Gateway queries Perplexity and records token usage.
type Gateway struct {
	endpoint string
	http     *http.Client
	store    store.Store
	logger   *slog.Logger
}

// New builds a Gateway. store may be nil when usage recording is not wanted.
func New(st store.Store, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		endpoint: defaultEndpoint,
		http:     &http.Client{Timeout: 45 * time.Second},
		store:    st,
		logger:   logger,
	}
}

// WithEndpoint points the gateway at a different URL. Test hook.
func (g *Gateway) WithEndpoint(url string) *Gateway {
	g.endpoint = url
	return g
}

// Search runs one research query with the user's key. Every failure path
// logs and returns an empty Result; the error contract of this gateway is
// "never throws".
func (g *Gateway) Search(ctx context.Context, apiKey, userID, query string) Result {
	if apiKey == "" || query == "" {
		return Result{}
	}

	body, err := json.Marshal(map[string]any{
		"model": Model,
		"messages": []map[string]string{
			{"role": "system", "content": "You are a research assistant for a server administrator. Answer concisely with current, factual information."},
			{"role": "user", "content": query},
		},
	})
	if err != nil {
		g.logger.Warn("research request marshal failed", slog.Any("error", err))
		return Result{}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		g.logger.Warn("research request build failed", slog.Any("error", err))
		return Result{}
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		g.logger.Warn("research request failed", slog.Any("error", err))
		return Result{}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		g.logger.Warn("research response read failed", slog.Any("error", err))
		return Result{}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.logger.Warn("research upstream error", slog.Int("status", resp.StatusCode))
		return Result{}
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Citations []string `json:"citations"`
		Usage     struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		g.logger.Warn("research response decode failed", slog.Any("error", err))
		return Result{}
	}
	if len(parsed.Choices) == 0 {
		return Result{}
	}

	g.recordUsage(ctx, userID, parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens)

	return Result{
		Answer:    parsed.Choices[0].Message.Content,
		Citations: parsed.Citations,
	}
}

func (g *Gateway) recordUsage(ctx context.Context, userID string, inTokens, outTokens int) {
	if g.store == nil || inTokens+outTokens == 0 {
		return
	}
	usage := &models.APIUsage{
		UserID:        userID,
		Model:         Model,
		InputTokens:   inTokens,
		OutputTokens:  outTokens,
		TotalTokens:   inTokens + outTokens,
		EstimatedCost: llm.EstimateCost(Model, inTokens, outTokens),
		CreatedAt:     time.Now().UTC(),
	}
	if err := g.store.AppendAPIUsage(ctx, usage); err != nil {
		g.logger.Warn("research usage append failed", slog.Any("error", err))
	}
}

// Block renders a research result as a system prompt section. Citations are
// listed so the model can surface sources to the user.
func (r Result) Block() string {
	if r.Empty() {
		return ""
	}
	out := "## Research findings\n" + r.Answer
	if len(r.Citations) > 0 {
		out += "\n\nSources:"
		for i, c := range r.Citations {
			out += fmt.Sprintf("\n[%d] %s", i+1, c)
		}
	}
	return out
}
