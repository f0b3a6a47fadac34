package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/opsforge/opsforge/pkg/models"
)

const (
	// DefaultModel is used when a request does not name one.
	DefaultModel = "claude-sonnet-4-20250514"

	defaultMaxTokens      = 8192
	defaultThinkingBudget = 10000

	// maxEmptyStreamEvents bounds consecutive no-op events before the
	// stream is treated as malformed.
	maxEmptyStreamEvents = 300
)

// Anthropic implements Client over the official SDK with streaming.
// Safe for concurrent use; each Stream call owns its goroutine.
type Anthropic struct {
	client     sdk.Client
	maxRetries int
	retryDelay time.Duration
}

// AnthropicOption customizes an Anthropic client.
type AnthropicOption func(*Anthropic)

// WithRetries overrides the retry count and base backoff delay.
func WithRetries(n int, delay time.Duration) AnthropicOption {
	return func(a *Anthropic) {
		a.maxRetries = n
		a.retryDelay = delay
	}
}

// NewAnthropic builds a client for the given API key. The key is held by
// the SDK client only and never logged.
func NewAnthropic(apiKey string, opts ...AnthropicOption) (*Anthropic, error) {
	if apiKey == "" {
		return nil, errors.New("llm: anthropic api key is required")
	}
	a := &Anthropic{
		client:     sdk.NewClient(option.WithAPIKey(apiKey)),
		maxRetries: 3,
		retryDelay: time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

var _ Client = (*Anthropic)(nil)

// Stream starts a streaming completion. Request creation errors are sent
// on the channel, never returned, so callers have a single consume path.
func (a *Anthropic) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	chunks := make(chan Chunk, 64)

	go func() {
		defer close(chunks)

		var stream *ssestream.Stream[sdk.MessageStreamEventUnion]
		var err error
		for attempt := 0; attempt <= a.maxRetries; attempt++ {
			stream, err = a.createStream(ctx, req)
			if err == nil {
				break
			}
			if !isRetryable(err) {
				chunks <- Chunk{Error: err}
				return
			}
			if attempt < a.maxRetries {
				backoff := a.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
				select {
				case <-ctx.Done():
					chunks <- Chunk{Error: ctx.Err()}
					return
				case <-time.After(backoff):
				}
			}
		}
		if err != nil {
			chunks <- Chunk{Error: fmt.Errorf("llm: retries exhausted: %w", err)}
			return
		}

		processStream(stream, chunks)
	}()

	return chunks, nil
}

func (a *Anthropic) createStream(ctx context.Context, req *Request) (*ssestream.Stream[sdk.MessageStreamEventUnion], error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}
	if req.EnableThinking {
		params.Thinking = sdk.ThinkingConfigParamOfEnabled(defaultThinkingBudget)
	}

	stream := a.client.Messages.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, err
	}
	return stream, nil
}

// processStream converts SDK stream events into chunks. Tool input JSON
// arrives as fragments across delta events and is assembled before the
// ToolCall chunk is emitted.
func processStream(stream *ssestream.Stream[sdk.MessageStreamEventUnion], chunks chan<- Chunk) {
	var currentToolCall *ToolCall
	var currentToolInput strings.Builder
	inThinkingBlock := false
	emptyEvents := 0

	var inputTokens, outputTokens int

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Usage.InputTokens > 0 {
				inputTokens = int(start.Message.Usage.InputTokens)
			}
			processed = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			switch block.Type {
			case "thinking":
				inThinkingBlock = true
				chunks <- Chunk{ThinkingStart: true}
				processed = true
			case "tool_use":
				toolUse := block.AsToolUse()
				currentToolCall = &ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentToolInput.Reset()
				processed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- Chunk{Text: delta.Text}
					processed = true
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					chunks <- Chunk{Thinking: delta.Thinking}
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentToolInput.WriteString(delta.PartialJSON)
					processed = true
				}
			}

		case "content_block_stop":
			if inThinkingBlock {
				chunks <- Chunk{ThinkingEnd: true}
				inThinkingBlock = false
				processed = true
			} else if currentToolCall != nil {
				input := currentToolInput.String()
				if input == "" {
					input = "{}"
				}
				currentToolCall.Input = json.RawMessage(input)
				chunks <- Chunk{ToolCall: currentToolCall}
				currentToolCall = nil
				processed = true
			}

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Usage.OutputTokens > 0 {
				outputTokens = int(delta.Usage.OutputTokens)
			}
			processed = true

		case "message_stop":
			chunks <- Chunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
			return

		case "error":
			chunks <- Chunk{Error: errors.New("llm: anthropic stream error")}
			return
		}

		if processed {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				chunks <- Chunk{Error: fmt.Errorf("llm: malformed stream: %d consecutive empty events", emptyEvents)}
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- Chunk{Error: err}
	}
}

func convertMessages(messages []Message) ([]sdk.MessageParam, error) {
	var result []sdk.MessageParam
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []sdk.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, sdk.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, sdk.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				return nil, fmt.Errorf("llm: invalid tool call input for %s: %w", tc.Name, err)
			}
			content = append(content, sdk.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, sdk.NewAssistantMessage(content...))
		} else {
			result = append(result, sdk.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertTools(tools []Tool) ([]sdk.ToolUnionParam, error) {
	var result []sdk.ToolUnionParam
	for _, tool := range tools {
		var schema sdk.ToolInputSchemaParam
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("llm: invalid tool schema for %s: %w", tool.Name, err)
		}
		param := sdk.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("llm: invalid tool schema for %s", tool.Name)
		}
		param.OfTool.Description = sdk.String(tool.Description)
		result = append(result, param)
	}
	return result, nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{
		"rate_limit", "429", "too many requests",
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"timeout", "deadline exceeded",
		"connection reset", "connection refused", "no such host",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
