// Package agentloop runs the streaming agent conversation: prompt assembly,
// iterative tool use through the dispatcher, memory compression, and usage
// accounting. Output goes to a stream.Sink frame by frame.
package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opsforge/opsforge/pkg/dispatch"
	"github.com/opsforge/opsforge/pkg/llm"
	"github.com/opsforge/opsforge/pkg/models"
	"github.com/opsforge/opsforge/pkg/research"
	"github.com/opsforge/opsforge/pkg/sshexec"
	"github.com/opsforge/opsforge/pkg/store"
	"github.com/opsforge/opsforge/pkg/stream"
	"github.com/opsforge/opsforge/pkg/tools"
	"github.com/opsforge/opsforge/pkg/vault"
)

const (
	maxIterations     = 10
	recentCommandRows = 10
)

// Request is one chat turn from the client.
type Request struct {
	UserID         string   `json:"userId"`
	Content        string   `json:"content"`
	ConversationID string   `json:"conversationId,omitempty"`
	ServerID       string   `json:"serverId"`
	Model          string   `json:"model,omitempty"`
	EnableThinking bool     `json:"enableThinking,omitempty"`
	EnableResearch bool     `json:"enableResearch,omitempty"`
	Attachments    []string `json:"attachments,omitempty"`
}

// Config wires a Loop. ServerVault opens server credentials (GCM),
// APIKeyVault opens user provider keys (CBC). NewClient builds an LLM client
// for a resolved key; nil selects the Anthropic client.
type Config struct {
	Store       store.Store
	Catalog     *tools.Catalog
	Dispatcher  *dispatch.Dispatcher
	Research    *research.Gateway
	ServerVault *vault.Vault
	APIKeyVault *vault.Vault

	NewClient func(apiKey string) (llm.Client, error)

	// Environment fallbacks when the user has no stored key.
	AnthropicKey  string
	PerplexityKey string

	Logger *slog.Logger
}

// Loop executes agent conversations.
type Loop struct {
	store         store.Store
	catalog       *tools.Catalog
	dispatcher    *dispatch.Dispatcher
	research      *research.Gateway
	serverVault   *vault.Vault
	apiKeyVault   *vault.Vault
	newClient     func(apiKey string) (llm.Client, error)
	anthropicKey  string
	perplexityKey string
	logger        *slog.Logger
}

// New builds a Loop from cfg.
func New(cfg Config) *Loop {
	newClient := cfg.NewClient
	if newClient == nil {
		newClient = func(apiKey string) (llm.Client, error) { return llm.NewAnthropic(apiKey) }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		store:         cfg.Store,
		catalog:       cfg.Catalog,
		dispatcher:    cfg.Dispatcher,
		research:      cfg.Research,
		serverVault:   cfg.ServerVault,
		apiKeyVault:   cfg.APIKeyVault,
		newClient:     newClient,
		anthropicKey:  cfg.AnthropicKey,
		perplexityKey: cfg.PerplexityKey,
		logger:        logger,
	}
}

// Run executes one agent turn, streaming frames to sink. The sink is always
// ended. Errors that occur after streaming has started are emitted as error
// frames as well as returned.
func (l *Loop) Run(ctx context.Context, req Request, sink stream.Sink) error {
	defer sink.End()

	err := l.run(ctx, req, sink)
	if err != nil {
		_ = sink.Emit(Frame{Error: err.Error()})
	}
	return err
}

func (l *Loop) run(ctx context.Context, req Request, sink stream.Sink) error {
	anthropicKey, perplexityKey := l.resolveKeys(ctx, req.UserID)
	if anthropicKey == "" {
		return errors.New("no Anthropic API key configured for this user")
	}
	client, err := l.newClient(anthropicKey)
	if err != nil {
		return fmt.Errorf("llm client: %w", err)
	}

	server, err := l.store.GetServer(ctx, req.ServerID)
	if err != nil {
		return fmt.Errorf("server %s: %w", req.ServerID, err)
	}
	conn, err := l.connection(server)
	if err != nil {
		return err
	}

	conv, err := l.resolveConversation(ctx, req)
	if err != nil {
		return err
	}
	if err := sink.Emit(Frame{ConversationID: conv.ID}); err != nil {
		return err
	}

	if _, err := l.store.AppendMessage(ctx, models.CreateMessageRequest{
		ConversationID: conv.ID,
		Role:           models.RoleUser,
		Content:        withAttachmentMarkers(req.Content, req.Attachments),
		Attachments:    req.Attachments,
	}); err != nil {
		return fmt.Errorf("persist user message: %w", err)
	}

	var researchBlock string
	if req.EnableResearch && perplexityKey != "" {
		_ = sink.Emit(Frame{Status: "researching"})
		researchBlock = l.research.Search(ctx, perplexityKey, req.UserID, req.Content).Block()
	}

	gh, err := l.store.GetGitHubIntegration(ctx, req.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("github integration: %w", err)
	}
	recent, err := l.store.ListCommandHistory(ctx, req.UserID, req.ServerID, recentCommandRows)
	if err != nil {
		recent = nil
	}
	system := buildSystemPrompt(server, gh, recent, researchBlock)

	stored, err := l.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	usage := &usageTally{}
	history := historyMessages(stored)
	history = l.compress(ctx, client, req.Model, conv.ID, history, usage)
	history = trimToBudget(system, history)

	state := &turnState{}
	tc := dispatch.Context{UserID: req.UserID, ServerID: req.ServerID, Conn: conn}
	err = l.iterate(ctx, client, req, tc, system, history, sink, state, usage)

	// Usage is recorded even when the turn failed mid-iteration: tokens were
	// consumed either way.
	l.recordUsage(ctx, req, conv.ID, usage)
	if err != nil {
		return err
	}

	if state.pendingApproval {
		l.persistAssistant(ctx, conv.ID, state, true)
		_ = sink.Emit(Frame{Done: true, PendingApproval: true, ConversationID: conv.ID, Mode: string(models.ModeAgent), ToolsUsed: state.toolsUsed, Iterations: state.iterations})
		return nil
	}

	l.persistAssistant(ctx, conv.ID, state, false)
	return sink.Emit(Frame{Done: true, ConversationID: conv.ID, Mode: string(models.ModeAgent), ToolsUsed: state.toolsUsed, Iterations: state.iterations})
}

// turnState accumulates one turn across iterations.
type turnState struct {
	response        strings.Builder
	toolsUsed       []string
	iterations      int
	hasThinking     bool
	pendingApproval bool
}

func (s *turnState) markTool(name string) {
	for _, used := range s.toolsUsed {
		if used == name {
			return
		}
	}
	s.toolsUsed = append(s.toolsUsed, name)
}

func (l *Loop) iterate(ctx context.Context, client llm.Client, req Request, tc dispatch.Context, system string, history []llm.Message, sink stream.Sink, state *turnState, usage *usageTally) error {
	llmTools := catalogTools(l.catalog)

	for state.iterations < maxIterations {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		state.iterations++

		ch, err := client.Stream(ctx, &llm.Request{
			Model:          req.Model,
			System:         system,
			Messages:       history,
			Tools:          llmTools,
			EnableThinking: req.EnableThinking,
		})
		if err != nil {
			return fmt.Errorf("llm stream: %w", err)
		}

		var iterText strings.Builder
		var toolCalls []llm.ToolCall
		for chunk := range ch {
			switch {
			case chunk.Error != nil:
				return chunk.Error
			case chunk.Text != "":
				iterText.WriteString(chunk.Text)
				if err := sink.Emit(Frame{Content: chunk.Text}); err != nil {
					return err
				}
			case chunk.Thinking != "":
				state.hasThinking = true
				_ = sink.Emit(Frame{Thinking: chunk.Thinking})
			case chunk.ToolCall != nil:
				toolCalls = append(toolCalls, *chunk.ToolCall)
			case chunk.Done:
				usage.add(chunk.InputTokens, chunk.OutputTokens)
			}
		}
		state.response.WriteString(iterText.String())

		if len(toolCalls) == 0 {
			return nil
		}

		history = append(history, llm.Message{
			Role:      models.RoleAssistant,
			Content:   iterText.String(),
			ToolCalls: toolCalls,
		})

		results := make([]llm.ToolResult, 0, len(toolCalls))
		for _, call := range toolCalls {
			input := decodeInput(call.Input)
			state.markTool(call.Name)
			_ = sink.Emit(Frame{ToolCall: &ToolCallFrame{
				ID: call.ID, Name: call.Name, Input: input, Status: toolStatusExecuting,
			}})

			res := l.dispatcher.Execute(ctx, dispatch.Call{Name: call.Name, Input: input}, tc)

			if res.RequiresApproval {
				_ = sink.Emit(Frame{ToolCall: &ToolCallFrame{
					ID:             call.ID,
					Name:           call.Name,
					Status:         toolStatusRequiresApproval,
					PendingCommand: res.PendingCommand,
					Mac:            res.Mac,
					Message:        res.Error,
				}})
				state.pendingApproval = true
				return nil
			}

			status := toolStatusSuccess
			if !res.Success {
				status = toolStatusError
			}
			_ = sink.Emit(Frame{ToolCall: &ToolCallFrame{
				ID:            call.ID,
				Name:          call.Name,
				Status:        status,
				DurationMS:    res.Duration.Milliseconds(),
				OutputPreview: res.Preview(),
			}})

			content := res.Output
			if content == "" && res.Error != "" {
				content = res.Error
			}
			results = append(results, llm.ToolResult{
				ToolCallID: call.ID,
				Content:    content,
				IsError:    !res.Success,
			})
		}

		history = append(history, llm.Message{Role: models.RoleUser, ToolResults: results})
	}
	return nil
}

func (l *Loop) resolveConversation(ctx context.Context, req Request) (*models.Conversation, error) {
	if req.ConversationID != "" {
		conv, err := l.store.GetConversation(ctx, req.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("conversation %s: %w", req.ConversationID, err)
		}
		return conv, nil
	}

	title := req.Content
	if len(title) > 60 {
		title = title[:60]
	}
	conv := &models.Conversation{
		UserID:      req.UserID,
		VPSServerID: &req.ServerID,
		Title:       title,
		Mode:        models.ModeAgent,
		IsActive:    true,
	}
	if err := l.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// resolveKeys reads the user's sealed provider keys, falling back to the
// process environment. Decryption failures fall through to the fallback; a
// stale ciphertext should not lock the user out entirely.
func (l *Loop) resolveKeys(ctx context.Context, userID string) (anthropic, perplexity string) {
	anthropic, perplexity = l.anthropicKey, l.perplexityKey

	settings, err := l.store.GetUserSettings(ctx, userID)
	if err != nil {
		return anthropic, perplexity
	}
	if settings.EncryptedAnthropicKey != "" {
		if key, err := l.apiKeyVault.DecryptCBC(settings.EncryptedAnthropicKey); err == nil {
			anthropic = key
		}
	}
	if settings.EncryptedPerplexityKey != "" {
		if key, err := l.apiKeyVault.DecryptCBC(settings.EncryptedPerplexityKey); err == nil {
			perplexity = key
		}
	}
	return anthropic, perplexity
}

func (l *Loop) connection(server *models.Server) (sshexec.ServerConnection, error) {
	credential, err := l.serverVault.DecryptGCM(server.EncryptedCredential)
	if err != nil {
		return sshexec.ServerConnection{}, fmt.Errorf("open server credential: %w", err)
	}
	conn := sshexec.ServerConnection{
		Host:     server.Host,
		Port:     server.Port,
		Username: server.Username,
	}
	if server.AuthMethod == models.AuthMethodKey {
		conn.PrivateKey = credential
	} else {
		conn.Password = credential
	}
	return conn, nil
}

func (l *Loop) persistAssistant(ctx context.Context, conversationID string, state *turnState, pending bool) {
	content := state.response.String()
	if content == "" && pending {
		content = "Awaiting approval before continuing."
	}
	_, err := l.store.AppendMessage(ctx, models.CreateMessageRequest{
		ConversationID: conversationID,
		Role:           models.RoleAssistant,
		Content:        content,
		Metadata: &models.MessageMetadata{
			Mode:            models.ModeAgent,
			ToolsUsed:       state.toolsUsed,
			Iterations:      state.iterations,
			HasThinking:     state.hasThinking,
			PendingApproval: pending,
		},
	})
	if err != nil {
		l.logger.Warn("assistant message persist failed", "conversation_id", conversationID, "error", err)
	}
}

func (l *Loop) recordUsage(ctx context.Context, req Request, conversationID string, usage *usageTally) {
	if usage.input+usage.output == 0 {
		return
	}
	model := req.Model
	if model == "" {
		model = llm.DefaultModel
	}
	err := l.store.AppendAPIUsage(ctx, &models.APIUsage{
		UserID:         req.UserID,
		ConversationID: &conversationID,
		Model:          model,
		InputTokens:    usage.input,
		OutputTokens:   usage.output,
		TotalTokens:    usage.input + usage.output,
		EstimatedCost:  llm.EstimateCost(model, usage.input, usage.output),
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		l.logger.Warn("usage append failed", "conversation_id", conversationID, "error", err)
	}
}

func catalogTools(catalog *tools.Catalog) []llm.Tool {
	defs := catalog.Definitions()
	out := make([]llm.Tool, len(defs))
	for i, def := range defs {
		out[i] = llm.Tool{Name: def.Name, Description: def.Description, InputSchema: def.InputSchema}
	}
	return out
}

func decodeInput(raw json.RawMessage) map[string]any {
	input := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &input)
	}
	return input
}
