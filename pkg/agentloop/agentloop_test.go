package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsforge/opsforge/pkg/dispatch"
	"github.com/opsforge/opsforge/pkg/llm"
	"github.com/opsforge/opsforge/pkg/models"
	"github.com/opsforge/opsforge/pkg/sshexec"
	"github.com/opsforge/opsforge/pkg/store"
	"github.com/opsforge/opsforge/pkg/stream"
	"github.com/opsforge/opsforge/pkg/tools"
	"github.com/opsforge/opsforge/pkg/vault"
)

// scriptedClient replays canned chunk sequences, one per Stream call, and
// records every request it saw.
type scriptedClient struct {
	requests []*llm.Request
	scripts  [][]llm.Chunk
}

func (c *scriptedClient) Stream(_ context.Context, req *llm.Request) (<-chan llm.Chunk, error) {
	cp := *req
	cp.Messages = append([]llm.Message(nil), req.Messages...)
	c.requests = append(c.requests, &cp)

	idx := len(c.requests) - 1
	if idx >= len(c.scripts) {
		idx = len(c.scripts) - 1
	}
	script := c.scripts[idx]

	ch := make(chan llm.Chunk, len(script))
	for _, chunk := range script {
		ch <- chunk
	}
	close(ch)
	return ch, nil
}

type runnerFunc func(command string) (*sshexec.ExecResult, error)

func (f runnerFunc) Run(_ context.Context, _ sshexec.ServerConnection, command string, _ int) (*sshexec.ExecResult, error) {
	return f(command)
}

type loopHarness struct {
	loop   *Loop
	client *scriptedClient
	store  *store.Memory
	sink   *stream.BufferSink
	ran    []string
}

func newLoopHarness(t *testing.T, scripts [][]llm.Chunk) *loopHarness {
	t.Helper()

	catalog, err := tools.NewCatalog()
	require.NoError(t, err)
	serverVault, err := vault.New("session-secret")
	require.NoError(t, err)
	keyVault, err := vault.New("api-key-secret")
	require.NoError(t, err)
	backupVault, err := vault.New("backup-secret")
	require.NoError(t, err)

	h := &loopHarness{
		client: &scriptedClient{scripts: scripts},
		store:  store.NewMemory(),
		sink:   &stream.BufferSink{},
	}

	runner := runnerFunc(func(command string) (*sshexec.ExecResult, error) {
		h.ran = append(h.ran, command)
		return &sshexec.ExecResult{Stdout: "command output\n"}, nil
	})
	dispatcher := dispatch.New(dispatch.Config{
		Catalog:      catalog,
		Runner:       runner,
		Store:        h.store,
		SessionVault: serverVault,
		APIKeyVault:  keyVault,
		BackupVault:  backupVault,
	})

	h.loop = New(Config{
		Store:        h.store,
		Catalog:      catalog,
		Dispatcher:   dispatcher,
		ServerVault:  serverVault,
		APIKeyVault:  keyVault,
		NewClient:    func(string) (llm.Client, error) { return h.client, nil },
		AnthropicKey: "sk-ant-env",
	})

	credential, err := serverVault.EncryptGCM("hunter2")
	require.NoError(t, err)
	require.NoError(t, h.store.CreateServer(context.Background(), &models.Server{
		ID:                  "s1",
		UserID:              "u1",
		Name:                "web-1",
		Host:                "203.0.113.5",
		Username:            "root",
		AuthMethod:          models.AuthMethodPassword,
		EncryptedCredential: credential,
	}))
	return h
}

func (h *loopHarness) frames(t *testing.T) []Frame {
	t.Helper()
	raw := h.sink.Frames()
	out := make([]Frame, len(raw))
	for i, f := range raw {
		frame, ok := f.(Frame)
		require.True(t, ok, "frame %d has type %T", i, f)
		out[i] = frame
	}
	return out
}

func textTurn(text string, in, out int) []llm.Chunk {
	return []llm.Chunk{
		{Text: text},
		{Done: true, InputTokens: in, OutputTokens: out},
	}
}

func TestRunSimpleTextTurn(t *testing.T) {
	h := newLoopHarness(t, [][]llm.Chunk{textTurn("All services are healthy.", 120, 30)})

	err := h.loop.Run(context.Background(), Request{
		UserID: "u1", ServerID: "s1", Content: "how is the server?",
	}, h.sink)
	require.NoError(t, err)
	require.True(t, h.sink.Ended())

	frames := h.frames(t)
	require.NotEmpty(t, frames)
	assert.NotEmpty(t, frames[0].ConversationID, "conversationId must be the first frame")

	last := frames[len(frames)-1]
	assert.True(t, last.Done)
	assert.Equal(t, "agent", last.Mode)
	assert.Equal(t, 1, last.Iterations)
	assert.False(t, last.PendingApproval)

	var sawContent bool
	for _, f := range frames {
		if f.Content == "All services are healthy." {
			sawContent = true
		}
	}
	assert.True(t, sawContent)

	msgs, err := h.store.ListMessages(context.Background(), frames[0].ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	require.NotNil(t, msgs[1].Metadata)
	assert.Equal(t, 1, msgs[1].Metadata.Iterations)

	usage := h.store.Usage()
	require.Len(t, usage, 1)
	assert.Equal(t, 150, usage[0].TotalTokens)
	assert.Equal(t, llm.DefaultModel, usage[0].Model)
}

func TestRunToolUseTurn(t *testing.T) {
	toolInput := json.RawMessage(`{"command":"df -h","explanation":"check disk"}`)
	h := newLoopHarness(t, [][]llm.Chunk{
		{
			{Text: "Checking disk usage."},
			{ToolCall: &llm.ToolCall{ID: "tu_1", Name: "execute_command", Input: toolInput}},
			{Done: true, InputTokens: 100, OutputTokens: 50},
		},
		textTurn("Disk usage is at 40%.", 200, 40),
	})

	err := h.loop.Run(context.Background(), Request{
		UserID: "u1", ServerID: "s1", Content: "check disk",
	}, h.sink)
	require.NoError(t, err)

	require.Equal(t, []string{"df -h"}, h.ran)

	// Second LLM call must carry the assistant tool call and its result.
	require.Len(t, h.client.requests, 2)
	second := h.client.requests[1]
	require.GreaterOrEqual(t, len(second.Messages), 2)
	resultMsg := second.Messages[len(second.Messages)-1]
	require.Len(t, resultMsg.ToolResults, 1)
	assert.Equal(t, "tu_1", resultMsg.ToolResults[0].ToolCallID)
	assert.Contains(t, resultMsg.ToolResults[0].Content, "command output")

	var statuses []string
	for _, f := range h.frames(t) {
		if f.ToolCall != nil {
			statuses = append(statuses, f.ToolCall.Status)
		}
	}
	assert.Equal(t, []string{toolStatusExecuting, toolStatusSuccess}, statuses)

	last := h.frames(t)[len(h.frames(t))-1]
	assert.True(t, last.Done)
	assert.Equal(t, []string{"execute_command"}, last.ToolsUsed)
	assert.Equal(t, 2, last.Iterations)

	usage := h.store.Usage()
	require.Len(t, usage, 1)
	assert.Equal(t, 390, usage[0].TotalTokens)
}

func TestRunApprovalShortCircuit(t *testing.T) {
	toolInput := json.RawMessage(`{"command":"rm -rf /var/cache/app","explanation":"clear cache"}`)
	h := newLoopHarness(t, [][]llm.Chunk{
		{
			{ToolCall: &llm.ToolCall{ID: "tu_1", Name: "execute_command", Input: toolInput}},
			{Done: true, InputTokens: 80, OutputTokens: 20},
		},
	})

	err := h.loop.Run(context.Background(), Request{
		UserID: "u1", ServerID: "s1", Content: "clear the app cache",
	}, h.sink)
	require.NoError(t, err)

	assert.Empty(t, h.ran, "gated command must not execute")
	require.Len(t, h.client.requests, 1, "loop must stop after the gate")

	frames := h.frames(t)
	var approval *ToolCallFrame
	for _, f := range frames {
		if f.ToolCall != nil && f.ToolCall.Status == toolStatusRequiresApproval {
			approval = f.ToolCall
		}
	}
	require.NotNil(t, approval)
	assert.Equal(t, "rm -rf /var/cache/app", approval.PendingCommand)
	assert.NotEmpty(t, approval.Mac)

	last := frames[len(frames)-1]
	assert.True(t, last.Done)
	assert.True(t, last.PendingApproval)

	msgs, err := h.store.ListMessages(context.Background(), frames[0].ConversationID)
	require.NoError(t, err)
	assistant := msgs[len(msgs)-1]
	require.NotNil(t, assistant.Metadata)
	assert.True(t, assistant.Metadata.PendingApproval)
}

func TestRunAppendsAttachmentMarkers(t *testing.T) {
	h := newLoopHarness(t, [][]llm.Chunk{textTurn("Looks fine.", 50, 10)})

	err := h.loop.Run(context.Background(), Request{
		UserID: "u1", ServerID: "s1", Content: "review this config",
		Attachments: []string{"nginx.conf", "report.pdf"},
	}, h.sink)
	require.NoError(t, err)

	frames := h.frames(t)
	require.NotEmpty(t, frames)
	msgs, err := h.store.ListMessages(context.Background(), frames[0].ConversationID)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	assert.Equal(t, "review this config\n[Attachment: nginx.conf]\n[Attachment: report.pdf]", msgs[0].Content)
	assert.Equal(t, []string{"nginx.conf", "report.pdf"}, msgs[0].Attachments)

	// The model sees the markers through the mapped history.
	require.Len(t, h.client.requests, 1)
	reqMsgs := h.client.requests[0].Messages
	require.NotEmpty(t, reqMsgs)
	assert.Contains(t, reqMsgs[len(reqMsgs)-1].Content, "[Attachment: nginx.conf]")
}

func TestRunCompressesLongHistory(t *testing.T) {
	h := newLoopHarness(t, [][]llm.Chunk{
		textTurn("Earlier we configured nginx and installed postgres.", 500, 80), // summarizer
		textTurn("Continuing.", 300, 20),
	})

	conv := &models.Conversation{ID: "c1", UserID: "u1", Mode: models.ModeAgent}
	require.NoError(t, h.store.CreateConversation(context.Background(), conv))
	for i := 0; i < 60; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		_, err := h.store.AppendMessage(context.Background(), models.CreateMessageRequest{
			ConversationID: "c1", Role: role, Content: fmt.Sprintf("turn %d", i),
		})
		require.NoError(t, err)
	}

	err := h.loop.Run(context.Background(), Request{
		UserID: "u1", ServerID: "s1", ConversationID: "c1", Content: "and now?",
	}, h.sink)
	require.NoError(t, err)

	summaries, err := h.store.ListSummaries(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "1-51", summaries[0].MessageRange)
	assert.Contains(t, summaries[0].Summary, "nginx")

	// The agent call (second request) must start with the synthetic pair.
	require.Len(t, h.client.requests, 2)
	agentReq := h.client.requests[1]
	require.GreaterOrEqual(t, len(agentReq.Messages), 12)
	assert.Equal(t, models.RoleUser, agentReq.Messages[0].Role)
	assert.Contains(t, agentReq.Messages[0].Content, "Summary of our conversation")
	assert.Equal(t, models.RoleAssistant, agentReq.Messages[1].Role)
	assert.Equal(t, "and now?", agentReq.Messages[len(agentReq.Messages)-1].Content)
}

func TestRunWithoutAPIKey(t *testing.T) {
	h := newLoopHarness(t, [][]llm.Chunk{textTurn("x", 1, 1)})
	h.loop.anthropicKey = ""

	err := h.loop.Run(context.Background(), Request{UserID: "u1", ServerID: "s1", Content: "hi"}, h.sink)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
	assert.True(t, h.sink.Ended())

	frames := h.frames(t)
	require.NotEmpty(t, frames)
	assert.NotEmpty(t, frames[len(frames)-1].Error)
}

func TestTrimToBudget(t *testing.T) {
	big := strings.Repeat("a", 200_000) // ~50k tokens
	history := []llm.Message{
		{Role: models.RoleUser, Content: big},
		{Role: models.RoleUser, Content: big},
		{Role: models.RoleUser, Content: big},
		{Role: models.RoleUser, Content: "latest"},
	}
	trimmed := trimToBudget("system", history)
	require.Len(t, trimmed, 2)
	assert.Equal(t, "latest", trimmed[len(trimmed)-1].Content)

	// The newest message survives even when it alone exceeds the budget.
	over := []llm.Message{{Role: models.RoleUser, Content: strings.Repeat("a", 500_000)}}
	assert.Len(t, trimToBudget("", over), 1)
}
