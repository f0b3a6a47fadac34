package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsforge/opsforge/pkg/agentloop"
	"github.com/opsforge/opsforge/pkg/dispatch"
	"github.com/opsforge/opsforge/pkg/events"
	"github.com/opsforge/opsforge/pkg/llm"
	"github.com/opsforge/opsforge/pkg/models"
	"github.com/opsforge/opsforge/pkg/monitor"
	"github.com/opsforge/opsforge/pkg/orchestrator"
	"github.com/opsforge/opsforge/pkg/sshexec"
	"github.com/opsforge/opsforge/pkg/store"
	"github.com/opsforge/opsforge/pkg/terminal"
	"github.com/opsforge/opsforge/pkg/tools"
	"github.com/opsforge/opsforge/pkg/vault"
)

// stubRunner returns canned results per command, default success, and records
// everything it ran.
type stubRunner struct {
	mu       sync.Mutex
	stdout   string         // default stdout for unknown commands
	fail     map[string]int // command -> exit code
	err      error          // when set, every Run fails with it
	commands []string
}

func (r *stubRunner) Run(_ context.Context, _ sshexec.ServerConnection, command string, _ int) (*sshexec.ExecResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, command)
	if r.err != nil {
		return nil, r.err
	}
	if code, ok := r.fail[command]; ok {
		return &sshexec.ExecResult{Stderr: "boom\n", ExitCode: code}, nil
	}
	return &sshexec.ExecResult{Stdout: r.stdout}, nil
}

func (r *stubRunner) ran() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commands...)
}

// scriptedClient replays canned chunk sequences, one per Stream call.
type scriptedClient struct {
	mu      sync.Mutex
	scripts [][]llm.Chunk
	calls   int
}

func (c *scriptedClient) Stream(_ context.Context, _ *llm.Request) (<-chan llm.Chunk, error) {
	c.mu.Lock()
	idx := c.calls
	if idx >= len(c.scripts) {
		idx = len(c.scripts) - 1
	}
	script := c.scripts[idx]
	c.calls++
	c.mu.Unlock()

	ch := make(chan llm.Chunk, len(script))
	for _, chunk := range script {
		ch <- chunk
	}
	close(ch)
	return ch, nil
}

type apiHarness struct {
	server *Server
	store  *store.Memory
	runner *stubRunner
	llm    *scriptedClient
	vault  *vault.Vault
	bus    *events.Bus
}

// newAPIHarness wires a Server over in-memory infrastructure with a scripted
// SSH runner and LLM. One server row "s1" owned by "default" is seeded.
func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()

	catalog, err := tools.NewCatalog()
	require.NoError(t, err)
	serverVault, err := vault.New("session-secret")
	require.NoError(t, err)
	keyVault, err := vault.New("api-key-secret")
	require.NoError(t, err)
	backupVault, err := vault.New("backup-secret")
	require.NoError(t, err)

	h := &apiHarness{
		store:  store.NewMemory(),
		runner: &stubRunner{stdout: "ok\n", fail: map[string]int{}},
		llm:    &scriptedClient{scripts: [][]llm.Chunk{{{Text: "done"}, {Done: true}}}},
		vault:  serverVault,
		bus:    events.NewBus(),
	}

	credential, err := serverVault.EncryptGCM("hunter2")
	require.NoError(t, err)
	require.NoError(t, h.store.CreateServer(context.Background(), &models.Server{
		ID: "s1", UserID: "default", Name: "web-1", Host: "203.0.113.5",
		Username: "root", AuthMethod: models.AuthMethodPassword, EncryptedCredential: credential,
	}))

	dispatcher := dispatch.New(dispatch.Config{
		Catalog:      catalog,
		Runner:       h.runner,
		Store:        h.store,
		SessionVault: serverVault,
		APIKeyVault:  keyVault,
		BackupVault:  backupVault,
	})
	loop := agentloop.New(agentloop.Config{
		Store:        h.store,
		Catalog:      catalog,
		Dispatcher:   dispatcher,
		ServerVault:  serverVault,
		APIKeyVault:  keyVault,
		NewClient:    func(string) (llm.Client, error) { return h.llm, nil },
		AnthropicKey: "sk-ant-test",
	})
	orch := orchestrator.New(orchestrator.Config{
		Tasks:       orchestrator.NewMemoryTaskStore(),
		Runner:      h.runner,
		Bus:         h.bus,
		Store:       h.store,
		ServerVault: serverVault,
	})
	collector := monitor.New(monitor.Config{
		Runner:      h.runner,
		Store:       h.store,
		ServerVault: serverVault,
	})
	relay := terminal.New(terminal.Config{
		Store:       h.store,
		ServerVault: serverVault,
		OpenShell: func(context.Context, sshexec.ServerConnection, int, int) (terminal.Shell, error) {
			return nil, sshexec.ErrUnreachable
		},
	})

	h.server = NewServer(Config{
		Loop:         loop,
		Dispatcher:   dispatcher,
		Catalog:      catalog,
		Orchestrator: orch,
		Bus:          h.bus,
		Monitor:      collector,
		Relay:        relay,
		Store:        h.store,
		ServerVault:  serverVault,
		Planner:      h.llm,
	})
	return h
}

// do routes a request through the full echo stack.
func (h *apiHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.server.echo.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func TestHealthz(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON[HealthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.NotEmpty(t, resp.Version)
	assert.Equal(t, "healthy", resp.Checks["store"].Status)
	assert.Contains(t, resp.Checks["terminal"].Message, "0 active sessions")
}

func TestUnknownRouteIs404(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodGet, "/api/agent/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSecurityHeadersOnEveryResponse(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodGet, "/api/agent/tools", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}
