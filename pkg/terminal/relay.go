// Package terminal relays an interactive browser terminal to a PTY-backed
// SSH shell over a WebSocket, with command tracking and completion
// suggestions layered on the input stream.
package terminal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/opsforge/opsforge/pkg/models"
	"github.com/opsforge/opsforge/pkg/sshexec"
	"github.com/opsforge/opsforge/pkg/store"
	"github.com/opsforge/opsforge/pkg/vault"
)

// Shell is the PTY session surface the relay drives. Implemented by
// sshexec.ShellSession.
type Shell interface {
	Output() <-chan []byte
	Write(data []byte) error
	Resize(cols, rows int) error
	Close()
}

// ShellOpener dials a host and opens a sized PTY shell.
type ShellOpener func(ctx context.Context, conn sshexec.ServerConnection, cols, rows int) (Shell, error)

// Conn is the websocket surface the relay consumes; tests substitute pipes.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
}

// Config wires a Relay.
type Config struct {
	Store       store.Store
	ServerVault *vault.Vault

	// OpenShell defaults to a real SSH executor.
	OpenShell ShellOpener

	// Assistant powers AI suggestions and ai-help. Nil disables both.
	Assistant Assistant

	Logger *slog.Logger
}

// Relay accepts terminal WebSocket clients and bridges them to SSH shells.
type Relay struct {
	store       store.Store
	serverVault *vault.Vault
	openShell   ShellOpener
	assistant   Assistant
	logger      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	id     string
	shell  Shell
	buffer commandBuffer
}

// New builds a Relay from cfg.
func New(cfg Config) *Relay {
	open := cfg.OpenShell
	if open == nil {
		executor := sshexec.NewExecutor()
		open = func(ctx context.Context, conn sshexec.ServerConnection, cols, rows int) (Shell, error) {
			return executor.OpenShell(ctx, conn, cols, rows)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		store:       cfg.Store,
		serverVault: cfg.ServerVault,
		openShell:   open,
		assistant:   cfg.Assistant,
		logger:      logger,
		sessions:    make(map[string]*session),
	}
}

// SessionCount reports live sessions.
func (r *Relay) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll tears down every live session. Shutdown path.
func (r *Relay) CloseAll() {
	r.mu.Lock()
	sessions := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*session)
	r.mu.Unlock()
	for _, s := range sessions {
		s.shell.Close()
	}
}

// client is one websocket connection with at most one live shell session.
type client struct {
	conn Conn
	mu   sync.Mutex // serialises writes from the read loop, pump, and AI goroutines

	sess *session
}

func (c *client) send(ctx context.Context, frame outbound) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.Write(ctx, data)
}

// Handle serves one websocket client until it disconnects. Blocks.
func (r *Relay) Handle(ctx context.Context, conn Conn) {
	c := &client{conn: conn}
	defer r.teardown(c)

	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.send(ctx, outbound{Type: msgError, Message: "malformed frame"})
			continue
		}

		switch msg.Type {
		case msgConnect:
			r.handleConnect(ctx, c, msg)
		case msgInput:
			r.handleInput(ctx, c, msg)
		case msgResize:
			r.handleResize(ctx, c, msg)
		case msgSuggest:
			r.handleSuggest(ctx, c, msg)
		case msgAIHelp:
			r.handleAIHelp(ctx, c, msg)
		case msgDisconnect:
			r.teardown(c)
			c.send(ctx, outbound{Type: msgDisconnected, Message: "session closed"})
		default:
			c.send(ctx, outbound{Type: msgError, Message: fmt.Sprintf("unknown frame type %q", msg.Type)})
		}
	}
}

func (r *Relay) handleConnect(ctx context.Context, c *client, msg inbound) {
	if c.sess != nil {
		c.send(ctx, outbound{Type: msgError, Message: "already connected"})
		return
	}

	conn, serverName, err := r.connection(ctx, msg.ServerID)
	if err != nil {
		c.send(ctx, outbound{Type: msgError, Message: err.Error()})
		return
	}

	cols, rows := msg.Cols, msg.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	shell, err := r.openShell(ctx, conn, cols, rows)
	if err != nil {
		c.send(ctx, outbound{Type: msgError, Message: fmt.Sprintf("shell open failed: %v", err)})
		return
	}

	sess := &session{id: uuid.NewString(), shell: shell}
	c.sess = sess
	r.mu.Lock()
	r.sessions[sess.id] = sess
	r.mu.Unlock()

	go r.pump(ctx, c, sess)

	c.send(ctx, outbound{
		Type:      msgConnected,
		SessionID: sess.id,
		Message:   fmt.Sprintf("connected to %s", serverName),
	})
}

// pump copies PTY output to the socket until the remote side ends.
func (r *Relay) pump(ctx context.Context, c *client, sess *session) {
	for data := range sess.shell.Output() {
		c.send(ctx, outbound{Type: msgOutput, Data: string(data)})
	}
	c.send(ctx, outbound{Type: msgDisconnected, Message: "remote shell closed"})
}

func (r *Relay) handleInput(ctx context.Context, c *client, msg inbound) {
	if c.sess == nil {
		c.send(ctx, outbound{Type: msgError, Message: "not connected"})
		return
	}
	c.sess.buffer.feed([]byte(msg.Data))
	if err := c.sess.shell.Write([]byte(msg.Data)); err != nil {
		c.send(ctx, outbound{Type: msgError, Message: fmt.Sprintf("write failed: %v", err)})
	}
}

func (r *Relay) handleResize(ctx context.Context, c *client, msg inbound) {
	if c.sess == nil {
		c.send(ctx, outbound{Type: msgError, Message: "not connected"})
		return
	}
	if err := c.sess.shell.Resize(msg.Cols, msg.Rows); err != nil {
		c.send(ctx, outbound{Type: msgError, Message: fmt.Sprintf("resize failed: %v", err)})
		return
	}
	c.send(ctx, outbound{Type: msgResized, Cols: msg.Cols, Rows: msg.Rows})
}

func (r *Relay) handleSuggest(ctx context.Context, c *client, msg inbound) {
	var history []string
	if c.sess != nil {
		history = c.sess.buffer.recent(historyCap)
	}

	c.send(ctx, outbound{
		Type:        msgSuggestions,
		Suggestions: localSuggestions(msg.Partial, history),
		Source:      sourceLocal,
	})

	if r.assistant == nil || len(msg.Partial) < 3 {
		return
	}
	go func() {
		suggestions, err := r.assistant.Suggest(ctx, msg.Partial, history)
		if err != nil || len(suggestions) == 0 {
			return
		}
		if len(suggestions) > maxAIResults {
			suggestions = suggestions[:maxAIResults]
		}
		c.send(ctx, outbound{Type: msgSuggestions, Suggestions: suggestions, Source: sourceAI})
	}()
}

func (r *Relay) handleAIHelp(ctx context.Context, c *client, msg inbound) {
	if r.assistant == nil {
		c.send(ctx, outbound{Type: msgError, Message: "AI assistance is not configured"})
		return
	}
	var history []string
	if c.sess != nil {
		history = c.sess.buffer.recent(10)
	}
	go func() {
		answer, err := r.assistant.Answer(ctx, msg.Question, history)
		if err != nil {
			c.send(ctx, outbound{Type: msgError, Message: fmt.Sprintf("AI help failed: %v", err)})
			return
		}
		c.send(ctx, outbound{Type: msgAIResponse, Response: answer})
	}()
}

func (r *Relay) teardown(c *client) {
	if c.sess == nil {
		return
	}
	sess := c.sess
	c.sess = nil
	r.mu.Lock()
	delete(r.sessions, sess.id)
	r.mu.Unlock()
	sess.shell.Close()
}

func (r *Relay) connection(ctx context.Context, serverID string) (sshexec.ServerConnection, string, error) {
	if serverID == "" {
		return sshexec.ServerConnection{}, "", fmt.Errorf("serverId is required")
	}
	server, err := r.store.GetServer(ctx, serverID)
	if err != nil {
		return sshexec.ServerConnection{}, "", fmt.Errorf("server %s: %w", serverID, err)
	}
	credential, err := r.serverVault.DecryptGCM(server.EncryptedCredential)
	if err != nil {
		return sshexec.ServerConnection{}, "", fmt.Errorf("open server credential: %w", err)
	}
	conn := sshexec.ServerConnection{Host: server.Host, Port: server.Port, Username: server.Username}
	if server.AuthMethod == models.AuthMethodKey {
		conn.PrivateKey = credential
	} else {
		conn.Password = credential
	}
	return conn, server.Name, nil
}
