package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsforge/opsforge/pkg/models"
)

// Memory is an in-process Store for tests and single-node development. All
// methods are safe for concurrent use.
type Memory struct {
	mu sync.RWMutex

	servers       map[string]*models.Server
	conversations map[string]*models.Conversation
	messages      map[string][]*models.Message // conversationID → ordered
	summaries     map[string][]*models.ConversationSummary
	history       []*models.CommandHistory
	github        map[string]*models.GitHubIntegration // userID →
	settings      map[string]*models.UserSettings      // userID →
	backups       map[string]*models.BackupConfig
	usage         []*models.APIUsage

	// clock is split out so tests can order messages deterministically.
	clock func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		servers:       make(map[string]*models.Server),
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]*models.Message),
		summaries:     make(map[string][]*models.ConversationSummary),
		github:        make(map[string]*models.GitHubIntegration),
		settings:      make(map[string]*models.UserSettings),
		backups:       make(map[string]*models.BackupConfig),
		clock:         time.Now,
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) GetServer(_ context.Context, id string) (*models.Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.servers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) ListServers(_ context.Context, userID string) ([]*models.Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Server
	for _, s := range m.servers {
		if s.UserID == userID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) CreateServer(_ context.Context, server *models.Server) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if server.ID == "" {
		server.ID = uuid.NewString()
	}
	if server.CreatedAt.IsZero() {
		server.CreatedAt = m.clock()
	}
	if server.Port == 0 {
		server.Port = 22
	}
	cp := *server
	m.servers[server.ID] = &cp
	return nil
}

func (m *Memory) TouchServerConnected(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.servers[id]
	if !ok {
		return ErrNotFound
	}
	s.LastConnectedAt = &at
	return nil
}

func (m *Memory) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) CreateConversation(_ context.Context, conv *models.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	now := m.clock()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now
	conv.IsActive = true
	cp := *conv
	m.conversations[conv.ID] = &cp
	return nil
}

func (m *Memory) UpdateConversation(_ context.Context, conv *models.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[conv.ID]; !ok {
		return ErrNotFound
	}
	conv.UpdatedAt = m.clock()
	cp := *conv
	m.conversations[conv.ID] = &cp
	return nil
}

func (m *Memory) ListMessages(_ context.Context, conversationID string) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[conversationID]
	out := make([]*models.Message, len(msgs))
	for i, msg := range msgs {
		cp := *msg
		out[i] = &cp
	}
	return out, nil
}

func (m *Memory) AppendMessage(_ context.Context, req models.CreateMessageRequest) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		Role:           req.Role,
		Content:        req.Content,
		Attachments:    req.Attachments,
		Metadata:       req.Metadata,
		CreatedAt:      m.clock(),
	}
	m.messages[req.ConversationID] = append(m.messages[req.ConversationID], msg)
	cp := *msg
	return &cp, nil
}

func (m *Memory) ListSummaries(_ context.Context, conversationID string) ([]*models.ConversationSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sums := m.summaries[conversationID]
	out := make([]*models.ConversationSummary, len(sums))
	for i, s := range sums {
		cp := *s
		out[i] = &cp
	}
	return out, nil
}

func (m *Memory) AppendSummary(_ context.Context, summary *models.ConversationSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if summary.ID == "" {
		summary.ID = uuid.NewString()
	}
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = m.clock()
	}
	cp := *summary
	m.summaries[summary.ConversationID] = append(m.summaries[summary.ConversationID], &cp)
	return nil
}

func (m *Memory) ListCommandHistory(_ context.Context, userID, serverID string, limit int) ([]*models.CommandHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.CommandHistory
	// Newest first.
	for i := len(m.history) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		h := m.history[i]
		if h.UserID == userID && h.VPSServerID == serverID {
			cp := *h
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) AppendCommandHistory(_ context.Context, entry *models.CommandHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.ExecutedAt.IsZero() {
		entry.ExecutedAt = m.clock()
	}
	cp := *entry
	m.history = append(m.history, &cp)
	return nil
}

func (m *Memory) GetGitHubIntegration(_ context.Context, userID string) (*models.GitHubIntegration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	gi, ok := m.github[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *gi
	return &cp, nil
}

// PutGitHubIntegration is a test/seed helper.
func (m *Memory) PutGitHubIntegration(gi *models.GitHubIntegration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *gi
	m.github[gi.UserID] = &cp
}

func (m *Memory) GetUserSettings(_ context.Context, userID string) (*models.UserSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.settings[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// PutUserSettings is a test/seed helper.
func (m *Memory) PutUserSettings(s *models.UserSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.settings[s.UserID] = &cp
}

func (m *Memory) GetBackupConfig(_ context.Context, id string) (*models.BackupConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.backups[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *Memory) ListBackupConfigs(_ context.Context, serverID string) ([]*models.BackupConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.BackupConfig
	for _, b := range m.backups {
		if b.VPSServerID == serverID {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// PutBackupConfig is a test/seed helper.
func (m *Memory) PutBackupConfig(b *models.BackupConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	cp := *b
	m.backups[b.ID] = &cp
}

func (m *Memory) AppendAPIUsage(_ context.Context, usage *models.APIUsage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if usage.ID == "" {
		usage.ID = uuid.NewString()
	}
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = m.clock()
	}
	cp := *usage
	m.usage = append(m.usage, &cp)
	return nil
}

// Usage returns a copy of the usage ledger, oldest first. Test helper.
func (m *Memory) Usage() []*models.APIUsage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.APIUsage, len(m.usage))
	for i, u := range m.usage {
		cp := *u
		out[i] = &cp
	}
	return out
}

// History returns a copy of the command history, oldest first. Test helper.
func (m *Memory) History() []*models.CommandHistory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.CommandHistory, len(m.history))
	for i, h := range m.history {
		cp := *h
		out[i] = &cp
	}
	return out
}
