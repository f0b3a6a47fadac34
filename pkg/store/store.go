// Package store is the persistence port the core consumes. The core never
// talks to a database directly; it calls through the Store interface, which
// is implemented by Postgres (pgx) for production and Memory for tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/opsforge/opsforge/pkg/models"
)

var (
	// ErrNotFound reports a missing row.
	ErrNotFound = errors.New("store: not found")
	// ErrUnavailable reports a backend failure; HTTP callers map it to 503.
	ErrUnavailable = errors.New("store: unavailable")
)

// Store is the narrow persistence interface of the execution plane.
type Store interface {
	// Servers
	GetServer(ctx context.Context, id string) (*models.Server, error)
	ListServers(ctx context.Context, userID string) ([]*models.Server, error)
	CreateServer(ctx context.Context, server *models.Server) error
	TouchServerConnected(ctx context.Context, id string, at time.Time) error

	// Conversations
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	UpdateConversation(ctx context.Context, conv *models.Conversation) error

	// Messages (totally ordered by CreatedAt within a conversation)
	ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error)
	AppendMessage(ctx context.Context, req models.CreateMessageRequest) (*models.Message, error)

	// Conversation summaries (append-only)
	ListSummaries(ctx context.Context, conversationID string) ([]*models.ConversationSummary, error)
	AppendSummary(ctx context.Context, summary *models.ConversationSummary) error

	// Command history (append-only)
	ListCommandHistory(ctx context.Context, userID, serverID string, limit int) ([]*models.CommandHistory, error)
	AppendCommandHistory(ctx context.Context, entry *models.CommandHistory) error

	// Integrations and settings
	GetGitHubIntegration(ctx context.Context, userID string) (*models.GitHubIntegration, error)
	GetUserSettings(ctx context.Context, userID string) (*models.UserSettings, error)

	// Backup configs
	GetBackupConfig(ctx context.Context, id string) (*models.BackupConfig, error)
	ListBackupConfigs(ctx context.Context, serverID string) ([]*models.BackupConfig, error)

	// Usage ledger (append-only)
	AppendAPIUsage(ctx context.Context, usage *models.APIUsage) error
}
