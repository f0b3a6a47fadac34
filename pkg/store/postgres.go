package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opsforge/opsforge/pkg/models"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres connects a pool and verifies connectivity.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: parse DATABASE_URL: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the pool.
func (p *Postgres) Close() { p.pool.Close() }

// Ping verifies connectivity; used by the health endpoint.
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func wrapErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (p *Postgres) GetServer(ctx context.Context, id string) (*models.Server, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, user_id, name, host, port, username, auth_method,
		       encrypted_credential, last_connected_at, created_at
		FROM servers WHERE id = $1`, id)
	var s models.Server
	if err := row.Scan(&s.ID, &s.UserID, &s.Name, &s.Host, &s.Port, &s.Username,
		&s.AuthMethod, &s.EncryptedCredential, &s.LastConnectedAt, &s.CreatedAt); err != nil {
		return nil, wrapErr(err)
	}
	return &s, nil
}

func (p *Postgres) ListServers(ctx context.Context, userID string) ([]*models.Server, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, name, host, port, username, auth_method,
		       encrypted_credential, last_connected_at, created_at
		FROM servers WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []*models.Server
	for rows.Next() {
		var s models.Server
		if err := rows.Scan(&s.ID, &s.UserID, &s.Name, &s.Host, &s.Port, &s.Username,
			&s.AuthMethod, &s.EncryptedCredential, &s.LastConnectedAt, &s.CreatedAt); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateServer(ctx context.Context, s *models.Server) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Port == 0 {
		s.Port = 22
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO servers (id, user_id, name, host, port, username, auth_method,
		                     encrypted_credential, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.UserID, s.Name, s.Host, s.Port, s.Username, s.AuthMethod,
		s.EncryptedCredential, s.CreatedAt)
	if err != nil {
		return wrapErr(err)
	}
	return nil
}

func (p *Postgres) TouchServerConnected(ctx context.Context, id string, at time.Time) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE servers SET last_connected_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return wrapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, user_id, vps_server_id, title, mode, parent_conversation_id,
		       context_summary, archive_url, archived_at, is_active, created_at, updated_at
		FROM conversations WHERE id = $1`, id)
	var c models.Conversation
	if err := row.Scan(&c.ID, &c.UserID, &c.VPSServerID, &c.Title, &c.Mode,
		&c.ParentConversationID, &c.ContextSummary, &c.ArchiveURL, &c.ArchivedAt,
		&c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, wrapErr(err)
	}
	return &c, nil
}

func (p *Postgres) CreateConversation(ctx context.Context, c *models.Conversation) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	c.IsActive = true
	_, err := p.pool.Exec(ctx, `
		INSERT INTO conversations (id, user_id, vps_server_id, title, mode,
		                           parent_conversation_id, context_summary,
		                           is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.UserID, c.VPSServerID, c.Title, c.Mode,
		c.ParentConversationID, c.ContextSummary, c.IsActive, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return wrapErr(err)
	}
	return nil
}

func (p *Postgres) UpdateConversation(ctx context.Context, c *models.Conversation) error {
	c.UpdatedAt = time.Now()
	tag, err := p.pool.Exec(ctx, `
		UPDATE conversations
		SET title = $2, mode = $3, context_summary = $4, archive_url = $5,
		    archived_at = $6, is_active = $7, updated_at = $8
		WHERE id = $1`,
		c.ID, c.Title, c.Mode, c.ContextSummary, c.ArchiveURL,
		c.ArchivedAt, c.IsActive, c.UpdatedAt)
	if err != nil {
		return wrapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, conversation_id, role, content, attachments, metadata, created_at
		FROM messages WHERE conversation_id = $1 ORDER BY created_at, id`, conversationID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var m models.Message
		var attachments, metadata []byte
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content,
			&attachments, &metadata, &m.CreatedAt); err != nil {
			return nil, wrapErr(err)
		}
		if len(attachments) > 0 {
			_ = json.Unmarshal(attachments, &m.Attachments)
		}
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &m.Metadata)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (p *Postgres) AppendMessage(ctx context.Context, req models.CreateMessageRequest) (*models.Message, error) {
	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		Role:           req.Role,
		Content:        req.Content,
		Attachments:    req.Attachments,
		Metadata:       req.Metadata,
		CreatedAt:      time.Now(),
	}
	var attachments, metadata []byte
	if len(msg.Attachments) > 0 {
		attachments, _ = json.Marshal(msg.Attachments)
	}
	if msg.Metadata != nil {
		metadata, _ = json.Marshal(msg.Metadata)
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, attachments, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, attachments, metadata, msg.CreatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	return msg, nil
}

func (p *Postgres) ListSummaries(ctx context.Context, conversationID string) ([]*models.ConversationSummary, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, conversation_id, summary, message_range, token_count, created_at
		FROM conversation_summaries WHERE conversation_id = $1 ORDER BY created_at`, conversationID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []*models.ConversationSummary
	for rows.Next() {
		var s models.ConversationSummary
		if err := rows.Scan(&s.ID, &s.ConversationID, &s.Summary, &s.MessageRange,
			&s.TokenCount, &s.CreatedAt); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (p *Postgres) AppendSummary(ctx context.Context, s *models.ConversationSummary) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO conversation_summaries (id, conversation_id, summary, message_range, token_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.ConversationID, s.Summary, s.MessageRange, s.TokenCount, s.CreatedAt)
	if err != nil {
		return wrapErr(err)
	}
	return nil
}

func (p *Postgres) ListCommandHistory(ctx context.Context, userID, serverID string, limit int) ([]*models.CommandHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, vps_server_id, command, output, exit_code, executed_at
		FROM command_history
		WHERE user_id = $1 AND vps_server_id = $2
		ORDER BY executed_at DESC LIMIT $3`, userID, serverID, limit)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []*models.CommandHistory
	for rows.Next() {
		var h models.CommandHistory
		if err := rows.Scan(&h.ID, &h.UserID, &h.VPSServerID, &h.Command,
			&h.Output, &h.ExitCode, &h.ExecutedAt); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

func (p *Postgres) AppendCommandHistory(ctx context.Context, h *models.CommandHistory) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.ExecutedAt.IsZero() {
		h.ExecutedAt = time.Now()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO command_history (id, user_id, vps_server_id, command, output, exit_code, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		h.ID, h.UserID, h.VPSServerID, h.Command, h.Output, h.ExitCode, h.ExecutedAt)
	if err != nil {
		return wrapErr(err)
	}
	return nil
}

func (p *Postgres) GetGitHubIntegration(ctx context.Context, userID string) (*models.GitHubIntegration, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, user_id, encrypted_token, repository_url, branch, created_at
		FROM github_integrations WHERE user_id = $1`, userID)
	var gi models.GitHubIntegration
	if err := row.Scan(&gi.ID, &gi.UserID, &gi.EncryptedToken, &gi.RepositoryURL,
		&gi.Branch, &gi.CreatedAt); err != nil {
		return nil, wrapErr(err)
	}
	return &gi, nil
}

func (p *Postgres) GetUserSettings(ctx context.Context, userID string) (*models.UserSettings, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT user_id, encrypted_anthropic_key, encrypted_perplexity_key,
		       preferred_model, research_enabled, thinking_enabled
		FROM user_settings WHERE user_id = $1`, userID)
	var s models.UserSettings
	if err := row.Scan(&s.UserID, &s.EncryptedAnthropicKey, &s.EncryptedPerplexityKey,
		&s.PreferredModel, &s.ResearchEnabledByDefault, &s.ThinkingEnabledByDefault); err != nil {
		return nil, wrapErr(err)
	}
	return &s, nil
}

func (p *Postgres) GetBackupConfig(ctx context.Context, id string) (*models.BackupConfig, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, name, vps_server_id, repository_type, repository_path,
		       encrypted_password, access_key_id, secret_access_key, endpoint, region,
		       include_paths, exclude_patterns,
		       retain_daily, retain_weekly, retain_monthly, retain_yearly, created_at
		FROM backup_configs WHERE id = $1`, id)
	return scanBackupConfig(row)
}

func (p *Postgres) ListBackupConfigs(ctx context.Context, serverID string) ([]*models.BackupConfig, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, name, vps_server_id, repository_type, repository_path,
		       encrypted_password, access_key_id, secret_access_key, endpoint, region,
		       include_paths, exclude_patterns,
		       retain_daily, retain_weekly, retain_monthly, retain_yearly, created_at
		FROM backup_configs WHERE vps_server_id = $1 ORDER BY created_at`, serverID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []*models.BackupConfig
	for rows.Next() {
		b, err := scanBackupConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBackupConfig(row rowScanner) (*models.BackupConfig, error) {
	var b models.BackupConfig
	if err := row.Scan(&b.ID, &b.Name, &b.VPSServerID, &b.RepositoryType, &b.RepositoryPath,
		&b.EncryptedPassword, &b.AccessKeyID, &b.SecretAccessKey, &b.Endpoint, &b.Region,
		&b.IncludePaths, &b.ExcludePatterns,
		&b.Retention.Daily, &b.Retention.Weekly, &b.Retention.Monthly, &b.Retention.Yearly,
		&b.CreatedAt); err != nil {
		return nil, wrapErr(err)
	}
	return &b, nil
}

func (p *Postgres) AppendAPIUsage(ctx context.Context, u *models.APIUsage) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO api_usage (id, user_id, conversation_id, model,
		                       input_tokens, output_tokens, total_tokens, estimated_cost, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, u.UserID, u.ConversationID, u.Model,
		u.InputTokens, u.OutputTokens, u.TotalTokens, u.EstimatedCost, u.CreatedAt)
	if err != nil {
		return wrapErr(err)
	}
	return nil
}
