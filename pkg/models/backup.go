package models

import "time"

// RepositoryType identifies where a restic repository lives.
type RepositoryType string

const (
	RepositoryLocal RepositoryType = "local"
	RepositoryS3    RepositoryType = "s3"
	RepositorySFTP  RepositoryType = "sftp"
	RepositoryB2    RepositoryType = "b2"
)

// BackupRetention is the restic forget policy for a config.
type BackupRetention struct {
	Daily   int `json:"daily"`
	Weekly  int `json:"weekly"`
	Monthly int `json:"monthly"`
	Yearly  int `json:"yearly"`
}

// BackupConfig describes a restic repository bound to a server.
// EncryptedPassword is sealed with the backup vault key (ENCRYPTION_KEY),
// not the session secret.
type BackupConfig struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	VPSServerID       string          `json:"vps_server_id"`
	RepositoryType    RepositoryType  `json:"repository_type"`
	RepositoryPath    string          `json:"repository_path"`
	EncryptedPassword string          `json:"-"`
	AccessKeyID       string          `json:"access_key_id,omitempty"`
	SecretAccessKey   string          `json:"-"`
	Endpoint          string          `json:"endpoint,omitempty"`
	Region            string          `json:"region,omitempty"`
	IncludePaths      []string        `json:"include_paths"`
	ExcludePatterns   []string        `json:"exclude_patterns,omitempty"`
	Retention         BackupRetention `json:"retention"`
	CreatedAt         time.Time       `json:"created_at"`
}

// GitHubIntegration stores a user's GitHub token and default repository.
// The token is sealed with the API-key vault (CBC scheme).
type GitHubIntegration struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	EncryptedToken string    `json:"-"`
	RepositoryURL  string    `json:"repository_url"`
	Branch         string    `json:"branch"`
	CreatedAt      time.Time `json:"created_at"`
}

// UserSettings holds per-user provider keys, sealed with the API-key vault.
type UserSettings struct {
	UserID                   string `json:"user_id"`
	EncryptedAnthropicKey    string `json:"-"`
	EncryptedPerplexityKey   string `json:"-"`
	PreferredModel           string `json:"preferred_model,omitempty"`
	ResearchEnabledByDefault bool   `json:"research_enabled_by_default"`
	ThinkingEnabledByDefault bool   `json:"thinking_enabled_by_default"`
}
