// Package config loads process configuration from the environment. Secrets
// stay as three named fields (session, API-key, backup) rather than one
// folded value: each seals a different class of ciphertext and pre-existing
// values must remain readable.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Dev fallbacks keep a bare checkout runnable. Any production deployment
// must set the real secrets; Load warns loudly when a fallback engages.
const (
	devSessionSecret = "opsforge-dev-session-secret-do-not-use"
	devAPIKeySecret  = "opsforge-dev-api-key-secret-do-not-use"
	devBackupSecret  = "opsforge-dev-backup-secret-do-not-use"
)

// Config is the resolved process configuration.
type Config struct {
	HTTPPort string

	// DatabaseURL is opaque to the core; empty selects the in-memory store.
	DatabaseURL string

	// SessionSecret derives the vault key for server credentials (GCM) and
	// signs pending-approval commands.
	SessionSecret string
	// APIKeyEncryptionSecret derives the vault key for user API keys and
	// GitHub tokens (CBC, historical).
	APIKeyEncryptionSecret string
	// EncryptionKey derives the vault key for backup repository passwords.
	// Split from SessionSecret for compatibility with existing ciphertexts.
	EncryptionKey string

	// Provider fallbacks used when a user has not stored their own key.
	AnthropicAPIKey  string
	PerplexityAPIKey string

	// N8NWebhookURL is the optional OTP delivery webhook, consumed by the
	// auth layer outside this core.
	N8NWebhookURL string
}

// LoadEnvFile loads .env from the config directory into the process
// environment. A missing file is logged and ignored; existing variables win.
func LoadEnvFile(configDir string) {
	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
		return
	}
	slog.Info("Loaded environment", "path", envPath)
}

// Load resolves configuration from the environment. It never fails: missing
// secrets engage dev fallbacks with a loud warning so local development
// works out of the box.
func Load() *Config {
	cfg := &Config{
		HTTPPort:               getEnv("HTTP_PORT", "8080"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		SessionSecret:          os.Getenv("SESSION_SECRET"),
		APIKeyEncryptionSecret: os.Getenv("API_KEY_ENCRYPTION_SECRET"),
		EncryptionKey:          os.Getenv("ENCRYPTION_KEY"),
		AnthropicAPIKey:        os.Getenv("ANTHROPIC_API_KEY"),
		PerplexityAPIKey:       os.Getenv("PERPLEXITY_API_KEY"),
		N8NWebhookURL:          os.Getenv("N8N_WEBHOOK_URL"),
	}

	if cfg.SessionSecret == "" {
		slog.Warn("SESSION_SECRET is not set — using an insecure development fallback. " +
			"Credentials sealed with it are NOT protected; set SESSION_SECRET in production.")
		cfg.SessionSecret = devSessionSecret
	}
	if cfg.APIKeyEncryptionSecret == "" {
		slog.Warn("API_KEY_ENCRYPTION_SECRET is not set — using an insecure development fallback")
		cfg.APIKeyEncryptionSecret = devAPIKeySecret
	}
	if cfg.EncryptionKey == "" {
		slog.Warn("ENCRYPTION_KEY is not set — using an insecure development fallback")
		cfg.EncryptionKey = devBackupSecret
	}
	return cfg
}

// Validate rejects configurations the process cannot run with.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("config: HTTP_PORT must not be empty")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
