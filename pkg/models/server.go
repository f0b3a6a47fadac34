package models

import "time"

// AuthMethod identifies how a server credential authenticates.
type AuthMethod string

const (
	AuthMethodPassword AuthMethod = "password"
	AuthMethodKey      AuthMethod = "key"
)

// Server is a managed remote host reachable over SSH.
// EncryptedCredential is a vault-sealed string and is only decrypted
// for the duration of an SSH connect.
type Server struct {
	ID                  string     `json:"id"`
	UserID              string     `json:"user_id"`
	Name                string     `json:"name"`
	Host                string     `json:"host"`
	Port                int        `json:"port"`
	Username            string     `json:"username"`
	AuthMethod          AuthMethod `json:"auth_method"`
	EncryptedCredential string     `json:"-"`
	LastConnectedAt     *time.Time `json:"last_connected_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

// CreateServerRequest contains fields for registering a server.
type CreateServerRequest struct {
	UserID     string     `json:"user_id"`
	Name       string     `json:"name"`
	Host       string     `json:"host"`
	Port       int        `json:"port"`
	Username   string     `json:"username"`
	AuthMethod AuthMethod `json:"auth_method"`
	// Credential is the plaintext password or private key; the store
	// implementation must seal it before persisting.
	Credential string `json:"credential"`
}
