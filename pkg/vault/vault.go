// Package vault seals credentials at rest.
//
// Server credentials and backup passwords use AES-256-GCM with a random
// 96-bit IV per value. User-provided API keys use AES-256-CBC with PKCS#7
// padding; the split is historical but must be preserved so pre-existing
// ciphertexts remain readable. Keys are derived from process-wide secrets
// via scrypt with a fixed application salt.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// Serialization formats:
//
//	GCM: hex(iv12) ":" hex(tag16) ":" hex(ciphertext)
//	CBC: hex(iv16) ":" hex(ciphertext)
const (
	gcmIVSize  = 12
	gcmTagSize = 16
	cbcIVSize  = aes.BlockSize
	keySize    = 32
)

// appSalt is the fixed application salt for scrypt key derivation. Changing
// it invalidates every ciphertext ever written.
var appSalt = []byte("opsforge-credential-salt")

var (
	// ErrInvalidFormat reports a ciphertext whose serialization cannot be parsed.
	ErrInvalidFormat = errors.New("vault: invalid ciphertext format")
	// ErrAuthFail reports a GCM tag verification failure or CBC padding corruption.
	ErrAuthFail = errors.New("vault: authentication failed")
)

// Vault seals and opens credential strings with a single derived key.
type Vault struct {
	key []byte
}

// New derives a 32-byte key from secret and returns a vault around it.
func New(secret string) (*Vault, error) {
	if secret == "" {
		return nil, errors.New("vault: secret must not be empty")
	}
	key, err := scrypt.Key([]byte(secret), appSalt, 16384, 8, 1, keySize)
	if err != nil {
		return nil, fmt.Errorf("vault: key derivation failed: %w", err)
	}
	return &Vault{key: key}, nil
}

// EncryptGCM seals plaintext with AES-256-GCM.
func (v *Vault) EncryptGCM(plaintext string) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("vault: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("vault: %w", err)
	}

	iv := make([]byte, gcmIVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("vault: iv generation failed: %w", err)
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-gcmTagSize], sealed[len(sealed)-gcmTagSize:]

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ct), nil
}

// DecryptGCM opens a value produced by EncryptGCM. Returns ErrInvalidFormat
// when the serialization does not have three hex parts and ErrAuthFail when
// the tag does not verify.
func (v *Vault) DecryptGCM(value string) (string, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return "", ErrInvalidFormat
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != gcmIVSize {
		return "", ErrInvalidFormat
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != gcmTagSize {
		return "", ErrInvalidFormat
	}
	ct, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrInvalidFormat
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("vault: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("vault: %w", err)
	}

	plaintext, err := gcm.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", ErrAuthFail
	}
	return string(plaintext), nil
}

// EncryptCBC seals plaintext with AES-256-CBC + PKCS#7. Only the API-key
// vault should use this scheme; new credential types go through GCM.
func (v *Vault) EncryptCBC(plaintext string) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("vault: %w", err)
	}

	iv := make([]byte, cbcIVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("vault: iv generation failed: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ct), nil
}

// DecryptCBC opens a value produced by EncryptCBC.
func (v *Vault) DecryptCBC(value string) (string, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return "", ErrInvalidFormat
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != cbcIVSize {
		return "", ErrInvalidFormat
	}
	ct, err := hex.DecodeString(parts[1])
	if err != nil || len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", ErrInvalidFormat
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("vault: %w", err)
	}
	padded := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ct)

	plaintext, err := pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		return "", ErrAuthFail
	}
	return string(plaintext), nil
}

// Sign returns a hex HMAC-SHA256 of msg under the vault key. Used to bind
// pending-approval commands so a client cannot substitute an arbitrary one.
func (v *Vault) Sign(msg string) string {
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is a valid signature of msg.
func (v *Vault) Verify(msg, sig string) bool {
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(msg))
	return hmac.Equal(mac.Sum(nil), want)
}

// MaskAPIKey returns a display form of an API key: first seven characters,
// a bullet run, last four. Short values are fully masked.
func MaskAPIKey(v string) string {
	if len(v) < 12 {
		return "••••"
	}
	return v[:7] + "••••" + v[len(v)-4:]
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+n)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("vault: invalid padded length")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, errors.New("vault: invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("vault: invalid padding")
		}
	}
	return data[:len(data)-n], nil
}
