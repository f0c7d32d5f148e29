package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
)

// MasterKeySize is the only accepted key length (AES-256).
const MasterKeySize = 32

// Encryption seals provider credentials with AES-256-GCM.
// Blob layout: base64(nonce || ciphertext || tag).
type Encryption struct {
	aead cipher.AEAD
}

// NewEncryption creates the codec from a raw 32-byte master key.
func NewEncryption(key []byte) (*Encryption, error) {
	if len(key) != MasterKeySize {
		return nil, fmt.Errorf("invalid key size: must be %d bytes, got %d", MasterKeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Encryption{aead: gcm}, nil
}

// NewEncryptionFromHex creates the codec from a 64-character hex key.
func NewEncryptionFromHex(encodedKey string) (*Encryption, error) {
	if encodedKey == "" {
		return nil, fmt.Errorf("encryption key cannot be empty")
	}
	if len(encodedKey) != MasterKeySize*2 {
		return nil, fmt.Errorf("encryption key must be %d hex characters, got %d", MasterKeySize*2, len(encodedKey))
	}

	key, err := hex.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key must be valid hex: %w", err)
	}

	return NewEncryption(key)
}

// MustNewEncryptionFromHex panics on a malformed master key. Only for
// process startup, where a bad key is unrecoverable.
func MustNewEncryptionFromHex(encodedKey string) *Encryption {
	e, err := NewEncryptionFromHex(encodedKey)
	if err != nil {
		panic(fmt.Sprintf("storage: %v", err))
	}
	return e
}

// GenerateKey returns a fresh hex-encoded master key, suitable for ENCRYPTION_KEY.
func GenerateKey() (string, error) {
	key := make([]byte, MasterKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate random key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (e *Encryption) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Encrypt and prepend nonce
	sealed := e.aead.Seal(nonce, nonce, plaintext, nil)

	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt. Every failure wraps ErrDecryption.
func (e *Encryption) Decrypt(blob string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed encoding: %v", ErrDecryption, err)
	}

	nonceSize := e.aead.NonceSize()
	if len(sealed) < nonceSize+e.aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryption)
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]

	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", ErrDecryption)
	}

	return plaintext, nil
}

// EncryptJSON seals a JSON-serializable map.
func (e *Encryption) EncryptJSON(data map[string]any) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("nothing to encrypt")
	}

	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}

	return e.Encrypt(jsonBytes)
}

// DecryptJSON opens a blob produced by EncryptJSON.
func (e *Encryption) DecryptJSON(blob string) (map[string]any, error) {
	plaintext, err := e.Decrypt(blob)
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal(plaintext, &result); err != nil {
		return nil, fmt.Errorf("%w: payload is not JSON: %v", ErrDecryption, err)
	}

	return result, nil
}
