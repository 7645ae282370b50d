package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// keySalt is shared by every credential. Kept for compatibility with stored
// ciphertexts; a per-credential random salt would be the hardened layout.
const keySalt = "flowwatch-credential-v1"

const (
	keyIterations = 100_000
	keyLength     = 32
	nonceLength   = 12
)

// ErrMissingSecret indicates the encryption secret was not configured.
var ErrMissingSecret = errors.New("vault: encryption secret required")

// ErrDecrypt indicates ciphertext could not be authenticated or parsed.
var ErrDecrypt = errors.New("vault: decryption failed")

// deriveKey stretches the secret into a 256-bit AES key.
func deriveKey(secret string) []byte {
	return pbkdf2.Key([]byte(secret), []byte(keySalt), keyIterations, keyLength, sha256.New)
}

// Encrypt seals plaintext with AES-256-GCM under a key derived from secret.
// The result is base64(nonce || ciphertext) with a fresh nonce per call.
func Encrypt(plaintext, secret string) (string, error) {
	if secret == "" {
		return "", ErrMissingSecret
	}
	block, err := aes.NewCipher(deriveKey(secret))
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, nonceLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Any malformed input, truncation, or
// authentication failure yields ErrDecrypt; plaintext is never returned
// unless the tag verifies.
func Decrypt(ciphertext, secret string) (string, error) {
	if secret == "" {
		return "", ErrMissingSecret
	}
	payload, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecrypt
	}
	if len(payload) < nonceLength {
		return "", ErrDecrypt
	}
	block, err := aes.NewCipher(deriveKey(secret))
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	plain, err := gcm.Open(nil, payload[:nonceLength], payload[nonceLength:], nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
