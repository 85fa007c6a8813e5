package keymanager

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// cipherSuite derives an AES-256 key once at startup via PBKDF2 (§6.2:
// "key derived via PBKDF2 from a platform secret + salt") and uses it for
// authenticated encryption (AES-GCM) of API key material at rest. The
// derived key is cached for the process lifetime per §9's note that the
// encryption-key derivation cache is one of the two pieces of intentional
// global state.
type cipherSuite struct {
	gcm cipher.AEAD
}

func newCipherSuite(secret, salt string) (*cipherSuite, error) {
	key := pbkdf2.Key([]byte(secret), []byte(salt), 100_000, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("keymanager: init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keymanager: init gcm: %w", err)
	}
	return &cipherSuite{gcm: gcm}, nil
}

func (c *cipherSuite) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("keymanager: generate nonce: %w", err)
	}
	sealed := c.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *cipherSuite) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("keymanager: decode ciphertext: %w", err)
	}
	nonceSize := c.gcm.NonceSize()
	if len(raw) < nonceSize {
		return "", fmt.Errorf("keymanager: ciphertext too short")
	}
	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := c.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("keymanager: decrypt: %w", err)
	}
	return string(plaintext), nil
}
