// Package keybox seals the homeserver's identity seed at rest. The seed
// file is encrypted with a 32-byte master key supplied out of band via
// KEYHAVEN_MASTER_KEY (base64), so a copied data directory alone does not
// leak the server identity.
package keybox

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// EnvMasterKey holds the base64 master key.
	EnvMasterKey = "KEYHAVEN_MASTER_KEY"

	keyLen   = 32
	nonceLen = 24
)

// ErrSealedBox is returned when a sealed payload cannot be opened:
// truncated data or a wrong master key.
var ErrSealedBox = errors.New("keybox: cannot open sealed box")

// MasterKeyFromEnv loads and decodes the master key.
func MasterKeyFromEnv() (*[keyLen]byte, error) {
	b64 := strings.TrimSpace(os.Getenv(EnvMasterKey))
	if b64 == "" {
		return nil, fmt.Errorf("keybox: %s not set; generate one with: openssl rand -base64 32", EnvMasterKey)
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("keybox: decoding %s: %w", EnvMasterKey, err)
	}
	if len(raw) != keyLen {
		return nil, fmt.Errorf("keybox: %s must decode to %d bytes, got %d", EnvMasterKey, keyLen, len(raw))
	}
	var key [keyLen]byte
	copy(key[:], raw)
	return &key, nil
}

// Seal encrypts plaintext under key. Output layout: nonce || box.
func Seal(key *[keyLen]byte, plaintext []byte) ([]byte, error) {
	var nonce [nonceLen]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, key), nil
}

// Open decrypts a payload produced by Seal.
func Open(key *[keyLen]byte, sealed []byte) ([]byte, error) {
	if len(sealed) < nonceLen+secretbox.Overhead {
		return nil, ErrSealedBox
	}
	var nonce [nonceLen]byte
	copy(nonce[:], sealed[:nonceLen])
	plain, ok := secretbox.Open(nil, sealed[nonceLen:], &nonce, key)
	if !ok {
		return nil, ErrSealedBox
	}
	return plain, nil
}

// SealFile writes Seal(plaintext) to path with owner-only permissions.
func SealFile(key *[keyLen]byte, path string, plaintext []byte) error {
	sealed, err := Seal(key, plaintext)
	if err != nil {
		return err
	}
	return os.WriteFile(path, sealed, 0o600)
}

// OpenFile reads and opens a file written by SealFile.
func OpenFile(key *[keyLen]byte, path string) ([]byte, error) {
	sealed, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Open(key, sealed)
}
