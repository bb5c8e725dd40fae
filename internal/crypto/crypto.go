// Package crypto keeps the remote service bearer token encrypted at rest.
// Tokens are sealed with AES-256-GCM under a key derived from a
// machine identifier, so a copied data directory does not leak them.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"os"
	"runtime"
	"strings"

	"golang.org/x/crypto/hkdf"
)

var (
	// ErrInvalidCiphertext is returned when a sealed value cannot be opened.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	// ErrInvalidKey is returned when the key material is empty.
	ErrInvalidKey = errors.New("invalid key")
)

const keyInfo = "couples-diary token v1"

// DeriveKey derives a 32-byte key from a machine identifier with HKDF-SHA256.
func DeriveKey(machineID string) ([]byte, error) {
	if machineID == "" {
		return nil, ErrInvalidKey
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(machineID), nil, []byte(keyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Seal encrypts plaintext with key and returns nonce||ciphertext as base64.
func Seal(plaintext, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(gcm.Seal(nonce, nonce, plaintext, nil)), nil
}

// Open reverses Seal.
func Open(sealed string, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sealed))
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, ErrInvalidCiphertext
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// MachineID returns a stable identifier for this host. On Linux it reads
// the systemd or dbus machine id; elsewhere, and as a last resort, the
// hostname.
func MachineID() string {
	if runtime.GOOS == "linux" {
		for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
			if data, err := os.ReadFile(path); err == nil {
				if id := strings.TrimSpace(string(data)); id != "" {
					return "linux:" + id
				}
			}
		}
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "localhost"
	}
	return runtime.GOOS + ":" + hostname
}
