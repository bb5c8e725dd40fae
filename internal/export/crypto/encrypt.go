// Package crypto encrypts export archives with AES-256-GCM.
// The password is never written into the archive; only the salt and nonce are.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/errors"
)

const (
	// PasswordMinLength is the minimum required password length.
	PasswordMinLength = 8
	// SaltLength is the length of the random salt for key derivation.
	SaltLength = 32
	// KeyIterations is the PBKDF2-SHA256 iteration count.
	KeyIterations = 100_000

	algorithm   = "AES-256-GCM"
	headerMagic = "CDIARY1"
)

// ArchiveHeader precedes the ciphertext of an encrypted archive.
type ArchiveHeader struct {
	Version   uint8
	Algorithm string
	Nonce     []byte
	Salt      []byte
}

// IsEncrypted reports whether data starts with the encrypted archive magic.
func IsEncrypted(data []byte) bool {
	return bytes.HasPrefix(data, []byte(headerMagic))
}

// EncryptArchive seals data with a key derived from password.
// The result is the serialized header followed by the ciphertext.
func EncryptArchive(data []byte, password string) ([]byte, error) {
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, errors.Wrap(errors.ErrExportFailed, "generate salt", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(errors.ErrExportFailed, "generate nonce", err)
	}

	header, err := serializeHeader(ArchiveHeader{
		Version:   1,
		Algorithm: algorithm,
		Nonce:     nonce,
		Salt:      salt,
	})
	if err != nil {
		return nil, err
	}

	return gcm.Seal(header, nonce, data, nil), nil
}

// DecryptArchive opens data produced by EncryptArchive. A wrong password
// and a tampered ciphertext both fail authentication and return
// INVALID_PASSWORD; a malformed header returns CORRUPTED_ARCHIVE.
func DecryptArchive(data []byte, password string) ([]byte, error) {
	header, ciphertext, err := parseHeader(data)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCorruptedArchive, "invalid archive header", err)
	}
	if header.Version != 1 {
		return nil, errors.New(errors.ErrCorruptedArchive, fmt.Sprintf("unsupported archive version: %d", header.Version))
	}
	if header.Algorithm != algorithm {
		return nil, errors.New(errors.ErrCorruptedArchive, "unsupported algorithm: "+header.Algorithm)
	}

	gcm, err := newGCM(password, header.Salt)
	if err != nil {
		return nil, err
	}
	if len(header.Nonce) != gcm.NonceSize() {
		return nil, errors.New(errors.ErrCorruptedArchive, "invalid nonce length")
	}

	plaintext, err := gcm.Open(nil, header.Nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidPassword, "archive authentication failed", err)
	}
	return plaintext, nil
}

// ValidatePassword checks the minimum password length.
func ValidatePassword(password string) error {
	if len(password) < PasswordMinLength {
		return errors.New(errors.ErrInvalidPassword,
			fmt.Sprintf("password must be at least %d characters", PasswordMinLength))
	}
	return nil
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, KeyIterations, 32, sha256.New)
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "create cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "create GCM", err)
	}
	return gcm, nil
}

// =====================================================
// Header Serialization
// =====================================================

// Layout: magic | version | len(alg) alg | len(nonce) nonce | len(salt) salt.
func serializeHeader(h ArchiveHeader) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(headerMagic)
	buf.WriteByte(h.Version)

	for _, field := range [][]byte{[]byte(h.Algorithm), h.Nonce, h.Salt} {
		if len(field) > 255 {
			return nil, errors.New(errors.ErrInternal, "header field too long")
		}
		buf.WriteByte(byte(len(field)))
		buf.Write(field)
	}
	return buf.Bytes(), nil
}

func parseHeader(data []byte) (ArchiveHeader, []byte, error) {
	var header ArchiveHeader
	r := bytes.NewReader(data)

	magic := make([]byte, len(headerMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return header, nil, fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != headerMagic {
		return header, nil, fmt.Errorf("invalid magic number %q", magic)
	}

	version, err := r.ReadByte()
	if err != nil {
		return header, nil, fmt.Errorf("read version: %w", err)
	}
	header.Version = version

	readField := func(name string) ([]byte, error) {
		n, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("read %s length: %w", name, err)
		}
		field := make([]byte, n)
		if _, err := io.ReadFull(r, field); err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return field, nil
	}

	alg, err := readField("algorithm")
	if err != nil {
		return header, nil, err
	}
	header.Algorithm = string(alg)
	if header.Nonce, err = readField("nonce"); err != nil {
		return header, nil, err
	}
	if header.Salt, err = readField("salt"); err != nil {
		return header, nil, err
	}

	consumed := len(data) - r.Len()
	return header, data[consumed:], nil
}
