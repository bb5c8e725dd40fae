// Package crypto tests for export archive encryption and decryption.
package crypto

import (
	"bytes"
	"strings"
	"testing"

	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/errors"
)

const testPassword = "correct horse battery"

// =====================================================
// ValidatePassword Tests
// =====================================================

// TestValidatePassword verifies the minimum length boundary.
func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"empty", "", true},
		{"seven chars", "1234567", true},
		{"exact minimum", strings.Repeat("a", PasswordMinLength), false},
		{"long", testPassword, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidatePassword(%q) error = %v, wantErr %v", tt.password, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errors.ErrInvalidPassword) {
				t.Errorf("error code = %s, want INVALID_PASSWORD", errors.CodeOf(err))
			}
		})
	}
}

// =====================================================
// Key Derivation Tests
// =====================================================

// TestDeriveKey verifies determinism and sensitivity to both inputs.
func TestDeriveKey(t *testing.T) {
	salt := bytes.Repeat([]byte{1}, SaltLength)
	otherSalt := bytes.Repeat([]byte{2}, SaltLength)

	k1 := deriveKey(testPassword, salt)
	k2 := deriveKey(testPassword, salt)

	if len(k1) != 32 {
		t.Fatalf("key length = %d, want 32", len(k1))
	}
	if !bytes.Equal(k1, k2) {
		t.Error("same password and salt should derive the same key")
	}
	if bytes.Equal(k1, deriveKey("another password", salt)) {
		t.Error("different passwords should derive different keys")
	}
	if bytes.Equal(k1, deriveKey(testPassword, otherSalt)) {
		t.Error("different salts should derive different keys")
	}
}

// =====================================================
// Header Tests
// =====================================================

// TestHeader_roundTrip verifies serializeHeader and parseHeader agree.
func TestHeader_roundTrip(t *testing.T) {
	in := ArchiveHeader{
		Version:   1,
		Algorithm: algorithm,
		Nonce:     bytes.Repeat([]byte{7}, 12),
		Salt:      bytes.Repeat([]byte{9}, SaltLength),
	}
	data, err := serializeHeader(in)
	if err != nil {
		t.Fatalf("serializeHeader() error = %v", err)
	}
	payload := []byte("ciphertext")

	out, rest, err := parseHeader(append(data, payload...))
	if err != nil {
		t.Fatalf("parseHeader() error = %v", err)
	}
	if out.Version != in.Version || out.Algorithm != in.Algorithm {
		t.Errorf("header = %+v, want %+v", out, in)
	}
	if !bytes.Equal(out.Nonce, in.Nonce) || !bytes.Equal(out.Salt, in.Salt) {
		t.Error("nonce or salt mismatch")
	}
	if !bytes.Equal(rest, payload) {
		t.Errorf("remaining = %q, want %q", rest, payload)
	}
}

// TestSerializeHeader_fieldTooLong verifies the one-byte length prefix limit.
func TestSerializeHeader_fieldTooLong(t *testing.T) {
	_, err := serializeHeader(ArchiveHeader{Version: 1, Algorithm: algorithm, Salt: make([]byte, 256)})
	if err == nil {
		t.Error("serializeHeader() should reject a 256-byte salt")
	}
}

// TestParseHeader_invalid verifies malformed headers are rejected.
func TestParseHeader_invalid(t *testing.T) {
	tests := map[string][]byte{
		"empty":     nil,
		"bad magic": []byte("NOTMAGIC-and-more"),
		"truncated": append([]byte(headerMagic), 1, 11, 'A'),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, _, err := parseHeader(data); err == nil {
				t.Error("parseHeader() should fail")
			}
		})
	}
}

// =====================================================
// Encrypt/Decrypt Tests
// =====================================================

// TestEncryptDecrypt_roundTrip verifies data survives encryption.
func TestEncryptDecrypt_roundTrip(t *testing.T) {
	inputs := map[string][]byte{
		"empty": {},
		"small": []byte(`{"records":[]}`),
		"large": bytes.Repeat([]byte("diary "), 100_000),
	}

	for name, plaintext := range inputs {
		t.Run(name, func(t *testing.T) {
			sealed, err := EncryptArchive(plaintext, testPassword)
			if err != nil {
				t.Fatalf("EncryptArchive() error = %v", err)
			}
			if !IsEncrypted(sealed) {
				t.Error("IsEncrypted() = false for an encrypted archive")
			}
			if len(plaintext) > 0 && bytes.Contains(sealed, plaintext) {
				t.Error("ciphertext contains the plaintext")
			}

			opened, err := DecryptArchive(sealed, testPassword)
			if err != nil {
				t.Fatalf("DecryptArchive() error = %v", err)
			}
			if !bytes.Equal(opened, plaintext) {
				t.Error("round trip changed the data")
			}
		})
	}
}

// TestEncryptArchive_uniqueness verifies salt and nonce are random.
func TestEncryptArchive_uniqueness(t *testing.T) {
	a, err := EncryptArchive([]byte("same"), testPassword)
	if err != nil {
		t.Fatal(err)
	}
	b, err := EncryptArchive([]byte("same"), testPassword)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, b) {
		t.Error("two encryptions of the same data should differ")
	}
}

// TestEncryptArchive_shortPassword verifies weak passwords are refused.
func TestEncryptArchive_shortPassword(t *testing.T) {
	_, err := EncryptArchive([]byte("data"), "short")
	if !errors.Is(err, errors.ErrInvalidPassword) {
		t.Errorf("error = %v, want INVALID_PASSWORD", err)
	}
}

// TestDecryptArchive_failures verifies error codes for bad input.
func TestDecryptArchive_failures(t *testing.T) {
	sealed, err := EncryptArchive([]byte("secret memories"), testPassword)
	if err != nil {
		t.Fatal(err)
	}
	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xFF

	badVersion := append([]byte(nil), sealed...)
	badVersion[len(headerMagic)] = 9

	tests := []struct {
		name     string
		data     []byte
		password string
		want     errors.ErrorCode
	}{
		{"wrong password", sealed, "wrong password!", errors.ErrInvalidPassword},
		{"tampered", tampered, testPassword, errors.ErrInvalidPassword},
		{"not an archive", []byte("plain gzip bytes"), testPassword, errors.ErrCorruptedArchive},
		{"empty", nil, testPassword, errors.ErrCorruptedArchive},
		{"unsupported version", badVersion, testPassword, errors.ErrCorruptedArchive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecryptArchive(tt.data, tt.password)
			if !errors.Is(err, tt.want) {
				t.Errorf("DecryptArchive() error = %v, want code %s", err, tt.want)
			}
		})
	}
}

// TestIsEncrypted verifies plain data is not mistaken for an archive.
func TestIsEncrypted(t *testing.T) {
	if IsEncrypted([]byte{0x1f, 0x8b, 0x08}) {
		t.Error("gzip data reported as encrypted")
	}
	if IsEncrypted(nil) {
		t.Error("empty data reported as encrypted")
	}
}
