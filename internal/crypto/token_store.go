package crypto

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// TokenStore persists sealed bearer tokens under <dir>/secure, one file
// per remote host.
type TokenStore struct {
	dir       string
	machineID string
}

// NewTokenStore creates a TokenStore rooted at dataDir. An empty machineID
// uses MachineID().
func NewTokenStore(dataDir, machineID string) *TokenStore {
	if machineID == "" {
		machineID = MachineID()
	}
	return &TokenStore{
		dir:       filepath.Join(dataDir, "secure"),
		machineID: machineID,
	}
}

// accountFile maps a remote base URL onto a safe file name.
func (s *TokenStore) accountFile(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid remote URL %q", baseURL)
	}
	account := u.Host + u.Path
	account = strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_").Replace(strings.TrimRight(account, "/"))
	return filepath.Join(s.dir, account+".token"), nil
}

// Save seals token and writes it for baseURL.
func (s *TokenStore) Save(baseURL, token string) error {
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}
	path, err := s.accountFile(baseURL)
	if err != nil {
		return err
	}
	key, err := DeriveKey(s.machineID)
	if err != nil {
		return err
	}
	sealed, err := Seal([]byte(token), key)
	if err != nil {
		return fmt.Errorf("failed to seal token: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create secure directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(sealed), 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// Load returns the token stored for baseURL. A missing token returns
// "" and no error.
func (s *TokenStore) Load(baseURL string) (string, error) {
	path, err := s.accountFile(baseURL)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}

	key, err := DeriveKey(s.machineID)
	if err != nil {
		return "", err
	}
	token, err := Open(string(data), key)
	if err != nil {
		return "", fmt.Errorf("failed to open token: %w", err)
	}
	return string(token), nil
}

// Delete removes the token stored for baseURL.
func (s *TokenStore) Delete(baseURL string) error {
	path, err := s.accountFile(baseURL)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete token file: %w", err)
	}
	return nil
}
