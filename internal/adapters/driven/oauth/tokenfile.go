package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/custodia-labs/keapsync/internal/core/domain"
)

// TokenFile persists OAuth tokens as JSON with owner-only permissions.
type TokenFile struct {
	path string
	mu   sync.Mutex
}

// NewTokenFile creates a token file handle. Nothing is read until Load.
func NewTokenFile(path string) *TokenFile {
	return &TokenFile{path: path}
}

// Path returns the file location.
func (f *TokenFile) Path() string {
	return f.path
}

// Load reads the stored token. Returns ErrNotFound if no token was saved.
func (f *TokenFile) Load() (*domain.OAuthToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading token file: %w", err)
	}

	var tok domain.OAuthToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parsing token file: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, domain.ErrNotFound
	}
	return &tok, nil
}

// Save writes the token through a temp file and rename.
func (f *TokenFile) Save(tok *domain.OAuthToken) error {
	if tok == nil {
		return domain.ErrInvalidInput
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating token dir: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing token file: %w", err)
	}
	return nil
}

// Delete removes the stored token.
func (f *TokenFile) Delete() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing token file: %w", err)
	}
	return nil
}
