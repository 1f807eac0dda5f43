package auth

import (
	"context"

	"github.com/custodia-labs/keapsync/internal/core/domain"
	"github.com/custodia-labs/keapsync/internal/core/ports/driven"
)

var (
	_ driven.TokenProvider = (*APIKeyProvider)(nil)
	_ driven.TokenProvider = (*NullTokenProvider)(nil)
)

// APIKeyProvider returns a static service account key.
// Keys don't expire, so Refresh has nothing to do.
type APIKeyProvider struct {
	key string
}

// NewAPIKeyProvider creates a provider for a Keap service account key.
func NewAPIKeyProvider(key string) *APIKeyProvider {
	return &APIKeyProvider{key: key}
}

// GetToken returns the API key.
func (p *APIKeyProvider) GetToken(_ context.Context) (string, error) {
	return p.key, nil
}

// Refresh is a no-op.
func (p *APIKeyProvider) Refresh(_ context.Context) error {
	return nil
}

// AuthMethod returns AuthMethodAPIKey.
func (p *APIKeyProvider) AuthMethod() domain.AuthMethod {
	return domain.AuthMethodAPIKey
}

// NullTokenProvider is used when no credentials are configured.
// Every request fails with ErrAuthRequired.
type NullTokenProvider struct{}

// NewNullTokenProvider creates a provider with no credentials.
func NewNullTokenProvider() *NullTokenProvider {
	return &NullTokenProvider{}
}

// GetToken always fails.
func (p *NullTokenProvider) GetToken(_ context.Context) (string, error) {
	return "", domain.ErrAuthRequired
}

// Refresh always fails.
func (p *NullTokenProvider) Refresh(_ context.Context) error {
	return domain.ErrAuthRequired
}

// AuthMethod returns AuthMethodNone.
func (p *NullTokenProvider) AuthMethod() domain.AuthMethod {
	return domain.AuthMethodNone
}
