package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/custodia-labs/keapsync/internal/adapters/driven/oauth"
	"github.com/custodia-labs/keapsync/internal/core/domain"
	"github.com/custodia-labs/keapsync/internal/core/ports/driven"
	"github.com/custodia-labs/keapsync/internal/logger"
)

// Ensure OAuthProvider implements the TokenProvider interface.
var _ driven.TokenProvider = (*OAuthProvider)(nil)

// refresher is the part of oauth.Client the provider needs.
type refresher interface {
	Refresh(ctx context.Context, current *domain.OAuthToken) (*domain.OAuthToken, error)
}

// tokenStore is the part of oauth.TokenFile the provider needs.
type tokenStore interface {
	Load() (*domain.OAuthToken, error)
	Save(tok *domain.OAuthToken) error
}

// OAuthProvider provides bearer tokens from the token file and refreshes
// them shortly before they expire.
type OAuthProvider struct {
	client refresher
	store  tokenStore

	mu     sync.Mutex
	cached *domain.OAuthToken
}

// NewOAuthProvider creates a provider over a token file.
func NewOAuthProvider(client oauth.Client, file *oauth.TokenFile) *OAuthProvider {
	return &OAuthProvider{client: client, store: file}
}

// GetToken returns a valid access token, refreshing if necessary.
func (p *OAuthProvider) GetToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached == nil {
		tok, err := p.store.Load()
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("%w: no OAuth token, run \"keapsync auth login\"", domain.ErrAuthRequired)
		}
		if err != nil {
			return "", err
		}
		p.cached = tok
	}

	if p.cached.NeedsRefresh() {
		if err := p.refreshLocked(ctx); err != nil {
			if !p.cached.IsExpired() {
				// Still usable for a few minutes.
				logger.Warn("token refresh failed, using current token: %v", err)
				return p.cached.AccessToken, nil
			}
			return "", err
		}
	}
	return p.cached.AccessToken, nil
}

// Refresh forces a refresh, used after the API answered 401.
func (p *OAuthProvider) Refresh(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached == nil {
		tok, err := p.store.Load()
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrTokenRefreshFailed, err)
		}
		p.cached = tok
	}
	return p.refreshLocked(ctx)
}

func (p *OAuthProvider) refreshLocked(ctx context.Context) error {
	tok, err := p.client.Refresh(ctx, p.cached)
	if err != nil {
		return err
	}
	if err := p.store.Save(tok); err != nil {
		return fmt.Errorf("saving refreshed token: %w", err)
	}
	p.cached = tok
	logger.Debug("refreshed OAuth token, expires %s", tok.Expiry.Format("2006-01-02T15:04:05Z07:00"))
	return nil
}

// AuthMethod returns AuthMethodOAuth.
func (p *OAuthProvider) AuthMethod() domain.AuthMethod {
	return domain.AuthMethodOAuth
}
