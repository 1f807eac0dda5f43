package driven

import (
	"context"

	"github.com/custodia-labs/keapsync/internal/core/domain"
)

// TokenProvider provides credentials for authenticated API calls.
// Implementations handle token refresh transparently.
//
// For API key auth GetToken returns the key and Refresh is a no-op.
type TokenProvider interface {
	// GetToken returns a valid credential.
	// If the current token is expired, it will be refreshed automatically.
	GetToken(ctx context.Context) (string, error)

	// Refresh forces a token refresh, e.g. after the API answered 401.
	Refresh(ctx context.Context) error

	// AuthMethod returns the authentication method (api_key, oauth, none).
	AuthMethod() domain.AuthMethod
}
