package auth

import (
	"github.com/custodia-labs/keapsync/internal/adapters/driven/oauth"
	"github.com/custodia-labs/keapsync/internal/core/ports/driven"
)

// Settings selects the credential source.
type Settings struct {
	APIKey       string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	TokenFile    string
	// TokenURL overrides the Keap token endpoint.
	TokenURL string
}

// OAuthClient returns the OAuth2 client registration.
func (s Settings) OAuthClient() oauth.Client {
	return oauth.Client{
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		RedirectURI:  s.RedirectURI,
		TokenURL:     s.TokenURL,
	}
}

// NewTokenProvider picks the credential source. An API key wins over
// OAuth. Without either, the returned provider fails every request.
func NewTokenProvider(s Settings) driven.TokenProvider {
	switch {
	case s.APIKey != "":
		return NewAPIKeyProvider(s.APIKey)
	case s.TokenFile != "":
		return NewOAuthProvider(s.OAuthClient(), oauth.NewTokenFile(s.TokenFile))
	default:
		return NewNullTokenProvider()
	}
}
