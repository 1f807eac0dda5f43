package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/custodia-labs/keapsync/internal/core/domain"
)

// Keap OAuth2 endpoints.
const (
	AuthURL  = "https://accounts.infusionsoft.com/app/oauth/authorize"
	TokenURL = "https://api.infusionsoft.com/token"
)

// defaultExpiresIn is assumed when the server omits expires_in.
const defaultExpiresIn = 3000 * time.Second

// Client holds the OAuth2 client registration.
type Client struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	// TokenURL overrides the Keap token endpoint.
	TokenURL string
}

// Config returns the oauth2 configuration for the client.
func (c Client) Config() *oauth2.Config {
	tokenURL := c.TokenURL
	if tokenURL == "" {
		tokenURL = TokenURL
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURI,
		Scopes:       []string{"full"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   AuthURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthCodeURL builds the URL the user opens to grant access.
func (c Client) AuthCodeURL(state string) string {
	return c.Config().AuthCodeURL(state)
}

// Exchange trades an authorization code for tokens.
func (c Client) Exchange(ctx context.Context, code string) (*domain.OAuthToken, error) {
	if c.ClientID == "" || c.ClientSecret == "" {
		return nil, fmt.Errorf("%w: KEAP_CLIENT_ID and KEAP_CLIENT_SECRET are required", domain.ErrAuthRequired)
	}
	tok, err := c.Config().Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging code: %w", describe(err))
	}
	return fromOAuth2(tok), nil
}

// Refresh obtains a new access token with the refresh token.
func (c Client) Refresh(ctx context.Context, current *domain.OAuthToken) (*domain.OAuthToken, error) {
	if current == nil || current.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token", domain.ErrTokenRefreshFailed)
	}
	// An expired copy forces the token source to hit the endpoint.
	stale := &oauth2.Token{
		AccessToken:  current.AccessToken,
		RefreshToken: current.RefreshToken,
		TokenType:    current.TokenType,
		Expiry:       time.Unix(1, 0),
	}
	tok, err := c.Config().TokenSource(ctx, stale).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrTokenRefreshFailed, describe(err))
	}
	out := fromOAuth2(tok)
	if out.RefreshToken == "" {
		out.RefreshToken = current.RefreshToken
	}
	return out, nil
}

func fromOAuth2(tok *oauth2.Token) *domain.OAuthToken {
	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = time.Now().Add(defaultExpiresIn)
	}
	tokenType := tok.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &domain.OAuthToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tokenType,
		Expiry:       expiry,
	}
}

// describe surfaces the server's error code when the token endpoint rejected the request.
func describe(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.ErrorCode != "" {
		return fmt.Errorf("token error: %s - %s", re.ErrorCode, re.ErrorDescription)
	}
	return err
}
