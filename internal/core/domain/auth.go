package domain

import "time"

// AuthMethod is how requests to the Keap API are authenticated.
type AuthMethod string

const (
	// AuthMethodNone means no credentials are configured.
	AuthMethodNone AuthMethod = "none"
	// AuthMethodAPIKey sends a service account key in X-Keap-API-Key.
	AuthMethodAPIKey AuthMethod = "api_key"
	// AuthMethodOAuth sends a bearer token obtained through OAuth2.
	AuthMethodOAuth AuthMethod = "oauth"
)

// tokenRefreshSkew refreshes a little before the real expiry.
const tokenRefreshSkew = 5 * time.Minute

// OAuthToken represents stored OAuth credentials.
type OAuthToken struct {
	// AccessToken is the bearer token for API access.
	AccessToken string `json:"access_token"`
	// RefreshToken is used to obtain new access tokens.
	RefreshToken string `json:"refresh_token,omitempty"`
	// TokenType is typically "Bearer".
	TokenType string `json:"token_type"`
	// Expiry is when the access token expires.
	Expiry time.Time `json:"expiry,omitempty"`
}

// IsExpired returns true if the token has expired.
func (t *OAuthToken) IsExpired() bool {
	if t.Expiry.IsZero() {
		return false
	}
	return time.Now().After(t.Expiry)
}

// NeedsRefresh reports whether the token expires within the refresh skew.
func (t *OAuthToken) NeedsRefresh() bool {
	if t.Expiry.IsZero() {
		return false
	}
	return time.Now().Add(tokenRefreshSkew).After(t.Expiry)
}
