// Package oauth talks to the Keap OAuth2 authorization server and
// persists the resulting tokens in a JSON file.
package oauth
