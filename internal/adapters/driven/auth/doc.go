// Package auth provides the token providers used by the Keap client:
// a static API key, OAuth bearer tokens with refresh, and a null provider.
package auth
