//nolint:noctx // Test file uses http.Get for convenience; context not required in tests
package oauth

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRedirect = "http://localhost:0/keap/oauth/callback"

func startServer(t *testing.T, state string) *CallbackServer {
	t.Helper()
	server, err := NewCallbackServer(testRedirect, state)
	require.NoError(t, err)
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

func callbackURL(s *CallbackServer, query string) string {
	return fmt.Sprintf("http://%s%s?%s", s.Addr(), s.Path(), query)
}

func TestNewCallbackServer(t *testing.T) {
	server, err := NewCallbackServer("http://localhost:5000/keap/oauth/callback", "state-1")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:5000", server.Addr())
	assert.Equal(t, "/keap/oauth/callback", server.Path())
	assert.Equal(t, "state-1", server.expectedState)
	assert.Nil(t, server.server)
}

func TestNewCallbackServer_Defaults(t *testing.T) {
	server, err := NewCallbackServer("http://127.0.0.1", "s")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:80", server.Addr())
	assert.Equal(t, "/", server.Path())
}

func TestNewCallbackServer_RejectsHTTPS(t *testing.T) {
	_, err := NewCallbackServer("https://example.com/callback", "s")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must use http")
}

func TestCallbackServer_StartBindsRealPort(t *testing.T) {
	server := startServer(t, "s")
	assert.NotEqual(t, "127.0.0.1:0", server.Addr())
}

func TestCallbackServer_PortInUse(t *testing.T) {
	first := startServer(t, "s")

	second, err := NewCallbackServer("http://"+first.Addr()+"/cb", "s")
	require.NoError(t, err)
	err = second.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}

func TestCallbackServer_Stop(t *testing.T) {
	notStarted, err := NewCallbackServer(testRedirect, "s")
	require.NoError(t, err)
	require.NoError(t, notStarted.Stop())

	server, err := NewCallbackServer(testRedirect, "s")
	require.NoError(t, err)
	require.NoError(t, server.Start())
	require.NoError(t, server.Stop())
	require.NoError(t, server.Stop())
}

func TestCallbackServer_Success(t *testing.T) {
	server := startServer(t, "good-state")

	resp, err := http.Get(callbackURL(server, "code=abc123&state=good-state"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html", resp.Header.Get("Content-Type"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	code, err := server.WaitForCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc123", code)
}

func TestCallbackServer_Failures(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"state mismatch", "code=x&state=wrong", "state mismatch"},
		{"missing code", "state=good", "no authorization code"},
		{"provider error", "error=access_denied&error_description=denied", "access_denied"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := startServer(t, "good")

			resp, err := http.Get(callbackURL(server, tt.query))
			require.NoError(t, err)
			resp.Body.Close()

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_, err = server.WaitForCode(ctx)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCallbackServer_WaitTimesOut(t *testing.T) {
	server := startServer(t, "s")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := server.WaitForCode(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCallbackServer_OtherPathsNotServed(t *testing.T) {
	server := startServer(t, "s")

	resp, err := http.Get(fmt.Sprintf("http://%s/elsewhere?code=x&state=s", server.Addr()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNewState(t *testing.T) {
	a, err := NewState()
	require.NoError(t, err)
	b, err := NewState()
	require.NoError(t, err)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}
