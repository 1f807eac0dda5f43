// Package oauth receives the Keap authorization redirect for "keapsync auth login".
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"sync"
	"time"
)

// CallbackServer listens on the registered redirect URI and hands over the
// authorization code.
type CallbackServer struct {
	mu            sync.Mutex
	addr          string
	path          string
	expectedState string
	codeChan      chan string
	errChan       chan error
	server        *http.Server
	listener      net.Listener
}

// NewCallbackServer creates a server for redirectURI. The host and port of
// the URI are bound locally and only its path is served.
func NewCallbackServer(redirectURI, expectedState string) (*CallbackServer, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URI %q: %w", redirectURI, err)
	}
	if u.Scheme != "http" {
		return nil, fmt.Errorf("redirect URI %q must use http to be received locally", redirectURI)
	}
	host := u.Hostname()
	if host == "" || host == "localhost" {
		host = "127.0.0.1"
	}
	port := u.Port()
	if port == "" {
		port = "80"
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return &CallbackServer{
		addr:          net.JoinHostPort(host, port),
		path:          path,
		expectedState: expectedState,
		codeChan:      make(chan string, 1),
		errChan:       make(chan error, 1),
	}, nil
}

// Start binds the listener and serves in the background.
func (s *CallbackServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleCallback)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	s.addr = listener.Addr().String()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.fail(err)
		}
	}()

	return nil
}

func (s *CallbackServer) fail(err error) {
	select {
	case s.errChan <- err:
	default:
	}
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	q := r.URL.Query()

	if errParam := q.Get("error"); errParam != "" {
		errDesc := q.Get("error_description")
		s.fail(fmt.Errorf("oauth error: %s - %s", errParam, errDesc))
		_, _ = fmt.Fprint(w, resultHTML("Authorization failed", html.EscapeString(errDesc)))
		return
	}

	if state := q.Get("state"); state != s.expectedState {
		s.fail(fmt.Errorf("state mismatch: expected %s, got %s", s.expectedState, state))
		_, _ = fmt.Fprint(w, resultHTML("Authorization failed", "Invalid state parameter."))
		return
	}

	code := q.Get("code")
	if code == "" {
		s.fail(errors.New("no authorization code received"))
		_, _ = fmt.Fprint(w, resultHTML("Authorization failed", "No code received."))
		return
	}

	select {
	case s.codeChan <- code:
	default:
	}
	_, _ = fmt.Fprint(w, resultHTML("Keap connected", "You can close this window and return to keapsync."))
}

// WaitForCode blocks until a code arrives, the callback reports an error,
// or ctx ends.
func (s *CallbackServer) WaitForCode(ctx context.Context) (string, error) {
	select {
	case code := <-s.codeChan:
		return code, nil
	case err := <-s.errChan:
		return "", err
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for authorization callback: %w", ctx.Err())
	}
}

// Stop shuts the server down. It is safe to call more than once.
func (s *CallbackServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Addr returns the bound address, with the real port once started.
func (s *CallbackServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Path returns the served callback path.
func (s *CallbackServer) Path() string {
	return s.path
}

// NewState returns a random value for the OAuth state parameter.
func NewState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func resultHTML(title, message string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
    <title>keapsync</title>
    <style>
        body { font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; display: flex;
               justify-content: center; align-items: center; height: 100vh; margin: 0; background: #FAFAFA; }
        .box { text-align: center; background: white; padding: 48px 64px; border-radius: 16px;
               border: 1px solid #C7C8CC; }
        h1 { color: #333F50; margin: 0 0 8px 0; font-size: 24px; }
        p { color: #7B8088; margin: 0; }
    </style>
</head>
<body>
    <div class="box">
        <h1>%s</h1>
        <p>%s</p>
    </div>
</body>
</html>`, title, message)
}

// OpenBrowser opens the default browser to the given URL.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	return cmd.Start()
}
