package keap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/keapsync/internal/core/domain"
	"github.com/custodia-labs/keapsync/internal/core/ports/driven"
	"github.com/custodia-labs/keapsync/internal/logger"
)

const (
	// DefaultBaseURL is the Keap REST API host.
	DefaultBaseURL = "https://api.infusionsoft.com"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 60 * time.Second

	// HeaderAPIKey carries a service account key.
	HeaderAPIKey = "X-Keap-API-Key"

	// maxErrorBody bounds how much of an error response ends up in a message.
	maxErrorBody = 512
)

// fallbackListKeys are tried after the entity's own list keys.
var fallbackListKeys = []string{"items", "data", "results"}

// Ensure Client implements the RecordSource interface.
var _ driven.RecordSource = (*Client)(nil)

// Options configures a Client.
type Options struct {
	BaseURL string
	Timeout time.Duration
	// RequestsPerSecond paces requests. Zero disables pacing.
	RequestsPerSecond float64
	// HTTPClient replaces the default client, mainly for tests.
	HTTPClient *http.Client
}

// Client fetches pages from the Keap REST API.
type Client struct {
	base    string
	http    *http.Client
	tokens  driven.TokenProvider
	limiter *rate.Limiter
}

// NewClient creates a Keap client authenticated by tokens.
func NewClient(tokens driven.TokenProvider, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return &Client{
		base:    strings.TrimRight(opts.BaseURL, "/"),
		http:    httpClient,
		tokens:  tokens,
		limiter: limiter,
	}
}

// FetchPage issues one GET for the window described by req.
// A 401 triggers one credential refresh and one retry.
func (c *Client) FetchPage(ctx context.Context, req driven.PageRequest) (*driven.Page, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	u, err := c.pageURL(req)
	if err != nil {
		return nil, err
	}

	resp, body, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && c.tokens.AuthMethod() == domain.AuthMethodOAuth {
		logger.Info("keap answered 401 for %s, refreshing token", req.Endpoint)
		if err := c.tokens.Refresh(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrAuthExpired, err)
		}
		resp, body, err = c.get(ctx, u)
		if err != nil {
			return nil, err
		}
	}

	meta := driven.ResponseMeta{StatusCode: resp.StatusCode, Header: resp.Header, Size: len(body)}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &driven.Page{Meta: meta}, &domain.APIError{
			StatusCode: resp.StatusCode,
			Endpoint:   req.Endpoint,
			Message:    errorMessage(body),
			Header:     resp.Header,
		}
	}

	items, err := extractItems(body, listKeys(req))
	if err != nil {
		return &driven.Page{Meta: meta}, fmt.Errorf("%w: decoding %s: %w", domain.ErrInvalidResponse, req.Endpoint, err)
	}
	return &driven.Page{Items: items, Meta: meta}, nil
}

func (c *Client) pageURL(req driven.PageRequest) (string, error) {
	u, err := url.Parse(c.base + req.Endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: endpoint %q: %w", domain.ErrInvalidInput, req.Endpoint, err)
	}
	q := u.Query()
	for k, v := range req.Params {
		q.Set(k, v)
	}
	q.Set("limit", strconv.Itoa(req.Limit))
	q.Set("offset", strconv.Itoa(req.Offset))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// get performs the request and reads the whole body.
func (c *Client) get(ctx context.Context, u string) (*http.Response, []byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if err := c.authorize(ctx, httpReq); err != nil {
		return nil, nil, err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("request %s: %w", httpReq.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read body: %w", err)
	}
	return resp, body, nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	token, err := c.tokens.GetToken(ctx)
	if err != nil {
		return fmt.Errorf("get token: %w", err)
	}
	switch c.tokens.AuthMethod() {
	case domain.AuthMethodAPIKey:
		req.Header.Set(HeaderAPIKey, token)
	case domain.AuthMethodOAuth:
		req.Header.Set("Authorization", "Bearer "+token)
	default:
		return domain.ErrAuthRequired
	}
	return nil
}

func listKeys(req driven.PageRequest) []string {
	keys := make([]string, 0, len(req.ListKeys)+len(fallbackListKeys)+1)
	keys = append(keys, req.ListKeys...)
	if req.Entity != "" {
		keys = append(keys, req.Entity)
	}
	return append(keys, fallbackListKeys...)
}

// extractItems accepts a bare array or an object holding the array under
// one of keys. An object without any of them is an empty page.
func extractItems(body []byte, keys []string) ([]domain.RawRecord, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	if body[0] == '[' {
		var items []domain.RawRecord
		if err := dec.Decode(&items); err != nil {
			return nil, err
		}
		return items, nil
	}

	var envelope map[string]json.RawMessage
	if err := dec.Decode(&envelope); err != nil {
		return nil, err
	}
	for _, key := range keys {
		raw, ok := envelope[key]
		if !ok || string(raw) == "null" {
			continue
		}
		var items []domain.RawRecord
		inner := json.NewDecoder(bytes.NewReader(raw))
		inner.UseNumber()
		if err := inner.Decode(&items); err != nil {
			return nil, fmt.Errorf("list under %q: %w", key, err)
		}
		return items, nil
	}
	return nil, nil
}

// errorMessage pulls "message" out of a JSON error body, or returns
// the start of the raw body.
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Fault   struct {
			FaultString string `json:"faultstring"`
		} `json:"fault"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Fault.FaultString != "" {
			return payload.Fault.FaultString
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		cut := maxErrorBody
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}
	return msg
}

// IsAuthError reports whether err means the credentials are missing or rejected.
func IsAuthError(err error) bool {
	return errors.Is(err, domain.ErrAuthRequired) ||
		errors.Is(err, domain.ErrAuthExpired) ||
		domain.IsUnauthorized(err)
}
