// Package client is the Go SDK for the epochsync-store key-value server.
//
// # Quick start
//
//	c := client.New("http://localhost:8080")
//
//	// Write a record
//	err := c.Put(ctx, "a1b2c3d4e5f6", json.RawMessage(`{"endTime":1700000300}`))
//
//	// Read it back
//	raw, err := c.Get(ctx, "a1b2c3d4e5f6")
//	if client.IsNotFound(err) {
//	    // no record under that key
//	}
//
//	// Follow changes
//	events, err := c.Watch(ctx, "a1b2c3d4e5f6")
//	for ev := range events {
//	    fmt.Println(ev.Type, string(ev.Value))
//	}
//
// # Error handling
//
// All methods return an *APIError when the server responds with a non-2xx
// status code. Check errors.As(err, &client.APIError{}) to inspect the HTTP
// status and server message.
//
// # Connection reuse
//
// Client is safe for concurrent use. It shares a single http.Client internally
// so connections are reused across goroutines.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gorillaws "github.com/gorilla/websocket"
)

// ─── Error type ───────────────────────────────────────────────────────────────

// APIError is returned when the server responds with a non-2xx status.
type APIError struct {
	StatusCode int    // HTTP status code
	Message    string // "error" field from the JSON response body
}

func (e *APIError) Error() string {
	return fmt.Sprintf("epochsync: server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether the error is a 404 from the server.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// IsUnauthorized reports whether the server rejected the API key.
func IsUnauthorized(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) &&
		(ae.StatusCode == http.StatusUnauthorized || ae.StatusCode == http.StatusForbidden)
}

// ─── Client options ───────────────────────────────────────────────────────────

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIKey sets the API key sent in every request as the X-Api-Key header.
// Required when the server has auth.enabled = true.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the default http.Client.
// Use this to configure TLS, proxies, or request tracing.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout.
// The default is 10 seconds. Watch connections are not subject to it.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.http.Timeout = d }
}

// ─── Client ───────────────────────────────────────────────────────────────────

// Client is the epochsync-store API client. It is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	dialer  *gorillaws.Dialer
}

// New creates a new Client that connects to the server at baseURL.
//
//	c := client.New("http://localhost:8080")
//	c := client.New("https://timers.example.com", client.WithAPIKey("secret"))
func New(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		dialer: &gorillaws.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the server address this client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// ─── Domain types ─────────────────────────────────────────────────────────────

// Event is one change pushed by Watch.
type Event struct {
	// Type is "put" or "delete".
	Type string `json:"type"`
	Key  string `json:"key"`
	// Value is the new JSON value for "put" events, empty for "delete".
	Value json.RawMessage `json:"value,omitempty"`
}

// HealthInfo is returned by Health.
type HealthInfo struct {
	Status  string
	NodeID  string
	Keys    int
	Uptime  time.Duration
	Version string
}

// ─── Keys ─────────────────────────────────────────────────────────────────────

// Get returns the raw JSON value stored under key.
// A missing key yields an *APIError for which IsNotFound reports true.
func (c *Client) Get(ctx context.Context, key string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, keyPath(key), nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Put stores value under key, replacing any previous value.
func (c *Client) Put(ctx context.Context, key string, value json.RawMessage) error {
	return c.do(ctx, http.MethodPut, keyPath(key), value, nil)
}

// Delete removes key. The server answers 204 whether or not it existed.
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodDelete, keyPath(key), nil, nil)
}

// Watch opens a websocket to the server and streams changes to key.
// The channel is closed when ctx is done or the connection drops.
func (c *Client) Watch(ctx context.Context, key string) (<-chan Event, error) {
	wsURL, err := c.wsURL(keyPath(key) + "/watch")
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if c.apiKey != "" {
		header.Set("X-Api-Key", c.apiKey)
	}

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return nil, fmt.Errorf("epochsync: watch %s: %w", key, err)
	}

	out := make(chan Event, 16)

	// Closing the connection unblocks ReadMessage below.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	go func() {
		defer close(out)
		defer conn.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ev Event
			if jsonErr := json.Unmarshal(raw, &ev); jsonErr != nil {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// ─── Health ───────────────────────────────────────────────────────────────────

// Health returns the server's health status.
func (c *Client) Health(ctx context.Context) (*HealthInfo, error) {
	var resp struct {
		Status   string `json:"status"`
		NodeID   string `json:"node_id"`
		Keys     int    `json:"keys"`
		UptimeMs int64  `json:"uptime_ms"`
		Version  string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &HealthInfo{
		Status:  resp.Status,
		NodeID:  resp.NodeID,
		Keys:    resp.Keys,
		Uptime:  time.Duration(resp.UptimeMs) * time.Millisecond,
		Version: resp.Version,
	}, nil
}

// ─── HTTP transport ───────────────────────────────────────────────────────────

func keyPath(key string) string {
	return "/keys/" + url.PathEscape(key)
}

// wsURL rewrites the http(s) base URL to ws(s) and appends path.
func (c *Client) wsURL(path string) (string, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("epochsync: parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String(), nil
}

// do performs a single HTTP request.
// body is sent verbatim when it is a json.RawMessage and JSON-encoded
// otherwise. resp is decoded from JSON when non-nil; a *json.RawMessage
// receives the body bytes untouched.
// A 204 No Content response is treated as success with no body.
func (c *Client) do(ctx context.Context, method, path string, body, resp any) error {
	var reqBody io.Reader
	if body != nil {
		var data []byte
		if raw, ok := body.(json.RawMessage); ok {
			data = raw
		} else {
			var err error
			data, err = json.Marshal(body)
			if err != nil {
				return fmt.Errorf("epochsync: marshal request: %w", err)
			}
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("epochsync: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("epochsync: request %s %s: %w", method, path, err)
	}
	defer httpResp.Body.Close()

	// Success without body
	if httpResp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("epochsync: read response body: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		msg := errResp.Error
		if msg == "" {
			msg = http.StatusText(httpResp.StatusCode)
		}
		return &APIError{StatusCode: httpResp.StatusCode, Message: msg}
	}

	if raw, ok := resp.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], respBody...)
		return nil
	}
	if resp != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, resp); err != nil {
			return fmt.Errorf("epochsync: decode response: %w", err)
		}
	}
	return nil
}
