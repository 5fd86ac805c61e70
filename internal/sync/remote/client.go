// Package remote is the HTTP client for the workout API the sync engine talks to.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cast"

	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/models"
)

// Config holds remote API connection configuration.
type Config struct {
	BaseURL       string
	SessionCookie string // cookie name carrying SessionToken
	SessionToken  string
	Timeout       time.Duration
}

// TransportError is a network failure or non-2xx answer.
type TransportError struct {
	Method     string
	Path       string
	StatusCode int // 0 when no response arrived
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 || (e.Err != nil && e.Body == "") {
		return fmt.Sprintf("%s %s failed: %v", e.Method, e.Path, e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("%s %s failed with status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s %s failed with status %d", e.Method, e.Path, e.StatusCode)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// PullResponse is the decoded answer of GET /api/sync.
type PullResponse struct {
	Entities map[models.EntityKind][]json.RawMessage
	LastSync string
}

// Count returns the number of entities across all kinds.
func (r *PullResponse) Count() int {
	n := 0
	for _, items := range r.Entities {
		n += len(items)
	}
	return n
}

// Client implements the sync engine's remote API over HTTP.
type Client struct {
	config     *Config
	baseURL    *url.URL
	httpClient *http.Client
}

// NewClient creates a new Client.
func NewClient(config *Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, apperrors.Newf(apperrors.ErrConfig, "invalid remote base url %q", config.BaseURL)
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		config:  config,
		baseURL: base,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}, nil
}

// Create POSTs body to the collection and returns the raw response body.
func (c *Client) Create(ctx context.Context, collection string, body map[string]interface{}) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/api/"+collection, body)
}

// Update PUTs body to the collection and returns the raw response body.
func (c *Client) Update(ctx context.Context, collection string, body map[string]interface{}) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPut, "/api/"+collection, body)
}

// Delete removes ref from the collection. A 404 means it is already gone
// and counts as success.
func (c *Client) Delete(ctx context.Context, collection, ref string, body map[string]interface{}) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/"+collection+"/"+url.PathEscape(ref), body)
	if te, ok := err.(*TransportError); ok && te.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

// Pull fetches remote changes since the given cursor; an empty cursor requests everything.
func (c *Client) Pull(ctx context.Context, since string) (*PullResponse, error) {
	path := "/api/sync"
	if since != "" {
		path += "?since=" + url.QueryEscape(since)
	}
	raw, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, &TransportError{Method: http.MethodGet, Path: path, StatusCode: http.StatusOK, Err: fmt.Errorf("malformed sync response: %w", err)}
	}

	resp := &PullResponse{Entities: make(map[models.EntityKind][]json.RawMessage)}
	for _, kind := range models.Kinds {
		data, ok := top[kind.WireKey()]
		if !ok || string(data) == "null" {
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, &TransportError{Method: http.MethodGet, Path: path, StatusCode: http.StatusOK, Err: fmt.Errorf("malformed %s list: %w", kind.WireKey(), err)}
		}
		resp.Entities[kind] = items
	}
	if data, ok := top["lastSync"]; ok {
		cursor, err := decodeCursor(data)
		if err != nil {
			return nil, &TransportError{Method: http.MethodGet, Path: path, StatusCode: http.StatusOK, Err: fmt.Errorf("malformed lastSync: %w", err)}
		}
		resp.LastSync = cursor
	}
	return resp, nil
}

// decodeCursor reads lastSync as an opaque cursor. Strings and numbers are
// accepted; numbers keep their literal digits.
func decodeCursor(data json.RawMessage) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	switch v.(type) {
	case nil:
		return "", nil
	case string, json.Number:
		return cast.ToStringE(v)
	default:
		return "", fmt.Errorf("unsupported cursor type %T", v)
	}
}

// Ping checks that the server answers GET /health.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/health", nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body map[string]interface{}) (json.RawMessage, error) {
	req, err := c.createRequest(ctx, method, path, body)
	if err != nil {
		return nil, &TransportError{Method: method, Path: path, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Method: method, Path: path, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(truncate(string(data), 512)),
		}
	}
	return data, nil
}

// createRequest creates a JSON request carrying the session credentials.
func (c *Client) createRequest(ctx context.Context, method, path string, body map[string]interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.SessionToken != "" {
		name := c.config.SessionCookie
		if name == "" {
			name = "session"
		}
		req.AddCookie(&http.Cookie{Name: name, Value: c.config.SessionToken})
	}
	return req, nil
}

// IsTransportError reports whether err came from the network or a non-2xx answer.
func IsTransportError(err error) bool {
	_, ok := err.(*TransportError)
	return ok
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
