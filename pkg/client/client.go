// Package client is a Go SDK for the mstress HTTP API. Agents and
// applications can import it instead of shelling out to the CLI.
//
// Usage:
//
//	c := client.New("http://mstress.internal:8080")
//	res, err := c.Echo(ctx, "alice")
//	results, err := c.Flood(ctx, []string{"alice", "bob"}, 100)
//	stats, err := c.ThroughputAll(ctx)
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

	"github.com/natssync/mstress/pkg/types"
)

var ErrNotFound = errors.New("not found")

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

// Client talks to a single mstress server.
type Client struct {
	serverURL  string
	httpClient *http.Client
	apiKey     string
}

// Option configures the Client.
type Option func(*Client)

// WithAPIKey sets a bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client targeting serverURL. Probes can run for a while, so
// the default http.Client has no timeout; bound calls with ctx instead.
func New(serverURL string, opts ...Option) *Client {
	c := &Client{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ServerURL() string {
	return c.serverURL
}

// Healthy returns nil if the server is reachable and its NATS connection is up.
func (c *Client) Healthy(ctx context.Context) error {
	var resp types.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return fmt.Errorf("server unhealthy: %w", err)
	}
	return nil
}

func (c *Client) Version(ctx context.Context) (string, error) {
	var resp types.VersionResponse
	if err := c.do(ctx, http.MethodGet, "/version", nil, &resp); err != nil {
		return "", err
	}
	return resp.Version, nil
}

// Clients lists the client identifiers in the server's directory.
func (c *Client) Clients(ctx context.Context) (types.ClientCollection, error) {
	var resp types.ClientCollection
	err := c.do(ctx, http.MethodGet, "/clients", nil, &resp)
	return resp, err
}

func (c *Client) AddClient(ctx context.Context, client string) error {
	return c.do(ctx, http.MethodPost, "/clients", types.ClientRequest{Client: client}, nil)
}

// RemoveClient returns ErrNotFound when the directory did not know client.
func (c *Client) RemoveClient(ctx context.Context, client string) error {
	err := c.do(ctx, http.MethodDelete, "/clients/"+url.PathEscape(client), nil, nil)
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return err
}

// Echo runs a single round-trip probe against client. A client that does
// not answer yields a result with Success false and a nil error.
func (c *Client) Echo(ctx context.Context, client string) (types.TestResult, error) {
	var resp types.TestResult
	err := c.do(ctx, http.MethodGet, "/tests/"+url.PathEscape(client), nil, &resp)
	return resp, err
}

// Flood sends count requests to each client and reports per-client results.
func (c *Client) Flood(ctx context.Context, clients []string, count int) ([]types.TestResult, error) {
	var resp []types.TestResult
	err := c.do(ctx, http.MethodPost, "/tests", types.NewTest{Clients: clients, TestCount: count}, &resp)
	return resp, err
}

func (c *Client) Throughput(ctx context.Context, client string) (types.ThroughputResult, error) {
	var resp types.ThroughputResult
	err := c.do(ctx, http.MethodGet, "/tests/"+url.PathEscape(client)+"/mps", nil, &resp)
	return resp, err
}

// ThroughputAll measures every directory client and returns the aggregate.
func (c *Client) ThroughputAll(ctx context.Context) (types.StatsCollection, error) {
	var resp types.StatsCollection
	err := c.do(ctx, http.MethodGet, "/tests/mps", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	se := &StatusError{StatusCode: resp.StatusCode}
	if json.Unmarshal(data, &body) == nil {
		se.Message = body.Message
		if se.Message == "" {
			se.Message = body.Error
		}
	}
	return se
}
