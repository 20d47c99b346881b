package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Client provides HTTP client functionality to communicate with a previewd daemon
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration. The timeout sits well
// above the daemon's readiness window so a first toggle does not give up
// while the preview tool is still starting.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8710/api",
		Timeout: 30 * time.Second,
	}
}

// New creates a new previewd API client
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:8710/api"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/healthz", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	isReachable := resp.StatusCode != http.StatusNotFound
	c.logger.Debug("Daemon reachability check", "reachable", isReachable, "status", resp.StatusCode)
	return isReachable
}

// Toggle flips the preview session for key and reports the resulting state
func (c *Client) Toggle(ctx context.Context, key string) (ToggleResult, error) {
	c.logger.Debug("Toggling preview", "key", key)

	var res ToggleResult
	if err := c.postKey(ctx, "/toggle", key, &res); err != nil {
		return ToggleResult{}, err
	}

	c.logger.Debug("Toggle completed", "key", res.Key, "running", res.Running)
	return res, nil
}

// Start ensures a preview session for key is running and returns its endpoint
func (c *Client) Start(ctx context.Context, key string) (StartResult, error) {
	c.logger.Debug("Starting preview", "key", key)

	var res StartResult
	if err := c.postKey(ctx, "/start", key, &res); err != nil {
		return StartResult{}, err
	}

	c.logger.Debug("Preview start completed", "key", res.Key, "endpoint", res.Endpoint)
	return res, nil
}

// Stop tears down the preview session for key. Stopping a key with no live
// session succeeds.
func (c *Client) Stop(ctx context.Context, key string) error {
	c.logger.Debug("Stopping preview", "key", key)

	if err := c.postKey(ctx, "/stop", key, nil); err != nil {
		return err
	}

	c.logger.Debug("Preview stop completed", "key", key)
	return nil
}

// StopAll tears down every live preview session
func (c *Client) StopAll(ctx context.Context) error {
	c.logger.Debug("Stopping all previews")

	if err := c.do(ctx, "POST", c.baseURL+"/stop-all", nil, nil); err != nil {
		return err
	}

	c.logger.Debug("Stop all completed")
	return nil
}

// Status reports whether a preview session is running for key
func (c *Client) Status(ctx context.Context, key string) (Status, error) {
	var st Status
	u := c.baseURL + "/status?key=" + url.QueryEscape(key)
	if err := c.do(ctx, "GET", u, nil, &st); err != nil {
		return Status{}, err
	}
	return st, nil
}

// Sessions lists every session the daemon currently tracks
func (c *Client) Sessions(ctx context.Context) ([]SessionStatus, error) {
	var out []SessionStatus
	if err := c.do(ctx, "GET", c.baseURL+"/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// postKey sends the {"key": ...} body shared by the session endpoints and
// decodes the response into out when out is non-nil.
func (c *Client) postKey(ctx context.Context, path, key string, out any) error {
	data, err := json.Marshal(keyRequest{Key: key})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, "POST", c.baseURL+path, data, out)
}

// do performs an HTTP request with common error handling
func (c *Client) do(ctx context.Context, method, url string, body []byte, out any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", url)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		c.logger.Error("Failed to decode error response", "status", resp.StatusCode)
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	c.logger.Error("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return fmt.Errorf("API error: %s", errorResp.Error)
}
