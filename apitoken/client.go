package apitoken

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/hairizuan-noorazman/matomo-bootstrap/logger"
)

// Client issues form-encoded requests against the Matomo front controller and keeps
// session cookies between calls. It is not safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     logger.Logger
}

// NewClient creates a client for baseURL with a per-request timeout.
func NewClient(baseURL string, timeout time.Duration, log logger.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Jar:     jar,
		},
		logger: log,
	}, nil
}

// Get sends params as the query string and returns status and body.
func (c *Client) Get(ctx context.Context, path string, params url.Values) (int, string, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, "", fmt.Errorf("failed to create request: %w", err)
	}
	c.logger.Debug(ctx, "http request", map[string]interface{}{
		"method": http.MethodGet,
		"path":   path,
		"api":    params.Get("method"),
	})
	return c.do(req)
}

// PostForm sends data as a form-encoded body and returns status and body.
func (c *Client) PostForm(ctx context.Context, path string, data url.Values) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(data.Encode()))
	if err != nil {
		return 0, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	c.logger.Debug(ctx, "http request", map[string]interface{}{
		"method": http.MethodPost,
		"path":   path,
		"api":    data.Get("method"),
		"keys":   keys,
	})
	return c.do(req)
}

func (c *Client) do(req *http.Request) (int, string, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug(req.Context(), "http response", map[string]interface{}{
		"status": resp.StatusCode,
		"bytes":  len(body),
	})
	return resp.StatusCode, string(body), nil
}
