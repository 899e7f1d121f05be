// Package health answers whether a Matomo instance is reachable, installed and serving its UI.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hairizuan-noorazman/matomo-bootstrap/internal/retry"
	"github.com/hairizuan-noorazman/matomo-bootstrap/logger"
)

// installedMarkers are matched against the lower-cased landing page. They come from
// the English login page and will miss localized or restyled variants.
var installedMarkers = []string{
	"module=login",
	"matomo › login",
	"matomo/login",
}

// NotReachableError is returned when the target never answered HTTP.
type NotReachableError struct {
	URL     string
	Timeout time.Duration
	LastErr error
}

func (e *NotReachableError) Error() string {
	return fmt.Sprintf("matomo did not become reachable after %s: %s (%v)", e.Timeout, e.URL, e.LastErr)
}

func (e *NotReachableError) Unwrap() error {
	return e.LastErr
}

// NotReadyError is returned when the target answers but does not serve the Matomo UI.
type NotReadyError struct {
	URL    string
	Reason string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("matomo not ready at %s: %s", e.URL, e.Reason)
}

// Config holds probe timings.
type Config struct {
	ReachTimeout   time.Duration
	PollInterval   time.Duration
	RequestTimeout time.Duration
	// ReadTimeout bounds the installed-state and readiness requests.
	ReadTimeout time.Duration
}

// DefaultConfig returns the timings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		ReachTimeout:   180 * time.Second,
		PollInterval:   time.Second,
		RequestTimeout: 2 * time.Second,
		ReadTimeout:    10 * time.Second,
	}
}

// Prober issues plain GET requests against the Matomo base URL.
type Prober struct {
	client *http.Client
	cfg    Config
	logger logger.Logger
}

// NewProber creates a prober. A nil client uses a fresh http.Client.
func NewProber(client *http.Client, cfg Config, log logger.Logger) *Prober {
	if client == nil {
		client = &http.Client{}
	}
	return &Prober{client: client, cfg: cfg, logger: log}
}

// WaitHTTP blocks until the URL answers with any HTTP status, including 5xx.
// Redirects are not followed: a 3xx is itself an answer.
func (p *Prober) WaitHTTP(ctx context.Context, url string) error {
	p.logger.Info(ctx, "waiting for matomo http", map[string]interface{}{
		"url":     url,
		"timeout": p.cfg.ReachTimeout.String(),
	})

	client := p.withoutRedirects()
	attempt := 0
	var status int
	operation := func() error {
		var err error
		status, _, err = p.get(ctx, client, url, p.cfg.RequestTimeout, 128)
		if err != nil && attempt%5 == 0 {
			p.logger.Info(ctx, "still waiting for matomo http", map[string]interface{}{
				"attempt": attempt,
				"error":   err.Error(),
			})
		}
		attempt++
		return err
	}

	policy := backoff.WithContext(retry.Constant(p.cfg.PollInterval, p.cfg.ReachTimeout), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &NotReachableError{URL: url, Timeout: p.cfg.ReachTimeout, LastErr: err}
	}

	p.logger.Info(ctx, "matomo http reachable", map[string]interface{}{
		"status": status,
	})
	return nil
}

func (p *Prober) withoutRedirects() *http.Client {
	client := *p.client
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &client
}

// IsInstalled reports whether the landing page looks like the Matomo login page.
// Transport failures count as not installed.
func (p *Prober) IsInstalled(ctx context.Context, url string) bool {
	_, body, err := p.get(ctx, p.client, url, p.cfg.ReadTimeout, -1)
	if err != nil {
		p.logger.Debug(ctx, "installed check failed", map[string]interface{}{
			"url":   url,
			"error": err.Error(),
		})
		return false
	}

	html := strings.ToLower(body)
	for _, m := range installedMarkers {
		if strings.Contains(html, m) {
			return true
		}
	}
	return false
}

// AssertReady checks that the base URL serves the Matomo UI.
func (p *Prober) AssertReady(ctx context.Context, url string) error {
	_, body, err := p.get(ctx, p.client, url, p.cfg.ReadTimeout, -1)
	if err != nil {
		return &NotReachableError{URL: url, Timeout: p.cfg.ReadTimeout, LastErr: err}
	}
	if !strings.Contains(body, "Matomo") && !strings.Contains(strings.ToLower(body), "piwik") {
		return &NotReadyError{URL: url, Reason: "matomo UI not detected at base URL"}
	}
	return nil
}

// get returns status and at most limit body bytes (all when limit < 0).
func (p *Prober) get(ctx context.Context, client *http.Client, url string, timeout time.Duration, limit int64) (int, string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if limit >= 0 {
		reader = io.LimitReader(resp.Body, limit)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, string(data), nil
}
