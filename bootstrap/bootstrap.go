// Package bootstrap sequences reachability, installation and token acquisition.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/hairizuan-noorazman/matomo-bootstrap/apitoken"
	"github.com/hairizuan-noorazman/matomo-bootstrap/internal/runid"
	"github.com/hairizuan-noorazman/matomo-bootstrap/logger"
)

// Prober checks the target over plain HTTP.
type Prober interface {
	WaitHTTP(ctx context.Context, url string) error
	AssertReady(ctx context.Context, url string) error
}

// Installer drives the web installer when needed.
type Installer interface {
	EnsureInstalled(ctx context.Context) error
}

// Preflight inspects the database before the installer runs.
type Preflight interface {
	WaitReady(ctx context.Context, timeout time.Duration) error
	ExistingTables(ctx context.Context) ([]string, error)
}

// Config holds what the orchestrator itself needs.
type Config struct {
	BaseURL          string
	Credentials      apitoken.Credentials
	TokenDescription string
	// TokenOverride skips acquisition entirely when set.
	TokenOverride    string
	PreflightTimeout time.Duration
	// RunID tags the log lines of this run; one is generated when empty.
	RunID string
}

// Bootstrapper runs one provisioning pass.
type Bootstrapper struct {
	cfg       Config
	prober    Prober
	installer Installer
	acquirer  apitoken.Acquirer
	preflight Preflight
	logger    logger.Logger
}

// New creates a bootstrapper. preflight may be nil.
func New(cfg Config, prober Prober, installer Installer, acquirer apitoken.Acquirer, preflight Preflight, log logger.Logger) *Bootstrapper {
	return &Bootstrapper{
		cfg:       cfg,
		prober:    prober,
		installer: installer,
		acquirer:  acquirer,
		preflight: preflight,
		logger:    log,
	}
}

// Run returns the API token. Nothing is written to stdout.
func (b *Bootstrapper) Run(ctx context.Context) (string, error) {
	runID := b.cfg.RunID
	if runID == "" {
		runID = runid.New()
	}
	log := b.logger.WithFields(map[string]interface{}{
		"run_id": runID,
		"url":    b.cfg.BaseURL,
	})
	log.Info(ctx, "bootstrap started", nil)

	if err := b.prober.WaitHTTP(ctx, b.cfg.BaseURL); err != nil {
		return "", err
	}

	if b.preflight != nil {
		if err := b.preflight.WaitReady(ctx, b.cfg.PreflightTimeout); err != nil {
			return "", err
		}
		tables, err := b.preflight.ExistingTables(ctx)
		if err != nil {
			return "", fmt.Errorf("database preflight: %w", err)
		}
		if len(tables) > 0 {
			log.Warn(ctx, "database already holds matomo tables, the installer will offer to erase them", map[string]interface{}{
				"tables": tables,
			})
		}
	}

	if err := b.installer.EnsureInstalled(ctx); err != nil {
		return "", err
	}

	if err := b.prober.AssertReady(ctx, b.cfg.BaseURL); err != nil {
		return "", err
	}

	if b.cfg.TokenOverride != "" {
		log.Info(ctx, "using token from environment, skipping acquisition", nil)
		return b.cfg.TokenOverride, nil
	}

	token, err := b.acquirer.Acquire(ctx, b.cfg.Credentials, b.cfg.TokenDescription)
	if err != nil {
		return "", err
	}
	log.Info(ctx, "bootstrap finished", nil)
	return token, nil
}
