package main

import (
	"context"
	"fmt"
	"io"

	"github.com/hairizuan-noorazman/matomo-bootstrap/apitoken"
	"github.com/hairizuan-noorazman/matomo-bootstrap/bootstrap"
	"github.com/hairizuan-noorazman/matomo-bootstrap/browser"
	"github.com/hairizuan-noorazman/matomo-bootstrap/database"
	"github.com/hairizuan-noorazman/matomo-bootstrap/health"
	"github.com/hairizuan-noorazman/matomo-bootstrap/installer"
	"github.com/hairizuan-noorazman/matomo-bootstrap/internal/runid"
	"github.com/hairizuan-noorazman/matomo-bootstrap/logger"
	"github.com/hairizuan-noorazman/matomo-bootstrap/storage"
)

// bootstrapToken builds the component graph for cfg and runs one bootstrap pass.
// Diagnostics go to diag.
func bootstrapToken(ctx context.Context, cfg *Config, diag io.Writer) (string, error) {
	runID := runid.New()
	log := logger.NewLogrusLogger(logger.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: diag,
		File:   cfg.Log.File,
	}).WithField("run_id", runID)

	store, err := storage.New(ctx, storage.Config{
		Type:     cfg.Artifacts.Storage,
		BaseDir:  cfg.Artifacts.Dir,
		S3Bucket: cfg.Artifacts.S3Bucket,
		S3Region: cfg.Artifacts.S3Region,
		S3Prefix: cfg.Artifacts.S3Prefix,
	})
	if err != nil {
		return "", &UsageError{Msg: fmt.Sprintf("artifact storage: %v", err)}
	}

	healthCfg := health.DefaultConfig()
	healthCfg.ReachTimeout = cfg.Installer.WaitTimeout
	prober := health.NewProber(nil, healthCfg, log)

	launchOpts := browser.DefaultLaunchOptions()
	launchOpts.Headless = cfg.Browser.Headless
	launchOpts.SlowMo = cfg.Browser.SlowMo
	if cfg.Browser.NavigationTimeout > 0 {
		launchOpts.NavigationTimeout = cfg.Browser.NavigationTimeout
	}
	launcher := browser.NewPlaywrightLauncher(launchOpts, log)

	inst := installer.New(installerConfig(cfg), launcher, prober, store, log)

	client, err := apitoken.NewClient(cfg.BaseURL, cfg.Timeout, log)
	if err != nil {
		return "", err
	}
	acquirer, err := apitoken.New(cfg.TokenStrategy, client, log)
	if err != nil {
		return "", err
	}

	var preflight bootstrap.Preflight
	if cfg.Database.Preflight {
		db, err := database.Connect(database.Config{
			Host:         cfg.Database.Host,
			Port:         cfg.Database.Port,
			User:         cfg.Database.User,
			Password:     cfg.Database.Password,
			Database:     cfg.Database.Name,
			TablePrefix:  cfg.Database.Prefix,
			MaxOpenConns: 2,
			MaxIdleConns: 1,
		})
		if err != nil {
			return "", err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		preflight = database.NewInspector(db, cfg.Database.Prefix, log)
	}

	b := bootstrap.New(bootstrap.Config{
		BaseURL: cfg.BaseURL,
		Credentials: apitoken.Credentials{
			Login:    cfg.AdminUser,
			Password: cfg.AdminPassword,
		},
		TokenDescription: cfg.TokenDescription,
		TokenOverride:    cfg.TokenOverride,
		PreflightTimeout: cfg.Installer.WaitTimeout,
		RunID:            runID,
	}, prober, inst, acquirer, preflight, log)

	return b.Run(ctx)
}

func installerConfig(cfg *Config) installer.Config {
	ic := installer.DefaultConfig()
	ic.BaseURL = cfg.BaseURL
	ic.Superuser = installer.Superuser{
		Login:    cfg.AdminUser,
		Password: cfg.AdminPassword,
		Email:    cfg.AdminEmail,
	}
	ic.Site = installer.Site{
		Name:      cfg.Site.Name,
		URL:       cfg.Site.URL,
		Timezone:  cfg.Site.Timezone,
		Ecommerce: cfg.Site.Ecommerce,
	}
	ic.Database = installer.DatabaseSettings{
		Host:        cfg.Database.Host,
		Username:    cfg.Database.User,
		Password:    cfg.Database.Password,
		Name:        cfg.Database.Name,
		TablePrefix: cfg.Database.Prefix,
	}

	ic.ReadyTimeout = cfg.Installer.ReadyTimeout
	ic.StepTimeout = cfg.Installer.StepTimeout
	ic.StepDeadline = cfg.Installer.StepDeadline
	ic.TableCreationTimeout = cfg.Installer.TableCreationTimeout
	ic.TableEraseTimeout = cfg.Installer.TableEraseTimeout
	ic.LocatorRetryBudget = cfg.Installer.LocatorRetry
	ic.Timing.PollInterval = cfg.Installer.PollInterval
	ic.Timing.ClickTimeout = cfg.Installer.ClickTimeout
	ic.Timing.DialogWait = cfg.Installer.DialogWait
	return ic
}
