// Package installer drives the Matomo web installer wizard to completion.
package installer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hairizuan-noorazman/matomo-bootstrap/browser"
	"github.com/hairizuan-noorazman/matomo-bootstrap/logger"
	"github.com/hairizuan-noorazman/matomo-bootstrap/storage"
)

// State is a node of the installer state machine.
type State string

const (
	StateUnreachable      State = "UNREACHABLE"
	StateReachable        State = "REACHABLE"
	StateAlreadyInstalled State = "ALREADY_INSTALLED"
	StateWizardActive     State = "WIZARD_ACTIVE"
	StateSuperuserStep    State = "SUPERUSER_STEP"
	StateSiteStep         State = "SITE_STEP"
	StateFinishing        State = "FINISHING"
	StateInstalled        State = "INSTALLED"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateAlreadyInstalled || s == StateInstalled
}

// Config is everything the wizard needs to know.
type Config struct {
	BaseURL   string
	Superuser Superuser
	Site      Site
	Database  DatabaseSettings

	ReadyTimeout         time.Duration
	StepTimeout          time.Duration
	StepDeadline         time.Duration
	TableCreationTimeout time.Duration
	TableEraseTimeout    time.Duration

	LocatorRetryBudget   time.Duration
	LocatorRetryInterval time.Duration
	Timing               Timing
}

// DefaultConfig returns the timeouts used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		ReadyTimeout:         180 * time.Second,
		StepTimeout:          30 * time.Second,
		StepDeadline:         180 * time.Second,
		TableCreationTimeout: 180 * time.Second,
		TableEraseTimeout:    60 * time.Second,
		LocatorRetryBudget:   2 * time.Second,
		LocatorRetryInterval: 100 * time.Millisecond,
		Timing:               DefaultTiming(),
	}
}

// Launcher opens a browser session.
type Launcher interface {
	Launch(ctx context.Context) (browser.Session, error)
}

// Detector answers reachability and installed-state questions over plain HTTP.
type Detector interface {
	WaitHTTP(ctx context.Context, url string) error
	IsInstalled(ctx context.Context, url string) bool
}

// Installer runs the wizard state machine.
type Installer struct {
	cfg      Config
	launcher Launcher
	detector Detector
	finder   *browser.Finder
	driver   *Driver
	forms    *FormFiller
	warnings *WarningCollector
	dumper   *ArtifactDumper
	logger   logger.Logger
}

// New creates an installer. store receives failure artifacts and may be nil. Zero locator
// retry settings keep the browser.NewFinder defaults.
func New(cfg Config, launcher Launcher, detector Detector, store storage.BlobStorage, log logger.Logger) *Installer {
	finder := browser.NewFinder()
	if cfg.LocatorRetryBudget > 0 {
		finder.RetryBudget = cfg.LocatorRetryBudget
	}
	if cfg.LocatorRetryInterval > 0 {
		finder.RetryInterval = cfg.LocatorRetryInterval
	}
	warnings := NewWarningCollector(finder, log)
	driver := NewDriver(finder, warnings, cfg.Timing, log)
	return &Installer{
		cfg:      cfg,
		launcher: launcher,
		detector: detector,
		finder:   finder,
		driver:   driver,
		forms:    NewFormFiller(finder, driver, warnings, cfg.Timing, log),
		warnings: warnings,
		dumper:   NewArtifactDumper(store, log),
		logger:   log,
	}
}

// run is the mutable state of one EnsureInstalled call.
type run struct {
	session browser.Session
	page    browser.Page
}

type transition func(ctx context.Context, r *run) (State, error)

// EnsureInstalled drives the wizard unless the instance is already installed.
// Errors raised while a page is open are preceded by a failure artifact dump.
func (i *Installer) EnsureInstalled(ctx context.Context) error {
	transitions := map[State]transition{
		StateUnreachable:   i.waitReachable,
		StateReachable:     i.openWizard,
		StateWizardActive:  i.advanceToSuperuser,
		StateSuperuserStep: i.submitSuperuser,
		StateSiteStep:      i.submitSite,
		StateFinishing:     i.finish,
	}

	r := &run{}
	defer func() {
		if r.session == nil {
			return
		}
		if closeErr := r.session.Close(); closeErr != nil {
			i.logger.Warn(ctx, "failed to close browser session", map[string]interface{}{
				"error": closeErr.Error(),
			})
		}
	}()

	state := StateUnreachable
	for !state.Terminal() {
		next, err := transitions[state](ctx, r)
		if err != nil {
			i.logger.Error(ctx, "installer failed", map[string]interface{}{
				"state": string(state),
				"error": err.Error(),
			})
			if r.page != nil {
				i.dumper.Dump(context.WithoutCancel(ctx), r.page, err.Error())
			}
			return err
		}
		i.logger.Debug(ctx, "installer state changed", map[string]interface{}{
			"from": string(state),
			"to":   string(next),
		})
		state = next
	}

	if state == StateAlreadyInstalled {
		i.logger.Info(ctx, "matomo already looks installed, skipping installer", nil)
		return nil
	}
	i.logger.Info(ctx, "installation finished", nil)
	return nil
}

func (i *Installer) waitReachable(ctx context.Context, r *run) (State, error) {
	if err := i.detector.WaitHTTP(ctx, i.cfg.BaseURL); err != nil {
		return StateUnreachable, err
	}
	return StateReachable, nil
}

func (i *Installer) openWizard(ctx context.Context, r *run) (State, error) {
	if i.detector.IsInstalled(ctx, i.cfg.BaseURL) {
		return StateAlreadyInstalled, nil
	}

	i.logger.Info(ctx, "running matomo web installer", map[string]interface{}{
		"url": i.cfg.BaseURL,
	})
	session, err := i.launcher.Launch(ctx)
	if err != nil {
		return StateReachable, fmt.Errorf("failed to open browser session: %w", err)
	}
	r.session = session
	r.page = session.Page()

	if err := r.page.Goto(i.cfg.BaseURL); err != nil {
		return StateReachable, fmt.Errorf("failed to open installer at %s: %w", i.cfg.BaseURL, err)
	}
	if err := i.driver.WaitInteractive(ctx, r.page, i.cfg.ReadyTimeout); err != nil {
		return StateReachable, err
	}
	i.warnings.Collect(ctx, r.page)
	return StateWizardActive, nil
}

func (i *Installer) advanceToSuperuser(ctx context.Context, r *run) (State, error) {
	dbForm := DatabaseForm(i.cfg.Database)
	dbFilled := false
	deadline := time.Now().Add(i.cfg.StepDeadline)

	for {
		if i.forms.Present(ctx, r.page, SuperuserForm(i.cfg.Superuser)) {
			return StateSuperuserStep, nil
		}
		if !time.Now().Before(deadline) {
			return StateWizardActive, i.driver.timeoutError(ctx, r.page, "installer did not reach the superuser step", i.cfg.StepDeadline)
		}

		if !dbFilled && i.cfg.Database.Configured() && i.forms.Present(ctx, r.page, dbForm) {
			if err := i.forms.Fill(ctx, r.page, dbForm, i.cfg.StepTimeout); err != nil {
				return StateWizardActive, err
			}
			dbFilled = true
			i.warnings.Collect(ctx, r.page)
			continue
		}

		if _, err := i.driver.ResolveExistingTables(ctx, r.page, i.cfg.TableEraseTimeout); err != nil {
			return StateWizardActive, err
		}

		timeout := i.cfg.StepTimeout
		if strings.Contains(StepHint(r.page.URL()), tablesCreationStep) {
			timeout = i.cfg.TableCreationTimeout
		}
		if _, err := i.driver.ClickNext(ctx, r.page, timeout); err != nil {
			return StateWizardActive, err
		}
		i.warnings.Collect(ctx, r.page)
	}
}

func (i *Installer) submitSuperuser(ctx context.Context, r *run) (State, error) {
	if err := i.forms.Fill(ctx, r.page, SuperuserForm(i.cfg.Superuser), i.cfg.StepTimeout); err != nil {
		return StateSuperuserStep, err
	}
	i.warnings.Collect(ctx, r.page)
	return StateSiteStep, nil
}

func (i *Installer) submitSite(ctx context.Context, r *run) (State, error) {
	form := SiteForm(i.cfg.Site)
	if err := i.waitFor(ctx, r.page, form, i.cfg.StepTimeout); err != nil {
		return StateSiteStep, err
	}
	if err := i.forms.Fill(ctx, r.page, form, i.cfg.StepTimeout); err != nil {
		return StateSiteStep, err
	}
	i.warnings.Collect(ctx, r.page)
	return StateFinishing, nil
}

// finish clicks the trailing controls when present; some versions redirect on their own.
func (i *Installer) finish(ctx context.Context, r *run) (State, error) {
	trailing := [][]browser.Probe{
		{browser.Role("link", "Next »"), browser.Role("button", "Next »")},
		terminalProbes,
	}
	for _, probes := range trailing {
		clicked, err := i.driver.ClickIfPresent(ctx, r.page, probes...)
		if err != nil {
			i.logger.Warn(ctx, "trailing installer control click failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
		if clicked {
			i.warnings.Collect(ctx, r.page)
		}
	}

	deadline := time.Now().Add(i.cfg.StepTimeout)
	for {
		if i.detector.IsInstalled(ctx, i.cfg.BaseURL) {
			return StateInstalled, nil
		}
		if !time.Now().Before(deadline) {
			return StateFinishing, ErrNotInstalled
		}
		if err := sleep(ctx, i.cfg.Timing.PollInterval); err != nil {
			return StateFinishing, err
		}
	}
}

func (i *Installer) waitFor(ctx context.Context, page browser.Page, form Form, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for !i.forms.Present(ctx, page, form) {
		if !time.Now().Before(deadline) {
			return i.driver.timeoutError(ctx, page, "the "+form.Name+" form did not appear", timeout)
		}
		if err := sleep(ctx, i.cfg.Timing.PollInterval); err != nil {
			return err
		}
	}
	return nil
}
