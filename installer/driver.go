package installer

import (
	"context"
	"strings"
	"time"

	"github.com/hairizuan-noorazman/matomo-bootstrap/browser"
	"github.com/hairizuan-noorazman/matomo-bootstrap/logger"
)

var nextProbes = []browser.Probe{
	browser.Role("link", "Next »"),
	browser.Role("button", "Next »"),
	browser.Role("link", "Next"),
	browser.Role("button", "Next"),
	browser.Role("link", "Continue"),
	browser.Role("button", "Continue"),
	browser.Role("link", "Proceed"),
	browser.Role("button", "Proceed"),
	browser.Role("link", "Start Installation"),
	browser.Role("button", "Start Installation"),
	browser.Role("link", "Weiter"),
	browser.Role("button", "Weiter"),
	browser.Role("link", "Fortfahren"),
	browser.Role("button", "Fortfahren"),
	browser.Text("Next"),
}

var eraseTablesProbes = []browser.Probe{
	browser.CSS("#eraseAllTables"),
	browser.Role("link", "Delete the detected tables"),
	browser.Role("button", "Delete the detected tables"),
	browser.Role("link", "Erase tables"),
	browser.Role("button", "Erase tables"),
	browser.Role("link", "Delete tables"),
	browser.Role("button", "Delete tables"),
	browser.Text("Delete the detected tables"),
}

const tablesCreationStep = "tablesCreation"

// Driver advances the wizard by clicking its navigation controls.
type Driver struct {
	finder   *browser.Finder
	progress *ProgressDetector
	warnings *WarningCollector
	timing   Timing
	logger   logger.Logger
}

// NewDriver creates a driver.
func NewDriver(finder *browser.Finder, warnings *WarningCollector, timing Timing, log logger.Logger) *Driver {
	return &Driver{
		finder:   finder,
		progress: NewProgressDetector(finder),
		warnings: warnings,
		timing:   timing,
		logger:   log,
	}
}

// ClickNext clicks the first visible Next/Continue control and returns the step hint of
// the page it lands on. If the page moves on by itself while no control is visible, the
// new step hint is returned without clicking.
func (d *Driver) ClickNext(ctx context.Context, page browser.Page, timeout time.Duration) (string, error) {
	before := d.progress.Snapshot(ctx, page)
	deadline := time.Now().Add(timeout)
	var lastWarnings time.Time

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		loc, probe, found := d.finder.FirstVisible(ctx, page, nextProbes...)
		if found {
			beforeURL := page.URL()
			if err := loc.Click(d.timing.ClickTimeout); err != nil {
				d.logger.Debug(ctx, "click failed, retrying", map[string]interface{}{
					"control": probe.String(),
					"error":   err.Error(),
				})
				if err := sleep(ctx, d.timing.ClickRetryDelay); err != nil {
					return "", err
				}
				continue
			}

			d.settle(ctx, page)
			afterURL := page.URL()
			d.logger.Info(ctx, "clicked installer control", map[string]interface{}{
				"control":   probe.String(),
				"from_step": StepHint(beforeURL),
				"to_step":   StepHint(afterURL),
				"from_url":  beforeURL,
				"to_url":    afterURL,
			})
			return StepHint(afterURL), nil
		}

		if d.progress.Progressed(ctx, page, before) {
			step := StepHint(page.URL())
			d.logger.Info(ctx, "installer progressed without a next control", map[string]interface{}{
				"from_step": before.Step,
				"to_step":   step,
			})
			return step, nil
		}

		if time.Since(lastWarnings) >= d.timing.WarningInterval {
			d.warnings.Collect(ctx, page)
			lastWarnings = time.Now()
		}
		if err := sleep(ctx, d.timing.PollInterval); err != nil {
			return "", err
		}
	}

	return "", d.timeoutError(ctx, page, "could not find a Next/Continue control in the installer UI", timeout)
}

// WaitInteractive waits until the page shows any known installer signature or a Next control.
func (d *Driver) WaitInteractive(ctx context.Context, page browser.Page, timeout time.Duration) error {
	d.logger.Info(ctx, "waiting for interactive installer UI", map[string]interface{}{
		"timeout": timeout.String(),
	})

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		d.settle(ctx, page)
		if d.progress.Snapshot(ctx, page).Any() {
			return nil
		}
		if _, _, found := d.finder.FirstVisible(ctx, page, nextProbes...); found {
			return nil
		}
		if err := sleep(ctx, d.timing.PollInterval); err != nil {
			return err
		}
	}

	return d.timeoutError(ctx, page, "installer UI did not become interactive", timeout)
}

// ResolveExistingTables erases tables left by an earlier install when the table creation
// step offers to. It reports whether an erase control was acted on.
func (d *Driver) ResolveExistingTables(ctx context.Context, page browser.Page, timeout time.Duration) (bool, error) {
	if !strings.Contains(StepHint(page.URL()), tablesCreationStep) {
		return false, nil
	}
	loc, probe, found := d.finder.FirstVisible(ctx, page, eraseTablesProbes...)
	if !found {
		return false, nil
	}

	d.logger.Warn(ctx, "existing matomo tables detected, erasing them", map[string]interface{}{
		"control": probe.String(),
		"url":     page.URL(),
	})

	before := d.progress.Snapshot(ctx, page)
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return true, err
		}

		if err := d.clickAccepting(ctx, page, loc); err != nil {
			target := withQuery(page.URL(), "deleteTables", "1")
			d.logger.Warn(ctx, "erase control click failed, navigating directly", map[string]interface{}{
				"error":  err.Error(),
				"target": target,
			})
			if err := page.Goto(target); err != nil {
				d.logger.Warn(ctx, "erase tables navigation failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
		d.settle(ctx, page)

		if d.progress.Progressed(ctx, page, before) {
			return true, nil
		}
		loc, _, found = d.finder.FirstVisible(ctx, page, eraseTablesProbes...)
		if !found {
			d.logger.Info(ctx, "existing tables erased", map[string]interface{}{
				"step": StepHint(page.URL()),
			})
			return true, nil
		}

		if !time.Now().Before(deadline) {
			return true, d.timeoutError(ctx, page, "existing tables could not be erased", timeout)
		}
		if err := sleep(ctx, d.timing.PollInterval); err != nil {
			return true, err
		}
	}
}

// clickAccepting clicks loc with confirm dialogs accepted.
func (d *Driver) clickAccepting(ctx context.Context, page browser.Page, loc browser.Locator) error {
	disarm := page.AcceptDialogs()
	defer disarm()

	if err := loc.Click(d.timing.ClickTimeout); err != nil {
		return err
	}
	// The dialog is handled asynchronously after the click returns.
	return sleep(ctx, d.timing.DialogWait)
}

// ClickIfPresent clicks the first visible control among probes. Nothing visible is not an error.
func (d *Driver) ClickIfPresent(ctx context.Context, page browser.Page, probes ...browser.Probe) (bool, error) {
	loc, probe, found := d.finder.FirstVisible(ctx, page, probes...)
	if !found {
		return false, nil
	}
	if err := loc.Click(d.timing.ClickTimeout); err != nil {
		return false, err
	}
	d.settle(ctx, page)
	d.logger.Info(ctx, "clicked installer control", map[string]interface{}{
		"control": probe.String(),
		"to_step": StepHint(page.URL()),
	})
	return true, nil
}

// settle waits for the DOM and, briefly, for the network. Neither wait is fatal.
func (d *Driver) settle(ctx context.Context, page browser.Page) {
	if err := page.WaitForLoadState(browser.LoadStateDOMContentLoaded, d.timing.LoadTimeout); err != nil {
		d.logger.Debug(ctx, "domcontentloaded wait failed", map[string]interface{}{"error": err.Error()})
	}
	if err := page.WaitForLoadState(browser.LoadStateNetworkIdle, d.timing.SettleTimeout); err != nil {
		d.logger.Debug(ctx, "networkidle wait failed", map[string]interface{}{"error": err.Error()})
	}
	_ = sleep(ctx, d.timing.SettleDelay)
}

func (d *Driver) timeoutError(ctx context.Context, page browser.Page, op string, timeout time.Duration) error {
	url := page.URL()
	return &StepTimeoutError{
		Op:       op,
		URL:      url,
		Step:     StepHint(url),
		Timeout:  timeout,
		Warnings: d.warnings.Collect(ctx, page),
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
