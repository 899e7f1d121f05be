package browser

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hairizuan-noorazman/matomo-bootstrap/logger"
	pw "github.com/playwright-community/playwright-go"
)

// LaunchOptions configures the Chromium instance.
type LaunchOptions struct {
	Headless          bool
	SlowMo            time.Duration
	NavigationTimeout time.Duration
}

// DefaultLaunchOptions returns headless Chromium with a 60s navigation timeout.
func DefaultLaunchOptions() LaunchOptions {
	return LaunchOptions{
		Headless:          true,
		NavigationTimeout: 60 * time.Second,
	}
}

// PlaywrightLauncher starts Chromium through playwright-go.
type PlaywrightLauncher struct {
	opts   LaunchOptions
	logger logger.Logger
}

// NewPlaywrightLauncher creates a launcher.
func NewPlaywrightLauncher(opts LaunchOptions, log logger.Logger) *PlaywrightLauncher {
	return &PlaywrightLauncher{opts: opts, logger: log}
}

// Launch starts the driver, a browser, a context and a page.
// Partially created resources are released on error.
func (l *PlaywrightLauncher) Launch(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runtime, err := pw.Run(&pw.RunOptions{SkipInstallBrowsers: true, Verbose: false})
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright driver: %w", err)
	}

	launchOpts := pw.BrowserTypeLaunchOptions{
		Headless: pw.Bool(l.opts.Headless),
	}
	if l.opts.SlowMo > 0 {
		launchOpts.SlowMo = pw.Float(float64(l.opts.SlowMo.Milliseconds()))
	}

	browser, err := runtime.Chromium.Launch(launchOpts)
	if err != nil {
		runtime.Stop()
		return nil, fmt.Errorf("failed to launch chromium: %w", err)
	}

	bctx, err := browser.NewContext()
	if err != nil {
		browser.Close()
		runtime.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		browser.Close()
		runtime.Stop()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	if l.opts.NavigationTimeout > 0 {
		page.SetDefaultNavigationTimeout(float64(l.opts.NavigationTimeout.Milliseconds()))
	}

	l.logger.Debug(ctx, "browser session opened", map[string]interface{}{
		"headless": l.opts.Headless,
		"slowmo":   l.opts.SlowMo.String(),
	})

	return &playwrightSession{
		runtime: runtime,
		browser: browser,
		context: bctx,
		page:    newPlaywrightPage(page),
	}, nil
}

type playwrightSession struct {
	runtime *pw.Playwright
	browser pw.Browser
	context pw.BrowserContext
	page    *playwrightPage
}

func (s *playwrightSession) Page() Page {
	return s.page
}

// Close releases context, browser and driver, returning the first error.
func (s *playwrightSession) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	keep(s.context.Close())
	keep(s.browser.Close())
	keep(s.runtime.Stop())
	return firstErr
}

type playwrightPage struct {
	page   pw.Page
	accept atomic.Bool
}

func newPlaywrightPage(page pw.Page) *playwrightPage {
	p := &playwrightPage{page: page}
	// One listener for the lifetime of the page; AcceptDialogs only flips the flag.
	page.On("dialog", func(d pw.Dialog) {
		if p.accept.Load() {
			_ = d.Accept()
			return
		}
		_ = d.Dismiss()
	})
	return p
}

func (p *playwrightPage) URL() string {
	return p.page.URL()
}

func (p *playwrightPage) Title() (string, error) {
	return p.page.Title()
}

func (p *playwrightPage) Goto(url string) error {
	_, err := p.page.Goto(url, pw.PageGotoOptions{WaitUntil: pw.WaitUntilStateDomcontentloaded})
	return err
}

func (p *playwrightPage) Locator(selector string) Locator {
	return &playwrightLocator{loc: p.page.Locator(selector)}
}

func (p *playwrightPage) GetByRole(role, name string, exact bool) Locator {
	return &playwrightLocator{loc: p.page.GetByRole(pw.AriaRole(role), pw.PageGetByRoleOptions{
		Name:  name,
		Exact: pw.Bool(exact),
	})}
}

func (p *playwrightPage) GetByText(text string, exact bool) Locator {
	return &playwrightLocator{loc: p.page.GetByText(text, pw.PageGetByTextOptions{Exact: pw.Bool(exact)})}
}

func (p *playwrightPage) WaitForLoadState(state string, timeout time.Duration) error {
	opts := pw.PageWaitForLoadStateOptions{Timeout: pw.Float(float64(timeout.Milliseconds()))}
	switch state {
	case LoadStateNetworkIdle:
		opts.State = pw.LoadStateNetworkidle
	case LoadStateLoad:
		opts.State = pw.LoadStateLoad
	default:
		opts.State = pw.LoadStateDomcontentloaded
	}
	return p.page.WaitForLoadState(opts)
}

func (p *playwrightPage) Content() (string, error) {
	return p.page.Content()
}

func (p *playwrightPage) Screenshot(fullPage bool) ([]byte, error) {
	return p.page.Screenshot(pw.PageScreenshotOptions{FullPage: pw.Bool(fullPage)})
}

func (p *playwrightPage) Evaluate(script string, arg interface{}) (interface{}, error) {
	return p.page.Evaluate(script, arg)
}

func (p *playwrightPage) AcceptDialogs() func() {
	p.accept.Store(true)
	return func() { p.accept.Store(false) }
}

type playwrightLocator struct {
	loc pw.Locator
}

func (l *playwrightLocator) Count() (int, error) {
	return l.loc.Count()
}

func (l *playwrightLocator) First() Locator {
	return &playwrightLocator{loc: l.loc.First()}
}

func (l *playwrightLocator) Nth(i int) Locator {
	return &playwrightLocator{loc: l.loc.Nth(i)}
}

func (l *playwrightLocator) IsVisible() (bool, error) {
	return l.loc.IsVisible()
}

func (l *playwrightLocator) Click(timeout time.Duration) error {
	return l.loc.Click(pw.LocatorClickOptions{Timeout: pw.Float(float64(timeout.Milliseconds()))})
}

func (l *playwrightLocator) Fill(value string) error {
	return l.loc.Fill(value)
}

func (l *playwrightLocator) InnerText() (string, error) {
	return l.loc.InnerText()
}

func (l *playwrightLocator) SelectOption(label string) error {
	labels := []string{label}
	_, err := l.loc.SelectOption(pw.SelectOptionValues{Labels: &labels})
	return err
}
