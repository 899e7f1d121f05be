package installer

import (
	"context"

	"github.com/hairizuan-noorazman/matomo-bootstrap/browser"
)

var (
	superuserProbes = fieldProbes("login", false)
	siteProbes      = fieldProbes("siteName", false)
	terminalProbes  = []browser.Probe{
		browser.Role("button", "Continue to Matomo »"),
		browser.Role("link", "Continue to Matomo »"),
	}
)

// fieldProbes lists the ways a named form field has been rendered across installer versions.
func fieldProbes(name string, selectable bool) []browser.Probe {
	tag := "input"
	if selectable {
		tag = "select"
	}
	return []browser.Probe{
		browser.CSS("#" + name + "-0"),
		browser.CSS("#" + name),
		browser.CSS(tag + "[name='" + name + "']"),
		browser.CSS("form [name='" + name + "']"),
	}
}

// Snapshot is the progress-relevant state of a page at one point in time.
type Snapshot struct {
	Step            string
	SuperuserField  bool
	SiteField       bool
	TerminalControl bool
}

// Any reports whether one of the step signatures is present.
func (s Snapshot) Any() bool {
	return s.SuperuserField || s.SiteField || s.TerminalControl
}

// ProgressDetector tells whether the wizard moved on without an explicit click.
type ProgressDetector struct {
	finder *browser.Finder
}

// NewProgressDetector creates a detector.
func NewProgressDetector(finder *browser.Finder) *ProgressDetector {
	return &ProgressDetector{finder: finder}
}

// Snapshot captures the step hint and the step signatures.
func (d *ProgressDetector) Snapshot(ctx context.Context, page browser.Page) Snapshot {
	return Snapshot{
		Step:            StepHint(page.URL()),
		SuperuserField:  d.finder.Present(ctx, page, superuserProbes...),
		SiteField:       d.finder.Present(ctx, page, siteProbes...),
		TerminalControl: d.finder.Present(ctx, page, terminalProbes...),
	}
}

// Progressed is true when the step hint changed or a signature appeared since before.
func (d *ProgressDetector) Progressed(ctx context.Context, page browser.Page, before Snapshot) bool {
	now := d.Snapshot(ctx, page)
	if now.Step != before.Step {
		return true
	}
	return (now.SuperuserField && !before.SuperuserField) ||
		(now.SiteField && !before.SiteField) ||
		(now.TerminalControl && !before.TerminalControl)
}
