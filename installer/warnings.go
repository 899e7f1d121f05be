package installer

import (
	"context"
	"fmt"
	"strings"

	"github.com/hairizuan-noorazman/matomo-bootstrap/browser"
	"github.com/hairizuan-noorazman/matomo-bootstrap/logger"
)

const maxMatchesPerSelector = 50

var warningSelectors = []string{
	".warning",
	".alert.alert-danger",
	".alert.alert-warning",
	".notification",
	".message_container",
	"#notificationContainer",
	".system-check-error",
	".system-check-warning",
	".form-errors",
	".error",
	".errorMessage",
	".invalid-feedback",
	".help-block.error",
	".ui-state-error",
	".alert-danger",
	".alert-warning",
	"[role='alert']",
}

// WarningCollector reads installer warnings and validation errors off the page.
type WarningCollector struct {
	finder *browser.Finder
	logger logger.Logger
}

// NewWarningCollector creates a collector.
func NewWarningCollector(finder *browser.Finder, log logger.Logger) *WarningCollector {
	return &WarningCollector{finder: finder, logger: log}
}

// Collect returns the de-duplicated warning texts in page order and logs them.
// Query errors are treated as no match.
func (w *WarningCollector) Collect(ctx context.Context, page browser.Page) []string {
	var texts []string
	for _, sel := range warningSelectors {
		loc := page.Locator(sel)
		n, err := w.finder.Count(ctx, loc)
		if err != nil || n <= 0 {
			continue
		}
		if n > maxMatchesPerSelector {
			n = maxMatchesPerSelector
		}
		for i := 0; i < n; i++ {
			t, err := loc.Nth(i).InnerText()
			if err != nil {
				continue
			}
			if t = strings.TrimSpace(t); t != "" {
				texts = append(texts, t)
			}
		}
	}

	if n, err := w.finder.Count(ctx, page.Locator("[aria-invalid='true']")); err == nil && n > 0 {
		texts = append(texts, fmt.Sprintf("%d field(s) marked aria-invalid=true.", n))
	}

	seen := make(map[string]struct{}, len(texts))
	var out []string
	for _, t := range texts {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}

	if len(out) > 0 {
		title, err := page.Title()
		if err != nil {
			title = "<unknown-title>"
		}
		log := w.logger.WithFields(map[string]interface{}{
			"url":   page.URL(),
			"title": title,
		})
		log.Warn(ctx, "page warnings/errors detected", map[string]interface{}{
			"count": len(out),
		})
		for i, t := range out {
			log.Warn(ctx, t, map[string]interface{}{
				"index": i + 1,
			})
		}
	}
	return out
}
