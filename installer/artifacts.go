package installer

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hairizuan-noorazman/matomo-bootstrap/browser"
	"github.com/hairizuan-noorazman/matomo-bootstrap/logger"
	"github.com/hairizuan-noorazman/matomo-bootstrap/storage"
)

const unavailable = "<unavailable>"

// Artifacts are the locations written by one dump. Failed writes read "<unavailable>".
type Artifacts struct {
	Screenshot string
	HTML       string
	Meta       string
}

// ArtifactDumper saves a screenshot, the page HTML and a metadata file when the wizard fails.
type ArtifactDumper struct {
	store  storage.BlobStorage
	logger logger.Logger
	now    func() time.Time
}

// NewArtifactDumper creates a dumper. A nil store disables dumping.
func NewArtifactDumper(store storage.BlobStorage, log logger.Logger) *ArtifactDumper {
	return &ArtifactDumper{
		store:  store,
		logger: log,
		now:    time.Now,
	}
}

// Dump writes installer-failure-<timestamp>.{png,html,txt}. Every part is best effort:
// failures are logged and never returned.
func (a *ArtifactDumper) Dump(ctx context.Context, page browser.Page, reason string) Artifacts {
	out := Artifacts{Screenshot: unavailable, HTML: unavailable, Meta: unavailable}
	if a.store == nil {
		a.logger.Warn(ctx, "no artifact storage configured, skipping failure artifacts", nil)
		return out
	}

	now := a.now().UTC()
	base := "installer-failure-" + now.Format("20060102-150405")

	if png, err := page.Screenshot(true); err != nil {
		a.logger.Warn(ctx, "could not capture screenshot", map[string]interface{}{"error": err.Error()})
	} else {
		out.Screenshot = a.write(ctx, base+".png", "image/png", png)
	}

	if html, err := page.Content(); err != nil {
		a.logger.Warn(ctx, "could not capture html snapshot", map[string]interface{}{"error": err.Error()})
	} else {
		out.HTML = a.write(ctx, base+".html", "text/html; charset=utf-8", []byte(html))
	}

	url := page.URL()
	if url == "" {
		url = "<unknown-url>"
	}
	title, err := page.Title()
	if err != nil {
		title = "<unknown-title>"
	}
	var meta strings.Builder
	fmt.Fprintf(&meta, "reason: %s\n", reason)
	fmt.Fprintf(&meta, "url: %s\n", url)
	fmt.Fprintf(&meta, "title: %s\n", title)
	fmt.Fprintf(&meta, "step_hint: %s\n", StepHint(url))
	fmt.Fprintf(&meta, "captured_at: %s\n", now.Format(time.RFC3339))
	out.Meta = a.write(ctx, base+".txt", "text/plain; charset=utf-8", []byte(meta.String()))

	a.logger.Info(ctx, "debug artifacts written", map[string]interface{}{
		"screenshot": out.Screenshot,
		"html":       out.HTML,
		"meta":       out.Meta,
	})
	return out
}

func (a *ArtifactDumper) write(ctx context.Context, name, contentType string, data []byte) string {
	if err := a.store.Upload(ctx, name, contentType, bytes.NewReader(data)); err != nil {
		a.logger.Error(ctx, "could not write failure artifact", map[string]interface{}{
			"file":  name,
			"error": err.Error(),
		})
		return unavailable
	}
	loc, err := a.store.Location(ctx, name)
	if err != nil {
		return name
	}
	return loc
}
