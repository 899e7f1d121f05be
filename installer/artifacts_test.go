package installer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hairizuan-noorazman/matomo-bootstrap/browser"
	"github.com/hairizuan-noorazman/matomo-bootstrap/logger"
	"github.com/hairizuan-noorazman/matomo-bootstrap/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactDumper_WritesTriplet(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(filepath.Join(dir, "debug"))
	require.NoError(t, err)

	dumper := NewArtifactDumper(store, logger.NewTestLogger())
	dumper.now = func() time.Time {
		return time.Date(2024, 3, 9, 22, 15, 7, 0, time.FixedZone("CET", 3600))
	}
	page := browser.NewFakePage(stepURL("setupSuperUser"), "Superuser")
	page.Add(&browser.FakeElement{Text: "Superuser"})

	out := dumper.Dump(context.Background(), page, "boom")

	base := filepath.Join(dir, "debug", "installer-failure-20240309-211507")
	assert.Equal(t, Artifacts{Screenshot: base + ".png", HTML: base + ".html", Meta: base + ".txt"}, out)

	html, err := os.ReadFile(base + ".html")
	require.NoError(t, err)
	assert.Contains(t, string(html), "<title>Superuser</title>")

	meta, err := os.ReadFile(base + ".txt")
	require.NoError(t, err)
	assert.Equal(t, "reason: boom\n"+
		"url: "+stepURL("setupSuperUser")+"\n"+
		"title: Superuser\n"+
		"step_hint: Installation:setupSuperUser\n"+
		"captured_at: 2024-03-09T21:15:07Z\n", string(meta))
}

func TestArtifactDumper_StorageFailuresAreLogged(t *testing.T) {
	log := logger.NewTestLogger()
	page := browser.NewFakePage(stepURL("welcome"), "Welcome")

	out := NewArtifactDumper(failingStorage{}, log).Dump(context.Background(), page, "boom")

	assert.Equal(t, Artifacts{Screenshot: unavailable, HTML: unavailable, Meta: unavailable}, out)
	assert.Len(t, log.Matching("could not write failure artifact"), 3)
}

func TestArtifactDumper_NoStore(t *testing.T) {
	log := logger.NewTestLogger()
	out := NewArtifactDumper(nil, log).Dump(context.Background(), browser.NewFakePage(baseURL, ""), "boom")

	assert.Equal(t, unavailable, out.Meta)
	assert.Len(t, log.Matching("no artifact storage configured"), 1)
}
