package browser

import (
	"fmt"

	pw "github.com/playwright-community/playwright-go"
)

// InstallDriver downloads the playwright driver and the named browsers
// (chromium when none are given).
func InstallDriver(browsers ...string) error {
	if len(browsers) == 0 {
		browsers = []string{"chromium"}
	}
	if err := pw.Install(&pw.RunOptions{Browsers: browsers}); err != nil {
		return fmt.Errorf("failed to install playwright browsers %v: %w", browsers, err)
	}
	return nil
}
