// Package browser is the element-locator layer used to drive the installer wizard.
// Callers depend on the Page and Locator interfaces; the playwright-go adapter and the
// in-memory FakePage both implement them.
package browser

import (
	"time"
)

// Load states accepted by Page.WaitForLoadState.
const (
	LoadStateDOMContentLoaded = "domcontentloaded"
	LoadStateNetworkIdle      = "networkidle"
	LoadStateLoad             = "load"
)

// Page is a single open document that can be queried and driven.
type Page interface {
	URL() string
	Title() (string, error)
	Goto(url string) error

	// Locator returns all elements matching a CSS selector.
	Locator(selector string) Locator

	// GetByRole returns elements with the ARIA role whose accessible name matches name.
	// Without exact the name is matched case-insensitively as a substring.
	GetByRole(role, name string, exact bool) Locator

	// GetByText returns elements whose text matches.
	GetByText(text string, exact bool) Locator

	WaitForLoadState(state string, timeout time.Duration) error
	Content() (string, error)
	Screenshot(fullPage bool) ([]byte, error)
	Evaluate(script string, arg interface{}) (interface{}, error)

	// AcceptDialogs makes the page accept confirm/alert dialogs until the returned func
	// is called. Dialogs raised while disarmed are dismissed.
	AcceptDialogs() (disarm func())
}

// Locator is a lazy query against a Page. It is re-evaluated on every call.
type Locator interface {
	Count() (int, error)
	First() Locator
	Nth(i int) Locator
	IsVisible() (bool, error)
	Click(timeout time.Duration) error
	Fill(value string) error
	InnerText() (string, error)
	SelectOption(label string) error
}

// Session owns one browser, one context and one page.
type Session interface {
	Page() Page
	Close() error
}
