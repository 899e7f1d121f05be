package installer

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/hairizuan-noorazman/matomo-bootstrap/browser"
)

const baseURL = "http://matomo.test/"

func stepURL(action string) string {
	return baseURL + "index.php?action=" + action + "&module=Installation"
}

func testTiming() Timing {
	return Timing{
		PollInterval:    2 * time.Millisecond,
		ClickTimeout:    10 * time.Millisecond,
		ClickRetryDelay: time.Millisecond,
		LoadTimeout:     10 * time.Millisecond,
	}
}

func testFinder() *browser.Finder {
	return &browser.Finder{RetryBudget: 20 * time.Millisecond, RetryInterval: time.Millisecond}
}

func testConfig() Config {
	return Config{
		BaseURL:              baseURL,
		Superuser:            Superuser{Login: "admin", Password: "s3cret!", Email: "admin@example.org"},
		Site:                 Site{Name: "Shop", URL: "https://shop.example.org", Timezone: "UTC", Ecommerce: "Ecommerce enabled"},
		ReadyTimeout:         time.Second,
		StepTimeout:          time.Second,
		StepDeadline:         2 * time.Second,
		TableCreationTimeout: time.Second,
		TableEraseTimeout:    500 * time.Millisecond,
		LocatorRetryBudget:   20 * time.Millisecond,
		LocatorRetryInterval: time.Millisecond,
		Timing:               testTiming(),
	}
}

func input(name string) *browser.FakeElement {
	return &browser.FakeElement{
		Selectors: []string{"#" + name + "-0", "input[name='" + name + "']", "form [name='" + name + "']"},
	}
}

func selectField(name string, options ...string) *browser.FakeElement {
	return &browser.FakeElement{
		Selectors: []string{"#" + name + "-0", "select[name='" + name + "']", "form [name='" + name + "']"},
		Options:   options,
	}
}

func nextLink(onClick func(p *browser.FakePage) error) *browser.FakeElement {
	return &browser.FakeElement{Role: "link", Name: "Next »", Text: "Next »", OnClick: onClick}
}

func submitButton(onClick func(p *browser.FakePage) error) *browser.FakeElement {
	return &browser.FakeElement{
		Selectors: []string{"input[type='submit']"},
		Role:      "button",
		Name:      "Next »",
		OnClick:   onClick,
	}
}

type fakeDetector struct {
	mu        sync.Mutex
	installed bool
	waitErr   error
	checks    int
}

func (d *fakeDetector) WaitHTTP(ctx context.Context, url string) error {
	return d.waitErr
}

func (d *fakeDetector) IsInstalled(ctx context.Context, url string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.checks++
	return d.installed
}

func (d *fakeDetector) setInstalled() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.installed = true
}

type fakeLauncher struct {
	session  *browser.FakeSession
	launches int
}

func (l *fakeLauncher) Launch(ctx context.Context) (browser.Session, error) {
	l.launches++
	if l.session == nil {
		return nil, errors.New("no browser in this test")
	}
	return l.session, nil
}

// wizard simulates the Matomo installer pages on a FakePage.
type wizard struct {
	page     *browser.FakePage
	detector *fakeDetector
	fields   map[string]*browser.FakeElement

	existingTables bool
	dropEmail      bool
}

func newWizard() *wizard {
	w := &wizard{
		page:     browser.NewFakePage("about:blank", ""),
		detector: &fakeDetector{},
		fields:   map[string]*browser.FakeElement{},
	}
	w.page.OnGoto = func(p *browser.FakePage, url string) error {
		if url == baseURL {
			w.welcome()
			return nil
		}
		p.SetURL(url)
		return nil
	}
	return w
}

func (w *wizard) field(el *browser.FakeElement, name string) *browser.FakeElement {
	w.fields[name] = el
	return el
}

func (w *wizard) welcome() {
	w.page.Navigate(baseURL, "Matomo › Installation", nextLink(func(p *browser.FakePage) error {
		w.systemCheck()
		return nil
	}))
}

func (w *wizard) systemCheck() {
	w.page.Navigate(stepURL("systemCheck"), "System check",
		&browser.FakeElement{Selectors: []string{".system-check-warning"}, Text: "  PHP memory_limit is low  "},
		nextLink(func(p *browser.FakePage) error {
			w.databaseSetup()
			return nil
		}),
	)
}

func (w *wizard) databaseSetup() {
	w.page.Navigate(stepURL("databaseSetup"), "Database setup",
		w.field(input("host"), "host"),
		w.field(input("username"), "username"),
		w.field(input("password"), "db_password"),
		w.field(input("dbname"), "dbname"),
		w.field(input("tables_prefix"), "tables_prefix"),
		submitButton(func(p *browser.FakePage) error {
			w.tablesCreation()
			return nil
		}),
	)
}

func (w *wizard) tablesCreation() {
	next := nextLink(func(p *browser.FakePage) error {
		w.setupSuperUser()
		return nil
	})
	if !w.existingTables {
		w.page.Navigate(stepURL("tablesCreation"), "Creating the tables", next)
		return
	}
	w.page.Navigate(stepURL("tablesCreation"), "Creating the tables",
		&browser.FakeElement{Selectors: []string{".warning"}, Text: "Some tables in your database have the same names"},
		&browser.FakeElement{
			Selectors: []string{"#eraseAllTables"},
			Role:      "link",
			Name:      "Delete the detected tables",
			Text:      "Delete the detected tables",
			OnClick: func(p *browser.FakePage) error {
				if !p.RaiseDialog() {
					return nil
				}
				w.existingTables = false
				w.page.Navigate(stepURL("tablesCreation")+"&deleteTables=1", "Creating the tables", next)
				return nil
			},
		},
	)
}

func (w *wizard) setupSuperUser() {
	elements := []*browser.FakeElement{
		w.field(input("login"), "login"),
		w.field(input("password"), "password"),
		w.field(input("password_bis"), "password_bis"),
	}
	if !w.dropEmail {
		elements = append(elements, w.field(input("email"), "email"))
	}
	elements = append(elements, submitButton(func(p *browser.FakePage) error {
		if w.fields["login"].Value == "" || w.fields["password"].Value != w.fields["password_bis"].Value {
			p.Add(&browser.FakeElement{Selectors: []string{".alert.alert-warning"}, Text: "Password (repeat) required"})
			return nil
		}
		w.firstWebsiteSetup()
		return nil
	}))
	w.page.Navigate(stepURL("setupSuperUser"), "Superuser", elements...)
}

func (w *wizard) firstWebsiteSetup() {
	w.page.Navigate(stepURL("firstWebsiteSetup"), "Setup a website",
		w.field(input("siteName"), "siteName"),
		w.field(input("url"), "url"),
		w.field(selectField("timezone", "UTC", "Germany - Berlin"), "timezone"),
		w.field(selectField("ecommerce", "Not an Ecommerce site", "Ecommerce enabled"), "ecommerce"),
		submitButton(func(p *browser.FakePage) error {
			w.trackingCode()
			return nil
		}),
	)
}

func (w *wizard) trackingCode() {
	w.page.Navigate(stepURL("trackingCode"), "JavaScript Tracking Code", nextLink(func(p *browser.FakePage) error {
		w.finished()
		return nil
	}))
}

func (w *wizard) finished() {
	w.page.Navigate(stepURL("finished"), "Congratulations", &browser.FakeElement{
		Role: "button",
		Name: "Continue to Matomo »",
		OnClick: func(p *browser.FakePage) error {
			w.detector.setInstalled()
			p.Navigate(baseURL+"index.php?module=Login", "Matomo › Login")
			return nil
		},
	})
}

type failingStorage struct{}

func (failingStorage) Upload(ctx context.Context, path, contentType string, reader io.Reader) error {
	return errors.New("disk full")
}

func (failingStorage) Exists(ctx context.Context, path string) (bool, error) {
	return false, nil
}

func (failingStorage) Location(ctx context.Context, path string) (string, error) {
	return "", errors.New("disk full")
}
