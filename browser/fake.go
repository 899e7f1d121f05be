package browser

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"
)

// ErrNotSupported is returned by FakePage operations that have no script.
var ErrNotSupported = errors.New("not supported by fake page")

// FakeElement is one element of a FakePage.
type FakeElement struct {
	// Selectors are the exact CSS selector strings this element answers to.
	Selectors []string
	Role      string
	Name      string
	Text      string
	Hidden    bool
	// Delay keeps the element out of the document until it has been on the page this long.
	Delay time.Duration
	// Options are the labels of a select element.
	Options []string
	Value   string
	// OnClick runs when the element is clicked. A nil hook makes the click a no-op.
	OnClick func(p *FakePage) error
	// ClickErr, when set, is returned by Click instead of running OnClick.
	ClickErr error

	addedAt time.Time
	removed bool
}

// FakePage is a scriptable, in-memory Page for tests.
type FakePage struct {
	mu       sync.Mutex
	url      string
	title    string
	elements []*FakeElement
	visits   []string
	accept   bool
	dialogs  int

	// OnGoto replaces the default navigation, which only sets the URL.
	OnGoto func(p *FakePage, url string) error
	// OnEvaluate answers Evaluate calls. Without it Evaluate returns ErrNotSupported.
	OnEvaluate func(p *FakePage, script string, arg interface{}) (interface{}, error)
	// CountErrs are returned, one per call, by Count before it starts answering.
	CountErrs []error
}

// NewFakePage creates a page at url.
func NewFakePage(url, title string) *FakePage {
	return &FakePage{url: url, title: title}
}

// Add puts elements on the page.
func (p *FakePage) Add(elements ...*FakeElement) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for _, e := range elements {
		e.addedAt = now
		e.removed = false
		p.elements = append(p.elements, e)
	}
}

// Remove takes elements off the page.
func (p *FakePage) Remove(elements ...*FakeElement) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range elements {
		e.removed = true
	}
}

// Navigate replaces URL, title and every element, as a page load would.
func (p *FakePage) Navigate(url, title string, elements ...*FakeElement) {
	p.mu.Lock()
	for _, e := range p.elements {
		e.removed = true
	}
	p.elements = nil
	p.url = url
	p.title = title
	p.mu.Unlock()
	p.Add(elements...)
}

// SetURL changes the URL without touching elements.
func (p *FakePage) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

// Visits returns every URL passed to Goto.
func (p *FakePage) Visits() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.visits...)
}

// RaiseDialog simulates a confirm dialog and reports whether it was accepted.
func (p *FakePage) RaiseDialog() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dialogs++
	return p.accept
}

// Dialogs returns how many dialogs were raised.
func (p *FakePage) Dialogs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dialogs
}

func (p *FakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *FakePage) Title() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.title, nil
}

func (p *FakePage) Goto(url string) error {
	p.mu.Lock()
	p.visits = append(p.visits, url)
	hook := p.OnGoto
	p.mu.Unlock()

	if hook != nil {
		return hook(p, url)
	}
	p.SetURL(url)
	return nil
}

func (p *FakePage) Locator(selector string) Locator {
	parts := strings.Split(selector, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return &fakeLocator{page: p, index: -1, match: func(e *FakeElement) bool {
		for _, s := range e.Selectors {
			for _, want := range parts {
				if s == want {
					return true
				}
			}
		}
		return false
	}}
}

func (p *FakePage) GetByRole(role, name string, exact bool) Locator {
	return &fakeLocator{page: p, index: -1, match: func(e *FakeElement) bool {
		return e.Role == role && textMatches(e.Name, name, exact)
	}}
}

func (p *FakePage) GetByText(text string, exact bool) Locator {
	return &fakeLocator{page: p, index: -1, match: func(e *FakeElement) bool {
		return e.Text != "" && textMatches(e.Text, text, exact)
	}}
}

func textMatches(have, want string, exact bool) bool {
	if exact {
		return have == want
	}
	return strings.Contains(strings.ToLower(have), strings.ToLower(want))
}

func (p *FakePage) WaitForLoadState(state string, timeout time.Duration) error {
	return nil
}

// Content renders the visible text of the page as a minimal HTML document.
func (p *FakePage) Content() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var b strings.Builder
	fmt.Fprintf(&b, "<html><head><title>%s</title></head><body>", html.EscapeString(p.title))
	for _, e := range p.present() {
		fmt.Fprintf(&b, "<div>%s</div>", html.EscapeString(e.Text))
	}
	b.WriteString("</body></html>")
	return b.String(), nil
}

func (p *FakePage) Screenshot(fullPage bool) ([]byte, error) {
	return []byte("\x89PNG fake"), nil
}

func (p *FakePage) Evaluate(script string, arg interface{}) (interface{}, error) {
	p.mu.Lock()
	hook := p.OnEvaluate
	p.mu.Unlock()
	if hook == nil {
		return nil, ErrNotSupported
	}
	return hook(p, script, arg)
}

func (p *FakePage) AcceptDialogs() func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accept = true
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.accept = false
	}
}

// present must be called with mu held.
func (p *FakePage) present() []*FakeElement {
	now := time.Now()
	var out []*FakeElement
	for _, e := range p.elements {
		if e.removed || now.Sub(e.addedAt) < e.Delay {
			continue
		}
		out = append(out, e)
	}
	return out
}

type fakeLocator struct {
	page  *FakePage
	match func(*FakeElement) bool
	index int
}

func (l *fakeLocator) matches() []*FakeElement {
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	var out []*FakeElement
	for _, e := range l.page.present() {
		if l.match(e) {
			out = append(out, e)
		}
	}
	if l.index < 0 {
		return out
	}
	if l.index >= len(out) {
		return nil
	}
	return out[l.index : l.index+1]
}

func (l *fakeLocator) element() (*FakeElement, error) {
	m := l.matches()
	if len(m) == 0 {
		return nil, errors.New("fake page: no element matches locator")
	}
	return m[0], nil
}

func (l *fakeLocator) Count() (int, error) {
	l.page.mu.Lock()
	if len(l.page.CountErrs) > 0 {
		err := l.page.CountErrs[0]
		l.page.CountErrs = l.page.CountErrs[1:]
		l.page.mu.Unlock()
		return 0, err
	}
	l.page.mu.Unlock()
	return len(l.matches()), nil
}

func (l *fakeLocator) First() Locator {
	return l.Nth(0)
}

func (l *fakeLocator) Nth(i int) Locator {
	return &fakeLocator{page: l.page, index: i, match: l.match}
}

func (l *fakeLocator) IsVisible() (bool, error) {
	m := l.matches()
	return len(m) > 0 && !m[0].Hidden, nil
}

func (l *fakeLocator) Click(timeout time.Duration) error {
	e, err := l.element()
	if err != nil {
		return err
	}
	if e.ClickErr != nil {
		return e.ClickErr
	}
	if e.Hidden {
		return fmt.Errorf("fake page: element %q is not visible", e.Name+e.Text)
	}
	if e.OnClick != nil {
		return e.OnClick(l.page)
	}
	return nil
}

func (l *fakeLocator) Fill(value string) error {
	e, err := l.element()
	if err != nil {
		return err
	}
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	e.Value = value
	return nil
}

func (l *fakeLocator) InnerText() (string, error) {
	e, err := l.element()
	if err != nil {
		return "", err
	}
	return e.Text, nil
}

func (l *fakeLocator) SelectOption(label string) error {
	e, err := l.element()
	if err != nil {
		return err
	}
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	for _, o := range e.Options {
		if o == label {
			e.Value = label
			return nil
		}
	}
	return fmt.Errorf("fake page: option %q not found", label)
}

// FakeSession wraps a FakePage as a Session.
type FakeSession struct {
	page   *FakePage
	mu     sync.Mutex
	closed int
}

// NewFakeSession returns a session serving page.
func NewFakeSession(page *FakePage) *FakeSession {
	return &FakeSession{page: page}
}

func (s *FakeSession) Page() Page {
	return s.page
}

func (s *FakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

// Closed returns how many times Close was called.
func (s *FakeSession) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
