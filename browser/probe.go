package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hairizuan-noorazman/matomo-bootstrap/internal/retry"
)

// Probe kinds.
const (
	KindCSS  = "css"
	KindRole = "role"
	KindText = "text"
)

// Probe is one way of finding an element. Candidates are usually tried in order.
type Probe struct {
	Kind  string
	Value string
	// Role is only used by KindRole probes.
	Role  string
	Exact bool
}

// CSS returns a selector probe.
func CSS(selector string) Probe {
	return Probe{Kind: KindCSS, Value: selector}
}

// Role returns a probe matching an ARIA role and an exact accessible name.
func Role(role, name string) Probe {
	return Probe{Kind: KindRole, Role: role, Value: name, Exact: true}
}

// Text returns a fuzzy text probe.
func Text(text string) Probe {
	return Probe{Kind: KindText, Value: text}
}

// Resolve turns the probe into a Locator on page.
func (p Probe) Resolve(page Page) (Locator, error) {
	switch p.Kind {
	case KindCSS:
		return page.Locator(p.Value), nil
	case KindRole:
		return page.GetByRole(p.Role, p.Value, p.Exact), nil
	case KindText:
		return page.GetByText(p.Value, p.Exact), nil
	default:
		return nil, fmt.Errorf("unknown probe kind %q", p.Kind)
	}
}

func (p Probe) String() string {
	if p.Kind == KindRole {
		return fmt.Sprintf("role=%s[name=%q]", p.Role, p.Value)
	}
	return p.Kind + "=" + p.Value
}

var transientFragments = []string{
	"execution context was destroyed",
	"cannot find context with specified id",
	"frame was detached",
	"inspected target navigated or closed",
}

// IsTransient reports whether err comes from the page navigating underneath a query.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, f := range transientFragments {
		if strings.Contains(msg, f) {
			return true
		}
	}
	return false
}

// TransientLocatorError is returned when a query kept failing with transient
// navigation errors for the whole retry budget.
type TransientLocatorError struct {
	Attempts int
	Err      error
}

func (e *TransientLocatorError) Error() string {
	return fmt.Sprintf("locator still failing after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransientLocatorError) Unwrap() error {
	return e.Err
}

// Finder runs locator queries with a bounded retry on transient errors.
type Finder struct {
	RetryBudget   time.Duration
	RetryInterval time.Duration
}

// NewFinder returns a Finder with the default 2s budget and 100ms interval.
func NewFinder() *Finder {
	return &Finder{
		RetryBudget:   2 * time.Second,
		RetryInterval: 100 * time.Millisecond,
	}
}

// Count returns loc.Count(), retrying transient errors until the budget is spent.
// Any other error is returned after a single call.
func (f *Finder) Count(ctx context.Context, loc Locator) (int, error) {
	var n, attempts int
	operation := func() error {
		attempts++
		count, err := loc.Count()
		if err == nil {
			n = count
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(retry.Constant(f.RetryInterval, f.RetryBudget), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		if IsTransient(err) {
			return 0, &TransientLocatorError{Attempts: attempts, Err: err}
		}
		return 0, err
	}
	return n, nil
}

// FirstVisible returns the first element of the first probe that has at least one match
// and whose first match is visible. Probes that error are skipped.
func (f *Finder) FirstVisible(ctx context.Context, page Page, probes ...Probe) (Locator, Probe, bool) {
	for _, p := range probes {
		if ctx.Err() != nil {
			return nil, Probe{}, false
		}
		loc, err := p.Resolve(page)
		if err != nil {
			continue
		}
		n, err := f.Count(ctx, loc)
		if err != nil || n == 0 {
			continue
		}
		first := loc.First()
		visible, err := first.IsVisible()
		if err != nil || !visible {
			continue
		}
		return first, p, true
	}
	return nil, Probe{}, false
}

// Present reports whether any probe has at least one match, visible or not.
func (f *Finder) Present(ctx context.Context, page Page, probes ...Probe) bool {
	for _, p := range probes {
		loc, err := p.Resolve(page)
		if err != nil {
			continue
		}
		if n, err := f.Count(ctx, loc); err == nil && n > 0 {
			return true
		}
	}
	return false
}
