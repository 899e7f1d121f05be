package installer

import (
	"net/url"
	"time"
)

// StepHint identifies the wizard page from its URL: "module:action" when either query
// parameter is set, else the path, else the raw URL.
func StepHint(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	module, action := q.Get("module"), q.Get("action")
	if module != "" || action != "" {
		return module + ":" + action
	}
	if u.Path != "" {
		return u.Path
	}
	return raw
}

// withQuery returns raw with key=value set in its query string.
func withQuery(raw, key, value string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

// Timing holds the polling constants of the wizard driver. They were tuned against
// Matomo 4/5 and are all configurable.
type Timing struct {
	PollInterval    time.Duration
	ClickTimeout    time.Duration
	ClickRetryDelay time.Duration
	LoadTimeout     time.Duration
	SettleTimeout   time.Duration
	SettleDelay     time.Duration
	WarningInterval time.Duration
	DialogWait      time.Duration
}

// DefaultTiming returns the production timings.
func DefaultTiming() Timing {
	return Timing{
		PollInterval:    300 * time.Millisecond,
		ClickTimeout:    2 * time.Second,
		ClickRetryDelay: 250 * time.Millisecond,
		LoadTimeout:     10 * time.Second,
		SettleTimeout:   2 * time.Second,
		SettleDelay:     250 * time.Millisecond,
		WarningInterval: 5 * time.Second,
		DialogWait:      500 * time.Millisecond,
	}
}
