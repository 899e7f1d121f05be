package installer

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotInstalled is returned when the wizard finished but the instance still does not
// look installed.
var ErrNotInstalled = errors.New("installer did not reach installed state")

// StepTimeoutError is returned when a wizard step did not progress in time.
type StepTimeoutError struct {
	Op       string
	URL      string
	Step     string
	Timeout  time.Duration
	Warnings []string
}

func (e *StepTimeoutError) Error() string {
	msg := fmt.Sprintf("%s within %s (url=%s, step=%s)", e.Op, e.Timeout, e.URL, e.Step)
	if len(e.Warnings) > 0 {
		msg += "; page warnings: " + strings.Join(e.Warnings, " | ")
	}
	return msg
}

// FieldNotFoundError is returned when a required form field could not be located.
type FieldNotFoundError struct {
	Form  string
	Field string
	URL   string
}

func (e *FieldNotFoundError) Error() string {
	return fmt.Sprintf("required field %q of the %s form not found (url=%s)", e.Field, e.Form, e.URL)
}
