// Package retry holds the backoff policies shared by the polling loops.
package retry

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Constant returns a policy that waits interval between attempts and stops once the next
// wait would take the total elapsed time past budget. A non-positive budget allows a
// single attempt.
func Constant(interval, budget time.Duration) backoff.BackOff {
	if budget <= 0 {
		return &backoff.StopBackOff{}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = interval
	b.MaxInterval = interval
	b.Multiplier = 1
	b.RandomizationFactor = 0
	b.MaxElapsedTime = budget
	b.Reset()
	return b
}
