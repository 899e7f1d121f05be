package retry

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
)

func TestConstant(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		budget   time.Duration
		first    time.Duration
	}{
		{name: "waits the interval", interval: 10 * time.Millisecond, budget: time.Second, first: 10 * time.Millisecond},
		{name: "interval beyond budget", interval: time.Second, budget: 10 * time.Millisecond, first: backoff.Stop},
		{name: "no budget", interval: 10 * time.Millisecond, budget: 0, first: backoff.Stop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Constant(tt.interval, tt.budget)
			assert.Equal(t, tt.first, b.NextBackOff())
		})
	}
}

func TestConstant_IntervalDoesNotGrow(t *testing.T) {
	b := Constant(5*time.Millisecond, time.Minute)
	for i := 0; i < 5; i++ {
		assert.Equal(t, 5*time.Millisecond, b.NextBackOff())
	}
}

func TestConstant_StopsAfterBudget(t *testing.T) {
	b := Constant(5*time.Millisecond, 20*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, backoff.Stop, b.NextBackOff())
}
