package worker

import (
	"time"

	"lotwsync/internal/models"
)

// RetryPolicy is a fixed-cooldown retry budget.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
}

// NextDelay returns the cooldown before the given attempt (1-based). Every
// attempt waits the same time.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if r.Delay <= 0 {
		return models.DefaultRetryDelay
	}
	return r.Delay
}

// Exhausted reports whether a task that has now failed retryCount times is
// out of budget.
func (r RetryPolicy) Exhausted(retryCount int) bool {
	return retryCount > r.MaxRetries
}
