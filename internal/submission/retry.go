package submission

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds the automatic retries of a forced submission.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	MaxDelay    time.Duration
}

// BackOff returns a fresh retry schedule: Base doubled per retry and capped
// at MaxDelay, without jitter. It stops once MaxAttempts attempts have run;
// a non-positive MaxAttempts never stops.
func (p RetryPolicy) BackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.Base > 0 {
		b.InitialInterval = p.Base
	}
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()

	if p.MaxAttempts <= 0 {
		return b
	}
	return backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
}
