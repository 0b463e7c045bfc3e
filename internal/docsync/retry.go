package docsync

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy configures exponential backoff for failed transfers.
type RetryPolicy struct {
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	MaxAttempts   int
	JitterPercent uint64
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:   2 * time.Second,
		MaxDelay:    10 * time.Minute,
		MaxAttempts: 8,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	return p
}

// NewBackoff returns a fresh backoff sequence for one file item. Next yields
// the delay before each retry and reports stop once MaxAttempts retries have
// been handed out.
func (p RetryPolicy) NewBackoff() retry.Backoff {
	p = p.withDefaults()
	b := retry.NewExponential(p.BaseDelay)
	if p.JitterPercent > 0 {
		b = retry.WithJitterPercent(p.JitterPercent, b)
	}
	b = retry.WithCappedDuration(p.MaxDelay, b)
	return retry.WithMaxRetries(uint64(p.MaxAttempts), b)
}

// retryState tracks the backoff of one file item between cycles.
type retryState struct {
	backoff  retry.Backoff
	attempts int
	notUntil time.Time
}

// next advances the backoff. It returns false when the attempt budget is
// exhausted.
func (r *retryState) next(policy RetryPolicy, now time.Time) bool {
	if r.backoff == nil {
		r.backoff = policy.NewBackoff()
	}
	d, stop := r.backoff.Next()
	if stop {
		return false
	}
	r.attempts++
	r.notUntil = now.Add(d)
	return true
}
