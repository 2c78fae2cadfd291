// Package jobs defines the contract every generation provider implements and
// the poller that turns a submitted job into a terminal outcome.
package jobs

import (
	"context"
	"time"

	"shortforge/internal/domain"
)

const (
	// DefaultPollInterval is the wait between status checks.
	DefaultPollInterval = 5 * time.Second
	// DefaultBudget covers most providers: 60 polls at the default interval.
	DefaultBudget = 5 * time.Minute
	// SlowBudget is used for video providers: 72 polls at the default interval.
	SlowBudget = 6 * time.Minute
)

// PollPolicy bounds how long the poller waits for one job.
type PollPolicy struct {
	Budget   time.Duration
	Interval time.Duration
}

// DefaultPollPolicy is 60 attempts × 5s.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{Budget: DefaultBudget, Interval: DefaultPollInterval}
}

// SlowPollPolicy is 72 attempts × 5s.
func SlowPollPolicy() PollPolicy {
	return PollPolicy{Budget: SlowBudget, Interval: DefaultPollInterval}
}

// PolicyFromAttempts builds a policy from an attempt count, the way provider
// limits are usually documented.
func PolicyFromAttempts(attempts int, interval time.Duration) PollPolicy {
	if attempts <= 0 {
		attempts = 1
	}
	return PollPolicy{Budget: time.Duration(attempts) * interval, Interval: interval}
}

// MaxAttempts is ceil(Budget / Interval). A non-positive interval means the
// job resolves on its first poll.
func (p PollPolicy) MaxAttempts() int {
	if p.Interval <= 0 {
		return 1
	}
	if p.Budget <= 0 {
		return 1
	}
	n := int(p.Budget / p.Interval)
	if p.Budget%p.Interval != 0 {
		n++
	}
	return n
}

// WithOverrides applies the per-request budget and interval when set.
func (p PollPolicy) WithOverrides(req domain.JobRequest) PollPolicy {
	if req.DurationBudget > 0 {
		p.Budget = req.DurationBudget
	}
	if req.PollInterval > 0 {
		p.Interval = req.PollInterval
	}
	return p
}

// Client wraps one external generation provider for one job kind.
//
// Submit must fail with domain.ErrProviderUnavailable before any network call
// when credentials are missing. Poll performs a single status check and never
// sleeps. Neither method retries; retry policy lives in the Poller and the
// fallback router.
type Client interface {
	Name() string
	Policy() PollPolicy
	Submit(ctx context.Context, req domain.JobRequest) (domain.JobHandle, error)
	Poll(ctx context.Context, handle domain.JobHandle) (domain.JobStatus, error)
}
