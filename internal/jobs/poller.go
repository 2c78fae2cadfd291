package jobs

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"shortforge/internal/domain"
)

// PollerOptions configures a Poller.
type PollerOptions struct {
	Clock  Clock
	Logger *zerolog.Logger
}

// Poller drives the submit → poll loop for a single job.
type Poller struct {
	clock  Clock
	logger zerolog.Logger
}

// NewPoller constructs a poller. A nil clock uses real time.
func NewPoller(opts PollerOptions) *Poller {
	clock := opts.Clock
	if clock == nil {
		clock = RealClock()
	}
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Poller{clock: clock, logger: logger}
}

// Result is the terminal outcome of one job. Status is never Pending.
type Result struct {
	Provider string
	Handle   domain.JobHandle
	Status   domain.JobStatus
	Attempts int
	Elapsed  time.Duration
	cause    error
}

// Err returns nil for a succeeded job and a *domain.JobError otherwise. The
// JobError unwraps to the underlying submit or poll error when there is one.
func (r Result) Err() error {
	switch r.Status.State {
	case domain.JobSucceeded:
		return nil
	case domain.JobTimedOut:
		jobErr := domain.NewJobError(r.Provider, domain.KindTimedOut, r.Status.Message, domain.ErrTimedOut)
		jobErr.Attempts = r.Attempts
		return jobErr
	default:
		cause := r.cause
		if cause == nil {
			cause = errors.New(r.Status.Message)
		}
		jobErr := domain.NewJobError(r.Provider, r.Status.ErrorKind, r.Status.Message, cause)
		jobErr.Attempts = r.Attempts
		return jobErr
	}
}

// Run submits req to client once and polls until the job is terminal or the
// attempt budget is spent. Failed jobs are returned as-is; there is no retry.
// Cancelling ctx stops the local wait only: the remote job keeps running.
func (p *Poller) Run(ctx context.Context, client Client, req domain.JobRequest) Result {
	provider := client.Name()
	start := p.clock.Now()
	log := p.logger.With().Str("provider", provider).Int("scene", req.SceneIndex).Logger()

	handle, err := client.Submit(ctx, req)
	if err != nil {
		kind := domain.KindOf(err)
		if kind == domain.KindTransient {
			// Left for the router to classify from status and message.
			kind = ""
		}
		return Result{
			Provider: provider,
			Status:   domain.Failed(kind, err.Error()),
			Elapsed:  p.clock.Now().Sub(start),
			cause:    errors.Wrapf(err, "submit to %s", provider),
		}
	}
	if handle.Provider == "" {
		handle.Provider = provider
	}

	policy := client.Policy().WithOverrides(req)
	maxAttempts := policy.MaxAttempts()
	log.Debug().Str("job_id", handle.ID).Int("max_attempts", maxAttempts).Dur("interval", policy.Interval).Msg("jobs: submitted")

	var lastPollErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := p.clock.Sleep(ctx, policy.Interval); err != nil {
			return Result{
				Provider: provider,
				Handle:   handle,
				Status:   domain.Failed(domain.KindTransient, "stopped waiting: "+err.Error()),
				Attempts: attempt - 1,
				Elapsed:  p.clock.Now().Sub(start),
				cause:    err,
			}
		}
		status, err := client.Poll(ctx, handle)
		if err != nil {
			if ctx.Err() != nil {
				return Result{
					Provider: provider,
					Handle:   handle,
					Status:   domain.Failed(domain.KindTransient, "stopped waiting: "+ctx.Err().Error()),
					Attempts: attempt,
					Elapsed:  p.clock.Now().Sub(start),
					cause:    ctx.Err(),
				}
			}
			lastPollErr = err
			log.Debug().Err(err).Int("attempt", attempt).Str("job_id", handle.ID).Msg("jobs: poll failed, waiting")
			continue
		}
		if !status.Terminal() {
			continue
		}
		res := Result{
			Provider: provider,
			Handle:   handle,
			Status:   status,
			Attempts: attempt,
			Elapsed:  p.clock.Now().Sub(start),
		}
		if status.State == domain.JobSucceeded {
			log.Debug().Str("job_id", handle.ID).Int("attempt", attempt).Msg("jobs: succeeded")
		} else {
			log.Debug().Str("job_id", handle.ID).Str("state", string(status.State)).Str("message", status.Message).Msg("jobs: failed")
		}
		return res
	}

	msg := fmt.Sprintf("still pending after %d polls (%s budget)", maxAttempts, policy.Budget)
	if lastPollErr != nil {
		msg += "; last poll error: " + lastPollErr.Error()
	}
	log.Warn().Str("job_id", handle.ID).Int("attempts", maxAttempts).Msg("jobs: timed out")
	return Result{
		Provider: provider,
		Handle:   handle,
		Status:   domain.TimedOut(msg),
		Attempts: maxAttempts,
		Elapsed:  p.clock.Now().Sub(start),
	}
}
