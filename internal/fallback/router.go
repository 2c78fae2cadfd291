// Package fallback tries an ordered chain of providers for one job until one
// of them succeeds.
package fallback

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"shortforge/internal/domain"
	"shortforge/internal/jobs"
)

// Attempt records one provider tried for a job.
type Attempt struct {
	Provider string
	Kind     domain.ErrorKind
	Err      error
}

// Outcome is a successful route.
type Outcome struct {
	Provider string
	Artifact *domain.Artifact
	Attempts []Attempt
}

// ChainError is returned when no provider in the chain produced a result.
// It unwraps to the last provider's error.
type ChainError struct {
	Kind     domain.ErrorKind
	Attempts []Attempt
}

func (e *ChainError) Error() string {
	if len(e.Attempts) == 0 {
		return "fallback: empty provider chain"
	}
	names := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		names = append(names, a.Provider)
	}
	last := e.Attempts[len(e.Attempts)-1]
	return fmt.Sprintf("fallback: all providers failed [%s]: %v", strings.Join(names, ", "), last.Err)
}

func (e *ChainError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

func (e *ChainError) Is(target error) bool {
	return target == domain.ErrChainExhausted
}

// LastKind is the classification of the last provider tried.
func (e *ChainError) LastKind() domain.ErrorKind {
	if len(e.Attempts) == 0 {
		return domain.KindProviderUnavailable
	}
	return e.Attempts[len(e.Attempts)-1].Kind
}

// Options configures a Router.
type Options struct {
	Poller *jobs.Poller
	Logger *zerolog.Logger
}

// Router walks a provider chain in order, one provider at a time.
type Router struct {
	chain  []jobs.Client
	poller *jobs.Poller
	logger zerolog.Logger
}

// NewRouter builds a router over chain. The order of chain is the preference
// order.
func NewRouter(chain []jobs.Client, opts Options) *Router {
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	poller := opts.Poller
	if poller == nil {
		poller = jobs.NewPoller(jobs.PollerOptions{Logger: &logger})
	}
	return &Router{chain: append([]jobs.Client(nil), chain...), poller: poller, logger: logger}
}

// Providers returns the chain's provider names in order.
func (r *Router) Providers() []string {
	names := make([]string, 0, len(r.chain))
	for _, c := range r.chain {
		names = append(names, c.Name())
	}
	return names
}

// AcceptFunc inspects a successful artifact. A non-nil error rejects it and
// the router moves on as if the provider had failed transiently.
type AcceptFunc func(*domain.Artifact) error

// Route submits req to each provider in turn. Providers after the first
// success are never contacted. A Fatal failure or a cancelled context stops
// the walk early.
func (r *Router) Route(ctx context.Context, req domain.JobRequest) (Outcome, error) {
	return r.RouteAccept(ctx, req, nil)
}

// RouteAccept is Route with an extra check on each provider's output.
func (r *Router) RouteAccept(ctx context.Context, req domain.JobRequest, accept AcceptFunc) (Outcome, error) {
	var attempts []Attempt
	log := r.logger.With().Str("kind", string(req.Kind)).Int("scene", req.SceneIndex).Logger()

	for i, client := range r.chain {
		if err := ctx.Err(); err != nil {
			attempts = append(attempts, Attempt{Provider: client.Name(), Kind: domain.KindFatal, Err: err})
			break
		}
		res := r.poller.Run(ctx, client, req)
		err := res.Err()
		artifact := res.Status.Artifact
		if artifact == nil {
			artifact = &domain.Artifact{}
		}
		if err == nil && accept != nil {
			if rejected := accept(artifact); rejected != nil {
				err = domain.NewJobError(client.Name(), domain.KindTransient, "rejected output: "+rejected.Error(),
					errors.Mark(rejected, domain.ErrInvalidOutput))
			}
		}
		if err == nil {
			if i > 0 {
				log.Info().Str("provider", client.Name()).Int("position", i).Msg("fallback: served by fallback provider")
			}
			return Outcome{Provider: client.Name(), Artifact: artifact, Attempts: attempts}, nil
		}

		c := classifyErr(err)
		if ctx.Err() != nil {
			c = Classification{Kind: domain.KindFatal, Recognized: true}
		}
		attempts = append(attempts, Attempt{Provider: client.Name(), Kind: c.Kind, Err: withKind(err, c.Kind)})

		switch {
		case c.Kind == domain.KindProviderUnavailable:
			log.Warn().Str("provider", client.Name()).Msg("fallback: provider in chain has no credentials, skipping")
		case !c.Recognized:
			status := 0
			var perr *domain.ProviderError
			if errors.As(err, &perr) {
				status = perr.StatusCode
			}
			log.Warn().Str("provider", client.Name()).Int("status", status).Str("message", err.Error()).Msg("fallback: unclassified provider error")
		default:
			log.Warn().Str("provider", client.Name()).Str("error_kind", string(c.Kind)).Err(err).Msg("fallback: provider failed")
		}
		if !c.Kind.Advances() {
			break
		}
	}

	return Outcome{}, &ChainError{Kind: domain.KindFatal, Attempts: attempts}
}

// withKind stamps the router's classification onto an unclassified JobError
// so callers can read it back through domain.KindOf.
func withKind(err error, kind domain.ErrorKind) error {
	var jobErr *domain.JobError
	if errors.As(err, &jobErr) {
		if jobErr.Kind == "" {
			jobErr.Kind = kind
		}
		return err
	}
	return domain.NewJobError("", kind, err.Error(), err)
}
