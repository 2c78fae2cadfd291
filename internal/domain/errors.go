package domain

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrRateLimited         = errors.New("provider rate limited")
	ErrTransient           = errors.New("provider transient failure")
	ErrChainExhausted      = errors.New("provider chain exhausted")
	ErrTimedOut            = errors.New("job timed out")
	ErrStageFailed         = errors.New("stage failed")
	ErrInvalidOutput       = errors.New("invalid stage output")
	ErrNotFound            = errors.New("not found")
)

// ErrorKind classifies a provider failure and drives the fallback decision.
type ErrorKind string

const (
	KindProviderUnavailable ErrorKind = "provider_unavailable"
	KindRateLimited         ErrorKind = "rate_limited"
	KindTransient           ErrorKind = "transient"
	KindFatal               ErrorKind = "fatal"
	KindTimedOut            ErrorKind = "timed_out"
)

// Advances reports whether a failure of this kind lets the router move on to
// the next provider in the chain.
func (k ErrorKind) Advances() bool {
	return k != KindFatal
}

// Sentinel maps a kind onto the matching sentinel error.
func (k ErrorKind) Sentinel() error {
	switch k {
	case KindProviderUnavailable:
		return ErrProviderUnavailable
	case KindRateLimited:
		return ErrRateLimited
	case KindTimedOut:
		return ErrTimedOut
	case KindFatal:
		return ErrChainExhausted
	default:
		return ErrTransient
	}
}

// ProviderError is returned by provider adapters for non-2xx responses so the
// HTTP status survives until classification.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// JobError describes a terminal job failure produced by the poller or by a
// failed submission. Kind is set once the failure has been classified.
type JobError struct {
	Provider string
	Kind     ErrorKind
	Message  string
	Attempts int
	cause    error
}

// NewJobError wraps cause into a classified job failure.
func NewJobError(provider string, kind ErrorKind, message string, cause error) *JobError {
	return &JobError{Provider: provider, Kind: kind, Message: message, cause: cause}
}

func (e *JobError) Error() string {
	kind := string(e.Kind)
	if kind == "" {
		kind = "failed"
	}
	if e.Attempts > 0 {
		return fmt.Sprintf("%s: %s after %d polls: %s", e.Provider, kind, e.Attempts, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, kind, e.Message)
}

func (e *JobError) Unwrap() error {
	return e.cause
}

// Is lets errors.Is match a JobError against the sentinel of its kind.
func (e *JobError) Is(target error) bool {
	return target == e.Kind.Sentinel()
}

// KindOf extracts the ErrorKind carried by err, defaulting to transient.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var jobErr *JobError
	if errors.As(err, &jobErr) && jobErr.Kind != "" {
		return jobErr.Kind
	}
	switch {
	case errors.Is(err, ErrProviderUnavailable):
		return KindProviderUnavailable
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrTimedOut):
		return KindTimedOut
	case errors.Is(err, ErrChainExhausted):
		return KindFatal
	}
	return KindTransient
}
