package fallback

import (
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"

	"shortforge/internal/domain"
)

// RateLimitMarkers are matched case-insensitively against provider error
// text. Providers do not standardise their messages, so this list grows as
// new formats show up in the "unclassified provider error" log line.
var RateLimitMarkers = []string{
	"rate limit",
	"rate-limit",
	"ratelimit",
	"quota exceeded",
	"exceeded your current quota",
	"daily task limit",
	"too many requests",
	"resource_exhausted",
	"resource exhausted",
	"throttl",
}

// TransientMarkers are known retry-on-another-provider failures. Anything
// unmatched is treated as transient too; this list only decides whether the
// classification counts as recognised.
var TransientMarkers = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"service unavailable",
	"server unavailable",
	"internal error",
	"internalerror",
	"connection reset",
	"connection refused",
	"overloaded",
	"bad gateway",
	"content filtered",
	"content_filter",
	"content policy",
	"content_policy_violation",
	"prohibited_content",
	"datainspectionfailed",
	"safety policy",
	"blocked by safety",
	"flagged as inappropriate",
}

// Classification is the verdict for one failure.
type Classification struct {
	Kind       domain.ErrorKind
	Recognized bool
}

// ClassifyError maps an HTTP status and message onto an ErrorKind. Unmatched
// failures are Transient so the fallback chain keeps advancing.
func ClassifyError(status int, message string) domain.ErrorKind {
	return classify(status, message).Kind
}

func classify(status int, message string) Classification {
	if status == http.StatusTooManyRequests {
		return Classification{Kind: domain.KindRateLimited, Recognized: true}
	}
	msg := strings.ToLower(message)
	for _, marker := range RateLimitMarkers {
		if strings.Contains(msg, marker) {
			return Classification{Kind: domain.KindRateLimited, Recognized: true}
		}
	}
	if status >= 500 {
		return Classification{Kind: domain.KindTransient, Recognized: true}
	}
	for _, marker := range TransientMarkers {
		if strings.Contains(msg, marker) {
			return Classification{Kind: domain.KindTransient, Recognized: true}
		}
	}
	return Classification{Kind: domain.KindTransient}
}

// classifyErr classifies an error returned by the poller. Kinds the poller
// already settled (timeouts, missing credentials) are kept.
func classifyErr(err error) Classification {
	var jobErr *domain.JobError
	if errors.As(err, &jobErr) {
		switch jobErr.Kind {
		case domain.KindTimedOut, domain.KindProviderUnavailable, domain.KindFatal, domain.KindRateLimited:
			return Classification{Kind: jobErr.Kind, Recognized: true}
		}
	}
	if errors.Is(err, domain.ErrInvalidOutput) {
		return Classification{Kind: domain.KindTransient, Recognized: true}
	}
	if errors.Is(err, domain.ErrProviderUnavailable) {
		return Classification{Kind: domain.KindProviderUnavailable, Recognized: true}
	}
	status := 0
	var perr *domain.ProviderError
	if errors.As(err, &perr) {
		status = perr.StatusCode
	}
	return classify(status, err.Error())
}
