package robots

import (
	"fmt"

	"github.com/atlascrawl/atlas/internal/observability"
	"github.com/atlascrawl/atlas/pkg/failure"
)

type RobotsErrorCause string

const (
	ErrCauseInvalidRobotsUrl     RobotsErrorCause = "invalid robots.txt URL"
	ErrCausePreFetchFailure      RobotsErrorCause = "failed before making fetch"
	ErrCauseHttpFetchFailure     RobotsErrorCause = "failed to fetch"
	ErrCauseHttpTooManyRequests  RobotsErrorCause = "too many requests"
	ErrCauseHttpTooManyRedirects RobotsErrorCause = "too many redirects"
	ErrCauseHttpServerError      RobotsErrorCause = "http server error"
	ErrCauseHttpUnexpectedStatus RobotsErrorCause = "unexpected http status"
	ErrCauseParseError           RobotsErrorCause = "failed to parse robots.txt"
)

type RobotsError struct {
	Message   string
	Retryable bool
	Cause     RobotsErrorCause
}

func (e *RobotsError) Error() string {
	return fmt.Sprintf("robots error: %s", e.Cause)
}

func (e *RobotsError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

var _ failure.ClassifiedError = (*RobotsError)(nil)

// mapRobotsErrorToCause maps robots-local error semantics to the
// canonical observability.ErrorCause table. Observational only, never
// used to derive control-flow decisions.
func mapRobotsErrorToCause(err *RobotsError) observability.ErrorCause {
	switch err.Cause {
	case ErrCauseInvalidRobotsUrl:
		return observability.CauseInvariantViolation
	case ErrCausePreFetchFailure:
		return observability.CauseUnknown
	case ErrCauseHttpFetchFailure,
		ErrCauseHttpTooManyRequests,
		ErrCauseHttpTooManyRedirects,
		ErrCauseHttpServerError,
		ErrCauseHttpUnexpectedStatus:
		return observability.CauseNetworkFailure
	case ErrCauseParseError:
		return observability.CauseContentInvalid
	default:
		return observability.CauseUnknown
	}
}
