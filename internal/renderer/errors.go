package renderer

import (
	"fmt"

	"github.com/atlascrawl/atlas/internal/observability"
	"github.com/atlascrawl/atlas/pkg/failure"
)

type RenderErrorCause string

const (
	ErrCauseLaunchFailure      RenderErrorCause = "browser launch failure"
	ErrCauseNavigationFailure  RenderErrorCause = "navigation failure"
	ErrCauseNavigationTimeout  RenderErrorCause = "navigation timeout"
	ErrCauseChallengeDetected  RenderErrorCause = "challenge detected"
	ErrCauseContextPoolExhausted RenderErrorCause = "context pool exhausted"
)

type RenderError struct {
	Message   string
	Retryable bool
	Cause     RenderErrorCause
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("renderer error: %s", e.Cause)
}

func (e *RenderError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *RenderError) IsRetryable() bool { return e.Retryable }

var _ failure.ClassifiedError = (*RenderError)(nil)

func mapRenderErrorToCause(err *RenderError) observability.ErrorCause {
	switch err.Cause {
	case ErrCauseLaunchFailure, ErrCauseContextPoolExhausted:
		return observability.CauseBrowserFailure
	case ErrCauseNavigationFailure:
		return observability.CauseNetworkFailure
	case ErrCauseNavigationTimeout:
		return observability.CauseTimeout
	case ErrCauseChallengeDetected:
		return observability.CausePolicyDisallow
	default:
		return observability.CauseUnknown
	}
}
