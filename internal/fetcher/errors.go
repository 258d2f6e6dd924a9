package fetcher

import (
	"fmt"

	"github.com/atlascrawl/atlas/internal/observability"
	"github.com/atlascrawl/atlas/pkg/failure"
)

type FetchErrorCause string

const (
	ErrCauseTimeout               FetchErrorCause = "timeout"
	ErrCauseNetworkFailure        FetchErrorCause = "network issues"
	ErrCauseReadResponseBodyError FetchErrorCause = "failed to read response body"
	ErrCauseRedirectLimitExceeded FetchErrorCause = "reached redirect limit"
	ErrCauseRequestForbidden      FetchErrorCause = "forbidden"
	ErrCauseRequestTooMany        FetchErrorCause = "too many requests"
	ErrCauseRequest5xx            FetchErrorCause = "5xx"
	ErrCauseRequest4xx            FetchErrorCause = "4xx"
	ErrCauseExhausted             FetchErrorCause = "exhausted retry attempts"
)

// FetchError is the taxonomy for FETCH_FAILED outcomes. Retryable drives
// pkg/retry's retry loop; Cause is surfaced to observability only.
type FetchError struct {
	Message   string
	Retryable bool
	Cause     FetchErrorCause
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetcher error: %s", e.Cause)
}

func (e *FetchError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *FetchError) IsRetryable() bool {
	return e.Retryable
}

var _ failure.ClassifiedError = (*FetchError)(nil)

func mapFetchErrorToCause(err *FetchError) observability.ErrorCause {
	switch err.Cause {
	case ErrCauseTimeout:
		return observability.CauseTimeout
	case ErrCauseNetworkFailure, ErrCauseRedirectLimitExceeded:
		return observability.CauseNetworkFailure
	case ErrCauseRequestTooMany, ErrCauseRequestForbidden:
		return observability.CausePolicyDisallow
	case ErrCauseRequest5xx:
		return observability.CauseNetworkFailure
	case ErrCauseReadResponseBodyError:
		return observability.CauseContentInvalid
	default:
		return observability.CauseUnknown
	}
}
