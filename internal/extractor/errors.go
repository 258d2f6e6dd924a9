package extractor

import (
	"fmt"

	"github.com/atlascrawl/atlas/internal/observability"
	"github.com/atlascrawl/atlas/pkg/failure"
)

type ExtractionErrorCause string

const (
	ErrCauseNotHTML   ExtractionErrorCause = "not html"
	ErrCauseNoContent ExtractionErrorCause = "no content"
)

type ExtractionError struct {
	Message   string
	Retryable bool
	Cause     ExtractionErrorCause
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction error: %s", e.Cause)
}

func (e *ExtractionError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

var _ failure.ClassifiedError = (*ExtractionError)(nil)

// mapExtractionErrorToCause is observational only and must never be used
// to derive control-flow decisions.
func mapExtractionErrorToCause(err *ExtractionError) observability.ErrorCause {
	switch err.Cause {
	case ErrCauseNotHTML, ErrCauseNoContent:
		return observability.CauseContentInvalid
	default:
		return observability.CauseUnknown
	}
}
