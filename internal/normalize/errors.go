package normalize

import (
	"fmt"

	"github.com/atlascrawl/atlas/pkg/failure"
)

type NormalizeErrorCause string

const (
	ErrCauseUnsupportedScheme NormalizeErrorCause = "unsupported scheme"
	ErrCauseMalformedURL      NormalizeErrorCause = "malformed url"
	ErrCauseBadPattern        NormalizeErrorCause = "bad pattern"
)

// NormalizeError is returned for inputs that cannot be turned into a
// NormalizedURL at all (as opposed to being classified Rejected, which
// is a normal outcome carried in the result, not an error).
type NormalizeError struct {
	Message   string
	Retryable bool
	Cause     NormalizeErrorCause
}

func (e *NormalizeError) Error() string {
	return fmt.Sprintf("normalize error: %s: %s", e.Cause, e.Message)
}

func (e *NormalizeError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

var _ failure.ClassifiedError = (*NormalizeError)(nil)
