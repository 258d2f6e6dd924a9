package archive

import (
	"fmt"

	"github.com/atlascrawl/atlas/internal/observability"
	"github.com/atlascrawl/atlas/pkg/failure"
)

type ArchiveErrorCause string

const (
	ErrCauseDiskFull        ArchiveErrorCause = "disk is full"
	ErrCauseWriteFailure    ArchiveErrorCause = "write failed"
	ErrCauseHashComputation ArchiveErrorCause = "hash computation failed"
	ErrCausePathError       ArchiveErrorCause = "path error"
	ErrCauseValidationFailed ArchiveErrorCause = "validation failed"
)

// ArchiveError is the WRITE_IO / VALIDATION_FAILED taxonomy member:
// non-retryable by construction (a disk-full or validation failure isn't
// resolved by trying again within the same process), fatal to the crawl.
type ArchiveError struct {
	Message string
	Cause   ArchiveErrorCause
	Path    string
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("archive error: %s", e.Cause)
}

func (e *ArchiveError) Severity() failure.Severity {
	return failure.SeverityFatal
}

var _ failure.ClassifiedError = (*ArchiveError)(nil)

// mapArchiveErrorToCause is observational only and MUST NOT be used to
// derive control-flow decisions.
func mapArchiveErrorToCause(err *ArchiveError) observability.ErrorCause {
	switch err.Cause {
	case ErrCauseDiskFull, ErrCauseWriteFailure, ErrCausePathError:
		return observability.CauseStorageFailure
	case ErrCauseValidationFailed:
		return observability.CauseInvariantViolation
	default:
		return observability.CauseUnknown
	}
}
