package model

import (
	"errors"
	"fmt"
)

// Failure taxonomy surfaced to the boundary layer. Handlers map these onto
// HTTP status categories; the pipeline only ever returns one of them (wrapped)
// for expected failures.
var (
	ErrInvalidFileType = errors.New("file type not allowed")
	ErrFileTooLarge    = errors.New("file exceeds size limit")
	ErrUnauthorized    = errors.New("caller does not own resource")
	ErrNotFound        = errors.New("resource not found")
	ErrStorageFailure  = errors.New("storage unavailable")
	ErrExternalService = errors.New("external service failure")
)

// SecurityRejectedError aborts an ingestion whose scan found a threat. The
// verdict details travel with the error so the boundary can report why.
type SecurityRejectedError struct {
	Details []string
}

func (e *SecurityRejectedError) Error() string {
	return fmt.Sprintf("security scan rejected file: %v", e.Details)
}

// IsSecurityRejected reports whether err is (or wraps) a scan rejection.
func IsSecurityRejected(err error) bool {
	var target *SecurityRejectedError
	return errors.As(err, &target)
}
