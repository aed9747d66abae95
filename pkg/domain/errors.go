package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated covers a missing, malformed, invalid or expired credential.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrNotFoundOrForbidden is returned both when a post does not exist and
	// when it belongs to someone else. Callers must not tell the two apart.
	ErrNotFoundOrForbidden = errors.New("blog post not found or you do not have permission")

	ErrValidation = errors.New("validation failed")
)

// ValidationError reports malformed input for a single field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// UpstreamError wraps a data store or identity provider failure. The message
// of the wrapped error is surfaced as is.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Upstream wraps err unless it is nil or already a domain error.
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnauthenticated) || errors.Is(err, ErrNotFoundOrForbidden) || errors.Is(err, ErrValidation) {
		return err
	}
	var up *UpstreamError
	if errors.As(err, &up) {
		return err
	}
	return &UpstreamError{Op: op, Err: err}
}

// IsUpstream reports whether err came from an external collaborator.
func IsUpstream(err error) bool {
	var up *UpstreamError
	return errors.As(err, &up)
}
