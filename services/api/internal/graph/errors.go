package graph

import (
	"errors"

	"github.com/srinadh239/blogs/pkg/domain"
)

const (
	CodeUnauthenticated     = "UNAUTHENTICATED"
	CodeNotFoundOrForbidden = "NOT_FOUND_OR_FORBIDDEN"
	CodeBadUserInput        = "BAD_USER_INPUT"
	CodeUpstreamFailure     = "UPSTREAM_FAILURE"
	CodeInternal            = "INTERNAL_SERVER_ERROR"
)

// Error is a resolver error that reports a machine-readable code in the
// GraphQL error's extensions.
type Error struct {
	Message string
	Code    string
	Field   string
}

func (e *Error) Error() string {
	return e.Message
}

// Extensions is read by graphql-go when formatting the response.
func (e *Error) Extensions() map[string]interface{} {
	ext := map[string]interface{}{"code": e.Code}
	if e.Field != "" {
		ext["field"] = e.Field
	}
	return ext
}

func toGraphQLError(err error) error {
	var verr *domain.ValidationError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrUnauthenticated):
		return &Error{Message: "Unauthorized", Code: CodeUnauthenticated}
	case errors.Is(err, domain.ErrNotFoundOrForbidden):
		return &Error{Message: domain.ErrNotFoundOrForbidden.Error(), Code: CodeNotFoundOrForbidden}
	case errors.As(err, &verr):
		return &Error{Message: verr.Error(), Code: CodeBadUserInput, Field: verr.Field}
	case domain.IsUpstream(err):
		return &Error{Message: err.Error(), Code: CodeUpstreamFailure}
	default:
		return &Error{Message: "internal server error", Code: CodeInternal}
	}
}
