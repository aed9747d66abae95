// Package identity issues and revokes user sessions, either by delegating to
// a hosted GoTrue-compatible auth service or from a local account table.
package identity

import (
	"context"
	"fmt"

	"github.com/srinadh239/blogs/pkg/domain"
)

// Provider is the server-side identity provider.
type Provider interface {
	SignUp(ctx context.Context, email, password string) (domain.Session, error)
	SignIn(ctx context.Context, email, password string) (domain.Session, error)
	SignOut(ctx context.Context, accessToken string) error
	Refresh(ctx context.Context, refreshToken string) (domain.Session, error)
	ResendConfirmation(ctx context.Context, email string) error
}

// Structured error codes. The hosted provider sends the same strings in
// its error_code field.
const (
	CodeUserAlreadyExists   = "user_already_exists"
	CodeWeakPassword        = "weak_password"
	CodeEmailNotConfirmed   = "email_not_confirmed"
	CodeInvalidCredentials  = "invalid_credentials"
	CodeEmailAddressInvalid = "email_address_invalid"
	CodeRefreshTokenInvalid = "refresh_token_not_found"
	CodeValidationFailed    = "validation_failed"
)

// Error is a failure reported by an identity provider.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}
