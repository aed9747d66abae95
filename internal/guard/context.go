package guard

import (
	"context"

	"github.com/srinadh239/blogs/pkg/domain"
)

const (
	TransportHTTP     = "http"
	TransportRealtime = "realtime"
)

// Transport describes where a call came in. It is only used for auditing.
type Transport struct {
	Kind   string
	Method string
	Path   string
	IP     string
}

type credentialsKey struct{}
type principalKey struct{}
type transportKey struct{}

// WithCredentials stores the raw Authorization header value.
func WithCredentials(ctx context.Context, authorization string) context.Context {
	return context.WithValue(ctx, credentialsKey{}, authorization)
}

// CredentialsFromContext returns the Authorization header value captured for
// this call.
func CredentialsFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(credentialsKey{}).(string)
	return v, ok && v != ""
}

// WithPrincipal attaches a verified principal.
func WithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal attached by Authenticate.
func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(domain.Principal)
	return p, ok && !p.IsZero()
}

func WithTransport(ctx context.Context, t Transport) context.Context {
	return context.WithValue(ctx, transportKey{}, t)
}

func TransportFromContext(ctx context.Context) (Transport, bool) {
	t, ok := ctx.Value(transportKey{}).(Transport)
	return t, ok
}
