package guard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/srinadh239/blogs/internal/usertoken"
	"github.com/srinadh239/blogs/internal/util"
	"github.com/srinadh239/blogs/pkg/domain"
)

// TokenVerifier checks a bearer token and returns its subject.
type TokenVerifier interface {
	VerifySubject(token string) (string, error)
}

// Operation is any protected unit of work.
type Operation func(ctx context.Context) (any, error)

// Guard rejects unauthenticated calls before the wrapped operation runs and
// attaches the verified principal to the context otherwise.
type Guard struct {
	verifier TokenVerifier
	trusted  *util.TrustedProxies
}

// New builds a Guard. trusted may be nil.
func New(verifier TokenVerifier, trusted *util.TrustedProxies) *Guard {
	return &Guard{verifier: verifier, trusted: trusted}
}

// CaptureHTTP copies the request's Authorization header and transport details
// into the request context. For a websocket upgrade this is the only time the
// header is read; the connection keeps the resulting context.
func (g *Guard) CaptureHTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithCredentials(r.Context(), r.Header.Get("Authorization"))
		ctx = WithTransport(ctx, Transport{
			Kind:   transportKind(r),
			Method: r.Method,
			Path:   r.URL.Path,
			IP:     util.ClientIP(r, g.trusted),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Authenticate verifies the credential carried by ctx. Every call verifies
// again; a principal already present in ctx is not reused.
func (g *Guard) Authenticate(ctx context.Context) (context.Context, domain.Principal, error) {
	header, _ := CredentialsFromContext(ctx)
	token, err := usertoken.BearerToken(header)
	if err != nil {
		g.audit(ctx, "fail", "reason", "missing_token")
		return ctx, domain.Principal{}, err
	}
	subject, err := g.verifier.VerifySubject(token)
	if err != nil {
		g.audit(ctx, "fail", "reason", "invalid_token")
		if !errors.Is(err, domain.ErrUnauthenticated) {
			util.LoggerFromContext(ctx).Error("token verification failed", "err", err)
		}
		return ctx, domain.Principal{}, domain.ErrUnauthenticated
	}
	principal := domain.Principal{ID: subject}
	g.audit(ctx, "success", "user_id", principal.ID)
	return WithPrincipal(ctx, principal), principal, nil
}

// Protect wraps fn so it only runs for an authenticated caller.
func (g *Guard) Protect(fn Operation) Operation {
	return func(ctx context.Context) (any, error) {
		ctx, _, err := g.Authenticate(ctx)
		if err != nil {
			return nil, err
		}
		return fn(ctx)
	}
}

// RequireHTTP wraps a handler with Authenticate. The request must have passed
// through CaptureHTTP.
func (g *Guard) RequireHTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, _, err := g.Authenticate(r.Context())
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="blogs"`)
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *Guard) audit(ctx context.Context, outcome string, attrs ...any) {
	t, _ := TransportFromContext(ctx)
	logAttrs := []any{
		"event", "guard.authenticate",
		"outcome", outcome,
		"transport", t.Kind,
		"path", t.Path,
		"method", t.Method,
		"ip", t.IP,
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(ctx)
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

func transportKind(r *http.Request) string {
	if r.Header.Get("Upgrade") != "" {
		return TransportRealtime
	}
	return TransportHTTP
}
