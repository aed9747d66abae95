package usertoken

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/srinadh239/blogs/pkg/domain"
)

const defaultLeeway = 30 * time.Second

var (
	errNoAuthorizationHeader = errors.New("no authorization header")
	errNoToken               = errors.New("no token in authorization header")
)

// RevocationChecker reports whether a token id was revoked before expiry.
type RevocationChecker interface {
	IsRevoked(jti string) (bool, error)
}

// Config configures user access-token verification.
type Config struct {
	// Secret is the shared HS256 secret of the identity provider.
	Secret   string
	Issuer   string
	Audience string
	Leeway   time.Duration
	// Revocations is optional. Hosted providers do not expose one.
	Revocations RevocationChecker
}

// Claims is the subset of a verified token the server uses.
type Claims struct {
	Subject   string
	ID        string
	ExpiresAt time.Time
}

// Verifier validates HS256 user access tokens and extracts the subject.
type Verifier struct {
	secret      []byte
	issuer      string
	audience    string
	leeway      time.Duration
	revocations RevocationChecker
}

// NewVerifier creates a token verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("token verifier requires a shared secret")
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	return &Verifier{
		secret:      []byte(secret),
		issuer:      strings.TrimSpace(cfg.Issuer),
		audience:    strings.TrimSpace(cfg.Audience),
		leeway:      leeway,
		revocations: cfg.Revocations,
	}, nil
}

// BearerToken extracts the token segment of an Authorization header value.
// The scheme word is not inspected, only the segment after the first space.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", fmt.Errorf("%w: %w", domain.ErrUnauthenticated, errNoAuthorizationHeader)
	}
	_, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return "", fmt.Errorf("%w: %w", domain.ErrUnauthenticated, errNoToken)
	}
	return token, nil
}

// VerifySubject validates the token and returns only its subject.
func (v *Verifier) VerifySubject(token string) (string, error) {
	claims, err := v.Verify(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Verify validates signature, time window, subject and revocation state.
// Every failure wraps domain.ErrUnauthenticated.
func (v *Verifier) Verify(token string) (Claims, error) {
	registered, err := v.parse(token)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", domain.ErrUnauthenticated, err)
	}
	subject := strings.TrimSpace(registered.Subject)
	if subject == "" {
		return Claims{}, fmt.Errorf("%w: token subject missing", domain.ErrUnauthenticated)
	}
	claims := Claims{Subject: subject, ID: strings.TrimSpace(registered.ID)}
	if registered.ExpiresAt != nil {
		claims.ExpiresAt = registered.ExpiresAt.Time.UTC()
	}
	if v.revocations != nil && claims.ID != "" {
		revoked, err := v.revocations.IsRevoked(claims.ID)
		if err != nil {
			return Claims{}, fmt.Errorf("check token revocation: %w", err)
		}
		if revoked {
			return Claims{}, fmt.Errorf("%w: token revoked", domain.ErrUnauthenticated)
		}
	}
	return claims, nil
}

func (v *Verifier) parse(token string) (jwt.RegisteredClaims, error) {
	claims := jwt.RegisteredClaims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, errNoToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return claims, err
	}
	return claims, nil
}
