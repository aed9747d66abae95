package usertoken

import (
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/srinadh239/blogs/internal/util"
)

// Signer issues HS256 access tokens that a Verifier with the same secret
// accepts. Used by the self-hosted identity provider.
type Signer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewSigner builds a Signer. ttl defaults to one hour.
func NewSigner(secret, issuer, audience string, ttl time.Duration) (*Signer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("token signer requires a shared secret")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Signer{
		secret:   []byte(secret),
		issuer:   strings.TrimSpace(issuer),
		audience: strings.TrimSpace(audience),
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// Sign returns a token for subject and its claims.
func (s *Signer) Sign(subject string) (string, Claims, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", Claims{}, errors.New("token subject required")
	}
	now := s.now().UTC()
	registered := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    s.issuer,
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ID:        util.NewID(),
	}
	if s.audience != "" {
		registered.Audience = jwt.ClaimStrings{s.audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, registered).SignedString(s.secret)
	if err != nil {
		return "", Claims{}, err
	}
	return signed, Claims{Subject: subject, ID: registered.ID, ExpiresAt: registered.ExpiresAt.Time}, nil
}

// TTL reports the access token lifetime.
func (s *Signer) TTL() time.Duration {
	return s.ttl
}
