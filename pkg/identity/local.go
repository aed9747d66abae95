package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/srinadh239/blogs/internal/usertoken"
	"github.com/srinadh239/blogs/internal/util"
	"github.com/srinadh239/blogs/pkg/auth"
	"github.com/srinadh239/blogs/pkg/domain"
	"github.com/srinadh239/blogs/pkg/store"
)

const defaultRefreshTTL = 30 * 24 * time.Hour

// LocalConfig wires the self-hosted identity provider.
type LocalConfig struct {
	Users      store.UserStore
	Profiles   store.ProfileStore
	Signer     *usertoken.Signer
	Verifier   *usertoken.Verifier
	Refresh    store.RefreshTokenStore
	Revoker    store.TokenRevoker
	RefreshTTL time.Duration
}

// LocalProvider keeps accounts in the application database and issues
// tokens the API verifier accepts.
type LocalProvider struct {
	users      store.UserStore
	profiles   store.ProfileStore
	signer     *usertoken.Signer
	verifier   *usertoken.Verifier
	refresh    store.RefreshTokenStore
	revoker    store.TokenRevoker
	refreshTTL time.Duration
	now        func() time.Time
}

// NewLocalProvider validates cfg and builds the provider.
func NewLocalProvider(cfg LocalConfig) (*LocalProvider, error) {
	if cfg.Users == nil || cfg.Profiles == nil {
		return nil, errors.New("local identity provider requires user and profile stores")
	}
	if cfg.Signer == nil || cfg.Verifier == nil {
		return nil, errors.New("local identity provider requires token signer and verifier")
	}
	if cfg.Refresh == nil {
		cfg.Refresh = store.NewMemoryRefreshTokenStore()
	}
	if cfg.Revoker == nil {
		cfg.Revoker = store.NewMemoryTokenRevoker()
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}
	return &LocalProvider{
		users:      cfg.Users,
		profiles:   cfg.Profiles,
		signer:     cfg.Signer,
		verifier:   cfg.Verifier,
		refresh:    cfg.Refresh,
		revoker:    cfg.Revoker,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}, nil
}

func (p *LocalProvider) SignUp(ctx context.Context, email, password string) (domain.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return domain.Session{}, &Error{
			Status:  http.StatusBadRequest,
			Code:    CodeEmailAddressInvalid,
			Message: "Unable to validate email address: invalid format",
		}
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooShort) {
			return domain.Session{}, &Error{Status: http.StatusUnprocessableEntity, Code: CodeWeakPassword, Message: err.Error()}
		}
		return domain.Session{}, &Error{Status: http.StatusBadRequest, Code: CodeValidationFailed, Message: err.Error()}
	}

	now := p.now().UTC()
	user := domain.User{
		ID:           util.NewID(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := p.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrUserExists) {
			return domain.Session{}, &Error{Status: http.StatusUnprocessableEntity, Code: CodeUserAlreadyExists, Message: "User already registered"}
		}
		return domain.Session{}, fmt.Errorf("create user: %w", err)
	}
	profile := domain.Profile{ID: user.ID, Email: email, CreatedAt: now, UpdatedAt: now}
	if err := p.profiles.SaveProfile(ctx, profile); err != nil {
		return domain.Session{}, fmt.Errorf("create profile: %w", err)
	}
	slog.Info("local user registered", "user_id", user.ID)
	return p.issue(ctx, user)
}

func (p *LocalProvider) SignIn(ctx context.Context, email, password string) (domain.Session, error) {
	user, ok, err := p.users.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.Session{}, fmt.Errorf("lookup user: %w", err)
	}
	stored := ""
	if ok {
		stored = user.PasswordHash
	}
	if !auth.CheckPassword(password, stored) {
		return domain.Session{}, &Error{Status: http.StatusBadRequest, Code: CodeInvalidCredentials, Message: "Invalid login credentials"}
	}
	return p.issue(ctx, user)
}

// SignOut revokes the presented access token until it expires.
func (p *LocalProvider) SignOut(ctx context.Context, accessToken string) error {
	claims, err := p.verifier.Verify(accessToken)
	if err != nil {
		return err
	}
	if claims.ID == "" {
		return nil
	}
	return p.revoker.Revoke(ctx, claims.ID, claims.ExpiresAt)
}

// Refresh rotates refreshToken. Presenting an already rotated token revokes
// every token of that sign-in.
func (p *LocalProvider) Refresh(ctx context.Context, refreshToken string) (domain.Session, error) {
	userID, next, err := p.refresh.Rotate(ctx, strings.TrimSpace(refreshToken), p.refreshTTL)
	if err != nil {
		if errors.Is(err, store.ErrInvalidRefreshToken) || errors.Is(err, store.ErrRefreshTokenReplay) {
			if errors.Is(err, store.ErrRefreshTokenReplay) {
				slog.Warn("refresh token replay detected")
			}
			return domain.Session{}, &Error{Status: http.StatusBadRequest, Code: CodeRefreshTokenInvalid, Message: "Invalid Refresh Token"}
		}
		return domain.Session{}, fmt.Errorf("rotate refresh token: %w", err)
	}
	user, ok, err := p.users.GetUserByID(ctx, userID)
	if err != nil {
		return domain.Session{}, fmt.Errorf("lookup user: %w", err)
	}
	if !ok {
		return domain.Session{}, &Error{Status: http.StatusBadRequest, Code: CodeRefreshTokenInvalid, Message: "Invalid Refresh Token"}
	}
	return p.sign(user, next)
}

// ResendConfirmation has nothing to send; local accounts are confirmed on
// creation.
func (p *LocalProvider) ResendConfirmation(context.Context, string) error {
	return &Error{Status: http.StatusBadRequest, Code: CodeValidationFailed, Message: "Email confirmation is not enabled"}
}

func (p *LocalProvider) issue(ctx context.Context, user domain.User) (domain.Session, error) {
	refreshToken, err := p.refresh.Issue(ctx, user.ID, p.refreshTTL)
	if err != nil {
		return domain.Session{}, fmt.Errorf("issue refresh token: %w", err)
	}
	return p.sign(user, refreshToken)
}

func (p *LocalProvider) sign(user domain.User, refreshToken string) (domain.Session, error) {
	token, claims, err := p.signer.Sign(user.ID)
	if err != nil {
		return domain.Session{}, fmt.Errorf("sign access token: %w", err)
	}
	user.PasswordHash = ""
	return domain.Session{
		AccessToken:  token,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresAt:    claims.ExpiresAt,
		User:         user,
	}, nil
}
