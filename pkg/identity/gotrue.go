package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/srinadh239/blogs/pkg/domain"
)

// GoTrueProvider delegates to a hosted GoTrue-compatible auth service at
// <baseURL>/auth/v1.
type GoTrueProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	now        func() time.Time
}

// NewGoTrueProvider builds a hosted identity provider client.
func NewGoTrueProvider(baseURL, apiKey string, httpClient *http.Client) (*GoTrueProvider, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("gotrue provider requires a base url")
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gotrue provider requires an api key")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &GoTrueProvider{
		baseURL:    baseURL + "/auth/v1",
		apiKey:     apiKey,
		httpClient: httpClient,
		now:        time.Now,
	}, nil
}

func (p *GoTrueProvider) SignUp(ctx context.Context, email, password string) (domain.Session, error) {
	var resp gotrueSession
	payload := map[string]string{"email": email, "password": password}
	if err := p.doJSON(ctx, "/signup", "", payload, &resp); err != nil {
		return domain.Session{}, err
	}
	// With email confirmation on, signup answers with the bare user.
	if resp.AccessToken == "" && resp.User == nil {
		return domain.Session{User: resp.bareUser().toDomain()}, nil
	}
	return resp.toDomain(p.now()), nil
}

func (p *GoTrueProvider) SignIn(ctx context.Context, email, password string) (domain.Session, error) {
	var resp gotrueSession
	payload := map[string]string{"email": email, "password": password}
	if err := p.doJSON(ctx, "/token?grant_type=password", "", payload, &resp); err != nil {
		return domain.Session{}, err
	}
	return resp.toDomain(p.now()), nil
}

func (p *GoTrueProvider) Refresh(ctx context.Context, refreshToken string) (domain.Session, error) {
	var resp gotrueSession
	payload := map[string]string{"refresh_token": refreshToken}
	if err := p.doJSON(ctx, "/token?grant_type=refresh_token", "", payload, &resp); err != nil {
		return domain.Session{}, err
	}
	return resp.toDomain(p.now()), nil
}

// SignOut revokes the caller's refresh tokens. The access token itself stays
// valid until it expires.
func (p *GoTrueProvider) SignOut(ctx context.Context, accessToken string) error {
	return p.doJSON(ctx, "/logout", accessToken, nil, nil)
}

func (p *GoTrueProvider) ResendConfirmation(ctx context.Context, email string) error {
	payload := map[string]string{"type": "signup", "email": email}
	return p.doJSON(ctx, "/resend", "", payload, nil)
}

func (p *GoTrueProvider) doJSON(ctx context.Context, path, bearer string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", p.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	} else {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeGoTrueError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeGoTrueError understands both the current {error_code, msg} body and
// the older OAuth style {error, error_description}.
func decodeGoTrueError(resp *http.Response) error {
	var body struct {
		ErrorCode        string `json:"error_code"`
		Msg              string `json:"msg"`
		Message          string `json:"message"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	msg := firstNonEmpty(body.Msg, body.Message, body.ErrorDescription, body.Error, resp.Status)
	code := strings.TrimSpace(body.ErrorCode)
	if code == "" && body.Error == "invalid_grant" && strings.Contains(msg, "Invalid login credentials") {
		code = CodeInvalidCredentials
	}
	return &Error{Status: resp.StatusCode, Code: code, Message: msg}
}

type gotrueUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (u gotrueUser) toDomain() domain.User {
	var meta map[string]string
	for k, v := range u.UserMetadata {
		if s, ok := v.(string); ok {
			if meta == nil {
				meta = make(map[string]string)
			}
			meta[k] = s
		}
	}
	return domain.User{
		ID:        u.ID,
		Email:     u.Email,
		Metadata:  meta,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

type gotrueSession struct {
	AccessToken  string      `json:"access_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    int64       `json:"expires_in"`
	ExpiresAt    int64       `json:"expires_at"`
	RefreshToken string      `json:"refresh_token"`
	User         *gotrueUser `json:"user"`

	// Present when signup returns the bare user.
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s gotrueSession) bareUser() gotrueUser {
	return gotrueUser{ID: s.ID, Email: s.Email, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt}
}

func (s gotrueSession) toDomain(now time.Time) domain.Session {
	out := domain.Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
	}
	switch {
	case s.ExpiresAt > 0:
		out.ExpiresAt = time.Unix(s.ExpiresAt, 0).UTC()
	case s.ExpiresIn > 0:
		out.ExpiresAt = now.Add(time.Duration(s.ExpiresIn) * time.Second).UTC()
	}
	if s.User != nil {
		out.User = s.User.toDomain()
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
