// Package authclient is the client side of the API's /auth endpoints: an
// HTTP client, the on-disk session cache and a provider that keeps the two
// in sync.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/srinadh239/blogs/pkg/domain"
	"github.com/srinadh239/blogs/pkg/identity"
)

// Client calls the API's auth endpoints over HTTP. Failures reported by the
// API come back as *identity.Error so they classify like provider errors.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs an auth client. httpClient may be nil.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// SignUp registers an account. The returned session has no access token
// when the account still needs email confirmation.
func (c *Client) SignUp(ctx context.Context, email, password string) (domain.Session, error) {
	payload := map[string]string{"email": email, "password": password}
	var session domain.Session
	if err := c.doJSON(ctx, http.MethodPost, "/auth/signup", "", payload, &session); err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

func (c *Client) SignIn(ctx context.Context, email, password string) (domain.Session, error) {
	payload := map[string]string{"email": email, "password": password}
	var session domain.Session
	if err := c.doJSON(ctx, http.MethodPost, "/auth/signin", "", payload, &session); err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (domain.Session, error) {
	payload := map[string]string{"refresh_token": refreshToken}
	var session domain.Session
	if err := c.doJSON(ctx, http.MethodPost, "/auth/refresh", "", payload, &session); err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	return c.doJSON(ctx, http.MethodPost, "/auth/signout", accessToken, nil, nil)
}

func (c *Client) ResendConfirmation(ctx context.Context, email string) error {
	payload := map[string]string{"email": email}
	return c.doJSON(ctx, http.MethodPost, "/auth/resend", "", payload, nil)
}

func (c *Client) Profile(ctx context.Context, accessToken string) (domain.Profile, error) {
	var profile domain.Profile
	if err := c.doJSON(ctx, http.MethodGet, "/auth/profile", accessToken, nil, &profile); err != nil {
		return domain.Profile{}, err
	}
	return profile, nil
}

func (c *Client) doJSON(ctx context.Context, method, path, token string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Upstream("auth "+path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return &identity.Error{Status: resp.StatusCode, Code: strings.TrimSpace(errResp.Code), Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
