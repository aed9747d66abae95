// Package blogapi is a GraphQL client for the blog post operations.
package blogapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/srinadh239/blogs/pkg/domain"
)

// TokenSource supplies the bearer token attached to each call.
type TokenSource interface {
	AccessToken() string
}

type Options struct {
	HTTPClient *http.Client
	// PrecheckExpiry fails calls locally when the cached token's exp claim is
	// already past. The server still decides for every token that passes.
	PrecheckExpiry bool
}

type Client struct {
	endpoint   string
	httpClient *http.Client
	tokens     TokenSource
	precheck   bool
	now        func() time.Time
}

// New builds a client for the API at baseURL. tokens may be nil for
// anonymous use.
func New(baseURL string, tokens TokenSource, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		endpoint:   strings.TrimRight(baseURL, "/") + "/graphql",
		httpClient: httpClient,
		tokens:     tokens,
		precheck:   opts.PrecheckExpiry,
		now:        time.Now,
	}
}

const postFields = "id title content authorId createdAt updatedAt"

func (c *Client) GetPost(ctx context.Context, id string) (domain.Post, error) {
	var out struct {
		Post post `json:"getBlogPost"`
	}
	q := `query($id: String!) { getBlogPost(id: $id) { ` + postFields + ` } }`
	if err := c.do(ctx, q, map[string]any{"id": id}, &out); err != nil {
		return domain.Post{}, err
	}
	return out.Post.domain(), nil
}

func (c *Client) ListPosts(ctx context.Context) ([]domain.Post, error) {
	var out struct {
		Posts []post `json:"getAllBlogPosts"`
	}
	if err := c.do(ctx, `query { getAllBlogPosts { `+postFields+` } }`, nil, &out); err != nil {
		return nil, err
	}
	return toDomain(out.Posts), nil
}

func (c *Client) ListMyPosts(ctx context.Context) ([]domain.Post, error) {
	var out struct {
		Posts []post `json:"getMyBlogPosts"`
	}
	if err := c.do(ctx, `query { getMyBlogPosts { `+postFields+` } }`, nil, &out); err != nil {
		return nil, err
	}
	return toDomain(out.Posts), nil
}

func (c *Client) CreatePost(ctx context.Context, title, content string) (domain.Post, error) {
	var out struct {
		Post post `json:"createBlogPost"`
	}
	q := `mutation($title: String!, $content: String!) { createBlogPost(title: $title, content: $content) { ` + postFields + ` } }`
	if err := c.do(ctx, q, map[string]any{"title": title, "content": content}, &out); err != nil {
		return domain.Post{}, err
	}
	return out.Post.domain(), nil
}

func (c *Client) UpdatePost(ctx context.Context, id, title, content string) (domain.Post, error) {
	var out struct {
		Post post `json:"updateBlogPost"`
	}
	q := `mutation($id: String!, $title: String!, $content: String!) { updateBlogPost(id: $id, title: $title, content: $content) { ` + postFields + ` } }`
	if err := c.do(ctx, q, map[string]any{"id": id, "title": title, "content": content}, &out); err != nil {
		return domain.Post{}, err
	}
	return out.Post.domain(), nil
}

func (c *Client) DeletePost(ctx context.Context, id string) (bool, error) {
	var out struct {
		Deleted bool `json:"deleteBlogPost"`
	}
	q := `mutation($id: String!) { deleteBlogPost(id: $id) }`
	if err := c.do(ctx, q, map[string]any{"id": id}, &out); err != nil {
		return false, err
	}
	return out.Deleted, nil
}

type post struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	AuthorID  string    `json:"authorId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (p post) domain() domain.Post {
	return domain.Post{
		ID:        p.ID,
		Title:     p.Title,
		Content:   p.Content,
		AuthorID:  p.AuthorID,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func toDomain(posts []post) []domain.Post {
	out := make([]domain.Post, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.domain())
	}
	return out
}

type gqlError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code  string `json:"code"`
		Field string `json:"field"`
	} `json:"extensions"`
}

func (c *Client) do(ctx context.Context, query string, vars map[string]any, out any) error {
	token := ""
	if c.tokens != nil {
		token = c.tokens.AccessToken()
	}
	if c.precheck && token != "" && tokenExpired(token, c.now()) {
		return domain.ErrUnauthenticated
	}

	body, err := json.Marshal(map[string]any{"query": query, "variables": vars})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Upstream("graphql", err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []gqlError      `json:"errors"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&envelope); err != nil {
		if resp.StatusCode == http.StatusUnauthorized {
			return domain.ErrUnauthenticated
		}
		return domain.Upstream("graphql", fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err))
	}
	if len(envelope.Errors) > 0 {
		return mapError(envelope.Errors[0])
	}
	if resp.StatusCode >= 400 {
		return domain.Upstream("graphql", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}

func mapError(e gqlError) error {
	switch e.Extensions.Code {
	case "UNAUTHENTICATED":
		return domain.ErrUnauthenticated
	case "NOT_FOUND_OR_FORBIDDEN":
		return domain.ErrNotFoundOrForbidden
	case "BAD_USER_INPUT":
		reason := strings.TrimPrefix(e.Message, e.Extensions.Field+": ")
		return &domain.ValidationError{Field: e.Extensions.Field, Reason: reason}
	case "UPSTREAM_FAILURE":
		return domain.Upstream("graphql", errors.New(e.Message))
	default:
		return errors.New(e.Message)
	}
}

// tokenExpired reads exp without verifying the signature. Tokens it cannot
// parse are left for the server to judge.
func tokenExpired(token string, now time.Time) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	return claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time)
}
