package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/srinadh239/blogs/pkg/domain"
)

// RESTStore talks to a hosted Postgres through its PostgREST endpoint
// (<baseURL>/rest/v1). It authenticates with the service-role key, so row
// level security is bypassed and ownership is enforced by the filters here.
type RESTStore struct {
	baseURL    string
	apiKey     string
	serviceKey string
	httpClient *http.Client
}

// RESTError is a non-2xx PostgREST response.
type RESTError struct {
	Status  int
	Code    string
	Message string
}

func (e *RESTError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return e.Message
}

// NewRESTStore builds a PostgREST client. serviceKey falls back to apiKey.
func NewRESTStore(baseURL, apiKey, serviceKey string, httpClient *http.Client) (*RESTStore, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("rest store requires a base url")
	}
	apiKey = strings.TrimSpace(apiKey)
	serviceKey = strings.TrimSpace(serviceKey)
	if serviceKey == "" {
		serviceKey = apiKey
	}
	if serviceKey == "" {
		return nil, errors.New("rest store requires an api key")
	}
	if apiKey == "" {
		apiKey = serviceKey
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &RESTStore{
		baseURL:    baseURL + "/rest/v1",
		apiKey:     apiKey,
		serviceKey: serviceKey,
		httpClient: httpClient,
	}, nil
}

func (s *RESTStore) CreatePost(ctx context.Context, p domain.Post) (domain.Post, error) {
	var rows []domain.Post
	if err := s.doJSON(ctx, http.MethodPost, "/blog_posts", nil, p, &rows); err != nil {
		return domain.Post{}, err
	}
	if len(rows) == 0 {
		return domain.Post{}, errors.New("insert blog_posts: no row returned")
	}
	return rows[0], nil
}

func (s *RESTStore) GetPost(ctx context.Context, id string) (domain.Post, bool, error) {
	var rows []domain.Post
	q := url.Values{"select": {"*"}, "id": {"eq." + id}}
	if err := s.doJSON(ctx, http.MethodGet, "/blog_posts", q, nil, &rows); err != nil {
		return domain.Post{}, false, err
	}
	if len(rows) == 0 {
		return domain.Post{}, false, nil
	}
	return rows[0], true, nil
}

func (s *RESTStore) ListPosts(ctx context.Context) ([]domain.Post, error) {
	return s.listPosts(ctx, url.Values{})
}

func (s *RESTStore) ListPostsByAuthor(ctx context.Context, authorID string) ([]domain.Post, error) {
	return s.listPosts(ctx, url.Values{"author_id": {"eq." + authorID}})
}

func (s *RESTStore) listPosts(ctx context.Context, q url.Values) ([]domain.Post, error) {
	q.Set("select", "*")
	q.Set("order", "created_at.desc,id.desc")
	rows := []domain.Post{}
	if err := s.doJSON(ctx, http.MethodGet, "/blog_posts", q, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *RESTStore) UpdateOwnedPost(ctx context.Context, p domain.Post) (domain.Post, bool, error) {
	var rows []domain.Post
	q := url.Values{"id": {"eq." + p.ID}, "author_id": {"eq." + p.AuthorID}}
	patch := map[string]any{
		"title":      p.Title,
		"content":    p.Content,
		"updated_at": p.UpdatedAt,
	}
	if err := s.doJSON(ctx, http.MethodPatch, "/blog_posts", q, patch, &rows); err != nil {
		return domain.Post{}, false, err
	}
	if len(rows) == 0 {
		return domain.Post{}, false, nil
	}
	return rows[0], true, nil
}

func (s *RESTStore) DeleteOwnedPost(ctx context.Context, id, authorID string) (bool, error) {
	var rows []domain.Post
	q := url.Values{"id": {"eq." + id}, "author_id": {"eq." + authorID}}
	if err := s.doJSON(ctx, http.MethodDelete, "/blog_posts", q, nil, &rows); err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func (s *RESTStore) GetProfile(ctx context.Context, id string) (domain.Profile, bool, error) {
	var rows []domain.Profile
	q := url.Values{"select": {"*"}, "id": {"eq." + id}}
	if err := s.doJSON(ctx, http.MethodGet, "/profiles", q, nil, &rows); err != nil {
		return domain.Profile{}, false, err
	}
	if len(rows) == 0 {
		return domain.Profile{}, false, nil
	}
	return rows[0], true, nil
}

// SaveProfile upserts on the primary key.
func (s *RESTStore) SaveProfile(ctx context.Context, p domain.Profile) error {
	q := url.Values{"on_conflict": {"id"}}
	return s.do(ctx, http.MethodPost, "/profiles", q, p, nil, "resolution=merge-duplicates,return=minimal")
}

func (s *RESTStore) doJSON(ctx context.Context, method, path string, q url.Values, payload, out any) error {
	return s.do(ctx, method, path, q, payload, out, "return=representation")
}

func (s *RESTStore) do(ctx context.Context, method, path string, q url.Values, payload, out any, prefer string) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	target := s.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet && prefer != "" {
		req.Header.Set("Prefer", prefer)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Message
		if msg == "" {
			msg = resp.Status
		}
		return &RESTError{Status: resp.StatusCode, Code: strings.TrimSpace(errResp.Code), Message: msg}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
