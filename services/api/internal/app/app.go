package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/srinadh239/blogs/internal/util"
	"github.com/srinadh239/blogs/pkg/domain"
	"github.com/srinadh239/blogs/pkg/realtime"
	"github.com/srinadh239/blogs/pkg/store"
)

const (
	defaultStoreTimeout = 5 * time.Second
	publishTimeout      = 2 * time.Second
)

// Config holds runtime configuration for the core application.
type Config struct {
	Store        store.Store
	Broker       realtime.Broker
	StoreTimeout time.Duration
}

// App owns blog posts and profiles. Ownership of a post is enforced by the
// store's id+author filter, never by a read-then-write check here.
type App struct {
	store        store.Store
	broker       realtime.Broker
	storeTimeout time.Duration
	now          func() time.Time
}

func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("app requires a store")
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	return &App{
		store:        cfg.Store,
		broker:       cfg.Broker,
		storeTimeout: cfg.StoreTimeout,
		now:          time.Now,
	}, nil
}

// CreatePost stores a post owned by principalID and announces it on the
// change feed. A failed announcement is logged, not returned.
func (a *App) CreatePost(ctx context.Context, title, content, principalID string) (domain.Post, error) {
	if principalID == "" {
		return domain.Post{}, domain.ErrUnauthenticated
	}
	if err := validatePost(title, content); err != nil {
		return domain.Post{}, err
	}
	now := a.now().UTC()
	post := domain.Post{
		ID:        util.NewID(),
		Title:     title,
		Content:   content,
		AuthorID:  principalID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	sctx, cancel := a.storeContext(ctx)
	defer cancel()
	created, err := a.store.CreatePost(sctx, post)
	if err != nil {
		return domain.Post{}, domain.Upstream("create post", err)
	}
	a.announce(ctx, created)
	return created, nil
}

// GetPost does not distinguish a missing post from any other miss.
func (a *App) GetPost(ctx context.Context, id string) (domain.Post, error) {
	if err := requireID(id); err != nil {
		return domain.Post{}, err
	}
	sctx, cancel := a.storeContext(ctx)
	defer cancel()
	post, ok, err := a.store.GetPost(sctx, id)
	if err != nil {
		return domain.Post{}, domain.Upstream("get post", err)
	}
	if !ok {
		return domain.Post{}, domain.ErrNotFoundOrForbidden
	}
	return post, nil
}

// ListPosts returns every post, newest first.
func (a *App) ListPosts(ctx context.Context) ([]domain.Post, error) {
	sctx, cancel := a.storeContext(ctx)
	defer cancel()
	posts, err := a.store.ListPosts(sctx)
	if err != nil {
		return nil, domain.Upstream("list posts", err)
	}
	return posts, nil
}

// ListMyPosts returns the principal's posts, newest first.
func (a *App) ListMyPosts(ctx context.Context, principalID string) ([]domain.Post, error) {
	if principalID == "" {
		return nil, domain.ErrUnauthenticated
	}
	sctx, cancel := a.storeContext(ctx)
	defer cancel()
	posts, err := a.store.ListPostsByAuthor(sctx, principalID)
	if err != nil {
		return nil, domain.Upstream("list my posts", err)
	}
	return posts, nil
}

func (a *App) UpdatePost(ctx context.Context, id, title, content, principalID string) (domain.Post, error) {
	if principalID == "" {
		return domain.Post{}, domain.ErrUnauthenticated
	}
	if err := requireID(id); err != nil {
		return domain.Post{}, err
	}
	if err := validatePost(title, content); err != nil {
		return domain.Post{}, err
	}
	sctx, cancel := a.storeContext(ctx)
	defer cancel()
	updated, ok, err := a.store.UpdateOwnedPost(sctx, domain.Post{
		ID:        id,
		Title:     title,
		Content:   content,
		AuthorID:  principalID,
		UpdatedAt: a.now().UTC(),
	})
	if err != nil {
		return domain.Post{}, domain.Upstream("update post", err)
	}
	if !ok {
		return domain.Post{}, domain.ErrNotFoundOrForbidden
	}
	return updated, nil
}

// DeletePost hard-deletes the principal's post.
func (a *App) DeletePost(ctx context.Context, id, principalID string) error {
	if principalID == "" {
		return domain.ErrUnauthenticated
	}
	if err := requireID(id); err != nil {
		return err
	}
	sctx, cancel := a.storeContext(ctx)
	defer cancel()
	ok, err := a.store.DeleteOwnedPost(sctx, id, principalID)
	if err != nil {
		return domain.Upstream("delete post", err)
	}
	if !ok {
		return domain.ErrNotFoundOrForbidden
	}
	return nil
}

// Profile returns the principal's profile record.
func (a *App) Profile(ctx context.Context, principalID string) (domain.Profile, error) {
	if principalID == "" {
		return domain.Profile{}, domain.ErrUnauthenticated
	}
	sctx, cancel := a.storeContext(ctx)
	defer cancel()
	profile, ok, err := a.store.GetProfile(sctx, principalID)
	if err != nil {
		return domain.Profile{}, domain.Upstream("get profile", err)
	}
	if !ok {
		return domain.Profile{}, ErrProfileNotFound
	}
	return profile, nil
}

func (a *App) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.storeTimeout)
}

func (a *App) announce(ctx context.Context, post domain.Post) {
	if a.broker == nil {
		return
	}
	// The post is committed; a caller hanging up must not cancel the event.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	err := a.broker.Publish(pctx, realtime.Event{
		Table:    realtime.TablePosts,
		Type:     realtime.EventInsert,
		Record:   post,
		CommitAt: a.now().UTC(),
	})
	if err != nil {
		util.LoggerFromContext(ctx).Warn("publish post change failed", "post_id", post.ID, "err", err)
	}
}

func validatePost(title, content string) error {
	switch {
	case strings.TrimSpace(title) == "":
		return &domain.ValidationError{Field: "title", Reason: "is required"}
	case utf8.RuneCountInString(title) > maxTitleLength:
		return &domain.ValidationError{Field: "title", Reason: fmt.Sprintf("must be at most %d characters", maxTitleLength)}
	case strings.TrimSpace(content) == "":
		return &domain.ValidationError{Field: "content", Reason: "is required"}
	case utf8.RuneCountInString(content) > maxContentLength:
		return &domain.ValidationError{Field: "content", Reason: fmt.Sprintf("must be at most %d characters", maxContentLength)}
	}
	return nil
}

func requireID(id string) error {
	if strings.TrimSpace(id) == "" {
		return &domain.ValidationError{Field: "id", Reason: "is required"}
	}
	return nil
}
