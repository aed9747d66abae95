package store

import (
	"context"
	"errors"

	"github.com/srinadh239/blogs/pkg/domain"
)

// ErrUserExists is returned by CreateUser when the email is taken.
var ErrUserExists = errors.New("user already exists")

// PostStore persists blog posts. Update and delete only touch a row when
// both id and author match; the bool result reports whether one did.
type PostStore interface {
	CreatePost(ctx context.Context, p domain.Post) (domain.Post, error)
	GetPost(ctx context.Context, id string) (domain.Post, bool, error)
	// ListPosts returns newest first; equal created_at values keep reverse
	// insertion order.
	ListPosts(ctx context.Context) ([]domain.Post, error)
	ListPostsByAuthor(ctx context.Context, authorID string) ([]domain.Post, error)
	UpdateOwnedPost(ctx context.Context, p domain.Post) (domain.Post, bool, error)
	DeleteOwnedPost(ctx context.Context, id, authorID string) (bool, error)
}

// ProfileStore persists the public profile row keyed by user id.
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (domain.Profile, bool, error)
	SaveProfile(ctx context.Context, p domain.Profile) error
}

// Store is what the API service needs from a data backend.
type Store interface {
	PostStore
	ProfileStore
}

// UserStore holds self-hosted accounts. Hosted deployments leave account
// storage to the identity provider and do not need one.
type UserStore interface {
	CreateUser(ctx context.Context, u domain.User) error
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)
}
