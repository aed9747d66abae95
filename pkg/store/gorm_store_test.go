package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/srinadh239/blogs/pkg/domain"
)

// newTestGormStore connects to BLOGS_TEST_DATABASE_URL. Rows are keyed by
// fresh author ids so runs do not see each other's posts.
func newTestGormStore(t *testing.T) *GormStore {
	t.Helper()
	dsn := os.Getenv("BLOGS_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("BLOGS_TEST_DATABASE_URL not set")
	}
	s, err := NewGormStore(dsn)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func TestGormStoreOrdersNewestFirstWithStableTies(t *testing.T) {
	s := newTestGormStore(t)
	ctx := context.Background()
	author := "author-" + uuid.NewString()
	base := time.Now().UTC().Truncate(time.Millisecond)

	posts := []domain.Post{
		{ID: uuid.NewString(), Title: "first", AuthorID: author, CreatedAt: base},
		{ID: uuid.NewString(), Title: "tie-early", AuthorID: author, CreatedAt: base.Add(time.Minute)},
		{ID: uuid.NewString(), Title: "tie-late", AuthorID: author, CreatedAt: base.Add(time.Minute)},
		{ID: uuid.NewString(), Title: "older", AuthorID: author, CreatedAt: base.Add(-time.Hour)},
	}
	for _, p := range posts {
		p.UpdatedAt = p.CreatedAt
		if _, err := s.CreatePost(ctx, p); err != nil {
			t.Fatalf("create %s: %v", p.Title, err)
		}
		t.Cleanup(func() { _, _ = s.DeleteOwnedPost(context.Background(), p.ID, author) })
	}

	mine, err := s.ListPostsByAuthor(ctx, author)
	if err != nil {
		t.Fatalf("list by author: %v", err)
	}
	assertPostIDs(t, mine, posts[2].ID, posts[1].ID, posts[0].ID, posts[3].ID)
}

func TestGormStoreOwnershipFilter(t *testing.T) {
	s := newTestGormStore(t)
	ctx := context.Background()
	owner := "owner-" + uuid.NewString()
	now := time.Now().UTC()
	id := uuid.NewString()
	if _, err := s.CreatePost(ctx, domain.Post{ID: id, Title: "T", Content: "C", AuthorID: owner, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() { _, _ = s.DeleteOwnedPost(context.Background(), id, owner) })

	if _, ok, err := s.UpdateOwnedPost(ctx, domain.Post{ID: id, AuthorID: "intruder", Title: "X", Content: "Y", UpdatedAt: now}); err != nil || ok {
		t.Fatalf("expected no match for non-owner, ok=%v err=%v", ok, err)
	}
	if ok, err := s.DeleteOwnedPost(ctx, id, "intruder"); err != nil || ok {
		t.Fatalf("expected no delete for non-owner, ok=%v err=%v", ok, err)
	}

	later := now.Add(time.Second)
	updated, ok, err := s.UpdateOwnedPost(ctx, domain.Post{ID: id, AuthorID: owner, Title: "T2", Content: "C2", UpdatedAt: later})
	if err != nil || !ok {
		t.Fatalf("owner update failed: ok=%v err=%v", ok, err)
	}
	if updated.ID != id || updated.Title != "T2" || updated.Content != "C2" || updated.AuthorID != owner {
		t.Fatalf("unexpected returned row: %+v", updated)
	}
	if !updated.CreatedAt.Equal(now.Truncate(time.Microsecond)) {
		t.Fatalf("created_at changed: %v", updated.CreatedAt)
	}

	if ok, err := s.DeleteOwnedPost(ctx, id, owner); err != nil || !ok {
		t.Fatalf("owner delete failed: ok=%v err=%v", ok, err)
	}
	if _, found, err := s.GetPost(ctx, id); err != nil || found {
		t.Fatalf("expected hard delete, found=%v err=%v", found, err)
	}
}
