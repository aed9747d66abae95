package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/srinadh239/blogs/pkg/domain"
)

type memoryPost struct {
	post domain.Post
	seq  int64
}

// MemoryStore keeps posts, profiles and users in-process. Single instance only.
type MemoryStore struct {
	mu       sync.RWMutex
	seq      int64
	posts    map[string]memoryPost
	profiles map[string]domain.Profile
	users    map[string]domain.User // key: user ID
	email    map[string]string      // email -> user ID
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		posts:    make(map[string]memoryPost),
		profiles: make(map[string]domain.Profile),
		users:    make(map[string]domain.User),
		email:    make(map[string]string),
	}
}

func (m *MemoryStore) CreatePost(_ context.Context, p domain.Post) (domain.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.posts[p.ID] = memoryPost{post: p, seq: m.seq}
	return p, nil
}

func (m *MemoryStore) GetPost(_ context.Context, id string) (domain.Post, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.posts[id]
	return entry.post, ok, nil
}

func (m *MemoryStore) ListPosts(_ context.Context) ([]domain.Post, error) {
	return m.listPosts(func(domain.Post) bool { return true }), nil
}

func (m *MemoryStore) ListPostsByAuthor(_ context.Context, authorID string) ([]domain.Post, error) {
	return m.listPosts(func(p domain.Post) bool { return p.AuthorID == authorID }), nil
}

func (m *MemoryStore) listPosts(keep func(domain.Post) bool) []domain.Post {
	m.mu.RLock()
	entries := make([]memoryPost, 0, len(m.posts))
	for _, entry := range m.posts {
		if keep(entry.post) {
			entries = append(entries, entry)
		}
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.post.CreatedAt.Equal(b.post.CreatedAt) {
			return a.post.CreatedAt.After(b.post.CreatedAt)
		}
		return a.seq > b.seq
	})
	res := make([]domain.Post, 0, len(entries))
	for _, entry := range entries {
		res = append(res, entry.post)
	}
	return res
}

func (m *MemoryStore) UpdateOwnedPost(_ context.Context, p domain.Post) (domain.Post, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.posts[p.ID]
	if !ok || entry.post.AuthorID != p.AuthorID {
		return domain.Post{}, false, nil
	}
	entry.post.Title = p.Title
	entry.post.Content = p.Content
	entry.post.UpdatedAt = p.UpdatedAt
	m.posts[p.ID] = entry
	return entry.post, true, nil
}

func (m *MemoryStore) DeleteOwnedPost(_ context.Context, id, authorID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.posts[id]
	if !ok || entry.post.AuthorID != authorID {
		return false, nil
	}
	delete(m.posts, id)
	return true, nil
}

func (m *MemoryStore) GetProfile(_ context.Context, id string) (domain.Profile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	return p, ok, nil
}

func (m *MemoryStore) SaveProfile(_ context.Context, p domain.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.profiles[p.ID]; ok && !existing.CreatedAt.IsZero() {
		p.CreatedAt = existing.CreatedAt
	}
	m.profiles[p.ID] = p
	return nil
}

func (m *MemoryStore) CreateUser(_ context.Context, u domain.User) error {
	key := strings.ToLower(strings.TrimSpace(u.Email))
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.email[key]; exists {
		return ErrUserExists
	}
	u.Email = key
	m.users[u.ID] = u
	m.email[key] = u.ID
	return nil
}

func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByID(_ context.Context, id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}
