package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func refreshStores(t *testing.T) map[string]RefreshTokenStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return map[string]RefreshTokenStore{
		"memory": NewMemoryRefreshTokenStore(),
		"redis":  NewRedisRefreshTokenStore(client, "test:refresh"),
	}
}

func TestRefreshTokenStoreRotateAndRevoke(t *testing.T) {
	ctx := context.Background()
	for name, s := range refreshStores(t) {
		t.Run(name, func(t *testing.T) {
			token, err := s.Issue(ctx, "user-1", time.Minute)
			if err != nil {
				t.Fatalf("issue: %v", err)
			}
			userID, next, err := s.Rotate(ctx, token, time.Minute)
			if err != nil {
				t.Fatalf("rotate: %v", err)
			}
			if userID != "user-1" {
				t.Fatalf("unexpected user id: %q", userID)
			}
			if next == "" || next == token {
				t.Fatalf("expected a new token")
			}
			if err := s.Revoke(ctx, next); err != nil {
				t.Fatalf("revoke: %v", err)
			}
			if _, _, err := s.Rotate(ctx, next, time.Minute); !errors.Is(err, ErrInvalidRefreshToken) {
				t.Fatalf("expected invalid token after revoke, got %v", err)
			}
			if _, _, err := s.Rotate(ctx, "never-issued", time.Minute); !errors.Is(err, ErrInvalidRefreshToken) {
				t.Fatalf("expected invalid token for unknown value, got %v", err)
			}
		})
	}
}

func TestRefreshTokenStoreDetectsReplay(t *testing.T) {
	ctx := context.Background()
	for name, s := range refreshStores(t) {
		t.Run(name, func(t *testing.T) {
			token, err := s.Issue(ctx, "user-2", time.Minute)
			if err != nil {
				t.Fatalf("issue: %v", err)
			}
			_, next, err := s.Rotate(ctx, token, time.Minute)
			if err != nil {
				t.Fatalf("first rotate: %v", err)
			}
			if _, _, err := s.Rotate(ctx, token, time.Minute); !errors.Is(err, ErrRefreshTokenReplay) {
				t.Fatalf("expected replay detection, got %v", err)
			}
			if _, _, err := s.Rotate(ctx, next, time.Minute); !errors.Is(err, ErrInvalidRefreshToken) {
				t.Fatalf("expected family revoked after replay, got %v", err)
			}
		})
	}
}

func TestRedisRefreshTokenStoreConcurrentRotate(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	s := NewRedisRefreshTokenStore(client, "")
	ctx := context.Background()

	token, err := s.Issue(ctx, "user-3", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	const workers = 2
	start := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _, err := s.Rotate(ctx, token, time.Minute)
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	successes, replays := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrRefreshTokenReplay):
			replays++
		default:
			t.Fatalf("unexpected rotate error: %v", err)
		}
	}
	if successes != 1 || replays != 1 {
		t.Fatalf("expected one success and one replay, got successes=%d replays=%d", successes, replays)
	}
}
