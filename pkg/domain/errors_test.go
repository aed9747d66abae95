package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestValidationErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("create: %w", &ValidationError{Field: "title", Reason: "required"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation sentinel match, got %v", err)
	}
	if got := err.Error(); got != "create: title: required" {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestUpstreamKeepsDomainErrors(t *testing.T) {
	if err := Upstream("update", ErrNotFoundOrForbidden); err != ErrNotFoundOrForbidden {
		t.Fatalf("expected sentinel to pass through, got %v", err)
	}
	if Upstream("noop", nil) != nil {
		t.Fatal("expected nil for nil error")
	}

	base := errors.New("connection refused")
	err := Upstream("insert blog_posts", base)
	if !IsUpstream(err) || !errors.Is(err, base) {
		t.Fatalf("expected wrapped upstream error, got %v", err)
	}
	if again := Upstream("outer", err); again != err {
		t.Fatalf("expected upstream error not to be wrapped twice")
	}
}

func TestSessionExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if (Session{}).Expired(now) {
		t.Fatal("session without expiry must not be treated as expired")
	}
	if !(Session{ExpiresAt: now}).Expired(now) {
		t.Fatal("session expiring now should be expired")
	}
	if (Session{ExpiresAt: now.Add(time.Minute)}).Expired(now) {
		t.Fatal("future expiry should not be expired")
	}
}
