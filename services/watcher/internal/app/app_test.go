package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/srinadh239/blogs/internal/guard"
	"github.com/srinadh239/blogs/pkg/domain"
	"github.com/srinadh239/blogs/pkg/realtime"
)

type tokenTable map[string]string

func (t tokenTable) VerifySubject(token string) (string, error) {
	if sub, ok := t[token]; ok {
		return sub, nil
	}
	return "", domain.ErrUnauthenticated
}

type fakeAPI struct {
	broker      *realtime.MemoryBroker
	signInCalls atomic.Int32
	srv         *httptest.Server
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{broker: realtime.NewMemoryBroker()}
	g := guard.New(tokenTable{"tok-b": "user-b"}, nil)
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/signin", func(w http.ResponseWriter, r *http.Request) {
		f.signInCalls.Add(1)
		writeJSON(w, bobSession())
	})
	mux.HandleFunc("/auth/signout", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"message": "Successfully signed out"})
	})
	mux.Handle("/realtime", realtime.NewHandler(f.broker, g, nil))
	f.srv = httptest.NewServer(g.CaptureHTTP(mux))
	t.Cleanup(f.srv.Close)
	return f
}

func bobSession() domain.Session {
	return domain.Session{
		AccessToken:  "tok-b",
		RefreshToken: "refresh-b",
		TokenType:    "bearer",
		ExpiresAt:    time.Now().Add(time.Hour).UTC(),
		User:         domain.User{ID: "user-b", Email: "bob@example.com"},
	}
}

func insert(id, author, title string) realtime.Event {
	return realtime.Event{
		Table:  realtime.TablePosts,
		Type:   realtime.EventInsert,
		Record: domain.Post{ID: id, AuthorID: author, Title: title},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRunReportsOtherAuthorsPostsUntilSignOut(t *testing.T) {
	api := newFakeAPI(t)
	sessionFile := filepath.Join(t.TempDir(), "session.json")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, err := New(ctx, Config{APIURL: api.srv.URL, SessionFile: sessionFile, Email: "bob@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()
	got := make(chan domain.Notification, 4)
	a.onNotify = func(n domain.Notification) { got <- n }

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	waitFor(t, a.channel.Subscribed)

	_ = api.broker.Publish(ctx, insert("p-own", "user-b", "mine"))
	_ = api.broker.Publish(ctx, insert("p-1", "user-a", "Hello"))

	select {
	case n := <-got:
		if n.PostID != "p-1" || n.Message != "New blog post: Hello" {
			t.Fatalf("unexpected notification %+v", n)
		}
	case <-ctx.Done():
		t.Fatalf("no notification reported")
	}

	if err := a.SignOut(ctx); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-ctx.Done():
		t.Fatalf("run did not stop after sign out")
	}
	if _, err := os.Stat(sessionFile); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("session file should be removed, stat err=%v", err)
	}
	if len(got) != 0 {
		t.Fatalf("own post must not be reported")
	}
}

func TestRunUsesCachedSession(t *testing.T) {
	api := newFakeAPI(t)
	sessionFile := filepath.Join(t.TempDir(), "session.json")
	data, _ := json.Marshal(bobSession())
	if err := os.WriteFile(sessionFile, data, 0o600); err != nil {
		t.Fatalf("write session: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())

	a, err := New(ctx, Config{APIURL: api.srv.URL, SessionFile: sessionFile})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	waitFor(t, a.channel.Subscribed)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls := api.signInCalls.Load(); calls != 0 {
		t.Fatalf("cached session should skip sign in, got %d calls", calls)
	}
}

func TestRunWithoutSessionOrCredentials(t *testing.T) {
	api := newFakeAPI(t)
	ctx := context.Background()
	a, err := New(ctx, Config{APIURL: api.srv.URL, SessionFile: filepath.Join(t.TempDir(), "session.json")})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()
	if err := a.Run(ctx); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
}
