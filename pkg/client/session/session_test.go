package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/srinadh239/blogs/pkg/domain"
	"github.com/srinadh239/blogs/pkg/identity"
)

type fakeProvider struct {
	mu         sync.Mutex
	restored   *domain.Session
	signInErr  error
	signOutErr error
	pending    bool
	cached     bool
	events     chan domain.AuthEvent
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{events: make(chan domain.AuthEvent, 8)}
}

func testSession(userID, token string) domain.Session {
	return domain.Session{
		AccessToken: token,
		ExpiresAt:   time.Now().Add(time.Hour),
		User:        domain.User{ID: userID, Email: userID + "@example.com"},
	}
}

func (f *fakeProvider) Restore(context.Context) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.restored != nil {
		f.cached = true
	}
	return f.restored, nil
}

func (f *fakeProvider) SignUp(_ context.Context, email, _ string) (domain.Session, error) {
	if f.pending {
		return domain.Session{User: domain.User{ID: "user-new", Email: email}}, nil
	}
	return testSession("user-new", "tok-new"), nil
}

func (f *fakeProvider) SignIn(context.Context, string, string) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signInErr != nil {
		return domain.Session{}, f.signInErr
	}
	f.cached = true
	return testSession("user-a", "tok-a"), nil
}

func (f *fakeProvider) failSignIn(err error) {
	f.mu.Lock()
	f.signInErr = err
	f.mu.Unlock()
}

func (f *fakeProvider) SignOut(context.Context) error {
	f.mu.Lock()
	f.cached = false
	f.mu.Unlock()
	return f.signOutErr
}

func (f *fakeProvider) ResendConfirmation(context.Context, string) error { return nil }

func (f *fakeProvider) Events() <-chan domain.AuthEvent { return f.events }

func (f *fakeProvider) hasCache() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cached
}

func nextState(t *testing.T, ch <-chan State) State {
	t.Helper()
	select {
	case st := <-ch:
		return st
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for state")
	}
	return State{}
}

func expectPhases(t *testing.T, ch <-chan State, phases ...Phase) State {
	t.Helper()
	var last State
	for _, want := range phases {
		last = nextState(t, ch)
		if last.Phase != want {
			t.Fatalf("expected phase %s, got %+v", want, last)
		}
	}
	return last
}

func TestNewRestoresPersistedSession(t *testing.T) {
	p := newFakeProvider()
	restored := testSession("user-a", "tok-a")
	p.restored = &restored

	s := New(context.Background(), p)
	defer s.Close()

	st := s.Current()
	if !st.IsAuthenticated() || st.Principal.ID != "user-a" || st.User == nil {
		t.Fatalf("unexpected state %+v", st)
	}
	if s.AccessToken() != "tok-a" {
		t.Fatalf("unexpected token %q", s.AccessToken())
	}
}

func TestNewWithoutSessionIsAnonymous(t *testing.T) {
	s := New(context.Background(), newFakeProvider())
	defer s.Close()
	if st := s.Current(); st.Phase != PhaseAnonymous || s.AccessToken() != "" {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestSignInPublishesTransitions(t *testing.T) {
	s := New(context.Background(), newFakeProvider())
	defer s.Close()
	states, cancel := s.Subscribe()
	defer cancel()

	if _, err := s.SignIn(context.Background(), "a@example.com", "secret1"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	st := expectPhases(t, states, PhaseAuthenticating, PhaseAuthenticated)
	if st.Principal.ID != "user-a" {
		t.Fatalf("unexpected principal %+v", st.Principal)
	}
}

func TestSignInFailureSetsClassifiedMessage(t *testing.T) {
	p := newFakeProvider()
	upstream := &identity.Error{Status: http.StatusBadRequest, Code: identity.CodeInvalidCredentials, Message: "Invalid login credentials"}
	p.signInErr = upstream
	s := New(context.Background(), p)
	defer s.Close()
	states, cancel := s.Subscribe()
	defer cancel()

	_, err := s.SignIn(context.Background(), "a@example.com", "nope")
	if !errors.Is(err, upstream) {
		t.Fatalf("expected the provider error, got %v", err)
	}
	st := expectPhases(t, states, PhaseAuthenticating, PhaseError)
	if st.Message != "Invalid email or password. Please try again." {
		t.Fatalf("unexpected message %q", st.Message)
	}
	if s.AccessToken() != "" {
		t.Fatalf("no token expected after failed sign-in")
	}
}

func TestSignUpPendingConfirmationStaysAnonymous(t *testing.T) {
	p := newFakeProvider()
	p.pending = true
	s := New(context.Background(), p)
	defer s.Close()
	states, cancel := s.Subscribe()
	defer cancel()

	session, err := s.SignUp(context.Background(), "new@example.com", "secret1")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if session.User.ID != "user-new" {
		t.Fatalf("unexpected session %+v", session)
	}
	expectPhases(t, states, PhaseAuthenticating, PhaseAnonymous)
}

func TestSignOutClearsCacheEvenWhenProviderFails(t *testing.T) {
	p := newFakeProvider()
	p.signOutErr = errors.New("network down")
	s := New(context.Background(), p)
	defer s.Close()
	if _, err := s.SignIn(context.Background(), "a@example.com", "secret1"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	states, cancel := s.Subscribe()
	defer cancel()

	if err := s.SignOut(context.Background()); err == nil {
		t.Fatalf("expected provider error to be returned")
	}
	signingOut := nextState(t, states)
	if signingOut.Phase != PhaseAuthenticating || signingOut.Principal.ID != "user-a" {
		t.Fatalf("unexpected in-flight state %+v", signingOut)
	}
	st := expectPhases(t, states, PhaseAnonymous)
	if st.Message == "" {
		t.Fatalf("expected failure message on anonymous state")
	}
	if s.Current().IsAuthenticated() || s.AccessToken() != "" || p.hasCache() {
		t.Fatalf("session must be gone after sign-out")
	}
}

func TestProviderEventsDriveState(t *testing.T) {
	p := newFakeProvider()
	s := New(context.Background(), p)
	defer s.Close()
	states, cancel := s.Subscribe()
	defer cancel()

	other := testSession("user-b", "tok-b")
	p.events <- domain.AuthEvent{Type: domain.EventSignedIn, Session: &other}
	st := expectPhases(t, states, PhaseAuthenticated)
	if st.Principal.ID != "user-b" {
		t.Fatalf("unexpected principal %+v", st.Principal)
	}

	refreshed := testSession("user-b", "tok-b2")
	p.events <- domain.AuthEvent{Type: domain.EventTokenRefreshed, Session: &refreshed}
	p.events <- domain.AuthEvent{Type: domain.EventSignedOut}
	expectPhases(t, states, PhaseAnonymous)

	p.events <- domain.AuthEvent{Type: domain.EventSignedOut}
	select {
	case st := <-states:
		t.Fatalf("signed-out while anonymous must not publish, got %+v", st)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestTokenRefreshUpdatesAccessToken(t *testing.T) {
	p := newFakeProvider()
	restored := testSession("user-a", "tok-a")
	p.restored = &restored
	s := New(context.Background(), p)
	defer s.Close()

	refreshed := testSession("user-a", "tok-a2")
	p.events <- domain.AuthEvent{Type: domain.EventTokenRefreshed, Session: &refreshed}
	deadline := time.Now().Add(3 * time.Second)
	for s.AccessToken() != "tok-a2" {
		if time.Now().After(deadline) {
			t.Fatalf("token not refreshed, still %q", s.AccessToken())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !s.Current().IsAuthenticated() {
		t.Fatalf("expected to stay authenticated")
	}
}

func TestFailedSignInKeepsLiveSession(t *testing.T) {
	p := newFakeProvider()
	s := New(context.Background(), p)
	defer s.Close()
	if _, err := s.SignIn(context.Background(), "a@example.com", "secret1"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	states, cancel := s.Subscribe()
	defer cancel()

	p.failSignIn(&identity.Error{Status: http.StatusBadRequest, Code: identity.CodeInvalidCredentials, Message: "Invalid login credentials"})
	if _, err := s.SignIn(context.Background(), "a@example.com", "wrong"); err == nil {
		t.Fatalf("expected sign-in error")
	}
	st := expectPhases(t, states, PhaseAuthenticating, PhaseAuthenticated)
	if st.Principal.ID != "user-a" || st.User == nil {
		t.Fatalf("principal dropped after failed sign-in: %+v", st)
	}
	if st.Message != "Invalid email or password. Please try again." {
		t.Fatalf("unexpected message %q", st.Message)
	}
	if s.AccessToken() != "tok-a" || !p.hasCache() {
		t.Fatalf("session dropped: token=%q cached=%v", s.AccessToken(), p.hasCache())
	}
}
