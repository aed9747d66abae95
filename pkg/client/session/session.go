// Package session holds the client's authentication state and publishes
// every transition to its listeners.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/juju/pubsub/v2"

	"github.com/srinadh239/blogs/pkg/domain"
	"github.com/srinadh239/blogs/pkg/identity"
)

type Phase string

const (
	PhaseAnonymous      Phase = "anonymous"
	PhaseAuthenticating Phase = "authenticating"
	PhaseAuthenticated  Phase = "authenticated"
	PhaseError          Phase = "error"
)

const topicState = "session.state"

// State is one point in the session lifecycle. Principal and User are set
// while authenticated, and kept while a sign-in or sign-out is in flight.
// Message carries the user-facing text of the last failure.
type State struct {
	Phase     Phase
	Principal domain.Principal
	User      *domain.User
	Message   string
}

func (s State) IsAuthenticated() bool {
	return s.Phase == PhaseAuthenticated
}

func (s State) equal(o State) bool {
	return s.Phase == o.Phase && s.Principal == o.Principal && s.Message == o.Message
}

// Provider is the client-side identity provider. SignOut must drop any
// cached credential even when it reports an error. Events carries session
// changes the provider made on its own.
type Provider interface {
	Restore(ctx context.Context) (*domain.Session, error)
	SignUp(ctx context.Context, email, password string) (domain.Session, error)
	SignIn(ctx context.Context, email, password string) (domain.Session, error)
	SignOut(ctx context.Context) error
	ResendConfirmation(ctx context.Context, email string) error
	Events() <-chan domain.AuthEvent
}

// Store is the single writer of the session state.
type Store struct {
	provider Provider
	hub      *pubsub.SimpleHub

	mu      sync.Mutex
	state   State
	session *domain.Session

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New restores any persisted session before returning, then follows the
// provider's events until Close.
func New(ctx context.Context, provider Provider) *Store {
	s := &Store{
		provider: provider,
		hub:      pubsub.NewSimpleHub(nil),
		state:    State{Phase: PhaseAnonymous},
		done:     make(chan struct{}),
	}
	s.restore(ctx)
	s.wg.Add(1)
	go s.listen()
	return s
}

func (s *Store) restore(ctx context.Context) {
	s.transition(State{Phase: PhaseAuthenticating}, nil)
	session, err := s.provider.Restore(ctx)
	switch {
	case err != nil:
		slog.Warn("restore session failed", "err", err)
		s.transition(State{Phase: PhaseAnonymous, Message: identity.UserMessage(err)}, nil)
	case session == nil || session.AccessToken == "":
		s.transition(State{Phase: PhaseAnonymous}, nil)
	default:
		s.transition(authenticatedState(*session), session)
	}
}

// SignUp registers an account. When the provider still needs the email
// confirmed no session is issued and the store returns to anonymous.
func (s *Store) SignUp(ctx context.Context, email, password string) (domain.Session, error) {
	s.beginAuthenticating()
	session, err := s.provider.SignUp(ctx, email, password)
	if err != nil {
		s.fail(err)
		return domain.Session{}, err
	}
	if session.AccessToken == "" {
		s.transition(State{Phase: PhaseAnonymous}, nil)
		return session, nil
	}
	s.transition(authenticatedState(session), &session)
	return session, nil
}

func (s *Store) SignIn(ctx context.Context, email, password string) (domain.Session, error) {
	s.beginAuthenticating()
	session, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		s.fail(err)
		return domain.Session{}, err
	}
	s.transition(authenticatedState(session), &session)
	return session, nil
}

// SignOut always ends anonymous. A provider failure is returned and kept
// as the state's message.
func (s *Store) SignOut(ctx context.Context) error {
	s.beginAuthenticating()
	err := s.provider.SignOut(ctx)
	next := State{Phase: PhaseAnonymous}
	if err != nil {
		next.Message = identity.UserMessage(err)
	}
	s.transition(next, nil)
	return err
}

func (s *Store) ResendConfirmation(ctx context.Context, email string) error {
	return s.provider.ResendConfirmation(ctx, email)
}

func (s *Store) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AccessToken returns the cached bearer token, or "" when not signed in.
// Its expiry is not checked here.
func (s *Store) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return ""
	}
	return s.session.AccessToken
}

// Listen calls fn for every transition, in order, on a goroutine owned by
// the store. The returned func stops further calls.
func (s *Store) Listen(fn func(State)) func() {
	return s.hub.Subscribe(topicState, func(_ string, data interface{}) {
		if state, ok := data.(State); ok {
			fn(state)
		}
	})
}

// Subscribe is Listen over a channel. The channel is not closed by cancel.
func (s *Store) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 16)
	stop := make(chan struct{})
	unsubscribe := s.Listen(func(state State) {
		select {
		case ch <- state:
		case <-stop:
		}
	})
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			close(stop)
			unsubscribe()
		})
	}
}

// Close stops following provider events.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}

func (s *Store) listen() {
	defer s.wg.Done()
	events := s.provider.Events()
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.apply(ev)
		}
	}
}

func (s *Store) apply(ev domain.AuthEvent) {
	switch ev.Type {
	case domain.EventSignedIn, domain.EventTokenRefreshed:
		if ev.Session == nil || ev.Session.AccessToken == "" {
			return
		}
		session := *ev.Session
		s.transition(authenticatedState(session), &session)
	case domain.EventSignedOut:
		s.mu.Lock()
		anonymous := s.state.Phase == PhaseAnonymous
		s.mu.Unlock()
		if anonymous {
			return
		}
		s.transition(State{Phase: PhaseAnonymous}, nil)
	}
}

func (s *Store) beginAuthenticating() {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := State{Phase: PhaseAuthenticating}
	if s.state.Phase == PhaseAuthenticated {
		next.Principal = s.state.Principal
		next.User = s.state.User
	}
	s.setLocked(next)
}

// fail ends a sign-in or sign-up attempt. A session that was live before
// the attempt stays in place and only the message is set.
func (s *Store) fail(err error) {
	message := identity.UserMessage(err)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil && s.session.AccessToken != "" {
		next := authenticatedState(*s.session)
		next.Message = message
		s.setLocked(next)
		return
	}
	s.session = nil
	s.setLocked(State{Phase: PhaseError, Message: message})
}

// transition replaces the state and publishes it unless nothing visible
// changed. The session is replaced unconditionally.
func (s *Store) transition(next State, session *domain.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
	s.setLocked(next)
}

// setLocked publishes while holding mu so listeners see transitions in the
// order they were made.
func (s *Store) setLocked(next State) {
	if s.state.equal(next) {
		return
	}
	s.state = next
	s.hub.Publish(topicState, next)
}

func authenticatedState(session domain.Session) State {
	user := session.User
	return State{
		Phase:     PhaseAuthenticated,
		Principal: domain.Principal{ID: user.ID},
		User:      &user,
	}
}
