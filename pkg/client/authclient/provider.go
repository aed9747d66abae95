package authclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/srinadh239/blogs/pkg/domain"
	"github.com/srinadh239/blogs/pkg/identity"
)

const (
	defaultRefreshMargin = time.Minute
	refreshRetryDelay    = 30 * time.Second
	refreshTimeout       = 10 * time.Second
)

// RemoteOptions tunes a RemoteProvider.
type RemoteOptions struct {
	// RefreshMargin is how long before expiry the access token is refreshed.
	RefreshMargin time.Duration
	// Watch follows changes other processes make to the session file.
	Watch bool
}

// RemoteProvider keeps the cached session file, the API's auth endpoints and
// its own refresh timer consistent. Changes it makes on its own, a refresh
// or a sign-in/out written by another process, are reported on Events.
// Changes requested through its methods are not.
type RemoteProvider struct {
	client *Client
	cache  *FileSessionStore
	margin time.Duration
	now    func() time.Time

	events    chan domain.AuthEvent
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	watcher   *fsnotify.Watcher

	mu      sync.Mutex
	current *domain.Session
	timer   *time.Timer
}

func NewRemoteProvider(client *Client, cache *FileSessionStore, opts RemoteOptions) (*RemoteProvider, error) {
	if client == nil || cache == nil {
		return nil, errors.New("remote provider requires a client and a session cache")
	}
	margin := opts.RefreshMargin
	if margin <= 0 {
		margin = defaultRefreshMargin
	}
	p := &RemoteProvider{
		client: client,
		cache:  cache,
		margin: margin,
		now:    time.Now,
		events: make(chan domain.AuthEvent, 16),
		done:   make(chan struct{}),
	}
	if opts.Watch {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("create session watcher: %w", err)
		}
		// Watch the directory: Save replaces the file by rename.
		if err := watcher.Add(filepath.Dir(cache.Path())); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watch session dir: %w", err)
		}
		p.watcher = watcher
		p.wg.Add(1)
		go p.watch()
	}
	return p, nil
}

func (p *RemoteProvider) Events() <-chan domain.AuthEvent {
	return p.events
}

// Session returns a copy of the current session, or nil.
func (p *RemoteProvider) Session() *domain.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	s := *p.current
	return &s
}

// Restore loads the cached session. An expired session is refreshed once;
// if that fails the cache is dropped and no session is returned.
func (p *RemoteProvider) Restore(ctx context.Context) (*domain.Session, error) {
	cached, err := p.cache.Load()
	if err != nil || cached == nil {
		return nil, err
	}
	if cached.Expired(p.now()) && cached.RefreshToken != "" {
		refreshed, err := p.client.Refresh(ctx, cached.RefreshToken)
		if err != nil {
			slog.Warn("cached session could not be refreshed", "err", err)
			if clearErr := p.cache.Clear(); clearErr != nil {
				return nil, clearErr
			}
			return nil, nil
		}
		cached = &refreshed
	}
	if err := p.adopt(*cached); err != nil {
		return nil, err
	}
	return p.Session(), nil
}

func (p *RemoteProvider) SignUp(ctx context.Context, email, password string) (domain.Session, error) {
	session, err := p.client.SignUp(ctx, email, password)
	if err != nil {
		return domain.Session{}, err
	}
	if session.AccessToken != "" {
		if err := p.adopt(session); err != nil {
			return domain.Session{}, err
		}
	}
	return session, nil
}

func (p *RemoteProvider) SignIn(ctx context.Context, email, password string) (domain.Session, error) {
	session, err := p.client.SignIn(ctx, email, password)
	if err != nil {
		return domain.Session{}, err
	}
	if err := p.adopt(session); err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

// SignOut drops the local session and cache first, then tells the API. The
// local state is gone even when the API call fails.
func (p *RemoteProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	session := p.current
	p.current = nil
	p.stopTimerLocked()
	clearErr := p.cache.Clear()
	p.mu.Unlock()

	var remoteErr error
	if session != nil {
		remoteErr = p.client.SignOut(ctx, session.AccessToken)
	}
	return errors.Join(remoteErr, clearErr)
}

func (p *RemoteProvider) ResendConfirmation(ctx context.Context, email string) error {
	return p.client.ResendConfirmation(ctx, email)
}

// Close stops the refresh timer and the file watcher.
func (p *RemoteProvider) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		p.mu.Lock()
		p.stopTimerLocked()
		p.mu.Unlock()
		if p.watcher != nil {
			err = p.watcher.Close()
		}
		p.wg.Wait()
	})
	return err
}

func (p *RemoteProvider) adopt(session domain.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = &session
	p.scheduleLocked()
	return p.cache.Save(session)
}

func (p *RemoteProvider) scheduleLocked() {
	p.stopTimerLocked()
	if p.current == nil || p.current.RefreshToken == "" || p.current.ExpiresAt.IsZero() {
		return
	}
	wait := p.current.ExpiresAt.Sub(p.now()) - p.margin
	if wait < 0 {
		wait = 0
	}
	p.timer = time.AfterFunc(wait, p.refresh)
}

func (p *RemoteProvider) stopTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *RemoteProvider) refresh() {
	select {
	case <-p.done:
		return
	default:
	}
	p.mu.Lock()
	session := p.current
	p.mu.Unlock()
	if session == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	refreshed, err := p.client.Refresh(ctx, session.RefreshToken)

	p.mu.Lock()
	if p.current == nil || p.current.AccessToken != session.AccessToken {
		// Signed out or replaced while the request was in flight.
		p.mu.Unlock()
		return
	}
	if err != nil {
		var idErr *identity.Error
		if errors.As(err, &idErr) && idErr.Status >= http.StatusBadRequest && idErr.Status < http.StatusInternalServerError {
			slog.Warn("session refresh rejected, signing out", "err", err)
			p.current = nil
			p.stopTimerLocked()
			if clearErr := p.cache.Clear(); clearErr != nil {
				slog.Warn("clear session cache failed", "err", clearErr)
			}
			p.mu.Unlock()
			p.emit(domain.AuthEvent{Type: domain.EventSignedOut})
			return
		}
		slog.Warn("session refresh failed, will retry", "err", err, "retry_in", refreshRetryDelay)
		p.stopTimerLocked()
		p.timer = time.AfterFunc(refreshRetryDelay, p.refresh)
		p.mu.Unlock()
		return
	}
	p.current = &refreshed
	p.scheduleLocked()
	if saveErr := p.cache.Save(refreshed); saveErr != nil {
		slog.Warn("persist refreshed session failed", "err", saveErr)
	}
	p.mu.Unlock()
	snapshot := refreshed
	p.emit(domain.AuthEvent{Type: domain.EventTokenRefreshed, Session: &snapshot})
}

func (p *RemoteProvider) watch() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case ev, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != p.cache.Path() {
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			p.syncFromDisk()
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("session watcher error", "err", err)
		}
	}
}

// syncFromDisk adopts whatever another process left in the session file.
func (p *RemoteProvider) syncFromDisk() {
	p.mu.Lock()
	loaded, err := p.cache.Load()
	if err != nil {
		p.mu.Unlock()
		slog.Warn("reload session file failed", "err", err)
		return
	}
	var ev domain.AuthEvent
	switch {
	case loaded == nil && p.current == nil:
		p.mu.Unlock()
		return
	case loaded == nil:
		p.current = nil
		p.stopTimerLocked()
		ev = domain.AuthEvent{Type: domain.EventSignedOut}
	case p.current != nil && p.current.AccessToken == loaded.AccessToken:
		p.mu.Unlock()
		return
	default:
		snapshot := *loaded
		ev = domain.AuthEvent{Type: domain.EventSignedIn, Session: &snapshot}
		if p.current != nil && p.current.User.ID == loaded.User.ID {
			ev.Type = domain.EventTokenRefreshed
		}
		p.current = loaded
		p.scheduleLocked()
	}
	p.mu.Unlock()
	p.emit(ev)
}

func (p *RemoteProvider) emit(ev domain.AuthEvent) {
	select {
	case p.events <- ev:
	case <-p.done:
	}
}
