// Package app runs the client side of the blog: a cached session kept fresh
// against the API and a notification channel that reports posts by other
// authors as they are created.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/srinadh239/blogs/pkg/client/authclient"
	"github.com/srinadh239/blogs/pkg/client/notify"
	"github.com/srinadh239/blogs/pkg/client/session"
	"github.com/srinadh239/blogs/pkg/domain"
	"github.com/srinadh239/blogs/pkg/realtime"
)

// ErrNoCredentials is returned by Run when there is no cached session and no
// credentials to sign in with.
var ErrNoCredentials = errors.New("no cached session and no credentials configured")

// Config holds runtime configuration for the watcher.
type Config struct {
	APIURL      string
	SessionFile string
	Email       string
	Password    string
}

type App struct {
	cfg      Config
	provider *authclient.RemoteProvider
	sessions *session.Store
	channel  *notify.Channel
	onNotify func(domain.Notification)
}

// New restores any cached session and starts following it.
func New(ctx context.Context, cfg Config) (*App, error) {
	cache, err := authclient.NewFileSessionStore(cfg.SessionFile)
	if err != nil {
		return nil, fmt.Errorf("open session file: %w", err)
	}
	provider, err := authclient.NewRemoteProvider(authclient.NewClient(cfg.APIURL, nil), cache, authclient.RemoteOptions{Watch: true})
	if err != nil {
		return nil, fmt.Errorf("init auth provider: %w", err)
	}
	feed, err := realtime.NewWSFeed(cfg.APIURL)
	if err != nil {
		_ = provider.Close()
		return nil, fmt.Errorf("init realtime feed: %w", err)
	}
	sessions := session.New(ctx, provider)
	return &App{
		cfg:      cfg,
		provider: provider,
		sessions: sessions,
		channel:  notify.New(sessions, feed),
	}, nil
}

// Run signs in when needed and logs every new notification until ctx is
// done or the session ends.
func (a *App) Run(ctx context.Context) error {
	if err := a.ensureSignedIn(ctx); err != nil {
		return err
	}
	states, stopStates := a.sessions.Subscribe()
	defer stopStates()
	updates, stopUpdates := a.channel.Updates()
	defer stopUpdates()

	seen := make(map[string]struct{})
	for _, n := range a.channel.Notifications() {
		seen[n.ID] = struct{}{}
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case st := <-states:
			slog.Info("session changed", "phase", st.Phase, "user_id", st.Principal.ID)
			if st.Phase == session.PhaseAnonymous {
				slog.Info("signed out, stopping")
				return nil
			}
		case snap := <-updates:
			seen = a.report(snap, seen)
		}
	}
}

// report logs notifications not present in the previous snapshot and
// returns the ids of the current one.
func (a *App) report(snap notify.Snapshot, seen map[string]struct{}) map[string]struct{} {
	current := make(map[string]struct{}, len(snap.Notifications))
	for i := len(snap.Notifications) - 1; i >= 0; i-- {
		n := snap.Notifications[i]
		current[n.ID] = struct{}{}
		if _, ok := seen[n.ID]; ok {
			continue
		}
		slog.Info("notification", "message", n.Message, "post_id", n.PostID, "unread", snap.UnreadCount)
		if a.onNotify != nil {
			a.onNotify(n)
		}
	}
	return current
}

func (a *App) ensureSignedIn(ctx context.Context) error {
	if st := a.sessions.Current(); st.IsAuthenticated() {
		slog.Info("using cached session", "user_id", st.Principal.ID)
		return nil
	}
	if a.cfg.Email == "" {
		return ErrNoCredentials
	}
	if _, err := a.sessions.SignIn(ctx, a.cfg.Email, a.cfg.Password); err != nil {
		return fmt.Errorf("sign in: %s: %w", a.sessions.Current().Message, err)
	}
	slog.Info("signed in", "user_id", a.sessions.Current().Principal.ID)
	return nil
}

// SignOut ends the session and removes the cached session file.
func (a *App) SignOut(ctx context.Context) error {
	return a.sessions.SignOut(ctx)
}

// Close stops the notification channel, the session store and the provider.
func (a *App) Close() error {
	err := a.channel.Close()
	a.sessions.Close()
	return errors.Join(err, a.provider.Close())
}
