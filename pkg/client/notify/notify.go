// Package notify turns realtime post inserts by other authors into
// in-memory notifications for the signed-in user.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/pubsub/v2"
	"gopkg.in/tomb.v2"

	"github.com/srinadh239/blogs/pkg/client/session"
	"github.com/srinadh239/blogs/pkg/domain"
	"github.com/srinadh239/blogs/pkg/realtime"
)

const (
	topicSnapshot    = "notify.snapshot"
	subscribeTimeout = 10 * time.Second
	resubscribeDelay = 5 * time.Second
)

// Feed opens a filtered subscription to post changes. ctx bounds the
// handshake only; the subscription stays open until Close.
type Feed interface {
	Subscribe(ctx context.Context, accessToken string, filter realtime.Filter) (realtime.Subscription, error)
}

// Sessions is the part of the session store the channel follows.
type Sessions interface {
	Current() session.State
	AccessToken() string
	Subscribe() (<-chan session.State, func())
}

// Snapshot is the channel's visible state after a change.
type Snapshot struct {
	Notifications []domain.Notification
	UnreadCount   int
	Subscribed    bool
}

// Channel is subscribed to the feed exactly while the session is
// authenticated. Signing out unsubscribes and clears every notification.
type Channel struct {
	feed     Feed
	sessions Sessions
	hub      *pubsub.SimpleHub
	now      func() time.Time
	tomb     tomb.Tomb

	mu         sync.Mutex
	items      []domain.Notification
	unread     int
	subscribed bool
	principal  string
	sub        realtime.Subscription
}

func New(sessions Sessions, feed Feed) *Channel {
	c := &Channel{
		feed:     feed,
		sessions: sessions,
		hub:      pubsub.NewSimpleHub(nil),
		now:      time.Now,
	}
	states, stop := sessions.Subscribe()
	c.tomb.Go(func() error {
		defer stop()
		return c.loop(states)
	})
	return c
}

func (c *Channel) loop(states <-chan session.State) error {
	var retry <-chan time.Time
	if !c.follow(c.sessions.Current()) {
		retry = time.After(resubscribeDelay)
	}
	for {
		var events <-chan realtime.Event
		sub := c.subscription()
		if sub != nil {
			events = sub.Events()
		}
		select {
		case <-c.tomb.Dying():
			c.unsubscribe()
			return nil
		case st := <-states:
			retry = nil
			if !c.follow(st) {
				retry = time.After(resubscribeDelay)
			}
		case ev, ok := <-events:
			if !ok {
				slog.Warn("notification feed ended", "err", sub.Err())
				c.dropSubscription(sub)
				retry = time.After(resubscribeDelay)
				continue
			}
			c.receive(ev)
		case <-retry:
			retry = nil
			if !c.follow(c.sessions.Current()) {
				retry = time.After(resubscribeDelay)
			}
		}
	}
}

// follow reconciles the subscription with st. It reports false when a
// subscription was wanted but could not be opened.
func (c *Channel) follow(st session.State) bool {
	switch st.Phase {
	case session.PhaseAuthenticated:
		c.mu.Lock()
		same := c.subscribed && c.principal == st.Principal.ID
		switched := c.subscribed && c.principal != st.Principal.ID
		c.mu.Unlock()
		if same {
			return true
		}
		if switched {
			c.unsubscribe()
			c.Clear()
		}
		return c.subscribe(st.Principal.ID)
	case session.PhaseAnonymous, session.PhaseError:
		c.unsubscribe()
		c.Clear()
	}
	return true
}

func (c *Channel) subscribe(principalID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
	defer cancel()
	sub, err := c.feed.Subscribe(ctx, c.sessions.AccessToken(), realtime.ExcludeAuthor(principalID))
	if err != nil {
		slog.Warn("subscribe to new posts failed", "err", err)
		return false
	}
	c.mu.Lock()
	c.sub = sub
	c.subscribed = true
	c.principal = principalID
	c.publishLocked()
	c.mu.Unlock()
	return true
}

func (c *Channel) unsubscribe() {
	c.mu.Lock()
	sub := c.sub
	wasSubscribed := c.subscribed
	c.sub = nil
	c.subscribed = false
	c.principal = ""
	if wasSubscribed {
		c.publishLocked()
	}
	c.mu.Unlock()
	if sub != nil {
		if err := sub.Close(); err != nil {
			slog.Debug("close notification feed", "err", err)
		}
	}
}

func (c *Channel) dropSubscription(sub realtime.Subscription) {
	c.mu.Lock()
	if c.sub == sub {
		c.sub = nil
		c.subscribed = false
		c.publishLocked()
	}
	c.mu.Unlock()
	_ = sub.Close()
}

func (c *Channel) subscription() realtime.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub
}

// receive adds one notification for an insert by another author. The feed
// is filtered server-side; own posts are dropped here as well.
func (c *Channel) receive(ev realtime.Event) {
	if ev.Table != realtime.TablePosts || ev.Type != realtime.EventInsert {
		return
	}
	c.mu.Lock()
	if !c.subscribed || ev.Record.AuthorID == c.principal {
		c.mu.Unlock()
		return
	}
	n := domain.Notification{
		ID:        uuid.NewString(),
		Type:      domain.NotificationTypeNewPost,
		Message:   "New blog post: " + ev.Record.Title,
		PostID:    ev.Record.ID,
		CreatedAt: c.now(),
	}
	c.items = append([]domain.Notification{n}, c.items...)
	c.unread++
	c.publishLocked()
	c.mu.Unlock()
}

// MarkAsRead reports whether id was found unread.
func (c *Channel) MarkAsRead(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		if c.items[i].ID == id && !c.items[i].Read {
			c.items[i].Read = true
			c.unread--
			c.publishLocked()
			return true
		}
	}
	return false
}

func (c *Channel) MarkAllAsRead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		c.items[i].Read = true
	}
	c.unread = 0
	c.publishLocked()
}

func (c *Channel) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
	c.unread = 0
	c.publishLocked()
}

// Notifications returns the list newest first.
func (c *Channel) Notifications() []domain.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Notification(nil), c.items...)
}

func (c *Channel) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread
}

func (c *Channel) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribed
}

// Updates delivers a snapshot after every change. The channel is not closed
// by cancel.
func (c *Channel) Updates() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 16)
	stop := make(chan struct{})
	unsubscribe := c.hub.Subscribe(topicSnapshot, func(_ string, data interface{}) {
		snap, ok := data.(Snapshot)
		if !ok {
			return
		}
		select {
		case ch <- snap:
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

// Close stops following the session and releases the feed.
func (c *Channel) Close() error {
	c.tomb.Kill(nil)
	return c.tomb.Wait()
}

// publishLocked runs under mu so snapshots go out in mutation order.
func (c *Channel) publishLocked() {
	c.hub.Publish(topicSnapshot, Snapshot{
		Notifications: append([]domain.Notification(nil), c.items...),
		UnreadCount:   c.unread,
		Subscribed:    c.subscribed,
	})
}
