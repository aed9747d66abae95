package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/srinadh239/blogs/pkg/domain"
)

var errSubscriptionClosed = errors.New("realtime subscription closed")

// WSFeed subscribes to a remote feed served by Handler.
type WSFeed struct {
	url    string
	dialer *websocket.Dialer
}

// NewWSFeed takes the API base URL (http or https) or a ws/wss URL of the
// realtime endpoint.
func NewWSFeed(apiURL string) (*WSFeed, error) {
	u, err := url.Parse(strings.TrimSpace(apiURL))
	if err != nil {
		return nil, fmt.Errorf("parse feed url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported feed url scheme %q", u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/realtime") {
		u.Path = strings.TrimRight(u.Path, "/") + "/realtime"
	}
	return &WSFeed{
		url:    u.String(),
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
	}, nil
}

// Subscribe dials the feed with accessToken and subscribes to post inserts
// matching filter. It returns once the server confirmed the subscription.
func (f *WSFeed) Subscribe(ctx context.Context, accessToken string, filter Filter) (Subscription, error) {
	header := http.Header{}
	if accessToken != "" {
		header.Set("Authorization", "Bearer "+accessToken)
	}
	socket, resp, err := f.dialer.DialContext(ctx, f.url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, domain.ErrUnauthenticated
		}
		return nil, fmt.Errorf("dial realtime feed: %w", err)
	}
	if err := socket.WriteJSON(ClientMessage{
		Type:   MsgSubscribe,
		Topic:  TablePosts,
		Event:  EventInsert,
		Filter: filter.String(),
	}); err != nil {
		socket.Close()
		return nil, fmt.Errorf("send subscribe: %w", err)
	}

	_ = socket.SetReadDeadline(time.Now().Add(writeWait))
	var reply ServerMessage
	if err := socket.ReadJSON(&reply); err != nil {
		socket.Close()
		return nil, fmt.Errorf("read subscribe reply: %w", err)
	}
	switch {
	case reply.Type == MsgError && reply.Code == "UNAUTHENTICATED":
		socket.Close()
		return nil, domain.ErrUnauthenticated
	case reply.Type != MsgStatus || reply.Status != StatusSubscribed:
		socket.Close()
		return nil, fmt.Errorf("subscribe rejected: %s", reply.Error)
	}

	sub := &wsSubscription{
		socket: socket,
		events: make(chan Event, defaultSubscriberBuffer),
		done:   make(chan struct{}),
	}
	go sub.readLoop()
	return sub, nil
}

type wsSubscription struct {
	socket *websocket.Conn
	events chan Event
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

func (s *wsSubscription) Events() <-chan Event { return s.events }

func (s *wsSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *wsSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		deadline := time.Now().Add(time.Second)
		_ = s.socket.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = s.socket.Close()
	})
	return err
}

func (s *wsSubscription) readLoop() {
	defer close(s.events)
	// Server pings reset the read deadline; the default ping handler
	// answers with a pong.
	_ = s.socket.SetReadDeadline(time.Now().Add(pongDelay))
	s.socket.SetPingHandler(func(data string) error {
		_ = s.socket.SetReadDeadline(time.Now().Add(pongDelay))
		return s.socket.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	for {
		var msg ServerMessage
		if err := s.socket.ReadJSON(&msg); err != nil {
			select {
			case <-s.done:
			default:
				s.setErr(err)
			}
			return
		}
		_ = s.socket.SetReadDeadline(time.Now().Add(pongDelay))
		switch msg.Type {
		case MsgChange:
			if msg.Event == nil {
				continue
			}
			select {
			case s.events <- *msg.Event:
			case <-s.done:
				return
			}
		case MsgError:
			s.setErr(fmt.Errorf("realtime feed error: %s", msg.Error))
			return
		}
	}
}

func (s *wsSubscription) setErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// BrokerFeed serves subscriptions straight from a Broker, for clients in the
// same process as the API. The token is not checked. As with WSFeed, ctx
// bounds only the call; the subscription lives until Close.
type BrokerFeed struct {
	Broker Broker
}

func (f BrokerFeed) Subscribe(ctx context.Context, _ string, filter Filter) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	events, err := f.Broker.Subscribe(subCtx)
	if err != nil {
		cancel()
		return nil, err
	}
	sub := &brokerSubscription{events: make(chan Event, defaultSubscriberBuffer), cancel: cancel}
	go func() {
		defer close(sub.events)
		for ev := range events {
			if ev.Table != TablePosts || ev.Type != EventInsert || !filter.Match(ev) {
				continue
			}
			select {
			case sub.events <- ev:
			case <-subCtx.Done():
				return
			}
		}
	}()
	return sub, nil
}

type brokerSubscription struct {
	events chan Event
	cancel context.CancelFunc
}

func (s *brokerSubscription) Events() <-chan Event { return s.events }
func (s *brokerSubscription) Err() error           { return nil }
func (s *brokerSubscription) Close() error {
	s.cancel()
	return nil
}
