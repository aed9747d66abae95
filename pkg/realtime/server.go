package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/srinadh239/blogs/internal/util"
	"github.com/srinadh239/blogs/pkg/domain"
)

const (
	writeWait  = 10 * time.Second
	pongDelay  = 60 * time.Second
	pingPeriod = (pongDelay * 9) / 10
)

// Authenticator verifies the credential carried by a connection context.
type Authenticator interface {
	Authenticate(ctx context.Context) (context.Context, domain.Principal, error)
}

// Handler serves the change feed over websocket. The upgrade request's
// context, with the credential captured from its headers, becomes the
// connection context; each subscribe message is authenticated against it.
type Handler struct {
	broker   Broker
	auth     Authenticator
	upgrader websocket.Upgrader
}

// NewHandler builds the websocket handler. checkOrigin may be nil to allow
// any origin.
func NewHandler(broker Broker, auth Authenticator, checkOrigin func(*http.Request) bool) *Handler {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		broker: broker,
		auth:   auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LoggerFromContext(r.Context()).Warn("websocket upgrade failed", "err", err)
		return
	}
	c := &conn{
		handler: h,
		socket:  socket,
		out:     make(chan ServerMessage, defaultSubscriberBuffer),
	}
	connCtx, cancel := context.WithCancel(r.Context())
	defer cancel()
	c.serve(connCtx)
}

type conn struct {
	handler *Handler
	socket  *websocket.Conn
	out     chan ServerMessage

	mu        sync.Mutex
	cancelSub context.CancelFunc
}

func (c *conn) serve(ctx context.Context) {
	defer c.socket.Close()
	logger := util.LoggerFromContext(ctx)

	_ = c.socket.SetReadDeadline(time.Now().Add(pongDelay))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongDelay))
	})

	incoming := c.receive(ctx)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				logger.Debug("realtime ping failed", "err", err)
				return
			}
		case msg := <-c.out:
			if err := c.write(msg); err != nil {
				logger.Debug("realtime write failed", "err", err)
				return
			}
		case msg, ok := <-incoming:
			if !ok {
				return
			}
			if err := c.write(c.handle(ctx, msg)); err != nil {
				logger.Debug("realtime write failed", "err", err)
				return
			}
		}
	}
}

func (c *conn) write(msg ServerMessage) error {
	_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
	return c.socket.WriteJSON(msg)
}

func (c *conn) receive(ctx context.Context) <-chan ClientMessage {
	ch := make(chan ClientMessage)
	go func() {
		defer close(ch)
		for {
			var m ClientMessage
			if err := c.socket.ReadJSON(&m); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					util.LoggerFromContext(ctx).Debug("realtime receive ended", "err", err)
				}
				return
			}
			select {
			case ch <- m:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func (c *conn) handle(ctx context.Context, msg ClientMessage) ServerMessage {
	switch msg.Type {
	case MsgSubscribe:
		return c.subscribe(ctx, msg)
	case MsgUnsubscribe:
		c.unsubscribe()
		return ServerMessage{Type: MsgStatus, Status: StatusUnsubscribed}
	default:
		return ServerMessage{Type: MsgError, Code: "BAD_REQUEST", Error: "unknown message type"}
	}
}

// subscribe replaces any previous subscription on the connection.
func (c *conn) subscribe(ctx context.Context, msg ClientMessage) ServerMessage {
	_, principal, err := c.handler.auth.Authenticate(ctx)
	if err != nil {
		return ServerMessage{Type: MsgError, Code: "UNAUTHENTICATED", Error: "unauthorized"}
	}
	if msg.Topic != TablePosts {
		return ServerMessage{Type: MsgError, Code: "BAD_REQUEST", Error: "unknown topic"}
	}
	eventType := msg.Event
	if eventType == "" {
		eventType = EventInsert
	}
	filter, err := ParseFilter(msg.Filter)
	if err != nil {
		return ServerMessage{Type: MsgError, Code: "BAD_REQUEST", Error: err.Error()}
	}
	if filter.IsZero() {
		filter = ExcludeAuthor(principal.ID)
	}

	c.unsubscribe()
	subCtx, cancel := context.WithCancel(ctx)
	events, err := c.handler.broker.Subscribe(subCtx)
	if err != nil {
		cancel()
		util.LoggerFromContext(ctx).Error("realtime subscribe failed", "err", err)
		return ServerMessage{Type: MsgError, Code: "UPSTREAM_FAILURE", Error: "subscribe failed"}
	}
	c.mu.Lock()
	c.cancelSub = cancel
	c.mu.Unlock()

	go func() {
		for ev := range events {
			if ev.Table != TablePosts || (eventType != EventAll && ev.Type != eventType) || !filter.Match(ev) {
				continue
			}
			c.send(subCtx, ServerMessage{Type: MsgChange, Event: &ev})
		}
	}()
	return ServerMessage{Type: MsgStatus, Status: StatusSubscribed, Filter: filter.String()}
}

func (c *conn) unsubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelSub != nil {
		c.cancelSub()
		c.cancelSub = nil
	}
}

func (c *conn) send(ctx context.Context, msg ServerMessage) {
	select {
	case c.out <- msg:
	case <-ctx.Done():
	}
}
