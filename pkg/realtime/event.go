// Package realtime carries row-level change events for blog posts from the
// API to subscribed clients.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/srinadh239/blogs/pkg/domain"
)

const TablePosts = "blog_posts"

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	EventAll    EventType = "*"
)

// Event is one committed change to a row.
type Event struct {
	Table    string      `json:"table"`
	Type     EventType   `json:"type"`
	Record   domain.Post `json:"record"`
	CommitAt time.Time   `json:"commit_timestamp"`
}

// Broker fans change events out to every subscriber. Subscribe's channel is
// closed once ctx is done or the broker gives up on the subscriber.
type Broker interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context) (<-chan Event, error)
}

// Subscription is a client's view of a filtered feed.
type Subscription interface {
	// Events is closed when the subscription ends for any reason.
	Events() <-chan Event
	// Err reports why Events was closed, nil after Close.
	Err() error
	Close() error
}

func encodeEvent(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

func decodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode change event: %w", err)
	}
	if strings.TrimSpace(ev.Table) == "" || ev.Type == "" {
		return Event{}, fmt.Errorf("decode change event: missing table or type")
	}
	return ev, nil
}
