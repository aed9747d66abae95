package realtime

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBroker shares change events between API replicas through a Redis
// stream. Each subscriber reads the stream independently from the entry
// that was last when it subscribed.
type RedisBroker struct {
	client redis.Cmdable
	stream string
	maxLen int64
	block  time.Duration
}

type RedisBrokerConfig struct {
	Stream string
	MaxLen int64
	Block  time.Duration
}

func NewRedisBroker(client redis.Cmdable, cfg RedisBrokerConfig) (*RedisBroker, error) {
	if client == nil {
		return nil, errors.New("redis broker requires a client")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "blogs:changes"
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	block := cfg.Block
	if block <= 0 {
		block = 2 * time.Second
	}
	return &RedisBroker{client: client, stream: stream, maxLen: maxLen, block: block}, nil
}

func (b *RedisBroker) Publish(ctx context.Context, ev Event) error {
	payload, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	return b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]any{"event": string(payload)},
	}).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context) (<-chan Event, error) {
	last, err := b.client.XRevRangeN(ctx, b.stream, "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	lastID := "0-0"
	if len(last) > 0 {
		lastID = last[0].ID
	}
	ch := make(chan Event, defaultSubscriberBuffer)
	go b.readLoop(ctx, lastID, ch)
	return ch, nil
}

func (b *RedisBroker) readLoop(ctx context.Context, lastID string, ch chan<- Event) {
	defer close(ch)
	for {
		if ctx.Err() != nil {
			return
		}
		streams, err := b.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{b.stream, lastID},
			Count:   100,
			Block:   b.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			slog.Warn("realtime stream read failed", "stream", b.stream, "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				lastID = msg.ID
				raw, _ := msg.Values["event"].(string)
				ev, err := decodeEvent([]byte(raw))
				if err != nil {
					slog.Warn("skipping malformed change event", "id", msg.ID, "err", err)
					continue
				}
				select {
				case ch <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}
