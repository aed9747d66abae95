package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPBroker publishes change events to a fanout exchange. Every subscriber
// gets its own exclusive, auto-deleted queue bound to it.
type AMQPBroker struct {
	conn     *amqp.Connection
	exchange string

	mu    sync.Mutex
	pubCh *amqp.Channel
}

// DialAMQPBroker connects and declares the exchange.
func DialAMQPBroker(url, exchange string) (*AMQPBroker, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("amqp broker requires a url")
	}
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		exchange = "blogs.changes"
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPBroker{conn: conn, exchange: exchange, pubCh: ch}, nil
}

func (b *AMQPBroker) Publish(ctx context.Context, ev Event) error {
	body, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	// amqp channels are not safe for concurrent publishing.
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pubCh.PublishWithContext(ctx, b.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now().UTC(),
		Type:        string(ev.Type),
		Body:        body,
	})
}

func (b *AMQPBroker) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare subscriber queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", b.exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("bind subscriber queue: %w", err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("consume subscriber queue: %w", err)
	}

	out := make(chan Event, defaultSubscriberBuffer)
	go func() {
		defer close(out)
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				ev, err := decodeEvent(d.Body)
				if err != nil {
					slog.Warn("skipping malformed change event", "err", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *AMQPBroker) Close() error {
	return b.conn.Close()
}
