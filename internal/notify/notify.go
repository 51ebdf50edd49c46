// Package notify broadcasts committed row changes over Redis pub/sub and
// relays them to websocket clients.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Actions carried by a Change.
const (
	ActionInsert = "insert"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// DefaultChannel is the Redis channel used when none is configured.
const DefaultChannel = "custody:changes"

// Change describes one committed row change.
type Change struct {
	Table  string    `json:"table"`
	ID     string    `json:"id"`
	Action string    `json:"action"`
	At     time.Time `json:"at"`
}

// Publisher sends changes to a Redis channel. A nil Publisher drops
// everything, which keeps services usable without Redis.
type Publisher struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
	observe func(table string)
}

// NewPublisher constructs a Publisher.
func NewPublisher(client *redis.Client, channel string, logger *slog.Logger) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{client: client, channel: channel, logger: logger}
}

// Channel returns the Redis channel name.
func (p *Publisher) Channel() string {
	if p == nil {
		return DefaultChannel
	}
	return p.channel
}

// Observe registers fn to be called once per change sent.
func (p *Publisher) Observe(fn func(table string)) {
	if p != nil {
		p.observe = fn
	}
}

// Publish is fire-and-forget: failures are logged and never returned, since
// the changes it announces are already committed.
func (p *Publisher) Publish(ctx context.Context, changes ...Change) {
	if p == nil || p.client == nil {
		return
	}
	now := time.Now().UTC()
	for _, c := range changes {
		if c.At.IsZero() {
			c.At = now
		}
		payload, err := json.Marshal(c)
		if err != nil {
			p.logger.Warn("notify: encode change", slog.Any("error", err))
			continue
		}
		if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
			p.logger.Warn("notify: publish change",
				slog.String("table", c.Table),
				slog.String("id", c.ID),
				slog.Any("error", err))
			continue
		}
		if p.observe != nil {
			p.observe(c.Table)
		}
	}
}

// Subscribe returns a channel of decoded changes until ctx ends.
func (p *Publisher) Subscribe(ctx context.Context) (<-chan Change, error) {
	sub := p.client.Subscribe(ctx, p.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	out := make(chan Change, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					p.logger.Warn("notify: decode change", slog.Any("error", err))
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
