package notify

import (
	"context"
	"encoding/json"

	"telegram-archive/internal/store"
)

const listenChannel = "telegram_archive_events"

// PostgresPublisher publishes events via pg_notify, the transport the
// fabric uses when the configured store exposes store.PubSubCapable.
type PostgresPublisher struct {
	pubsub store.PubSubCapable
}

func NewPostgresPublisher(pubsub store.PubSubCapable) *PostgresPublisher {
	return &PostgresPublisher{pubsub: pubsub}
}

func (p *PostgresPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.pubsub.NotifyChannel(ctx, listenChannel, string(payload))
}

// Subscribe opens a LISTEN on the shared events channel and decodes each
// notification back into an Event, handing the Hub a ready-to-broadcast stream.
func Subscribe(ctx context.Context, pubsub store.PubSubCapable) (<-chan Event, func() error, error) {
	raw, stop, err := pubsub.Listen(ctx, listenChannel)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan Event, 64)
	go func() {
		defer close(out)
		for payload := range raw {
			var event Event
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				continue
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, stop, nil
}
