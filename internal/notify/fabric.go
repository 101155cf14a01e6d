package notify

import (
	"context"

	"telegram-archive/internal/logging"
)

// Fabric is the composed notification pipeline: a Publisher (postgres or
// webhook transport) feeding the WebSocket hub, plus an optional push
// bridge for basic/full PUSH_NOTIFICATIONS modes.
type Fabric struct {
	Publisher Publisher
	Hub       *Hub
	Push      *PushBridge
}

// Emit publishes event through the configured transport and, when a push
// bridge is attached, also dispatches it to Web Push subscribers. Errors
// are logged rather than propagated: a failed notification must never
// abort the ingestion path that produced it.
func (f *Fabric) Emit(ctx context.Context, event Event) {
	if f.Publisher != nil {
		if err := f.Publisher.Publish(ctx, event); err != nil {
			logging.Warn().Err(err).Str("type", string(event.Type)).Msg("notify: publish failed")
		}
	}
	if f.Push != nil {
		f.Push.NotifyChat(ctx, event)
	}
}
