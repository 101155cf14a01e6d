package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"telegram-archive/internal/domain"
	"telegram-archive/internal/logging"
	"telegram-archive/internal/store"
)

// PushBridge delivers events to registered Web Push endpoints via VAPID,
// pruning subscriptions the push service reports as gone.
type PushBridge struct {
	store        store.Store
	vapidPublic  string
	vapidPrivate string
	contact      string
}

func NewPushBridge(s store.Store, vapidPublic, vapidPrivate, contact string) *PushBridge {
	return &PushBridge{store: s, vapidPublic: vapidPublic, vapidPrivate: vapidPrivate, contact: contact}
}

// NotifyChat sends a new_message event to every subscription registered for
// event.ChatID (global subscriptions included), deleting any endpoint the
// push service reports as permanently gone (404/410) or rejected (403).
// Events of any other type are not pushed.
func (b *PushBridge) NotifyChat(ctx context.Context, event Event) {
	if event.Type != EventNewMessage {
		return
	}
	subs, err := b.store.GetPushSubscriptionsForChat(ctx, event.ChatID)
	if err != nil {
		logging.Warn().Err(err).Msg("push: failed to load subscriptions")
		return
	}
	if len(subs) == 0 {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		logging.Warn().Err(err).Msg("push: failed to marshal event")
		return
	}

	for _, sub := range subs {
		b.send(ctx, sub, payload)
	}
}

func (b *PushBridge) send(ctx context.Context, sub domain.PushSubscription, payload []byte) {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		Subscriber:      b.contact,
		VAPIDPublicKey:  b.vapidPublic,
		VAPIDPrivateKey: b.vapidPrivate,
		TTL:             60,
	})
	if err != nil {
		logging.Warn().Err(err).Str("endpoint", sub.Endpoint).Msg("push: send failed")
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusGone, http.StatusForbidden:
		if err := b.store.DeletePushSubscription(ctx, sub.Endpoint); err != nil {
			logging.Warn().Err(err).Msg("push: failed to prune dead subscription")
		}
	default:
		_ = b.store.TouchPushSubscription(ctx, sub.Endpoint, time.Now())
	}
}
