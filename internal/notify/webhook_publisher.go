package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"telegram-archive/internal/apperrors"
)

// SignatureHeader carries the HMAC-SHA256 signature of the request body.
// The archive process and the viewer process may run as separate binaries
// sharing no memory, so the embedded-store dialect's realtime path is an
// HTTP call authenticated by a shared secret rather than an in-process
// channel.
const SignatureHeader = "X-Archive-Signature"

// WebhookPublisher posts events to the viewer's internal push endpoint,
// the transport used when the store is the embedded SQLite dialect and so
// has no native LISTEN/NOTIFY.
type WebhookPublisher struct {
	url    string
	secret string
	client *http.Client
}

func NewWebhookPublisher(url, secret string) *WebhookPublisher {
	return &WebhookPublisher{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (p *WebhookPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(p.secret, body))

	resp, err := p.client.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrTransient, "internal push webhook request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return apperrors.Wrap(apperrors.ErrTransient, fmt.Sprintf("internal push webhook returned %d", resp.StatusCode), nil)
	}
	return nil
}

// Sign computes the hex-encoded HMAC-SHA256 of body using secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is the correct HMAC for body under secret.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
