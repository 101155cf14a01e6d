package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookPublisherSignsPayload(t *testing.T) {
	const secret = "topsecret"
	var gotSignature, gotBody string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		gotSignature = r.Header.Get(SignatureHeader)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	pub := NewWebhookPublisher(server.URL, secret)
	event := Event{Type: EventNewMessage, ChatID: 1, At: time.Now()}
	require.NoError(t, pub.Publish(context.Background(), event))

	assert.True(t, VerifySignature(secret, []byte(gotBody), gotSignature))
	assert.False(t, VerifySignature("wrong-secret", []byte(gotBody), gotSignature))
}

func TestWebhookPublisherReturnsErrorOnNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	pub := NewWebhookPublisher(server.URL, "secret")
	err := pub.Publish(context.Background(), Event{Type: EventNewMessage})
	assert.Error(t, err)
}
