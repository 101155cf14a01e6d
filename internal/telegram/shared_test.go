package telegram

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedClientOwnerDisconnects(t *testing.T) {
	fake := NewFakeClient(1)
	owner := NewSharedClient(fake, true)
	require.NoError(t, owner.Disconnect(context.Background()))
}

func TestSharedClientNonOwnerVerifiesInsteadOfDisconnecting(t *testing.T) {
	fake := NewFakeClient(1)
	nonOwner := NewSharedClient(fake, false)
	assert.NoError(t, nonOwner.Disconnect(context.Background()))
}

func TestFakeClientIterMessagesRespectsMinID(t *testing.T) {
	fake := NewFakeClient(1)
	fake.SeedMessages(10,
		IncomingMessage{ID: 1, ChatID: 10},
		IncomingMessage{ID: 2, ChatID: 10},
		IncomingMessage{ID: 3, ChatID: 10},
	)

	var ids []int64
	for m, err := range fake.IterMessages(context.Background(), Dialog{ChatID: 10}, 1) {
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []int64{2, 3}, ids)
}

func TestFakeClientFetchMessagesByIDMarksMissingAsDeleted(t *testing.T) {
	fake := NewFakeClient(1)
	fake.SeedMessages(10, IncomingMessage{ID: 1, ChatID: 10, Text: "hi"})

	out, err := fake.FetchMessagesByID(context.Background(), Dialog{ChatID: 10}, []int64{1, 2})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.False(t, out[0].Deleted)
	assert.True(t, out[1].Deleted)
}
