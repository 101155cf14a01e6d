package viewer

import (
	"context"

	"telegram-archive/internal/chatid"
	"telegram-archive/internal/store"
)

// NormalizeDisplayChatIDs runs once at startup: an id in ids that looks like
// a raw (unmarked) channel id but doesn't exist in the store is rewritten to
// its marked-channel counterpart when that counterpart does exist.
func NormalizeDisplayChatIDs(ctx context.Context, st store.Store, ids []int64) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = normalizeOne(ctx, st, id)
	}
	return out
}

func normalizeOne(ctx context.Context, st store.Store, id int64) int64 {
	if id <= 0 {
		return id
	}
	if _, err := st.GetChat(ctx, id); err == nil {
		return id
	}
	counterpart := chatid.ChannelCounterpart(id)
	if _, err := st.GetChat(ctx, counterpart); err == nil {
		return counterpart
	}
	return id
}
