package backup

import (
	"strconv"
	"time"

	"telegram-archive/internal/domain"
	"telegram-archive/internal/telegram"
)

const replyPreviewChars = 100

// TextCache resolves a reply's preview text from messages already seen in
// the current chat pass, since the telegram collaborator only hands us the
// replied-to id, not its text. Shared between the backup engine's per-dialog
// pass and the listener's per-chat running cache.
type TextCache struct {
	byID map[int64]string
}

func NewTextCache() *TextCache {
	return &TextCache{byID: make(map[int64]string)}
}

func (c *TextCache) Remember(id int64, text string) {
	c.byID[id] = text
}

func (c *TextCache) Preview(id int64) string {
	text, ok := c.byID[id]
	if !ok {
		return ""
	}
	return truncatePreview(text)
}

// truncatePreview returns the first replyPreviewChars characters of text.
func truncatePreview(text string) string {
	runes := []rune(text)
	if len(runes) > replyPreviewChars {
		return string(runes[:replyPreviewChars])
	}
	return text
}

// ProcessMessage turns a wire message into the domain record and user
// upsert the storage adapter expects, following the same field rules the
// backup engine and listener both apply: extract sender, serialise a poll
// into raw_data, copy the forward-source name into raw_data, compute
// is_outgoing, stringify grouped_id, and truncate the replied-to preview to
// 100 characters. Reactions are not part of the result; callers store
// in.Reactions themselves.
func ProcessMessage(in telegram.IncomingMessage, ownerID int64, cache *TextCache) (domain.Message, *domain.User) {
	raw := domain.RawData{}
	if in.GroupedID != 0 {
		raw.GroupedID = strconv.FormatInt(in.GroupedID, 10)
	}
	if in.ForwardFromName != "" {
		raw.ForwardFromName = in.ForwardFromName
	}
	if in.Poll != nil {
		raw.Poll = in.Poll
	}

	msg := domain.Message{
		ID:            in.ID,
		ChatID:        in.ChatID,
		SenderID:      in.SenderID,
		Date:          in.Date.UTC(),
		Text:          in.Text,
		ReplyToMsgID:  in.ReplyToMsgID,
		ForwardFromID: in.ForwardFromID,
		EditDate:      in.EditDate,
		IsOutgoing:    in.IsOutgoing || in.SenderID == ownerID,
		RawData:       raw,
	}

	if in.ReplyToMsgID != 0 {
		if preview := cache.Preview(in.ReplyToMsgID); preview != "" {
			msg.ReplyToText = preview
		} else if in.ReplyToText != "" {
			msg.ReplyToText = truncatePreview(in.ReplyToText)
		}
	}

	if in.Media != nil {
		msg.MediaType = in.Media.Type
		msg.MediaID = in.Media.TelegramFileID
	}

	cache.Remember(in.ID, in.Text)

	var user *domain.User
	if in.SenderID != 0 {
		user = &domain.User{ID: in.SenderID, UpdatedAt: time.Now().UTC()}
	}

	return msg, user
}
