package backup

import (
	"context"
	"os"
	"time"

	"telegram-archive/internal/domain"
	"telegram-archive/internal/media"
	"telegram-archive/internal/telegram"
)

// DownloadMessageMedia pulls in.Media via client and records it in the
// media store, returning the domain.Media row ready for InsertMedia. It is
// exported for the listener's new-message and album handlers to reuse.
func DownloadMessageMedia(ctx context.Context, client telegram.Client, store *media.Store, chatID, messageID int64, ref telegram.MediaRef) (domain.Media, error) {
	now := time.Now().UTC()
	fileName := media.FileName(messageID, ref.Type, ref.TelegramFileID, ref.MimeType)

	result, err := store.Place(chatID, fileName, func(dst string) error {
		f, err := os.Create(dst)
		if err != nil {
			return err
		}
		defer f.Close()
		return client.DownloadMedia(ctx, ref, f)
	})
	if err != nil {
		return domain.Media{}, err
	}

	return domain.Media{
		ID:           ref.TelegramFileID,
		MessageID:    messageID,
		ChatID:       chatID,
		Type:         ref.Type,
		FilePath:     result.ChatRelativePath,
		FileName:     fileName,
		FileSize:     result.Size,
		MimeType:     ref.MimeType,
		Width:        ref.Width,
		Height:       ref.Height,
		Duration:     ref.DurationSec,
		Downloaded:   true,
		DownloadDate: &now,
	}, nil
}
