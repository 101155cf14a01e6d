package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"time"

	"telegram-archive/internal/apperrors"
	"telegram-archive/internal/domain"
	"telegram-archive/internal/store"
)

func (s *Store) InsertMedia(ctx context.Context, media domain.Media) error {
	return store.WithRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO media (id, message_id, chat_id, type, file_path, file_name, file_size, mime_type,
				width, height, duration, downloaded, download_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				message_id = excluded.message_id,
				chat_id = excluded.chat_id,
				type = excluded.type,
				file_path = excluded.file_path,
				file_name = excluded.file_name,
				file_size = excluded.file_size,
				mime_type = excluded.mime_type,
				width = excluded.width,
				height = excluded.height,
				duration = excluded.duration,
				downloaded = excluded.downloaded,
				download_date = excluded.download_date
		`, media.ID, nullInt64(media.MessageID), nullInt64(media.ChatID), media.Type, nullString(media.FilePath),
			nullString(media.FileName), nullInt64(media.FileSize), nullString(media.MimeType),
			nullInt64(int64(media.Width)), nullInt64(int64(media.Height)), nullInt64(int64(media.Duration)),
			boolToInt(media.Downloaded), downloadDateParam(media.DownloadDate))
		return err
	})
}

func downloadDateParam(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return store.NormalizeTime(*t)
}

func scanMedia(row scanner) (domain.Media, error) {
	var m domain.Media
	var messageID, chatID, fileSize sql.NullInt64
	var filePath, fileName, mimeType sql.NullString
	var width, height, duration sql.NullInt64
	var downloaded int
	var downloadDate sql.NullTime
	if err := row.Scan(&m.ID, &messageID, &chatID, &m.Type, &filePath, &fileName, &fileSize, &mimeType,
		&width, &height, &duration, &downloaded, &downloadDate); err != nil {
		return domain.Media{}, err
	}
	m.MessageID = messageID.Int64
	m.ChatID = chatID.Int64
	m.FilePath = filePath.String
	m.FileName = fileName.String
	m.FileSize = fileSize.Int64
	m.MimeType = mimeType.String
	m.Width = int(width.Int64)
	m.Height = int(height.Int64)
	m.Duration = int(duration.Int64)
	m.Downloaded = downloaded != 0
	if downloadDate.Valid {
		t := downloadDate.Time
		m.DownloadDate = &t
	}
	return m, nil
}

// GetMediaForVerification streams every media row flagged downloaded, plus
// any row still carrying a file_path from a prior attempt, so a row left
// behind by a failed redownload (downloaded cleared, file_path not yet
// nulled, or vice versa) is never skipped by the verify_media sweep.
func (s *Store) GetMediaForVerification(ctx context.Context) iter.Seq2[domain.Media, error] {
	return func(yield func(domain.Media, error) bool) {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, message_id, chat_id, type, file_path, file_name, file_size, mime_type,
				width, height, duration, downloaded, download_date
			FROM media WHERE downloaded = 1 OR file_path IS NOT NULL ORDER BY chat_id, message_id`)
		if err != nil {
			yield(domain.Media{}, err)
			return
		}
		defer rows.Close()
		for rows.Next() {
			m, err := scanMedia(rows)
			if !yield(m, err) {
				return
			}
			if err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.Media{}, err)
		}
	}
}

// MarkMediaForRedownload resets a media row whose file the verification
// sweep found broken, ahead of its redownload: downloaded cleared, download_date and
// file_path nulled so nothing points at the broken file in the meantime.
func (s *Store) MarkMediaForRedownload(ctx context.Context, mediaID string) error {
	return store.WithRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `UPDATE media SET downloaded = 0, download_date = NULL, file_path = NULL WHERE id = ?`, mediaID)
		return err
	})
}

func (s *Store) GetMedia(ctx context.Context, mediaID string) (domain.Media, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, message_id, chat_id, type, file_path, file_name, file_size, mime_type,
			width, height, duration, downloaded, download_date
		FROM media WHERE id = ?`, mediaID)
	m, err := scanMedia(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Media{}, apperrors.Wrap(apperrors.ErrNotFound, fmt.Sprintf("media %s", mediaID), err)
	}
	return m, err
}
