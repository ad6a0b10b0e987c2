package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// HasPosts reports whether any post exists for the channel. Used to
// detect a cursor that advanced without inserts (treated as first
// parse on the next pass).
func (s *Store) HasPosts(ctx context.Context, channelID int64) (bool, error) {
	query := `
		SELECT EXISTS (SELECT 1 FROM posts WHERE channel_id = $1)
	`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, channelID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check posts for channel %d: %w", channelID, err)
	}
	return exists, nil
}

// CommitParse stores freshly parsed posts and advances the channel in
// one transaction: duplicate (channel_id, message_id) rows are skipped,
// the cursor only moves forward, last_error clears, and the channel is
// promoted to joined unless already active/joined.
//
// The returned count is the number of rows actually inserted, taken
// from RETURNING ids. Driver-reported affected rows are unreliable for
// conflict-ignore inserts.
func (s *Store) CommitParse(ctx context.Context, channelID int64, posts []Post, cursor int64) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin parse transaction: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	if len(posts) > 0 {
		var sb strings.Builder
		sb.WriteString(`
			INSERT INTO posts (channel_id, message_id, original_url, published_at, text, created_at)
			VALUES `)

		args := make([]any, 0, len(posts)*6)
		for i, p := range posts {
			if i > 0 {
				sb.WriteString(", ")
			}
			base := i * 6
			fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d)",
				base+1, base+2, base+3, base+4, base+5, base+6)
			args = append(args, channelID, p.MessageID, p.OriginalURL, p.PublishedAt, p.Text, p.CreatedAt)
		}
		sb.WriteString(`
			ON CONFLICT (channel_id, message_id) DO NOTHING
			RETURNING id`)

		rows, err := tx.QueryContext(ctx, sb.String(), args...)
		if err != nil {
			return 0, fmt.Errorf("failed to insert posts for channel %d: %w", channelID, err)
		}
		for rows.Next() {
			inserted++
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return 0, fmt.Errorf("error counting inserted posts: %w", err)
		}
		rows.Close()
	}

	update := `
		UPDATE channels
		SET cursor_message_id = GREATEST(COALESCE(cursor_message_id, 0), $2),
		    last_checked_at = now(),
		    last_error = '',
		    access_status = CASE
		        WHEN access_status IN ('active', 'joined') THEN access_status
		        ELSE 'joined'::channel_access_status
		    END
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, update, channelID, cursor); err != nil {
		return 0, fmt.Errorf("failed to advance channel %d cursor: %w", channelID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit parse for channel %d: %w", channelID, err)
	}

	s.logger.Debug("parse committed",
		slog.Int64("channel_id", channelID),
		slog.Int("fetched", len(posts)),
		slog.Int("inserted", inserted),
		slog.Int64("cursor", cursor))
	return inserted, nil
}
