package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// TrackBotUser upserts a bot user row, stamping last_seen_at.
func (s *Store) TrackBotUser(ctx context.Context, telegramUserID int64, now time.Time) error {
	query := `
		INSERT INTO bot_users (telegram_user_id, first_seen_at, last_seen_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (telegram_user_id) DO UPDATE SET last_seen_at = EXCLUDED.last_seen_at
	`

	if _, err := s.db.ExecContext(ctx, query, telegramUserID, now); err != nil {
		return fmt.Errorf("failed to track bot user %d: %w", telegramUserID, err)
	}
	return nil
}

// SetBotUserStaff toggles the staff flag for a bot user.
func (s *Store) SetBotUserStaff(ctx context.Context, telegramUserID int64, isStaff bool) error {
	query := `
		UPDATE bot_users
		SET is_staff = $2
		WHERE telegram_user_id = $1
	`

	if _, err := s.db.ExecContext(ctx, query, telegramUserID, isStaff); err != nil {
		return fmt.Errorf("failed to set staff flag for user %d: %w", telegramUserID, err)
	}

	s.logger.Info("bot user staff flag updated",
		slog.Int64("telegram_user_id", telegramUserID),
		slog.Bool("is_staff", isStaff))
	return nil
}

// ListStaffRecipients returns ids of staff users who opted into
// notifications. The team broadcast goes only to these.
func (s *Store) ListStaffRecipients(ctx context.Context) ([]int64, error) {
	query := `
		SELECT DISTINCT telegram_user_id
		FROM bot_users
		WHERE is_staff = TRUE AND notify_enabled = TRUE
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query staff recipients: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan staff recipient: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating staff recipients: %w", err)
	}

	return ids, nil
}
