package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

const channelColumns = `
	id, type, identifier, title, is_active, added_at, backfill_days,
	access_status, last_checked_at, COALESCE(cursor_message_id, 0),
	COALESCE(peer_id, 0), last_error
`

func scanChannel(row interface{ Scan(...any) error }) (Channel, error) {
	var ch Channel
	var lastCheckedAt sql.NullTime

	err := row.Scan(
		&ch.ID, &ch.Type, &ch.Identifier, &ch.Title, &ch.IsActive,
		&ch.AddedAt, &ch.BackfillDays, &ch.AccessStatus,
		&lastCheckedAt, &ch.CursorMessageID, &ch.PeerID, &ch.LastError,
	)
	if err != nil {
		return Channel{}, err
	}

	if lastCheckedAt.Valid {
		t := lastCheckedAt.Time
		ch.LastCheckedAt = &t
	}
	return ch, nil
}

// ListActiveChannels returns operator-enabled channels ordered by id.
func (s *Store) ListActiveChannels(ctx context.Context) ([]Channel, error) {
	query := `
		SELECT ` + channelColumns + `
		FROM channels
		WHERE is_active = TRUE
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active channels: %w", err)
	}
	defer rows.Close()

	var channels []Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating channels: %w", err)
	}

	return channels, nil
}

// GetChannel returns one channel or nil when absent.
func (s *Store) GetChannel(ctx context.Context, id int64) (*Channel, error) {
	query := `
		SELECT ` + channelColumns + `
		FROM channels
		WHERE id = $1
	`

	ch, err := scanChannel(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel %d: %w", id, err)
	}
	return &ch, nil
}

// UpdateChannelJoinOutcome persists the result of a join attempt:
// access status, note, and any entity details the attempt surfaced.
// Title and peer id are only written when discovered (non-zero).
func (s *Store) UpdateChannelJoinOutcome(ctx context.Context, id int64, status ChannelAccessStatus, note string, ok bool, title string, peerID int64) error {
	lastError := s.truncateNote(note)
	if ok {
		lastError = ""
	}

	query := `
		UPDATE channels
		SET access_status = $2,
		    last_error = $3,
		    last_checked_at = now(),
		    title = CASE WHEN $4 <> '' THEN $4 ELSE title END,
		    peer_id = CASE WHEN $5 <> 0 THEN $5 ELSE peer_id END
		WHERE id = $1
	`

	if _, err := s.db.ExecContext(ctx, query, id, status, lastError, title, peerID); err != nil {
		return fmt.Errorf("failed to update channel %d join outcome: %w", id, err)
	}

	s.logger.Debug("channel join outcome recorded",
		slog.Int64("channel_id", id),
		slog.String("access_status", string(status)))
	return nil
}

// MarkChannelFailed records a tick where no account could parse the
// channel. forbidden flips the channel-global access status too.
func (s *Store) MarkChannelFailed(ctx context.Context, id int64, lastError string, forbidden bool) error {
	query := `
		UPDATE channels
		SET last_error = $2,
		    last_checked_at = now(),
		    access_status = CASE WHEN $3 THEN 'forbidden'::channel_access_status ELSE access_status END
		WHERE id = $1
	`

	if _, err := s.db.ExecContext(ctx, query, id, s.truncateNote(lastError), forbidden); err != nil {
		return fmt.Errorf("failed to mark channel %d failed: %w", id, err)
	}
	return nil
}

// UpsertChannel inserts or re-enables a channel keyed by (type,
// identifier). Title defaults to the identifier until the first
// successful fetch replaces it.
func (s *Store) UpsertChannel(ctx context.Context, chType ChannelType, identifier string, backfillDays int) (int64, bool, error) {
	var id int64
	var created bool

	query := `
		SELECT id FROM channels WHERE type = $1 AND identifier = $2
	`
	err := s.db.QueryRowContext(ctx, query, chType, identifier).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		insert := `
			INSERT INTO channels (type, identifier, title, is_active, backfill_days, access_status)
			VALUES ($1, $2, $2, TRUE, $3, $4)
			RETURNING id
		`
		if err := s.db.QueryRowContext(ctx, insert, chType, identifier, backfillDays, ChannelAccessActive).Scan(&id); err != nil {
			return 0, false, fmt.Errorf("failed to insert channel: %w", err)
		}
		created = true
	case err != nil:
		return 0, false, fmt.Errorf("failed to look up channel: %w", err)
	default:
		update := `
			UPDATE channels
			SET is_active = TRUE, backfill_days = $2
			WHERE id = $1
		`
		if _, err := s.db.ExecContext(ctx, update, id, backfillDays); err != nil {
			return 0, false, fmt.Errorf("failed to update channel: %w", err)
		}
	}

	s.logger.Info("channel upserted",
		slog.Int64("channel_id", id),
		slog.Bool("created", created),
		slog.String("type", string(chType)),
		slog.String("identifier", identifier))
	return id, created, nil
}
