package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

const membershipColumns = `
	id, account_id, channel_id, status, note,
	join_requested_at, joined_at, forbidden_at, last_checked_at, updated_at
`

func scanMembership(row interface{ Scan(...any) error }) (Membership, error) {
	var m Membership
	var joinRequestedAt, joinedAt, forbiddenAt, lastCheckedAt sql.NullTime

	err := row.Scan(
		&m.ID, &m.AccountID, &m.ChannelID, &m.Status, &m.Note,
		&joinRequestedAt, &joinedAt, &forbiddenAt, &lastCheckedAt, &m.UpdatedAt,
	)
	if err != nil {
		return Membership{}, err
	}

	if joinRequestedAt.Valid {
		t := joinRequestedAt.Time
		m.JoinRequestedAt = &t
	}
	if joinedAt.Valid {
		t := joinedAt.Time
		m.JoinedAt = &t
	}
	if forbiddenAt.Valid {
		t := forbiddenAt.Time
		m.ForbiddenAt = &t
	}
	if lastCheckedAt.Valid {
		t := lastCheckedAt.Time
		m.LastCheckedAt = &t
	}
	return m, nil
}

// GetMembership returns the (account, channel) membership or nil.
func (s *Store) GetMembership(ctx context.Context, accountID, channelID int64) (*Membership, error) {
	query := `
		SELECT ` + membershipColumns + `
		FROM account_channel_memberships
		WHERE account_id = $1 AND channel_id = $2
	`

	m, err := scanMembership(s.db.QueryRowContext(ctx, query, accountID, channelID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership (%d, %d): %w", accountID, channelID, err)
	}
	return &m, nil
}

// ListChannelMemberships returns all memberships for a channel. The
// selector uses these to prefer joined accounts and skip forbidden ones.
func (s *Store) ListChannelMemberships(ctx context.Context, channelID int64) ([]Membership, error) {
	query := `
		SELECT ` + membershipColumns + `
		FROM account_channel_memberships
		WHERE channel_id = $1
		ORDER BY account_id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships for channel %d: %w", channelID, err)
	}
	defer rows.Close()

	var memberships []Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memberships: %w", err)
	}

	return memberships, nil
}

// ChannelHasPendingJoin reports whether ANY account holds an
// outstanding join request for the channel. The guardrail: one pending
// invite per channel, ever.
func (s *Store) ChannelHasPendingJoin(ctx context.Context, channelID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM account_channel_memberships
			WHERE channel_id = $1 AND status IN ('join_requested', 'pending_approval')
		)
	`

	var pending bool
	if err := s.db.QueryRowContext(ctx, query, channelID).Scan(&pending); err != nil {
		return false, fmt.Errorf("failed to check pending joins for channel %d: %w", channelID, err)
	}
	return pending, nil
}

// UpsertMembership records fresh evidence about an (account, channel)
// pair. Transition stamps are monotone: join_requested_at, joined_at
// and forbidden_at are set on the first transition into that state
// and never overwritten.
func (s *Store) UpsertMembership(ctx context.Context, accountID, channelID int64, status MembershipStatus, note string, now time.Time) error {
	var joinRequestedAt, joinedAt, forbiddenAt *time.Time
	switch {
	case status.Pending():
		joinRequestedAt = &now
	case status == MembershipJoined:
		joinedAt = &now
	case status == MembershipForbidden:
		forbiddenAt = &now
	}

	query := `
		INSERT INTO account_channel_memberships
			(account_id, channel_id, status, note,
			 join_requested_at, joined_at, forbidden_at, last_checked_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (account_id, channel_id) DO UPDATE SET
			status = EXCLUDED.status,
			note = EXCLUDED.note,
			last_checked_at = EXCLUDED.last_checked_at,
			updated_at = EXCLUDED.updated_at,
			join_requested_at = COALESCE(account_channel_memberships.join_requested_at, EXCLUDED.join_requested_at),
			joined_at = COALESCE(account_channel_memberships.joined_at, EXCLUDED.joined_at),
			forbidden_at = COALESCE(account_channel_memberships.forbidden_at, EXCLUDED.forbidden_at)
	`

	_, err := s.db.ExecContext(ctx, query, accountID, channelID, status, s.truncateNote(note),
		joinRequestedAt, joinedAt, forbiddenAt, now)
	if err != nil {
		return fmt.Errorf("failed to upsert membership (%d, %d): %w", accountID, channelID, err)
	}

	s.logger.Debug("membership upserted",
		slog.Int64("account_id", accountID),
		slog.Int64("channel_id", channelID),
		slog.String("status", string(status)))
	return nil
}
