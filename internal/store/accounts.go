package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

const accountColumns = `
	id, label, phone_number, onboarding_method, is_active, status,
	cooldown_until, last_error, session_string,
	COALESCE(api_id, 0), COALESCE(api_hash, ''), proxy_url,
	last_used_at, created_at, updated_at
`

func scanAccount(row interface{ Scan(...any) error }) (Account, error) {
	var acc Account
	var cooldownUntil, lastUsedAt sql.NullTime

	err := row.Scan(
		&acc.ID, &acc.Label, &acc.PhoneNumber, &acc.OnboardingMethod,
		&acc.IsActive, &acc.Status,
		&cooldownUntil, &acc.LastError, &acc.SessionString,
		&acc.APIID, &acc.APIHash, &acc.ProxyURL,
		&lastUsedAt, &acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		return Account{}, err
	}

	if cooldownUntil.Valid {
		t := cooldownUntil.Time
		acc.CooldownUntil = &t
	}
	if lastUsedAt.Valid {
		t := lastUsedAt.Time
		acc.LastUsedAt = &t
	}
	return acc, nil
}

// ListActiveAccounts returns operator-enabled accounts ordered by id.
func (s *Store) ListActiveAccounts(ctx context.Context) ([]Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE is_active = TRUE
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}

// GetAccount returns one account or nil when absent.
func (s *Store) GetAccount(ctx context.Context, id int64) (*Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE id = $1
	`

	acc, err := scanAccount(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %d: %w", id, err)
	}
	return &acc, nil
}

// UpdateAccountHealth records the outcome of a health probe.
func (s *Store) UpdateAccountHealth(ctx context.Context, id int64, status AccountStatus, lastError string, cooldownUntil *time.Time) error {
	query := `
		UPDATE accounts
		SET status = $2, last_error = $3, cooldown_until = $4, updated_at = now()
		WHERE id = $1
	`

	if _, err := s.db.ExecContext(ctx, query, id, status, s.truncateNote(lastError), cooldownUntil); err != nil {
		return fmt.Errorf("failed to update account %d health: %w", id, err)
	}
	return nil
}

// SetAccountCooldown puts the account on a FloodWait cooldown so the
// selector skips it until the deadline passes.
func (s *Store) SetAccountCooldown(ctx context.Context, id int64, until time.Time, note string) error {
	query := `
		UPDATE accounts
		SET status = $2, cooldown_until = $3, last_error = $4, updated_at = now()
		WHERE id = $1
	`

	if _, err := s.db.ExecContext(ctx, query, id, AccountCooldown, until, s.truncateNote(note)); err != nil {
		return fmt.Errorf("failed to set account %d cooldown: %w", id, err)
	}

	s.logger.Debug("account cooldown set",
		slog.Int64("account_id", id),
		slog.Time("cooldown_until", until))
	return nil
}

// QuarantineAccount takes the account out of rotation permanently:
// banned/forbidden status plus the operator-active flag dropped.
// Only an operator re-enables it.
func (s *Store) QuarantineAccount(ctx context.Context, id int64, status AccountStatus, note string) error {
	query := `
		UPDATE accounts
		SET status = $2, is_active = FALSE, cooldown_until = NULL, last_error = $3, updated_at = now()
		WHERE id = $1
	`

	if _, err := s.db.ExecContext(ctx, query, id, status, s.truncateNote(note)); err != nil {
		return fmt.Errorf("failed to quarantine account %d: %w", id, err)
	}

	s.logger.Warn("account quarantined",
		slog.Int64("account_id", id),
		slog.String("status", string(status)))
	return nil
}

// MarkAccountUsed stamps last_used_at for LRU rotation. Called only
// after a successful parse.
func (s *Store) MarkAccountUsed(ctx context.Context, id int64, now time.Time) error {
	query := `
		UPDATE accounts
		SET last_used_at = $2, updated_at = $2
		WHERE id = $1
	`

	if _, err := s.db.ExecContext(ctx, query, id, now); err != nil {
		return fmt.Errorf("failed to mark account %d used: %w", id, err)
	}
	return nil
}

// RemoveAccount soft-deletes: the row survives for audit, but the
// account can never be selected again and its session is dropped.
func (s *Store) RemoveAccount(ctx context.Context, id int64) error {
	query := `
		UPDATE accounts
		SET is_active = FALSE, status = $2, session_string = '', updated_at = now()
		WHERE id = $1
	`

	if _, err := s.db.ExecContext(ctx, query, id, AccountForbidden); err != nil {
		return fmt.Errorf("failed to remove account %d: %w", id, err)
	}
	return nil
}

// AccountStatusCounts summarizes active-account statuses for tick telemetry.
type AccountStatusCounts struct {
	Total        int
	AuthRequired int
	Cooldown     int
	Banned       int
	Error        int
}

// CountAccountStatuses tallies statuses across operator-enabled accounts.
func (s *Store) CountAccountStatuses(ctx context.Context) (AccountStatusCounts, error) {
	query := `
		SELECT status, COUNT(*)
		FROM accounts
		WHERE is_active = TRUE
		GROUP BY status
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return AccountStatusCounts{}, fmt.Errorf("failed to count account statuses: %w", err)
	}
	defer rows.Close()

	var counts AccountStatusCounts
	for rows.Next() {
		var status AccountStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return AccountStatusCounts{}, fmt.Errorf("failed to scan status count: %w", err)
		}

		counts.Total += n
		switch status {
		case AccountAuthRequired:
			counts.AuthRequired = n
		case AccountCooldown:
			counts.Cooldown = n
		case AccountBanned:
			counts.Banned = n
		case AccountError:
			counts.Error = n
		}
	}
	if err := rows.Err(); err != nil {
		return AccountStatusCounts{}, fmt.Errorf("error iterating status counts: %w", err)
	}

	return counts, nil
}

// UpsertAccountParams is the onboarding payload for seed tooling.
type UpsertAccountParams struct {
	Label            string
	PhoneNumber      string
	OnboardingMethod string
	SessionString    string
	APIID            int
	APIHash          string
	ProxyURL         string
}

// UpsertAccountByPhone inserts or refreshes an account row keyed by
// phone number. Returns the row id and whether it was created.
func (s *Store) UpsertAccountByPhone(ctx context.Context, p UpsertAccountParams) (int64, bool, error) {
	label := p.Label
	if label == "" {
		label = p.PhoneNumber
	}

	var id int64
	var created bool

	query := `
		SELECT id FROM accounts WHERE phone_number = $1 ORDER BY id ASC LIMIT 1
	`
	err := s.db.QueryRowContext(ctx, query, p.PhoneNumber).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		insert := `
			INSERT INTO accounts (label, phone_number, onboarding_method, is_active, status,
			                      session_string, api_id, api_hash, proxy_url)
			VALUES ($1, $2, $3, TRUE, $4, $5, NULLIF($6, 0), NULLIF($7, ''), $8)
			RETURNING id
		`
		if err := s.db.QueryRowContext(ctx, insert, label, p.PhoneNumber, p.OnboardingMethod,
			AccountActive, p.SessionString, p.APIID, p.APIHash, p.ProxyURL).Scan(&id); err != nil {
			return 0, false, fmt.Errorf("failed to insert account: %w", err)
		}
		created = true
	case err != nil:
		return 0, false, fmt.Errorf("failed to look up account by phone: %w", err)
	default:
		update := `
			UPDATE accounts
			SET label = $2, onboarding_method = $3, is_active = TRUE, status = $4,
			    session_string = $5, api_id = NULLIF($6, 0), api_hash = NULLIF($7, ''),
			    proxy_url = $8, last_error = '', cooldown_until = NULL, updated_at = now()
			WHERE id = $1
		`
		if _, err := s.db.ExecContext(ctx, update, id, label, p.OnboardingMethod,
			AccountActive, p.SessionString, p.APIID, p.APIHash, p.ProxyURL); err != nil {
			return 0, false, fmt.Errorf("failed to update account: %w", err)
		}
	}

	s.logger.Info("account upserted",
		slog.Int64("account_id", id),
		slog.Bool("created", created),
		slog.String("phone", p.PhoneNumber))
	return id, created, nil
}
