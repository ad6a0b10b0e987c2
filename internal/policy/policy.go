package policy

import "time"

// Policy holds the durations and caps that govern the harvest pipeline.
// Values are deployment-wide; per-channel knobs live on the channel rows.
type Policy struct {
	// JoinRequestRecheck is how long a pending join request rests before
	// the maintenance pass rechecks dialogs for approval.
	JoinRequestRecheck time.Duration
	// ErrorRetry is the cooldown before an errored membership is retried.
	ErrorRetry time.Duration
	// JoinedRefresh is how often a joined membership is re-verified
	// against the account's dialog list.
	JoinedRefresh time.Duration
	// LockRefresh is the cadence of tick lock TTL refreshes.
	LockRefresh time.Duration

	// AttemptCap bounds how many accounts are tried per channel per tick.
	AttemptCap int
	// DialogPageLimit is the page size for dialog listing.
	DialogPageLimit int
	// FreshChannelLimit is how many messages a fresh channel without
	// backfill gets on its first pass.
	FreshChannelLimit int
	// BackfillPageCap bounds a single backfill sweep.
	BackfillPageCap int
	// LastErrorLimit truncates stored last_error text.
	LastErrorLimit int
}

// Default returns the stock policy.
func Default() Policy {
	return Policy{
		JoinRequestRecheck: 6 * time.Hour,
		ErrorRetry:         30 * time.Minute,
		JoinedRefresh:      24 * time.Hour,
		LockRefresh:        30 * time.Second,
		AttemptCap:         8,
		DialogPageLimit:    200,
		FreshChannelLimit:  20,
		BackfillPageCap:    2000,
		LastErrorLimit:     5000,
	}
}

// FileConfig is the YAML shape for policy overrides. Nil fields keep
// the default.
type FileConfig struct {
	JoinRequestRecheckHours *int `yaml:"join_request_recheck_hours"`
	ErrorRetryMinutes       *int `yaml:"error_retry_minutes"`
	JoinedRefreshHours      *int `yaml:"joined_refresh_hours"`
	LockRefreshSeconds      *int `yaml:"lock_refresh_seconds"`
	AttemptCap              *int `yaml:"attempt_cap"`
	DialogPageLimit         *int `yaml:"dialog_page_limit"`
	FreshChannelLimit       *int `yaml:"fresh_channel_limit"`
	BackfillPageCap         *int `yaml:"backfill_page_cap"`
	LastErrorLimit          *int `yaml:"last_error_limit"`
}

// Merge applies non-nil file overrides on top of p and returns the result.
func (p Policy) Merge(fc *FileConfig) Policy {
	if fc == nil {
		return p
	}
	if fc.JoinRequestRecheckHours != nil {
		p.JoinRequestRecheck = time.Duration(*fc.JoinRequestRecheckHours) * time.Hour
	}
	if fc.ErrorRetryMinutes != nil {
		p.ErrorRetry = time.Duration(*fc.ErrorRetryMinutes) * time.Minute
	}
	if fc.JoinedRefreshHours != nil {
		p.JoinedRefresh = time.Duration(*fc.JoinedRefreshHours) * time.Hour
	}
	if fc.LockRefreshSeconds != nil {
		p.LockRefresh = time.Duration(*fc.LockRefreshSeconds) * time.Second
	}
	if fc.AttemptCap != nil {
		p.AttemptCap = *fc.AttemptCap
	}
	if fc.DialogPageLimit != nil {
		p.DialogPageLimit = *fc.DialogPageLimit
	}
	if fc.FreshChannelLimit != nil {
		p.FreshChannelLimit = *fc.FreshChannelLimit
	}
	if fc.BackfillPageCap != nil {
		p.BackfillPageCap = *fc.BackfillPageCap
	}
	if fc.LastErrorLimit != nil {
		p.LastErrorLimit = *fc.LastErrorLimit
	}
	return p
}
