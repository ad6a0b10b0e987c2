package upstream

import (
	"errors"
	"fmt"
	"time"
)

// Kind tags an upstream failure so core components can switch on it
// instead of matching error strings.
type Kind string

const (
	// KindFloodWait is a rate limit with an explicit wait duration.
	KindFloodWait Kind = "flood_wait"
	// KindFrozen is the FROZEN_METHOD_INVALID family: the account was
	// frozen by Telegram and must be quarantined as banned.
	KindFrozen Kind = "frozen"
	// KindPhoneBanned covers PHONE_NUMBER_BANNED and USER_DEACTIVATED_BAN.
	KindPhoneBanned Kind = "phone_banned"
	// KindDeactivated is USER_DEACTIVATED: quarantine as forbidden.
	KindDeactivated Kind = "deactivated"
	// KindChannelForbidden is the channel-level forbidden family
	// (CHANNEL_PRIVATE, CHAT_ADMIN_REQUIRED, USER_BANNED_IN_CHANNEL,
	// USER_NOT_PARTICIPANT, CHAT_WRITE_FORBIDDEN).
	KindChannelForbidden Kind = "channel_forbidden"
	// KindNotFound is an unresolved username or peer.
	KindNotFound Kind = "not_found"
	// KindFlood is a flood-family error without a wait duration.
	KindFlood Kind = "flood"
	// KindRPC is any other upstream RPC error.
	KindRPC Kind = "rpc"
)

// Error is a classified upstream failure. Code carries the raw upstream
// error type (e.g. FLOOD_WAIT) for notes and logs.
type Error struct {
	Kind       Kind
	Code       string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Kind == KindFloodWait {
		return fmt.Sprintf("upstream: FloodWait %ds", int(e.RetryAfter.Seconds()))
	}
	if e.Code != "" {
		return fmt.Sprintf("upstream: %s (%s)", e.Code, e.Kind)
	}
	return fmt.Sprintf("upstream: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// AsError extracts a classified upstream error from an error chain.
func AsError(err error) (*Error, bool) {
	var uerr *Error
	if errors.As(err, &uerr) {
		return uerr, true
	}
	return nil, false
}

// ConfigError means an account lacks the upstream app identity
// (api_id/api_hash) needed to build a client. It aborts the current
// pass: the problem is configuration, not this one account's health.
type ConfigError struct {
	AccountID int64
	Reason    string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("upstream config error (account %d): %s", e.AccountID, e.Reason)
}

// IsConfigError reports whether the chain contains a ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}
