// Package selector routes a channel to one ready account: LRU rotation
// with a membership preference for private channels. Ranking is a pure
// function over in-memory rows; the fleet is tens of accounts, so there
// is no reason to push ordering into SQL.
package selector

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/Comrade19632/tgParser/internal/logger"
	"github.com/Comrade19632/tgParser/internal/store"
)

// Store is the read slice the selector needs.
type Store interface {
	ListActiveAccounts(ctx context.Context) ([]store.Account, error)
	ListChannelMemberships(ctx context.Context, channelID int64) ([]store.Membership, error)
}

type Selector struct {
	logger *logger.Logger
	store  Store
	now    func() time.Time
}

// Pick is one routing decision. A nil Account means no candidate; the
// Reason says why.
type Pick struct {
	Account *store.Account
	Reason  string
}

func New(log *logger.Logger, st Store) *Selector {
	return &Selector{
		logger: log.WithComponent("selector"),
		store:  st,
		now:    time.Now,
	}
}

// Ready is the selection predicate: operator-enabled, healthy, out of
// cooldown, and holding a session capability.
func Ready(acc store.Account, now time.Time) bool {
	if !acc.IsActive {
		return false
	}
	if acc.Status != store.AccountActive {
		return false
	}
	if acc.CooldownUntil != nil && acc.CooldownUntil.After(now) {
		return false
	}
	if acc.SessionString == "" {
		return false
	}
	return true
}

// Rank orders the ready candidates for a channel and returns the best,
// or nil. Sort keys: joined membership first (private channels only),
// then last_used_at ascending with never-used first, then id.
func Rank(accounts []store.Account, memberships []store.Membership, ch store.Channel, excluded map[int64]struct{}, now time.Time) *store.Account {
	byAccount := make(map[int64]store.MembershipStatus, len(memberships))
	for _, m := range memberships {
		byAccount[m.AccountID] = m.Status
	}

	var candidates []store.Account
	for _, acc := range accounts {
		if _, skip := excluded[acc.ID]; skip {
			continue
		}
		if !Ready(acc, now) {
			continue
		}
		if ch.Type == store.ChannelPrivate && byAccount[acc.ID] == store.MembershipForbidden {
			continue
		}
		candidates = append(candidates, acc)
	}
	if len(candidates) == 0 {
		return nil
	}

	joinedRank := func(acc store.Account) int {
		if ch.Type == store.ChannelPrivate && byAccount[acc.ID] == store.MembershipJoined {
			return 0
		}
		return 1
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if ra, rb := joinedRank(a), joinedRank(b); ra != rb {
			return ra < rb
		}
		switch {
		case a.LastUsedAt == nil && b.LastUsedAt != nil:
			return true
		case a.LastUsedAt != nil && b.LastUsedAt == nil:
			return false
		case a.LastUsedAt != nil && b.LastUsedAt != nil && !a.LastUsedAt.Equal(*b.LastUsedAt):
			return a.LastUsedAt.Before(*b.LastUsedAt)
		}
		return a.ID < b.ID
	})

	best := candidates[0]
	return &best
}

// Pick selects one account for the channel, skipping the excluded set.
func (s *Selector) Pick(ctx context.Context, ch store.Channel, excluded map[int64]struct{}) (Pick, error) {
	accounts, err := s.store.ListActiveAccounts(ctx)
	if err != nil {
		return Pick{}, err
	}

	var memberships []store.Membership
	if ch.Type == store.ChannelPrivate {
		memberships, err = s.store.ListChannelMemberships(ctx, ch.ID)
		if err != nil {
			return Pick{}, err
		}
	}

	acc := Rank(accounts, memberships, ch, excluded, s.now().UTC())
	if acc == nil {
		return Pick{Reason: "no_ready_accounts"}, nil
	}

	s.logger.Debug("account picked",
		slog.Int64("channel_id", ch.ID),
		slog.Int64("account_id", acc.ID))
	return Pick{Account: acc, Reason: "picked"}, nil
}
