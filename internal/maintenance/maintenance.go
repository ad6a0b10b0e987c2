// Package maintenance runs the best-effort membership cycle: advance
// pending join requests once approvals land, sanity-check joined
// memberships, and retry errored ones, all under backoff windows so
// the fleet never hammers the dialog list.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/Comrade19632/tgParser/internal/joiner"
	"github.com/Comrade19632/tgParser/internal/logger"
	"github.com/Comrade19632/tgParser/internal/policy"
	"github.com/Comrade19632/tgParser/internal/selector"
	"github.com/Comrade19632/tgParser/internal/store"
	"github.com/Comrade19632/tgParser/internal/upstream"
)

type Store interface {
	ListActiveChannels(ctx context.Context) ([]store.Channel, error)
	ListActiveAccounts(ctx context.Context) ([]store.Account, error)
	GetMembership(ctx context.Context, accountID, channelID int64) (*store.Membership, error)
	ChannelHasPendingJoin(ctx context.Context, channelID int64) (bool, error)
	UpsertMembership(ctx context.Context, accountID, channelID int64, status store.MembershipStatus, note string, now time.Time) error
	SetAccountCooldown(ctx context.Context, id int64, until time.Time, note string) error
	UpdateAccountHealth(ctx context.Context, id int64, status store.AccountStatus, lastError string, cooldownUntil *time.Time) error
}

type Pool interface {
	WithConnected(ctx context.Context, acc store.Account, body func(upstream.Client) error) error
}

type JoinService interface {
	EnsureJoined(ctx context.Context, client upstream.Client, ch store.Channel, force bool) joiner.Result
}

type DialogResolver interface {
	FromDialogs(ctx context.Context, client upstream.Client, ch store.Channel) (*upstream.Entity, error)
}

type Summary struct {
	ChannelsTotal          int
	ChannelsTouched        int
	MembershipsUpdated     int
	AccountsCooldownMarked int
}

type Pass struct {
	logger      *logger.Logger
	store       Store
	pool        Pool
	joiner      JoinService
	dialogs     DialogResolver
	pol         policy.Policy
	maxChannels int
	now         func() time.Time
}

func New(log *logger.Logger, st Store, p Pool, jn JoinService, dr DialogResolver, pol policy.Policy, maxChannels int) *Pass {
	return &Pass{
		logger:      log.WithComponent("maintenance"),
		store:       st,
		pool:        p,
		joiner:      jn,
		dialogs:     dr,
		pol:         pol,
		maxChannels: maxChannels,
		now:         time.Now,
	}
}

// floodNoteRe matches the note format the join service emits.
var floodNoteRe = regexp.MustCompile(`FloodWait (\d+)s`)

func parseFloodWaitNote(note string) (time.Duration, bool) {
	m := floodNoteRe.FindStringSubmatch(note)
	if m == nil {
		return 0, false
	}
	seconds, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}

func due(lastChecked *time.Time, every time.Duration, now time.Time) bool {
	if lastChecked == nil {
		return true
	}
	return !lastChecked.Add(every).After(now)
}

// Run walks up to maxChannels active channels with the first ready
// account. Upstream failures are logged and skipped; store failures
// fail the tick.
func (p *Pass) Run(ctx context.Context) (Summary, error) {
	now := p.now().UTC()

	channels, err := p.store.ListActiveChannels(ctx)
	if err != nil {
		return Summary{}, err
	}
	if p.maxChannels > 0 && len(channels) > p.maxChannels {
		channels = channels[:p.maxChannels]
	}

	accounts, err := p.store.ListActiveAccounts(ctx)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{ChannelsTotal: len(channels)}
	if len(channels) == 0 || len(accounts) == 0 {
		return summary, nil
	}

	for _, ch := range channels {
		// The parser already rotates accounts; here the first ready
		// one is enough for a dialog peek or a single join retry.
		var acc *store.Account
		for i := range accounts {
			if selector.Ready(accounts[i], now) {
				acc = &accounts[i]
				break
			}
		}
		if acc == nil {
			continue
		}

		summary.ChannelsTouched++
		if err := p.maintainChannel(ctx, *acc, ch, now, &summary); err != nil {
			return summary, err
		}
	}

	p.logger.Info("membership maintenance finished",
		slog.Int("channels_total", summary.ChannelsTotal),
		slog.Int("channels_touched", summary.ChannelsTouched),
		slog.Int("memberships_updated", summary.MembershipsUpdated),
		slog.Int("cooldowns_marked", summary.AccountsCooldownMarked))
	return summary, nil
}

func (p *Pass) maintainChannel(ctx context.Context, acc store.Account, ch store.Channel, now time.Time, summary *Summary) error {
	m, err := p.store.GetMembership(ctx, acc.ID, ch.ID)
	if err != nil {
		return err
	}

	status := store.MembershipUnknown
	var lastChecked *time.Time
	if m != nil {
		status = m.Status
		lastChecked = m.LastCheckedAt
	}

	switch {
	case status.Pending():
		return p.recheckPending(ctx, acc, ch, lastChecked, now, summary)

	case status == store.MembershipJoined:
		return p.refreshJoined(ctx, acc, ch, lastChecked, now, summary)

	case status == store.MembershipForbidden:
		return nil

	default: // unknown or error
		if status == store.MembershipError && !due(lastChecked, p.pol.ErrorRetry, now) {
			return nil
		}
		return p.retryJoin(ctx, acc, ch, now, summary)
	}
}

// recheckPending looks for the channel in dialogs: an approval shows up
// there. The invite is never re-imported while a request is pending.
func (p *Pass) recheckPending(ctx context.Context, acc store.Account, ch store.Channel, lastChecked *time.Time, now time.Time, summary *Summary) error {
	if !due(lastChecked, p.pol.JoinRequestRecheck, now) {
		return nil
	}

	var entity *upstream.Entity
	err := p.pool.WithConnected(ctx, acc, func(client upstream.Client) error {
		var err error
		entity, err = p.dialogs.FromDialogs(ctx, client, ch)
		return err
	})
	if err != nil {
		return p.absorbUpstream(ctx, acc, ch, err, "dialogs recheck", now, summary)
	}

	if entity != nil {
		if err := p.store.UpsertMembership(ctx, acc.ID, ch.ID, store.MembershipJoined, "entity found in dialogs (approved)", now); err != nil {
			return err
		}
		summary.MembershipsUpdated++
	}
	return nil
}

// refreshJoined re-verifies dialog visibility. A miss is flagged as an
// error membership, never silently downgraded.
func (p *Pass) refreshJoined(ctx context.Context, acc store.Account, ch store.Channel, lastChecked *time.Time, now time.Time, summary *Summary) error {
	if !due(lastChecked, p.pol.JoinedRefresh, now) {
		return nil
	}

	var entity *upstream.Entity
	err := p.pool.WithConnected(ctx, acc, func(client upstream.Client) error {
		var err error
		entity, err = p.dialogs.FromDialogs(ctx, client, ch)
		return err
	})
	if err != nil {
		return p.absorbUpstream(ctx, acc, ch, err, "joined refresh", now, summary)
	}

	if entity == nil {
		if err := p.store.UpsertMembership(ctx, acc.ID, ch.ID, store.MembershipError, "joined previously but missing from dialogs", now); err != nil {
			return err
		}
		summary.MembershipsUpdated++
	}
	return nil
}

func (p *Pass) retryJoin(ctx context.Context, acc store.Account, ch store.Channel, now time.Time, summary *Summary) error {
	pending, err := p.store.ChannelHasPendingJoin(ctx, ch.ID)
	if err != nil {
		return err
	}
	if pending {
		return nil
	}

	var res joiner.Result
	var unauthorized bool
	err = p.pool.WithConnected(ctx, acc, func(client upstream.Client) error {
		ok, err := client.IsAuthorized(ctx)
		if err != nil {
			return err
		}
		if !ok {
			unauthorized = true
			return nil
		}
		res = p.joiner.EnsureJoined(ctx, client, ch, false)
		return nil
	})
	if err != nil {
		return p.absorbUpstream(ctx, acc, ch, err, "join retry", now, summary)
	}

	if unauthorized {
		// Stop the selector from picking this account until re-auth.
		return p.store.UpdateAccountHealth(ctx, acc.ID, store.AccountAuthRequired, "session is not authorized", nil)
	}

	status := store.MembershipError
	switch res.AccessStatus {
	case store.ChannelAccessJoined, store.ChannelAccessActive:
		status = store.MembershipJoined
	case store.ChannelAccessJoinRequested:
		status = store.MembershipJoinRequested
	case store.ChannelAccessPendingApproval:
		status = store.MembershipPendingApproval
	case store.ChannelAccessForbidden:
		status = store.MembershipForbidden
	}
	if err := p.store.UpsertMembership(ctx, acc.ID, ch.ID, status, res.Note, now); err != nil {
		return err
	}
	summary.MembershipsUpdated++

	if wait, ok := parseFloodWaitNote(res.Note); ok {
		if err := p.store.SetAccountCooldown(ctx, acc.ID, now.Add(wait), res.Note); err != nil {
			return err
		}
		summary.AccountsCooldownMarked++
	}
	return nil
}

// absorbUpstream turns an upstream failure into a log line (plus a
// cooldown for flood waits). Store errors pass through untouched.
func (p *Pass) absorbUpstream(ctx context.Context, acc store.Account, ch store.Channel, err error, op string, now time.Time, summary *Summary) error {
	var uerr *upstream.Error
	if errors.As(err, &uerr) && uerr.Kind == upstream.KindFloodWait {
		note := fmt.Sprintf("FloodWait %ds during %s", int(uerr.RetryAfter.Seconds()), op)
		if serr := p.store.SetAccountCooldown(ctx, acc.ID, now.Add(uerr.RetryAfter), note); serr != nil {
			return serr
		}
		summary.AccountsCooldownMarked++
		return nil
	}

	p.logger.Warn("membership maintenance step failed",
		slog.String("op", op),
		slog.Int64("channel_id", ch.ID),
		slog.Int64("account_id", acc.ID),
		slog.Any("error", err))
	return nil
}
