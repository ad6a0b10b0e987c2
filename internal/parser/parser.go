// Package parser implements the per-channel harvest pipeline: route the
// channel to an account, resolve the entity, ensure membership, fetch
// messages past the cursor, and commit them idempotently.
package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Comrade19632/tgParser/internal/joiner"
	"github.com/Comrade19632/tgParser/internal/logger"
	"github.com/Comrade19632/tgParser/internal/metrics"
	"github.com/Comrade19632/tgParser/internal/policy"
	"github.com/Comrade19632/tgParser/internal/selector"
	"github.com/Comrade19632/tgParser/internal/store"
	"github.com/Comrade19632/tgParser/internal/upstream"
)

// Store is the slice of the state store the engine reads and writes.
type Store interface {
	ListActiveChannels(ctx context.Context) ([]store.Channel, error)
	GetChannel(ctx context.Context, id int64) (*store.Channel, error)
	GetMembership(ctx context.Context, accountID, channelID int64) (*store.Membership, error)
	ChannelHasPendingJoin(ctx context.Context, channelID int64) (bool, error)
	UpsertMembership(ctx context.Context, accountID, channelID int64, status store.MembershipStatus, note string, now time.Time) error
	UpdateChannelJoinOutcome(ctx context.Context, id int64, status store.ChannelAccessStatus, note string, ok bool, title string, peerID int64) error
	MarkChannelFailed(ctx context.Context, id int64, lastError string, forbidden bool) error
	HasPosts(ctx context.Context, channelID int64) (bool, error)
	CommitParse(ctx context.Context, channelID int64, posts []store.Post, cursor int64) (int, error)
	MarkAccountUsed(ctx context.Context, id int64, now time.Time) error
	SetAccountCooldown(ctx context.Context, id int64, until time.Time, note string) error
	QuarantineAccount(ctx context.Context, id int64, status store.AccountStatus, note string) error
}

type AccountPicker interface {
	Pick(ctx context.Context, ch store.Channel, excluded map[int64]struct{}) (selector.Pick, error)
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

type Notifier interface {
	NotifyOperator(ctx context.Context, text string)
	NotifyTeam(ctx context.Context, text string)
}

// skipAccount tells the attempt loop to exclude the account and move
// on; it is not a failure worth a note.
var skipAccount = errors.New("skip account")

// fatalError marks store failures that must fail the tick rather than
// rotate to another account.
type fatalError struct{ err error }

func (f fatalError) Error() string { return f.err.Error() }
func (f fatalError) Unwrap() error { return f.err }

func fatal(err error) error { return fatalError{err: err} }

// Summary feeds the tick telemetry.
type Summary struct {
	ChannelsTotal            int
	ChannelsChecked          int
	ChannelsSkippedNoAccount int
	PostsInserted            int
}

type Engine struct {
	logger   *logger.Logger
	store    Store
	pool     Pool
	selector AccountPicker
	joiner   JoinService
	dialogs  DialogResolver
	notifier Notifier
	metrics  *metrics.Metrics
	pol      policy.Policy
	now      func() time.Time
}

func New(log *logger.Logger, st Store, p Pool, sel AccountPicker, jn JoinService, dr DialogResolver, nt Notifier, m *metrics.Metrics, pol policy.Policy) *Engine {
	return &Engine{
		logger:   log.WithComponent("parser"),
		store:    st,
		pool:     p,
		selector: sel,
		joiner:   jn,
		dialogs:  dr,
		notifier: nt,
		metrics:  m,
		pol:      pol,
		now:      time.Now,
	}
}

// Run parses every actionable channel once. Channels are processed in
// id order, each one fully serial. A ConfigError aborts the pass but
// not the tick; store errors fail the tick.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	now := e.now().UTC()

	channels, err := e.store.ListActiveChannels(ctx)
	if err != nil {
		return Summary{}, err
	}

	var actionable []store.Channel
	for _, ch := range channels {
		if ch.AccessStatus == store.ChannelAccessForbidden {
			continue
		}
		actionable = append(actionable, ch)
	}

	summary := Summary{ChannelsTotal: len(actionable)}
	if len(actionable) == 0 {
		e.logger.Info("no actionable channels")
		return summary, nil
	}

	for _, ch := range actionable {
		summary.ChannelsChecked++

		res, err := e.parseChannel(ctx, ch, now)
		if err != nil {
			if upstream.IsConfigError(err) {
				e.logger.Warn("config error, aborting parse pass", slog.Any("error", err))
				return summary, nil
			}
			return summary, err
		}

		summary.PostsInserted += res.inserted
		if res.noAccount {
			summary.ChannelsSkippedNoAccount++
		}
	}

	e.metrics.AddChannelsChecked(summary.ChannelsChecked)
	e.metrics.AddPostsInserted(summary.PostsInserted)
	return summary, nil
}

type channelResult struct {
	inserted  int
	noAccount bool
}

func (e *Engine) parseChannel(ctx context.Context, ch store.Channel, now time.Time) (channelResult, error) {
	ctx = logger.WithChannelID(ctx, ch.ID)
	log := e.logger.WithContext(ctx)

	excluded := make(map[int64]struct{})
	parsed := false
	pickedAny := false
	lastForbidden := false
	lastNote := ""
	inserted := 0

	for attempts := 0; attempts < e.pol.AttemptCap; attempts++ {
		pick, err := e.selector.Pick(ctx, ch, excluded)
		if err != nil {
			return channelResult{}, err
		}
		if pick.Account == nil {
			break
		}
		pickedAny = true
		acc := *pick.Account
		actx := logger.WithAccountID(ctx, acc.ID)
		alog := e.logger.WithContext(actx)

		n, aerr := e.attempt(actx, acc, ch, now)
		if aerr == nil {
			parsed = true
			inserted = n
			break
		}

		if errors.Is(aerr, skipAccount) {
			excluded[acc.ID] = struct{}{}
			continue
		}

		var ferr fatalError
		if errors.As(aerr, &ferr) {
			return channelResult{}, ferr.err
		}
		if upstream.IsConfigError(aerr) {
			return channelResult{}, aerr
		}

		excluded[acc.ID] = struct{}{}
		lastForbidden = false

		uerr, ok := upstream.AsError(aerr)
		if !ok {
			lastNote = aerr.Error()
			alog.Warn("attempt failed", slog.Any("error", aerr))
			continue
		}

		lastNote = uerr.Error()
		switch uerr.Kind {
		case upstream.KindFloodWait:
			e.metrics.IncFloodWait()
			note := fmt.Sprintf("FloodWait %ds", int(uerr.RetryAfter.Seconds()))
			if err := e.store.SetAccountCooldown(ctx, acc.ID, now.Add(uerr.RetryAfter), note); err != nil {
				return channelResult{}, err
			}
			alog.Warn("account hit floodwait", slog.Duration("retry_after", uerr.RetryAfter))

		case upstream.KindPhoneBanned:
			if err := e.quarantine(ctx, acc, store.AccountBanned, "Banned: "+uerr.Code, now); err != nil {
				return channelResult{}, err
			}

		case upstream.KindDeactivated:
			if err := e.quarantine(ctx, acc, store.AccountForbidden, "Forbidden: "+uerr.Code, now); err != nil {
				return channelResult{}, err
			}

		case upstream.KindFrozen:
			if err := e.quarantine(ctx, acc, store.AccountBanned, "Frozen: "+uerr.Code, now); err != nil {
				return channelResult{}, err
			}

		case upstream.KindChannelForbidden:
			lastForbidden = true
			note := "forbidden: " + uerr.Code
			if err := e.store.UpsertMembership(ctx, acc.ID, ch.ID, store.MembershipForbidden, note, now); err != nil {
				return channelResult{}, err
			}

		default:
			alog.Warn("attempt failed", slog.Any("error", aerr))
		}
	}

	if parsed {
		return channelResult{inserted: inserted}, nil
	}

	note := "Resolve/access failed"
	if lastNote != "" {
		note = "Resolve/access failed: " + lastNote
	}
	if err := e.store.MarkChannelFailed(ctx, ch.ID, note, lastForbidden); err != nil {
		return channelResult{}, err
	}

	log.Warn("no account could parse channel", slog.String("last_error", note))
	return channelResult{noAccount: !pickedAny}, nil
}

// quarantine takes the account out of rotation and tells the operators.
func (e *Engine) quarantine(ctx context.Context, acc store.Account, status store.AccountStatus, note string, now time.Time) error {
	if err := e.store.QuarantineAccount(ctx, acc.ID, status, note); err != nil {
		return err
	}
	e.metrics.IncQuarantine()

	msg := fmt.Sprintf("⚠️ tgparser: account quarantined (%s). id=%d phone=%s note=%s",
		status, acc.ID, acc.PhoneNumber, note)
	e.notifier.NotifyOperator(ctx, msg)
	e.notifier.NotifyTeam(ctx, msg)
	return nil
}

// attempt tries to parse the channel with one account. It returns the
// inserted count on success, skipAccount when the account cannot serve
// this channel right now, a classified upstream error, or a fatal store
// error.
func (e *Engine) attempt(ctx context.Context, acc store.Account, ch store.Channel, now time.Time) (int, error) {
	inserted := 0

	err := e.pool.WithConnected(ctx, acc, func(client upstream.Client) error {
		authorized, err := client.IsAuthorized(ctx)
		if err != nil {
			return err
		}
		if !authorized {
			return skipAccount
		}

		// Re-read the channel: a previous attempt may have captured
		// peer_id or flipped access status.
		fresh, err := e.store.GetChannel(ctx, ch.ID)
		if err != nil {
			return fatal(err)
		}
		if fresh == nil {
			return skipAccount
		}
		ch := *fresh

		entity, err := e.resolveEntity(ctx, client, acc, ch, now)
		if err != nil {
			return err
		}

		if entity == nil && ch.Type == store.ChannelPrivate {
			entity, err = e.joinAndResolve(ctx, client, acc, &ch, now)
			if err != nil {
				return err
			}
		}

		if entity == nil {
			return skipAccount
		}

		inserted, err = e.harvest(ctx, client, acc, ch, *entity, now)
		return err
	})

	return inserted, err
}

// resolveEntity finds the channel entity: dialogs first for private
// channels (cheap once membership exists), then direct resolve. Public
// channels never touch the dialog list here.
func (e *Engine) resolveEntity(ctx context.Context, client upstream.Client, acc store.Account, ch store.Channel, now time.Time) (*upstream.Entity, error) {
	if ch.Type == store.ChannelPrivate {
		entity, err := e.dialogs.FromDialogs(ctx, client, ch)
		if err != nil {
			return nil, err
		}
		if entity != nil {
			// Visible in dialogs means this account is a member, e.g.
			// a join request got approved since the last tick.
			if err := e.store.UpsertMembership(ctx, acc.ID, ch.ID, store.MembershipJoined, "entity found in dialogs", now); err != nil {
				return nil, fatal(err)
			}
			return entity, nil
		}

		if ch.PeerID > 0 {
			ent, err := client.ResolvePeer(ctx, ch.PeerID)
			if err == nil {
				return &ent, nil
			}
			if uerr, ok := upstream.AsError(err); ok && uerr.Kind == upstream.KindNotFound {
				return nil, nil
			}
			return nil, err
		}
		return nil, nil
	}

	username := joiner.NormalizePublic(ch.Identifier)
	if username == "" {
		return nil, nil
	}
	ent, err := client.ResolveUsername(ctx, username)
	if err != nil {
		if uerr, ok := upstream.AsError(err); ok && uerr.Kind == upstream.KindNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &ent, nil
}

// joinAndResolve runs the private-channel join path and re-resolves the
// entity on success. The pending guardrail lives here: at most one
// account per channel may hold an outstanding join request.
func (e *Engine) joinAndResolve(ctx context.Context, client upstream.Client, acc store.Account, ch *store.Channel, now time.Time) (*upstream.Entity, error) {
	m, err := e.store.GetMembership(ctx, acc.ID, ch.ID)
	if err != nil {
		return nil, fatal(err)
	}
	if m != nil && m.Status.Pending() {
		return nil, skipAccount
	}

	pending, err := e.store.ChannelHasPendingJoin(ctx, ch.ID)
	if err != nil {
		return nil, fatal(err)
	}
	if pending {
		e.logger.WithContext(ctx).Info("join skipped, another account is pending")
		return nil, skipAccount
	}

	res := e.joiner.EnsureJoined(ctx, client, *ch, false)

	if err := e.store.UpsertMembership(ctx, acc.ID, ch.ID, membershipFromAccess(res.AccessStatus), res.Note, now); err != nil {
		return nil, fatal(err)
	}

	var title string
	var peerID int64
	if res.Entity != nil {
		title = res.Entity.Title
		peerID = res.Entity.ID
	}
	if err := e.store.UpdateChannelJoinOutcome(ctx, ch.ID, res.AccessStatus, res.Note, res.OK, title, peerID); err != nil {
		return nil, fatal(err)
	}

	if !res.OK {
		return nil, nil
	}
	if res.Entity != nil {
		return res.Entity, nil
	}

	fresh, err := e.store.GetChannel(ctx, ch.ID)
	if err != nil {
		return nil, fatal(err)
	}
	if fresh != nil {
		*ch = *fresh
	}
	return e.dialogs.FromDialogs(ctx, client, *ch)
}

// harvest fetches messages past the cursor and commits them.
func (e *Engine) harvest(ctx context.Context, client upstream.Client, acc store.Account, ch store.Channel, entity upstream.Entity, now time.Time) (int, error) {
	cursor := ch.CursorMessageID

	// A cursor without posts means a previous run advanced it without
	// inserting (or posts were wiped). Re-parse from scratch instead of
	// looping on "0 inserted" forever.
	if cursor > 0 {
		has, err := e.store.HasPosts(ctx, ch.ID)
		if err != nil {
			return 0, fatal(err)
		}
		if !has {
			cursor = 0
		}
	}

	var req upstream.HistoryRequest
	var backfillSince time.Time
	mode := "incremental"

	switch {
	case cursor <= 0 && ch.BackfillDays > 0:
		backfillSince = now.AddDate(0, 0, -ch.BackfillDays)
		req = upstream.HistoryRequest{Limit: e.pol.BackfillPageCap}
		mode = "backfill"
	case cursor <= 0:
		req = upstream.HistoryRequest{Limit: e.pol.FreshChannelLimit}
		mode = "first"
	default:
		req = upstream.HistoryRequest{MinID: cursor, Reverse: true}
	}

	maxSeen := cursor
	var posts []store.Post

	err := client.History(ctx, entity, req, func(msg upstream.Message) (bool, error) {
		published := msg.Date
		if published.IsZero() {
			published = now
		}
		published = published.UTC()

		if !backfillSince.IsZero() && published.Before(backfillSince) {
			// Backfill walks newest-first; past the threshold means done.
			return false, nil
		}

		text := strings.TrimSpace(msg.Text)
		if text == "" {
			return true, nil
		}
		if msg.ID <= cursor {
			return true, nil
		}

		if msg.ID > maxSeen {
			maxSeen = msg.ID
		}
		posts = append(posts, store.Post{
			ChannelID:   ch.ID,
			MessageID:   msg.ID,
			OriginalURL: buildMessageURL(ch, entity, msg.ID),
			PublishedAt: published,
			Text:        text,
			CreatedAt:   now,
		})
		return true, nil
	})
	if err != nil {
		return 0, err
	}

	inserted, err := e.store.CommitParse(ctx, ch.ID, posts, maxSeen)
	if err != nil {
		return 0, fatal(err)
	}

	if err := e.store.UpsertMembership(ctx, acc.ID, ch.ID, store.MembershipJoined, "parsed_ok", now); err != nil {
		return 0, fatal(err)
	}
	if err := e.store.MarkAccountUsed(ctx, acc.ID, now); err != nil {
		return 0, fatal(err)
	}

	e.logger.WithContext(ctx).Info("channel parsed",
		slog.String("mode", mode),
		slog.Int64("cursor_from", cursor),
		slog.Int64("cursor_to", maxSeen),
		slog.Int("fetched", len(posts)),
		slog.Int("inserted", inserted))
	return inserted, nil
}

func buildMessageURL(ch store.Channel, entity upstream.Entity, messageID int64) string {
	username := entity.Username
	if username == "" && ch.Type == store.ChannelPublic {
		username = joiner.NormalizePublic(ch.Identifier)
	}
	if username != "" {
		return fmt.Sprintf("https://t.me/%s/%d", username, messageID)
	}
	if entity.ID > 0 {
		return fmt.Sprintf("https://t.me/c/%d/%d", entity.ID, messageID)
	}
	return ""
}

func membershipFromAccess(status store.ChannelAccessStatus) store.MembershipStatus {
	switch status {
	case store.ChannelAccessJoined:
		return store.MembershipJoined
	case store.ChannelAccessJoinRequested:
		return store.MembershipJoinRequested
	case store.ChannelAccessPendingApproval:
		return store.MembershipPendingApproval
	case store.ChannelAccessForbidden:
		return store.MembershipForbidden
	default:
		return store.MembershipError
	}
}
