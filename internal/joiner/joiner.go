// Package joiner ensures channel membership for an account. It never
// writes to the store; callers commit the outcome to channel and
// membership rows.
package joiner

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/Comrade19632/tgParser/internal/logger"
	"github.com/Comrade19632/tgParser/internal/store"
	"github.com/Comrade19632/tgParser/internal/upstream"
)

var (
	inviteRe = regexp.MustCompile(`(?:https?://)?t\.me/(?:\+|joinchat/)([A-Za-z0-9_-]+)`)
	bareHash = regexp.MustCompile(`^[A-Za-z0-9_-]{8,}$`)
	publicRe = regexp.MustCompile(`^[A-Za-z0-9_]{4,64}$`)
)

// ExtractInviteHash accepts a bare hash, t.me/+HASH or t.me/joinchat/HASH
// (with or without scheme) and returns the hash, or "" when invalid.
func ExtractInviteHash(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if m := inviteRe.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	if !strings.Contains(raw, "/") && !strings.HasPrefix(raw, "+") && bareHash.MatchString(raw) {
		return raw
	}
	return ""
}

// NormalizePublic turns @username, t.me/username or a bare username
// into a lowercase username, or "" when invalid.
func NormalizePublic(raw string) string {
	t := strings.TrimSpace(raw)
	if t == "" {
		return ""
	}

	if idx := strings.Index(t, "t.me/"); idx >= 0 {
		t = t[idx+len("t.me/"):]
		if slash := strings.IndexByte(t, '/'); slash >= 0 {
			t = t[:slash]
		}
	}
	t = strings.TrimPrefix(t, "@")

	if !publicRe.MatchString(t) {
		return ""
	}
	return strings.ToLower(t)
}

// Result of a join attempt. OK means the channel is parsable with this
// account right now; Entity is best-effort (nil when the join path did
// not surface one). Note is safe to show to operators.
type Result struct {
	OK           bool
	Entity       *upstream.Entity
	AccessStatus store.ChannelAccessStatus
	Note         string
}

type Joiner struct {
	logger *logger.Logger
}

func New(log *logger.Logger) *Joiner {
	return &Joiner{logger: log.WithComponent("joiner")}
}

// EnsureJoined makes the account a member of the channel.
//
// Channel access_status is global while membership is per-account, so
// private channels never short-circuit on it: a second account must
// still import the invite for itself. Public channels do short-circuit
// (membership is not required to read them once resolved).
func (j *Joiner) EnsureJoined(ctx context.Context, client upstream.Client, ch store.Channel, force bool) Result {
	if !force && ch.Type == store.ChannelPublic &&
		(ch.AccessStatus == store.ChannelAccessJoined || ch.AccessStatus == store.ChannelAccessActive) {
		return Result{OK: true, AccessStatus: ch.AccessStatus}
	}

	if ch.Type == store.ChannelPublic {
		return j.joinPublic(ctx, client, ch)
	}
	return j.joinPrivate(ctx, client, ch)
}

func (j *Joiner) joinPublic(ctx context.Context, client upstream.Client, ch store.Channel) Result {
	username := NormalizePublic(ch.Identifier)
	if username == "" {
		return Result{AccessStatus: store.ChannelAccessError, Note: "empty public channel identifier"}
	}

	entity, err := client.ResolveUsername(ctx, username)
	if err != nil {
		return resultFromError(err)
	}

	_, joined, err := client.JoinChannel(ctx, entity)
	if err != nil {
		return resultFromError(err)
	}
	if joined != nil {
		entity = *joined
	}

	return Result{
		OK:           true,
		Entity:       &entity,
		AccessStatus: store.ChannelAccessJoined,
		Note:         "joined public channel",
	}
}

func (j *Joiner) joinPrivate(ctx context.Context, client upstream.Client, ch store.Channel) Result {
	hash := ExtractInviteHash(ch.Identifier)
	if hash == "" {
		return Result{AccessStatus: store.ChannelAccessError, Note: "invalid invite link/hash"}
	}

	outcome, entity, err := client.ImportInvite(ctx, hash)
	if err != nil {
		return resultFromError(err)
	}

	switch outcome {
	case upstream.AlreadyParticipant:
		return Result{OK: true, AccessStatus: store.ChannelAccessJoined, Note: "already participant"}
	case upstream.InviteRequestSent:
		// An approval request now exists; re-importing the invite
		// would spam the channel admins.
		j.logger.Info("invite request sent", slog.Int64("channel_id", ch.ID))
		return Result{
			AccessStatus: store.ChannelAccessJoinRequested,
			Note:         "join request sent (pending approval)",
		}
	}

	return Result{
		OK:           true,
		Entity:       entity,
		AccessStatus: store.ChannelAccessJoined,
		Note:         "imported private invite",
	}
}

func resultFromError(err error) Result {
	uerr, ok := upstream.AsError(err)
	if !ok {
		return Result{AccessStatus: store.ChannelAccessError, Note: "error: " + err.Error()}
	}

	switch uerr.Kind {
	case upstream.KindChannelForbidden:
		return Result{AccessStatus: store.ChannelAccessForbidden, Note: "forbidden: " + uerr.Code}
	case upstream.KindFloodWait:
		return Result{
			AccessStatus: store.ChannelAccessError,
			Note:         fmt.Sprintf("FloodWait %ds", int(uerr.RetryAfter.Seconds())),
		}
	default:
		return Result{AccessStatus: store.ChannelAccessError, Note: "RPCError: " + uerr.Code}
	}
}
