// Package dialogs locates a channel entity through the account's
// dialog list. Once membership exists, the dialog list carries the
// access hash without an explicit resolve call.
package dialogs

import (
	"context"
	"strings"

	"github.com/Comrade19632/tgParser/internal/logger"
	"github.com/Comrade19632/tgParser/internal/policy"
	"github.com/Comrade19632/tgParser/internal/store"
	"github.com/Comrade19632/tgParser/internal/upstream"
)

type Resolver struct {
	logger    *logger.Logger
	pageLimit int
}

func NewResolver(log *logger.Logger, pol policy.Policy) *Resolver {
	return &Resolver{
		logger:    log.WithComponent("dialogs"),
		pageLimit: pol.DialogPageLimit,
	}
}

func normUsername(identifier string) string {
	raw := strings.TrimSpace(identifier)
	if raw == "" {
		return ""
	}
	if idx := strings.Index(raw, "t.me/"); idx >= 0 {
		raw = raw[idx+len("t.me/"):]
		if slash := strings.IndexByte(raw, '/'); slash >= 0 {
			raw = raw[:slash]
		}
	}
	return strings.ToLower(strings.TrimPrefix(raw, "@"))
}

// FromDialogs scans the recent dialog list for the channel. Public
// channels match by username, private by the stored peer id. Returns
// nil without error when the channel is not there.
//
// Dialog enumeration is aggressively rate-limited upstream, so the
// parser's hot path only calls this for private channels.
func (r *Resolver) FromDialogs(ctx context.Context, client upstream.Client, ch store.Channel) (*upstream.Entity, error) {
	dialogs, err := client.Dialogs(ctx, r.pageLimit)
	if err != nil {
		return nil, err
	}

	if ch.Type == store.ChannelPublic {
		username := normUsername(ch.Identifier)
		if username == "" {
			return nil, nil
		}
		for _, d := range dialogs {
			if strings.ToLower(d.Entity.Username) == username {
				ent := d.Entity
				return &ent, nil
			}
		}
		return nil, nil
	}

	if ch.PeerID > 0 {
		for _, d := range dialogs {
			if d.Entity.ID == ch.PeerID {
				ent := d.Entity
				return &ent, nil
			}
		}
	}
	return nil, nil
}
