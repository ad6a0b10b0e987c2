package mtproto

import (
	"context"
	"fmt"
	"time"

	"github.com/gotd/contrib/bg"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/Comrade19632/tgParser/internal/logger"
	"github.com/Comrade19632/tgParser/internal/upstream"
)

// historyPageSize is the per-request page for history iteration.
// Telegram caps it at 100.
const historyPageSize = 100

type client struct {
	logger    *logger.Logger
	accountID int64
	tc        *telegram.Client
	stop      bg.StopFunc
}

// Connect runs the gotd client in the background until Disconnect.
func (c *client) Connect(ctx context.Context) error {
	if c.stop != nil {
		return nil
	}

	stop, err := bg.Connect(c.tc, bg.WithContext(ctx))
	if err != nil {
		return classify(fmt.Errorf("failed to connect account %d: %w", c.accountID, err))
	}
	c.stop = stop
	return nil
}

func (c *client) Disconnect() error {
	if c.stop == nil {
		return nil
	}
	stop := c.stop
	c.stop = nil
	return stop()
}

func (c *client) IsAuthorized(ctx context.Context) (bool, error) {
	status, err := c.tc.Auth().Status(ctx)
	if err != nil {
		return false, classify(err)
	}
	return status.Authorized, nil
}

func (c *client) Me(ctx context.Context) (upstream.Identity, error) {
	me, err := c.tc.Self(ctx)
	if err != nil {
		return upstream.Identity{}, classify(err)
	}
	return upstream.Identity{
		ID:       me.ID,
		Username: me.Username,
		Phone:    me.Phone,
	}, nil
}

func (c *client) ResolveUsername(ctx context.Context, username string) (upstream.Entity, error) {
	resolved, err := c.tc.API().ContactsResolveUsername(ctx, username)
	if err != nil {
		return upstream.Entity{}, classify(err)
	}

	for _, chat := range resolved.Chats {
		if ch, ok := chat.(*tg.Channel); ok {
			return entityFromChannel(ch), nil
		}
	}
	return upstream.Entity{}, &upstream.Error{
		Kind: upstream.KindNotFound,
		Code: "USERNAME_NOT_OCCUPIED",
		Err:  fmt.Errorf("no channel behind username %q", username),
	}
}

// ResolvePeer locates a channel by numeric id via the dialog list. An
// in-memory session has no peer cache, so the dialog scan is the only
// way to recover the access hash for an already-joined channel.
func (c *client) ResolvePeer(ctx context.Context, peerID int64) (upstream.Entity, error) {
	dialogs, err := c.Dialogs(ctx, historyPageSize*2)
	if err != nil {
		return upstream.Entity{}, err
	}
	for _, d := range dialogs {
		if d.Entity.ID == peerID {
			return d.Entity, nil
		}
	}
	return upstream.Entity{}, &upstream.Error{
		Kind: upstream.KindNotFound,
		Code: "PEER_ID_INVALID",
		Err:  fmt.Errorf("peer %d not in dialogs", peerID),
	}
}

func (c *client) Dialogs(ctx context.Context, limit int) ([]upstream.Dialog, error) {
	res, err := c.tc.API().MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		Limit:      limit,
		OffsetPeer: &tg.InputPeerEmpty{},
	})
	if err != nil {
		return nil, classify(err)
	}

	var chats []tg.ChatClass
	switch d := res.(type) {
	case *tg.MessagesDialogs:
		chats = d.Chats
	case *tg.MessagesDialogsSlice:
		chats = d.Chats
	}

	dialogs := make([]upstream.Dialog, 0, len(chats))
	for _, chat := range chats {
		if ch, ok := chat.(*tg.Channel); ok {
			dialogs = append(dialogs, upstream.Dialog{Entity: entityFromChannel(ch)})
		}
	}
	return dialogs, nil
}

// History iterates channel messages. Newest-first by default; Reverse
// with MinID buffers the pages and replays them in ascending id order,
// which is what the incremental cursor walk needs.
func (c *client) History(ctx context.Context, entity upstream.Entity, req upstream.HistoryRequest, fn upstream.MessageFunc) error {
	peer := &tg.InputPeerChannel{ChannelID: entity.ID, AccessHash: entity.AccessHash}

	fetch := func(ctx context.Context, offsetID, limit int) ([]tg.MessageClass, error) {
		res, err := c.tc.API().MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     peer,
			OffsetID: offsetID,
			Limit:    limit,
			MinID:    int(req.MinID),
		})
		if err != nil {
			return nil, classify(err)
		}
		return rawMessages(res), nil
	}
	return iterateHistory(ctx, fetch, req, fn)
}

// fetchPageFunc returns one raw history page, newest first.
type fetchPageFunc func(ctx context.Context, offsetID, limit int) ([]tg.MessageClass, error)

// iterateHistory pages through history via fetch. Pagination runs on
// the raw pages: service messages count toward the server's page limit,
// so a short filtered page does not mean the history is exhausted. They
// are dropped only when delivering to fn.
func iterateHistory(ctx context.Context, fetch fetchPageFunc, req upstream.HistoryRequest, fn upstream.MessageFunc) error {
	var buffered []upstream.Message
	offsetID := 0
	fetched := 0

	for {
		pageLimit := historyPageSize
		if req.Limit > 0 && req.Limit-fetched < pageLimit {
			pageLimit = req.Limit - fetched
		}
		if pageLimit <= 0 {
			break
		}

		raw, err := fetch(ctx, offsetID, pageLimit)
		if err != nil {
			return err
		}
		if len(raw) == 0 {
			break
		}
		fetched += len(raw)

		for _, mc := range raw {
			msg, ok := textMessage(mc)
			if !ok {
				continue
			}
			if req.Reverse {
				buffered = append(buffered, msg)
				continue
			}
			cont, err := fn(msg)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}

		offsetID = raw[len(raw)-1].GetID()
		if len(raw) < pageLimit {
			break
		}
	}

	for i := len(buffered) - 1; i >= 0; i-- {
		cont, err := fn(buffered[i])
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

func (c *client) JoinChannel(ctx context.Context, entity upstream.Entity) (upstream.JoinOutcome, *upstream.Entity, error) {
	updates, err := c.tc.API().ChannelsJoinChannel(ctx, &tg.InputChannel{
		ChannelID:  entity.ID,
		AccessHash: entity.AccessHash,
	})
	if err != nil {
		if tgerr.Is(err, "USER_ALREADY_PARTICIPANT") {
			return upstream.AlreadyParticipant, nil, nil
		}
		return 0, nil, classify(err)
	}
	return upstream.JoinedNow, entityFromUpdates(updates), nil
}

func (c *client) ImportInvite(ctx context.Context, hash string) (upstream.JoinOutcome, *upstream.Entity, error) {
	updates, err := c.tc.API().MessagesImportChatInvite(ctx, hash)
	if err != nil {
		switch {
		case tgerr.Is(err, "USER_ALREADY_PARTICIPANT"):
			return upstream.AlreadyParticipant, nil, nil
		case tgerr.Is(err, "INVITE_REQUEST_SENT"):
			return upstream.InviteRequestSent, nil, nil
		}
		return 0, nil, classify(err)
	}
	return upstream.JoinedNow, entityFromUpdates(updates), nil
}

func entityFromChannel(ch *tg.Channel) upstream.Entity {
	return upstream.Entity{
		ID:         ch.ID,
		AccessHash: ch.AccessHash,
		Username:   ch.Username,
		Title:      ch.Title,
	}
}

func entityFromUpdates(updates tg.UpdatesClass) *upstream.Entity {
	var chats []tg.ChatClass
	switch u := updates.(type) {
	case *tg.Updates:
		chats = u.Chats
	case *tg.UpdatesCombined:
		chats = u.Chats
	}

	for _, chat := range chats {
		if ch, ok := chat.(*tg.Channel); ok {
			ent := entityFromChannel(ch)
			return &ent
		}
	}
	return nil
}

func rawMessages(res tg.MessagesMessagesClass) []tg.MessageClass {
	switch m := res.(type) {
	case *tg.MessagesChannelMessages:
		return m.Messages
	case *tg.MessagesMessagesSlice:
		return m.Messages
	case *tg.MessagesMessages:
		return m.Messages
	}
	return nil
}

// textMessage extracts a regular message. Service messages and empty
// placeholders carry no text.
func textMessage(mc tg.MessageClass) (upstream.Message, bool) {
	msg, ok := mc.(*tg.Message)
	if !ok {
		return upstream.Message{}, false
	}
	return upstream.Message{
		ID:   int64(msg.ID),
		Text: msg.Message,
		Date: time.Unix(int64(msg.Date), 0).UTC(),
	}, true
}
