package mtproto

import (
	"errors"

	"github.com/gotd/td/tgerr"

	"github.com/Comrade19632/tgParser/internal/upstream"
)

// floodHTTPCode is the RPC code Telegram uses for the flood family.
const floodHTTPCode = 420

// classify maps a gotd error to the tagged upstream error the core
// components switch on. Transport errors pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}

	if wait, ok := tgerr.AsFloodWait(err); ok {
		return &upstream.Error{
			Kind:       upstream.KindFloodWait,
			Code:       "FLOOD_WAIT",
			RetryAfter: wait,
			Err:        err,
		}
	}

	var rpc *tgerr.Error
	if !errors.As(err, &rpc) {
		return err
	}

	kind := upstream.KindRPC
	switch rpc.Type {
	case "FROZEN_METHOD_INVALID":
		kind = upstream.KindFrozen
	case "PHONE_NUMBER_BANNED", "USER_DEACTIVATED_BAN":
		kind = upstream.KindPhoneBanned
	case "USER_DEACTIVATED":
		kind = upstream.KindDeactivated
	case "CHANNEL_PRIVATE", "CHAT_ADMIN_REQUIRED", "USER_BANNED_IN_CHANNEL",
		"USER_NOT_PARTICIPANT", "CHAT_WRITE_FORBIDDEN":
		kind = upstream.KindChannelForbidden
	case "USERNAME_NOT_OCCUPIED", "USERNAME_INVALID", "CHANNEL_INVALID", "PEER_ID_INVALID":
		kind = upstream.KindNotFound
	default:
		if rpc.Code == floodHTTPCode {
			kind = upstream.KindFlood
		}
	}

	return &upstream.Error{Kind: kind, Code: rpc.Type, Err: err}
}
