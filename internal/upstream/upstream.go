// Package upstream defines the narrow client capability the harvester
// needs from Telegram. Implementations wrap a concrete MTProto library;
// core components only see these types.
package upstream

import (
	"context"
	"time"

	"github.com/Comrade19632/tgParser/internal/store"
)

// Identity is the authenticated user behind an account session.
type Identity struct {
	ID       int64
	Username string
	Phone    string
}

// Entity is a resolved channel peer. AccessHash is required for most
// channel RPCs and is only valid for the session that resolved it.
type Entity struct {
	ID         int64
	AccessHash int64
	Username   string
	Title      string
}

// Dialog is one entry of the account's dialog list.
type Dialog struct {
	Entity Entity
}

// Message is one channel message. Text is raw; the parser normalizes it.
type Message struct {
	ID   int64
	Text string
	Date time.Time
}

// JoinOutcome classifies a successful-ish join call.
type JoinOutcome int

const (
	// JoinedNow means the account became a member during this call.
	JoinedNow JoinOutcome = iota
	// AlreadyParticipant means the account was a member before the call.
	AlreadyParticipant
	// InviteRequestSent means an approval request was created. The
	// invite must not be re-imported while the request is pending.
	InviteRequestSent
)

// HistoryRequest selects which slice of channel history to iterate.
//
// Reverse with MinID delivers messages with id > MinID in ascending
// order (the incremental mode). Without Reverse, iteration is
// newest-first and Limit bounds the walk.
type HistoryRequest struct {
	MinID   int64
	Limit   int
	Reverse bool
}

// MessageFunc receives one message per call. Returning false stops the
// iteration without error.
type MessageFunc func(Message) (bool, error)

// Client is a connected upstream session for a single account. It is
// NOT safe for concurrent use; the pool serializes access per account.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect() error

	IsAuthorized(ctx context.Context) (bool, error)
	Me(ctx context.Context) (Identity, error)

	ResolveUsername(ctx context.Context, username string) (Entity, error)
	ResolvePeer(ctx context.Context, peerID int64) (Entity, error)
	Dialogs(ctx context.Context, limit int) ([]Dialog, error)

	History(ctx context.Context, entity Entity, req HistoryRequest, fn MessageFunc) error

	JoinChannel(ctx context.Context, entity Entity) (JoinOutcome, *Entity, error)
	ImportInvite(ctx context.Context, hash string) (JoinOutcome, *Entity, error)
}

// Factory builds a disconnected client from an account record. The
// factory is pure: no state beyond the record and static app identity.
type Factory interface {
	Build(acc store.Account) (Client, error)
}
