package joiner

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/Comrade19632/tgParser/internal/logger"
	"github.com/Comrade19632/tgParser/internal/store"
	"github.com/Comrade19632/tgParser/internal/upstream"
)

func TestExtractInviteHash(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://t.me/+AbCdEf123456", "AbCdEf123456"},
		{"t.me/+AbCdEf123456", "AbCdEf123456"},
		{"https://t.me/joinchat/AbCdEf123456", "AbCdEf123456"},
		{"t.me/joinchat/AbCdEf123456", "AbCdEf123456"},
		{"AbCdEf123456", "AbCdEf123456"},
		{"  t.me/+AbCdEf123456  ", "AbCdEf123456"},
		{"+AbCdEf123456", ""},
		{"short", ""},
		{"", ""},
		{"https://t.me/channelname", ""},
		{"has/slash", ""},
	}

	for _, tt := range tests {
		if got := ExtractInviteHash(tt.in); got != tt.want {
			t.Errorf("ExtractInviteHash(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizePublic(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"durov", "durov"},
		{"@Durov", "durov"},
		{"https://t.me/Durov", "durov"},
		{"t.me/durov/123", "durov"},
		{"  @durov  ", "durov"},
		{"Some_Channel_01", "some_channel_01"},
		{"ab", ""},
		{"", ""},
		{"bad name", ""},
		{"name-with-dash", ""},
	}

	for _, tt := range tests {
		if got := NormalizePublic(tt.in); got != tt.want {
			t.Errorf("NormalizePublic(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// fakeClient implements upstream.Client with function fields; nil
// fields panic, which is fine since each test sets what it needs.
type fakeClient struct {
	resolveUsername func(username string) (upstream.Entity, error)
	joinChannel     func(entity upstream.Entity) (upstream.JoinOutcome, *upstream.Entity, error)
	importInvite    func(hash string) (upstream.JoinOutcome, *upstream.Entity, error)
}

func (f *fakeClient) Connect(ctx context.Context) error              { return nil }
func (f *fakeClient) Disconnect() error                              { return nil }
func (f *fakeClient) IsAuthorized(ctx context.Context) (bool, error) { return true, nil }
func (f *fakeClient) Me(ctx context.Context) (upstream.Identity, error) {
	return upstream.Identity{}, nil
}

func (f *fakeClient) ResolveUsername(ctx context.Context, username string) (upstream.Entity, error) {
	return f.resolveUsername(username)
}

func (f *fakeClient) ResolvePeer(ctx context.Context, peerID int64) (upstream.Entity, error) {
	return upstream.Entity{}, nil
}

func (f *fakeClient) Dialogs(ctx context.Context, limit int) ([]upstream.Dialog, error) {
	return nil, nil
}

func (f *fakeClient) History(ctx context.Context, entity upstream.Entity, req upstream.HistoryRequest, fn upstream.MessageFunc) error {
	return nil
}

func (f *fakeClient) JoinChannel(ctx context.Context, entity upstream.Entity) (upstream.JoinOutcome, *upstream.Entity, error) {
	return f.joinChannel(entity)
}

func (f *fakeClient) ImportInvite(ctx context.Context, hash string) (upstream.JoinOutcome, *upstream.Entity, error) {
	return f.importInvite(hash)
}

func newTestJoiner() *Joiner {
	return New(logger.New(logger.Config{Level: slog.LevelError}))
}

func TestEnsureJoinedPublicShortCircuit(t *testing.T) {
	j := newTestJoiner()
	ch := store.Channel{
		ID:           1,
		Type:         store.ChannelPublic,
		Identifier:   "durov",
		AccessStatus: store.ChannelAccessJoined,
	}

	// No client call should happen; a nil-field fake would panic.
	res := j.EnsureJoined(context.Background(), &fakeClient{}, ch, false)
	if !res.OK {
		t.Fatalf("EnsureJoined = %+v, want OK", res)
	}
	if res.AccessStatus != store.ChannelAccessJoined {
		t.Errorf("AccessStatus = %q, want joined", res.AccessStatus)
	}
}

func TestEnsureJoinedPublicForce(t *testing.T) {
	j := newTestJoiner()
	ch := store.Channel{
		ID:           1,
		Type:         store.ChannelPublic,
		Identifier:   "durov",
		AccessStatus: store.ChannelAccessJoined,
	}

	joined := false
	client := &fakeClient{
		resolveUsername: func(username string) (upstream.Entity, error) {
			return upstream.Entity{ID: 100, Username: username, Title: "Durov"}, nil
		},
		joinChannel: func(entity upstream.Entity) (upstream.JoinOutcome, *upstream.Entity, error) {
			joined = true
			return upstream.JoinedNow, nil, nil
		},
	}

	res := j.EnsureJoined(context.Background(), client, ch, true)
	if !res.OK || !joined {
		t.Fatalf("forced join did not run: %+v joined=%v", res, joined)
	}
	if res.Entity == nil || res.Entity.ID != 100 {
		t.Errorf("Entity = %+v, want id 100", res.Entity)
	}
}

func TestEnsureJoinedPublicJoins(t *testing.T) {
	j := newTestJoiner()
	ch := store.Channel{ID: 1, Type: store.ChannelPublic, Identifier: "@Durov"}

	var resolvedAs string
	client := &fakeClient{
		resolveUsername: func(username string) (upstream.Entity, error) {
			resolvedAs = username
			return upstream.Entity{ID: 100, Username: username}, nil
		},
		joinChannel: func(entity upstream.Entity) (upstream.JoinOutcome, *upstream.Entity, error) {
			return upstream.JoinedNow, &upstream.Entity{ID: 100, Username: "durov", Title: "Durov"}, nil
		},
	}

	res := j.EnsureJoined(context.Background(), client, ch, false)
	if !res.OK {
		t.Fatalf("EnsureJoined = %+v, want OK", res)
	}
	if resolvedAs != "durov" {
		t.Errorf("resolved username %q, want normalized durov", resolvedAs)
	}
	if res.AccessStatus != store.ChannelAccessJoined {
		t.Errorf("AccessStatus = %q, want joined", res.AccessStatus)
	}
	if res.Entity == nil || res.Entity.Title != "Durov" {
		t.Errorf("Entity = %+v, want join result entity", res.Entity)
	}
}

func TestEnsureJoinedPrivateAlreadyParticipant(t *testing.T) {
	j := newTestJoiner()
	ch := store.Channel{ID: 1, Type: store.ChannelPrivate, Identifier: "t.me/+AbCdEf123456"}

	client := &fakeClient{
		importInvite: func(hash string) (upstream.JoinOutcome, *upstream.Entity, error) {
			if hash != "AbCdEf123456" {
				t.Errorf("import hash = %q, want AbCdEf123456", hash)
			}
			return upstream.AlreadyParticipant, nil, nil
		},
	}

	res := j.EnsureJoined(context.Background(), client, ch, false)
	if !res.OK {
		t.Fatalf("EnsureJoined = %+v, want OK", res)
	}
	if res.Note != "already participant" {
		t.Errorf("Note = %q", res.Note)
	}
}

func TestEnsureJoinedPrivateRequestSent(t *testing.T) {
	j := newTestJoiner()
	ch := store.Channel{ID: 1, Type: store.ChannelPrivate, Identifier: "AbCdEf123456"}

	client := &fakeClient{
		importInvite: func(hash string) (upstream.JoinOutcome, *upstream.Entity, error) {
			return upstream.InviteRequestSent, nil, nil
		},
	}

	res := j.EnsureJoined(context.Background(), client, ch, false)
	if res.OK {
		t.Fatal("pending join request must not report OK")
	}
	if res.AccessStatus != store.ChannelAccessJoinRequested {
		t.Errorf("AccessStatus = %q, want join_requested", res.AccessStatus)
	}
	if res.Note != "join request sent (pending approval)" {
		t.Errorf("Note = %q", res.Note)
	}
}

func TestEnsureJoinedPrivateNeverShortCircuits(t *testing.T) {
	j := newTestJoiner()
	// Channel access says joined, but membership is per-account: the
	// invite is still imported for this account.
	ch := store.Channel{
		ID:           1,
		Type:         store.ChannelPrivate,
		Identifier:   "AbCdEf123456",
		AccessStatus: store.ChannelAccessJoined,
	}

	imported := false
	client := &fakeClient{
		importInvite: func(hash string) (upstream.JoinOutcome, *upstream.Entity, error) {
			imported = true
			return upstream.AlreadyParticipant, nil, nil
		},
	}

	j.EnsureJoined(context.Background(), client, ch, false)
	if !imported {
		t.Fatal("private channel skipped invite import based on channel-global status")
	}
}

func TestEnsureJoinedForbidden(t *testing.T) {
	j := newTestJoiner()
	ch := store.Channel{ID: 1, Type: store.ChannelPublic, Identifier: "durov"}

	client := &fakeClient{
		resolveUsername: func(username string) (upstream.Entity, error) {
			return upstream.Entity{}, &upstream.Error{Kind: upstream.KindChannelForbidden, Code: "CHANNEL_PRIVATE"}
		},
	}

	res := j.EnsureJoined(context.Background(), client, ch, false)
	if res.OK {
		t.Fatal("forbidden join must not report OK")
	}
	if res.AccessStatus != store.ChannelAccessForbidden {
		t.Errorf("AccessStatus = %q, want forbidden", res.AccessStatus)
	}
	if res.Note != "forbidden: CHANNEL_PRIVATE" {
		t.Errorf("Note = %q", res.Note)
	}
}

func TestEnsureJoinedFloodWaitNote(t *testing.T) {
	j := newTestJoiner()
	ch := store.Channel{ID: 1, Type: store.ChannelPrivate, Identifier: "AbCdEf123456"}

	client := &fakeClient{
		importInvite: func(hash string) (upstream.JoinOutcome, *upstream.Entity, error) {
			return 0, nil, &upstream.Error{Kind: upstream.KindFloodWait, RetryAfter: 120 * time.Second}
		},
	}

	res := j.EnsureJoined(context.Background(), client, ch, false)
	if res.OK {
		t.Fatal("floodwait join must not report OK")
	}
	if res.Note != "FloodWait 120s" {
		t.Errorf("Note = %q, want FloodWait 120s", res.Note)
	}
}

func TestEnsureJoinedInvalidIdentifiers(t *testing.T) {
	j := newTestJoiner()

	res := j.EnsureJoined(context.Background(), &fakeClient{},
		store.Channel{ID: 1, Type: store.ChannelPublic, Identifier: "??"}, false)
	if res.OK || res.AccessStatus != store.ChannelAccessError {
		t.Errorf("invalid public identifier: %+v", res)
	}

	res = j.EnsureJoined(context.Background(), &fakeClient{},
		store.Channel{ID: 1, Type: store.ChannelPrivate, Identifier: "t.me/notaninvite"}, false)
	if res.OK || res.AccessStatus != store.ChannelAccessError {
		t.Errorf("invalid invite identifier: %+v", res)
	}
}
