package selector

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/Comrade19632/tgParser/internal/logger"
	"github.com/Comrade19632/tgParser/internal/store"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func activeAccount(id int64) store.Account {
	return store.Account{
		ID:            id,
		IsActive:      true,
		Status:        store.AccountActive,
		SessionString: "session",
	}
}

func usedAt(acc store.Account, at time.Time) store.Account {
	acc.LastUsedAt = &at
	return acc
}

func TestReady(t *testing.T) {
	past := testNow.Add(-time.Minute)
	future := testNow.Add(time.Minute)

	tests := []struct {
		name string
		acc  store.Account
		want bool
	}{
		{"healthy", activeAccount(1), true},
		{"operator disabled", func() store.Account {
			a := activeAccount(1)
			a.IsActive = false
			return a
		}(), false},
		{"banned", func() store.Account {
			a := activeAccount(1)
			a.Status = store.AccountBanned
			return a
		}(), false},
		{"auth required", func() store.Account {
			a := activeAccount(1)
			a.Status = store.AccountAuthRequired
			return a
		}(), false},
		{"cooldown active", func() store.Account {
			a := activeAccount(1)
			a.Status = store.AccountActive
			a.CooldownUntil = &future
			return a
		}(), false},
		{"cooldown expired", func() store.Account {
			a := activeAccount(1)
			a.CooldownUntil = &past
			return a
		}(), true},
		{"no session", func() store.Account {
			a := activeAccount(1)
			a.SessionString = ""
			return a
		}(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Ready(tt.acc, testNow); got != tt.want {
				t.Errorf("Ready() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRankLRUOrder(t *testing.T) {
	ch := store.Channel{ID: 10, Type: store.ChannelPublic}

	accounts := []store.Account{
		usedAt(activeAccount(1), testNow.Add(-time.Hour)),
		usedAt(activeAccount(2), testNow.Add(-2*time.Hour)),
		activeAccount(3), // never used wins
	}

	got := Rank(accounts, nil, ch, nil, testNow)
	if got == nil || got.ID != 3 {
		t.Fatalf("Rank picked %v, want account 3 (never used)", got)
	}

	// Without the never-used account, the least recently used wins.
	got = Rank(accounts[:2], nil, ch, nil, testNow)
	if got == nil || got.ID != 2 {
		t.Fatalf("Rank picked %v, want account 2 (least recently used)", got)
	}
}

func TestRankTieBreakByID(t *testing.T) {
	ch := store.Channel{ID: 10, Type: store.ChannelPublic}
	same := testNow.Add(-time.Hour)

	accounts := []store.Account{
		usedAt(activeAccount(5), same),
		usedAt(activeAccount(2), same),
	}

	got := Rank(accounts, nil, ch, nil, testNow)
	if got == nil || got.ID != 2 {
		t.Fatalf("Rank picked %v, want account 2 (lowest id)", got)
	}
}

func TestRankExcluded(t *testing.T) {
	ch := store.Channel{ID: 10, Type: store.ChannelPublic}
	accounts := []store.Account{activeAccount(1), activeAccount(2)}

	got := Rank(accounts, nil, ch, map[int64]struct{}{1: {}}, testNow)
	if got == nil || got.ID != 2 {
		t.Fatalf("Rank picked %v, want account 2", got)
	}

	got = Rank(accounts, nil, ch, map[int64]struct{}{1: {}, 2: {}}, testNow)
	if got != nil {
		t.Fatalf("Rank picked %v, want nil when all excluded", got)
	}
}

func TestRankPrivateChannelPrefersJoined(t *testing.T) {
	ch := store.Channel{ID: 10, Type: store.ChannelPrivate}

	// Account 1 is fresher in LRU terms, but account 2 is already a
	// member and membership wins for private channels.
	accounts := []store.Account{
		activeAccount(1),
		usedAt(activeAccount(2), testNow.Add(-time.Hour)),
	}
	memberships := []store.Membership{
		{AccountID: 2, ChannelID: 10, Status: store.MembershipJoined},
	}

	got := Rank(accounts, memberships, ch, nil, testNow)
	if got == nil || got.ID != 2 {
		t.Fatalf("Rank picked %v, want joined account 2", got)
	}

	// Public channels ignore the membership preference.
	publicCh := store.Channel{ID: 10, Type: store.ChannelPublic}
	got = Rank(accounts, memberships, publicCh, nil, testNow)
	if got == nil || got.ID != 1 {
		t.Fatalf("Rank picked %v, want LRU account 1 for public channel", got)
	}
}

func TestRankPrivateChannelSkipsForbiddenMembership(t *testing.T) {
	ch := store.Channel{ID: 10, Type: store.ChannelPrivate}
	accounts := []store.Account{activeAccount(1), activeAccount(2)}
	memberships := []store.Membership{
		{AccountID: 1, ChannelID: 10, Status: store.MembershipForbidden},
	}

	got := Rank(accounts, memberships, ch, nil, testNow)
	if got == nil || got.ID != 2 {
		t.Fatalf("Rank picked %v, want account 2 (1 is forbidden)", got)
	}
}

type fakeSelectorStore struct {
	accounts    []store.Account
	memberships []store.Membership

	membershipCalls int
}

func (f *fakeSelectorStore) ListActiveAccounts(ctx context.Context) ([]store.Account, error) {
	return f.accounts, nil
}

func (f *fakeSelectorStore) ListChannelMemberships(ctx context.Context, channelID int64) ([]store.Membership, error) {
	f.membershipCalls++
	return f.memberships, nil
}

func TestPick(t *testing.T) {
	st := &fakeSelectorStore{accounts: []store.Account{activeAccount(1)}}
	s := New(logger.New(logger.Config{Level: slog.LevelError}), st)
	s.now = func() time.Time { return testNow }

	pick, err := s.Pick(context.Background(), store.Channel{ID: 10, Type: store.ChannelPublic}, nil)
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if pick.Account == nil || pick.Account.ID != 1 {
		t.Fatalf("Pick = %+v, want account 1", pick)
	}
	if pick.Reason != "picked" {
		t.Errorf("Reason = %q, want picked", pick.Reason)
	}
	if st.membershipCalls != 0 {
		t.Errorf("membership lookups for public channel = %d, want 0", st.membershipCalls)
	}

	// Private channels consult memberships.
	_, err = s.Pick(context.Background(), store.Channel{ID: 10, Type: store.ChannelPrivate}, nil)
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if st.membershipCalls != 1 {
		t.Errorf("membership lookups for private channel = %d, want 1", st.membershipCalls)
	}
}

func TestPickNoReadyAccounts(t *testing.T) {
	st := &fakeSelectorStore{}
	s := New(logger.New(logger.Config{Level: slog.LevelError}), st)
	s.now = func() time.Time { return testNow }

	pick, err := s.Pick(context.Background(), store.Channel{ID: 10, Type: store.ChannelPublic}, nil)
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if pick.Account != nil {
		t.Fatalf("Pick = %+v, want nil account", pick)
	}
	if pick.Reason != "no_ready_accounts" {
		t.Errorf("Reason = %q, want no_ready_accounts", pick.Reason)
	}
}
