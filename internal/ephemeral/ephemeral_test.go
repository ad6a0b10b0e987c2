package ephemeral

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Comrade19632/tgParser/internal/logger"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	log := logger.New(logger.Config{Level: slog.LevelError})
	return NewWithClient(log, rdb, time.Hour), mr
}

func TestAcquireLockExclusive(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	token, err := c.AcquireLock(ctx)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if token == "" {
		t.Fatal("first acquire returned empty token")
	}

	second, err := c.AcquireLock(ctx)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if second != "" {
		t.Errorf("second acquire got token %q, want empty", second)
	}
}

func TestReleaseLockTokenMatched(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	token, err := c.AcquireLock(ctx)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}

	// A stale holder with the wrong token must not delete the lock.
	if err := c.ReleaseLock(ctx, "not-the-token"); err != nil {
		t.Fatalf("ReleaseLock(wrong token): %v", err)
	}
	if !mr.Exists(LockKey) {
		t.Fatal("lock deleted by wrong token")
	}

	if err := c.ReleaseLock(ctx, token); err != nil {
		t.Fatalf("ReleaseLock: %v", err)
	}
	if mr.Exists(LockKey) {
		t.Fatal("lock still present after release")
	}

	// Releasing again is a harmless no-op.
	if err := c.ReleaseLock(ctx, token); err != nil {
		t.Fatalf("ReleaseLock(twice): %v", err)
	}
}

func TestRefreshLockTokenMatched(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	token, err := c.AcquireLock(ctx)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}

	ok, err := c.RefreshLock(ctx, token)
	if err != nil {
		t.Fatalf("RefreshLock: %v", err)
	}
	if !ok {
		t.Error("refresh with own token reported failure")
	}

	ok, err = c.RefreshLock(ctx, "not-the-token")
	if err != nil {
		t.Fatalf("RefreshLock(wrong token): %v", err)
	}
	if ok {
		t.Error("refresh with wrong token reported success")
	}

	// After expiry the lock is gone and refresh fails.
	mr.FastForward(2 * time.Hour)
	ok, err = c.RefreshLock(ctx, token)
	if err != nil {
		t.Fatalf("RefreshLock(expired): %v", err)
	}
	if ok {
		t.Error("refresh of expired lock reported success")
	}
}

func TestLockReacquireAfterExpiry(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	first, err := c.AcquireLock(ctx)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}

	mr.FastForward(2 * time.Hour)

	second, err := c.AcquireLock(ctx)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if second == "" {
		t.Fatal("could not reacquire after expiry")
	}
	if second == first {
		t.Error("tokens should differ per acquisition")
	}

	// The stale first holder must not release the new holder's lock.
	if err := c.ReleaseLock(ctx, first); err != nil {
		t.Fatalf("ReleaseLock(stale): %v", err)
	}
	if !mr.Exists(LockKey) {
		t.Fatal("stale holder deleted the new lock")
	}
}

func TestNextTickIDMonotonic(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	var prev int64
	for i := 0; i < 5; i++ {
		id, err := c.NextTickID(ctx)
		if err != nil {
			t.Fatalf("NextTickID: %v", err)
		}
		if id <= prev {
			t.Fatalf("tick id %d not greater than previous %d", id, prev)
		}
		prev = id
	}
}

func TestTickMetaRoundTrip(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	empty, err := c.ReadTickMeta(ctx)
	if err != nil {
		t.Fatalf("ReadTickMeta: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty meta before first write, got %v", empty)
	}

	fields := map[string]string{
		"tick_id":        "7",
		"posts_inserted": "42",
		"duration_s":     "1.250",
	}
	if err := c.WriteTickMeta(ctx, fields); err != nil {
		t.Fatalf("WriteTickMeta: %v", err)
	}

	got, err := c.ReadTickMeta(ctx)
	if err != nil {
		t.Fatalf("ReadTickMeta: %v", err)
	}
	for k, want := range fields {
		if got[k] != want {
			t.Errorf("meta[%q] = %q, want %q", k, got[k], want)
		}
	}
}
