package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Comrade19632/tgParser/internal/ephemeral"
	"github.com/Comrade19632/tgParser/internal/health"
	"github.com/Comrade19632/tgParser/internal/logger"
	"github.com/Comrade19632/tgParser/internal/maintenance"
	"github.com/Comrade19632/tgParser/internal/parser"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeHealth struct {
	summary health.Summary
	err     error
	runs    int
}

func (f *fakeHealth) Run(ctx context.Context) (health.Summary, error) {
	f.runs++
	return f.summary, f.err
}

type fakeParse struct {
	summary parser.Summary
	err     error
	runs    int
}

func (f *fakeParse) Run(ctx context.Context) (parser.Summary, error) {
	f.runs++
	return f.summary, f.err
}

type fakeMaintenance struct {
	runs int
}

func (f *fakeMaintenance) Run(ctx context.Context) (maintenance.Summary, error) {
	f.runs++
	return maintenance.Summary{}, nil
}

func newLock(t *testing.T) (*ephemeral.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	log := logger.New(logger.Config{Level: slog.LevelError})
	return ephemeral.NewWithClient(log, rdb, time.Hour), mr
}

func newScheduler(lock Locker, hp HealthPass, pp ParsePass, mp MaintenancePass) *Scheduler {
	log := logger.New(logger.Config{Level: slog.LevelError})
	s := New(log, lock, hp, pp, mp, nil, Options{
		Interval:     time.Hour,
		RefreshEvery: time.Minute,
	})
	s.now = func() time.Time { return testNow }
	return s
}

func TestRunOnceWritesTickMeta(t *testing.T) {
	lock, _ := newLock(t)
	hp := &fakeHealth{summary: health.Summary{
		Checked:      3,
		ActiveTotal:  2,
		AuthRequired: 1,
	}}
	pp := &fakeParse{summary: parser.Summary{
		ChannelsTotal:   5,
		ChannelsChecked: 5,
		PostsInserted:   17,
	}}
	mp := &fakeMaintenance{}

	s := newScheduler(lock, hp, pp, mp)

	code, err := s.RunOnce(context.Background(), false)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if hp.runs != 1 || pp.runs != 1 || mp.runs != 1 {
		t.Errorf("pass runs = %d/%d/%d, want 1/1/1", hp.runs, pp.runs, mp.runs)
	}

	meta, err := lock.ReadTickMeta(context.Background())
	if err != nil {
		t.Fatalf("ReadTickMeta: %v", err)
	}
	want := map[string]string{
		"tick_id":                     "1",
		"accounts_checked":            "3",
		"accounts_active_total":       "2",
		"accounts_auth_required":      "1",
		"accounts_cooldown":           "0",
		"channels_total":              "5",
		"channels_checked":            "5",
		"channels_skipped_no_account": "0",
		"posts_inserted":              "17",
		"duration_s":                  "0.000",
	}
	for k, v := range want {
		if meta[k] != v {
			t.Errorf("meta[%q] = %q, want %q", k, meta[k], v)
		}
	}
	if meta["started_at"] == "" || meta["finished_at"] == "" {
		t.Error("missing timestamps in tick meta")
	}

	// The lock is released after the run.
	token, err := lock.AcquireLock(context.Background())
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if token == "" {
		t.Error("lock still held after RunOnce")
	}
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	lock, _ := newLock(t)

	// Someone else holds the lock.
	if _, err := lock.AcquireLock(context.Background()); err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}

	hp := &fakeHealth{}
	pp := &fakeParse{}
	s := newScheduler(lock, hp, pp, nil)

	code, err := s.RunOnce(context.Background(), false)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
	if hp.runs != 0 || pp.runs != 0 {
		t.Error("passes ran without the lock")
	}
}

func TestRunOnceForceBypassesLock(t *testing.T) {
	lock, mr := newLock(t)

	if _, err := lock.AcquireLock(context.Background()); err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}

	hp := &fakeHealth{}
	pp := &fakeParse{}
	s := newScheduler(lock, hp, pp, nil)

	code, err := s.RunOnce(context.Background(), true)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if hp.runs != 1 || pp.runs != 1 {
		t.Error("forced run did not execute the passes")
	}

	// Force does not steal the other holder's lock.
	if !mr.Exists(ephemeral.LockKey) {
		t.Error("forced run released a lock it did not own")
	}
}

func TestRunOnceHealthFailureStillWritesMeta(t *testing.T) {
	lock, _ := newLock(t)

	hp := &fakeHealth{err: errors.New("db down")}
	pp := &fakeParse{}
	mp := &fakeMaintenance{}
	s := newScheduler(lock, hp, pp, mp)

	code, err := s.RunOnce(context.Background(), false)
	if err == nil {
		t.Fatal("expected error from failed health pass")
	}
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if pp.runs != 0 || mp.runs != 0 {
		t.Error("later passes ran after the health pass failed")
	}

	meta, merr := lock.ReadTickMeta(context.Background())
	if merr != nil {
		t.Fatalf("ReadTickMeta: %v", merr)
	}
	if meta["tick_id"] != "1" {
		t.Errorf("meta written = %v, want tick summary even on failure", meta)
	}
}

func TestRunOnceWithoutMaintenance(t *testing.T) {
	lock, _ := newLock(t)
	hp := &fakeHealth{}
	pp := &fakeParse{}

	s := newScheduler(lock, hp, pp, nil)

	code, err := s.RunOnce(context.Background(), false)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
}

func TestTickIDsIncrement(t *testing.T) {
	lock, _ := newLock(t)
	s := newScheduler(lock, &fakeHealth{}, &fakeParse{}, nil)

	for want := 1; want <= 3; want++ {
		if _, err := s.RunOnce(context.Background(), false); err != nil {
			t.Fatalf("RunOnce #%d: %v", want, err)
		}
		meta, err := lock.ReadTickMeta(context.Background())
		if err != nil {
			t.Fatalf("ReadTickMeta: %v", err)
		}
		if got := meta["tick_id"]; got != strconv.Itoa(want) {
			t.Errorf("tick_id = %q, want %d", got, want)
		}
	}
}
