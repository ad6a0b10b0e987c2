// Package scheduler drives the harvest loop: acquire the singleton
// tick lock, run the tick body (health, parse, maintenance), persist
// the summary, release. Replicas that lose the lock race just skip.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/Comrade19632/tgParser/internal/health"
	"github.com/Comrade19632/tgParser/internal/logger"
	"github.com/Comrade19632/tgParser/internal/maintenance"
	"github.com/Comrade19632/tgParser/internal/metrics"
	"github.com/Comrade19632/tgParser/internal/parser"
)

// Locker is the ephemeral-store slice the scheduler needs.
type Locker interface {
	AcquireLock(ctx context.Context) (string, error)
	ReleaseLock(ctx context.Context, token string) error
	RefreshLock(ctx context.Context, token string) (bool, error)
	NextTickID(ctx context.Context) (int64, error)
	WriteTickMeta(ctx context.Context, fields map[string]string) error
}

type HealthPass interface {
	Run(ctx context.Context) (health.Summary, error)
}

type ParsePass interface {
	Run(ctx context.Context) (parser.Summary, error)
}

type MaintenancePass interface {
	Run(ctx context.Context) (maintenance.Summary, error)
}

// Options configures the loop. A nil maintenance pass disables it.
type Options struct {
	Interval     time.Duration
	RefreshEvery time.Duration
}

type Scheduler struct {
	logger      *logger.Logger
	lock        Locker
	health      HealthPass
	parser      ParsePass
	maintenance MaintenancePass
	metrics     *metrics.Metrics
	opts        Options
	now         func() time.Time
}

func New(log *logger.Logger, lock Locker, hp HealthPass, pp ParsePass, mp MaintenancePass, m *metrics.Metrics, opts Options) *Scheduler {
	if opts.RefreshEvery < 5*time.Second {
		opts.RefreshEvery = 5 * time.Second
	}
	return &Scheduler{
		logger:      log.WithComponent("scheduler"),
		lock:        lock,
		health:      hp,
		parser:      pp,
		maintenance: mp,
		metrics:     m,
		opts:        opts,
		now:         time.Now,
	}
}

// TickSummary is what gets persisted to the ephemeral tick-meta hash.
type TickSummary struct {
	TickID     int64
	StartedAt  time.Time
	FinishedAt time.Time

	AccountsChecked      int
	AccountsActiveTotal  int
	AccountsAuthRequired int
	AccountsCooldown     int
	AccountsBanned       int
	AccountsError        int

	ChannelsTotal            int
	ChannelsChecked          int
	ChannelsSkippedNoAccount int
	PostsInserted            int
}

func (t TickSummary) metaFields() map[string]string {
	duration := t.FinishedAt.Sub(t.StartedAt).Seconds()
	if duration < 0 {
		duration = 0
	}

	return map[string]string{
		"tick_id":                     strconv.FormatInt(t.TickID, 10),
		"started_at":                  t.StartedAt.Format(time.RFC3339Nano),
		"finished_at":                 t.FinishedAt.Format(time.RFC3339Nano),
		"duration_s":                  fmt.Sprintf("%.3f", duration),
		"accounts_checked":            strconv.Itoa(t.AccountsChecked),
		"accounts_active_total":       strconv.Itoa(t.AccountsActiveTotal),
		"accounts_auth_required":      strconv.Itoa(t.AccountsAuthRequired),
		"accounts_cooldown":           strconv.Itoa(t.AccountsCooldown),
		"accounts_banned":             strconv.Itoa(t.AccountsBanned),
		"accounts_error":              strconv.Itoa(t.AccountsError),
		"channels_total":              strconv.Itoa(t.ChannelsTotal),
		"channels_checked":            strconv.Itoa(t.ChannelsChecked),
		"channels_skipped_no_account": strconv.Itoa(t.ChannelsSkippedNoAccount),
		"posts_inserted":              strconv.Itoa(t.PostsInserted),
	}
}

// Run loops forever: acquire, tick, sleep. Returns when ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		token, err := s.lock.AcquireLock(ctx)
		switch {
		case err != nil:
			s.logger.Error("lock acquisition failed", slog.Any("error", err))
			s.metrics.RecordTick("error", 0)
		case token == "":
			s.logger.Info("tick skipped, lock held elsewhere")
			s.metrics.RecordTick("skipped", 0)
		default:
			s.runLocked(ctx, token)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.opts.Interval):
		}
	}
}

// RunOnce executes a single tick. Exit codes follow the single-shot
// contract: 0 completed, 2 lock held, anything else via error.
func (s *Scheduler) RunOnce(ctx context.Context, force bool) (int, error) {
	token := ""
	if !force {
		var err error
		token, err = s.lock.AcquireLock(ctx)
		if err != nil {
			return 1, err
		}
		if token == "" {
			s.logger.Info("tick skipped, lock held elsewhere")
			return 2, nil
		}
	}

	if token != "" {
		defer s.release(ctx, token)
	}

	tickID, err := s.lock.NextTickID(ctx)
	if err != nil {
		return 1, err
	}

	if err := s.tick(ctx, tickID); err != nil {
		return 1, err
	}
	return 0, nil
}

// runLocked owns the token: spawn the refresher, run the tick, then
// stop the refresher and release.
func (s *Scheduler) runLocked(ctx context.Context, token string) {
	tickID, err := s.lock.NextTickID(ctx)
	if err != nil {
		s.logger.Error("failed to allocate tick id", slog.Any("error", err))
		s.release(ctx, token)
		return
	}

	refreshCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.refreshLoop(refreshCtx, token)
	}()

	err = s.tick(ctx, tickID)

	cancel()
	wg.Wait()
	s.release(ctx, token)

	if err != nil {
		s.logger.LogError(logger.WithTickID(ctx, tickID), err, "tick failed")
	}
}

// refreshLoop keeps the lock alive while the tick runs. Losing the lock
// is observable but not fatal: the tick finishes its work and the
// overlap window stays bounded by the refresh cadence.
func (s *Scheduler) refreshLoop(ctx context.Context, token string) {
	ticker := time.NewTicker(s.opts.RefreshEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := s.lock.RefreshLock(ctx, token)
			if err != nil {
				s.logger.Warn("lock refresh failed", slog.Any("error", err))
			} else if !ok {
				s.logger.Warn("lock lost mid-tick, finishing anyway")
			}
		}
	}
}

func (s *Scheduler) release(ctx context.Context, token string) {
	// Release must survive a canceled parent (e.g. SIGTERM mid-tick).
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := s.lock.ReleaseLock(releaseCtx, token); err != nil {
		s.logger.Warn("lock release failed", slog.Any("error", err))
	}
}

// tick runs the tick body in order and always persists the summary,
// even when a pass fails.
func (s *Scheduler) tick(ctx context.Context, tickID int64) error {
	ctx = logger.WithTickID(ctx, tickID)
	log := s.logger.WithContext(ctx)

	summary := TickSummary{TickID: tickID, StartedAt: s.now().UTC()}
	var tickErr error

	hs, err := s.health.Run(ctx)
	summary.AccountsChecked = hs.Checked
	summary.AccountsActiveTotal = hs.ActiveTotal
	summary.AccountsAuthRequired = hs.AuthRequired
	summary.AccountsCooldown = hs.Cooldown
	summary.AccountsBanned = hs.Banned
	summary.AccountsError = hs.Error
	if err != nil {
		tickErr = fmt.Errorf("account health pass: %w", err)
	}

	if tickErr == nil {
		ps, err := s.parser.Run(ctx)
		summary.ChannelsTotal = ps.ChannelsTotal
		summary.ChannelsChecked = ps.ChannelsChecked
		summary.ChannelsSkippedNoAccount = ps.ChannelsSkippedNoAccount
		summary.PostsInserted = ps.PostsInserted
		if err != nil {
			tickErr = fmt.Errorf("parse pass: %w", err)
		}
	}

	if tickErr == nil && s.maintenance != nil {
		if _, err := s.maintenance.Run(ctx); err != nil {
			tickErr = fmt.Errorf("membership maintenance: %w", err)
		}
	}

	summary.FinishedAt = s.now().UTC()
	if err := s.lock.WriteTickMeta(ctx, summary.metaFields()); err != nil {
		log.Warn("failed to persist tick meta", slog.Any("error", err))
	}

	duration := summary.FinishedAt.Sub(summary.StartedAt).Seconds()
	if tickErr != nil {
		s.metrics.RecordTick("error", duration)
		return tickErr
	}

	s.metrics.RecordTick("ok", duration)
	log.Info("tick finished",
		slog.Float64("duration_s", duration),
		slog.Int("accounts_checked", summary.AccountsChecked),
		slog.Int("channels_checked", summary.ChannelsChecked),
		slog.Int("channels_total", summary.ChannelsTotal),
		slog.Int("posts_inserted", summary.PostsInserted))
	return nil
}
