// Package health probes every active account once per tick and
// classifies it. The pass is sequential on purpose: probing the fleet
// in parallel multiplies upstream pressure for no gain.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/Comrade19632/tgParser/internal/logger"
	"github.com/Comrade19632/tgParser/internal/metrics"
	"github.com/Comrade19632/tgParser/internal/store"
	"github.com/Comrade19632/tgParser/internal/upstream"
)

// Store is the slice of the state store the health pass writes through.
type Store interface {
	ListActiveAccounts(ctx context.Context) ([]store.Account, error)
	UpdateAccountHealth(ctx context.Context, id int64, status store.AccountStatus, lastError string, cooldownUntil *time.Time) error
	QuarantineAccount(ctx context.Context, id int64, status store.AccountStatus, note string) error
	CountAccountStatuses(ctx context.Context) (store.AccountStatusCounts, error)
}

// Pool provides scoped connected clients.
type Pool interface {
	WithConnected(ctx context.Context, acc store.Account, body func(upstream.Client) error) error
}

type Checker struct {
	logger  *logger.Logger
	store   Store
	pool    Pool
	metrics *metrics.Metrics
	now     func() time.Time
}

// Summary feeds the tick telemetry.
type Summary struct {
	Checked      int
	ActiveTotal  int
	AuthRequired int
	Cooldown     int
	Banned       int
	Error        int
}

func NewChecker(log *logger.Logger, st Store, p Pool, m *metrics.Metrics) *Checker {
	return &Checker{
		logger:  log.WithComponent("health"),
		store:   st,
		pool:    p,
		metrics: m,
		now:     time.Now,
	}
}

// Run probes each active account and persists the classification. A
// ConfigError aborts the rest of the pass; store errors fail the tick.
func (c *Checker) Run(ctx context.Context) (Summary, error) {
	now := c.now().UTC()

	accounts, err := c.store.ListActiveAccounts(ctx)
	if err != nil {
		return Summary{}, err
	}

	if len(accounts) == 0 {
		c.logger.Info("no active accounts")
		return Summary{}, nil
	}

	checked := 0
	for _, acc := range accounts {
		checked++

		if err := c.checkOne(ctx, acc, now); err != nil {
			if upstream.IsConfigError(err) {
				c.logger.Warn("config error, aborting health pass", slog.Any("error", err))
				break
			}
			return Summary{Checked: checked}, err
		}
	}

	counts, err := c.store.CountAccountStatuses(ctx)
	if err != nil {
		return Summary{Checked: checked}, err
	}

	summary := Summary{
		Checked:      checked,
		ActiveTotal:  counts.Total,
		AuthRequired: counts.AuthRequired,
		Cooldown:     counts.Cooldown,
		Banned:       counts.Banned,
		Error:        counts.Error,
	}

	c.logger.Info("account health pass finished",
		slog.Int("checked", summary.Checked),
		slog.Int("active_total", summary.ActiveTotal),
		slog.Int("auth_required", summary.AuthRequired),
		slog.Int("cooldown", summary.Cooldown),
		slog.Int("banned", summary.Banned),
		slog.Int("error", summary.Error))

	return summary, nil
}

// checkOne probes a single account. Only store failures and ConfigError
// come back as errors; upstream failures are absorbed into the status.
func (c *Checker) checkOne(ctx context.Context, acc store.Account, now time.Time) error {
	if strings.TrimSpace(acc.SessionString) == "" {
		return c.store.UpdateAccountHealth(ctx, acc.ID, store.AccountAuthRequired, "missing session_string", nil)
	}

	var authorized bool
	var identity upstream.Identity

	err := c.pool.WithConnected(ctx, acc, func(client upstream.Client) error {
		ok, err := client.IsAuthorized(ctx)
		if err != nil {
			return err
		}
		authorized = ok
		if !ok {
			return nil
		}

		me, err := client.Me(ctx)
		if err != nil {
			return err
		}
		identity = me
		return nil
	})

	switch {
	case err == nil && !authorized:
		return c.store.UpdateAccountHealth(ctx, acc.ID, store.AccountAuthRequired, "session is not authorized", nil)

	case err == nil:
		ident := identity.Username
		if ident == "" {
			ident = strconv.FormatInt(identity.ID, 10)
		}
		return c.store.UpdateAccountHealth(ctx, acc.ID, store.AccountActive, "OK: "+ident, nil)

	case upstream.IsConfigError(err):
		return err

	default:
		return c.recordFailure(ctx, acc, err, now)
	}
}

func (c *Checker) recordFailure(ctx context.Context, acc store.Account, err error, now time.Time) error {
	uerr, ok := upstream.AsError(err)
	if !ok {
		return c.store.UpdateAccountHealth(ctx, acc.ID, store.AccountError, err.Error(), nil)
	}

	switch uerr.Kind {
	case upstream.KindFloodWait:
		until := now.Add(uerr.RetryAfter)
		c.metrics.IncFloodWait()
		note := fmt.Sprintf("FloodWait: %ds", int(uerr.RetryAfter.Seconds()))
		return c.store.UpdateAccountHealth(ctx, acc.ID, store.AccountCooldown, note, &until)

	case upstream.KindFrozen:
		c.metrics.IncQuarantine()
		c.logger.Warn("account frozen, quarantining", slog.Int64("account_id", acc.ID))
		return c.store.QuarantineAccount(ctx, acc.ID, store.AccountBanned, "Frozen: "+uerr.Code)

	default:
		return c.store.UpdateAccountHealth(ctx, acc.ID, store.AccountError, uerr.Error(), nil)
	}
}
