package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Comrade19632/tgParser/internal/config"
	"github.com/Comrade19632/tgParser/internal/dialogs"
	"github.com/Comrade19632/tgParser/internal/ephemeral"
	"github.com/Comrade19632/tgParser/internal/health"
	"github.com/Comrade19632/tgParser/internal/joiner"
	"github.com/Comrade19632/tgParser/internal/logger"
	"github.com/Comrade19632/tgParser/internal/maintenance"
	"github.com/Comrade19632/tgParser/internal/metrics"
	"github.com/Comrade19632/tgParser/internal/notify"
	"github.com/Comrade19632/tgParser/internal/ops"
	"github.com/Comrade19632/tgParser/internal/parser"
	"github.com/Comrade19632/tgParser/internal/pool"
	"github.com/Comrade19632/tgParser/internal/scheduler"
	"github.com/Comrade19632/tgParser/internal/selector"
	"github.com/Comrade19632/tgParser/internal/storage/pg"
	"github.com/Comrade19632/tgParser/internal/store"
	"github.com/Comrade19632/tgParser/internal/upstream/mtproto"
)

// dbPinger adapts *sql.DB to the ops health check.
type dbPinger struct{ db *sql.DB }

func (p dbPinger) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func main() {
	config.LoadConfig()
	cfg := config.AppConfig
	pol := cfg.HarvestPolicy()

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))
	log.Info("worker starting",
		slog.String("instance_id", logger.GetInstanceID()),
		slog.Duration("tick_interval", cfg.TickInterval()),
		slog.Duration("lock_ttl", cfg.LockTTL()))

	db, err := pg.InitDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to initialize database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	eph, err := ephemeral.New(log, cfg.RedisURL, cfg.LockTTL())
	if err != nil {
		log.Error("failed to initialize redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer eph.Close()

	st := store.New(log, db, pol)

	factory := mtproto.NewFactory(log, mtproto.FactoryConfig{
		APIID:         cfg.TelegramAPIID,
		APIHash:       cfg.TelegramAPIHash,
		DeviceModel:   cfg.TelegramDeviceModel,
		SystemVersion: cfg.TelegramSystemVersion,
		AppVersion:    cfg.TelegramAppVersion,
	})
	clients := pool.New(log, factory)

	notifier := notify.New(log, st, cfg.BotToken, cfg.AdminChatID)
	m := metrics.New()

	checker := health.NewChecker(log, st, clients, m)
	picker := selector.New(log, st)
	joinSvc := joiner.New(log)
	dialogSvc := dialogs.NewResolver(log, pol)
	engine := parser.New(log, st, clients, picker, joinSvc, dialogSvc, notifier, m, pol)

	var maint scheduler.MaintenancePass
	if cfg.MaintenanceEnabled {
		maint = maintenance.New(log, st, clients, joinSvc, dialogSvc, pol, cfg.MaintenanceMaxChannels)
	}

	sched := scheduler.New(log, eph, checker, engine, maint, m, scheduler.Options{
		Interval:     cfg.TickInterval(),
		RefreshEvery: pol.LockRefresh,
	})

	opsSrv := ops.New(log, cfg.OpsListenAddr, dbPinger{db}, eph, eph, m)
	go func() {
		if err := opsSrv.Start(); err != nil {
			log.Error("ops listener failed", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = sched.Run(ctx)
	if err != nil && err != context.Canceled {
		log.Error("scheduler stopped", slog.Any("error", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := opsSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("ops listener shutdown failed", slog.Any("error", err))
	}

	log.Info("worker stopped")
}
