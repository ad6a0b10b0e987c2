// Command tick runs a single harvest tick and exits. Intended for cron
// and for operators who want a manual run.
//
// Exit codes: 0 tick completed, 2 lock held by a live worker, 1 error.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Comrade19632/tgParser/internal/config"
	"github.com/Comrade19632/tgParser/internal/dialogs"
	"github.com/Comrade19632/tgParser/internal/ephemeral"
	"github.com/Comrade19632/tgParser/internal/health"
	"github.com/Comrade19632/tgParser/internal/joiner"
	"github.com/Comrade19632/tgParser/internal/logger"
	"github.com/Comrade19632/tgParser/internal/maintenance"
	"github.com/Comrade19632/tgParser/internal/metrics"
	"github.com/Comrade19632/tgParser/internal/notify"
	"github.com/Comrade19632/tgParser/internal/parser"
	"github.com/Comrade19632/tgParser/internal/pool"
	"github.com/Comrade19632/tgParser/internal/scheduler"
	"github.com/Comrade19632/tgParser/internal/selector"
	"github.com/Comrade19632/tgParser/internal/storage/pg"
	"github.com/Comrade19632/tgParser/internal/store"
	"github.com/Comrade19632/tgParser/internal/upstream/mtproto"
)

func main() {
	force := flag.Bool("force", false, "run even when the tick lock is held")
	flag.Parse()

	config.LoadConfig()
	cfg := config.AppConfig
	pol := cfg.HarvestPolicy()

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code, err := sched.RunOnce(ctx, *force)
	if err != nil {
		log.Error("tick failed", slog.Any("error", err))
		os.Exit(1)
	}
	os.Exit(code)
}
