// Command seed-staff registers a Telegram user as a notification
// recipient. Quarantine alerts go to the admin chat and to every staff
// user with notifications enabled.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/Comrade19632/tgParser/internal/config"
	"github.com/Comrade19632/tgParser/internal/logger"
	"github.com/Comrade19632/tgParser/internal/storage/pg"
	"github.com/Comrade19632/tgParser/internal/store"
)

func main() {
	userID := flag.Int64("user-id", 0, "telegram user id (required)")
	staff := flag.Bool("staff", true, "grant or revoke the staff flag")
	flag.Parse()

	config.LoadConfig()
	cfg := config.AppConfig
	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))

	if *userID == 0 {
		log.Error("missing required flag -user-id")
		flag.Usage()
		os.Exit(2)
	}

	db, err := pg.InitDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to initialize database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	st := store.New(log, db, cfg.HarvestPolicy())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := st.TrackBotUser(ctx, *userID, time.Now().UTC()); err != nil {
		log.Error("failed to track bot user", slog.Any("error", err))
		os.Exit(1)
	}
	if err := st.SetBotUserStaff(ctx, *userID, *staff); err != nil {
		log.Error("failed to set staff flag", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("staff flag updated",
		slog.Int64("telegram_user_id", *userID),
		slog.Bool("is_staff", *staff))
}
