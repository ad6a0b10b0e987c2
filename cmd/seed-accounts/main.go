// Command seed-accounts registers or refreshes a harvester account.
// The session string must come from an already-authorized Telethon or
// gotd session; this tool performs no interactive login.
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
	phone := flag.String("phone-number", "", "account phone number (required, unique key)")
	label := flag.String("label", "", "human-readable account label")
	apiID := flag.Int("api-id", 0, "per-account api_id (0 uses TELEGRAM_API_ID)")
	apiHash := flag.String("api-hash", "", "per-account api_hash (empty uses TELEGRAM_API_HASH)")
	session := flag.String("session-string", "", "Telethon-format session string")
	proxyURL := flag.String("proxy-url", "", "socks5:// proxy for this account")
	method := flag.String("method", "session_string", "how the account was onboarded")
	flag.Parse()

	config.LoadConfig()
	cfg := config.AppConfig
	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))

	if *phone == "" {
		log.Error("missing required flag -phone-number")
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

	id, created, err := st.UpsertAccountByPhone(ctx, store.UpsertAccountParams{
		Label:            *label,
		PhoneNumber:      *phone,
		OnboardingMethod: *method,
		SessionString:    *session,
		APIID:            *apiID,
		APIHash:          *apiHash,
		ProxyURL:         *proxyURL,
	})
	if err != nil {
		log.Error("failed to upsert account", slog.Any("error", err))
		os.Exit(1)
	}

	if created {
		log.Info("account created", slog.Int64("account_id", id), slog.String("phone", *phone))
	} else {
		log.Info("account updated", slog.Int64("account_id", id), slog.String("phone", *phone))
	}
}
