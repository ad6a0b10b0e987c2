// Command seed-channels registers channels to harvest. Public channels
// are given as usernames or t.me links; private ones as invite links
// or bare invite hashes.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/Comrade19632/tgParser/internal/config"
	"github.com/Comrade19632/tgParser/internal/joiner"
	"github.com/Comrade19632/tgParser/internal/logger"
	"github.com/Comrade19632/tgParser/internal/storage/pg"
	"github.com/Comrade19632/tgParser/internal/store"
)

type stringList []string

func (l *stringList) String() string { return "" }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

var demoChannels = []string{"telegram", "durov"}

func main() {
	var public, private stringList
	flag.Var(&public, "public", "public channel username or t.me link (repeatable)")
	flag.Var(&private, "private", "invite link or hash (repeatable)")
	demo := flag.Bool("demo", false, "seed a couple of well-known public channels")
	backfillDays := flag.Int("backfill-days", -1, "history depth for first parse (-1 uses DEFAULT_BACKFILL_DAYS)")
	flag.Parse()

	config.LoadConfig()
	cfg := config.AppConfig
	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))

	if *demo {
		public = append(public, demoChannels...)
	}
	if len(public) == 0 && len(private) == 0 {
		log.Error("nothing to seed; pass -public, -private or -demo")
		flag.Usage()
		os.Exit(2)
	}

	days := *backfillDays
	if days < 0 {
		days = cfg.DefaultBackfillDays
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

	failed := false
	for _, raw := range public {
		username := joiner.NormalizePublic(raw)
		if username == "" {
			log.Error("invalid public channel identifier", slog.String("input", raw))
			failed = true
			continue
		}
		seedOne(ctx, log, st, store.ChannelPublic, username, days, &failed)
	}

	for _, raw := range private {
		hash := joiner.ExtractInviteHash(raw)
		if hash == "" {
			log.Error("invalid invite link or hash", slog.String("input", raw))
			failed = true
			continue
		}
		seedOne(ctx, log, st, store.ChannelPrivate, hash, days, &failed)
	}

	if failed {
		os.Exit(1)
	}
}

func seedOne(ctx context.Context, log *logger.Logger, st *store.Store, chType store.ChannelType, identifier string, days int, failed *bool) {
	id, created, err := st.UpsertChannel(ctx, chType, identifier, days)
	if err != nil {
		log.Error("failed to upsert channel",
			slog.String("identifier", identifier), slog.Any("error", err))
		*failed = true
		return
	}

	verb := "updated"
	if created {
		verb = "created"
	}
	log.Info("channel "+verb,
		slog.Int64("channel_id", id),
		slog.String("type", string(chType)),
		slog.String("identifier", identifier))
}
