package config

import (
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"

	"github.com/Comrade19632/tgParser/internal/policy"
)

type Config struct {
	// Database
	DatabaseURL string

	// Redis (tick lock, tick meta)
	RedisURL string

	// Telegram Bot API, used for admin notifications
	BotToken    string
	AdminChatID int64

	// MTProto credentials used when an account row carries none of its own
	TelegramAPIID   int
	TelegramAPIHash string

	// Device identity reported to Telegram
	TelegramDeviceModel   string
	TelegramSystemVersion string
	TelegramAppVersion    string

	// Upstream connect timeout
	UpstreamDialTimeout time.Duration

	// Harvest loop
	TickIntervalSeconds int
	DefaultBackfillDays int
	LockTTLSeconds      int

	// Membership maintenance
	MaintenanceEnabled     bool
	MaintenanceMaxChannels int

	// Ops HTTP listener (health, metrics, last tick)
	OpsListenAddr string

	// Database Connection Pool
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxIdleTime int // in minutes
	DBConnMaxLifetime int // in minutes

	// Shutdown
	ShutdownTimeoutSeconds int

	// Logging
	LogLevel  string
	LogFormat string

	// Harvest policy overrides, loaded from the optional config file.
	Policy *policy.FileConfig `yaml:"policy"`
}

var AppConfig *Config

// LockTTL returns the tick lock TTL. It is never shorter than the tick
// interval plus slack, so a live holder cannot lose the lock mid-tick.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// TickInterval returns the pause between completed ticks.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}

// HarvestPolicy returns the stock policy with file overrides applied.
func (c *Config) HarvestPolicy() policy.Policy {
	return policy.Default().Merge(c.Policy)
}

func LoadConfig() {
	// Load .env file if it exists
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	AppConfig = &Config{
		// Database
		DatabaseURL: getEnvOrDefault("DATABASE_URL", "postgres://localhost/tgparser?sslmode=disable"),

		// Redis
		RedisURL: getEnvOrDefault("REDIS_URL", "redis://localhost:6379/0"),

		// Telegram Bot API
		BotToken:    getEnvOrDefault("BOT_TOKEN", ""),
		AdminChatID: getEnvAsInt64("ADMIN_CHAT_ID", 0),

		// MTProto fallback credentials
		TelegramAPIID:   getEnvAsInt("TELEGRAM_API_ID", 0),
		TelegramAPIHash: getEnvOrDefault("TELEGRAM_API_HASH", ""),

		// Device identity
		TelegramDeviceModel:   getEnvOrDefault("TELEGRAM_DEVICE_MODEL", "PC 64bit"),
		TelegramSystemVersion: getEnvOrDefault("TELEGRAM_SYSTEM_VERSION", "Linux"),
		TelegramAppVersion:    getEnvOrDefault("TELEGRAM_APP_VERSION", "1.0"),

		UpstreamDialTimeout: getEnvAsDuration("UPSTREAM_DIAL_TIMEOUT", 15*time.Second),

		// Harvest loop
		TickIntervalSeconds: getEnvAsInt("TICK_INTERVAL_SECONDS", 3600),
		DefaultBackfillDays: getEnvAsInt("DEFAULT_BACKFILL_DAYS", 0),
		LockTTLSeconds:      getEnvAsInt("LOCK_TTL_SECONDS", 0),

		// Membership maintenance
		MaintenanceEnabled:     getEnvOrDefault("MAINTENANCE_ENABLED", "true") == "true",
		MaintenanceMaxChannels: getEnvAsInt("MAINTENANCE_MAX_CHANNELS", 50),

		// Ops listener
		OpsListenAddr: getEnvOrDefault("OPS_LISTEN_ADDR", ":9090"),

		// Database Connection Pool
		DBMaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 15),
		DBMaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxIdleTime: getEnvAsInt("DB_CONN_MAX_IDLE_TIME_MINUTES", 1),
		DBConnMaxLifetime: getEnvAsInt("DB_CONN_MAX_LIFETIME_MINUTES", 30),

		// Shutdown
		ShutdownTimeoutSeconds: getEnvAsInt("SHUTDOWN_TIMEOUT_SECONDS", 30),

		// Logging
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}

	if AppConfig.TickIntervalSeconds <= 0 {
		log.Fatalf("TICK_INTERVAL_SECONDS must be positive, got %d", AppConfig.TickIntervalSeconds)
	}

	// The lock must outlive a slow tick: at least 55 minutes, and always
	// the tick interval plus five minutes of slack.
	if AppConfig.LockTTLSeconds <= 0 {
		AppConfig.LockTTLSeconds = 55 * 60
		if withSlack := AppConfig.TickIntervalSeconds + 300; withSlack > AppConfig.LockTTLSeconds {
			AppConfig.LockTTLSeconds = withSlack
		}
	}

	// Load policy overrides from an optional policy file.
	policyFilePath := getEnvOrDefault("POLICY_FILE", "policy.yaml")
	policyFile, err := os.Open(policyFilePath)
	if err != nil {
		log.Printf("No policy file at %s, using stock harvest policy", policyFilePath)
	} else {
		defer policyFile.Close()
		if err := LoadConfigFile(policyFile, AppConfig); err != nil {
			log.Fatalf("Failed to load policy file: %v", err)
		}
		log.Printf("Loaded policy file: %s", policyFilePath)
	}

	if AppConfig.BotToken == "" {
		log.Println("Warning: BOT_TOKEN is missing, admin notifications are disabled")
	}

	if AppConfig.BotToken != "" && AppConfig.AdminChatID == 0 {
		log.Println("Warning: ADMIN_CHAT_ID is missing, admin notifications go nowhere")
	}

	if AppConfig.TelegramAPIID == 0 || AppConfig.TelegramAPIHash == "" {
		log.Println("Warning: TELEGRAM_API_ID/TELEGRAM_API_HASH are missing; accounts without own credentials cannot connect")
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as time.Duration, using default %v: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as int64, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func LoadConfigFile(reader io.Reader, config *Config) error {
	decoder := yaml.NewDecoder(reader)

	if err := decoder.Decode(config); err != nil {
		return err
	}

	return nil
}
