package ephemeral

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Comrade19632/tgParser/internal/logger"
)

// Keys in the shared ephemeral store. The lock serializes ticks across
// worker replicas; seq hands out tick ids; last holds the newest tick
// summary for operator tooling.
const (
	LockKey     = "tgparser:tick:lock"
	TickSeqKey  = "tgparser:tick:seq"
	LastTickKey = "tgparser:tick:last"
)

// Release and refresh are token-matched: a holder can only delete or
// re-expire a lock that still carries its own token. A stale holder
// whose lock expired and was re-acquired elsewhere becomes a no-op.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
else
  return 0
end
`)

var refreshScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('EXPIRE', KEYS[1], ARGV[2])
else
  return 0
end
`)

// Client wraps the Redis primitives the tick scheduler needs.
type Client struct {
	logger  *logger.Logger
	rdb     *redis.Client
	lockTTL time.Duration
}

// New connects to Redis by URL.
func New(log *logger.Logger, redisURL string, lockTTL time.Duration) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	return NewWithClient(log, redis.NewClient(opts), lockTTL), nil
}

// NewWithClient wraps an existing Redis client.
func NewWithClient(log *logger.Logger, rdb *redis.Client, lockTTL time.Duration) *Client {
	return &Client{
		logger:  log.WithComponent("ephemeral"),
		rdb:     rdb,
		lockTTL: lockTTL,
	}
}

// Ping verifies connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// AcquireLock attempts to take the tick lock. Returns a per-acquisition
// random token identifying the holder, or "" when another holder has it.
func (c *Client) AcquireLock(ctx context.Context) (string, error) {
	token := uuid.NewString()

	ok, err := c.rdb.SetNX(ctx, LockKey, token, c.lockTTL).Result()
	if err != nil {
		return "", fmt.Errorf("failed to acquire tick lock: %w", err)
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

// ReleaseLock deletes the lock only if it still carries the token.
func (c *Client) ReleaseLock(ctx context.Context, token string) error {
	released, err := releaseScript.Run(ctx, c.rdb, []string{LockKey}, token).Int()
	if err != nil {
		return fmt.Errorf("failed to release tick lock: %w", err)
	}
	if released == 0 {
		c.logger.Warn("tick lock was not ours to release; holder changed")
	}
	return nil
}

// RefreshLock re-extends the lock TTL if the token still matches.
// Returns false when the lock is gone or held by someone else.
func (c *Client) RefreshLock(ctx context.Context, token string) (bool, error) {
	refreshed, err := refreshScript.Run(ctx, c.rdb, []string{LockKey}, token,
		int(c.lockTTL/time.Second)).Int()
	if err != nil {
		return false, fmt.Errorf("failed to refresh tick lock: %w", err)
	}
	return refreshed == 1, nil
}

// NextTickID allocates the next tick id from the monotonic counter.
func (c *Client) NextTickID(ctx context.Context) (int64, error) {
	id, err := c.rdb.Incr(ctx, TickSeqKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate tick id: %w", err)
	}
	return id, nil
}

// WriteTickMeta stores the last-tick summary hash. Best-effort reads
// by operator tooling; only the lock holder writes it.
func (c *Client) WriteTickMeta(ctx context.Context, fields map[string]string) error {
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}

	if err := c.rdb.HSet(ctx, LastTickKey, values).Err(); err != nil {
		return fmt.Errorf("failed to write tick meta: %w", err)
	}

	c.logger.Debug("tick meta written", slog.Int("fields", len(fields)))
	return nil
}

// ReadTickMeta returns the last-tick summary hash (may be empty).
func (c *Client) ReadTickMeta(ctx context.Context) (map[string]string, error) {
	meta, err := c.rdb.HGetAll(ctx, LastTickKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read tick meta: %w", err)
	}
	return meta, nil
}
