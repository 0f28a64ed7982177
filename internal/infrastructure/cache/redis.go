package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"payledger/internal/config"
	"payledger/internal/metrics"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

// InitRedis connects to redis and pings it once.
func InitRedis(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// ============================================================================
// Balance cache
// ============================================================================

const (
	balanceKeyPrefix = "balance:"
	fenceKeySuffix   = ":fence"

	// writeFence is how long Put is refused for an account after a write
	// evicted it. A reader that loaded the balance before the commit cannot
	// put it back inside this window.
	writeFence = 5 * time.Second

	putSrc = `
if redis.call("EXISTS", KEYS[2]) == 1 then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1`

	evictSrc = `
redis.call("SET", KEYS[2], "1", "PX", ARGV[1])
return redis.call("DEL", KEYS[1])`
)

// BalanceCache is a read-through cache of account balances.
//
// It is advisory: every redis failure is logged and reported as a miss, and
// writers only ever evict, never update. Evict leaves a short fence that
// blocks Put, so a stale read racing a write is not cached.
type BalanceCache struct {
	client  redis.Cmdable
	ttl     time.Duration
	log     *slog.Logger
	metrics *metrics.Recorder
}

func NewBalanceCache(client redis.Cmdable, ttl time.Duration, log *slog.Logger, rec *metrics.Recorder) *BalanceCache {
	if log == nil {
		log = slog.Default()
	}
	return &BalanceCache{
		client:  client,
		ttl:     ttl,
		log:     log.With("component", "balance_cache"),
		metrics: rec,
	}
}

func BalanceKey(accountID int64) string {
	return balanceKeyPrefix + strconv.FormatInt(accountID, 10)
}

func fenceKey(accountID int64) string {
	return BalanceKey(accountID) + fenceKeySuffix
}

// Get returns the cached balance and whether it was present.
func (c *BalanceCache) Get(ctx context.Context, accountID int64) (decimal.Decimal, bool) {
	val, err := c.client.Get(ctx, BalanceKey(accountID)).Result()
	if errors.Is(err, redis.Nil) {
		c.metrics.ObserveCache(metrics.CacheMiss)
		return decimal.Zero, false
	}
	if err != nil {
		c.metrics.ObserveCache(metrics.CacheError)
		c.log.Warn("balance cache get failed", "account_id", accountID, "error", err)
		return decimal.Zero, false
	}
	balance, err := decimal.NewFromString(val)
	if err != nil {
		c.metrics.ObserveCache(metrics.CacheError)
		c.log.Warn("balance cache holds garbage", "account_id", accountID, "value", val)
		return decimal.Zero, false
	}
	c.metrics.ObserveCache(metrics.CacheHit)
	return balance, true
}

// Put caches balance unless a write fenced the account off.
func (c *BalanceCache) Put(ctx context.Context, accountID int64, balance decimal.Decimal) {
	keys := []string{BalanceKey(accountID), fenceKey(accountID)}
	stored, err := c.client.Eval(ctx, putSrc, keys, balance.StringFixed(4), c.ttl.Milliseconds()).Int64()
	if err != nil {
		c.log.Warn("balance cache put failed", "account_id", accountID, "error", err)
		return
	}
	if stored == 0 {
		c.log.Debug("balance cache put fenced", "account_id", accountID)
	}
}

func (c *BalanceCache) Evict(ctx context.Context, accountID int64) {
	keys := []string{BalanceKey(accountID), fenceKey(accountID)}
	if err := c.client.Eval(ctx, evictSrc, keys, writeFence.Milliseconds()).Err(); err != nil {
		c.log.Warn("balance cache evict failed", "account_id", accountID, "error", err)
	}
}
