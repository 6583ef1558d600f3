package redis

import (
	"context"
	"time"

	"github.com/cloudflare/cfssl/log"
	"github.com/confirmledger/commonconst"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

type Options struct {
	Addr     string
	Password string
	DB       int
	//zero keeps entries until invalidated
	TTL time.Duration
}

// BalanceCache keeps derived balances in redis so several processes
// reading the same store share one cache.
type BalanceCache struct {
	rdb *redis.Client
	ttl time.Duration
	//bounds every redis round trip
	timeout time.Duration
}

//初始化
func NewBalanceCache(opts Options) *BalanceCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &BalanceCache{rdb: rdb, ttl: opts.TTL, timeout: time.Second}
}

func (c *BalanceCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func key(addr string) string {
	return commonconst.BalanceCacheKey + addr
}

//get
func (c *BalanceCache) Get(addr string) (decimal.Decimal, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	val, err := c.rdb.Get(ctx, key(addr)).Result()
	if err == redis.Nil {
		return decimal.Zero, false
	} else if err != nil {
		log.Warningf("redis get %s: %v", addr, err)
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(val)
	if err != nil {
		log.Warningf("redis value for %s is not a decimal: %v", addr, err)
		return decimal.Zero, false
	}
	return d, true
}

//set
func (c *BalanceCache) Set(addr string, amount decimal.Decimal) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.rdb.Set(ctx, key(addr), amount.String(), c.ttl).Err(); err != nil {
		log.Warningf("redis set %s: %v", addr, err)
	}
}

func (c *BalanceCache) Invalidate(addrs ...string) {
	if len(addrs) == 0 {
		return
	}
	keys := make([]string, 0, len(addrs))
	for _, a := range addrs {
		keys = append(keys, key(a))
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		log.Errorf("redis invalidate %v: %v", addrs, err)
	}
}

func (c *BalanceCache) Close() error {
	return c.rdb.Close()
}
