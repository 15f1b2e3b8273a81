package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/transfa/remittance-service/internal/domain"
	"github.com/transfa/remittance-service/internal/logger"
)

// RateCache is a key->value cache of current pair rates with an explicit TTL.
// It only serves display reads; it is never consulted when a transaction is
// created.
//
// Get returns a nil rate on a miss together with a token describing the
// invalidations seen so far. Set only stores the rate when no Invalidate or
// Flush has happened since the Get that produced token, so a value loaded
// before a rate update is never written back after it.
type RateCache interface {
	Get(ctx context.Context, from, to string) (*domain.CurrencyPairRate, string, error)
	Set(ctx context.Context, rate *domain.CurrencyPairRate, token string) error
	Invalidate(ctx context.Context, from, to string) error
	Flush(ctx context.Context) error
}

type noopRateCache struct{}

func (noopRateCache) Get(context.Context, string, string) (*domain.CurrencyPairRate, string, error) {
	return nil, "", nil
}
func (noopRateCache) Set(context.Context, *domain.CurrencyPairRate, string) error { return nil }
func (noopRateCache) Invalidate(context.Context, string, string) error { return nil }
func (noopRateCache) Flush(context.Context) error { return nil }

// setIfGeneration writes KEYS[1] only while the pair generation (KEYS[2]) and
// the flush generation (KEYS[3]) still match the token in ARGV[2].
var setIfGeneration = redis.NewScript(`
local pair = redis.call('GET', KEYS[2]) or '0'
local all = redis.call('GET', KEYS[3]) or '0'
if pair .. ':' .. all ~= ARGV[2] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// RedisRateCache stores each pair under <prefix>:<FROM>:<TO> as JSON. Pair
// generations live under <prefix>:gen:<FROM>:<TO> and the flush generation
// under <prefix>:gen. Generation keys do not expire.
type RedisRateCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisRateCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisRateCache {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "remittance:rate"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")
	if ttl <= 0 {
		ttl = time.Minute
	}

	return &RedisRateCache{
		client: client,
		prefix: trimmedPrefix,
		ttl:    ttl,
	}
}

func (c *RedisRateCache) key(from, to string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, domain.NormalizeCurrencyCode(from), domain.NormalizeCurrencyCode(to))
}

func (c *RedisRateCache) generationKey(from, to string) string {
	return fmt.Sprintf("%s:gen:%s:%s", c.prefix, domain.NormalizeCurrencyCode(from), domain.NormalizeCurrencyCode(to))
}

func (c *RedisRateCache) flushKey() string {
	return c.prefix + ":gen"
}

func (c *RedisRateCache) isGenerationKey(key string) bool {
	return key == c.flushKey() || strings.HasPrefix(key, c.flushKey()+":")
}

func (c *RedisRateCache) Get(ctx context.Context, from, to string) (*domain.CurrencyPairRate, string, error) {
	key := c.key(from, to)
	values, err := c.client.MGet(ctx, key, c.generationKey(from, to), c.flushKey()).Result()
	if err != nil {
		return nil, "", err
	}
	token := generationValue(values[1]) + ":" + generationValue(values[2])

	raw, ok := values[0].(string)
	if !ok {
		return nil, token, nil
	}
	var rate domain.CurrencyPairRate
	if err := json.Unmarshal([]byte(raw), &rate); err != nil {
		// A corrupt entry is a miss; drop it so the next read repopulates.
		if err := c.client.Del(ctx, key).Err(); err != nil {
			logger.Component("rate_cache").WithField("key", key).WithError(err).Debug("dropping corrupt rate entry failed")
		}
		return nil, token, nil
	}
	return &rate, token, nil
}

func generationValue(v interface{}) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return "0"
}

func (c *RedisRateCache) Set(ctx context.Context, rate *domain.CurrencyPairRate, token string) error {
	raw, err := json.Marshal(rate)
	if err != nil {
		return err
	}
	keys := []string{c.key(rate.FromCurrency, rate.ToCurrency), c.generationKey(rate.FromCurrency, rate.ToCurrency), c.flushKey()}
	stored, err := setIfGeneration.Run(ctx, c.client, keys, raw, token, c.ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if stored == 0 {
		logger.Component("rate_cache").WithField("key", keys[0]).Debug("rate invalidated during load; not caching")
	}
	return nil
}

// Invalidate drops the pair and bumps its generation in one MULTI block.
func (c *RedisRateCache) Invalidate(ctx context.Context, from, to string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, c.generationKey(from, to))
		pipe.Del(ctx, c.key(from, to))
		return nil
	})
	return err
}

// Flush bumps the flush generation, then drops every cached pair under the
// prefix.
func (c *RedisRateCache) Flush(ctx context.Context) error {
	if err := c.client.Incr(ctx, c.flushKey()).Err(); err != nil {
		return err
	}

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+":*", 100).Result()
		if err != nil {
			return err
		}
		entries := keys[:0]
		for _, k := range keys {
			if !c.isGenerationKey(k) {
				entries = append(entries, k)
			}
		}
		if len(entries) > 0 {
			if err := c.client.Del(ctx, entries...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
