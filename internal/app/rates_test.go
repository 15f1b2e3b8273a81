package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/remittance-service/internal/domain"
	"github.com/transfa/remittance-service/internal/logger"
	"github.com/transfa/remittance-service/internal/store"
)

func newRedisRateCache(t *testing.T, ttl time.Duration) (*RedisRateCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisRateCache(client, "test:rate:", ttl), mr
}

func TestRedisRateCacheRoundTripAndExpiry(t *testing.T) {
	cache, mr := newRedisRateCache(t, 30*time.Second)
	ctx := context.Background()

	miss, token, err := cache.Get(ctx, "USD", "NGN")
	require.NoError(t, err)
	assert.Nil(t, miss)
	assert.Equal(t, "0:0", token)

	rate := &domain.CurrencyPairRate{
		ID:              7,
		FromCurrency:    "USD",
		ToCurrency:      "NGN",
		Rate:            decimal.RequireFromString("0.138"),
		AdminFeePercent: decimal.RequireFromString("2.5"),
	}
	require.NoError(t, cache.Set(ctx, rate, token))
	assert.True(t, mr.Exists("test:rate:USD:NGN"))

	got, _, err := cache.Get(ctx, "usd", "ngn")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(7), got.ID)
	assert.True(t, got.Rate.Equal(rate.Rate))

	mr.FastForward(31 * time.Second)
	expired, _, err := cache.Get(ctx, "USD", "NGN")
	require.NoError(t, err)
	assert.Nil(t, expired)
}

func TestRedisRateCacheTreatsCorruptEntryAsMiss(t *testing.T) {
	cache, mr := newRedisRateCache(t, time.Minute)
	require.NoError(t, mr.Set("test:rate:USD:NGN", "{not json"))

	got, token, err := cache.Get(context.Background(), "USD", "NGN")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, "0:0", token)
	assert.False(t, mr.Exists("test:rate:USD:NGN"))
}

// failingDelClient refuses every DEL and passes the rest through.
type failingDelClient struct {
	redis.UniversalClient
}

func (failingDelClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	cmd.SetErr(errors.New("READONLY You can't write against a read only replica."))
	return cmd
}

func TestRedisRateCacheLogsFailedCorruptEntryDelete(t *testing.T) {
	previousLevel := logger.Log.GetLevel()
	previousHooks := logger.Log.ReplaceHooks(make(logrus.LevelHooks))
	logger.Log.SetLevel(logrus.DebugLevel)
	hook := logrustest.NewLocal(logger.Log)
	t.Cleanup(func() {
		logger.Log.SetLevel(previousLevel)
		logger.Log.ReplaceHooks(previousHooks)
	})

	cache, mr := newRedisRateCache(t, time.Minute)
	require.NoError(t, mr.Set("test:rate:USD:NGN", "{not json"))
	cache.client = failingDelClient{UniversalClient: cache.client}

	got, _, err := cache.Get(context.Background(), "USD", "NGN")
	require.NoError(t, err)
	assert.Nil(t, got)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.DebugLevel, entry.Level)
	assert.Equal(t, "dropping corrupt rate entry failed", entry.Message)
	assert.Equal(t, "rate_cache", entry.Data["component"])
	assert.Equal(t, "test:rate:USD:NGN", entry.Data["key"])
	assert.Contains(t, entry.Data[logrus.ErrorKey].(error).Error(), "READONLY")
}

func TestRedisRateCacheFlushOnlyTouchesPrefix(t *testing.T) {
	cache, mr := newRedisRateCache(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, mr.Set("other:key", "keep"))

	for _, to := range []string{"NGN", "GBP", "EUR"} {
		require.NoError(t, cache.Set(ctx, &domain.CurrencyPairRate{FromCurrency: "USD", ToCurrency: to, Rate: decimal.NewFromInt(1)}, "0:0"))
	}
	require.NoError(t, cache.Flush(ctx))

	assert.Equal(t, []string{"other:key", "test:rate:gen"}, mr.Keys())
}

func TestRedisRateCacheSkipsWriteAfterInvalidation(t *testing.T) {
	cache, mr := newRedisRateCache(t, time.Minute)
	ctx := context.Background()
	stale := &domain.CurrencyPairRate{ID: 1, FromCurrency: "USD", ToCurrency: "NGN", Rate: decimal.RequireFromString("0.138")}

	_, token, err := cache.Get(ctx, "USD", "NGN")
	require.NoError(t, err)

	require.NoError(t, cache.Invalidate(ctx, "USD", "NGN"))
	require.NoError(t, cache.Set(ctx, stale, token))
	assert.False(t, mr.Exists("test:rate:USD:NGN"))

	_, token, err = cache.Get(ctx, "USD", "NGN")
	require.NoError(t, err)
	assert.Equal(t, "1:0", token)
	require.NoError(t, cache.Set(ctx, stale, token))
	assert.True(t, mr.Exists("test:rate:USD:NGN"))
}

func TestRedisRateCacheSkipsWriteAfterFlush(t *testing.T) {
	cache, mr := newRedisRateCache(t, time.Minute)
	ctx := context.Background()

	_, token, err := cache.Get(ctx, "USD", "NGN")
	require.NoError(t, err)
	require.NoError(t, cache.Flush(ctx))

	require.NoError(t, cache.Set(ctx, &domain.CurrencyPairRate{FromCurrency: "USD", ToCurrency: "NGN", Rate: decimal.NewFromInt(1)}, token))
	assert.False(t, mr.Exists("test:rate:USD:NGN"))
}

// racingRateRepository runs onLoad after reading the active rate and before
// returning it, the window in which a concurrent update can land.
type racingRateRepository struct {
	*store.MemoryRepository
	onLoad func()
}

func (r *racingRateRepository) GetActiveRate(ctx context.Context, from, to string) (*domain.CurrencyPairRate, error) {
	rate, err := r.MemoryRepository.GetActiveRate(ctx, from, to)
	if r.onLoad != nil {
		hook := r.onLoad
		r.onLoad = nil
		hook()
	}
	return rate, err
}

func TestGetExchangeRateDoesNotCacheRateLoadedBeforeUpdate(t *testing.T) {
	racing := &racingRateRepository{}
	env := newTestEnvWithRepo(t, func(m *store.MemoryRepository) store.Repository {
		racing.MemoryRepository = m
		return racing
	})
	cache, mr := newRedisRateCache(t, time.Minute)
	env.svc.SetRateCache(cache)
	ctx := context.Background()

	racing.onLoad = func() { env.setRate(t, "USD", "NGN", "0.150", "2.5") }

	loaded, err := env.svc.GetExchangeRate(ctx, "USD", "NGN")
	require.NoError(t, err)
	assert.True(t, loaded.Rate.Equal(decimal.RequireFromString("0.138")))
	assert.False(t, mr.Exists("test:rate:USD:NGN"))

	current, err := env.svc.GetExchangeRate(ctx, "USD", "NGN")
	require.NoError(t, err)
	assert.True(t, current.Rate.Equal(decimal.RequireFromString("0.150")))
	assert.True(t, mr.Exists("test:rate:USD:NGN"))
}

func TestGetExchangeRateUsesCacheUntilRateUpdate(t *testing.T) {
	env := newTestEnv(t)
	cache, _ := newRedisRateCache(t, time.Minute)
	env.svc.SetRateCache(cache)
	ctx := context.Background()

	first, err := env.svc.GetExchangeRate(ctx, "usd", "ngn")
	require.NoError(t, err)
	assert.True(t, first.Rate.Equal(decimal.RequireFromString("0.138")))

	// A version written behind the service's back is not seen until the entry expires.
	require.NoError(t, env.repo.InsertRate(ctx, &domain.CurrencyPairRate{
		FromCurrency:    "USD",
		ToCurrency:      "NGN",
		Rate:            decimal.RequireFromString("0.140"),
		AdminFeePercent: decimal.RequireFromString("2.5"),
		UpdatedAt:       env.clock,
	}, domain.AuditEvent{Action: domain.AuditRateUpdated, OccurredAt: env.clock}))

	cached, err := env.svc.GetExchangeRate(ctx, "USD", "NGN")
	require.NoError(t, err)
	assert.Equal(t, first.ID, cached.ID)

	env.setRate(t, "USD", "NGN", "0.150", "2.5")
	fresh, err := env.svc.GetExchangeRate(ctx, "USD", "NGN")
	require.NoError(t, err)
	assert.True(t, fresh.Rate.Equal(decimal.RequireFromString("0.150")))
}

func TestCreateTransactionIgnoresStaleCache(t *testing.T) {
	env := newTestEnv(t)
	cache, _ := newRedisRateCache(t, time.Minute)
	env.svc.SetRateCache(cache)
	ctx := context.Background()

	_, err := env.svc.GetExchangeRate(ctx, "USD", "NGN")
	require.NoError(t, err)

	require.NoError(t, env.repo.InsertRate(ctx, &domain.CurrencyPairRate{
		FromCurrency:    "USD",
		ToCurrency:      "NGN",
		Rate:            decimal.RequireFromString("0.200"),
		AdminFeePercent: decimal.Zero,
		UpdatedAt:       env.clock,
	}, domain.AuditEvent{Action: domain.AuditRateUpdated, OccurredAt: env.clock}))

	tx, err := env.svc.CreateTransaction(ctx, env.createCommand("1000"))
	require.NoError(t, err)
	assert.Equal(t, "200.00", tx.AmountReceived.StringFixed(2))
}

func TestPreviewQuote(t *testing.T) {
	env := newTestEnv(t)

	quote, err := env.svc.PreviewQuote(context.Background(), "USD", "NGN", decimal.NewFromInt(1000))
	require.NoError(t, err)
	assert.Equal(t, "25", quote.Fee.String())
	assert.Equal(t, "975", quote.NetAfterFee.String())
	assert.Equal(t, "134.55", quote.AmountReceived.StringFixed(2))

	_, err = env.svc.PreviewQuote(context.Background(), "GBP", "USD", decimal.NewFromInt(1000))
	require.ErrorIs(t, err, domain.ErrRateUnavailable)
}

func TestUpdateExchangeRate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		cmd     domain.UpdateRateCommand
		wantErr error
	}{
		{
			name:    "requires authority",
			cmd:     domain.UpdateRateCommand{Actor: env.owner, FromCurrencyCode: "USD", ToCurrencyCode: "NGN", Rate: decimal.NewFromInt(1)},
			wantErr: domain.ErrForbidden,
		},
		{
			name:    "unknown currency",
			cmd:     domain.UpdateRateCommand{Actor: env.admin, FromCurrencyCode: "USD", ToCurrencyCode: "XYZ", Rate: decimal.NewFromInt(1)},
			wantErr: domain.ErrCurrencyNotFound,
		},
		{
			name:    "zero rate",
			cmd:     domain.UpdateRateCommand{Actor: env.admin, FromCurrencyCode: "USD", ToCurrencyCode: "NGN", Rate: decimal.Zero},
			wantErr: domain.ErrInvalidQuoteInput,
		},
		{
			name:    "fee above one hundred",
			cmd:     domain.UpdateRateCommand{Actor: env.admin, FromCurrencyCode: "USD", ToCurrencyCode: "NGN", Rate: decimal.NewFromInt(1), AdminFeePercent: decimal.NewFromInt(101)},
			wantErr: domain.ErrInvalidQuoteInput,
		},
		{
			name:    "rate finer than eight places",
			cmd:     domain.UpdateRateCommand{Actor: env.admin, FromCurrencyCode: "USD", ToCurrencyCode: "NGN", Rate: decimal.RequireFromString("0.138000001")},
			wantErr: domain.ErrInvalidQuoteInput,
		},
		{
			name:    "fee finer than four places",
			cmd:     domain.UpdateRateCommand{Actor: env.admin, FromCurrencyCode: "USD", ToCurrencyCode: "NGN", Rate: decimal.NewFromInt(1), AdminFeePercent: decimal.RequireFromString("2.50001")},
			wantErr: domain.ErrInvalidQuoteInput,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.UpdateExchangeRate(ctx, tt.cmd)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	env.setRate(t, "usd", "ngn", "0.139", "2")
	history, err := env.svc.ExchangeRateHistory(ctx, env.admin, "USD", "NGN", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].Rate.Equal(decimal.RequireFromString("0.139")))
	assert.True(t, history[1].Rate.Equal(decimal.RequireFromString("0.138")))
	require.NotNil(t, history[0].UpdatedBy)
	assert.Equal(t, env.admin.ID, *history[0].UpdatedBy)

	_, err = env.svc.ExchangeRateHistory(ctx, env.owner, "USD", "NGN", 10)
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestUpdateExchangeRateResponseMatchesStoredVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	updated := env.setRate(t, "USD", "NGN", "0.12345678", "1.2345")

	current, err := env.repo.GetActiveRate(ctx, "USD", "NGN")
	require.NoError(t, err)
	assert.Equal(t, current.ID, updated.ID)
	assert.True(t, current.Rate.Equal(updated.Rate))
	assert.True(t, current.AdminFeePercent.Equal(updated.AdminFeePercent))

	history, err := env.svc.ExchangeRateHistory(ctx, env.admin, "USD", "NGN", 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "0.12345678", history[0].Rate.String())
	assert.Equal(t, "1.2345", history[0].AdminFeePercent.String())
}

func TestUpsertCurrencyFlushesCache(t *testing.T) {
	env := newTestEnv(t)
	cache, mr := newRedisRateCache(t, time.Minute)
	env.svc.SetRateCache(cache)
	ctx := context.Background()

	_, err := env.svc.GetExchangeRate(ctx, "USD", "NGN")
	require.NoError(t, err)
	require.True(t, mr.Exists("test:rate:USD:NGN"))

	_, err = env.svc.UpsertCurrency(ctx, domain.UpsertCurrencyCommand{Actor: env.admin, Code: "ngn", Name: "Naira", IsActive: false})
	require.NoError(t, err)
	assert.False(t, mr.Exists("test:rate:USD:NGN"))

	_, err = env.svc.GetExchangeRate(ctx, "USD", "NGN")
	require.ErrorIs(t, err, domain.ErrRateUnavailable)

	active, err := env.svc.ListCurrencies(ctx, true)
	require.NoError(t, err)
	for _, c := range active {
		assert.NotEqual(t, "NGN", c.Code)
	}
}
