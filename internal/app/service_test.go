package app

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"github.com/transfa/remittance-service/internal/domain"
	"github.com/transfa/remittance-service/internal/storage"
	"github.com/transfa/remittance-service/internal/store"
)

var pngReceipt = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type testEnv struct {
	svc   *Service
	repo  *store.MemoryRepository
	fs    afero.Fs
	owner domain.Actor
	admin domain.Actor
	clock time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithRepo(t, nil)
}

// newTestEnvWithRepo wraps the seeded memory repository with wrap when given,
// so tests can intercept individual repository calls.
func newTestEnvWithRepo(t *testing.T, wrap func(*store.MemoryRepository) store.Repository) *testEnv {
	t.Helper()
	ctx := context.Background()

	repo := store.NewMemoryRepository("remittance.audit")
	for _, c := range []domain.Currency{
		{Code: "USD", Name: "US Dollar", IsActive: true},
		{Code: "NGN", Name: "Nigerian Naira", IsActive: true},
		{Code: "GBP", Name: "Pound Sterling", IsActive: true},
	} {
		_, err := repo.UpsertCurrency(ctx, c)
		require.NoError(t, err)
	}

	env := &testEnv{
		repo:  repo,
		fs:    afero.NewMemMapFs(),
		owner: domain.Actor{ID: uuid.New(), Role: domain.RoleUser},
		admin: domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin},
		clock: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	}

	var r store.Repository = repo
	if wrap != nil {
		r = wrap(repo)
	}
	receipts := storage.NewReceiptStore(env.fs, "/receipts", 1024, []string{"image/png", "image/jpeg", "application/pdf"})
	env.svc = NewService(r, receipts)
	env.svc.now = func() time.Time {
		env.clock = env.clock.Add(time.Second)
		return env.clock
	}

	env.setRate(t, "USD", "NGN", "0.138", "2.5")
	return env
}

func (e *testEnv) setRate(t *testing.T, from, to, rate, fee string) *domain.CurrencyPairRate {
	t.Helper()
	r, err := e.svc.UpdateExchangeRate(context.Background(), domain.UpdateRateCommand{
		Actor:            e.admin,
		FromCurrencyCode: from,
		ToCurrencyCode:   to,
		Rate:             decimal.RequireFromString(rate),
		AdminFeePercent:  decimal.RequireFromString(fee),
	})
	require.NoError(t, err)
	return r
}

func (e *testEnv) createCommand(amount string) domain.CreateTransactionCommand {
	return domain.CreateTransactionCommand{
		Actor:             e.owner,
		SenderName:        "Ada Obi",
		SenderPhone:       "+15550100",
		SenderCountry:     "US",
		RecipientName:     "Chidi Obi",
		RecipientPhone:    "+2348030000000",
		RecipientBankName: "First Bank",
		FromCurrencyCode:  "usd",
		ToCurrencyCode:    "ngn",
		AmountSent:        decimal.RequireFromString(amount),
	}
}

func (e *testEnv) createPending(t *testing.T) *domain.Transaction {
	t.Helper()
	tx, err := e.svc.CreateTransaction(context.Background(), e.createCommand("1000"))
	require.NoError(t, err)
	return tx
}

func (e *testEnv) createUnderReview(t *testing.T) *domain.Transaction {
	t.Helper()
	tx := e.createPending(t)
	updated, err := e.svc.AttachReceipt(context.Background(), tx.ID, e.owner, bytes.NewReader(pngReceipt))
	require.NoError(t, err)
	return updated
}

func (e *testEnv) storedReceiptCount(t *testing.T) int {
	t.Helper()
	count := 0
	err := afero.Walk(e.fs, "/", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			count++
		}
		return nil
	})
	require.NoError(t, err)
	return count
}
