package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/remittance-service/internal/domain"
)

// MemoryRepository is an in-process Repository for tests and local runs. It
// keeps the same conditional-update and audit/outbox atomicity guarantees as
// PostgresRepository by doing every write under one mutex.
type MemoryRepository struct {
	mu            sync.Mutex
	auditExchange string
	now           func() time.Time

	currencies   map[string]domain.Currency
	rates        []domain.CurrencyPairRate
	nextRateID   int64
	transactions map[uuid.UUID]domain.Transaction
	refs         map[string]uuid.UUID
	audit        []domain.AuditEvent
	outbox       []memoryOutboxRow
	nextOutboxID int64
}

type memoryOutboxRow struct {
	OutboxMessage
	status              string
	nextAttemptAt       time.Time
	processingStartedAt time.Time
	lastError           string
}

func NewMemoryRepository(auditExchange string) *MemoryRepository {
	return &MemoryRepository{
		auditExchange: auditExchange,
		now:           func() time.Time { return time.Now().UTC() },
		currencies:    make(map[string]domain.Currency),
		transactions:  make(map[uuid.UUID]domain.Transaction),
		refs:          make(map[string]uuid.UUID),
	}
}

func (m *MemoryRepository) ListCurrencies(ctx context.Context, activeOnly bool) ([]domain.Currency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Currency, 0, len(m.currencies))
	for _, c := range m.currencies {
		if activeOnly && !c.IsActive {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *MemoryRepository) GetCurrency(ctx context.Context, code string) (*domain.Currency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.currencies[code]
	if !ok {
		return nil, ErrCurrencyNotFound
	}
	return &c, nil
}

func (m *MemoryRepository) UpsertCurrency(ctx context.Context, currency domain.Currency) (*domain.Currency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	currency.UpdatedAt = m.now()
	m.currencies[currency.Code] = currency
	return &currency, nil
}

func (m *MemoryRepository) GetActiveRate(ctx context.Context, fromCurrency, toCurrency string) (*domain.CurrencyPairRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from, okFrom := m.currencies[fromCurrency]
	to, okTo := m.currencies[toCurrency]
	if !okFrom || !okTo || !from.IsActive || !to.IsActive {
		return nil, ErrRateNotFound
	}
	history := m.historyLocked(fromCurrency, toCurrency)
	if len(history) == 0 {
		return nil, ErrRateNotFound
	}
	latest := history[0]
	return &latest, nil
}

func (m *MemoryRepository) InsertRate(ctx context.Context, rate *domain.CurrencyPairRate, event domain.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.currencies[rate.FromCurrency]; !ok {
		return ErrCurrencyNotFound
	}
	if _, ok := m.currencies[rate.ToCurrency]; !ok {
		return ErrCurrencyNotFound
	}

	m.nextRateID++
	rate.ID = m.nextRateID
	roundRateToColumns(rate)
	m.rates = append(m.rates, *rate)

	stampRateEvent(&event, rate)
	return m.recordAuditLocked(event)
}

func (m *MemoryRepository) ListRateHistory(ctx context.Context, fromCurrency, toCurrency string, limit int) ([]domain.CurrencyPairRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	history := m.historyLocked(fromCurrency, toCurrency)
	if n := clampLimit(limit); len(history) > n {
		history = history[:n]
	}
	return history, nil
}

// historyLocked returns the versions of a pair newest first.
func (m *MemoryRepository) historyLocked(fromCurrency, toCurrency string) []domain.CurrencyPairRate {
	out := make([]domain.CurrencyPairRate, 0)
	for _, r := range m.rates {
		if r.FromCurrency == fromCurrency && r.ToCurrency == toCurrency {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (m *MemoryRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction, event domain.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.refs[tx.TransactionRef]; exists {
		return ErrDuplicateTransactionRef
	}
	if _, exists := m.transactions[tx.ID]; exists {
		return fmt.Errorf("transaction %s already exists", tx.ID)
	}
	tx.UpdatedAt = tx.CreatedAt
	m.transactions[tx.ID] = cloneTransaction(*tx)
	m.refs[tx.TransactionRef] = tx.ID
	return m.recordAuditLocked(event)
}

func (m *MemoryRepository) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.transactions[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	out := cloneTransaction(t)
	return &out, nil
}

func (m *MemoryRepository) ListTransactions(ctx context.Context, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := make([]domain.Transaction, 0)
	for _, t := range m.transactions {
		if opts.UserID != nil && t.UserID != *opts.UserID {
			continue
		}
		if opts.Status != nil && t.Status != *opts.Status {
			continue
		}
		items = append(items, cloneTransaction(t))
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID.String() > items[j].ID.String()
	})

	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []domain.Transaction{}, nil
	}
	items = items[offset:]
	if n := clampLimit(opts.Limit); len(items) > n {
		items = items[:n]
	}
	return items, nil
}

func (m *MemoryRepository) ApplyTransition(ctx context.Context, transition domain.Transition, event domain.AuditEvent) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.transactions[transition.TransactionID]
	if !ok || current.Status != transition.From {
		return nil, ErrStatusConflict
	}
	if (transition.Event == domain.EventReceiptUploaded || transition.Event == domain.EventCancel) && current.HasReceipt() {
		return nil, ErrStatusConflict
	}

	updated := transition.Apply(cloneTransaction(current))
	if err := m.recordAuditLocked(event); err != nil {
		return nil, err
	}
	m.transactions[updated.ID] = updated

	out := cloneTransaction(updated)
	return &out, nil
}

func (m *MemoryRepository) ListAuditEvents(ctx context.Context, transactionID uuid.UUID) ([]domain.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := make([]domain.AuditEvent, 0)
	for _, ev := range m.audit {
		if ev.TransactionID != nil && *ev.TransactionID == transactionID {
			events = append(events, ev)
		}
	}
	return events, nil
}

func (m *MemoryRepository) recordAuditLocked(event domain.AuditEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	m.audit = append(m.audit, event)
	m.nextOutboxID++
	m.outbox = append(m.outbox, memoryOutboxRow{
		OutboxMessage: OutboxMessage{
			ID:         m.nextOutboxID,
			Exchange:   m.auditExchange,
			RoutingKey: event.RoutingKey(),
			Payload:    payload,
		},
		status:        "pending",
		nextAttemptAt: m.now(),
	})
	return nil
}

func (m *MemoryRepository) ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]OutboxMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	if staleAfterSeconds <= 0 {
		staleAfterSeconds = 120
	}
	now := m.now()
	staleBefore := now.Add(-time.Duration(staleAfterSeconds) * time.Second)

	claimed := make([]OutboxMessage, 0, limit)
	for i := range m.outbox {
		if len(claimed) == limit {
			break
		}
		row := &m.outbox[i]
		ready := row.status == "pending" && !row.nextAttemptAt.After(now)
		stale := row.status == "processing" && row.processingStartedAt.Before(staleBefore)
		if !ready && !stale {
			continue
		}
		row.status = "processing"
		row.processingStartedAt = now
		row.Attempts++
		claimed = append(claimed, row.OutboxMessage)
	}
	return claimed, nil
}

func (m *MemoryRepository) MarkOutboxPublished(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.outbox {
		if m.outbox[i].ID == id {
			m.outbox[i].status = "published"
			m.outbox[i].lastError = ""
			return nil
		}
	}
	return nil
}

func (m *MemoryRepository) MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if retryAfterSeconds < 1 {
		retryAfterSeconds = 1
	}
	for i := range m.outbox {
		if m.outbox[i].ID == id {
			m.outbox[i].status = "pending"
			m.outbox[i].nextAttemptAt = m.now().Add(time.Duration(retryAfterSeconds) * time.Second)
			m.outbox[i].lastError = reason
			return nil
		}
	}
	return nil
}

// OutboxStatus reports the relay status of an outbox row and its last error.
func (m *MemoryRepository) OutboxStatus(id int64) (string, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range m.outbox {
		if row.ID == id {
			return row.status, row.lastError, true
		}
	}
	return "", "", false
}

// PendingOutboxCount returns how many outbox rows are not yet published.
func (m *MemoryRepository) PendingOutboxCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, row := range m.outbox {
		if row.status != "published" {
			n++
		}
	}
	return n
}

func cloneTransaction(t domain.Transaction) domain.Transaction {
	t.RecipientBankName = cloneString(t.RecipientBankName)
	t.RecipientAccountNumber = cloneString(t.RecipientAccountNumber)
	t.ReceiptFilePath = cloneString(t.ReceiptFilePath)
	t.RejectionReason = cloneString(t.RejectionReason)
	t.ReceiptUploadedAt = cloneTime(t.ReceiptUploadedAt)
	t.ApprovedAt = cloneTime(t.ApprovedAt)
	t.CompletedAt = cloneTime(t.CompletedAt)
	t.RejectedAt = cloneTime(t.RejectedAt)
	t.CancelledAt = cloneTime(t.CancelledAt)
	return t
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
