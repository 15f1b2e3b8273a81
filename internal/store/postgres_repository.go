/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It holds the SQL for the currency registry, versioned exchange rates,
 * remittance transactions, the audit trail and the event outbox.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/remittance-service/internal/domain"
)

const uniqueViolation = "23505"

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db            *pgxpool.Pool
	auditExchange string
}

// NewPostgresRepository creates a new instance of PostgresRepository. Audit
// events are enqueued for auditExchange.
func NewPostgresRepository(db *pgxpool.Pool, auditExchange string) *PostgresRepository {
	return &PostgresRepository{db: db, auditExchange: auditExchange}
}

func (r *PostgresRepository) ListCurrencies(ctx context.Context, activeOnly bool) ([]domain.Currency, error) {
	rows, err := r.db.Query(ctx, `
		SELECT code, name, is_active, updated_at
		FROM currencies
		WHERE ($1 = FALSE OR is_active)
		ORDER BY code
	`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	currencies := make([]domain.Currency, 0)
	for rows.Next() {
		var c domain.Currency
		if err := rows.Scan(&c.Code, &c.Name, &c.IsActive, &c.UpdatedAt); err != nil {
			return nil, err
		}
		currencies = append(currencies, c)
	}
	return currencies, rows.Err()
}

func (r *PostgresRepository) GetCurrency(ctx context.Context, code string) (*domain.Currency, error) {
	var c domain.Currency
	err := r.db.QueryRow(ctx, `
		SELECT code, name, is_active, updated_at FROM currencies WHERE code = $1
	`, code).Scan(&c.Code, &c.Name, &c.IsActive, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCurrencyNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *PostgresRepository) UpsertCurrency(ctx context.Context, currency domain.Currency) (*domain.Currency, error) {
	var c domain.Currency
	err := r.db.QueryRow(ctx, `
		INSERT INTO currencies (code, name, is_active, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (code) DO UPDATE
		SET name = EXCLUDED.name,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
		RETURNING code, name, is_active, updated_at
	`, currency.Code, currency.Name, currency.IsActive).Scan(&c.Code, &c.Name, &c.IsActive, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetActiveRate reads rate and fee from a single row, so the pair is always a
// consistent snapshot of one version.
func (r *PostgresRepository) GetActiveRate(ctx context.Context, fromCurrency, toCurrency string) (*domain.CurrencyPairRate, error) {
	query := `
		SELECT r.id, r.from_currency, r.to_currency, r.rate, r.admin_fee_percent, r.updated_by, r.updated_at
		FROM currency_pair_rates r
		JOIN currencies f ON f.code = r.from_currency AND f.is_active
		JOIN currencies t ON t.code = r.to_currency AND t.is_active
		WHERE r.from_currency = $1 AND r.to_currency = $2
		ORDER BY r.updated_at DESC, r.id DESC
		LIMIT 1
	`
	rate, err := scanRate(r.db.QueryRow(ctx, query, fromCurrency, toCurrency))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRateNotFound
		}
		return nil, err
	}
	return rate, nil
}

func (r *PostgresRepository) InsertRate(ctx context.Context, rate *domain.CurrencyPairRate, event domain.AuditEvent) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO currency_pair_rates (from_currency, to_currency, rate, admin_fee_percent, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, rate, admin_fee_percent, updated_at
	`, rate.FromCurrency, rate.ToCurrency, rate.Rate, rate.AdminFeePercent, rate.UpdatedBy, rate.UpdatedAt).
		Scan(&rate.ID, &rate.Rate, &rate.AdminFeePercent, &rate.UpdatedAt)
	if err != nil {
		return err
	}

	stampRateEvent(&event, rate)
	if err := r.recordAuditTx(ctx, tx, event); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) ListRateHistory(ctx context.Context, fromCurrency, toCurrency string, limit int) ([]domain.CurrencyPairRate, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, from_currency, to_currency, rate, admin_fee_percent, updated_by, updated_at
		FROM currency_pair_rates
		WHERE from_currency = $1 AND to_currency = $2
		ORDER BY updated_at DESC, id DESC
		LIMIT $3
	`, fromCurrency, toCurrency, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := make([]domain.CurrencyPairRate, 0)
	for rows.Next() {
		rate, err := scanRate(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, *rate)
	}
	return history, rows.Err()
}

func (r *PostgresRepository) CreateTransaction(ctx context.Context, t *domain.Transaction, event domain.AuditEvent) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO transactions (
			id, transaction_ref, user_id,
			sender_name, sender_phone, sender_country,
			recipient_name, recipient_phone, recipient_bank_name, recipient_account_number,
			from_currency, to_currency, amount_sent, exchange_rate_applied,
			admin_fee_percent_applied, amount_received, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $18)
	`,
		t.ID, t.TransactionRef, t.UserID,
		t.SenderName, t.SenderPhone, t.SenderCountry,
		t.RecipientName, t.RecipientPhone, t.RecipientBankName, t.RecipientAccountNumber,
		t.FromCurrency, t.ToCurrency, t.AmountSent, t.ExchangeRateApplied,
		t.AdminFeePercentApplied, t.AmountReceived, string(t.Status), t.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "transactions_transaction_ref_key" {
			return ErrDuplicateTransactionRef
		}
		return err
	}
	t.UpdatedAt = t.CreatedAt

	if err := r.recordAuditTx(ctx, tx, event); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	t, err := scanTransaction(r.db.QueryRow(ctx, "SELECT "+transactionColumns+" FROM transactions WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return t, nil
}

func (r *PostgresRepository) ListTransactions(ctx context.Context, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if opts.UserID != nil {
		args = append(args, *opts.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if opts.Status != nil {
		args = append(args, string(*opts.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	query := "SELECT " + transactionColumns + " FROM transactions"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, clampLimit(opts.Limit), offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *t)
	}
	return items, rows.Err()
}

// ApplyTransition updates the row only if it still holds the expected status.
// The status update, audit event and outbox row commit together or not at all.
func (r *PostgresRepository) ApplyTransition(ctx context.Context, transition domain.Transition, event domain.AuditEvent) (*domain.Transaction, error) {
	setClause, guard, extra := transitionSQL(transition)

	args := []interface{}{transition.TransactionID, string(transition.From), string(transition.To), transition.At}
	args = append(args, extra...)

	query := `
		UPDATE transactions
		SET status = $3, updated_at = $4, ` + setClause + `
		WHERE id = $1 AND status = $2` + guard + `
		RETURNING ` + transactionColumns

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	updated, err := scanTransaction(tx.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStatusConflict
		}
		return nil, err
	}

	if err := r.recordAuditTx(ctx, tx, event); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

// transitionSQL returns the event-specific SET fragment, an extra WHERE guard
// and the arguments the fragment references from $5 on.
func transitionSQL(t domain.Transition) (string, string, []interface{}) {
	switch t.Event {
	case domain.EventReceiptUploaded:
		return "receipt_file_path = $5, receipt_uploaded_at = $4", " AND receipt_file_path IS NULL", []interface{}{t.ReceiptFilePath}
	case domain.EventApprove:
		return "approved_at = $4", "", nil
	case domain.EventReject:
		return "rejection_reason = $5, rejected_at = $4", "", []interface{}{t.RejectionReason}
	case domain.EventComplete:
		return "completed_at = $4", "", nil
	case domain.EventCancel:
		return "cancelled_at = $4", " AND receipt_file_path IS NULL", nil
	}
	return "updated_at = $4", " AND FALSE", nil
}

func (r *PostgresRepository) ListAuditEvents(ctx context.Context, transactionID uuid.UUID) ([]domain.AuditEvent, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, transaction_id, action, COALESCE(previous_status, ''), COALESCE(new_status, ''),
			actor_id, actor_role, COALESCE(reason, ''), metadata::text, occurred_at
		FROM audit_events
		WHERE transaction_id = $1
		ORDER BY occurred_at, id
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.AuditEvent, 0)
	for rows.Next() {
		var (
			ev           domain.AuditEvent
			prev, next   string
			role         string
			metadataText string
		)
		if err := rows.Scan(&ev.ID, &ev.TransactionID, &ev.Action, &prev, &next, &ev.ActorID, &role, &ev.Reason, &metadataText, &ev.OccurredAt); err != nil {
			return nil, err
		}
		ev.PreviousStatus = domain.Status(prev)
		ev.NewStatus = domain.Status(next)
		ev.ActorRole = domain.Role(role)
		if metadataText != "" && metadataText != "{}" {
			if err := json.Unmarshal([]byte(metadataText), &ev.Metadata); err != nil {
				return nil, fmt.Errorf("decode audit metadata: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// recordAuditTx appends the audit event and enqueues it for the relay.
func (r *PostgresRepository) recordAuditTx(ctx context.Context, tx pgx.Tx, event domain.AuditEvent) error {
	metadata := event.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO audit_events (id, transaction_id, action, previous_status, new_status, actor_id, actor_role, reason, metadata, occurred_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, NULLIF($8, ''), $9::jsonb, $10)
	`, event.ID, event.TransactionID, event.Action, string(event.PreviousStatus), string(event.NewStatus),
		event.ActorID, string(event.ActorRole), event.Reason, string(metadataJSON), event.OccurredAt)
	if err != nil {
		return err
	}

	return enqueueEventTx(ctx, tx, r.auditExchange, event.RoutingKey(), event)
}

func enqueueEventTx(ctx context.Context, tx pgx.Tx, exchange, routingKey string, payload interface{}) error {
	blob, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO event_outbox (exchange, routing_key, payload)
		VALUES ($1, $2, $3::jsonb)
	`, exchange, routingKey, string(blob))
	return err
}

func (r *PostgresRepository) ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]OutboxMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	if staleAfterSeconds <= 0 {
		staleAfterSeconds = 120
	}

	query := `
		WITH candidates AS (
			SELECT id
			FROM event_outbox
			WHERE (
				(status = 'pending' AND next_attempt_at <= NOW())
				OR (status = 'processing' AND processing_started_at < NOW() - ($2 * INTERVAL '1 second'))
			)
			ORDER BY created_at, id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE event_outbox AS o
		SET status = 'processing',
			processing_started_at = NOW(),
			attempts = o.attempts + 1
		FROM candidates
		WHERE o.id = candidates.id
		RETURNING o.id, o.exchange, o.routing_key, o.payload::text, o.attempts
	`

	rows, err := r.db.Query(ctx, query, limit, staleAfterSeconds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]OutboxMessage, 0, limit)
	for rows.Next() {
		var (
			msg         OutboxMessage
			payloadText string
		)
		if err := rows.Scan(&msg.ID, &msg.Exchange, &msg.RoutingKey, &payloadText, &msg.Attempts); err != nil {
			return nil, err
		}
		msg.Payload = []byte(payloadText)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (r *PostgresRepository) MarkOutboxPublished(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE event_outbox
		SET status = 'published',
			published_at = NOW(),
			processing_started_at = NULL,
			last_error = NULL
		WHERE id = $1
	`, id)
	return err
}

func (r *PostgresRepository) MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error {
	if retryAfterSeconds < 1 {
		retryAfterSeconds = 1
	}
	if len(reason) > 2000 {
		reason = reason[:2000]
	}
	_, err := r.db.Exec(ctx, `
		UPDATE event_outbox
		SET status = 'pending',
			next_attempt_at = NOW() + ($2 * INTERVAL '1 second'),
			processing_started_at = NULL,
			last_error = $3
		WHERE id = $1
	`, id, retryAfterSeconds, reason)
	return err
}

const transactionColumns = `id, transaction_ref, user_id,
	sender_name, sender_phone, sender_country,
	recipient_name, recipient_phone, recipient_bank_name, recipient_account_number,
	from_currency, to_currency, amount_sent, exchange_rate_applied,
	admin_fee_percent_applied, amount_received, status, receipt_file_path, rejection_reason,
	created_at, updated_at, receipt_uploaded_at, approved_at, completed_at, rejected_at, cancelled_at`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		t      domain.Transaction
		status string
	)
	err := row.Scan(
		&t.ID, &t.TransactionRef, &t.UserID,
		&t.SenderName, &t.SenderPhone, &t.SenderCountry,
		&t.RecipientName, &t.RecipientPhone, &t.RecipientBankName, &t.RecipientAccountNumber,
		&t.FromCurrency, &t.ToCurrency, &t.AmountSent, &t.ExchangeRateApplied,
		&t.AdminFeePercentApplied, &t.AmountReceived, &status, &t.ReceiptFilePath, &t.RejectionReason,
		&t.CreatedAt, &t.UpdatedAt, &t.ReceiptUploadedAt, &t.ApprovedAt, &t.CompletedAt, &t.RejectedAt, &t.CancelledAt,
	)
	if err != nil {
		return nil, err
	}
	t.Status = domain.Status(status)
	return &t, nil
}

func scanRate(row pgx.Row) (*domain.CurrencyPairRate, error) {
	var rate domain.CurrencyPairRate
	if err := row.Scan(&rate.ID, &rate.FromCurrency, &rate.ToCurrency, &rate.Rate, &rate.AdminFeePercent, &rate.UpdatedBy, &rate.UpdatedAt); err != nil {
		return nil, err
	}
	return &rate, nil
}
