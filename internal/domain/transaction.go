/**
 * @description
 * This file defines the core domain models for the remittance service: the
 * Transaction entity and the acting principal. These structs are shared by the
 * business logic, the database layer and the HTTP layer.
 *
 * @notes
 * - Money fields use shopspring/decimal so conversion math stays exact. They are
 *   encoded as JSON strings.
 * - ExchangeRateApplied, AdminFeePercentApplied and AmountReceived are captured
 *   at creation and never recomputed.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction is one customer money-transfer request and its lifecycle record.
// It maps to the `transactions` table.
type Transaction struct {
	ID             uuid.UUID `json:"id"`
	TransactionRef string    `json:"transactionRef"`
	UserID         uuid.UUID `json:"userId"`

	SenderName             string  `json:"senderName"`
	SenderPhone            string  `json:"senderPhone"`
	SenderCountry          string  `json:"senderCountry"`
	RecipientName          string  `json:"recipientName"`
	RecipientPhone         string  `json:"recipientPhone"`
	RecipientBankName      *string `json:"recipientBankName,omitempty"`
	RecipientAccountNumber *string `json:"recipientAccountNumber,omitempty"`

	FromCurrency           string          `json:"fromCurrency"`
	ToCurrency             string          `json:"toCurrency"`
	AmountSent             decimal.Decimal `json:"amountSent"`
	ExchangeRateApplied    decimal.Decimal `json:"exchangeRateApplied"`
	AdminFeePercentApplied decimal.Decimal `json:"adminFeePercentApplied"`
	AmountReceived         decimal.Decimal `json:"amountReceived"`

	Status          Status  `json:"status"`
	ReceiptFilePath *string `json:"receiptFilePath,omitempty"`
	RejectionReason *string `json:"rejectionReason,omitempty"`

	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	ReceiptUploadedAt *time.Time `json:"receiptUploadedAt,omitempty"`
	ApprovedAt        *time.Time `json:"approvedAt,omitempty"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
	RejectedAt        *time.Time `json:"rejectedAt,omitempty"`
	CancelledAt       *time.Time `json:"cancelledAt,omitempty"`
}

// HasReceipt reports whether a receipt has been attached.
func (t *Transaction) HasReceipt() bool {
	return t.ReceiptFilePath != nil && *t.ReceiptFilePath != ""
}

// Role is the authorization role carried by an authenticated principal.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Actor is the authenticated principal performing an operation.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}

// HasApprovalAuthority reports whether the actor may approve, reject and
// complete transactions or change exchange rates.
func (a Actor) HasApprovalAuthority() bool {
	return a.Role == RoleAdmin || a.Role == RoleSuperAdmin
}

// CanAccess reports whether the actor may view or act on tx as its owner.
func (a Actor) CanAccess(tx *Transaction) bool {
	return a.HasApprovalAuthority() || (a.ID != uuid.Nil && a.ID == tx.UserID)
}

// TransactionListOptions controls paging and filtering of transaction lists.
type TransactionListOptions struct {
	UserID *uuid.UUID
	Status *Status
	Limit  int
	Offset int
}
