package service

import (
	"time"

	"payledger/internal/model"

	"github.com/shopspring/decimal"
)

// =============================================================================
// Commands
// =============================================================================
//
// UserID is the calling identity. When non-zero the account being debited or
// credited (the source, for transfers) must belong to it; otherwise the call
// fails with ErrAccountNotFound. Zero skips the check for internal callers.

type DepositCommand struct {
	UserID         int64           `json:"user_id"`
	AccountID      int64           `json:"account_id" validate:"gt=0"`
	Amount         decimal.Decimal `json:"amount" validate:"money"`
	Description    string          `json:"description" validate:"max=255"`
	IdempotencyKey string          `json:"idempotency_key" validate:"notblank,max=100"`
}

type WithdrawCommand struct {
	UserID         int64           `json:"user_id"`
	AccountID      int64           `json:"account_id" validate:"gt=0"`
	Amount         decimal.Decimal `json:"amount" validate:"money"`
	Description    string          `json:"description" validate:"max=255"`
	IdempotencyKey string          `json:"idempotency_key" validate:"notblank,max=100"`
}

type TransferCommand struct {
	UserID               int64           `json:"user_id"`
	SourceAccountID      int64           `json:"source_account_id" validate:"gt=0"`
	DestinationAccountID int64           `json:"destination_account_id" validate:"gt=0"`
	Amount               decimal.Decimal `json:"amount" validate:"money"`
	Description          string          `json:"description" validate:"max=255"`
	IdempotencyKey       string          `json:"idempotency_key" validate:"notblank,max=100"`
}

// =============================================================================
// Results
// =============================================================================

// TransactionResult is the caller-visible snapshot of one transaction row.
type TransactionResult struct {
	ID            int64           `json:"id"`
	AccountID     int64           `json:"account_id"`
	Type          string          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
	CorrelationID *string         `json:"correlation_id"`
	Status        string          `json:"status"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	CreatedAt     time.Time       `json:"created_at"`
	// Replayed is set when the idempotency key had already been applied and
	// this is the stored result, not a new mutation.
	Replayed bool `json:"replayed"`
}

type TransferResult struct {
	CorrelationID string             `json:"correlation_id"`
	Debit         *TransactionResult `json:"debit"`
	Credit        *TransactionResult `json:"credit"`
	Replayed      bool               `json:"replayed"`
}

func (r *TransactionResult) replayed() bool {
	return r != nil && r.Replayed
}

func (r *TransferResult) replayed() bool {
	return r != nil && r.Replayed
}

func newTransactionResult(t *model.AccountTransaction, replayed bool) *TransactionResult {
	return &TransactionResult{
		ID:            t.ID,
		AccountID:     t.AccountID,
		Type:          t.Type,
		Amount:        t.Amount.Round(model.MoneyScale),
		Description:   t.Description,
		CorrelationID: t.CorrelationID,
		Status:        t.Status,
		BalanceAfter:  t.BalanceAfter.Round(model.MoneyScale),
		CreatedAt:     t.CreatedAt,
		Replayed:      replayed,
	}
}

// event returns the published form of a fresh result.
func (r *TransactionResult) event(eventType string) model.TransactionEvent {
	return model.TransactionEvent{
		TransactionID:   r.ID,
		AccountID:       r.AccountID,
		EventType:       eventType,
		TransactionType: r.Type,
		Amount:          r.Amount,
		BalanceAfter:    r.BalanceAfter,
		CorrelationID:   r.CorrelationID,
		Timestamp:       r.CreatedAt,
	}
}
