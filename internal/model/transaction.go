package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// Transaction types and statuses
// ============================================================================

const (
	TransactionTypeCredit = "CREDIT"
	TransactionTypeDebit  = "DEBIT"
)

const (
	TransactionStatusPending   = "PENDING"
	TransactionStatusCompleted = "COMPLETED"
	TransactionStatusFailed    = "FAILED"
)

// MoneyScale is the number of fractional digits carried by every amount and balance.
const MoneyScale = 4

// ============================================================================
// Transaction log entry
// ============================================================================

// AccountTransaction is one immutable row of the transaction log.
//
// Rules for the log:
//  1. Append only. Rows are never updated or deleted.
//  2. IdempotencyKey is unique across the whole table.
//  3. A transfer produces exactly two rows sharing CorrelationID: the DEBIT
//     leg keyed by the caller key and the CREDIT leg keyed by key + suffix.
//  4. BalanceAfter is the account balance right after this row was applied.
type AccountTransaction struct {
	ID             int64           `gorm:"primaryKey;autoIncrement:false" json:"id"`
	AccountID      int64           `gorm:"index;not null" json:"account_id"`
	Type           string          `gorm:"type:varchar(10);not null" json:"type"`
	Amount         decimal.Decimal `gorm:"type:decimal(19,4);not null" json:"amount"`
	Description    string          `gorm:"type:varchar(255)" json:"description"`
	CorrelationID  *string         `gorm:"type:varchar(36);index" json:"correlation_id"`
	IdempotencyKey string          `gorm:"type:varchar(128);uniqueIndex;not null" json:"idempotency_key"`
	Status         string          `gorm:"type:varchar(20);not null" json:"status"`
	BalanceAfter   decimal.Decimal `gorm:"type:decimal(19,4);not null" json:"balance_after"`
	CreatedAt      time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (AccountTransaction) TableName() string {
	return "account_transaction"
}

// IsTransferLeg reports whether the row belongs to a transfer pair.
func (t *AccountTransaction) IsTransferLeg() bool {
	return t.CorrelationID != nil && *t.CorrelationID != ""
}
