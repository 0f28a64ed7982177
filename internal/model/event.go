package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventTypeDeposit        = "DEPOSIT"
	EventTypeWithdrawal     = "WITHDRAWAL"
	EventTypeTransferDebit  = "TRANSFER_DEBIT"
	EventTypeTransferCredit = "TRANSFER_CREDIT"
)

// TransactionEvent is published once per written transaction row.
// Consumers must deduplicate on TransactionID.
type TransactionEvent struct {
	TransactionID   int64           `json:"transaction_id"`
	AccountID       int64           `json:"account_id"`
	EventType       string          `json:"event_type"`
	TransactionType string          `json:"transaction_type"`
	Amount          decimal.Decimal `json:"amount"`
	BalanceAfter    decimal.Decimal `json:"balance_after"`
	CorrelationID   *string         `json:"correlation_id"`
	Timestamp       time.Time       `json:"timestamp"`
}
