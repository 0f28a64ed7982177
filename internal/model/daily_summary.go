package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DailySummary aggregates one account's activity for one calendar day (UTC).
// It is maintained by the summary consumer from published transaction events.
type DailySummary struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID        int64           `gorm:"not null;uniqueIndex:idx_summary_account_date" json:"account_id"`
	SummaryDate      string          `gorm:"type:char(10);not null;uniqueIndex:idx_summary_account_date" json:"summary_date"` // YYYY-MM-DD
	TotalCredits     decimal.Decimal `gorm:"type:decimal(19,4);not null;default:0" json:"total_credits"`
	TotalDebits      decimal.Decimal `gorm:"type:decimal(19,4);not null;default:0" json:"total_debits"`
	TransactionCount int             `gorm:"not null;default:0" json:"transaction_count"`
	ClosingBalance   decimal.Decimal `gorm:"type:decimal(19,4);not null;default:0" json:"closing_balance"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (DailySummary) TableName() string {
	return "daily_account_summary"
}

// ProcessedEvent remembers which transaction events were already folded into
// a summary, so a redelivered event is not counted twice.
type ProcessedEvent struct {
	TransactionID int64     `gorm:"primaryKey;autoIncrement:false" json:"transaction_id"`
	ProcessedAt   time.Time `gorm:"autoCreateTime" json:"processed_at"`
}

func (ProcessedEvent) TableName() string {
	return "processed_event"
}

// SummaryDateLayout is the layout of DailySummary.SummaryDate.
const SummaryDateLayout = "2006-01-02"
