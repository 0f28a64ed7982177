package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	AccountStatusActive = "ACTIVE"
	AccountStatusFrozen = "FROZEN"
	AccountStatusClosed = "CLOSED"
)

const DefaultCurrency = "USD"

// Account is the mutable side of the ledger: one running balance per account.
//
// Balance only changes through the ledger executor; status only through the
// account service. Both paths bump Version, which is the optimistic lock token.
// Accounts are never deleted.
type Account struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      int64           `gorm:"index;not null" json:"user_id"`
	AccountName string          `gorm:"type:varchar(50);not null" json:"account_name"`
	Balance     decimal.Decimal `gorm:"type:decimal(19,4);not null;default:0" json:"balance"`
	Currency    string          `gorm:"type:char(3);not null;default:USD" json:"currency"`
	Status      string          `gorm:"type:varchar(20);not null;default:ACTIVE" json:"status"`
	Version     int             `gorm:"not null;default:0" json:"version"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}

func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

// ValidAccountStatus reports whether s is one of the known statuses.
func ValidAccountStatus(s string) bool {
	switch s {
	case AccountStatusActive, AccountStatusFrozen, AccountStatusClosed:
		return true
	}
	return false
}
