package repository

import (
	"errors"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

var (
	ErrAccountNotFound         = errors.New("account not found")
	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrOptimisticLock          = errors.New("optimistic lock conflict")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

const mysqlDuplicateEntry = 1062

// isDuplicateKey recognises a unique-index violation from any of the
// dialects the service runs on.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isIdempotencyKeyClash reports whether err is a unique violation on the
// idempotency_key column rather than on the primary key or another index.
// Both MySQL ("for key '...idempotency_key'") and SQLite
// ("UNIQUE constraint failed: account_transaction.idempotency_key") name the
// index in the driver message.
func isIdempotencyKeyClash(err error) bool {
	return isDuplicateKey(err) && strings.Contains(err.Error(), "idempotency_key")
}

func orDefault(tx, db *gorm.DB) *gorm.DB {
	if tx == nil {
		return db
	}
	return tx
}
