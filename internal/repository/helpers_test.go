package repository

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"payledger/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq int64

// newSQLiteDB opens a private in-memory database with the ledger schema.
func newSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, atomic.AddInt64(&dbSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&model.Account{},
		&model.AccountTransaction{},
		&model.OutboxMessage{},
		&model.DailySummary{},
		&model.ProcessedEvent{},
	))
	return db
}

// newMockDB wires gorm's MySQL dialector to sqlmock.
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedAccount(t *testing.T, db *gorm.DB, userID int64, balance, currency string) *model.Account {
	t.Helper()
	acc := &model.Account{
		UserID:      userID,
		AccountName: "main",
		Balance:     dec(balance),
		Currency:    currency,
		Status:      model.AccountStatusActive,
	}
	require.NoError(t, db.Create(acc).Error)
	return acc
}
