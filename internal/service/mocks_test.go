package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"payledger/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MockBalanceCache is a testify mock of BalanceCache.
type MockBalanceCache struct {
	mock.Mock
}

func (m *MockBalanceCache) Get(ctx context.Context, accountID int64) (decimal.Decimal, bool) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(decimal.Decimal), args.Bool(1)
}

func (m *MockBalanceCache) Put(ctx context.Context, accountID int64, balance decimal.Decimal) {
	m.Called(ctx, accountID, balance)
}

func (m *MockBalanceCache) Evict(ctx context.Context, accountID int64) {
	m.Called(ctx, accountID)
}

// MockEventPublisher is a testify mock of EventPublisher.
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, events []model.TransactionEvent) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

var dbSeq int64

func newTestDB(t *testing.T) *gorm.DB {
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

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedAccount(t *testing.T, db *gorm.DB, userID int64, balance, currency, status string) *model.Account {
	t.Helper()
	acc := &model.Account{
		UserID:      userID,
		AccountName: "main",
		Balance:     dec(balance),
		Currency:    currency,
		Status:      status,
	}
	require.NoError(t, db.Create(acc).Error)
	return acc
}

func balanceOf(t *testing.T, db *gorm.DB, id int64) decimal.Decimal {
	t.Helper()
	var acc model.Account
	require.NoError(t, db.First(&acc, id).Error)
	return acc.Balance
}

func countRows(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&model.AccountTransaction{}).Count(&n).Error)
	return n
}

func sequentialIDs() func() int64 {
	var n int64
	return func() int64 { return atomic.AddInt64(&n, 1) }
}

// newTestExecutor builds an executor with deterministic ids and the driver's
// default isolation level.
func newTestExecutor(db *gorm.DB, opts ...ExecutorOption) *LedgerExecutor {
	base := []ExecutorOption{WithIsolation(sql.LevelDefault), WithIDGenerator(sequentialIDs())}
	return NewLedgerExecutor(db, append(base, opts...)...)
}

// injectConflicts makes the next n account updates lose the version race by
// bumping every account version right before the CAS statement runs.
func injectConflicts(t *testing.T, db *gorm.DB, n int32) *int32 {
	t.Helper()
	remaining := n
	err := db.Callback().Update().Before("gorm:update").Register("test:inject_conflict", func(tx *gorm.DB) {
		if tx.Statement.Table != "account" || atomic.AddInt32(&remaining, -1) < 0 {
			return
		}
		_, err := tx.Statement.ConnPool.ExecContext(tx.Statement.Context, "UPDATE account SET version = version + 1")
		if err != nil {
			_ = tx.AddError(err)
		}
	})
	require.NoError(t, err)
	return &remaining
}
