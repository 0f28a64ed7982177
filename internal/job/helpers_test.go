package job

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"payledger/internal/infrastructure/database"
	"payledger/internal/model"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

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
	require.NoError(t, database.Migrate(db))
	return db
}

func seedOutbox(t *testing.T, db *gorm.DB, status string, retries int, payloads ...string) []*model.OutboxMessage {
	t.Helper()
	var msgs []*model.OutboxMessage
	for i, p := range payloads {
		msg := &model.OutboxMessage{
			MessageKey: fmt.Sprint(i + 1),
			Topic:      "transaction-events",
			Payload:    p,
			Status:     status,
			RetryCount: retries,
		}
		require.NoError(t, db.Create(msg).Error)
		msgs = append(msgs, msg)
	}
	return msgs
}

func loadOutbox(t *testing.T, db *gorm.DB, id int64) *model.OutboxMessage {
	t.Helper()
	var msg model.OutboxMessage
	require.NoError(t, db.First(&msg, id).Error)
	return &msg
}

// MockJobLock is a testify mock of JobLock.
type MockJobLock struct {
	mock.Mock
}

func (m *MockJobLock) TryLock(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockJobLock) Refresh(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockJobLock) Unlock(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
