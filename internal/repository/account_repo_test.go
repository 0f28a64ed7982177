package repository

import (
	"context"
	"errors"
	"testing"

	"payledger/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountRepository_GetByID(t *testing.T) {
	db := newSQLiteDB(t)
	repo := NewAccountRepository(db)
	acc := seedAccount(t, db, 1, "1000", "USD")

	got, err := repo.GetByID(context.Background(), nil, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.UserID)
	assert.True(t, got.Balance.Equal(dec("1000")))

	_, err = repo.GetByID(context.Background(), nil, 9999)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestAccountRepository_ListByUserID(t *testing.T) {
	db := newSQLiteDB(t)
	repo := NewAccountRepository(db)
	seedAccount(t, db, 1, "0", "USD")
	seedAccount(t, db, 1, "0", "EUR")
	seedAccount(t, db, 2, "0", "USD")

	accounts, err := repo.ListByUserID(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "USD", accounts[0].Currency)
	assert.Equal(t, "EUR", accounts[1].Currency)
}

func TestAccountRepository_UpdateBalanceCAS(t *testing.T) {
	db := newSQLiteDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()
	acc := seedAccount(t, db, 1, "1000", "USD")

	require.NoError(t, repo.UpdateBalance(ctx, nil, acc.ID, dec("1500.5"), acc.Version))

	got, err := repo.GetByID(ctx, nil, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "1500.5000", got.Balance.StringFixed(4))
	assert.Equal(t, acc.Version+1, got.Version)

	// the version we loaded is stale now
	err = repo.UpdateBalance(ctx, nil, acc.ID, dec("1"), acc.Version)
	assert.ErrorIs(t, err, ErrOptimisticLock)

	got, err = repo.GetByID(ctx, nil, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "1500.5000", got.Balance.StringFixed(4))
}

func TestAccountRepository_UpdateStatusCAS(t *testing.T) {
	db := newSQLiteDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()
	acc := seedAccount(t, db, 1, "0", "USD")

	require.NoError(t, repo.UpdateStatus(ctx, nil, acc.ID, model.AccountStatusFrozen, acc.Version))
	assert.ErrorIs(t, repo.UpdateStatus(ctx, nil, acc.ID, model.AccountStatusClosed, acc.Version), ErrOptimisticLock)

	got, err := repo.GetByID(ctx, nil, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AccountStatusFrozen, got.Status)
	assert.Equal(t, 1, got.Version)
}

func TestAccountRepository_UpdateBalanceSQL(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `account` SET .*`version`=version \\+ 1.* WHERE id = \\? AND version = \\?").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := repo.UpdateBalance(context.Background(), nil, 42, dec("10"), 3)
	assert.ErrorIs(t, err, ErrOptimisticLock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_UpdateBalancePropagatesDriverError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountRepository(db)
	boom := errors.New("connection reset")

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `account`").WillReturnError(boom)
	mock.ExpectRollback()

	err := repo.UpdateBalance(context.Background(), nil, 42, dec("10"), 3)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}
