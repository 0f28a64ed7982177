package repository

import (
	"context"
	"errors"

	"payledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, account *model.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}

// GetByID loads an account inside tx, or on the pool when tx is nil.
// No row lock is taken; writers detect races through the version CAS.
func (r *AccountRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Account, error) {
	var account model.Account
	err := orDefault(tx, r.db).WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) ListByUserID(ctx context.Context, userID int64) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&accounts).Error
	return accounts, err
}

// ============================================================================
// Version CAS writes
// ============================================================================
//
// UPDATE account SET ..., version = version + 1 WHERE id = ? AND version = ?
//
// Zero rows affected means another writer bumped the version after our load
// (or the row vanished, which cannot happen since accounts are never
// deleted). The caller gets ErrOptimisticLock and re-runs from a fresh load.
//
// The new balance is computed by the caller in decimal and written as a
// value; the database never does arithmetic on money.

func (r *AccountRepository) UpdateBalance(ctx context.Context, tx *gorm.DB, id int64, newBalance decimal.Decimal, expectedVersion int) error {
	return r.compareAndSet(ctx, tx, id, expectedVersion, map[string]interface{}{
		"balance": newBalance,
	})
}

func (r *AccountRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, status string, expectedVersion int) error {
	return r.compareAndSet(ctx, tx, id, expectedVersion, map[string]interface{}{
		"status": status,
	})
}

func (r *AccountRepository) compareAndSet(ctx context.Context, tx *gorm.DB, id int64, expectedVersion int, values map[string]interface{}) error {
	values["version"] = gorm.Expr("version + 1")
	result := orDefault(tx, r.db).WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	return nil
}
