package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create appends a row. A clash on the idempotency key index comes back as
// ErrDuplicateIdempotencyKey; any other unique violation, a reused primary
// key included, is returned as a plain insert error.
func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.AccountTransaction) error {
	err := orDefault(tx, r.db).WithContext(ctx).Create(trans).Error
	switch {
	case err == nil:
		return nil
	case isIdempotencyKeyClash(err):
		return fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, trans.IdempotencyKey)
	default:
		return fmt.Errorf("insert transaction %d: %w", trans.ID, err)
	}
}

// GetByIdempotencyKey returns nil, nil when no row carries key.
func (r *TransactionRepository) GetByIdempotencyKey(ctx context.Context, tx *gorm.DB, key string) (*model.AccountTransaction, error) {
	var trans model.AccountTransaction
	err := orDefault(tx, r.db).WithContext(ctx).Where("idempotency_key = ?", key).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

func (r *TransactionRepository) ListByCorrelationID(ctx context.Context, tx *gorm.DB, correlationID string) ([]*model.AccountTransaction, error) {
	var rows []*model.AccountTransaction
	err := orDefault(tx, r.db).WithContext(ctx).
		Where("correlation_id = ?", correlationID).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *TransactionRepository) GetByID(ctx context.Context, id int64) (*model.AccountTransaction, error) {
	var trans model.AccountTransaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &trans, nil
}

// ============================================================================
// History query
// ============================================================================

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// sortColumns whitelists the columns a caller may order by.
var sortColumns = map[string]string{
	"createdAt":  "created_at",
	"created_at": "created_at",
	"amount":     "amount",
	"type":       "type",
	"status":     "status",
}

type TransactionFilter struct {
	AccountID int64
	Type      string
	Status    string
	From      *time.Time
	To        *time.Time
	MinAmount *decimal.Decimal
	MaxAmount *decimal.Decimal
	Page      int
	PageSize  int
	SortBy    string
	SortDesc  bool
}

// Normalize clamps paging and replaces an unknown sort field with created_at.
func (f *TransactionFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	if _, ok := sortColumns[f.SortBy]; !ok {
		f.SortBy = "createdAt"
		f.SortDesc = true
	}
}

func (r *TransactionRepository) List(ctx context.Context, f TransactionFilter) ([]*model.AccountTransaction, int64, error) {
	f.Normalize()

	query := r.db.WithContext(ctx).Model(&model.AccountTransaction{}).Where("account_id = ?", f.AccountID)
	if f.Type != "" {
		query = query.Where("type = ?", f.Type)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.From != nil {
		query = query.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		query = query.Where("created_at <= ?", *f.To)
	}
	if f.MinAmount != nil {
		query = query.Where("amount >= ?", *f.MinAmount)
	}
	if f.MaxAmount != nil {
		query = query.Where("amount <= ?", *f.MaxAmount)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	direction := "ASC"
	if f.SortDesc {
		direction = "DESC"
	}
	var rows []*model.AccountTransaction
	err := query.
		Order(sortColumns[f.SortBy] + " " + direction).
		Order("id " + direction).
		Offset((f.Page - 1) * f.PageSize).
		Limit(f.PageSize).
		Find(&rows).Error
	return rows, total, err
}
