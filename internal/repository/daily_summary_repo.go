package repository

import (
	"context"
	"errors"

	"payledger/internal/model"

	"gorm.io/gorm"
)

type DailySummaryRepository struct {
	db *gorm.DB
}

func NewDailySummaryRepository(db *gorm.DB) *DailySummaryRepository {
	return &DailySummaryRepository{db: db}
}

// ApplyEvent folds one transaction event into its (account, day) summary.
//
// The processed_event insert and the summary write share one transaction, so
// a redelivered event is detected by the primary key on processed_event and
// reported as applied=false without touching the totals.
//
// Events of one account are keyed to one partition and consumed in order,
// so the read-modify-write on the summary row has a single writer.
func (r *DailySummaryRepository) ApplyEvent(ctx context.Context, ev *model.TransactionEvent) (bool, error) {
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model.ProcessedEvent{TransactionID: ev.TransactionID}).Error; err != nil {
			if isDuplicateKey(err) {
				return nil
			}
			return err
		}

		date := ev.Timestamp.UTC().Format(model.SummaryDateLayout)
		var summary model.DailySummary
		err := tx.Where("account_id = ? AND summary_date = ?", ev.AccountID, date).First(&summary).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			summary = model.DailySummary{AccountID: ev.AccountID, SummaryDate: date}
		case err != nil:
			return err
		}

		switch ev.TransactionType {
		case model.TransactionTypeCredit:
			summary.TotalCredits = summary.TotalCredits.Add(ev.Amount)
		case model.TransactionTypeDebit:
			summary.TotalDebits = summary.TotalDebits.Add(ev.Amount)
		}
		summary.TransactionCount++
		summary.ClosingBalance = ev.BalanceAfter

		if err := tx.Save(&summary).Error; err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// ListRange returns the summaries of accountID between from and to
// (YYYY-MM-DD, inclusive), oldest first.
func (r *DailySummaryRepository) ListRange(ctx context.Context, accountID int64, from, to string) ([]*model.DailySummary, error) {
	var rows []*model.DailySummary
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND summary_date >= ? AND summary_date <= ?", accountID, from, to).
		Order("summary_date ASC").
		Find(&rows).Error
	return rows, err
}
