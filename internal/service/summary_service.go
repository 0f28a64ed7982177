package service

import (
	"context"
	"log/slog"
	"time"

	"payledger/internal/model"
	"payledger/internal/repository"

	"gorm.io/gorm"
)

// maxSummaryRange caps one summary query.
const maxSummaryRange = 366 * 24 * time.Hour

// SummaryService maintains and serves per-account daily totals built from
// published transaction events.
type SummaryService struct {
	summaries *repository.DailySummaryRepository
	accounts  *repository.AccountRepository
	log       *slog.Logger
}

func NewSummaryService(db *gorm.DB, log *slog.Logger) *SummaryService {
	if log == nil {
		log = slog.Default()
	}
	return &SummaryService{
		summaries: repository.NewDailySummaryRepository(db),
		accounts:  repository.NewAccountRepository(db),
		log:       log.With("component", "summary_service"),
	}
}

// Apply folds ev into its daily summary. Redelivered events are ignored.
func (s *SummaryService) Apply(ctx context.Context, ev *model.TransactionEvent) error {
	applied, err := s.summaries.ApplyEvent(ctx, ev)
	if err != nil {
		return err
	}
	if !applied {
		s.log.Info("duplicate event skipped", "transaction_id", ev.TransactionID)
	}
	return nil
}

// List returns the summaries of an account between from and to inclusive
// (YYYY-MM-DD).
func (s *SummaryService) List(ctx context.Context, userID, accountID int64, from, to string) ([]*model.DailySummary, error) {
	fromDay, err := time.Parse(model.SummaryDateLayout, from)
	if err != nil {
		return nil, invalid("from", "must be a YYYY-MM-DD date")
	}
	toDay, err := time.Parse(model.SummaryDateLayout, to)
	if err != nil {
		return nil, invalid("to", "must be a YYYY-MM-DD date")
	}
	if toDay.Before(fromDay) {
		return nil, invalid("to", "must not be before from")
	}
	if toDay.Sub(fromDay) > maxSummaryRange {
		return nil, invalid("to", "range must not exceed one year")
	}

	account, err := s.accounts.GetByID(ctx, nil, accountID)
	if err != nil {
		return nil, err
	}
	if userID != 0 && account.UserID != userID {
		return nil, ErrAccountNotFound
	}
	return s.summaries.ListRange(ctx, accountID, from, to)
}
