package service

import (
	"context"
	"log/slog"
	"strings"

	"payledger/internal/model"
	"payledger/internal/repository"

	"gorm.io/gorm"
)

const (
	OpDeposit  = "deposit"
	OpWithdraw = "withdraw"
	OpTransfer = "transfer"
)

// LedgerService is the entry point for money movement. It validates input,
// runs the executor under the retry policy, and on a fresh success evicts
// the touched balances from the cache and publishes one event per row.
// A replay does neither.
type LedgerService struct {
	executor     *LedgerExecutor
	retry        *RetryCoordinator
	validator    *Validator
	cache        BalanceCache
	publisher    EventPublisher
	accounts     *repository.AccountRepository
	transactions *repository.TransactionRepository
	log          *slog.Logger
}

func NewLedgerService(db *gorm.DB, executor *LedgerExecutor, retry *RetryCoordinator,
	cache BalanceCache, publisher EventPublisher, log *slog.Logger) *LedgerService {
	if cache == nil {
		cache = NopCache{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &LedgerService{
		executor:     executor,
		retry:        retry,
		validator:    NewValidator(),
		cache:        cache,
		publisher:    publisher,
		accounts:     repository.NewAccountRepository(db),
		transactions: repository.NewTransactionRepository(db),
		log:          log.With("component", "ledger_service"),
	}
}

func (s *LedgerService) Deposit(ctx context.Context, cmd DepositCommand) (*TransactionResult, error) {
	if err := s.validateKeyed(cmd, cmd.IdempotencyKey); err != nil {
		return nil, err
	}
	result, err := Execute(ctx, s.retry, OpDeposit,
		func(ctx context.Context) (*TransactionResult, bool, error) {
			r, err := s.executor.LookupSingle(ctx, cmd.UserID, cmd.IdempotencyKey, model.TransactionTypeCredit)
			return r, r != nil, err
		},
		func(ctx context.Context) (*TransactionResult, error) {
			return s.executor.Deposit(ctx, cmd)
		})
	if err != nil {
		return nil, err
	}
	if !result.Replayed {
		s.afterCommit(ctx, result.event(model.EventTypeDeposit))
	}
	return result, nil
}

func (s *LedgerService) Withdraw(ctx context.Context, cmd WithdrawCommand) (*TransactionResult, error) {
	if err := s.validateKeyed(cmd, cmd.IdempotencyKey); err != nil {
		return nil, err
	}
	result, err := Execute(ctx, s.retry, OpWithdraw,
		func(ctx context.Context) (*TransactionResult, bool, error) {
			r, err := s.executor.LookupSingle(ctx, cmd.UserID, cmd.IdempotencyKey, model.TransactionTypeDebit)
			return r, r != nil, err
		},
		func(ctx context.Context) (*TransactionResult, error) {
			return s.executor.Withdraw(ctx, cmd)
		})
	if err != nil {
		return nil, err
	}
	if !result.Replayed {
		s.afterCommit(ctx, result.event(model.EventTypeWithdrawal))
	}
	return result, nil
}

func (s *LedgerService) Transfer(ctx context.Context, cmd TransferCommand) (*TransferResult, error) {
	if err := s.validateKeyed(cmd, cmd.IdempotencyKey); err != nil {
		return nil, err
	}
	if cmd.SourceAccountID == cmd.DestinationAccountID {
		return nil, invalid("destination_account_id", "must differ from source_account_id")
	}
	result, err := Execute(ctx, s.retry, OpTransfer,
		func(ctx context.Context) (*TransferResult, bool, error) {
			r, err := s.executor.LookupTransfer(ctx, cmd.UserID, cmd.IdempotencyKey)
			return r, r != nil, err
		},
		func(ctx context.Context) (*TransferResult, error) {
			return s.executor.Transfer(ctx, cmd)
		})
	if err != nil {
		return nil, err
	}
	if !result.Replayed {
		s.afterCommit(ctx,
			result.Debit.event(model.EventTypeTransferDebit),
			result.Credit.event(model.EventTypeTransferCredit))
	}
	return result, nil
}

// validateKeyed runs the struct rules, then rejects keys that end with the
// credit leg suffix, since those would collide with a transfer's credit row.
func (s *LedgerService) validateKeyed(cmd interface{}, key string) error {
	if err := s.validator.Struct(cmd); err != nil {
		return err
	}
	if strings.HasSuffix(key, s.executor.creditKeySuffix) {
		return invalid("idempotency_key", "must not end with "+s.executor.creditKeySuffix)
	}
	return nil
}

// afterCommit evicts cached balances and publishes events. Failures are
// logged and dropped.
func (s *LedgerService) afterCommit(ctx context.Context, events ...model.TransactionEvent) {
	for _, ev := range events {
		s.cache.Evict(ctx, ev.AccountID)
	}
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, events); err != nil {
		s.log.Error("publish transaction events failed", "count", len(events), "error", err)
	}
}

// ============================================================================
// Queries
// ============================================================================

// GetTransaction returns one row; a row on someone else's account is
// reported as not found.
func (s *LedgerService) GetTransaction(ctx context.Context, userID, id int64) (*TransactionResult, error) {
	row, err := s.transactions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if userID != 0 {
		account, err := s.accounts.GetByID(ctx, nil, row.AccountID)
		if err != nil {
			return nil, err
		}
		if account.UserID != userID {
			return nil, ErrTransactionNotFound
		}
	}
	return newTransactionResult(row, false), nil
}

type TransactionPage struct {
	Items    []*TransactionResult `json:"items"`
	Total    int64                `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
}

func (s *LedgerService) ListTransactions(ctx context.Context, userID int64, filter repository.TransactionFilter) (*TransactionPage, error) {
	account, err := s.accounts.GetByID(ctx, nil, filter.AccountID)
	if err != nil {
		return nil, err
	}
	if userID != 0 && account.UserID != userID {
		return nil, ErrAccountNotFound
	}
	if filter.MinAmount != nil && filter.MaxAmount != nil && filter.MinAmount.GreaterThan(*filter.MaxAmount) {
		return nil, invalid("min_amount", "must not exceed max_amount")
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, invalid("from", "must not be after to")
	}

	filter.Normalize()
	rows, total, err := s.transactions.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	items := make([]*TransactionResult, 0, len(rows))
	for _, row := range rows {
		items = append(items, newTransactionResult(row, false))
	}
	return &TransactionPage{Items: items, Total: total, Page: filter.Page, PageSize: filter.PageSize}, nil
}
