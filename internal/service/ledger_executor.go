package service

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"payledger/internal/model"
	"payledger/internal/repository"
	"payledger/pkg/idgen"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const DefaultCreditKeySuffix = ":C"

// LedgerExecutor applies one deposit, withdrawal or transfer as a single
// database transaction: idempotency pre-check, account loads, rule checks,
// balance CAS writes and transaction rows all commit or roll back together.
//
// It never retries. ErrOptimisticLock and ErrDuplicateIdempotencyKey are
// passed up untouched for the RetryCoordinator to act on.
type LedgerExecutor struct {
	db           *gorm.DB
	accounts     *repository.AccountRepository
	transactions *repository.TransactionRepository
	resolver     *IdempotencyResolver
	log          *slog.Logger

	txOptions       *sql.TxOptions
	creditKeySuffix string
	nextID          func() int64
	correlationID   func() string
	now             func() time.Time
}

type ExecutorOption func(*LedgerExecutor)

// WithIsolation sets the isolation level of every unit of work.
// sql.LevelDefault leaves the driver default in place.
func WithIsolation(level sql.IsolationLevel) ExecutorOption {
	return func(e *LedgerExecutor) {
		if level == sql.LevelDefault {
			e.txOptions = nil
			return
		}
		e.txOptions = &sql.TxOptions{Isolation: level}
	}
}

func WithCreditKeySuffix(suffix string) ExecutorOption {
	return func(e *LedgerExecutor) { e.creditKeySuffix = suffix }
}

func WithIDGenerator(next func() int64) ExecutorOption {
	return func(e *LedgerExecutor) { e.nextID = next }
}

func WithCorrelationIDGenerator(next func() string) ExecutorOption {
	return func(e *LedgerExecutor) { e.correlationID = next }
}

func WithExecutorLogger(log *slog.Logger) ExecutorOption {
	return func(e *LedgerExecutor) { e.log = log }
}

func NewLedgerExecutor(db *gorm.DB, opts ...ExecutorOption) *LedgerExecutor {
	transactions := repository.NewTransactionRepository(db)
	e := &LedgerExecutor{
		db:              db,
		accounts:        repository.NewAccountRepository(db),
		transactions:    transactions,
		resolver:        NewIdempotencyResolver(transactions),
		log:             slog.Default(),
		txOptions:       &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		creditKeySuffix: DefaultCreditKeySuffix,
		nextID:          idgen.NextID,
		correlationID:   func() string { return uuid.NewString() },
		now:             func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("component", "ledger_executor")
	return e
}

func (e *LedgerExecutor) inTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if e.txOptions == nil {
		return e.db.WithContext(ctx).Transaction(fn)
	}
	return e.db.WithContext(ctx).Transaction(fn, e.txOptions)
}

// ============================================================================
// Deposit / Withdraw
// ============================================================================

func (e *LedgerExecutor) Deposit(ctx context.Context, cmd DepositCommand) (*TransactionResult, error) {
	description := cmd.Description
	if description == "" {
		description = "Deposit"
	}
	return e.applySingle(ctx, single{
		userID:      cmd.UserID,
		accountID:   cmd.AccountID,
		amount:      cmd.Amount,
		description: description,
		key:         cmd.IdempotencyKey,
		txType:      model.TransactionTypeCredit,
	})
}

func (e *LedgerExecutor) Withdraw(ctx context.Context, cmd WithdrawCommand) (*TransactionResult, error) {
	description := cmd.Description
	if description == "" {
		description = "Withdrawal"
	}
	return e.applySingle(ctx, single{
		userID:      cmd.UserID,
		accountID:   cmd.AccountID,
		amount:      cmd.Amount,
		description: description,
		key:         cmd.IdempotencyKey,
		txType:      model.TransactionTypeDebit,
	})
}

type single struct {
	userID      int64
	accountID   int64
	amount      decimal.Decimal
	description string
	key         string
	txType      string
}

func (e *LedgerExecutor) applySingle(ctx context.Context, op single) (*TransactionResult, error) {
	amount := op.amount.Round(model.MoneyScale)

	var result *TransactionResult
	err := e.inTx(ctx, func(tx *gorm.DB) error {
		replay, err := e.replaySingle(ctx, tx, op.userID, op.key, op.txType)
		if err != nil {
			return err
		}
		if replay != nil {
			result = replay
			return nil
		}

		account, err := e.loadOwned(ctx, tx, op.userID, op.accountID)
		if err != nil {
			return err
		}
		if !account.IsActive() {
			return &AccountStateError{AccountID: account.ID, Status: account.Status}
		}

		var newBalance decimal.Decimal
		if op.txType == model.TransactionTypeDebit {
			if account.Balance.LessThan(amount) {
				return &InsufficientFundsError{AccountID: account.ID, Balance: account.Balance, Requested: amount}
			}
			newBalance = account.Balance.Sub(amount).Round(model.MoneyScale)
		} else {
			newBalance = account.Balance.Add(amount).Round(model.MoneyScale)
		}

		if err := e.accounts.UpdateBalance(ctx, tx, account.ID, newBalance, account.Version); err != nil {
			return err
		}

		row := e.newRow(account.ID, op.txType, amount, op.description, op.key, nil, newBalance)
		if err := e.transactions.Create(ctx, tx, row); err != nil {
			return err
		}
		result = newTransactionResult(row, false)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Replayed {
		e.log.Info("idempotent replay", "idempotency_key", op.key, "transaction_id", result.ID)
	} else {
		e.log.Info("transaction applied",
			"type", op.txType, "account_id", result.AccountID, "amount", amount.StringFixed(model.MoneyScale),
			"balance_after", result.BalanceAfter.StringFixed(model.MoneyScale), "transaction_id", result.ID)
	}
	return result, nil
}

// ============================================================================
// Transfer
// ============================================================================

func (e *LedgerExecutor) Transfer(ctx context.Context, cmd TransferCommand) (*TransferResult, error) {
	amount := cmd.Amount.Round(model.MoneyScale)
	description := cmd.Description
	if description == "" {
		description = "Transfer"
	}

	var result *TransferResult
	err := e.inTx(ctx, func(tx *gorm.DB) error {
		replay, err := e.replayTransfer(ctx, tx, cmd.UserID, cmd.IdempotencyKey)
		if err != nil {
			return err
		}
		if replay != nil {
			result = replay
			return nil
		}

		source, err := e.accounts.GetByID(ctx, tx, cmd.SourceAccountID)
		if err != nil {
			return err
		}
		dest, err := e.accounts.GetByID(ctx, tx, cmd.DestinationAccountID)
		if err != nil {
			return err
		}
		if cmd.UserID != 0 && source.UserID != cmd.UserID {
			return ErrAccountNotFound
		}
		if !source.IsActive() {
			return &AccountStateError{AccountID: source.ID, Status: source.Status}
		}
		if !dest.IsActive() {
			return &AccountStateError{AccountID: dest.ID, Status: dest.Status}
		}
		if source.Currency != dest.Currency {
			return &CurrencyMismatchError{SourceCurrency: source.Currency, DestCurrency: dest.Currency}
		}
		if source.Balance.LessThan(amount) {
			return &InsufficientFundsError{AccountID: source.ID, Balance: source.Balance, Requested: amount}
		}

		correlationID := e.correlationID()

		sourceBalance := source.Balance.Sub(amount).Round(model.MoneyScale)
		if err := e.accounts.UpdateBalance(ctx, tx, source.ID, sourceBalance, source.Version); err != nil {
			return err
		}
		debit := e.newRow(source.ID, model.TransactionTypeDebit, amount, description,
			cmd.IdempotencyKey, &correlationID, sourceBalance)
		if err := e.transactions.Create(ctx, tx, debit); err != nil {
			return err
		}

		destBalance := dest.Balance.Add(amount).Round(model.MoneyScale)
		if err := e.accounts.UpdateBalance(ctx, tx, dest.ID, destBalance, dest.Version); err != nil {
			return err
		}
		credit := e.newRow(dest.ID, model.TransactionTypeCredit, amount, description,
			cmd.IdempotencyKey+e.creditKeySuffix, &correlationID, destBalance)
		if err := e.transactions.Create(ctx, tx, credit); err != nil {
			return err
		}

		result = &TransferResult{
			CorrelationID: correlationID,
			Debit:         newTransactionResult(debit, false),
			Credit:        newTransactionResult(credit, false),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Replayed {
		e.log.Info("idempotent transfer replay", "idempotency_key", cmd.IdempotencyKey, "correlation_id", result.CorrelationID)
	} else {
		e.log.Info("transfer applied",
			"source_account_id", result.Debit.AccountID, "dest_account_id", result.Credit.AccountID,
			"amount", amount.StringFixed(model.MoneyScale), "correlation_id", result.CorrelationID)
	}
	return result, nil
}

// ============================================================================
// Replay lookups
// ============================================================================

// LookupSingle resolves a deposit or withdrawal key outside any unit of work.
// It returns nil, nil when the key is unused.
func (e *LedgerExecutor) LookupSingle(ctx context.Context, userID int64, key, txType string) (*TransactionResult, error) {
	return e.replaySingle(ctx, nil, userID, key, txType)
}

// LookupTransfer resolves a transfer key outside any unit of work.
func (e *LedgerExecutor) LookupTransfer(ctx context.Context, userID int64, key string) (*TransferResult, error) {
	return e.replayTransfer(ctx, nil, userID, key)
}

func (e *LedgerExecutor) replaySingle(ctx context.Context, tx *gorm.DB, userID int64, key, txType string) (*TransactionResult, error) {
	replay, err := e.resolver.Resolve(ctx, tx, key)
	if err != nil || replay == nil {
		return nil, err
	}
	if replay.IsTransfer() || replay.Primary.Type != txType {
		return nil, keyReused()
	}
	if err := e.checkOwner(ctx, tx, userID, replay.Primary.AccountID); err != nil {
		return nil, err
	}
	return newTransactionResult(replay.Primary, true), nil
}

func (e *LedgerExecutor) replayTransfer(ctx context.Context, tx *gorm.DB, userID int64, key string) (*TransferResult, error) {
	replay, err := e.resolver.Resolve(ctx, tx, key)
	if err != nil || replay == nil {
		return nil, err
	}
	if !replay.IsTransfer() {
		return nil, keyReused()
	}
	debit, credit := replay.DebitAndCredit()
	if debit == nil || credit == nil || debit.Type != model.TransactionTypeDebit || credit.Type != model.TransactionTypeCredit {
		return nil, ErrIncompleteTransfer
	}
	if err := e.checkOwner(ctx, tx, userID, debit.AccountID); err != nil {
		return nil, err
	}
	return &TransferResult{
		CorrelationID: *debit.CorrelationID,
		Debit:         newTransactionResult(debit, true),
		Credit:        newTransactionResult(credit, true),
		Replayed:      true,
	}, nil
}

func keyReused() error {
	return &ValidationError{Field: "idempotency_key", Reason: "was already used by a different operation"}
}

// ============================================================================
// Helpers
// ============================================================================

func (e *LedgerExecutor) loadOwned(ctx context.Context, tx *gorm.DB, userID, accountID int64) (*model.Account, error) {
	account, err := e.accounts.GetByID(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	if userID != 0 && account.UserID != userID {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

func (e *LedgerExecutor) checkOwner(ctx context.Context, tx *gorm.DB, userID, accountID int64) error {
	if userID == 0 {
		return nil
	}
	_, err := e.loadOwned(ctx, tx, userID, accountID)
	return err
}

func (e *LedgerExecutor) newRow(accountID int64, txType string, amount decimal.Decimal, description, key string,
	correlationID *string, balanceAfter decimal.Decimal) *model.AccountTransaction {
	return &model.AccountTransaction{
		ID:             e.nextID(),
		AccountID:      accountID,
		Type:           txType,
		Amount:         amount,
		Description:    description,
		CorrelationID:  correlationID,
		IdempotencyKey: key,
		Status:         model.TransactionStatusCompleted,
		BalanceAfter:   balanceAfter,
		CreatedAt:      e.now(),
	}
}
