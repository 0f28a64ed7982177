package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"payledger/internal/model"
	"payledger/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type CreateAccountCommand struct {
	UserID      int64  `json:"user_id" validate:"gt=0"`
	AccountName string `json:"account_name" validate:"notblank,max=50"`
	Currency    string `json:"currency" validate:"currency"`
}

type UpdateStatusCommand struct {
	UserID    int64  `json:"user_id"`
	AccountID int64  `json:"account_id" validate:"gt=0"`
	Status    string `json:"status" validate:"accountstatus"`
}

type BalanceView struct {
	AccountID int64           `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	Cached    bool            `json:"cached"`
}

// AccountService manages the account lifecycle. Balances are never written
// here; only the ledger executor moves money.
type AccountService struct {
	accountRepo *repository.AccountRepository
	cache       BalanceCache
	validator   *Validator
	log         *slog.Logger
}

func NewAccountService(db *gorm.DB, cache BalanceCache, log *slog.Logger) *AccountService {
	if cache == nil {
		cache = NopCache{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &AccountService{
		accountRepo: repository.NewAccountRepository(db),
		cache:       cache,
		validator:   NewValidator(),
		log:         log.With("component", "account_service"),
	}
}

// Create opens an ACTIVE account with a zero balance. Currency defaults to USD.
func (s *AccountService) Create(ctx context.Context, cmd CreateAccountCommand) (*model.Account, error) {
	cmd.AccountName = strings.TrimSpace(cmd.AccountName)
	cmd.Currency = strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if cmd.Currency == "" {
		cmd.Currency = model.DefaultCurrency
	}
	if err := s.validator.Struct(cmd); err != nil {
		return nil, err
	}

	account := &model.Account{
		UserID:      cmd.UserID,
		AccountName: cmd.AccountName,
		Balance:     decimal.Zero,
		Currency:    cmd.Currency,
		Status:      model.AccountStatusActive,
	}
	if err := s.accountRepo.Create(ctx, account); err != nil {
		return nil, err
	}
	s.log.Info("account created", "account_id", account.ID, "user_id", account.UserID, "currency", account.Currency)
	return account, nil
}

// Get loads an account owned by userID and refreshes its cached balance.
func (s *AccountService) Get(ctx context.Context, userID, id int64) (*model.Account, error) {
	return s.getOwned(ctx, userID, id)
}

func (s *AccountService) ListByUser(ctx context.Context, userID int64) ([]*model.Account, error) {
	return s.accountRepo.ListByUserID(ctx, userID)
}

// GetBalance serves from the cache when no caller identity has to be
// checked; otherwise it goes through Get. Database reads refill the cache,
// which refuses the value if a write evicted the account meanwhile.
func (s *AccountService) GetBalance(ctx context.Context, userID, id int64) (*BalanceView, error) {
	if userID == 0 {
		if balance, ok := s.cache.Get(ctx, id); ok {
			return &BalanceView{AccountID: id, Balance: balance, Cached: true}, nil
		}
	}
	account, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	s.cache.Put(ctx, account.ID, account.Balance)
	return &BalanceView{AccountID: account.ID, Balance: account.Balance}, nil
}

// UpdateStatus moves an account between ACTIVE and FROZEN, or closes it.
// CLOSED is terminal and setting the current status again is rejected.
func (s *AccountService) UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) (*model.Account, error) {
	if err := s.validator.Struct(cmd); err != nil {
		return nil, err
	}
	account, err := s.getOwned(ctx, cmd.UserID, cmd.AccountID)
	if err != nil {
		return nil, err
	}
	if account.Status == model.AccountStatusClosed {
		return nil, &StatusTransitionError{From: account.Status, To: cmd.Status}
	}
	if account.Status == cmd.Status {
		return nil, &StatusTransitionError{From: account.Status, To: cmd.Status}
	}

	if err := s.accountRepo.UpdateStatus(ctx, nil, account.ID, cmd.Status, account.Version); err != nil {
		if errors.Is(err, repository.ErrOptimisticLock) {
			return nil, ErrConcurrencyConflict
		}
		return nil, err
	}
	s.cache.Evict(ctx, account.ID)

	s.log.Info("account status changed", "account_id", account.ID, "from", account.Status, "to", cmd.Status)
	account.Status = cmd.Status
	account.Version++
	return account, nil
}

func (s *AccountService) getOwned(ctx context.Context, userID, id int64) (*model.Account, error) {
	account, err := s.accountRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if userID != 0 && account.UserID != userID {
		return nil, ErrAccountNotFound
	}
	return account, nil
}
