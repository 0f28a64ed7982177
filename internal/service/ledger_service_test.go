package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"payledger/internal/model"
	"payledger/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ledgerFixture struct {
	db    *gorm.DB
	svc   *LedgerService
	cache *MockBalanceCache
	pub   *MockEventPublisher
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	db := newTestDB(t)
	cache := &MockBalanceCache{}
	pub := &MockEventPublisher{}
	svc := NewLedgerService(db, newTestExecutor(db), NewRetryCoordinator(3, nil, nil), cache, pub, nil)
	return &ledgerFixture{db: db, svc: svc, cache: cache, pub: pub}
}

func (f *ledgerFixture) allowSideEffects() {
	f.cache.On("Evict", mock.Anything, mock.Anything).Return()
	f.pub.On("Publish", mock.Anything, mock.Anything).Return(nil)
}

// Deposit 500 on 1000, then replay the same key.
func TestLedger_DepositAndReplay(t *testing.T) {
	f := newLedgerFixture(t)
	acc := seedAccount(t, f.db, 1, "1000.00", "USD", model.AccountStatusActive)
	ctx := context.Background()

	f.cache.On("Evict", mock.Anything, acc.ID).Return().Once()
	f.pub.On("Publish", mock.Anything, mock.MatchedBy(func(evs []model.TransactionEvent) bool {
		return len(evs) == 1 && evs[0].EventType == model.EventTypeDeposit && evs[0].AccountID == acc.ID
	})).Return(nil).Once()

	cmd := DepositCommand{AccountID: acc.ID, Amount: dec("500.00"), IdempotencyKey: "d1"}
	first, err := f.svc.Deposit(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionTypeCredit, first.Type)
	assert.Equal(t, "1500.0000", first.BalanceAfter.StringFixed(4))
	assert.False(t, first.Replayed)

	second, err := f.svc.Deposit(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "1500.0000", second.BalanceAfter.StringFixed(4))

	assert.True(t, balanceOf(t, f.db, acc.ID).Equal(dec("1500")))
	assert.Equal(t, int64(1), countRows(t, f.db))
	// replay neither evicts nor publishes again
	f.cache.AssertExpectations(t)
	f.pub.AssertExpectations(t)
	f.pub.AssertNumberOfCalls(t, "Publish", 1)
}

// Withdraw 2000 from 1500.
func TestLedger_WithdrawInsufficientFunds(t *testing.T) {
	f := newLedgerFixture(t)
	acc := seedAccount(t, f.db, 1, "1500.00", "USD", model.AccountStatusActive)

	_, err := f.svc.Withdraw(context.Background(), WithdrawCommand{AccountID: acc.ID, Amount: dec("2000.00"), IdempotencyKey: "w1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	var ife *InsufficientFundsError
	require.True(t, errors.As(err, &ife))
	assert.True(t, ife.Balance.Equal(dec("1500")))

	assert.True(t, balanceOf(t, f.db, acc.ID).Equal(dec("1500")))
	assert.Zero(t, countRows(t, f.db))
	f.pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

// Transfer 200 from 1000 to 500.
func TestLedger_Transfer(t *testing.T) {
	f := newLedgerFixture(t)
	src := seedAccount(t, f.db, 1, "1000.00", "USD", model.AccountStatusActive)
	dst := seedAccount(t, f.db, 2, "500.00", "USD", model.AccountStatusActive)

	f.cache.On("Evict", mock.Anything, src.ID).Return().Once()
	f.cache.On("Evict", mock.Anything, dst.ID).Return().Once()
	f.pub.On("Publish", mock.Anything, mock.MatchedBy(func(evs []model.TransactionEvent) bool {
		return len(evs) == 2 &&
			evs[0].EventType == model.EventTypeTransferDebit &&
			evs[1].EventType == model.EventTypeTransferCredit &&
			*evs[0].CorrelationID == *evs[1].CorrelationID
	})).Return(nil).Once()

	res, err := f.svc.Transfer(context.Background(), TransferCommand{
		UserID: 1, SourceAccountID: src.ID, DestinationAccountID: dst.ID, Amount: dec("200.00"), IdempotencyKey: "t1",
	})
	require.NoError(t, err)
	assert.Equal(t, "800.0000", res.Debit.BalanceAfter.StringFixed(4))
	assert.Equal(t, "700.0000", res.Credit.BalanceAfter.StringFixed(4))
	assert.Equal(t, model.TransactionTypeDebit, res.Debit.Type)
	assert.Equal(t, model.TransactionTypeCredit, res.Credit.Type)
	require.NotNil(t, res.Debit.CorrelationID)
	assert.Equal(t, res.CorrelationID, *res.Debit.CorrelationID)
	assert.Equal(t, res.CorrelationID, *res.Credit.CorrelationID)

	f.cache.AssertExpectations(t)
	f.pub.AssertExpectations(t)
}

func TestLedger_TransferReplayReturnsBothLegs(t *testing.T) {
	f := newLedgerFixture(t)
	f.allowSideEffects()
	src := seedAccount(t, f.db, 1, "1000", "USD", model.AccountStatusActive)
	dst := seedAccount(t, f.db, 2, "500", "USD", model.AccountStatusActive)
	cmd := TransferCommand{SourceAccountID: src.ID, DestinationAccountID: dst.ID, Amount: dec("200"), IdempotencyKey: "t-replay"}

	first, err := f.svc.Transfer(context.Background(), cmd)
	require.NoError(t, err)
	second, err := f.svc.Transfer(context.Background(), cmd)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.CorrelationID, second.CorrelationID)
	assert.Equal(t, first.Debit.ID, second.Debit.ID)
	assert.Equal(t, first.Credit.ID, second.Credit.ID)
	assert.True(t, balanceOf(t, f.db, src.ID).Equal(dec("800")))
	assert.True(t, balanceOf(t, f.db, dst.ID).Equal(dec("700")))
	f.pub.AssertNumberOfCalls(t, "Publish", 1)
}

// Self-transfer is rejected before any account is read.
func TestLedger_SelfTransferRejected(t *testing.T) {
	f := newLedgerFixture(t)

	_, err := f.svc.Transfer(context.Background(), TransferCommand{
		SourceAccountID: 42, DestinationAccountID: 42, Amount: dec("1"), IdempotencyKey: "self",
	})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.NotErrorIs(t, err, ErrAccountNotFound)
}

// Concurrent transfers from the same source keep the pair total. The test
// database has a single connection, so the units of work run one after
// another; the lost CAS race itself is covered by
// TestLedger_RetryRereadsAfterCommittedCompetitor.
func TestLedger_ConcurrentTransfersConserveTotal(t *testing.T) {
	f := newLedgerFixture(t)
	f.allowSideEffects()
	src := seedAccount(t, f.db, 1, "1000", "USD", model.AccountStatusActive)
	dst := seedAccount(t, f.db, 2, "500", "USD", model.AccountStatusActive)

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Transfer(context.Background(), TransferCommand{
				SourceAccountID: src.ID, DestinationAccountID: dst.ID, Amount: dec("100"),
				IdempotencyKey: fmt.Sprintf("conc-%d", i),
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, ErrConcurrencyConflict) || errors.Is(err, ErrInsufficientFunds), err.Error())
		}(i)
	}
	wg.Wait()

	require.GreaterOrEqual(t, succeeded, 1)
	srcBal := balanceOf(t, f.db, src.ID)
	dstBal := balanceOf(t, f.db, dst.ID)
	assert.True(t, srcBal.Add(dstBal).Equal(dec("1500")))
	assert.True(t, dstBal.Sub(dec("500")).Equal(dec("100").Mul(decimal.NewFromInt(int64(succeeded)))))
	assert.False(t, srcBal.IsNegative())
}

// A withdrawal commits between the transfer's read of the source and its
// CAS. The stale version must lose, and the retry must debit the fresh
// balance.
func TestLedger_RetryRereadsAfterCommittedCompetitor(t *testing.T) {
	f := newLedgerFixture(t)
	f.allowSideEffects()
	src := seedAccount(t, f.db, 1, "1000", "USD", model.AccountStatusActive)
	dst := seedAccount(t, f.db, 2, "500", "USD", model.AccountStatusActive)
	ctx := context.Background()

	_, err := f.svc.Withdraw(ctx, WithdrawCommand{AccountID: src.ID, Amount: dec("300"), IdempotencyKey: "competitor"})
	require.NoError(t, err)

	// the first source read sees the account as it was before the withdrawal
	var staleReads int32
	require.NoError(t, f.db.Callback().Query().After("gorm:query").Register("test:stale_source", func(tx *gorm.DB) {
		acc, ok := tx.Statement.Dest.(*model.Account)
		if !ok || acc.ID != src.ID || !atomic.CompareAndSwapInt32(&staleReads, 0, 1) {
			return
		}
		acc.Balance = src.Balance
		acc.Version = src.Version
	}))

	res, err := f.svc.Transfer(ctx, TransferCommand{
		SourceAccountID: src.ID, DestinationAccountID: dst.ID, Amount: dec("200"), IdempotencyKey: "late",
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&staleReads))
	assert.Equal(t, "500.0000", res.Debit.BalanceAfter.StringFixed(4))

	assert.True(t, balanceOf(t, f.db, src.ID).Equal(dec("500")))
	assert.True(t, balanceOf(t, f.db, dst.ID).Equal(dec("700")))
	assert.Equal(t, int64(3), countRows(t, f.db))
}

// The winner of a same-key race commits after the loser's pre-check ran.
// The loser's insert hits the unique index and the request resolves to the
// winner's row.
func TestLedger_DuplicateKeyAfterPreCheckReplaysWinner(t *testing.T) {
	f := newLedgerFixture(t)
	f.allowSideEffects()
	acc := seedAccount(t, f.db, 1, "1000", "USD", model.AccountStatusActive)
	ctx := context.Background()
	cmd := DepositCommand{AccountID: acc.ID, Amount: dec("50"), IdempotencyKey: "race"}

	winner, err := f.svc.Deposit(ctx, cmd)
	require.NoError(t, err)

	// the loser's pre-check misses the winner's row
	var hidden int32
	require.NoError(t, f.db.Callback().Query().Before("gorm:query").Register("test:hide_winner", func(tx *gorm.DB) {
		if tx.Statement.Table != "account_transaction" || !atomic.CompareAndSwapInt32(&hidden, 0, 1) {
			return
		}
		tx.Statement.AddClause(clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "1 = 0"}}})
	}))

	loser, err := f.svc.Deposit(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hidden))
	assert.True(t, loser.Replayed)
	assert.Equal(t, winner.ID, loser.ID)
	assert.Equal(t, "1050.0000", loser.BalanceAfter.StringFixed(4))

	assert.True(t, balanceOf(t, f.db, acc.ID).Equal(dec("1050")))
	assert.Equal(t, int64(1), countRows(t, f.db))
	f.pub.AssertNumberOfCalls(t, "Publish", 1)
}

func TestLedger_ConservationOverSequence(t *testing.T) {
	f := newLedgerFixture(t)
	f.allowSideEffects()
	a := seedAccount(t, f.db, 1, "300", "USD", model.AccountStatusActive)
	b := seedAccount(t, f.db, 2, "300", "USD", model.AccountStatusActive)
	ctx := context.Background()

	moves := []struct {
		from, to int64
		amount   string
	}{
		{a.ID, b.ID, "100.5"}, {b.ID, a.ID, "0.0001"}, {a.ID, b.ID, "199.4999"},
		{a.ID, b.ID, "50"}, {b.ID, a.ID, "600"}, {b.ID, a.ID, "599.9999"},
	}
	for i, m := range moves {
		_, err := f.svc.Transfer(ctx, TransferCommand{
			SourceAccountID: m.from, DestinationAccountID: m.to, Amount: dec(m.amount),
			IdempotencyKey: fmt.Sprintf("seq-%d", i),
		})
		if err != nil {
			assert.ErrorIs(t, err, ErrInsufficientFunds)
		}
		total := balanceOf(t, f.db, a.ID).Add(balanceOf(t, f.db, b.ID))
		assert.Equal(t, "600.0000", total.StringFixed(4), "after move %d", i)
		assert.False(t, balanceOf(t, f.db, a.ID).IsNegative())
		assert.False(t, balanceOf(t, f.db, b.ID).IsNegative())
	}
}

func TestLedger_RuleFailures(t *testing.T) {
	f := newLedgerFixture(t)
	f.allowSideEffects()
	active := seedAccount(t, f.db, 1, "100", "USD", model.AccountStatusActive)
	frozen := seedAccount(t, f.db, 1, "100", "USD", model.AccountStatusFrozen)
	closed := seedAccount(t, f.db, 1, "100", "USD", model.AccountStatusClosed)
	euro := seedAccount(t, f.db, 1, "100", "EUR", model.AccountStatusActive)
	foreign := seedAccount(t, f.db, 9, "100", "USD", model.AccountStatusActive)
	ctx := context.Background()

	_, err := f.svc.Deposit(ctx, DepositCommand{AccountID: 9999, Amount: dec("1"), IdempotencyKey: "nf"})
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, err = f.svc.Deposit(ctx, DepositCommand{AccountID: frozen.ID, Amount: dec("1"), IdempotencyKey: "fz"})
	assert.ErrorIs(t, err, ErrAccountFrozen)

	_, err = f.svc.Withdraw(ctx, WithdrawCommand{AccountID: closed.ID, Amount: dec("1"), IdempotencyKey: "cl"})
	assert.ErrorIs(t, err, ErrAccountFrozen)

	_, err = f.svc.Transfer(ctx, TransferCommand{SourceAccountID: active.ID, DestinationAccountID: frozen.ID, Amount: dec("1"), IdempotencyKey: "tfz"})
	assert.ErrorIs(t, err, ErrAccountFrozen)

	_, err = f.svc.Transfer(ctx, TransferCommand{SourceAccountID: active.ID, DestinationAccountID: euro.ID, Amount: dec("1"), IdempotencyKey: "cur"})
	assert.ErrorIs(t, err, ErrCurrencyMismatch)

	_, err = f.svc.Transfer(ctx, TransferCommand{SourceAccountID: active.ID, DestinationAccountID: 9999, Amount: dec("1"), IdempotencyKey: "tnf"})
	assert.ErrorIs(t, err, ErrAccountNotFound)

	// caller 1 may not move money out of someone else's account
	_, err = f.svc.Transfer(ctx, TransferCommand{UserID: 1, SourceAccountID: foreign.ID, DestinationAccountID: active.ID, Amount: dec("1"), IdempotencyKey: "own"})
	assert.ErrorIs(t, err, ErrAccountNotFound)
	_, err = f.svc.Withdraw(ctx, WithdrawCommand{UserID: 1, AccountID: foreign.ID, Amount: dec("1"), IdempotencyKey: "own-w"})
	assert.ErrorIs(t, err, ErrAccountNotFound)

	assert.Zero(t, countRows(t, f.db))
	for _, id := range []int64{active.ID, frozen.ID, closed.ID, euro.ID, foreign.ID} {
		assert.True(t, balanceOf(t, f.db, id).Equal(dec("100")))
	}
}

func TestLedger_InputValidation(t *testing.T) {
	f := newLedgerFixture(t)

	cases := map[string]DepositCommand{
		"missing key":        {AccountID: 1, Amount: dec("1")},
		"blank key":          {AccountID: 1, Amount: dec("1"), IdempotencyKey: "   "},
		"key too long":       {AccountID: 1, Amount: dec("1"), IdempotencyKey: strings.Repeat("k", 101)},
		"credit suffix key":  {AccountID: 1, Amount: dec("1"), IdempotencyKey: "abc:C"},
		"zero amount":        {AccountID: 1, Amount: dec("0"), IdempotencyKey: "k"},
		"negative amount":    {AccountID: 1, Amount: dec("-5"), IdempotencyKey: "k"},
		"five decimals":      {AccountID: 1, Amount: dec("1.00001"), IdempotencyKey: "k"},
		"below minimum":      {AccountID: 1, Amount: dec("0.0050"), IdempotencyKey: "k"},
		"sixteen digits":     {AccountID: 1, Amount: dec("1000000000000000"), IdempotencyKey: "k"},
		"description length": {AccountID: 1, Amount: dec("1"), IdempotencyKey: "k", Description: strings.Repeat("x", 256)},
		"no account":         {Amount: dec("1"), IdempotencyKey: "k"},
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Deposit(context.Background(), cmd)
			assert.ErrorIs(t, err, ErrInvalidArgument)
			var ve *ValidationError
			assert.True(t, errors.As(err, &ve))
		})
	}
}

func TestLedger_PublishFailureIsSwallowed(t *testing.T) {
	f := newLedgerFixture(t)
	acc := seedAccount(t, f.db, 1, "0", "USD", model.AccountStatusActive)
	f.cache.On("Evict", mock.Anything, acc.ID).Return()
	f.pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	res, err := f.svc.Deposit(context.Background(), DepositCommand{AccountID: acc.ID, Amount: dec("5"), IdempotencyKey: "pf"})
	require.NoError(t, err)
	assert.Equal(t, "5.0000", res.BalanceAfter.StringFixed(4))
}

// A clash on the credit leg key rolls back the whole transfer.
func TestLedger_CreditKeyClashRollsBackTransfer(t *testing.T) {
	f := newLedgerFixture(t)
	src := seedAccount(t, f.db, 1, "1000", "USD", model.AccountStatusActive)
	dst := seedAccount(t, f.db, 2, "500", "USD", model.AccountStatusActive)
	require.NoError(t, f.db.Create(&model.AccountTransaction{
		ID: 900, AccountID: dst.ID, Type: model.TransactionTypeCredit, Amount: dec("1"),
		IdempotencyKey: "clash:C", Status: model.TransactionStatusCompleted, BalanceAfter: dec("500"),
	}).Error)

	_, err := f.svc.Transfer(context.Background(), TransferCommand{
		SourceAccountID: src.ID, DestinationAccountID: dst.ID, Amount: dec("200"), IdempotencyKey: "clash",
	})
	assert.ErrorIs(t, err, ErrConcurrentDuplicate)

	assert.True(t, balanceOf(t, f.db, src.ID).Equal(dec("1000")))
	assert.True(t, balanceOf(t, f.db, dst.ID).Equal(dec("500")))
	assert.Equal(t, int64(1), countRows(t, f.db))
}

func TestLedger_GetAndListTransactions(t *testing.T) {
	f := newLedgerFixture(t)
	f.allowSideEffects()
	acc := seedAccount(t, f.db, 1, "0", "USD", model.AccountStatusActive)
	ctx := context.Background()

	var last *TransactionResult
	for i := 0; i < 3; i++ {
		r, err := f.svc.Deposit(ctx, DepositCommand{AccountID: acc.ID, Amount: dec("10"), IdempotencyKey: fmt.Sprintf("g-%d", i)})
		require.NoError(t, err)
		last = r
	}
	_, err := f.svc.Withdraw(ctx, WithdrawCommand{AccountID: acc.ID, Amount: dec("5"), IdempotencyKey: "g-w"})
	require.NoError(t, err)

	got, err := f.svc.GetTransaction(ctx, 1, last.ID)
	require.NoError(t, err)
	assert.Equal(t, last.ID, got.ID)

	_, err = f.svc.GetTransaction(ctx, 2, last.ID)
	assert.ErrorIs(t, err, ErrTransactionNotFound)

	page, err := f.svc.ListTransactions(ctx, 1, repository.TransactionFilter{AccountID: acc.ID, Type: model.TransactionTypeCredit})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Len(t, page.Items, 3)
	assert.Equal(t, 1, page.Page)

	_, err = f.svc.ListTransactions(ctx, 2, repository.TransactionFilter{AccountID: acc.ID})
	assert.ErrorIs(t, err, ErrAccountNotFound)

	lo, hi := dec("10"), dec("1")
	_, err = f.svc.ListTransactions(ctx, 1, repository.TransactionFilter{AccountID: acc.ID, MinAmount: &lo, MaxAmount: &hi})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
